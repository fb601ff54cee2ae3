package terminal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManagerCreateAndOutput(t *testing.T) {
	m := NewManager()

	session, err := m.Create("echo", []string{"hello"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)

	got, ok := m.Get(session.ID)
	require.True(t, ok)
	require.Same(t, session, got)

	exitCode := session.Wait()
	require.Equal(t, 0, exitCode)

	output, truncated := session.Output()
	require.False(t, truncated)
	require.Contains(t, output, "hello")
}

func TestManagerReleaseUnknown(t *testing.T) {
	m := NewManager()
	err := m.Release("does-not-exist")
	require.Error(t, err)
}

func TestSessionKill(t *testing.T) {
	m := NewManager()
	session, err := m.Create("sleep", []string{"30"}, "")
	require.NoError(t, err)

	require.NoError(t, session.Kill())

	select {
	case <-session.exitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit after kill")
	}
}
