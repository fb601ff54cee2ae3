package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestLoadMissingFile(t *testing.T) {
	_, ok := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"), testLogger(t))
	require.False(t, ok)
}

func TestLoadEmptyPath(t *testing.T) {
	_, ok := Load("", testLogger(t))
	require.False(t, ok)
}

func TestLoadValidCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.yaml")
	content := "session_id: S\nrestart_reason: planned\nwake_context:\n  prompt: continue task X\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cp, ok := Load(path, testLogger(t))
	require.True(t, ok)
	require.Equal(t, "S", cp.SessionID)
	require.Equal(t, "planned", cp.RestartReason)
	require.Equal(t, "continue task X", cp.WakeContext.Prompt)
}

func TestLoadMissingRequiredFieldsIsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session_id: S\n"), 0o644))

	_, ok := Load(path, testLogger(t))
	require.False(t, ok)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session_id: [unterminated"), 0o644))

	_, ok := Load(path, testLogger(t))
	require.False(t, ok)
}

func TestWriteThenConsumeIsOneShot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.yaml")
	log := testLogger(t)

	cp := Checkpoint{SessionID: "S", RestartReason: "planned", WakeContext: WakeContext{Prompt: "continue"}}
	require.NoError(t, Write(path, cp, log))

	loaded, ok := Load(path, log)
	require.True(t, ok)
	require.Equal(t, cp.SessionID, loaded.SessionID)

	Consume(path, log)

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestConsumeMissingFileIsNotAnError(t *testing.T) {
	Consume(filepath.Join(t.TempDir(), "does-not-exist.yaml"), testLogger(t))
}
