package identity

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

func TestLoadMissingFileReturnsBase(t *testing.T) {
	got := Load(t.TempDir(), testLogger(t))
	require.Equal(t, baseIdentity, got)
}

func TestLoadEmptyBaseDirReturnsBase(t *testing.T) {
	got := Load("", testLogger(t))
	require.Equal(t, baseIdentity, got)
}

func TestLoadInvalidYAMLFallsBackToBase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "identity.yaml"), []byte("name: [unterminated"), 0o644))

	got := Load(dir, testLogger(t))
	require.Equal(t, baseIdentity, got)
}

func TestLoadEmptyCustomizationFallsBackToBase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "identity.yaml"), []byte("# nothing here\n"), 0o644))

	got := Load(dir, testLogger(t))
	require.Equal(t, baseIdentity, got)
}

func TestLoadRendersCustomization(t *testing.T) {
	dir := t.TempDir()
	content := "name: Ada\nrole: pair programmer\nboundaries:\n  - never delete without confirmation\ntraits:\n  - terse\n  - direct\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "identity.yaml"), []byte(content), 0o644))

	got := Load(dir, testLogger(t))
	require.Contains(t, got, baseIdentity)
	require.Contains(t, got, "Your name is Ada.")
	require.Contains(t, got, "pair programmer")
	require.Contains(t, got, "never delete without confirmation")
	require.Contains(t, got, "terse, direct")
}
