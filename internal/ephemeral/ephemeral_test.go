package ephemeral_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tuee22/amoebius-go/internal/ephemeral"
)

func TestFileIsRemovedOnSuccess(t *testing.T) {
	var captured string
	err := ephemeral.File("test", func(path string) error {
		captured = path
		info, statErr := os.Stat(path)
		require.NoError(t, statErr)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
		return nil
	})
	require.NoError(t, err)

	_, statErr := os.Stat(captured)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Dir(captured))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileIsRemovedOnError(t *testing.T) {
	var captured string
	err := ephemeral.File("test", func(path string) error {
		captured = path
		return assertErr
	})
	require.ErrorIs(t, err, assertErr)

	_, statErr := os.Stat(captured)
	assert.True(t, os.IsNotExist(statErr))
}

var assertErr = os.ErrClosed

func TestSymlinkMapPointsAtEphemeralFiles(t *testing.T) {
	dir := t.TempDir()
	stateLink := filepath.Join(dir, "terraform.tfstate")
	backupLink := filepath.Join(dir, "terraform.tfstate.backup")

	err := ephemeral.SymlinkMap("tf", map[string]string{
		"state":  stateLink,
		"backup": backupLink,
	}, func(paths map[string]string) error {
		require.Len(t, paths, 2)

		target, readErr := os.Readlink(stateLink)
		require.NoError(t, readErr)
		assert.Equal(t, paths["state"], target)

		return os.WriteFile(paths["state"], []byte("hello"), 0o600)
	})
	require.NoError(t, err)

	_, statErr := os.Lstat(stateLink)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Lstat(backupLink)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSymlinkMapRepointsExistingSymlink(t *testing.T) {
	dir := t.TempDir()
	stateLink := filepath.Join(dir, "terraform.tfstate")
	require.NoError(t, os.Symlink("/nonexistent", stateLink))

	err := ephemeral.SymlinkMap("tf", map[string]string{"state": stateLink}, func(paths map[string]string) error {
		target, readErr := os.Readlink(stateLink)
		require.NoError(t, readErr)
		assert.Equal(t, paths["state"], target)
		return nil
	})
	require.NoError(t, err)
}
