package local

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_ReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))

	err := WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := io.WriteString(w, `[{"id":"1"}]`)
		return err
	})
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `[{"id":"1"}]`, string(b))
	requireNoTempFiles(t, dir)
}

func TestWriteFileAtomic_FailureKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"old"}]`), 0o644))

	boom := errors.New("disk full")
	err := WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		// Enough to spill out of the buffer before failing.
		chunk := make([]byte, 64*1024)
		for i := range chunk {
			chunk[i] = '['
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `[{"id":"old"}]`, string(b))
	requireNoTempFiles(t, dir)
}

func TestWriteFileAtomic_CreatesNewFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fresh.json")
	require.NoError(t, WriteFileAtomic(path, 0o600, func(w io.Writer) error {
		_, err := io.WriteString(w, "[]")
		return err
	}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteFileAtomic_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "store.json")
	err := WriteFileAtomic(path, 0o644, func(io.Writer) error { return nil })
	require.Error(t, err)
}

func requireNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotRegexp(t, `\.tmp$`, e.Name())
	}
}
