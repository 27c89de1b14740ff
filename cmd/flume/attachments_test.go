package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestExpandAttachments(t *testing.T) {
	t.Parallel()

	t.Run("classifies by extension", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, "photo.png", []byte{1, 2})
		writeFile(t, dir, "note.mp3", []byte{3})
		writeFile(t, dir, "report.pdf", []byte("%PDF"))

		blocks, err := expandAttachments([]string{filepath.Join(dir, "*")})
		require.NoError(t, err)
		require.Len(t, blocks, 3)

		types := map[string]string{}
		for _, b := range blocks {
			types[b.Type] = b.Filename
		}
		assert.Contains(t, types, "image")
		assert.Equal(t, "note.mp3", types["audio"])
		assert.Equal(t, "report.pdf", types["file"])
	})

	t.Run("doublestar matches nested files", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, filepath.Join("a", "b", "deep.txt"), []byte("x"))

		blocks, err := expandAttachments([]string{filepath.Join(dir, "**", "*.txt")})
		require.NoError(t, err)
		require.Len(t, blocks, 1)
		assert.Equal(t, "deep.txt", blocks[0].Filename)
	})

	t.Run("unmatched glob is an error", func(t *testing.T) {
		t.Parallel()
		_, err := expandAttachments([]string{filepath.Join(t.TempDir(), "nope-*.txt")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no files matched")
	})

	t.Run("directories are skipped", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
		writeFile(t, dir, "only.txt", []byte("x"))

		blocks, err := expandAttachments([]string{filepath.Join(dir, "*")})
		require.NoError(t, err)
		require.Len(t, blocks, 1)
	})
}
