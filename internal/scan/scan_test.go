package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestImages(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{
		"b.JPG", "a.png", "notes.txt", "sub/c.heic", "sub/deeper/d.dng",
		"sub/e.webp", "sub/f.jpeg", "sub/g.gif", "z/h.PnG",
	} {
		touch(t, filepath.Join(root, p))
	}

	files, err := Images(root)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(root, f)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.Equal(t, []string{
		"a.png", "b.JPG", "sub/c.heic", "sub/deeper/d.dng", "sub/e.webp", "sub/f.jpeg", "z/h.PnG",
	}, rel)
}

func TestImagesExclude(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.jpg"))
	touch(t, filepath.Join(root, "out", "사람", "a.jpg"))

	files, err := Images(root, filepath.Join(root, "out"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.jpg")}, files)
}

func TestImagesErrors(t *testing.T) {
	_, err := Images(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "a.jpg")
	touch(t, file)
	_, err = Images(file)
	assert.Error(t, err)
}

func TestImagesEmpty(t *testing.T) {
	files, err := Images(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("/x/IMG_0001.HEIC"))
	assert.False(t, IsImage("/x/movie.mov"))
	assert.False(t, IsImage("/x/noext"))
}
