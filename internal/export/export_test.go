package export

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photosort/internal/taxonomy"
)

func source(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "src.jpg")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestDirs(t *testing.T) {
	yes, no := true, false
	assert.Equal(t, []string{"사람"}, Dirs(taxonomy.People, &yes, false))
	assert.Equal(t, []string{DirValuable, "사람"}, Dirs(taxonomy.People, &yes, true))
	assert.Equal(t, []string{DirNotValuable, "기타"}, Dirs(taxonomy.Other, &no, true))
	assert.Equal(t, []string{DirValueUnsure, "동물"}, Dirs(taxonomy.PetsAnimals, nil, true))
}

func TestCopyCollisionSuffix(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)
	src := source(t, "hello")

	first, err := w.Copy(src, "IMG_1.jpg", "사람")
	require.NoError(t, err)
	second, err := w.Copy(src, "IMG_1.jpg", "사람")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "사람", "IMG_1.jpg"), first)
	assert.Equal(t, filepath.Join(root, "사람", "IMG_1_1.jpg"), second)

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestCopyCeiling(t *testing.T) {
	w := &Writer{Root: t.TempDir(), MaxSuffix: 2}
	src := source(t, "x")

	for i := 0; i < 3; i++ {
		_, err := w.Copy(src, "a.png", "기타")
		require.NoError(t, err)
	}
	_, err := w.Copy(src, "a.png", "기타")
	assert.ErrorIs(t, err, ErrTooManyDuplicates)
}

func TestCopyConcurrentNeverOverwrites(t *testing.T) {
	w := NewWriter(t.TempDir())
	src := source(t, "same")

	const n = 20
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := w.Copy(src, "dup.jpg", "사물")
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, p := range paths {
		assert.False(t, seen[p], "duplicate target %s", p)
		seen[p] = true
	}
	assert.Len(t, seen, n)
}

func TestCopyMissingSource(t *testing.T) {
	w := NewWriter(t.TempDir())
	_, err := w.Copy(filepath.Join(t.TempDir(), "nope.jpg"), "nope.jpg", "기타")
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(w.Root, "기타", "nope.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFolderDistribution(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)
	src := source(t, "x")

	_, err := w.Copy(src, "a.jpg", "사람")
	require.NoError(t, err)
	_, err = w.Copy(src, "b.jpg", DirValuable, "사람")
	require.NoError(t, err)
	_, err = w.Copy(src, "c.jpg", DirNotValuable, "동물")
	require.NoError(t, err)

	dist, err := FolderDistribution(root)
	require.NoError(t, err)
	assert.Len(t, dist, taxonomy.NumCategories)
	assert.Equal(t, 0.6667, dist[taxonomy.People])
	assert.Equal(t, 0.3333, dist[taxonomy.PetsAnimals])
	assert.Equal(t, 0.0, dist[taxonomy.Other])
}

func TestFolderDistributionEmpty(t *testing.T) {
	dist, err := FolderDistribution(t.TempDir())
	require.NoError(t, err)
	for _, v := range dist {
		assert.Equal(t, 0.0, v)
	}

	_, err = FolderDistribution(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
