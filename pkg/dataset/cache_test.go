package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheVariants(t *testing.T) map[string]ManifestCache {
	t.Helper()
	disk, err := NewDiskCache(t.TempDir(), "op-1")
	require.NoError(t, err)
	return map[string]ManifestCache{
		"memory": NewMemoryCache(),
		"disk":   disk,
	}
}

func TestManifestCache(t *testing.T) {
	for name, cache := range cacheVariants(t) {
		t.Run(name, func(t *testing.T) {
			e0 := NewManifestEntry("a.txt", 0, "s3://b/objects/aa/bb/e0", "https://x/a", 5, "e0")
			e2 := NewManifestEntry("c.txt", 0, "s3://b/objects/cc/dd/e2", "https://x/c", 3, "e2")

			require.NoError(t, cache.Put(0, e0))
			require.NoError(t, cache.Put(2, e2)) // gap at 1 is fine

			// write-once per index
			assert.Error(t, cache.Put(0, e0))

			got, err := cache.Get(0)
			require.NoError(t, err)
			assert.Equal(t, e0.RelPath, got.RelPath)
			assert.Equal(t, e0.StoragePath, got.StoragePath)
			assert.Equal(t, e0.URL, got.URL)
			assert.Equal(t, e0.Size, got.Size)
			assert.Equal(t, e0.ETag, got.ETag)

			_, err = cache.Get(1)
			assert.Error(t, err)

			idx, err := cache.Indexes()
			require.NoError(t, err)
			assert.Equal(t, []int{0, 2}, idx)
			assert.Equal(t, 2, cache.Len())

			require.NoError(t, cache.Clear())
			assert.Equal(t, 0, cache.Len())
		})
	}
}

func TestDiskCacheSharding(t *testing.T) {
	base := t.TempDir()
	cache, err := NewDiskCache(base, "op-2")
	require.NoError(t, err)

	e := NewManifestEntry("big.bin", 0, "s3://b/objects/ee/ff/e9", "", 9, "e9")
	require.NoError(t, cache.Put(1500, e))

	// index 1500 lands in shard 1
	_, err = os.Stat(filepath.Join(base, "dsync-cache", "op-2", "1", "0000001500.rec"))
	assert.NoError(t, err)

	idx, err := cache.Indexes()
	require.NoError(t, err)
	assert.Equal(t, []int{1500}, idx)

	require.NoError(t, cache.Clear())
	_, err = os.Stat(filepath.Join(base, "dsync-cache", "op-2"))
	assert.True(t, os.IsNotExist(err))
}
