package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/snappy"

	"github.com/zhengshuai-xiao/DSync/internal"
)

// diskCache spills entry records to a per-operation local directory, one
// snappy-compressed gob record per index, sharded by index/1000 so no single
// directory grows unbounded. It survives a crashed finalize attempt: records
// are plain files that a re-run can read back.
type diskCache struct {
	dir string
	mu  sync.Mutex
	n   int
}

func NewDiskCache(baseDir, opID string) (ManifestCache, error) {
	dir := filepath.Join(baseDir, "dsync-cache", opID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}
	return &diskCache{dir: dir}, nil
}

func (c *diskCache) path(index int) string {
	shard := strconv.Itoa(index / 1000)
	return filepath.Join(c.dir, shard, fmt.Sprintf("%010d.rec", index))
}

func (c *diskCache) Put(index int, e *ManifestEntry) error {
	p := c.path(index)
	if _, err := os.Stat(p); err == nil {
		return fmt.Errorf("manifest cache index %d written twice", index)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return fmt.Errorf("failed to create cache shard: %w", err)
	}

	raw, err := internal.Serialize(e.Record())
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create cache record %d: %w", index, err)
	}
	defer f.Close()
	if _, err := internal.WriteAll(f, snappy.Encode(nil, raw)); err != nil {
		return fmt.Errorf("failed to write cache record %d: %w", index, err)
	}
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func (c *diskCache) Get(index int) (*ManifestEntry, error) {
	data, err := os.ReadFile(c.path(index))
	if err != nil {
		return nil, fmt.Errorf("failed to read cache record %d: %w", index, err)
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("corrupted cache record %d: %w", index, err)
	}
	var rec EntryRecord
	if err := internal.Deserialize(raw, &rec); err != nil {
		return nil, fmt.Errorf("cache record %d: %w", index, err)
	}
	return rec.Entry(), nil
}

func (c *diskCache) Indexes() ([]int, error) {
	var idx []int
	err := filepath.WalkDir(c.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".rec") {
			return nil
		}
		i, perr := strconv.Atoi(strings.TrimSuffix(name, ".rec"))
		if perr != nil {
			return nil
		}
		idx = append(idx, i)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache dir: %w", err)
	}
	sort.Ints(idx)
	return idx, nil
}

func (c *diskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *diskCache) Clear() error {
	c.mu.Lock()
	c.n = 0
	c.mu.Unlock()
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("failed to clear cache dir %s: %w", c.dir, err)
	}
	return nil
}
