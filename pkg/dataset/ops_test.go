package dataset

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/catalog"
	"github.com/zhengshuai-xiao/DSync/pkg/executor"
	"github.com/zhengshuai-xiao/DSync/pkg/storage"
)

// fakeCatalog backs the orchestrators with a local store root. Versions are
// numbered v001, v002, ... and their objects/manifests live under root.
type fakeCatalog struct {
	mu       sync.Mutex
	root     string
	versions int
	pending  *catalog.UploadSession
	finished map[string]string // version id -> manifest checksum
	sizes    map[string]int64
	targets  *catalog.DownloadTargets
}

func newFakeCatalog(root string) *fakeCatalog {
	return &fakeCatalog{
		root:     root,
		finished: make(map[string]string),
		sizes:    make(map[string]int64),
	}
}

func (c *fakeCatalog) UploadStart(ctx context.Context, req catalog.UploadStartRequest) (*catalog.UploadSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req.Resume && c.pending != nil {
		return c.pending, nil
	}
	c.versions++
	vid := fmt.Sprintf("v%03d", c.versions)
	c.pending = &catalog.UploadSession{
		VersionID:    vid,
		StoragePath:  filepath.Join(c.root, "data"),
		ManifestPath: filepath.Join(c.root, "manifests", vid+".json"),
	}
	return c.pending, nil
}

func (c *fakeCatalog) UploadFinish(ctx context.Context, versionID, checksum string, size, sizeDelta int64, labels map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished[versionID] = checksum
	c.sizes[versionID] = size
	c.pending = nil
	return nil
}

func (c *fakeCatalog) GetLocation(ctx context.Context, bucket string) (*catalog.Location, error) {
	return &catalog.Location{Path: c.root}, nil
}

func (c *fakeCatalog) GetDownloadTargets(ctx context.Context, bucket, name, tag string) (*catalog.DownloadTargets, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.targets == nil {
		return &catalog.DownloadTargets{}, nil
	}
	return c.targets, nil
}

// manifestTarget points subsequent download/update calls at one version's
// manifest.
func (c *fakeCatalog) manifestTarget(name, location string, legacy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = &catalog.DownloadTargets{
		Names:     []string{name},
		Locations: []string{location},
		Legacy:    []bool{legacy},
	}
}

type fakeCreds struct{}

func (fakeCreds) GetCredentials(profile string) (catalog.Credentials, error) {
	return catalog.Credentials{}, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeCatalog, string) {
	t.Helper()
	root := t.TempDir()
	cat := newFakeCatalog(root)
	engine := NewEngine(cat, fakeCreds{}, Config{Params: executor.Params{Threads: 2}})
	return engine, cat, root
}

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0750))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func md5Of(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func readManifestFile(t *testing.T, path string) []*ManifestEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	entries, err := LoadManifest(f)
	require.NoError(t, err)
	return entries
}

func TestUploadLocalSources(t *testing.T) {
	ctx := context.Background()
	engine, cat, root := newTestEngine(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "aaaaa", "b.txt": "bbb"})

	summary, err := engine.Upload(ctx, UploadRequest{
		Bucket:  "ml",
		Name:    "corpus",
		Tag:     "v1",
		Sources: []string{src + "/*"},
	})
	require.NoError(t, err)
	require.Empty(t, summary.Failures)
	assert.Equal(t, int64(2), summary.Count)
	assert.Equal(t, int64(2), summary.CountTransferred)
	assert.Equal(t, int64(8), summary.Size)

	entries := readManifestFile(t, filepath.Join(root, "manifests", "v001.json"))
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].RelPath)
	assert.Equal(t, md5Of("aaaaa"), entries[0].ETag)
	assert.Equal(t, "b.txt", entries[1].RelPath)
	assert.Equal(t, md5Of("bbb"), entries[1].ETag)

	// objects land in the content-addressed layout
	for _, e := range entries {
		obj := filepath.Join(root, "data", "objects", e.ETag[0:2], e.ETag[2:4], e.ETag)
		_, err := os.Stat(obj)
		assert.NoError(t, err, e.RelPath)
	}

	// version reported READY with the manifest checksum
	checksum, ok := cat.finished["v001"]
	require.True(t, ok)
	assert.Equal(t, ManifestChecksum(entries), checksum)
	assert.Equal(t, int64(8), cat.sizes["v001"])
}

func TestUploadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "same bytes"})

	first, err := engine.Upload(ctx, UploadRequest{Bucket: "ml", Name: "d", Tag: "v1", Sources: []string{src + "/*"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.CountTransferred)

	// identical bytes hash to the same key: no second physical write
	second, err := engine.Upload(ctx, UploadRequest{Bucket: "ml", Name: "d", Tag: "v2", Sources: []string{src + "/*"}})
	require.NoError(t, err)
	require.Empty(t, second.Failures)
	assert.Equal(t, int64(1), second.Count)
	assert.Equal(t, int64(0), second.CountTransferred)
}

func TestUploadFirstSourceWinsConflicts(t *testing.T) {
	ctx := context.Background()
	engine, _, root := newTestEngine(t)

	srcA := t.TempDir()
	srcB := t.TempDir()
	writeTree(t, srcA, map[string]string{"x.txt": "AAA"})
	writeTree(t, srcB, map[string]string{"x.txt": "BBBB", "y.txt": "y"})

	summary, err := engine.Upload(ctx, UploadRequest{
		Bucket:  "ml",
		Name:    "d",
		Tag:     "v1",
		Sources: []string{srcA + "/*", srcB + "/*"},
	})
	require.NoError(t, err)
	require.Empty(t, summary.Failures)
	assert.Equal(t, int64(2), summary.Count)

	entries := readManifestFile(t, filepath.Join(root, "manifests", "v001.json"))
	require.Len(t, entries, 2)
	assert.Equal(t, "x.txt", entries[0].RelPath)
	assert.Equal(t, md5Of("AAA"), entries[0].ETag, "the earlier source must win")
	assert.Equal(t, "y.txt", entries[1].RelPath)
}

func TestUploadWithoutSources(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.Upload(context.Background(), UploadRequest{Bucket: "ml", Name: "d"})
	var ue *internal.UserError
	require.ErrorAs(t, err, &ue)
}

func TestUploadPartialFailureStillWritesManifest(t *testing.T) {
	ctx := context.Background()
	engine, cat, root := newTestEngine(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "alpha", "c.txt": "gamma"})
	// a dangling symlink: listed fine, unreadable at transfer time
	require.NoError(t, os.Symlink(filepath.Join(src, "missing"), filepath.Join(src, "b.txt")))

	summary, err := engine.Upload(ctx, UploadRequest{
		Bucket:  "ml",
		Name:    "d",
		Tag:     "v1",
		Sources: []string{src + "/*"},
	})
	require.NoError(t, err)
	require.Len(t, summary.Failures, 1)
	assert.Contains(t, summary.Failures[0], "b.txt")
	assert.Equal(t, int64(2), summary.Count)

	// the manifest lists exactly the objects that made it
	entries := readManifestFile(t, filepath.Join(root, "manifests", "v001.json"))
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].RelPath)
	assert.Equal(t, "c.txt", entries[1].RelPath)

	// the version stays PENDING until a re-run fills the gap
	_, finished := cat.finished["v001"]
	assert.False(t, finished)
}

func TestOpenBackendBindsPerBucket(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	a, err := storage.ParseURI("minio://127.0.0.1:9000/bucket-a/prefix")
	require.NoError(t, err)
	b, err := storage.ParseURI("minio://127.0.0.1:9000/bucket-b/prefix")
	require.NoError(t, err)

	ba, err := engine.openBackend(ctx, a)
	require.NoError(t, err)
	bb, err := engine.openBackend(ctx, b)
	require.NoError(t, err)

	// two buckets behind one credential profile must not share a binding
	assert.Equal(t, "bucket-a", ba.URI().Container)
	assert.Equal(t, "bucket-b", bb.URI().Container)
}

func TestUpdateRemovesByRegex(t *testing.T) {
	ctx := context.Background()
	engine, cat, root := newTestEngine(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"x.tmp": "temp", "y.txt": "keep"})
	_, err := engine.Upload(ctx, UploadRequest{Bucket: "ml", Name: "d", Tag: "v1", Sources: []string{src + "/*"}})
	require.NoError(t, err)

	cat.manifestTarget("v1", filepath.Join(root, "manifests", "v001.json"), false)

	summary, err := engine.Update(ctx, UpdateRequest{
		Bucket:      "ml",
		Name:        "d",
		Tag:         "v2",
		BaseTag:     "v1",
		RemoveRegex: `.*\.tmp$`,
	})
	require.NoError(t, err)
	require.Empty(t, summary.Failures)
	assert.Equal(t, int64(1), summary.Count)
	// retained entries are never re-transferred
	assert.Equal(t, int64(0), summary.CountTransferred)

	entries := readManifestFile(t, filepath.Join(root, "manifests", "v002.json"))
	require.Len(t, entries, 1)
	assert.Equal(t, "y.txt", entries[0].RelPath)
	assert.Equal(t, md5Of("keep"), entries[0].ETag)
}

func TestUpdateAddsAndRetains(t *testing.T) {
	ctx := context.Background()
	engine, cat, root := newTestEngine(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"old.txt": "old"})
	_, err := engine.Upload(ctx, UploadRequest{Bucket: "ml", Name: "d", Tag: "v1", Sources: []string{src + "/*"}})
	require.NoError(t, err)
	cat.manifestTarget("v1", filepath.Join(root, "manifests", "v001.json"), false)

	add := t.TempDir()
	writeTree(t, add, map[string]string{"new.txt": "new", "old.txt": "replaced"})

	summary, err := engine.Update(ctx, UpdateRequest{
		Bucket:  "ml",
		Name:    "d",
		Tag:     "v2",
		BaseTag: "v1",
		Sources: []string{add + "/*"},
	})
	require.NoError(t, err)
	require.Empty(t, summary.Failures)

	entries := readManifestFile(t, filepath.Join(root, "manifests", "v002.json"))
	require.Len(t, entries, 2)
	assert.Equal(t, "new.txt", entries[0].RelPath)
	assert.Equal(t, "old.txt", entries[1].RelPath)
	// the added source overrides retained history
	assert.Equal(t, md5Of("replaced"), entries[1].ETag)
}

func TestUpdateRequiresAddOrRemove(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.Update(context.Background(), UpdateRequest{Bucket: "ml", Name: "d", Tag: "v1"})
	var ue *internal.UserError
	require.ErrorAs(t, err, &ue)
}

func TestUpdateInvalidRegex(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.Update(context.Background(), UpdateRequest{
		Bucket: "ml", Name: "d", Tag: "v1", RemoveRegex: "([",
	})
	var ue *internal.UserError
	require.ErrorAs(t, err, &ue)
}

func TestUpdateLegacyBaseFails(t *testing.T) {
	engine, cat, _ := newTestEngine(t)
	cat.manifestTarget("v1", "/somewhere/legacy", true)

	_, err := engine.Update(context.Background(), UpdateRequest{
		Bucket: "ml", Name: "d", Tag: "v2", BaseTag: "v1", RemoveRegex: "x",
	})
	var me *internal.DatasetModelError
	require.ErrorAs(t, err, &me)
}

func TestDownload(t *testing.T) {
	ctx := context.Background()
	engine, cat, root := newTestEngine(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"})
	_, err := engine.Upload(ctx, UploadRequest{Bucket: "ml", Name: "d", Tag: "v1", Sources: []string{src + "/*"}})
	require.NoError(t, err)
	cat.manifestTarget("v1", filepath.Join(root, "manifests", "v001.json"), false)

	dest := t.TempDir()
	summary, err := engine.Download(ctx, DownloadRequest{Bucket: "ml", Name: "d", Tag: "v1", Dest: dest})
	require.NoError(t, err)
	require.Empty(t, summary.Failures)
	assert.Equal(t, int64(2), summary.CountTransferred)

	for rel, content := range map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"} {
		data, err := os.ReadFile(filepath.Join(dest, rel))
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}

	// a second run into the same directory needs resume and skips everything
	_, err = engine.Download(ctx, DownloadRequest{Bucket: "ml", Name: "d", Tag: "v1", Dest: dest})
	var ue *internal.UserError
	require.ErrorAs(t, err, &ue)

	resumed, err := engine.Download(ctx, DownloadRequest{Bucket: "ml", Name: "d", Tag: "v1", Dest: dest, Resume: true})
	require.NoError(t, err)
	require.Empty(t, resumed.Failures)
	assert.Equal(t, int64(2), resumed.Count)
	assert.Equal(t, int64(0), resumed.CountTransferred)
}

func TestDownloadReFetchesCorruptFile(t *testing.T) {
	ctx := context.Background()
	engine, cat, root := newTestEngine(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})
	_, err := engine.Upload(ctx, UploadRequest{Bucket: "ml", Name: "d", Tag: "v1", Sources: []string{src + "/*"}})
	require.NoError(t, err)
	cat.manifestTarget("v1", filepath.Join(root, "manifests", "v001.json"), false)

	// corrupt the stored object without changing its size
	etag := md5Of("hello")
	obj := filepath.Join(root, "data", "objects", etag[0:2], etag[2:4], etag)
	good, err := os.ReadFile(obj)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(obj, []byte("jello"), 0644))

	dest := t.TempDir()
	summary, err := engine.Download(ctx, DownloadRequest{Bucket: "ml", Name: "d", Tag: "v1", Dest: dest})
	require.NoError(t, err)
	require.Len(t, summary.Failures, 1)
	assert.Contains(t, summary.Failures[0], "checksum mismatch")

	// the corrupt same-size result must not survive to be skipped by resume
	_, err = os.Stat(filepath.Join(dest, "a.txt"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(obj, good, 0644))
	resumed, err := engine.Download(ctx, DownloadRequest{Bucket: "ml", Name: "d", Tag: "v1", Dest: dest, Resume: true})
	require.NoError(t, err)
	require.Empty(t, resumed.Failures)
	data, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestDownloadLegacyVersionFails(t *testing.T) {
	engine, cat, _ := newTestEngine(t)
	cat.manifestTarget("v1", "/somewhere/legacy", true)

	_, err := engine.Download(context.Background(), DownloadRequest{
		Bucket: "ml", Name: "d", Tag: "v1", Dest: t.TempDir(),
	})
	var me *internal.DatasetModelError
	require.ErrorAs(t, err, &me)
}

func TestMigrateLegacyVersion(t *testing.T) {
	ctx := context.Background()
	engine, cat, root := newTestEngine(t)

	legacy := filepath.Join(root, "legacy", "v0")
	writeTree(t, legacy, map[string]string{"a.txt": "legacy-a", "deep/b.txt": "legacy-b"})
	cat.manifestTarget("v0", legacy, true)

	summary, err := engine.Migrate(ctx, MigrateRequest{Bucket: "ml", Name: "d"})
	require.NoError(t, err)
	require.Empty(t, summary.Failures)
	assert.Equal(t, int64(2), summary.Count)
	assert.Equal(t, int64(2), summary.CountTransferred)

	entries := readManifestFile(t, filepath.Join(root, "manifests", "v001.json"))
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].RelPath)
	assert.Equal(t, md5Of("legacy-a"), entries[0].ETag)
	assert.Equal(t, "deep/b.txt", entries[1].RelPath)

	checksum, ok := cat.finished["v001"]
	require.True(t, ok)
	assert.Equal(t, ManifestChecksum(entries), checksum)

	// re-running is a no-op for already migrated objects
	again, err := engine.Migrate(ctx, MigrateRequest{Bucket: "ml", Name: "d"})
	require.NoError(t, err)
	require.Empty(t, again.Failures)
	assert.Equal(t, int64(0), again.CountTransferred)
}

func TestMigrateNothingLegacy(t *testing.T) {
	engine, cat, _ := newTestEngine(t)
	cat.manifestTarget("v1", "/x/manifests/v1.json", false)

	summary, err := engine.Migrate(context.Background(), MigrateRequest{Bucket: "ml", Name: "d"})
	require.NoError(t, err)
	assert.Empty(t, summary.Failures)
	assert.Equal(t, int64(0), summary.Count)
}
