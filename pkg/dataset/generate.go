package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/client"
	"github.com/zhengshuai-xiao/DSync/pkg/storage"
)

// Generator lazily produces SortableEntry values, already sorted by
// relative path within the source. This ordering is a documented
// precondition of the k-way merge: per-directory lexicographic sorting
// before descending keeps a local walk monotonic, and remote listings are
// key-ordered by the backends.
type Generator interface {
	Next() bool
	Err() error
	Entry() SortableEntry
}

// localGenerator walks a local directory depth first, sorting each
// directory's entries before descending, and yields UploadLocalFileEntry
// values. A plain file source yields exactly one entry. Directories sort
// under their name plus "/" so the emitted relative paths stay in path
// order: a file "data.txt" must come before anything inside a sibling
// directory "data" ('.' sorts below '/').
type localGenerator struct {
	src        *LocalPath
	dest       *storage.URI
	destRegion string

	stack []walkFrame
	cur   SortableEntry
	err   error
	init  bool
}

type walkFrame struct {
	abs string
	rel string
}

// Entries returns the generator for this local source, targeting dest.
func (p *LocalPath) Entries(dest *storage.URI, destRegion string) Generator {
	return &localGenerator{src: p, dest: dest, destRegion: destRegion}
}

func (g *localGenerator) Next() bool {
	if g.err != nil {
		return false
	}
	if !g.init {
		g.init = true
		root := g.src.relRoot()
		if !g.src.IsDir {
			root = filepath.Base(g.src.Path)
		}
		g.stack = []walkFrame{{abs: g.src.Path, rel: root}}
	}
	for len(g.stack) > 0 {
		frame := g.stack[len(g.stack)-1]
		g.stack = g.stack[:len(g.stack)-1]

		fi, err := os.Lstat(frame.abs)
		if err != nil {
			g.err = fmt.Errorf("failed to stat %s: %w", frame.abs, err)
			return false
		}
		if fi.IsDir() {
			entries, err := os.ReadDir(frame.abs)
			if err != nil {
				g.err = fmt.Errorf("failed to read dir %s: %w", frame.abs, err)
				return false
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			for i := len(names) - 1; i >= 0; i-- {
				name := strings.TrimSuffix(names[i], "/")
				g.stack = append(g.stack, walkFrame{
					abs: filepath.Join(frame.abs, name),
					rel: joinRel(frame.rel, name),
				})
			}
			continue
		}
		g.cur = &UploadLocalFileEntry{
			RelPath:           frame.rel,
			Source:            frame.abs,
			Destination:       g.dest,
			DestinationRegion: g.destRegion,
			Size:              fi.Size(),
			priority:          g.src.Priority,
		}
		return true
	}
	return false
}

func (g *localGenerator) Err() error          { return g.err }
func (g *localGenerator) Entry() SortableEntry { return g.cur }

func joinRel(base, name string) string {
	if base == "" {
		return name
	}
	return base + "/" + name
}

// remoteGenerator lists a remote prefix lazily and yields RemoteObjectEntry
// values. Objects with no checksum are a user error: without a content
// identity they cannot enter the content-addressed layout.
type remoteGenerator struct {
	src     *RemotePath
	clients *client.Mux
	ctx     context.Context

	it          storage.ObjectIterator
	cur         SortableEntry
	err         error
	init        bool
	allowNoETag bool
}

// Entries returns the generator for this remote source. The backend client
// is obtained lazily from the mux on first pull.
func (p *RemotePath) Entries(ctx context.Context, clients *client.Mux) Generator {
	return &remoteGenerator{src: p, clients: clients, ctx: ctx}
}

// MigrationEntries is Entries with the checksum requirement relaxed:
// objects listed without an etag come through with it empty and migration
// hashes their bytes while copying.
func (p *RemotePath) MigrationEntries(ctx context.Context, clients *client.Mux) Generator {
	return &remoteGenerator{src: p, clients: clients, ctx: ctx, allowNoETag: true}
}

func (g *remoteGenerator) Next() bool {
	if g.err != nil {
		return false
	}
	if !g.init {
		g.init = true
		backend, err := g.clients.Client(g.ctx, g.src.URI.Key())
		if err != nil {
			g.err = &internal.SystemicError{Err: err}
			return false
		}
		g.it = backend.List(g.ctx, storage.ListOptions{Prefix: g.src.URI.Prefix})
	}
	prefix := g.src.URI.Prefix
	root := g.src.relRoot()
	for g.it.Next() {
		obj := g.it.Get()
		if obj.IsDir {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(obj.Key, prefix), "/")
		if rel == "" {
			rel = filepath.Base(obj.Key)
		}
		if root != "" {
			rel = root + "/" + rel
		}
		if obj.ETag == "" && !g.allowNoETag {
			g.err = &internal.UserError{Msg: fmt.Sprintf("remote object %s has no checksum", obj.Key)}
			return false
		}
		g.cur = &RemoteObjectEntry{
			RelPath:     rel,
			SourceStore: g.src.URI.Key(),
			SourceKey:   obj.Key,
			Size:        obj.Size,
			ETag:        obj.ETag,
			priority:    g.src.Priority,
		}
		return true
	}
	if err := g.it.Err(); err != nil {
		g.err = err
	}
	return false
}

func (g *remoteGenerator) Err() error          { return g.err }
func (g *remoteGenerator) Entry() SortableEntry { return g.cur }

// manifestGenerator yields retained entries from an existing manifest,
// optionally dropping paths matching a removal regex. It always runs at the
// numerically highest priority so newly supplied sources override history.
type manifestGenerator struct {
	entries []*ManifestEntry
	remove  *regexp.Regexp
	pos     int
	cur     SortableEntry
}

func newManifestGenerator(entries []*ManifestEntry, priority int, remove *regexp.Regexp) *manifestGenerator {
	retained := make([]*ManifestEntry, 0, len(entries))
	for _, e := range entries {
		retained = append(retained, NewManifestEntry(e.RelPath, priority, e.StoragePath, e.URL, e.Size, e.ETag))
	}
	sort.Slice(retained, func(i, j int) bool { return retained[i].RelPath < retained[j].RelPath })
	return &manifestGenerator{entries: retained, remove: remove}
}

func (g *manifestGenerator) Next() bool {
	for g.pos < len(g.entries) {
		e := g.entries[g.pos]
		g.pos++
		if g.remove != nil && g.remove.MatchString(e.RelPath) {
			logger.Debugf("removing %s from retained manifest", e.RelPath)
			continue
		}
		g.cur = e
		return true
	}
	return false
}

func (g *manifestGenerator) Err() error          { return nil }
func (g *manifestGenerator) Entry() SortableEntry { return g.cur }

// sliceGenerator adapts an in-memory, pre-sorted entry slice.
type sliceGenerator struct {
	entries []SortableEntry
	pos     int
	cur     SortableEntry
}

func newSliceGenerator(entries []SortableEntry) *sliceGenerator {
	return &sliceGenerator{entries: entries}
}

func (g *sliceGenerator) Next() bool {
	if g.pos >= len(g.entries) {
		return false
	}
	g.cur = g.entries[g.pos]
	g.pos++
	return true
}

func (g *sliceGenerator) Err() error          { return nil }
func (g *sliceGenerator) Entry() SortableEntry { return g.cur }
