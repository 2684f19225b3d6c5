package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/catalog"
)

// localBackend serves file:// URIs. Keys are slash-separated paths relative
// to the filesystem root, mirroring the remote backends' container-relative
// keys.
type localBackend struct {
	uri *URI
}

func newLocalBackend(uri *URI) (Backend, error) {
	return &localBackend{uri: uri}, nil
}

func (l *localBackend) URI() *URI { return l.uri }

func (l *localBackend) abs(key string) string {
	return "/" + strings.TrimPrefix(key, "/")
}

// localIterator walks a directory tree lazily, depth first, sorting each
// directory's entries lexicographically before descending.
type localIterator struct {
	stack []string // pending absolute paths, top of stack at the end
	opts  ListOptions
	cur   *ObjectInfo
	err   error
}

func (it *localIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for len(it.stack) > 0 {
		p := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]

		fi, err := os.Lstat(p)
		if err != nil {
			it.err = fmt.Errorf("failed to stat %s: %w", p, err)
			return false
		}
		if fi.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				it.err = fmt.Errorf("failed to read dir %s: %w", p, err)
				return false
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			sort.Strings(names)
			// push reversed so the lexicographically smallest pops first
			for i := len(names) - 1; i >= 0; i-- {
				it.stack = append(it.stack, filepath.Join(p, names[i]))
			}
			continue
		}
		key := strings.TrimPrefix(p, "/")
		if it.opts.Regex != nil && !it.opts.Regex.MatchString(key) {
			continue
		}
		it.cur = &ObjectInfo{Key: key, Size: fi.Size()}
		return true
	}
	return false
}

func (it *localIterator) Err() error       { return it.err }
func (it *localIterator) Get() *ObjectInfo { return it.cur }

func (l *localBackend) List(ctx context.Context, opts ListOptions) ObjectIterator {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = l.uri.Prefix
	}
	return &localIterator{stack: []string{l.abs(prefix)}, opts: opts}
}

func (l *localBackend) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	p := l.abs(key)
	fi, err := os.Stat(p)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	return f, &ObjectInfo{Key: key, Size: fi.Size()}, nil
}

func (l *localBackend) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	p := l.abs(key)
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return "", fmt.Errorf("failed to create dir for %s: %w", p, err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (l *localBackend) PutFile(ctx context.Context, key, localPath string) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file[%s]: %w", localPath, err)
	}
	defer src.Close()
	return l.Put(ctx, key, src, -1, "")
}

func (l *localBackend) Delete(ctx context.Context, key string) error {
	err := os.Remove(l.abs(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (l *localBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(l.abs(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Region is meaningless for local storage.
func (l *localBackend) Region(ctx context.Context, creds catalog.Credentials) (string, error) {
	return "", nil
}

func (l *localBackend) LinkBase(region string) string {
	return "file://"
}

func (l *localBackend) DataAuth(ctx context.Context, creds catalog.Credentials, access AccessType) error {
	fail := func(err error) error {
		return &internal.CredentialError{Profile: l.uri.Profile, Access: access.String(), Err: err}
	}
	root := l.abs(l.uri.Prefix)
	switch access {
	case AccessRead:
		if _, err := os.Stat(root); err != nil {
			return fail(err)
		}
		return nil
	case AccessWrite, AccessDelete:
		if err := os.MkdirAll(root, 0750); err != nil {
			return fail(err)
		}
		probe := filepath.Join(root, ".dsync_probe")
		if err := os.WriteFile(probe, nil, 0644); err != nil {
			return fail(err)
		}
		if err := os.Remove(probe); err != nil {
			return fail(err)
		}
		return nil
	}
	return fail(fmt.Errorf("unknown access type %d", access))
}
