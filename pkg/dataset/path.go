package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/storage"
)

// LocalPath is a validated local source. A trailing "/*" selects the
// contents of a directory; without it the directory itself becomes the top
// of the relative-path space.
type LocalPath struct {
	Path        string // absolute, asterisk stripped
	HasAsterisk bool
	Priority    int
	IsDir       bool
}

// RemotePath is a validated remote source prefix.
type RemotePath struct {
	URI         *storage.URI
	HasAsterisk bool
	Priority    int
}

// Source is either a LocalPath or a RemotePath, ordered by Priority (the
// CLI argument index: earlier arguments win path conflicts).
type Source interface {
	SourcePriority() int
	Describe() string
}

func (p *LocalPath) SourcePriority() int  { return p.Priority }
func (p *LocalPath) Describe() string     { return p.Path }
func (p *RemotePath) SourcePriority() int { return p.Priority }
func (p *RemotePath) Describe() string    { return p.URI.String() }

// ParseSource classifies and validates one user-supplied source path.
// priority is the argument's position: lower wins conflicts.
func ParseSource(raw string, priority int) (Source, error) {
	if raw == "" {
		return nil, &internal.UserError{Msg: "empty source path"}
	}
	hasAsterisk := false
	if strings.HasSuffix(raw, "/*") {
		hasAsterisk = true
		raw = strings.TrimSuffix(raw, "/*")
	}

	if strings.Contains(raw, "://") && !strings.HasPrefix(raw, storage.SchemeLocal+"://") {
		uri, err := storage.ParseURI(raw)
		if err != nil {
			return nil, err
		}
		return &RemotePath{URI: uri, HasAsterisk: hasAsterisk, Priority: priority}, nil
	}

	p := strings.TrimPrefix(raw, storage.SchemeLocal+"://")
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, &internal.UserError{Msg: fmt.Sprintf("invalid path %q: %v", raw, err)}
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, &internal.UserError{Msg: fmt.Sprintf("path does not exist: %s", abs)}
	}
	if hasAsterisk && !fi.IsDir() {
		return nil, &internal.UserError{Msg: fmt.Sprintf("asterisk requires a directory: %s", raw)}
	}
	return &LocalPath{Path: abs, HasAsterisk: hasAsterisk, Priority: priority, IsDir: fi.IsDir()}, nil
}

// relRoot returns the prefix prepended to relative paths produced from this
// source: empty for contents-of-directory, the directory's own name
// otherwise.
func (p *LocalPath) relRoot() string {
	if p.HasAsterisk || !p.IsDir {
		return ""
	}
	return filepath.Base(p.Path)
}

func (p *RemotePath) relRoot() string {
	if p.HasAsterisk || p.URI.Prefix == "" {
		return ""
	}
	parts := strings.Split(p.URI.Prefix, "/")
	return parts[len(parts)-1]
}
