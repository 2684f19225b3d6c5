package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/zhengshuai-xiao/DSync/internal"
)

const (
	SchemeLocal = "file"
	SchemeMinio = "minio"
	SchemeS3    = "s3"
	SchemeAzure = "az"
)

// URI is a parsed storage location:
//
//	s3://bucket[/prefix][?profile=name]
//	minio://endpoint/bucket[/prefix][?profile=name&secure=true]
//	az://container[/prefix][?profile=name&account=name]
//	file:///abs/dir  or a bare filesystem path
//
// Profile names the credential set used to open the backend; it defaults to
// the scheme so one credential store entry per provider works out of the box.
type URI struct {
	Scheme    string
	Endpoint  string // minio only: host:port
	Container string
	Prefix    string
	Profile   string
	Params    map[string]string
}

// ParseURI parses a storage URI. A string with no scheme is treated as a
// local filesystem path.
func ParseURI(raw string) (*URI, error) {
	if raw == "" {
		return nil, &internal.UserError{Msg: "empty storage URI"}
	}
	if !strings.Contains(raw, "://") {
		return &URI{
			Scheme:    SchemeLocal,
			Container: "/",
			Prefix:    strings.TrimPrefix(path.Clean(raw), "/"),
			Profile:   SchemeLocal,
			Params:    map[string]string{},
		}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &internal.UserError{Msg: fmt.Sprintf("invalid storage URI %q: %v", raw, err)}
	}

	params := map[string]string{}
	for k, v := range u.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	uri := &URI{Scheme: u.Scheme, Params: params}
	switch u.Scheme {
	case SchemeLocal:
		uri.Container = "/"
		uri.Prefix = strings.TrimPrefix(path.Clean(u.Path), "/")
	case SchemeMinio:
		// host is the endpoint, first path element the bucket
		uri.Endpoint = u.Host
		parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
		if parts[0] == "" {
			return nil, &internal.UserError{Msg: fmt.Sprintf("missing bucket in URI %q", raw)}
		}
		uri.Container = parts[0]
		if len(parts) == 2 {
			uri.Prefix = parts[1]
		}
	case SchemeS3, SchemeAzure:
		if u.Host == "" {
			return nil, &internal.UserError{Msg: fmt.Sprintf("missing container in URI %q", raw)}
		}
		uri.Container = u.Host
		uri.Prefix = strings.Trim(u.Path, "/")
	default:
		return nil, &internal.UserError{Msg: fmt.Sprintf("unsupported storage scheme: %s", u.Scheme)}
	}

	uri.Profile = params["profile"]
	if uri.Profile == "" {
		uri.Profile = uri.Scheme
	}
	return uri, nil
}

// Key identifies the concrete store a URI points at, the unit a backend
// binding is cached under. Credentials are shared per profile, bindings
// must not be: two buckets on the same provider need separate backends.
func (u *URI) Key() string {
	switch u.Scheme {
	case SchemeLocal:
		return u.Profile + "@" + SchemeLocal
	case SchemeMinio:
		return u.Profile + "@" + SchemeMinio + "://" + u.Endpoint + "/" + u.Container
	default:
		return u.Profile + "@" + u.Scheme + "://" + u.Container
	}
}

// Join composes an object key under the URI's prefix.
func (u *URI) Join(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if u.Prefix == "" {
		return rel
	}
	if rel == "" {
		return u.Prefix
	}
	return u.Prefix + "/" + rel
}

// String renders the URI without query parameters, the form persisted into
// manifest storage_path fields.
func (u *URI) String() string {
	switch u.Scheme {
	case SchemeLocal:
		return SchemeLocal + ":///" + u.Prefix
	case SchemeMinio:
		s := SchemeMinio + "://" + u.Endpoint + "/" + u.Container
		if u.Prefix != "" {
			s += "/" + u.Prefix
		}
		return s
	default:
		s := u.Scheme + "://" + u.Container
		if u.Prefix != "" {
			s += "/" + u.Prefix
		}
		return s
	}
}

// WithKey returns the storage_path URI string for one object key.
func (u *URI) WithKey(key string) string {
	c := *u
	c.Prefix = key
	return c.String()
}
