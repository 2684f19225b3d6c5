// Copyright 2024 zhengshuai.xiao@outlook.com
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"

	"github.com/google/uuid"
	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/catalog"
)

var logger = internal.GetLogger("dsync_storage")

type AccessType int

const (
	AccessRead AccessType = iota + 1
	AccessWrite
	AccessDelete
)

func (a AccessType) String() string {
	switch a {
	case AccessRead:
		return "READ"
	case AccessWrite:
		return "WRITE"
	case AccessDelete:
		return "DELETE"
	}
	return "UNKNOWN"
}

// ObjectInfo describes one stored object as seen by a listing.
type ObjectInfo struct {
	Key   string
	Size  int64
	ETag  string
	IsDir bool
}

// ObjectIterator is a lazy listing: pages are fetched as the caller advances.
//
//	for it.Next() { obj := it.Get() ... }
//	if err := it.Err(); err != nil { ... }
type ObjectIterator interface {
	Next() bool
	Err() error
	Get() *ObjectInfo
}

// ListOptions scopes a listing. An empty Prefix means the backend URI's own
// prefix; Regex, when set, filters keys after prefix scoping.
type ListOptions struct {
	Prefix string
	Regex  *regexp.Regexp
}

// Backend is the uniform contract over heterogeneous storage providers.
// Callers never branch on the provider behind it.
type Backend interface {
	URI() *URI
	List(ctx context.Context, opts ListOptions) ObjectIterator
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// PutFile uploads a local file, computing content hashes from disk so
	// the backend can verify the write end to end.
	PutFile(ctx context.Context, key, localPath string) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Region resolves the network region used for HTTP link construction.
	Region(ctx context.Context, creds catalog.Credentials) (string, error)
	// LinkBase builds the stable HTTP URL base for objects in this backend's
	// container, for the given region.
	LinkBase(region string) string
	// DataAuth verifies the credentials grant the requested capability,
	// returning a *internal.CredentialError when they do not.
	DataAuth(ctx context.Context, creds catalog.Credentials, access AccessType) error
}

// Open constructs a backend for uri using creds. conf carries opaque client
// tuning (connection limits, endpoints) the engine passes through untouched.
func Open(ctx context.Context, uri *URI, creds catalog.Credentials, conf map[string]string) (Backend, error) {
	switch uri.Scheme {
	case SchemeLocal:
		return newLocalBackend(uri)
	case SchemeMinio:
		return newMinioBackend(uri, creds, conf)
	case SchemeS3:
		return newS3Backend(ctx, uri, creds, conf)
	case SchemeAzure:
		return newAzureBackend(uri, creds, conf)
	}
	return nil, &internal.UserError{Msg: fmt.Sprintf("unsupported storage scheme: %s", uri.Scheme)}
}

// probeKey returns a unique key under the backend prefix used by write/delete
// capability probes.
func probeKey(uri *URI) string {
	return uri.Join(".dsync_probe_" + uuid.NewString())
}

// authByProbe implements DataAuth generically for remote backends: READ is
// checked with a one-entry listing, WRITE and DELETE with a put+delete of a
// probe object.
func authByProbe(ctx context.Context, b Backend, creds catalog.Credentials, access AccessType) error {
	profile := b.URI().Profile
	fail := func(err error) error {
		return &internal.CredentialError{Profile: profile, Access: access.String(), Err: err}
	}
	switch access {
	case AccessRead:
		it := b.List(ctx, ListOptions{})
		for it.Next() {
			break
		}
		if err := it.Err(); err != nil {
			return fail(err)
		}
		return nil
	case AccessWrite, AccessDelete:
		key := probeKey(b.URI())
		if _, err := b.Put(ctx, key, bytes.NewReader(nil), 0, "application/octet-stream"); err != nil {
			return fail(err)
		}
		if err := b.Delete(ctx, key); err != nil {
			return fail(err)
		}
		return nil
	}
	return fail(fmt.Errorf("unknown access type %d", access))
}
