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
package dataset

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/catalog"
	"github.com/zhengshuai-xiao/DSync/pkg/client"
	"github.com/zhengshuai-xiao/DSync/pkg/executor"
	"github.com/zhengshuai-xiao/DSync/pkg/storage"
)

// CacheKind selects the manifest cache backing store.
type CacheKind string

const (
	CacheMemory CacheKind = "memory"
	CacheDisk   CacheKind = "disk"
	CacheRedis  CacheKind = "redis"
)

// Config carries the operator-facing engine settings assembled by the CLI.
type Config struct {
	Params    executor.Params
	Cache     CacheKind
	CacheDir  string // disk cache base, defaults to os.TempDir()
	RedisAddr string // redis cache address, host:port[/db]
	Conf      map[string]string
}

// Engine composes the transfer pipeline behind the four dataset operations.
// It owns the client mux; URIs are registered as sources and destinations
// are parsed, and the mux binds a backend per store key (URI.Key) on first
// use.
type Engine struct {
	Catalog  catalog.Catalog
	Creds    catalog.CredentialProvider
	Progress executor.ProgressUpdater
	Config   Config

	clients *client.Mux

	mu   sync.Mutex
	uris map[string]*storage.URI
}

func NewEngine(cat catalog.Catalog, creds catalog.CredentialProvider, cfg Config) *Engine {
	e := &Engine{
		Catalog:  cat,
		Creds:    creds,
		Progress: executor.NopProgress{},
		Config:   cfg,
		uris:     make(map[string]*storage.URI),
	}
	e.clients = client.NewMux(e.bindStore)
	return e
}

// Clients exposes the engine's mux, mainly for workers and tests.
func (e *Engine) Clients() *client.Mux { return e.clients }

// registerURI remembers which URI a store key refers to so the mux can
// bind it lazily. Keys carry the container identity, so two buckets on the
// same provider never share a binding.
func (e *Engine) registerURI(uri *storage.URI) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.uris[uri.Key()]; !ok {
		e.uris[uri.Key()] = uri
	}
}

func (e *Engine) uriFor(key string) (*storage.URI, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	uri, ok := e.uris[key]
	return uri, ok
}

// bindStore is the mux's BindFunc: resolve credentials and open a pooled
// backend for the key's registered URI.
func (e *Engine) bindStore(ctx context.Context, key string) (client.Provider, error) {
	uri, ok := e.uriFor(key)
	if !ok {
		return nil, &internal.SystemicError{Err: fmt.Errorf("no URI registered for store %s", key)}
	}
	creds, err := e.Creds.GetCredentials(uri.Profile)
	if err != nil {
		return nil, &internal.CredentialError{Profile: uri.Profile, Access: "ANY", Err: err}
	}
	return client.NewPooled(func(ctx context.Context) (storage.Backend, error) {
		return storage.Open(ctx, uri, creds, e.Config.Conf)
	}), nil
}

// openBackend registers, binds and returns the backend for uri.
func (e *Engine) openBackend(ctx context.Context, uri *storage.URI) (storage.Backend, error) {
	e.registerURI(uri)
	return e.clients.Client(ctx, uri.Key())
}

// newCache builds the per-operation manifest cache.
func (e *Engine) newCache(ctx context.Context, opID string) (ManifestCache, error) {
	switch e.Config.Cache {
	case CacheDisk:
		base := e.Config.CacheDir
		if base == "" {
			base = os.TempDir()
		}
		return NewDiskCache(base, opID)
	case CacheRedis:
		return NewRedisCacheFromAddr(ctx, e.Config.RedisAddr, opID)
	default:
		return NewMemoryCache(), nil
	}
}

// contentKey maps a content checksum into the destination's
// content-addressed layout, sharded like objects/ab/cd/abcdef... so listing
// stays cheap at any dataset size. Identical bytes always land on the same
// key, which is what makes re-running interrupted transfers idempotent.
func contentKey(destPrefix, etag string) string {
	key := "objects/" + etag
	if len(etag) >= 4 {
		key = "objects/" + etag[0:2] + "/" + etag[2:4] + "/" + etag
	}
	if destPrefix == "" {
		return key
	}
	return destPrefix + "/" + key
}

// hashFile computes the md5 content identity of a local file.
func hashFile(path string) (etag string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open file[%s]: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash file[%s]: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// validateManifestPath enforces the manifest naming convention before any
// transfer starts.
func validateManifestPath(uri *storage.URI) error {
	if !strings.HasSuffix(uri.Prefix, ".json") || !strings.Contains(uri.Prefix, "manifests/") {
		return &internal.DatasetModelError{
			Msg: fmt.Sprintf("manifest path %s does not match manifests/<name>.json", uri.String()),
		}
	}
	return nil
}

// objectURL builds the resolvable HTTP link persisted in manifest entries.
func objectURL(b storage.Backend, region, key string) string {
	base := b.LinkBase(region)
	if base == "" {
		return key
	}
	return strings.TrimSuffix(base, "/") + "/" + key
}
