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
	"fmt"
	"os"
	"strings"

	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/catalog"
	"github.com/zhengshuai-xiao/DSync/pkg/client"
	"github.com/zhengshuai-xiao/DSync/pkg/executor"
)

// MigrateRequest converts legacy (manifest-less) versions of a dataset into
// the manifest-based model. Tag narrows the migration to one version;
// leaving it empty migrates every legacy version the catalog reports.
type MigrateRequest struct {
	Bucket string
	Name   string
	Tag    string
	Labels map[string]string
}

// Migrate lists each legacy version's true backend objects, re-keys every
// object by its own checksum into the content-addressed layout and
// finalizes a manifest for it. Content addressing makes a re-run a no-op
// for objects migrated before, so an interrupted migration is simply run
// again.
func (e *Engine) Migrate(ctx context.Context, req MigrateRequest) (*TransferSummary, error) {
	targets, err := e.Catalog.GetDownloadTargets(ctx, req.Bucket, req.Name, req.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve versions of %s/%s: %w", req.Bucket, req.Name, err)
	}
	total := &TransferSummary{}
	migrated := 0
	for i, legacy := range targets.Legacy {
		if !legacy {
			logger.Debugf("version %s already manifest-based, skipping", targets.Names[i])
			continue
		}
		summary, err := e.migrateVersion(ctx, req, targets.Names[i], targets.Locations[i])
		if err != nil {
			return total, err
		}
		migrated++
		total.fold(summary)
	}
	if migrated == 0 {
		logger.Infof("nothing to migrate for %s/%s:%s", req.Bucket, req.Name, req.Tag)
	}
	total.Log("migrate")
	return total, nil
}

func (s *TransferSummary) fold(o *TransferSummary) {
	if s.StartTime.IsZero() || (!o.StartTime.IsZero() && o.StartTime.Before(s.StartTime)) {
		s.StartTime = o.StartTime
	}
	if o.EndTime.After(s.EndTime) {
		s.EndTime = o.EndTime
	}
	s.Retries += o.Retries
	s.Failures = append(s.Failures, o.Failures...)
	s.Size += o.Size
	s.SizeTransferred += o.SizeTransferred
	s.Count += o.Count
	s.CountTransferred += o.CountTransferred
}

// migrateVersion runs one legacy version through the standard transfer
// pipeline, sourcing entries from a direct listing of its storage prefix.
func (e *Engine) migrateVersion(ctx context.Context, req MigrateRequest, name, location string) (*TransferSummary, error) {
	sess, err := e.Catalog.UploadStart(ctx, catalog.UploadStartRequest{
		Bucket: req.Bucket,
		Name:   req.Name,
		Tag:    name,
		Resume: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start migration of %s: %w", name, err)
	}
	logger.Infof("migrate %s/%s:%s from %s as version %s", req.Bucket, req.Name, name, location, sess.VersionID)

	destURI, manifestURI, _, region, err := e.prepareDestination(ctx, sess)
	if err != nil {
		return nil, err
	}

	// the listing is relative to the prefix itself, no directory-name root
	if !strings.HasSuffix(location, "/*") {
		location += "/*"
	}
	src, err := ParseSource(location, 0)
	if err != nil {
		return nil, err
	}
	var gen Generator
	switch p := src.(type) {
	case *LocalPath:
		gen = p.Entries(destURI, region)
	case *RemotePath:
		e.registerURI(p.URI)
		gen = p.MigrationEntries(ctx, e.clients)
	default:
		return nil, &internal.UserError{Msg: fmt.Sprintf("unusable location %s for legacy version %s", location, name)}
	}
	gen = newSkipGenerator(gen, migratedAlready)

	cache, err := e.newCache(ctx, sess.VersionID)
	if err != nil {
		return nil, err
	}
	worker := e.migrationWorker(e.transferWorker(destURI, region, cache))
	jc := executor.RunJob(ctx, worker, Merge(gen), e.clients, e.Progress, e.Config.Params)

	var checksum string
	var count int
	var finErr error
	func() {
		defer func() {
			if cerr := cache.Clear(); cerr != nil {
				logger.Warnf("failed to clear manifest cache: %v", cerr)
			}
		}()
		mdest, err := e.openBackend(ctx, manifestURI)
		if err != nil {
			finErr = err
			return
		}
		checksum, count, finErr = FinalizeManifest(ctx, cache, mdest, manifestURI.Prefix)
	}()

	summary := newTransferSummary(jc)
	if finErr != nil {
		summary.Failures = append(summary.Failures, finErr.Error())
	}
	if len(summary.Failures) == 0 && count > 0 {
		if err := e.Catalog.UploadFinish(ctx, sess.VersionID, checksum, summary.Size, summary.SizeTransferred, req.Labels); err != nil {
			summary.Failures = append(summary.Failures, fmt.Sprintf("failed to finish migration: %v", err))
		}
	}
	return summary, nil
}

// migratedAlready filters listing entries that are products of a previous
// migration run rather than legacy payload.
func migratedAlready(entry SortableEntry) bool {
	rel := entry.RelativePath()
	return strings.HasPrefix(rel, "objects/") || strings.HasPrefix(rel, "manifests/")
}

// migrationWorker fills in the content identity of objects whose listing
// carried no checksum, then delegates to the standard transfer worker. The
// bytes are staged locally once to be hashed and uploaded.
func (e *Engine) migrationWorker(base executor.WorkerFunc) executor.WorkerFunc {
	return func(ctx context.Context, in *executor.WorkerInput, clients *client.Mux, progress executor.ProgressUpdater) (*executor.WorkerOutput, error) {
		re, ok := in.Entry.(*RemoteObjectEntry)
		if ok && re.ETag == "" {
			src, err := clients.Client(ctx, re.SourceStore)
			if err != nil {
				return nil, &internal.SystemicError{Err: err}
			}
			reader, _, err := src.Get(ctx, re.SourceKey)
			if err != nil {
				return nil, err
			}
			tmp, err := os.CreateTemp("", "dsync-migrate-*")
			if err != nil {
				reader.Close()
				return nil, fmt.Errorf("failed to create staging file: %w", err)
			}
			tmp.Close()
			defer os.Remove(tmp.Name())
			if _, err := internal.WriteReadCloserToFile(reader, tmp.Name()); err != nil {
				return nil, err
			}
			etag, size, err := hashFile(tmp.Name())
			if err != nil {
				return nil, err
			}
			re.ETag = etag
			re.Size = size
			re.stagedPath = tmp.Name()
		}
		return base(ctx, in, clients, progress)
	}
}

// skipGenerator drops entries the predicate matches.
type skipGenerator struct {
	inner Generator
	skip  func(SortableEntry) bool
}

func newSkipGenerator(inner Generator, skip func(SortableEntry) bool) Generator {
	return &skipGenerator{inner: inner, skip: skip}
}

func (g *skipGenerator) Next() bool {
	for g.inner.Next() {
		if g.skip(g.inner.Entry()) {
			continue
		}
		return true
	}
	return false
}

func (g *skipGenerator) Err() error           { return g.inner.Err() }
func (g *skipGenerator) Entry() SortableEntry { return g.inner.Entry() }
