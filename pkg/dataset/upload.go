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

	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/catalog"
	"github.com/zhengshuai-xiao/DSync/pkg/client"
	"github.com/zhengshuai-xiao/DSync/pkg/executor"
	"github.com/zhengshuai-xiao/DSync/pkg/storage"
)

// UploadRequest creates a new dataset version from local and/or remote
// sources. Sources are in CLI order: the earlier one wins path conflicts.
type UploadRequest struct {
	Bucket      string
	Name        string
	Tag         string
	Description string
	Metadata    map[string]string
	Labels      map[string]string
	Resume      bool
	Sources     []string
}

// Upload allocates (or, when resuming, reuses) a PENDING version through
// the catalog, transfers all sources into the version's content-addressed
// layout and finalizes its manifest. On full success the version is
// reported READY; on partial failure it stays PENDING and a re-run fills
// the gaps, content addressing making repeated transfers no-ops.
func (e *Engine) Upload(ctx context.Context, req UploadRequest) (*TransferSummary, error) {
	if len(req.Sources) == 0 {
		return nil, &internal.UserError{Msg: "no source paths supplied"}
	}
	sources, err := parseSources(req.Sources, 0)
	if err != nil {
		return nil, err
	}

	sess, err := e.Catalog.UploadStart(ctx, catalog.UploadStartRequest{
		Bucket:      req.Bucket,
		Name:        req.Name,
		Tag:         req.Tag,
		Description: req.Description,
		Metadata:    req.Metadata,
		Resume:      req.Resume,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start upload: %w", err)
	}
	logger.Infof("upload %s/%s:%s as version %s", req.Bucket, req.Name, req.Tag, sess.VersionID)

	destURI, manifestURI, _, region, err := e.prepareDestination(ctx, sess)
	if err != nil {
		return nil, err
	}

	gens, err := e.buildGenerators(ctx, sources, destURI, region)
	if err != nil {
		return nil, err
	}

	summary, err := e.runTransfer(ctx, sess, destURI, manifestURI, region, gens, req.Labels)
	if summary != nil {
		summary.Log("upload")
	}
	return summary, err
}

// prepareDestination parses the session's paths, authenticates WRITE access
// and resolves the destination region. Authentication failures are fatal
// and happen before any transfer starts.
func (e *Engine) prepareDestination(ctx context.Context, sess *catalog.UploadSession) (destURI, manifestURI *storage.URI, dest storage.Backend, region string, err error) {
	destURI, err = storage.ParseURI(sess.StoragePath)
	if err != nil {
		return nil, nil, nil, "", err
	}
	manifestURI, err = storage.ParseURI(sess.ManifestPath)
	if err != nil {
		return nil, nil, nil, "", err
	}
	if err = validateManifestPath(manifestURI); err != nil {
		return nil, nil, nil, "", err
	}

	dest, err = e.openBackend(ctx, destURI)
	if err != nil {
		return nil, nil, nil, "", err
	}
	creds, err := e.Creds.GetCredentials(destURI.Profile)
	if err != nil {
		return nil, nil, nil, "", &internal.CredentialError{Profile: destURI.Profile, Access: "ANY", Err: err}
	}
	if err = dest.DataAuth(ctx, creds, storage.AccessWrite); err != nil {
		return nil, nil, nil, "", err
	}

	region = sess.Region
	if region == "" {
		if region, err = dest.Region(ctx, creds); err != nil {
			return nil, nil, nil, "", err
		}
	}
	return destURI, manifestURI, dest, region, nil
}

func parseSources(raw []string, basePriority int) ([]Source, error) {
	sources := make([]Source, 0, len(raw))
	for i, s := range raw {
		src, err := ParseSource(s, basePriority+i)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// buildGenerators produces one entry generator per source.
func (e *Engine) buildGenerators(ctx context.Context, sources []Source, destURI *storage.URI, region string) ([]Generator, error) {
	gens := make([]Generator, 0, len(sources))
	for _, src := range sources {
		switch p := src.(type) {
		case *LocalPath:
			gens = append(gens, p.Entries(destURI, region))
		case *RemotePath:
			e.registerURI(p.URI)
			gens = append(gens, p.Entries(ctx, e.clients))
		default:
			return nil, &internal.UserError{Msg: fmt.Sprintf("unknown source type for %s", src.Describe())}
		}
	}
	return gens, nil
}

// runTransfer drives the merged entry stream through the executor and then
// finalizes the manifest. Finalization and cache cleanup run regardless of
// job outcome, so a partially failed operation still leaves a valid
// manifest listing exactly the objects that made it.
func (e *Engine) runTransfer(ctx context.Context, sess *catalog.UploadSession, destURI, manifestURI *storage.URI, region string, gens []Generator, labels map[string]string) (*TransferSummary, error) {
	cache, err := e.newCache(ctx, sess.VersionID)
	if err != nil {
		return nil, err
	}

	merged := Merge(gens...)
	jc := executor.RunJob(ctx, e.transferWorker(destURI, region, cache), merged, e.clients, e.Progress, e.Config.Params)

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
		if err := e.Catalog.UploadFinish(ctx, sess.VersionID, checksum, summary.Size, summary.SizeTransferred, labels); err != nil {
			summary.Failures = append(summary.Failures, fmt.Sprintf("failed to finish upload: %v", err))
			return summary, nil
		}
		logger.Infof("version %s is READY (%d entries, checksum %s)", sess.VersionID, count, checksum)
	} else if len(summary.Failures) > 0 {
		logger.Warnf("version %s left PENDING with %d failures; re-run to fill the gaps", sess.VersionID, len(summary.Failures))
	}
	return summary, nil
}

// transferWorker moves one merged entry into the destination's
// content-addressed layout and commits its manifest entry at the stream
// index. Objects already present under their content key are not
// re-transferred.
func (e *Engine) transferWorker(destURI *storage.URI, region string, cache ManifestCache) executor.WorkerFunc {
	return func(ctx context.Context, in *executor.WorkerInput, clients *client.Mux, progress executor.ProgressUpdater) (*executor.WorkerOutput, error) {
		dest, err := clients.Client(ctx, destURI.Key())
		if err != nil {
			return nil, &internal.SystemicError{Err: err}
		}

		switch entry := in.Entry.(type) {
		case *UploadLocalFileEntry:
			return uploadLocalFile(ctx, dest, destURI, region, cache, in.Index, entry, progress)
		case *RemoteObjectEntry:
			return copyRemoteObject(ctx, dest, destURI, region, cache, in.Index, entry, clients, progress)
		case *ManifestEntry:
			// retained history: already durably stored, no transfer
			if err := cache.Put(in.Index, entry); err != nil {
				return nil, err
			}
			return &executor.WorkerOutput{Size: entry.Size, Count: 1}, nil
		}
		return nil, fmt.Errorf("unexpected entry type %T", in.Entry)
	}
}

func uploadLocalFile(ctx context.Context, dest storage.Backend, destURI *storage.URI, region string, cache ManifestCache, index int, entry *UploadLocalFileEntry, progress executor.ProgressUpdater) (*executor.WorkerOutput, error) {
	etag, size, err := hashFile(entry.Source)
	if err != nil {
		return nil, err
	}
	key := contentKey(destURI.Prefix, etag)

	exists, err := dest.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	transferred := false
	if !exists {
		if _, err := dest.PutFile(ctx, key, entry.Source); err != nil {
			return nil, err
		}
		progress.Update(size)
		transferred = true
	} else {
		logger.Debugf("object %s already stored, skipping %s", key, entry.Source)
	}

	me := NewManifestEntry(entry.RelPath, entry.SourcePriority(),
		destURI.WithKey(key), objectURL(dest, region, key), size, etag)
	if err := cache.Put(index, me); err != nil {
		return nil, err
	}

	out := &executor.WorkerOutput{Size: size, Count: 1}
	if transferred {
		out.SizeTransferred = size
		out.CountTransferred = 1
	}
	return out, nil
}

func copyRemoteObject(ctx context.Context, dest storage.Backend, destURI *storage.URI, region string, cache ManifestCache, index int, entry *RemoteObjectEntry, clients *client.Mux, progress executor.ProgressUpdater) (*executor.WorkerOutput, error) {
	key := contentKey(destURI.Prefix, entry.ETag)

	exists, err := dest.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	transferred := false
	if !exists {
		if entry.stagedPath != "" {
			if _, err := dest.PutFile(ctx, key, entry.stagedPath); err != nil {
				return nil, err
			}
		} else {
			src, err := clients.Client(ctx, entry.SourceStore)
			if err != nil {
				return nil, &internal.SystemicError{Err: err}
			}
			reader, _, err := src.Get(ctx, entry.SourceKey)
			if err != nil {
				return nil, err
			}
			_, err = dest.Put(ctx, key, reader, entry.Size, "")
			reader.Close()
			if err != nil {
				return nil, err
			}
		}
		progress.Update(entry.Size)
		transferred = true
	}

	me := NewManifestEntry(entry.RelPath, entry.SourcePriority(),
		destURI.WithKey(key), objectURL(dest, region, key), entry.Size, entry.ETag)
	if err := cache.Put(index, me); err != nil {
		return nil, err
	}

	out := &executor.WorkerOutput{Size: entry.Size, Count: 1}
	if transferred {
		out.SizeTransferred = entry.Size
		out.CountTransferred = 1
	}
	return out, nil
}
