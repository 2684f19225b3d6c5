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
	"path/filepath"
	"regexp"

	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/client"
	"github.com/zhengshuai-xiao/DSync/pkg/executor"
	"github.com/zhengshuai-xiao/DSync/pkg/storage"
)

// DownloadRequest materializes one or more dataset versions under Dest.
// With Resume, files already present at their manifest size are skipped and
// a non-empty destination is accepted.
type DownloadRequest struct {
	Bucket string
	Name   string
	Tag    string
	Dest   string
	Resume bool
}

var md5Hex = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Download resolves the matching versions through the catalog, rejects
// legacy (manifest-less) ones, and fans each manifest's entries out to
// workers writing local files. When the request matches several versions,
// each lands under Dest/<name>.
func (e *Engine) Download(ctx context.Context, req DownloadRequest) (*TransferSummary, error) {
	targets, err := e.Catalog.GetDownloadTargets(ctx, req.Bucket, req.Name, req.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download targets: %w", err)
	}
	if len(targets.Locations) == 0 {
		return nil, &internal.UserError{Msg: fmt.Sprintf("no version found for %s/%s:%s", req.Bucket, req.Name, req.Tag)}
	}
	for i, legacy := range targets.Legacy {
		if legacy {
			return nil, &internal.DatasetModelError{
				Msg: fmt.Sprintf("version %s has no manifest, run migrate first", targets.Names[i]),
			}
		}
	}

	if err := checkDestination(req.Dest, req.Resume); err != nil {
		return nil, err
	}

	var gens []Generator
	total := 0
	for i, loc := range targets.Locations {
		dir := req.Dest
		if len(targets.Locations) > 1 {
			dir = filepath.Join(req.Dest, targets.Names[i])
		}
		entries, err := e.readManifestAt(ctx, loc)
		if err != nil {
			return nil, err
		}
		des := make([]SortableEntry, 0, len(entries))
		for _, me := range entries {
			des = append(des, &DownloadEntry{
				Manifest: me,
				Target:   filepath.Join(dir, filepath.FromSlash(me.RelPath)),
			})
		}
		total += len(des)
		gens = append(gens, newSliceGenerator(des))
	}
	logger.Infof("download %s/%s:%s to %s (%d versions, %d entries)",
		req.Bucket, req.Name, req.Tag, req.Dest, len(targets.Locations), total)

	jc := executor.RunJob(ctx, e.downloadWorker(req.Resume), Merge(gens...), e.clients, e.Progress, e.Config.Params)
	summary := newTransferSummary(jc)
	summary.Log("download")
	return summary, nil
}

// checkDestination refuses a non-empty destination unless resuming, so a
// plain download never silently mixes with unrelated files.
func checkDestination(dest string, resume bool) error {
	fi, err := os.Stat(dest)
	if os.IsNotExist(err) {
		return os.MkdirAll(dest, 0o755)
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", dest, err)
	}
	if !fi.IsDir() {
		return &internal.UserError{Msg: fmt.Sprintf("destination %s is not a directory", dest)}
	}
	if resume {
		return nil
	}
	empty, err := internal.IsDirEmpty(dest)
	if err != nil {
		return err
	}
	if !empty {
		return &internal.UserError{Msg: fmt.Sprintf("destination %s is not empty, use resume to continue into it", dest)}
	}
	return nil
}

// readManifestAt fetches and parses one manifest, verifying READ access to
// its backend first so credential problems surface before any transfer.
func (e *Engine) readManifestAt(ctx context.Context, location string) ([]*ManifestEntry, error) {
	uri, err := storage.ParseURI(location)
	if err != nil {
		return nil, err
	}
	if err := validateManifestPath(uri); err != nil {
		return nil, err
	}
	backend, err := e.openBackend(ctx, uri)
	if err != nil {
		return nil, err
	}
	creds, err := e.Creds.GetCredentials(uri.Profile)
	if err != nil {
		return nil, &internal.CredentialError{Profile: uri.Profile, Access: storage.AccessRead.String(), Err: err}
	}
	if err := backend.DataAuth(ctx, creds, storage.AccessRead); err != nil {
		return nil, err
	}
	reader, _, err := backend.Get(ctx, uri.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest %s: %w", location, err)
	}
	defer reader.Close()
	return LoadManifest(reader)
}

// downloadWorker writes one manifest entry to its local target. A resumed
// run skips files that already match the manifest size; downloaded bytes
// are checksummed against the manifest etag when the etag is a plain md5.
func (e *Engine) downloadWorker(resume bool) executor.WorkerFunc {
	return func(ctx context.Context, in *executor.WorkerInput, clients *client.Mux, progress executor.ProgressUpdater) (*executor.WorkerOutput, error) {
		entry, ok := in.Entry.(*DownloadEntry)
		if !ok {
			return nil, fmt.Errorf("unexpected entry type %T", in.Entry)
		}
		me := entry.Manifest

		if resume {
			if fi, err := os.Stat(entry.Target); err == nil && fi.Size() == me.Size {
				logger.Debugf("skipping %s, already complete", entry.Target)
				return &executor.WorkerOutput{Size: me.Size, Count: 1}, nil
			}
		}

		uri, err := storage.ParseURI(me.StoragePath)
		if err != nil {
			return nil, err
		}
		e.registerURI(uri)
		src, err := clients.Client(ctx, uri.Key())
		if err != nil {
			return nil, &internal.SystemicError{Err: err}
		}

		reader, _, err := src.Get(ctx, uri.Prefix)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(entry.Target), 0o755); err != nil {
			reader.Close()
			return nil, fmt.Errorf("failed to create dir for %s: %w", entry.Target, err)
		}
		if _, err := internal.WriteReadCloserToFile(reader, entry.Target); err != nil {
			return nil, err
		}
		progress.Update(me.Size)

		if md5Hex.MatchString(me.ETag) {
			etag, _, err := hashFile(entry.Target)
			if err != nil {
				return nil, err
			}
			if etag != me.ETag {
				// drop the corrupt file: a same-size leftover would be
				// skipped by every later resume
				os.Remove(entry.Target)
				return nil, fmt.Errorf("checksum mismatch for %s: got %s, manifest says %s", me.RelPath, etag, me.ETag)
			}
		}

		return &executor.WorkerOutput{
			Size:             me.Size,
			SizeTransferred:  me.Size,
			Count:            1,
			CountTransferred: 1,
		}, nil
	}
}
