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
	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/storage"
)

var logger = internal.GetLogger("dsync_dataset")

// SortableEntry is anything placed into the merge stream. Entries are
// totally ordered by RelativePath, ties broken by SourcePriority ascending
// (lower wins).
type SortableEntry interface {
	RelativePath() string
	SourcePriority() int
	EntrySize() int64
	ErrorKey() string
}

// entryLess is the merge comparator.
func entryLess(a, b SortableEntry) bool {
	if a.RelativePath() != b.RelativePath() {
		return a.RelativePath() < b.RelativePath()
	}
	return a.SourcePriority() < b.SourcePriority()
}

// ManifestEntry is the unit persisted in the final manifest: one retained
// object, addressed by the hash of its bytes. Immutable once constructed;
// build only through NewManifestEntry.
type ManifestEntry struct {
	RelPath     string `json:"relative_path"`
	StoragePath string `json:"storage_path"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ETag        string `json:"etag"`

	priority int
}

func NewManifestEntry(relPath string, priority int, storagePath, url string, size int64, etag string) *ManifestEntry {
	return &ManifestEntry{
		RelPath:     relPath,
		StoragePath: storagePath,
		URL:         url,
		Size:        size,
		ETag:        etag,
		priority:    priority,
	}
}

func (e *ManifestEntry) RelativePath() string { return e.RelPath }
func (e *ManifestEntry) SourcePriority() int  { return e.priority }
func (e *ManifestEntry) EntrySize() int64     { return e.Size }
func (e *ManifestEntry) ErrorKey() string     { return e.RelPath }

// Record returns the flat tuple form stored in the manifest cache.
func (e *ManifestEntry) Record() *EntryRecord {
	return &EntryRecord{
		RelPath:     e.RelPath,
		StoragePath: e.StoragePath,
		URL:         e.URL,
		Size:        e.Size,
		ETag:        e.ETag,
	}
}

// EntryRecord is the serialized (gob-friendly) tuple kept in manifest
// caches. priority is deliberately absent: it only matters before the merge.
type EntryRecord struct {
	RelPath     string
	StoragePath string
	URL         string
	Size        int64
	ETag        string
}

func (r *EntryRecord) Entry() *ManifestEntry {
	return &ManifestEntry{
		RelPath:     r.RelPath,
		StoragePath: r.StoragePath,
		URL:         r.URL,
		Size:        r.Size,
		ETag:        r.ETag,
	}
}

// UploadLocalFileEntry is a pending local file that has not been hashed or
// uploaded yet. It becomes a ManifestEntry only after content hashing and a
// successful transfer.
type UploadLocalFileEntry struct {
	RelPath           string
	Source            string // absolute local path
	Destination       *storage.URI
	DestinationRegion string
	Size              int64

	priority int
}

func (e *UploadLocalFileEntry) RelativePath() string { return e.RelPath }
func (e *UploadLocalFileEntry) SourcePriority() int  { return e.priority }
func (e *UploadLocalFileEntry) EntrySize() int64     { return e.Size }
func (e *UploadLocalFileEntry) ErrorKey() string     { return e.Source }

// RemoteObjectEntry is a pending object on a remote backend, to be copied
// into the destination's content-addressed layout. SourceStore is the mux
// key of the backend holding the object. ETag must be present: it is both
// the content identity and the destination key.
type RemoteObjectEntry struct {
	RelPath     string
	SourceStore string
	SourceKey   string
	Size        int64
	ETag        string

	priority   int
	stagedPath string // local staging copy, set when migration had to hash the bytes
}

func (e *RemoteObjectEntry) RelativePath() string { return e.RelPath }
func (e *RemoteObjectEntry) SourcePriority() int  { return e.priority }
func (e *RemoteObjectEntry) EntrySize() int64     { return e.Size }
func (e *RemoteObjectEntry) ErrorKey() string     { return e.SourceKey }

// DownloadEntry pairs a manifest entry with its local target path. Its
// stream identity is the target, not the manifest path: two versions
// downloaded side by side may both carry the same relative path.
type DownloadEntry struct {
	Manifest *ManifestEntry
	Target   string
}

func (e *DownloadEntry) RelativePath() string { return e.Target }
func (e *DownloadEntry) SourcePriority() int  { return e.Manifest.SourcePriority() }
func (e *DownloadEntry) EntrySize() int64     { return e.Manifest.Size }
func (e *DownloadEntry) ErrorKey() string     { return e.Target }
