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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/zhengshuai-xiao/DSync/pkg/storage"
)

// FinalizeManifest converts accumulated cache entries into the manifest
// document and uploads it to destKey on dest. Entries are emitted in index
// order (insertion order is meaningless: workers commit concurrently), so
// two runs over identical inputs produce byte-identical manifests. The
// checksum folds md5 over "relative_path etag" lines in the same order.
//
// An empty cache writes nothing: the dataset version simply has no
// manifest. Callers invoke this from an always-run cleanup path so a
// partially failed operation still leaves a valid, smaller manifest behind.
func FinalizeManifest(ctx context.Context, cache ManifestCache, dest storage.Backend, destKey string) (checksum string, count int, err error) {
	indexes, err := cache.Indexes()
	if err != nil {
		return "", 0, fmt.Errorf("failed to enumerate manifest cache: %w", err)
	}
	if len(indexes) == 0 {
		logger.Infof("manifest cache is empty, nothing to finalize")
		return "", 0, nil
	}

	tmp, err := os.CreateTemp("", "dsync-manifest-*.json")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hash := md5.New()
	if _, err := tmp.WriteString("["); err != nil {
		return "", 0, fmt.Errorf("failed to write manifest: %w", err)
	}
	for i, index := range indexes {
		entry, err := cache.Get(index)
		if err != nil {
			return "", 0, err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return "", 0, fmt.Errorf("failed to serialize manifest entry %d: %w", index, err)
		}
		if i > 0 {
			if _, err := tmp.WriteString(","); err != nil {
				return "", 0, fmt.Errorf("failed to write manifest: %w", err)
			}
			io.WriteString(hash, "\n")
		}
		if _, err := tmp.Write(data); err != nil {
			return "", 0, fmt.Errorf("failed to write manifest: %w", err)
		}
		io.WriteString(hash, entry.RelPath+" "+entry.ETag)
	}
	if _, err := tmp.WriteString("]"); err != nil {
		return "", 0, fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, fmt.Errorf("failed to sync manifest: %w", err)
	}

	if _, err := dest.PutFile(ctx, destKey, tmp.Name()); err != nil {
		return "", 0, fmt.Errorf("failed to upload manifest to %s: %w", destKey, err)
	}

	checksum = hex.EncodeToString(hash.Sum(nil))
	logger.Infof("finalized manifest %s with %d entries, checksum %s", destKey, len(indexes), checksum)
	return checksum, len(indexes), nil
}

// LoadManifest parses a manifest document into entries sorted by relative
// path. The sort is normally a no-op (manifests are written ordered) but
// protects the merge precondition against hand-edited documents.
func LoadManifest(r io.Reader) ([]*ManifestEntry, error) {
	var entries []*ManifestEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	return entries, nil
}

// ManifestChecksum recomputes the finalize-time checksum over parsed
// entries, for verification after a round trip.
func ManifestChecksum(entries []*ManifestEntry) string {
	hash := md5.New()
	for i, e := range entries {
		if i > 0 {
			io.WriteString(hash, "\n")
		}
		io.WriteString(hash, e.RelPath+" "+e.ETag)
	}
	return hex.EncodeToString(hash.Sum(nil))
}
