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
	"regexp"

	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/catalog"
	"github.com/zhengshuai-xiao/DSync/pkg/storage"
)

// UpdateRequest derives a new dataset version from an existing one:
// Sources add or replace paths, RemoveRegex drops retained paths. At least
// one of the two must be supplied.
type UpdateRequest struct {
	Bucket      string
	Name        string
	Tag         string
	BaseTag     string // version to update from, defaults to Tag
	Description string
	Metadata    map[string]string
	Labels      map[string]string
	Resume      bool
	Sources     []string
	RemoveRegex string
}

// Update runs Upload's pipeline with one extra merge source: the base
// version's manifest, filtered by RemoveRegex and generated at the
// numerically highest priority so newly supplied sources override retained
// history. Retained entries are re-committed without re-transfer.
func (e *Engine) Update(ctx context.Context, req UpdateRequest) (*TransferSummary, error) {
	if len(req.Sources) == 0 && req.RemoveRegex == "" {
		return nil, &internal.UserError{Msg: "update needs at least one source to add or a removal pattern"}
	}
	var remove *regexp.Regexp
	if req.RemoveRegex != "" {
		var err error
		if remove, err = regexp.Compile(req.RemoveRegex); err != nil {
			return nil, &internal.UserError{Msg: fmt.Sprintf("invalid removal pattern %q: %v", req.RemoveRegex, err)}
		}
	}
	sources, err := parseSources(req.Sources, 0)
	if err != nil {
		return nil, err
	}

	baseTag := req.BaseTag
	if baseTag == "" {
		baseTag = req.Tag
	}
	retained, err := e.fetchManifest(ctx, req.Bucket, req.Name, baseTag)
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
		return nil, fmt.Errorf("failed to start update: %w", err)
	}
	logger.Infof("update %s/%s:%s from %s as version %s (%d retained entries)",
		req.Bucket, req.Name, req.Tag, baseTag, sess.VersionID, len(retained))

	destURI, manifestURI, _, region, err := e.prepareDestination(ctx, sess)
	if err != nil {
		return nil, err
	}

	gens, err := e.buildGenerators(ctx, sources, destURI, region)
	if err != nil {
		return nil, err
	}
	gens = append(gens, newManifestGenerator(retained, len(sources), remove))

	summary, err := e.runTransfer(ctx, sess, destURI, manifestURI, region, gens, req.Labels)
	if summary != nil {
		summary.Log("update")
	}
	return summary, err
}

// fetchManifest resolves and parses the manifest of one dataset version.
// A legacy version has no manifest to build on and must be migrated first.
func (e *Engine) fetchManifest(ctx context.Context, bucket, name, tag string) ([]*ManifestEntry, error) {
	targets, err := e.Catalog.GetDownloadTargets(ctx, bucket, name, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s/%s:%s: %w", bucket, name, tag, err)
	}
	if len(targets.Locations) == 0 {
		return nil, &internal.UserError{Msg: fmt.Sprintf("no version found for %s/%s:%s", bucket, name, tag)}
	}
	if len(targets.Locations) > 1 {
		return nil, &internal.UserError{Msg: fmt.Sprintf("%s/%s:%s resolves to %d versions, expected one", bucket, name, tag, len(targets.Locations))}
	}
	if targets.Legacy[0] {
		return nil, &internal.DatasetModelError{
			Msg: fmt.Sprintf("version %s of %s/%s has no manifest, run migrate first", tag, bucket, name),
		}
	}

	uri, err := storage.ParseURI(targets.Locations[0])
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
	reader, _, err := backend.Get(ctx, uri.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest %s: %w", uri.String(), err)
	}
	defer reader.Close()
	return LoadManifest(reader)
}
