package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RestCatalog talks to the dataset catalog service over its JSON API. The
// service owns all naming and version-state decisions; this client only
// relays them.
type RestCatalog struct {
	base  string
	token string
	hc    *http.Client
}

func NewRestCatalog(base, token string) *RestCatalog {
	return &RestCatalog{
		base:  strings.TrimSuffix(base, "/"),
		token: token,
		hc:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *RestCatalog) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("catalog returned %s for %s %s: %s", resp.Status, method, path, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return nil
}

func (c *RestCatalog) UploadStart(ctx context.Context, req UploadStartRequest) (*UploadSession, error) {
	var out struct {
		VersionID    string `json:"version_id"`
		Region       string `json:"region"`
		StoragePath  string `json:"storage_path"`
		ManifestPath string `json:"manifest_path"`
	}
	in := map[string]any{
		"bucket":      req.Bucket,
		"name":        req.Name,
		"tag":         req.Tag,
		"description": req.Description,
		"metadata":    req.Metadata,
		"resume":      req.Resume,
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/uploads", in, &out); err != nil {
		return nil, err
	}
	return &UploadSession{
		VersionID:    out.VersionID,
		Region:       out.Region,
		StoragePath:  out.StoragePath,
		ManifestPath: out.ManifestPath,
	}, nil
}

func (c *RestCatalog) UploadFinish(ctx context.Context, versionID, checksum string, size, sizeDelta int64, labels map[string]string) error {
	in := map[string]any{
		"checksum":   checksum,
		"size":       size,
		"size_delta": sizeDelta,
		"labels":     labels,
	}
	return c.do(ctx, http.MethodPost, "/api/v1/uploads/"+url.PathEscape(versionID)+"/finish", in, nil)
}

func (c *RestCatalog) GetLocation(ctx context.Context, bucket string) (*Location, error) {
	var out struct {
		Path   string `json:"path"`
		Region string `json:"region"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/buckets/"+url.PathEscape(bucket)+"/location", nil, &out); err != nil {
		return nil, err
	}
	return &Location{Path: out.Path, Region: out.Region}, nil
}

func (c *RestCatalog) GetDownloadTargets(ctx context.Context, bucket, name, tag string) (*DownloadTargets, error) {
	var out struct {
		Names     []string `json:"names"`
		Locations []string `json:"locations"`
		Legacy    []bool   `json:"legacy_flags"`
	}
	q := url.Values{}
	q.Set("bucket", bucket)
	q.Set("name", name)
	if tag != "" {
		q.Set("tag", tag)
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/versions?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Legacy) != len(out.Locations) || len(out.Names) != len(out.Locations) {
		return nil, fmt.Errorf("catalog returned mismatched version lists (%d names, %d locations, %d flags)",
			len(out.Names), len(out.Locations), len(out.Legacy))
	}
	return &DownloadTargets{Names: out.Names, Locations: out.Locations, Legacy: out.Legacy}, nil
}
