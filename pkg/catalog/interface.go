// Package catalog declares the narrow interfaces through which the transfer
// engine talks to the dataset catalog service and the credential store. Both
// are external systems; the engine never implements them.
package catalog

import "context"

// Credentials is what the credential store hands back for one storage
// profile. Region may be empty when the backend resolves it on its own.
type Credentials struct {
	AccessKeyID string
	AccessKey   string
	Region      string
}

// CredentialProvider loads credentials for a named storage profile.
type CredentialProvider interface {
	GetCredentials(profile string) (Credentials, error)
}

// UploadSession is the catalog's answer to UploadStart: the allocated
// PENDING version and where its objects and manifest must go.
type UploadSession struct {
	VersionID    string
	Region       string
	StoragePath  string
	ManifestPath string
}

// Location describes where a bucket's data lives.
type Location struct {
	Path   string
	Region string
}

// DownloadTargets enumerates the versions matching a download request.
// Legacy marks versions that predate the manifest model and must be
// migrated before they can be downloaded.
type DownloadTargets struct {
	Names     []string
	Locations []string
	Legacy    []bool
}

// UploadStartRequest carries the user-facing identity of the version being
// created. Resume asks the catalog to hand back an existing PENDING version
// instead of allocating a new one.
type UploadStartRequest struct {
	Bucket      string
	Name        string
	Tag         string
	Description string
	Metadata    map[string]string
	Resume      bool
}

// Catalog is the dataset catalog service. It owns names, versions, tags and
// bucket configuration; the engine only starts and finishes versions and
// resolves locations through it.
type Catalog interface {
	UploadStart(ctx context.Context, req UploadStartRequest) (*UploadSession, error)
	UploadFinish(ctx context.Context, versionID, checksum string, size, sizeDelta int64, labels map[string]string) error
	GetLocation(ctx context.Context, bucket string) (*Location, error)
	GetDownloadTargets(ctx context.Context, bucket, name, tag string) (*DownloadTargets, error)
}
