package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/gabriel-vasile/mimetype"
	"github.com/zhengshuai-xiao/DSync/pkg/catalog"
)

// azureBackend serves az:// URIs. The storage account name rides in the
// credential's AccessKeyID and the shared key in AccessKey.
type azureBackend struct {
	uri      *URI
	client   *azblob.Client
	account  string
	endpoint string
}

func newAzureBackend(uri *URI, creds catalog.Credentials, conf map[string]string) (Backend, error) {
	account := uri.Params["account"]
	if account == "" {
		account = creds.AccessKeyID
	}
	if account == "" {
		return nil, fmt.Errorf("azure backend requires a storage account name")
	}
	endpoint := conf["azure_endpoint"]
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	}
	cred, err := azblob.NewSharedKeyCredential(account, creds.AccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build azure credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init azure client: %w", err)
	}
	return &azureBackend{uri: uri, client: client, account: account, endpoint: strings.TrimSuffix(endpoint, "/")}, nil
}

func (a *azureBackend) URI() *URI { return a.uri }

// blobPager narrows the generated SDK pager to what the iterator needs.
type blobPager interface {
	More() bool
	NextPage(ctx context.Context) (azblob.ListBlobsFlatResponse, error)
}

type azureIterator struct {
	ctx   context.Context
	pager blobPager
	opts  ListOptions
	page  []*container.BlobItem
	pos   int
	cur   *ObjectInfo
	err   error
}

func (it *azureIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for {
		for it.pos < len(it.page) {
			item := it.page[it.pos]
			it.pos++
			if item.Name == nil {
				continue
			}
			key := *item.Name
			if it.opts.Regex != nil && !it.opts.Regex.MatchString(key) {
				continue
			}
			info := &ObjectInfo{Key: key, IsDir: strings.HasSuffix(key, "/")}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					info.Size = *item.Properties.ContentLength
				}
				if item.Properties.ETag != nil {
					info.ETag = strings.Trim(string(*item.Properties.ETag), "\"")
				}
			}
			it.cur = info
			return true
		}
		if !it.pager.More() {
			return false
		}
		out, err := it.pager.NextPage(it.ctx)
		if err != nil {
			it.err = fmt.Errorf("failed to list blobs: %w", err)
			return false
		}
		it.page = nil
		if out.Segment != nil {
			it.page = out.Segment.BlobItems
		}
		it.pos = 0
	}
}

func (it *azureIterator) Err() error       { return it.err }
func (it *azureIterator) Get() *ObjectInfo { return it.cur }

func (a *azureBackend) List(ctx context.Context, opts ListOptions) ObjectIterator {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = a.uri.Prefix
	}
	pager := a.client.NewListBlobsFlatPager(a.uri.Container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	return &azureIterator{ctx: ctx, pager: pager, opts: opts}
}

func (a *azureBackend) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	resp, err := a.client.DownloadStream(ctx, a.uri.Container, key, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	info := &ObjectInfo{Key: key}
	if resp.ContentLength != nil {
		info.Size = *resp.ContentLength
	}
	if resp.ETag != nil {
		info.ETag = strings.Trim(string(*resp.ETag), "\"")
	}
	return resp.Body, info, nil
}

func (a *azureBackend) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	resp, err := a.client.UploadStream(ctx, a.uri.Container, key, r, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("failed to put blob %s: %w", key, err)
	}
	if resp.ETag == nil {
		return "", nil
	}
	return strings.Trim(string(*resp.ETag), "\""), nil
}

func (a *azureBackend) PutFile(ctx context.Context, key, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file[%s]: %w", localPath, err)
	}
	defer file.Close()

	contentType := "application/octet-stream"
	if mt, merr := mimetype.DetectFile(localPath); merr == nil {
		contentType = mt.String()
	}
	resp, err := a.client.UploadFile(ctx, a.uri.Container, key, file, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file[%s]: %w", localPath, err)
	}
	if resp.ETag == nil {
		return "", nil
	}
	return strings.Trim(string(*resp.ETag), "\""), nil
}

func (a *azureBackend) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteBlob(ctx, a.uri.Container, key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

func (a *azureBackend) Exists(ctx context.Context, key string) (bool, error) {
	bc := a.client.ServiceClient().NewContainerClient(a.uri.Container).NewBlobClient(key)
	_, err := bc.GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob %s: %w", key, err)
}

// Region returns the configured region; Azure derives routing from the
// account endpoint so there is nothing to resolve remotely.
func (a *azureBackend) Region(ctx context.Context, creds catalog.Credentials) (string, error) {
	return creds.Region, nil
}

func (a *azureBackend) LinkBase(region string) string {
	return a.endpoint + "/" + a.uri.Container
}

func (a *azureBackend) DataAuth(ctx context.Context, creds catalog.Credentials, access AccessType) error {
	return authByProbe(ctx, a, creds, access)
}
