package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobPager struct {
	pages [][]*container.BlobItem
	pos   int
	err   error
}

func (p *fakeBlobPager) More() bool {
	return p.pos < len(p.pages)
}

func (p *fakeBlobPager) NextPage(ctx context.Context) (azblob.ListBlobsFlatResponse, error) {
	if p.err != nil {
		return azblob.ListBlobsFlatResponse{}, p.err
	}
	items := p.pages[p.pos]
	p.pos++
	// Segment lives on the embedded generated response, not the envelope
	return azblob.ListBlobsFlatResponse{
		ListBlobsFlatSegmentResponse: container.ListBlobsFlatSegmentResponse{
			Segment: &container.BlobFlatListSegment{BlobItems: items},
		},
	}, nil
}

func blobItem(name string, size int64, etag string) *container.BlobItem {
	tag := azcore.ETag(`"` + etag + `"`)
	return &container.BlobItem{
		Name: &name,
		Properties: &container.BlobProperties{
			ContentLength: &size,
			ETag:          &tag,
		},
	}
}

func TestAzureIteratorPagination(t *testing.T) {
	pager := &fakeBlobPager{pages: [][]*container.BlobItem{
		{blobItem("pre/a.txt", 5, "e1"), blobItem("pre/b.txt", 3, "e2")},
		{},
		{blobItem("pre/c.txt", 9, "e3")},
	}}
	it := &azureIterator{ctx: context.Background(), pager: pager}

	var keys []string
	for it.Next() {
		obj := it.Get()
		keys = append(keys, obj.Key)
		assert.NotEmpty(t, obj.ETag)
		assert.False(t, obj.IsDir)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"pre/a.txt", "pre/b.txt", "pre/c.txt"}, keys)
}

func TestAzureIteratorStripsETagQuotes(t *testing.T) {
	pager := &fakeBlobPager{pages: [][]*container.BlobItem{{blobItem("x", 1, "abc123")}}}
	it := &azureIterator{ctx: context.Background(), pager: pager}

	require.True(t, it.Next())
	assert.Equal(t, "abc123", it.Get().ETag)
	assert.Equal(t, int64(1), it.Get().Size)
}

func TestAzureIteratorRegexFilter(t *testing.T) {
	pager := &fakeBlobPager{pages: [][]*container.BlobItem{
		{blobItem("a.txt", 1, "e1"), blobItem("a.tmp", 1, "e2"), blobItem("b.txt", 1, "e3")},
	}}
	it := &azureIterator{
		ctx:   context.Background(),
		pager: pager,
		opts:  ListOptions{Regex: regexp.MustCompile(`\.txt$`)},
	}

	var keys []string
	for it.Next() {
		keys = append(keys, it.Get().Key)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"a.txt", "b.txt"}, keys)
}

func TestAzureIteratorListError(t *testing.T) {
	pager := &fakeBlobPager{pages: make([][]*container.BlobItem, 1), err: errors.New("network down")}
	it := &azureIterator{ctx: context.Background(), pager: pager}

	assert.False(t, it.Next())
	require.Error(t, it.Err())
	assert.Contains(t, it.Err().Error(), "network down")
}
