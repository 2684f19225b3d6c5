package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/zhengshuai-xiao/DSync/pkg/catalog"
)

// s3Backend serves s3:// URIs through the AWS SDK.
type s3Backend struct {
	uri    *URI
	client *s3.Client
	region string
}

func newS3Backend(ctx context.Context, uri *URI, creds catalog.Credentials, conf map[string]string) (Backend, error) {
	region := creds.Region
	if region == "" {
		region = conf["region"]
	}
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if creds.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(creds.AccessKeyID, creds.AccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &s3Backend{uri: uri, client: s3.NewFromConfig(cfg), region: region}, nil
}

func (b *s3Backend) URI() *URI { return b.uri }

type s3Iterator struct {
	ctx   context.Context
	pager *s3.ListObjectsV2Paginator
	opts  ListOptions
	page  []types.Object
	pos   int
	cur   *ObjectInfo
	err   error
}

func (it *s3Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	for {
		for it.pos < len(it.page) {
			obj := it.page[it.pos]
			it.pos++
			key := aws.ToString(obj.Key)
			if it.opts.Regex != nil && !it.opts.Regex.MatchString(key) {
				continue
			}
			it.cur = &ObjectInfo{
				Key:   key,
				Size:  aws.ToInt64(obj.Size),
				ETag:  strings.Trim(aws.ToString(obj.ETag), "\""),
				IsDir: strings.HasSuffix(key, "/"),
			}
			return true
		}
		if !it.pager.HasMorePages() {
			return false
		}
		out, err := it.pager.NextPage(it.ctx)
		if err != nil {
			it.err = fmt.Errorf("failed to list objects: %w", err)
			return false
		}
		it.page = out.Contents
		it.pos = 0
	}
}

func (it *s3Iterator) Err() error       { return it.err }
func (it *s3Iterator) Get() *ObjectInfo { return it.cur }

func (b *s3Backend) List(ctx context.Context, opts ListOptions) ObjectIterator {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = b.uri.Prefix
	}
	pager := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.uri.Container),
		Prefix: aws.String(prefix),
	})
	return &s3Iterator{ctx: ctx, pager: pager, opts: opts}
}

func (b *s3Backend) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.uri.Container),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return out.Body, &ObjectInfo{
		Key:  key,
		Size: aws.ToInt64(out.ContentLength),
		ETag: strings.Trim(aws.ToString(out.ETag), "\""),
	}, nil
}

func (b *s3Backend) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.uri.Container),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	out, err := b.client.PutObject(ctx, in)
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return strings.Trim(aws.ToString(out.ETag), "\""), nil
}

func (b *s3Backend) PutFile(ctx context.Context, key, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file[%s]: %w", localPath, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file[%s]: %w", localPath, err)
	}
	contentType := "application/octet-stream"
	if mt, merr := mimetype.DetectFile(localPath); merr == nil {
		contentType = mt.String()
	}
	return b.Put(ctx, key, file, fileInfo.Size(), contentType)
}

func (b *s3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.uri.Container),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (b *s3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.uri.Container),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("failed to head object %s: %w", key, err)
}

func (b *s3Backend) Region(ctx context.Context, creds catalog.Credentials) (string, error) {
	if creds.Region != "" {
		return creds.Region, nil
	}
	out, err := b.client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{
		Bucket: aws.String(b.uri.Container),
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve region for bucket %s: %w", b.uri.Container, err)
	}
	region := string(out.LocationConstraint)
	if region == "" {
		region = "us-east-1" // LocationConstraint is empty for the default region
	}
	return region, nil
}

func (b *s3Backend) LinkBase(region string) string {
	if region == "" {
		region = b.region
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", b.uri.Container, region)
}

func (b *s3Backend) DataAuth(ctx context.Context, creds catalog.Credentials, access AccessType) error {
	return authByProbe(ctx, b, creds, access)
}
