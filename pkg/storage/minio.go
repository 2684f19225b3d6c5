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
package storage

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/zhengshuai-xiao/DSync/pkg/catalog"
)

// minioBackend serves minio:// URIs: any S3-compatible endpoint reached
// through the minio Core client.
type minioBackend struct {
	uri    *URI
	client *miniogo.Core
	secure bool
}

func newMinioBackend(uri *URI, creds catalog.Credentials, conf map[string]string) (Backend, error) {
	secure := uri.Params["secure"] == "true" || conf["secure"] == "true"
	core, err := miniogo.NewCore(uri.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(creds.AccessKeyID, creds.AccessKey, ""),
		Secure: secure,
		Region: creds.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init minio client for %s: %w", uri.Endpoint, err)
	}
	return &minioBackend{uri: uri, client: core, secure: secure}, nil
}

func (m *minioBackend) URI() *URI { return m.uri }

type minioIterator struct {
	ch   <-chan miniogo.ObjectInfo
	opts ListOptions
	cur  *ObjectInfo
	err  error
}

func (it *minioIterator) Next() bool {
	for obj := range it.ch {
		if obj.Err != nil {
			it.err = obj.Err
			return false
		}
		if it.opts.Regex != nil && !it.opts.Regex.MatchString(obj.Key) {
			continue
		}
		it.cur = &ObjectInfo{
			Key:   obj.Key,
			Size:  obj.Size,
			ETag:  strings.Trim(obj.ETag, "\""),
			IsDir: strings.HasSuffix(obj.Key, "/"),
		}
		return true
	}
	return false
}

func (it *minioIterator) Err() error       { return it.err }
func (it *minioIterator) Get() *ObjectInfo { return it.cur }

func (m *minioBackend) List(ctx context.Context, opts ListOptions) ObjectIterator {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = m.uri.Prefix
	}
	ch := m.client.Client.ListObjects(ctx, m.uri.Container, miniogo.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	return &minioIterator{ch: ch, opts: opts}
}

func (m *minioBackend) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	reader, info, _, err := m.client.GetObject(ctx, m.uri.Container, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return reader, &ObjectInfo{Key: key, Size: info.Size, ETag: strings.Trim(info.ETag, "\"")}, nil
}

func (m *minioBackend) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := m.client.PutObject(ctx, m.uri.Container, key, r, size, "", "", miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return strings.Trim(info.ETag, "\""), nil
}

// PutFile uploads a local file with precomputed MD5/SHA256 so the server
// verifies the payload end to end.
func (m *minioBackend) PutFile(ctx context.Context, key, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file[%s]: %w", localPath, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file[%s]: %w", localPath, err)
	}

	md5Hash, sha256Hash, err := calculateFileHashes(file)
	if err != nil {
		return "", fmt.Errorf("failed to calc hash: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return "", fmt.Errorf("failed to reset file pointer: %w", err)
	}

	contentType := "application/octet-stream"
	if mt, merr := mimetype.DetectFile(localPath); merr == nil {
		contentType = mt.String()
	}

	info, err := m.client.PutObject(ctx, m.uri.Container, key, file, fileInfo.Size(), md5Hash, sha256Hash,
		miniogo.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload file[%s]: %w", localPath, err)
	}
	return strings.Trim(info.ETag, "\""), nil
}

func (m *minioBackend) Delete(ctx context.Context, key string) error {
	err := m.client.Client.RemoveObject(ctx, m.uri.Container, key, miniogo.RemoveObjectOptions{})
	if err != nil && miniogo.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (m *minioBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.Client.StatObject(ctx, m.uri.Container, key, miniogo.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := miniogo.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat object %s: %w", key, err)
}

func (m *minioBackend) Region(ctx context.Context, creds catalog.Credentials) (string, error) {
	if creds.Region != "" {
		return creds.Region, nil
	}
	region, err := m.client.Client.GetBucketLocation(ctx, m.uri.Container)
	if err != nil {
		return "", fmt.Errorf("failed to resolve region for bucket %s: %w", m.uri.Container, err)
	}
	return region, nil
}

func (m *minioBackend) LinkBase(region string) string {
	scheme := "http"
	if m.secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, m.uri.Endpoint, m.uri.Container)
}

func (m *minioBackend) DataAuth(ctx context.Context, creds catalog.Credentials, access AccessType) error {
	return authByProbe(ctx, m, creds, access)
}

func calculateFileHashes(file *os.File) (md5Base64 string, sha256Hex string, err error) {
	md5Hasher := md5.New()
	sha256Hasher := sha256.New()

	multiWriter := io.MultiWriter(md5Hasher, sha256Hasher)
	if _, err := io.Copy(multiWriter, file); err != nil {
		return "", "", err
	}

	md5Base64 = base64.StdEncoding.EncodeToString(md5Hasher.Sum(nil))
	sha256Hex = hex.EncodeToString(sha256Hasher.Sum(nil))
	return md5Base64, sha256Hex, nil
}
