/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package objectstore fetches raw card-image bytes by key and presigns
// write slots for new uploads (spec.md §4.9). It is the only pipeline
// component that talks to the image bucket.
package objectstore

import (
	"bytes"
	"context"
	"io"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jordigilh/cardvault/internal/config"
	appErrors "github.com/jordigilh/cardvault/internal/errors"
)

// Reader is the Object Store Reader's public surface.
type Reader interface {
	// Get fetches the raw bytes stored at key.
	Get(ctx context.Context, key string) ([]byte, error)
	// PresignPut returns a URL the caller may PUT contentType bytes to,
	// valid for at most the configured presign TTL.
	PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (string, error)
	// Delete removes the object stored at key, used by the Store Gateway's
	// hard-delete path to purge orphaned image objects.
	Delete(ctx context.Context, key string) error
}

// Client is the S3-backed Reader implementation.
type Client struct {
	s3      *s3.Client
	presign *s3.PresignClient
	bucket  string
	upload  config.UploadConfig
}

// NewClient builds a Client against cfg's bucket/region, enforcing
// upload's size cap and MIME allowlist on every presign.
func NewClient(ctx context.Context, cfg config.ObjectStoreConfig, upload config.UploadConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, appErrors.New(appErrors.ErrorTypeValidation, "object store bucket must not be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "loading AWS config for object store")
	}

	s3Client := s3.NewFromConfig(awsCfg)
	return &Client{
		s3:      s3Client,
		presign: s3.NewPresignClient(s3Client),
		bucket:  cfg.Bucket,
		upload:  upload,
	}, nil
}

// Get fetches the raw bytes stored at key, rejecting objects larger than
// the configured upload cap even though they were accepted at write time
// (a defense against a bucket populated out-of-band).
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, appErrors.Wrapf(err, appErrors.ErrorTypeNetwork, "fetching object %q", key)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > c.upload.MaxSizeBytes {
		return nil, appErrors.Newf(appErrors.ErrorTypeInvalidContent,
			"object %q exceeds the maximum upload size (%d > %d bytes)", key, *out.ContentLength, c.upload.MaxSizeBytes)
	}

	limited := io.LimitReader(out.Body, c.upload.MaxSizeBytes+1)
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, limited); err != nil {
		return nil, appErrors.Wrapf(err, appErrors.ErrorTypeNetwork, "reading object %q", key)
	}
	if int64(buf.Len()) > c.upload.MaxSizeBytes {
		return nil, appErrors.Newf(appErrors.ErrorTypeInvalidContent,
			"object %q exceeds the maximum upload size of %d bytes", key, c.upload.MaxSizeBytes)
	}
	return buf.Bytes(), nil
}

// Delete removes the object stored at key.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		return appErrors.Wrapf(err, appErrors.ErrorTypeNetwork, "deleting object %q", key)
	}
	return nil
}

// PresignPut returns a URL valid for at most the configured presign TTL,
// rejecting disallowed MIME types and oversized declared sizes up front.
func (c *Client) PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (string, error) {
	if !c.mimeAllowed(contentType) {
		return "", appErrors.Newf(appErrors.ErrorTypeInvalidContent, "content type %q is not allowed", contentType)
	}
	if sizeBytes > c.upload.MaxSizeBytes {
		return "", appErrors.Newf(appErrors.ErrorTypeInvalidContent,
			"requested size %d exceeds the maximum upload size of %d bytes", sizeBytes, c.upload.MaxSizeBytes)
	}

	ttl := c.upload.PresignTTL
	if ttl <= 0 || ttl > 60*time.Second {
		ttl = 60 * time.Second
	}

	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        &c.bucket,
		Key:           &key,
		ContentType:   &contentType,
		ContentLength: &sizeBytes,
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", appErrors.Wrapf(err, appErrors.ErrorTypeNetwork, "presigning put for %q", key)
	}
	return req.URL, nil
}

func (c *Client) mimeAllowed(contentType string) bool {
	for _, allowed := range c.upload.AllowedMime {
		if allowed == contentType {
			return true
		}
	}
	return false
}
