// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloudops-toolkit/pkg/blobstore"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Store implements blobstore.Store on S3.
type Store struct {
	client   *s3.Client
	pageSize int
}

var _ blobstore.Store = (*Store)(nil)

// New loads AWS configuration and returns a store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &blobstore.StoreError{Op: "New", Provider: blobstore.ProviderS3, Err: err}
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewFromClient(client, cfg.PageSize), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *s3.Client, pageSize int) *Store {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}
	return &Store{client: client, pageSize: pageSize}
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// resolveRegion keeps whatever the SDK resolved and only defaults plain AWS.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}

func (s *Store) Close() error { return nil }

func (s *Store) List(ctx context.Context, container, prefix string) ([]blobstore.Object, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(container),
		MaxKeys: aws.Int32(int32(s.pageSize)),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var objects []blobstore.Object
	pages := s3.NewListObjectsV2Paginator(s.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, wrapError("List", container, "", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, blobstore.Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

func (s *Store) Put(ctx context.Context, container, key string, body io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return wrapError("Put", container, key, err)
	}
	return nil
}

// wrapError maps S3 failures onto blobstore sentinels, keeping the cause.
func wrapError(op, bucket, key string, err error) error {
	wrapped := &blobstore.StoreError{Op: op, Provider: blobstore.ProviderS3, Container: bucket, Key: key, Err: err}
	if kind := classify(err); kind != nil {
		wrapped.Err = fmt.Errorf("%w: %w", kind, err)
	}
	return wrapped
}

func classify(err error) error {
	var (
		notFound     *types.NotFound
		noSuchKey    *types.NoSuchKey
		noSuchBucket *types.NoSuchBucket
	)
	switch {
	case errors.As(err, &noSuchBucket):
		return blobstore.ErrContainerNotFound
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		return blobstore.ErrNotFound
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return blobstore.ErrNotFound
	case "NoSuchBucket":
		return blobstore.ErrContainerNotFound
	case "AccessDenied", "Forbidden":
		return blobstore.ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return blobstore.ErrInvalidCredentials
	case "SlowDown", "Throttling", "RequestLimitExceeded":
		return blobstore.ErrThrottled
	case "ServiceUnavailable", "InternalError":
		return blobstore.ErrUnavailable
	}
	return nil
}
