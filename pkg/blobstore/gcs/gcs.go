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

// Package gcs implements blobstore.Store for Google Cloud Storage. These are
// the buckets GKE pools mount through the gcsfuse CSI driver.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloudops-toolkit/pkg/blobstore"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Config configures a GCS store.
type Config struct {
	// ProjectID is only needed for billing on requester-pays buckets.
	ProjectID string

	// Endpoint overrides the JSON API endpoint, e.g. for an emulator.
	Endpoint string

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string
}

// Store implements blobstore.Store on GCS.
type Store struct {
	client  *storage.Client
	project string
}

var _ blobstore.Store = (*Store)(nil)

func New(ctx context.Context, cfg Config) (*Store, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, &blobstore.StoreError{Op: "New", Provider: blobstore.ProviderGCS, Err: err}
	}
	return &Store{client: client, project: cfg.ProjectID}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) bucket(name string) *storage.BucketHandle {
	b := s.client.Bucket(name)
	if s.project != "" {
		b = b.UserProject(s.project)
	}
	return b
}

func (s *Store) List(ctx context.Context, container, prefix string) ([]blobstore.Object, error) {
	it := s.bucket(container).Objects(ctx, &storage.Query{Prefix: prefix})
	var objects []blobstore.Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapError("List", container, "", err)
		}
		objects = append(objects, blobstore.Object{Key: attrs.Name, Size: attrs.Size, LastModified: attrs.Updated})
	}
	return objects, nil
}

func (s *Store) Put(ctx context.Context, container, key string, body io.Reader, size int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket(container).Object(key).NewWriter(ctx)
	if size >= 0 {
		body = io.LimitReader(body, size)
	}
	if _, err := io.Copy(w, body); err != nil {
		// Cancelling before Close aborts the upload.
		cancel()
		_ = w.Close()
		return wrapError("Put", container, key, err)
	}
	if err := w.Close(); err != nil {
		return wrapError("Put", container, key, err)
	}
	return nil
}

func wrapError(op, bucket, key string, err error) error {
	wrapped := &blobstore.StoreError{Op: op, Provider: blobstore.ProviderGCS, Container: bucket, Key: key, Err: err}
	if kind := classify(err); kind != nil {
		wrapped.Err = fmt.Errorf("%w: %w", kind, err)
	}
	return wrapped
}

func classify(err error) error {
	switch {
	case errors.Is(err, storage.ErrBucketNotExist):
		return blobstore.ErrContainerNotFound
	case errors.Is(err, storage.ErrObjectNotExist):
		return blobstore.ErrNotFound
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return nil
	}
	switch gerr.Code {
	case http.StatusNotFound:
		return blobstore.ErrNotFound
	case http.StatusUnauthorized:
		return blobstore.ErrInvalidCredentials
	case http.StatusForbidden:
		return blobstore.ErrAccessDenied
	case http.StatusTooManyRequests:
		return blobstore.ErrThrottled
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return blobstore.ErrUnavailable
	}
	return nil
}
