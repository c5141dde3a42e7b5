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

// Package blobstore abstracts the storage containers that pools mount: list
// what is in a container and stage local inputs into it.
//
// Providers use SDK default credential chains (AWS default config, GCP ADC)
// and must be safe for concurrent use.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Store is a blob storage service holding named containers (buckets).
type Store interface {
	// List returns every object in container whose key starts with prefix,
	// sorted by key.
	List(ctx context.Context, container, prefix string) ([]Object, error)

	// Put uploads size bytes from body to container/key.
	Put(ctx context.Context, container, key string, body io.Reader, size int64) error

	// Close releases any resources held by the store.
	Close() error
}

// Object is a listed blob.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ProviderType identifies a storage provider.
type ProviderType string

const (
	ProviderFile ProviderType = "file"
	ProviderS3   ProviderType = "s3"
	ProviderGCS  ProviderType = "gcs"
)

func (p ProviderType) String() string {
	return string(p)
}

var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrContainerNotFound indicates the container does not exist.
	ErrContainerNotFound = errors.New("container not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrThrottled indicates the request was rate limited by the provider.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates the storage service is unavailable.
	ErrUnavailable = errors.New("storage unavailable")
)

// StoreError wraps a provider failure with the operation and location.
type StoreError struct {
	Op        string
	Provider  ProviderType
	Container string
	Key       string
	Err       error
}

func (e *StoreError) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Provider, e.Op, e.Container, e.Key, e.Err)
	case e.Container != "":
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Container, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means a missing object or container.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrContainerNotFound)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}
