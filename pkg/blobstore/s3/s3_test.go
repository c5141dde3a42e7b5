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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloudops-toolkit/pkg/blobstore"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "empty config", config: Config{}},
		{name: "explicit creds", config: Config{AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "secret"}},
		{
			name:    "access key without secret",
			config:  Config{AccessKeyID: "AKIAEXAMPLE"},
			wantErr: "both access key ID and secret access key must be provided together",
		},
		{
			name:    "secret without access key",
			config:  Config{SecretAccessKey: "secret"},
			wantErr: "both access key ID and secret access key must be provided together",
		},
		{
			name:    "negative page size",
			config:  Config{PageSize: -1},
			wantErr: "page size must not be negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveRegion(t *testing.T) {
	assert.Equal(t, "eu-west-1", resolveRegion("", "eu-west-1"))
	assert.Equal(t, DefaultAWSRegion, resolveRegion("", ""))
	assert.Equal(t, "", resolveRegion("http://localhost:9000", ""))
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"NoSuchKey", blobstore.ErrNotFound},
		{"NoSuchBucket", blobstore.ErrContainerNotFound},
		{"AccessDenied", blobstore.ErrAccessDenied},
		{"SignatureDoesNotMatch", blobstore.ErrInvalidCredentials},
		{"SlowDown", blobstore.ErrThrottled},
		{"ServiceUnavailable", blobstore.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			cause := &mockAPIError{code: tt.code, message: "test"}
			err := wrapError("List", "bucket", "", cause)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, cause)

			var se *blobstore.StoreError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "List", se.Op)
			assert.Equal(t, blobstore.ProviderS3, se.Provider)
		})
	}

	err := wrapError("Put", "bucket", "k", &mockAPIError{code: "Teapot"})
	assert.False(t, blobstore.IsNotFound(err))
	assert.False(t, blobstore.IsRetryable(err))
	assert.Contains(t, err.Error(), "s3 Put: bucket/k")
}

// fakeS3 answers path-style ListObjectsV2 and PutObject requests.
type fakeS3 struct {
	mu   sync.Mutex
	puts []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != "inputs" {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchBucket</Code><Message>missing</Message></Error>`)
		return
	}
	switch r.Method {
	case http.MethodPut:
		f.mu.Lock()
		f.puts = append(f.puts, key)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/xml")
		if r.URL.Query().Get("continuation-token") == "" {
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>inputs</Name><KeyCount>1</KeyCount><MaxKeys>1</MaxKeys><IsTruncated>true</IsTruncated><NextContinuationToken>page-2</NextContinuationToken><Contents><Key>data/a.csv</Key><Size>3</Size><LastModified>2026-01-01T00:00:00.000Z</LastModified></Contents></ListBucketResult>`)
			return
		}
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>inputs</Name><KeyCount>1</KeyCount><MaxKeys>1</MaxKeys><IsTruncated>false</IsTruncated><Contents><Key>data/b.csv</Key><Size>5</Size><LastModified>2026-01-02T00:00:00.000Z</LastModified></Contents></ListBucketResult>`)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: &srv.URL,
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("AKIAEXAMPLE", "secret", ""),
	})
	return NewFromClient(client, 1), fake
}

func TestListPaginates(t *testing.T) {
	store, _ := newFakeStore(t)
	objects, err := store.List(context.Background(), "inputs", "data/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "data/a.csv", objects[0].Key)
	assert.Equal(t, int64(3), objects[0].Size)
	assert.Equal(t, "data/b.csv", objects[1].Key)

	_, err = store.List(context.Background(), "missing", "")
	assert.ErrorIs(t, err, blobstore.ErrContainerNotFound)
}

func TestPut(t *testing.T) {
	store, fake := newFakeStore(t)
	err := store.Put(context.Background(), "inputs", "data/c.csv", strings.NewReader("a,b"), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"data/c.csv"}, fake.puts)
}
