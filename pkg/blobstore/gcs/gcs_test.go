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

package gcs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloudops-toolkit/pkg/blobstore"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing bucket", storage.ErrBucketNotExist, blobstore.ErrContainerNotFound},
		{"missing object", fmt.Errorf("read: %w", storage.ErrObjectNotExist), blobstore.ErrNotFound},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, blobstore.ErrAccessDenied},
		{"unauthenticated", &googleapi.Error{Code: http.StatusUnauthorized}, blobstore.ErrInvalidCredentials},
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, blobstore.ErrThrottled},
		{"unavailable", &googleapi.Error{Code: http.StatusServiceUnavailable}, blobstore.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapError("List", "inputs", "", tt.err)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("Expected the cause to be preserved in %v", err)
			}
		})
	}

	err := wrapError("Put", "inputs", "a.csv", &googleapi.Error{Code: http.StatusConflict})
	if blobstore.IsNotFound(err) || blobstore.IsRetryable(err) {
		t.Errorf("Expected a conflict to stay unclassified, got %v", err)
	}
	if got, want := err.Error(), "gcs Put: inputs/a.csv: "; len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("Expected message to start with %q, got %q", want, got)
	}
}
