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

package blobstore_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"cloudops-toolkit/pkg/blobstore"
	"cloudops-toolkit/pkg/blobstore/file"
	"cloudops-toolkit/pkg/orchestrator"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

func newMemStore(t *testing.T, containers ...string) (*file.Store, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	store, err := file.New(file.Config{Root: "/blobs", Fs: fsys})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range containers {
		if err := store.CreateContainer(c); err != nil {
			t.Fatal(err)
		}
	}
	return store, fsys
}

func keys(objects []blobstore.Object) []string {
	out := make([]string, 0, len(objects))
	for _, o := range objects {
		out = append(out, o.Key)
	}
	return out
}

func TestUploadDir(t *testing.T) {
	ctx := context.Background()
	store, fsys := newMemStore(t, "input-test")
	for name, content := range map[string]string{
		"/work/inputs/a.csv":        "1,2",
		"/work/inputs/nested/b.csv": "3,4",
		"/work/inputs/c.txt":        "hello",
	} {
		if err := afero.WriteFile(fsys, name, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := blobstore.UploadDir(ctx, store, fsys, "/work/inputs", "input-test", "staged", 2)
	if err != nil {
		t.Fatalf("UploadDir: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 uploads, got %d", n)
	}

	objects, err := store.List(ctx, "input-test", "staged/")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"staged/a.csv", "staged/c.txt", "staged/nested/b.csv"}
	if diff := cmp.Diff(want, keys(objects)); diff != "" {
		t.Errorf("uploaded keys mismatch (-want +got):\n%s", diff)
	}

	objects, err = store.List(ctx, "input-test", "staged/nested")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"staged/nested/b.csv"}, keys(objects)); diff != "" {
		t.Errorf("prefix filter mismatch (-want +got):\n%s", diff)
	}
	if objects[0].Size != 3 {
		t.Errorf("Expected size 3, got %d", objects[0].Size)
	}
}

type failingStore struct {
	blobstore.Store
	err error
}

func (f failingStore) Put(context.Context, string, string, io.Reader, int64) error {
	return f.err
}

func TestUploadDirStopsOnError(t *testing.T) {
	store, fsys := newMemStore(t, "input-test")
	if err := afero.WriteFile(fsys, "/work/a.csv", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("quota exceeded")
	_, err := blobstore.UploadDir(context.Background(), failingStore{store, boom}, fsys, "/work", "input-test", "", 1)
	if !errors.Is(err, boom) {
		t.Errorf("Expected %v, got %v", boom, err)
	}

	if _, err := blobstore.UploadDir(context.Background(), store, fsys, "/work/a.csv", "input-test", "", 1); err == nil {
		t.Errorf("Expected an error uploading a file as a directory")
	}
}

func TestFileStoreErrors(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemStore(t, "input-test")

	_, err := store.List(ctx, "missing", "")
	if !errors.Is(err, blobstore.ErrContainerNotFound) {
		t.Errorf("Expected ErrContainerNotFound, got %v", err)
	}
	var se *blobstore.StoreError
	if !errors.As(err, &se) || se.Provider != blobstore.ProviderFile || se.Op != "List" {
		t.Errorf("Expected a file List StoreError, got %#v", err)
	}
	if _, err := store.List(ctx, "../escape", ""); err == nil {
		t.Errorf("Expected an invalid container name to be refused")
	}
	if err := store.Put(ctx, "missing", "a", nil, 0); !blobstore.IsNotFound(err) {
		t.Errorf("Expected a not-found error putting into a missing container, got %v", err)
	}
}

func TestParseMounts(t *testing.T) {
	got, err := blobstore.ParseMounts([]string{"input-test:inputs", "output-test:/mnt/out", "scratch"})
	if err != nil {
		t.Fatal(err)
	}
	want := []orchestrator.Mount{
		{Container: "input-test", Path: "inputs"},
		{Container: "output-test", Path: "/mnt/out"},
		{Container: "scratch", Path: "scratch"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseMounts mismatch (-want +got):\n%s", diff)
	}
	for _, bad := range []string{"", ":inputs", "input-test:"} {
		if _, err := blobstore.ParseMount(bad); err == nil {
			t.Errorf("Expected an error for %q", bad)
		}
	}
}
