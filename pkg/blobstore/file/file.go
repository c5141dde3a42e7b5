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

// Package file stores containers as directories under a root directory.
// It backs local runs and tests.
package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cloudops-toolkit/pkg/blobstore"

	"github.com/spf13/afero"
)

// Config configures a file store.
type Config struct {
	// Root holds one directory per container.
	Root string

	// Fs defaults to the OS filesystem.
	Fs afero.Fs
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("file store root is required")
	}
	return nil
}

// Store implements blobstore.Store on an afero filesystem.
type Store struct {
	fs   afero.Fs
	root string
}

var _ blobstore.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fsys := cfg.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Store{fs: fsys, root: filepath.Clean(cfg.Root)}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) wrapError(op, container, key string, err error) error {
	switch {
	case os.IsNotExist(err) && key == "":
		err = fmt.Errorf("%w: %w", blobstore.ErrContainerNotFound, err)
	case os.IsNotExist(err):
		err = fmt.Errorf("%w: %w", blobstore.ErrNotFound, err)
	case os.IsPermission(err):
		err = fmt.Errorf("%w: %w", blobstore.ErrAccessDenied, err)
	}
	return &blobstore.StoreError{Op: op, Provider: blobstore.ProviderFile, Container: container, Key: key, Err: err}
}

// containerDir resolves a container, refusing names that escape the root.
func (s *Store) containerDir(container string) (string, error) {
	if container == "" || strings.ContainsAny(container, `/\`) || container == "." || container == ".." {
		return "", fmt.Errorf("invalid container name %q", container)
	}
	return filepath.Join(s.root, container), nil
}

func (s *Store) keyPath(container, key string) (string, error) {
	dir, err := s.containerDir(container)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash("/" + key))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(dir, clean), nil
}

func (s *Store) List(ctx context.Context, container, prefix string) ([]blobstore.Object, error) {
	dir, err := s.containerDir(container)
	if err != nil {
		return nil, s.wrapError("List", container, "", err)
	}
	if _, err := s.fs.Stat(dir); err != nil {
		return nil, s.wrapError("List", container, "", err)
	}
	prefix = strings.TrimPrefix(prefix, "/")

	var objects []blobstore.Object
	err = afero.Walk(s.fs, dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, blobstore.Object{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		}
		return nil
	})
	if err != nil {
		return nil, s.wrapError("List", container, "", err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *Store) Put(ctx context.Context, container, key string, body io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.containerDir(container)
	if err != nil {
		return s.wrapError("Put", container, key, err)
	}
	if _, err := s.fs.Stat(dir); err != nil {
		return s.wrapError("Put", container, "", err)
	}
	full, err := s.keyPath(container, key)
	if err != nil {
		return s.wrapError("Put", container, key, err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return s.wrapError("Put", container, key, err)
	}
	if size >= 0 {
		body = io.LimitReader(body, size)
	}
	if err := afero.WriteReader(s.fs, full, body); err != nil {
		return s.wrapError("Put", container, key, err)
	}
	return nil
}

// CreateContainer makes an empty container directory.
func (s *Store) CreateContainer(container string) error {
	dir, err := s.containerDir(container)
	if err != nil {
		return err
	}
	return s.fs.MkdirAll(dir, 0o755)
}
