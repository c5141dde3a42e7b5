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

package blobstore

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sync/atomic"

	"cloudops-toolkit/pkg/logging"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// DefaultUploadConcurrency bounds parallel Put calls in UploadDir.
const DefaultUploadConcurrency = 8

// UploadDir copies every regular file under dir on fsys to container,
// keyed by prefix plus its slash-separated path relative to dir. It returns
// the number of files uploaded; the first failure cancels the rest.
func UploadDir(ctx context.Context, store Store, fsys afero.Fs, dir, container, prefix string, concurrency int) (int, error) {
	if concurrency <= 0 {
		concurrency = DefaultUploadConcurrency
	}
	info, err := fsys.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to stat upload source: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("upload source %q is not a directory", dir)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	var uploaded atomic.Int64

	walkErr := afero.Walk(fsys, dir, func(p string, fi fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		size := fi.Size()
		g.Go(func() error {
			f, err := fsys.Open(p)
			if err != nil {
				return fmt.Errorf("failed to open %q: %w", p, err)
			}
			defer f.Close()
			if err := store.Put(ctx, container, key, f, size); err != nil {
				return err
			}
			logging.Debug("Uploaded %s to %s/%s", p, container, key)
			uploaded.Add(1)
			return nil
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return int(uploaded.Load()), err
	}
	if walkErr != nil {
		return int(uploaded.Load()), fmt.Errorf("failed to walk %q: %w", dir, walkErr)
	}
	return int(uploaded.Load()), nil
}
