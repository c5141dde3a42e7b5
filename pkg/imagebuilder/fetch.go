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

package imagebuilder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-getter"
	"github.com/sirupsen/logrus"
)

// IsRemoteContext reports whether src needs downloading before packaging.
func IsRemoteContext(src string) (bool, error) {
	pwd, err := os.Getwd()
	if err != nil {
		return false, err
	}
	detected, err := getter.Detect(src, pwd, getter.Detectors)
	if err != nil {
		return false, fmt.Errorf("unrecognized build context %q: %w", src, err)
	}
	return !strings.HasPrefix(detected, "file://"), nil
}

// FetchContext returns a local directory holding the build context. Local
// directories are used in place; remote sources are downloaded to a
// temporary directory that cleanup removes.
func FetchContext(ctx context.Context, src string) (dir string, cleanup func(), err error) {
	noop := func() {}
	remote, err := IsRemoteContext(src)
	if err != nil {
		return "", noop, err
	}
	if !remote {
		info, err := os.Stat(src)
		if err != nil {
			return "", noop, fmt.Errorf("failed to stat build context: %w", err)
		}
		if !info.IsDir() {
			return "", noop, fmt.Errorf("build context %q is not a directory", src)
		}
		return src, noop, nil
	}

	tmp, err := os.MkdirTemp("", "cloudops-context-*")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create download directory: %w", err)
	}
	cleanup = func() { os.RemoveAll(tmp) }
	dst := filepath.Join(tmp, "context")

	logrus.Infof("Downloading build context %s", src)
	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Mode: getter.ClientModeDir,
	}
	if err := client.Get(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to download build context %q: %w", src, err)
	}
	return dst, cleanup, nil
}
