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
	"fmt"
	"strings"

	"cloudops-toolkit/pkg/orchestrator"
)

// ParseMount reads a "container:path" mount descriptor. A bare container
// name mounts at a path of the same name.
func ParseMount(s string) (orchestrator.Mount, error) {
	container, p, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		p = container
	}
	if container == "" || p == "" {
		return orchestrator.Mount{}, fmt.Errorf("invalid mount %q, expected \"container:path\"", s)
	}
	return orchestrator.Mount{Container: container, Path: p}, nil
}

// ParseMounts parses each descriptor in order.
func ParseMounts(descriptors []string) ([]orchestrator.Mount, error) {
	mounts := make([]orchestrator.Mount, 0, len(descriptors))
	for _, d := range descriptors {
		m, err := ParseMount(d)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, m)
	}
	return mounts, nil
}
