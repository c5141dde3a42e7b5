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

package run

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloudops-toolkit/pkg/orchestrator"

	"github.com/google/go-cmp/cmp"
)

const exampleSpec = `
pool:
  name: pool-a
  image: us-docker.pkg.dev/my-project/runner:latest
  vmSize: n2-standard-4
  mounts: ["input-test:inputs", "output-test"]
  maxAutoscaleNodes: 4
job:
  name: job-a
  existOk: true
tasks:
  - python main.py --seed 1
  - python main.py --seed 2
monitor:
  pollInterval: 5s
  timeout: 30m
`

func TestLoadSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(exampleSpec), 0o644); err != nil {
		t.Fatal(err)
	}
	spec, err := LoadSpec(path)
	if err != nil {
		t.Fatalf("LoadSpec failed: %v", err)
	}

	if !spec.Job.ExistOk || spec.Job.Name != "job-a" {
		t.Errorf("Expected job job-a with existOk, got %+v", spec.Job)
	}
	if len(spec.Tasks) != 2 {
		t.Errorf("Expected 2 tasks, got %d", len(spec.Tasks))
	}
	if spec.Monitor.PollInterval != 5*time.Second || spec.Monitor.Timeout != 30*time.Minute {
		t.Errorf("Expected 5s/30m monitor settings, got %+v", spec.Monitor)
	}

	pool, err := spec.PoolSpec("")
	if err != nil {
		t.Fatal(err)
	}
	want := orchestrator.PoolSpec{
		Name:   "pool-a",
		Image:  "us-docker.pkg.dev/my-project/runner:latest",
		VMSize: "n2-standard-4",
		Mounts: []orchestrator.Mount{
			{Container: "input-test", Path: "inputs"},
			{Container: "output-test", Path: "output-test"},
		},
		Sizing: orchestrator.AutoscaleRange(0, 4),
	}
	if diff := cmp.Diff(want, pool); diff != "" {
		t.Errorf("PoolSpec mismatch (-want +got):\n%s", diff)
	}

	built, err := spec.PoolSpec("registry.example.com/runner:abcd")
	if err != nil {
		t.Fatal(err)
	}
	if built.Image != "registry.example.com/runner:abcd" {
		t.Errorf("Expected the built image to override the spec, got %q", built.Image)
	}
}

func TestLoadSpecMissingFile(t *testing.T) {
	if _, err := LoadSpec(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Errorf("Expected an error for a missing spec file")
	}
}

func TestParseSpecErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "pool: {name: p, image: i, size: 3}\n"},
		{"missing pool name", "pool: {image: i}\n"},
		{"missing image", "pool: {name: p}\n"},
		{"incomplete build", "pool: {name: p}\nimage: {base: python:3.12-slim}\n"},
		{"bad mount", "pool: {name: p, image: i, mounts: [':inputs']}\n"},
		{"incomplete input", "pool: {name: p, image: i}\ninputs: [{dir: ./data}]\n"},
		{"negative timeout", "pool: {name: p, image: i}\nmonitor: {timeout: -1s}\n"},
		{"not yaml", "pool: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSpec([]byte(tt.yaml)); err == nil {
				t.Errorf("Expected an error, got nil")
			}
		})
	}
}

func TestPoolSpecDefaultsToOneNode(t *testing.T) {
	spec, err := ParseSpec([]byte("pool: {name: p, image: i}\n"))
	if err != nil {
		t.Fatal(err)
	}
	pool, err := spec.PoolSpec("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(orchestrator.FixedSize(1), pool.Sizing); diff != "" {
		t.Errorf("Sizing mismatch (-want +got):\n%s", diff)
	}
}
