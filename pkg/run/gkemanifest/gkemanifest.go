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

// Package gkemanifest renders the Kubernetes objects a run would create so
// they can be reviewed or applied by other tooling.
package gkemanifest

import (
	"bytes"
	"fmt"
	"os"

	"cloudops-toolkit/pkg/logging"
	"cloudops-toolkit/pkg/orchestrator"
	"cloudops-toolkit/pkg/orchestrator/gke"

	"sigs.k8s.io/yaml"
)

// ManifestOptions describes one run's pool, job and tasks.
type ManifestOptions struct {
	Pool     orchestrator.PoolSpec
	JobName  string
	Commands []string
	Task     gke.Options
}

// GenerateGKEManifest renders a multi-document YAML manifest: the pool's
// namespace and quota, the job record, then one Job per task numbered the
// way the orchestrator numbers them.
func GenerateGKEManifest(opts ManifestOptions) (string, error) {
	if opts.JobName == "" {
		return "", fmt.Errorf("a job name is required")
	}
	ns, quota, err := gke.PoolObjects(opts.Pool)
	if err != nil {
		return "", fmt.Errorf("failed to render pool %q: %w", opts.Pool.Name, err)
	}
	job, err := gke.JobObject(opts.JobName, opts.Pool.Name)
	if err != nil {
		return "", fmt.Errorf("failed to render job %q: %w", opts.JobName, err)
	}
	objects := []any{ns, quota, job}
	for i, cmd := range opts.Commands {
		task := orchestrator.TaskSpec{ID: fmt.Sprintf("task-%d", i+1), CommandLine: cmd}
		obj, err := gke.TaskObject(opts.Pool, opts.JobName, task, opts.Task)
		if err != nil {
			return "", fmt.Errorf("failed to render %s: %w", task.ID, err)
		}
		objects = append(objects, obj)
	}

	var buf bytes.Buffer
	for i, obj := range objects {
		out, err := yaml.Marshal(obj)
		if err != nil {
			return "", fmt.Errorf("failed to marshal manifest document %d: %w", i, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(out)
	}
	return buf.String(), nil
}

// WriteManifest saves a rendered manifest.
func WriteManifest(path, content string) error {
	logging.Info("Saving GKE manifest to %s", path)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write GKE manifest to file %s: %w", path, err)
	}
	logging.Info("GKE manifest saved successfully.")
	return nil
}
