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
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"cloudops-toolkit/pkg/blobstore"
	"cloudops-toolkit/pkg/orchestrator"

	"gopkg.in/yaml.v3"
)

// Spec is a run described in YAML:
//
//	pool:
//	  name: pool-a
//	  image: us-docker.pkg.dev/my-project/runner:latest
//	  vmSize: n2-standard-4
//	  mounts: ["input-test:inputs", "output-test:outputs"]
//	  maxAutoscaleNodes: 4
//	job:
//	  name: job-a
//	  existOk: true
//	tasks:
//	  - python main.py --seed 1
//	monitor:
//	  pollInterval: 10s
//	  timeout: 30m
type Spec struct {
	Pool    PoolSection    `yaml:"pool"`
	Job     JobSection     `yaml:"job"`
	Tasks   []string       `yaml:"tasks"`
	Image   *ImageSection  `yaml:"image,omitempty"`
	Inputs  []InputSection `yaml:"inputs,omitempty"`
	Monitor MonitorSection `yaml:"monitor,omitempty"`
}

type PoolSection struct {
	Name   string   `yaml:"name"`
	Image  string   `yaml:"image"`
	VMSize string   `yaml:"vmSize"`
	Mounts []string `yaml:"mounts"`

	// Nodes is a fixed pool size and defaults to 1. MaxAutoscaleNodes, when
	// set, makes the pool autoscale between MinAutoscaleNodes and it instead.
	Nodes             int `yaml:"nodes"`
	MinAutoscaleNodes int `yaml:"minAutoscaleNodes"`
	MaxAutoscaleNodes int `yaml:"maxAutoscaleNodes"`
}

type JobSection struct {
	Name    string `yaml:"name"`
	ExistOk bool   `yaml:"existOk"`
}

// ImageSection asks for the pool image to be built from a context on top
// of a base image before the pool is created.
type ImageSection struct {
	Base       string `yaml:"base"`
	Context    string `yaml:"context"`
	Repository string `yaml:"repository"`
	Tag        string `yaml:"tag"`
	Platform   string `yaml:"platform"`
	Workdir    string `yaml:"workdir"`
}

// InputSection stages a local directory into a storage container.
type InputSection struct {
	Dir       string `yaml:"dir"`
	Container string `yaml:"container"`
	Prefix    string `yaml:"prefix"`
}

type MonitorSection struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// LoadSpec reads and validates a run spec file.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run spec %s: %w", path, err)
	}
	return ParseSpec(data)
}

// ParseSpec decodes a run spec. Unknown fields are rejected.
func ParseSpec(data []byte) (*Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to parse run spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the fields the orchestrator cannot check itself. Pool
// sizing, names and commands are validated when the run creates them.
func (s *Spec) Validate() error {
	var errs []error
	if s.Pool.Name == "" {
		errs = append(errs, errors.New("pool.name is required"))
	}
	if s.Pool.Image == "" && s.Image == nil {
		errs = append(errs, errors.New("pool.image is required unless an image section builds one"))
	}
	if s.Image != nil && (s.Image.Base == "" || s.Image.Context == "") {
		errs = append(errs, errors.New("image.base and image.context are required to build an image"))
	}
	if _, err := blobstore.ParseMounts(s.Pool.Mounts); err != nil {
		errs = append(errs, fmt.Errorf("pool.mounts: %w", err))
	}
	for i, in := range s.Inputs {
		if in.Dir == "" || in.Container == "" {
			errs = append(errs, fmt.Errorf("inputs[%d]: dir and container are required", i))
		}
	}
	if s.Monitor.PollInterval < 0 || s.Monitor.Timeout < 0 {
		errs = append(errs, errors.New("monitor durations must not be negative"))
	}
	return errors.Join(errs...)
}

// PoolSpec converts the pool section. image overrides the section's image
// when non-empty.
func (s *Spec) PoolSpec(image string) (orchestrator.PoolSpec, error) {
	mounts, err := blobstore.ParseMounts(s.Pool.Mounts)
	if err != nil {
		return orchestrator.PoolSpec{}, err
	}
	if image == "" {
		image = s.Pool.Image
	}
	nodes := s.Pool.Nodes
	if nodes == 0 {
		nodes = 1
	}
	sizing := orchestrator.FixedSize(nodes)
	if s.Pool.MaxAutoscaleNodes > 0 {
		sizing = orchestrator.AutoscaleRange(s.Pool.MinAutoscaleNodes, s.Pool.MaxAutoscaleNodes)
	}
	return orchestrator.PoolSpec{
		Name:   s.Pool.Name,
		Image:  image,
		VMSize: s.Pool.VMSize,
		Mounts: mounts,
		Sizing: sizing,
	}, nil
}
