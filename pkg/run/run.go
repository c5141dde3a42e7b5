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

// Package run drives a whole batch run: optional image build and input
// staging, then pool, job and tasks, monitoring, and teardown.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"cloudops-toolkit/pkg/blobstore"
	"cloudops-toolkit/pkg/imagebuilder"
	"cloudops-toolkit/pkg/logging"
	"cloudops-toolkit/pkg/orchestrator"
	"cloudops-toolkit/pkg/orchestrator/gke"
	"cloudops-toolkit/pkg/run/gkemanifest"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrRunFailed is returned when monitoring finished but not every task
// succeeded.
var ErrRunFailed = errors.New("run did not succeed")

const (
	DefaultPollInterval = 10 * time.Second
	DefaultTimeout      = time.Hour
)

// Runner holds the clients a run uses. Builder and Store are only needed
// when the spec builds an image or stages inputs.
type Runner struct {
	Orchestrator *orchestrator.JobOrchestrator
	Builder      *imagebuilder.Builder
	Store        blobstore.Store
	Fs           afero.Fs
	Out          io.Writer
}

// RunOptions holds the parameters of one run that do not come from the
// spec file.
type RunOptions struct {
	Spec *Spec

	// Registry receives built images.
	Registry string

	// OutputManifest, if set, saves the rendered Kubernetes objects here
	// instead of creating anything.
	OutputManifest string

	// Keep leaves the pool and job in place after monitoring.
	Keep bool

	// PollInterval and Timeout apply when the spec does not set them.
	PollInterval      time.Duration
	Timeout           time.Duration
	TeardownTimeout   time.Duration
	UploadConcurrency int

	Task gke.Options
}

// GenerateName returns a DNS-label-safe name with a random suffix.
func GenerateName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

// ExecuteRun runs opts.Spec end to end. Resources the run created are torn
// down before it returns, even when monitoring fails or ctx is cancelled,
// unless opts.Keep is set. The monitor result is returned whenever
// monitoring ran, also alongside an error.
func ExecuteRun(ctx context.Context, r Runner, opts RunOptions) (_ *orchestrator.MonitorResult, err error) {
	spec := opts.Spec
	if spec == nil {
		return nil, errors.New("a run spec is required")
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run spec: %w", err)
	}
	logging.Info("Starting cloudops run workflow...")

	jobName := spec.Job.Name
	if jobName == "" {
		jobName = GenerateName(spec.Pool.Name)
		logging.Info("No job name given, using %q", jobName)
	}

	image, err := r.buildImage(ctx, spec, opts.Registry)
	if err != nil {
		return nil, err
	}
	pool, err := spec.PoolSpec(image)
	if err != nil {
		return nil, fmt.Errorf("invalid pool section: %w", err)
	}

	if opts.OutputManifest != "" {
		manifest, err := gkemanifest.GenerateGKEManifest(gkemanifest.ManifestOptions{
			Pool:     pool,
			JobName:  jobName,
			Commands: spec.Tasks,
			Task:     opts.Task,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate GKE manifest: %w", err)
		}
		return nil, gkemanifest.WriteManifest(opts.OutputManifest, manifest)
	}

	if err := r.stageInputs(ctx, spec.Inputs, opts.UploadConcurrency); err != nil {
		return nil, err
	}

	if r.Orchestrator == nil {
		return nil, errors.New("an orchestrator is required")
	}
	scope := r.Orchestrator.NewScope()
	if opts.TeardownTimeout > 0 {
		scope.WithTeardownTimeout(opts.TeardownTimeout)
	}
	defer func() {
		if opts.Keep {
			logging.Info("Keeping pool %q and job %q", pool.Name, jobName)
			return
		}
		logging.Info("Tearing down run resources...")
		if cerr := scope.Close(ctx); cerr != nil {
			err = errors.Join(err, fmt.Errorf("teardown: %w", cerr))
		}
	}()

	if _, err := scope.CreatePool(ctx, pool); err != nil {
		return nil, err
	}
	if _, err := scope.CreateJob(ctx, jobName, pool.Name, spec.Job.ExistOk); err != nil {
		return nil, err
	}
	for _, cmd := range spec.Tasks {
		if _, err := r.Orchestrator.AddTask(ctx, jobName, cmd); err != nil {
			return nil, err
		}
	}

	poll, timeout := spec.Monitor.PollInterval, spec.Monitor.Timeout
	if poll == 0 {
		poll = withDefault(opts.PollInterval, DefaultPollInterval)
	}
	if timeout == 0 {
		timeout = withDefault(opts.Timeout, DefaultTimeout)
	}
	res, err := r.Orchestrator.MonitorJob(ctx, jobName, poll, timeout)
	if res != nil && r.Out != nil {
		PrintSummary(r.Out, res)
	}
	if err != nil {
		return res, err
	}
	if !res.Succeeded() {
		counts := res.Counts()
		return res, fmt.Errorf("job %q ended %s with %d of %d tasks failed: %w",
			jobName, res.State, counts[orchestrator.TaskFailed], len(res.Tasks), ErrRunFailed)
	}
	logging.Info("cloudops run completed successfully.")
	return res, nil
}

func withDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func (r Runner) buildImage(ctx context.Context, spec *Spec, registry string) (string, error) {
	if spec.Image == nil {
		return "", nil
	}
	if r.Builder == nil {
		return "", errors.New("the run spec builds an image but no image builder is configured")
	}
	img := spec.Image
	logging.Info("Building image from %s on top of %s", img.Context, img.Base)
	ref, err := r.Builder.Build(ctx, imagebuilder.Options{
		BaseImage:  img.Base,
		Context:    img.Context,
		Registry:   registry,
		Repository: img.Repository,
		Tag:        img.Tag,
		Platform:   img.Platform,
		Workdir:    img.Workdir,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	logging.Info("Using image %s", ref)
	return ref, nil
}

func (r Runner) stageInputs(ctx context.Context, inputs []InputSection, concurrency int) error {
	if len(inputs) == 0 {
		return nil
	}
	if r.Store == nil {
		return errors.New("the run spec stages inputs but no blob store is configured")
	}
	fsys := r.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	for _, in := range inputs {
		n, err := blobstore.UploadDir(ctx, r.Store, fsys, in.Dir, in.Container, in.Prefix, concurrency)
		if err != nil {
			return fmt.Errorf("failed to stage %s into %s: %w", in.Dir, in.Container, err)
		}
		logging.Info("Staged %d files from %s into %s", n, in.Dir, in.Container)
	}
	return nil
}

// PrintSummary writes a per-task table and per-state totals of res.
func PrintSummary(w io.Writer, res *orchestrator.MonitorResult) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Job %s: %s after %s (%d polls)\n", res.Job, res.State, res.Elapsed.Round(time.Second), res.Polls)
	for _, t := range res.Tasks {
		fmt.Fprintf(w, "  %-10s %s  %s\n", t.ID, stateColor(t.State).Sprint(t.State), t.CommandLine)
	}
	counts := res.Counts()
	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, string(s))
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Fprintf(w, "  %s: %d\n", s, counts[orchestrator.TaskState(s)])
	}
}

func stateColor(s orchestrator.TaskState) *color.Color {
	switch s {
	case orchestrator.TaskSucceeded:
		return color.New(color.FgGreen)
	case orchestrator.TaskFailed:
		return color.New(color.FgRed)
	case orchestrator.TaskRunning:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgYellow)
	}
}
