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

package cmd

import (
	"fmt"

	"cloudops-toolkit/pkg/imagebuilder"
	"cloudops-toolkit/pkg/logging"
	"cloudops-toolkit/pkg/orchestrator"
	"cloudops-toolkit/pkg/run"

	"github.com/spf13/cobra"
)

var (
	specFile        string
	poolName        string
	jobName         string
	dockerImage     string
	baseDockerImage string
	buildContext    string
	platform        string
	commandsToRun   []string
	mounts          []string
	vmSize          string
	nodes           int
	minNodes        int
	maxNodes        int
	existOk         bool
	keep            bool
	reusePool       bool
	outputManifest  string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&specFile, "spec", "s", "", "Path to a YAML run spec. Other flags fill in fields the spec leaves empty.")
	runCmd.Flags().StringVarP(&poolName, "pool", "p", "", "Name of the pool to create.")
	runCmd.Flags().StringVarP(&jobName, "job", "j", "", "Name of the job to create. Generated from the pool name if empty.")
	runCmd.Flags().StringVarP(&dockerImage, "docker-image", "i", "", "Pre-built container image the pool runs (e.g., my-project/my-image:tag).")
	runCmd.Flags().StringVar(&baseDockerImage, "base-docker-image", "", "Base image for Crane to build upon (e.g., python:3.12-slim). Requires --build-context.")
	runCmd.Flags().StringVarP(&buildContext, "build-context", "c", "", "Local directory or remote source packaged onto --base-docker-image.")
	runCmd.Flags().StringVarP(&platform, "platform", "f", string(imagebuilder.LinuxAMD64), "Target platform for the image build.")
	runCmd.Flags().StringArrayVarP(&commandsToRun, "command", "e", nil, "Command line to run as a task. Repeat for several tasks.")
	runCmd.Flags().StringSliceVar(&mounts, "mount", nil, "Storage mounts as container:path.")
	runCmd.Flags().StringVar(&vmSize, "vm-size", "", "Machine type of the pool's nodes (e.g., n2-standard-4).")
	runCmd.Flags().IntVar(&nodes, "nodes", 0, "Fixed pool size. Defaults to 1.")
	runCmd.Flags().IntVar(&minNodes, "min-nodes", 0, "Autoscale minimum, used with --max-nodes.")
	runCmd.Flags().IntVar(&maxNodes, "max-nodes", 0, "Autoscale maximum. Makes the pool autoscale.")
	runCmd.Flags().BoolVar(&existOk, "exist-ok", false, "Reuse the job if it already exists on the pool.")
	runCmd.Flags().BoolVar(&keep, "keep", false, "Leave the pool and job in place after the run.")
	runCmd.Flags().BoolVar(&reusePool, "reuse-pool", false, "Run on an existing pool of the same name instead of failing.")
	runCmd.Flags().StringVarP(&outputManifest, "output-manifest", "o", "", "Path to output the generated Kubernetes manifest instead of running.")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Creates a pool and job, runs tasks to completion and tears everything down.",
	Long: `The 'run' command creates a pool, creates a job on it, submits one task per
--command (or per entry of the spec's tasks list), monitors the job until every
task has finished or the monitor timeout elapses, and then deletes what it
created, also when monitoring fails or the run is interrupted.

The pool image can be pre-built (--docker-image) or built on the fly with
Crane (--base-docker-image with --build-context).`,
	RunE: runRunCmd,
}

// specFromFlags loads --spec, if given, and fills empty fields from flags.
func specFromFlags() (*run.Spec, error) {
	spec := &run.Spec{}
	if specFile != "" {
		loaded, err := run.LoadSpec(specFile)
		if err != nil {
			return nil, err
		}
		spec = loaded
	}

	if dockerImage != "" && baseDockerImage != "" {
		return nil, fmt.Errorf("cannot provide both --docker-image and --base-docker-image")
	}
	if dockerImage != "" && buildContext != "" {
		return nil, fmt.Errorf("--build-context cannot be provided when --docker-image is used as no build is performed")
	}
	if baseDockerImage != "" && buildContext == "" {
		return nil, fmt.Errorf("a --build-context must be provided when --base-docker-image is used for a Crane build")
	}

	setIfEmpty(&spec.Pool.Name, poolName)
	setIfEmpty(&spec.Pool.Image, dockerImage)
	setIfEmpty(&spec.Pool.VMSize, vmSize)
	setIfEmpty(&spec.Job.Name, jobName)
	if len(spec.Pool.Mounts) == 0 {
		spec.Pool.Mounts = mounts
	}
	if spec.Pool.Nodes == 0 {
		spec.Pool.Nodes = nodes
	}
	if spec.Pool.MaxAutoscaleNodes == 0 && maxNodes > 0 {
		spec.Pool.MinAutoscaleNodes, spec.Pool.MaxAutoscaleNodes = minNodes, maxNodes
	}
	spec.Job.ExistOk = spec.Job.ExistOk || existOk
	spec.Tasks = append(spec.Tasks, commandsToRun...)
	if spec.Image == nil && baseDockerImage != "" {
		spec.Image = &run.ImageSection{Base: baseDockerImage, Context: buildContext, Platform: platform}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if len(spec.Tasks) == 0 {
		return nil, fmt.Errorf("at least one --command (or spec task) is required")
	}
	return spec, nil
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	logging.Info("Executing cloudops run command...")
	spec, err := specFromFlags()
	if err != nil {
		return err
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	runner := run.Runner{Builder: &imagebuilder.Builder{}, Out: cmd.OutOrStdout()}
	if outputManifest == "" {
		o, err := newOrchestrator(ctx, cfg, orchestrator.WithPoolReuse(reusePool))
		if err != nil {
			return err
		}
		runner.Orchestrator = o
	}
	if len(spec.Inputs) > 0 {
		store, err := newBlobStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		runner.Store = store
	}

	_, err = run.ExecuteRun(ctx, runner, run.RunOptions{
		Spec:            spec,
		Registry:        cfg.Registry,
		OutputManifest:  outputManifest,
		Keep:            keep,
		PollInterval:    cfg.PollInterval,
		Timeout:         cfg.MonitorTimeout,
		TeardownTimeout: cfg.TeardownTimeout,
		Task:            taskOptions(cfg),
	})
	if err != nil {
		return fmt.Errorf("cloudops run failed: %w", err)
	}
	return nil
}
