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

// Package cmd defines the cloudops command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cloudops-toolkit/pkg/config"
	"cloudops-toolkit/pkg/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	envFile  string
	logLevel string
	backend  string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cloudops",
	Short: "Create batch pools, submit jobs and tasks, and monitor them to completion.",
	Long: `cloudops runs batch workloads on ephemeral compute pools. A run creates a
pool, creates a job on it, submits one task per command, waits until every
task has finished and then tears the pool and job down.

Settings come from a dotenv file (--env-file) and CLOUDOPS_* environment
variables; flags override both.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a dotenv file with CLOUDOPS_* settings.")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error). Overrides CLOUDOPS_LOG_LEVEL.")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Compute backend (gke or memory). Overrides CLOUDOPS_BACKEND.")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	v := config.New()
	if envFile != "" {
		if err := config.MergeEnvFile(v, envFile); err != nil {
			return err
		}
	}
	bindFlag(v.Set, cmd.Flags(), "log-level", config.KeyLogLevel)
	bindFlag(v.Set, cmd.Flags(), "backend", config.KeyBackend)

	loaded, err := config.FromViper(v)
	if err != nil {
		return err
	}
	if err := logging.SetLevel(loaded.LogLevel); err != nil {
		return err
	}
	cfg = loaded
	logging.Debug("Loaded configuration: %+v", cfg.Redacted())
	return nil
}

// bindFlag copies a flag's value into key when the flag was set explicitly
// to a non-empty value.
func bindFlag(set func(string, any), flags *pflag.FlagSet, name, key string) {
	f := flags.Lookup(name)
	if f == nil || !f.Changed || f.Value.String() == "" {
		return
	}
	set(key, f.Value.String())
}

// commandContext is cancelled on SIGINT or SIGTERM so teardown can run.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logging.Error("%v", err)
		os.Exit(1)
	}
}
