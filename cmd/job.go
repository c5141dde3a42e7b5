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
	"errors"
	"fmt"
	"strings"
	"time"

	"cloudops-toolkit/pkg/run"

	"github.com/spf13/cobra"
)

var (
	jobPool        string
	jobExistOk     bool
	monitorPoll    time.Duration
	monitorTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(jobCmd, taskCmd, monitorCmd)
	jobCmd.AddCommand(jobCreateCmd, jobDeleteCmd)
	taskCmd.AddCommand(taskAddCmd)

	jobCreateCmd.Flags().StringVarP(&jobPool, "pool", "p", "", "Pool the job runs on. Required.")
	jobCreateCmd.Flags().BoolVar(&jobExistOk, "exist-ok", false, "Succeed if the job already exists on the same pool.")
	_ = jobCreateCmd.MarkFlagRequired("pool")

	monitorCmd.Flags().DurationVar(&monitorPoll, "poll", 0, "Poll interval. Defaults to CLOUDOPS_POLL_INTERVAL.")
	monitorCmd.Flags().DurationVar(&monitorTimeout, "timeout", 0, "Give up after this long. Defaults to CLOUDOPS_MONITOR_TIMEOUT.")
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Create and delete jobs.",
}

var jobCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Creates a job on a pool.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := commandContext(cmd)
		defer stop()
		o, err := newOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		job, err := o.CreateJob(ctx, args[0], jobPool, jobExistOk)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s on pool %s has %d tasks\n", job.Name, job.Pool, len(job.Tasks()))
		return nil
	},
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Deletes a job and its tasks. Deleting a missing job succeeds.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := commandContext(cmd)
		defer stop()
		o, err := newOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		if err := o.DeleteJob(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", args[0])
		return nil
	},
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit tasks to jobs.",
}

var taskAddCmd = &cobra.Command{
	Use:   "add JOB COMMAND...",
	Short: "Submits a command line as a task of JOB.",
	Long: `Submits a command line as a task of JOB. Arguments after JOB are joined
with spaces; quote the command or put it after -- to keep its flags.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := commandContext(cmd)
		defer stop()
		o, err := newOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		task, err := o.AddTask(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s to job %s\n", task.ID, task.Job)
		return nil
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor JOB...",
	Short: "Waits until every task of the jobs has finished.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := commandContext(cmd)
		defer stop()
		o, err := newOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		poll, timeout := monitorPoll, monitorTimeout
		if poll <= 0 {
			poll = cfg.PollInterval
		}
		if timeout <= 0 {
			timeout = cfg.MonitorTimeout
		}
		results, err := o.MonitorJobs(ctx, args, poll, timeout)
		failed := 0
		for _, res := range results {
			if res == nil {
				continue
			}
			run.PrintSummary(cmd.OutOrStdout(), res)
			if !res.Succeeded() {
				failed++
			}
		}
		if failed > 0 {
			err = errors.Join(err, fmt.Errorf("%d of %d jobs did not succeed: %w", failed, len(args), run.ErrRunFailed))
		}
		return err
	},
}
