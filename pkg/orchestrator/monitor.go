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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloudops-toolkit/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// MonitorJob polls the job's task states every pollInterval until every
// task is terminal. Once timeout has elapsed on the orchestrator's clock it
// returns ErrMonitorTimeout together with the last snapshot. Cancelling ctx
// stops the loop at the next suspend point.
func (o *JobOrchestrator) MonitorJob(ctx context.Context, jobName string, pollInterval, timeout time.Duration) (*MonitorResult, error) {
	const op = "MonitorJob"
	if pollInterval <= 0 {
		return nil, opError(op, jobName, ErrInvalidSpec, fmt.Errorf("poll interval must be positive, got %s", pollInterval))
	}
	if timeout <= 0 {
		return nil, opError(op, jobName, ErrInvalidSpec, fmt.Errorf("timeout must be positive, got %s", timeout))
	}

	job, err := o.lookupJob(ctx, op, jobName)
	if err != nil {
		return nil, err
	}

	if err := o.startMonitor(job); err != nil {
		return nil, opError(op, job.Name, ErrResourceConflict, err)
	}
	defer job.monitors.Add(-1)
	job.setState(JobMonitoring)

	logging.Info("Monitoring job %q (poll every %s, timeout %s)...", job.Name, pollInterval, timeout)
	start := o.clock.Now()
	polls := 0
	for {
		if err := o.poll(ctx, op, job); err != nil {
			job.setState(JobPending)
			return nil, err
		}
		polls++
		elapsed := o.clock.Since(start)

		if job.allTerminal() {
			job.setState(JobComplete)
			res := job.snapshot(elapsed, polls)
			logging.Info("Job %q complete after %s: %v", job.Name, elapsed, res.Counts())
			return res, nil
		}
		if elapsed >= timeout {
			job.setState(JobTimedOut)
			res := job.snapshot(elapsed, polls)
			logging.Warn("Job %q did not finish within %s: %v", job.Name, timeout, res.Counts())
			return res, opError(op, job.Name, ErrMonitorTimeout, fmt.Errorf("elapsed %s", elapsed))
		}

		wait := pollInterval
		if remaining := timeout - elapsed; remaining < wait {
			wait = remaining
		}
		timer := o.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			job.setState(JobPending)
			return nil, fmt.Errorf("%s %q: %w", op, job.Name, ctx.Err())
		case <-timer.C():
		}
	}
}

func (o *JobOrchestrator) poll(ctx context.Context, op string, job *Job) error {
	var states map[string]TaskState
	err := o.call(ctx, op, func(ctx context.Context) error {
		var pollErr error
		states, pollErr = o.client.TaskStates(ctx, job.Name)
		return pollErr
	})
	if err != nil {
		return o.translate(op, job.Name, err, ErrJobNotFound)
	}
	now := o.clock.Now()
	for _, id := range job.observe(states, now) {
		logging.Warn("Job %q: refused transition of %s to reported state %q", job.Name, id, states[id])
	}
	return nil
}

// MonitorJobs monitors several jobs at once. Results come back in the order
// of names; a job that failed to monitor has a nil result unless it timed
// out, and all errors are joined.
func (o *JobOrchestrator) MonitorJobs(ctx context.Context, names []string, pollInterval, timeout time.Duration) ([]*MonitorResult, error) {
	results := make([]*MonitorResult, len(names))
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for i, name := range names {
		g.Go(func() error {
			res, err := o.MonitorJob(ctx, name, pollInterval, timeout)
			results[i] = res
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}
