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

// Package orchestrator manages the lifecycle of compute pools, the jobs
// scheduled onto them and the tasks those jobs run.
//
// The remote compute service is reached through a BatchClient; the
// orchestrator adds validation, a registry of known resources, retries with
// bounded backoff, completion polling and scoped cleanup on top of it.
package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// TaskState is the lifecycle state of a single task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether no further transition can happen from s.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// canTransition reports whether a task in state s may move to next.
// Tasks only move forward: queued -> running -> {succeeded, failed}.
func (s TaskState) canTransition(next TaskState) bool {
	if s == next || s.Terminal() {
		return false
	}
	switch next {
	case TaskRunning:
		return s == TaskQueued
	case TaskSucceeded, TaskFailed:
		return true
	default:
		return false
	}
}

// JobState is derived from monitoring activity on a job.
type JobState string

const (
	JobPending    JobState = "pending"
	JobMonitoring JobState = "monitoring"
	JobComplete   JobState = "complete"
	JobTimedOut   JobState = "timed-out"
)

// SizingPolicy describes how many nodes a pool runs: either a fixed count or
// an autoscale range.
type SizingPolicy struct {
	Autoscale  bool
	FixedNodes int
	MinNodes   int
	MaxNodes   int
}

// FixedSize returns a policy that keeps exactly n nodes.
func FixedSize(n int) SizingPolicy {
	return SizingPolicy{FixedNodes: n}
}

// AutoscaleRange returns a policy that scales between min and max nodes.
func AutoscaleRange(min, max int) SizingPolicy {
	return SizingPolicy{Autoscale: true, MinNodes: min, MaxNodes: max}
}

// Validate checks that the node counts are usable.
func (s SizingPolicy) Validate() error {
	if !s.Autoscale {
		if s.FixedNodes <= 0 {
			return fmt.Errorf("fixed node count must be positive, got %d", s.FixedNodes)
		}
		return nil
	}
	if s.MinNodes < 0 {
		return fmt.Errorf("autoscale minimum must not be negative, got %d", s.MinNodes)
	}
	if s.MaxNodes <= 0 {
		return fmt.Errorf("autoscale maximum must be positive, got %d", s.MaxNodes)
	}
	if s.MinNodes > s.MaxNodes {
		return fmt.Errorf("autoscale range is not monotonic: min %d > max %d", s.MinNodes, s.MaxNodes)
	}
	return nil
}

// NodeLimit is the largest number of nodes the policy allows.
func (s SizingPolicy) NodeLimit() int {
	if s.Autoscale {
		return s.MaxNodes
	}
	return s.FixedNodes
}

func (s SizingPolicy) String() string {
	if s.Autoscale {
		return fmt.Sprintf("autoscale(%d..%d)", s.MinNodes, s.MaxNodes)
	}
	return fmt.Sprintf("fixed(%d)", s.FixedNodes)
}

// Mount binds an external storage container to a path visible inside tasks.
type Mount struct {
	Container string
	Path      string
}

// PoolSpec is everything needed to create a pool.
type PoolSpec struct {
	Name   string
	Image  string
	VMSize string
	Mounts []Mount
	Sizing SizingPolicy
}

// Pool is a pool known to the orchestrator.
type Pool struct {
	PoolSpec
	CreatedAt time.Time
}

// Task is a snapshot of a single submitted command.
type Task struct {
	ID          string
	Job         string
	CommandLine string
	State       TaskState
	SubmittedAt time.Time
}

// Job is a named unit of work on a pool. Name and Pool never change; the task
// list and state are updated by AddTask and the monitor loop.
type Job struct {
	Name      string
	Pool      string
	CreatedAt time.Time

	mu     sync.Mutex
	state  JobState
	tasks  []*Task
	nextID int

	monitors atomic.Int32
}

func newJob(name, pool string, now time.Time) *Job {
	return &Job{Name: name, Pool: pool, CreatedAt: now, state: JobPending}
}

// State returns the current derived job state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Tasks returns a copy of the job's tasks in submission order.
func (j *Job) Tasks() []Task {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Task, 0, len(j.tasks))
	for _, t := range j.tasks {
		out = append(out, *t)
	}
	return out
}

// Monitoring reports whether a monitor loop is currently running on the job.
func (j *Job) Monitoring() bool {
	return j.monitors.Load() > 0
}

func (j *Job) setState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) reserveTaskID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextID++
	return fmt.Sprintf("task-%d", j.nextID)
}

func (j *Job) appendTask(t *Task) Task {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tasks = append(j.tasks, t)
	var n int
	if _, err := fmt.Sscanf(t.ID, "task-%d", &n); err == nil && n > j.nextID {
		j.nextID = n
	}
	return *t
}

// observe applies remotely reported states. It returns the ids of tasks
// whose reported state was refused because it would leave a terminal state
// or move backwards.
func (j *Job) observe(states map[string]TaskState, now time.Time) []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	known := make(map[string]bool, len(j.tasks))
	var refused []string
	for _, t := range j.tasks {
		known[t.ID] = true
		next, ok := states[t.ID]
		if !ok || next == t.State {
			continue
		}
		if t.State.canTransition(next) {
			t.State = next
		} else {
			refused = append(refused, t.ID)
		}
	}

	// Tasks submitted by another client still belong to the job.
	var extra []string
	for id := range states {
		if !known[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		j.tasks = append(j.tasks, &Task{ID: id, Job: j.Name, State: states[id], SubmittedAt: now})
	}
	return refused
}

func (j *Job) allTerminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, t := range j.tasks {
		if !t.State.Terminal() {
			return false
		}
	}
	return true
}

// TaskResult is one task's state inside a MonitorResult.
type TaskResult struct {
	ID          string
	CommandLine string
	State       TaskState
}

// MonitorResult is the snapshot taken when monitoring a job stops.
type MonitorResult struct {
	Job     string
	State   JobState
	Tasks   []TaskResult
	Elapsed time.Duration
	Polls   int
}

// States returns the task states keyed by job name, in submission order.
func (r *MonitorResult) States() map[string][]TaskState {
	states := make([]TaskState, 0, len(r.Tasks))
	for _, t := range r.Tasks {
		states = append(states, t.State)
	}
	return map[string][]TaskState{r.Job: states}
}

// Succeeded reports whether the job completed with every task succeeded.
func (r *MonitorResult) Succeeded() bool {
	if r.State != JobComplete {
		return false
	}
	for _, t := range r.Tasks {
		if t.State != TaskSucceeded {
			return false
		}
	}
	return true
}

// Counts tallies tasks per state.
func (r *MonitorResult) Counts() map[TaskState]int {
	counts := make(map[TaskState]int)
	for _, t := range r.Tasks {
		counts[t.State]++
	}
	return counts
}

func (j *Job) snapshot(elapsed time.Duration, polls int) *MonitorResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	res := &MonitorResult{Job: j.Name, State: j.state, Elapsed: elapsed, Polls: polls}
	for _, t := range j.tasks {
		res.Tasks = append(res.Tasks, TaskResult{ID: t.ID, CommandLine: t.CommandLine, State: t.State})
	}
	return res
}
