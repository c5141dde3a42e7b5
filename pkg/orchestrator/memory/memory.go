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

// Package memory is an in-process BatchClient. Tasks advance through a
// scripted sequence of states, one step per status query, which makes it
// usable both for tests and for dry runs of a workflow.
package memory

import (
	"context"
	"fmt"
	"sync"

	"cloudops-toolkit/pkg/orchestrator"
)

// Operation names accepted by FailNext and Calls.
const (
	OpCreatePool = "CreatePool"
	OpGetPool    = "GetPool"
	OpDeletePool = "DeletePool"
	OpCreateJob  = "CreateJob"
	OpGetJob     = "GetJob"
	OpDeleteJob  = "DeleteJob"
	OpAddTask    = "AddTask"
	OpTaskStates = "TaskStates"
)

// Script returns the states a task reports on successive status queries.
// The last state repeats once the sequence is exhausted.
type Script func(job string, task orchestrator.TaskSpec) []orchestrator.TaskState

// DefaultScript reports queued, then running, then succeeded.
func DefaultScript(string, orchestrator.TaskSpec) []orchestrator.TaskState {
	return []orchestrator.TaskState{orchestrator.TaskQueued, orchestrator.TaskRunning, orchestrator.TaskSucceeded}
}

type task struct {
	spec   orchestrator.TaskSpec
	script []orchestrator.TaskState
	polls  int
}

type job struct {
	pool  string
	tasks []*task
}

// Backend implements orchestrator.BatchClient in memory.
type Backend struct {
	mu       sync.Mutex
	script   Script
	pools    map[string]orchestrator.PoolSpec
	jobs     map[string]*job
	calls    map[string]int
	failures map[string][]error
}

var _ orchestrator.BatchClient = (*Backend)(nil)

// New creates an empty backend. A nil script means DefaultScript.
func New(script Script) *Backend {
	if script == nil {
		script = DefaultScript
	}
	return &Backend{
		script:   script,
		pools:    make(map[string]orchestrator.PoolSpec),
		jobs:     make(map[string]*job),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

// FailNext makes the next len(errs) calls of op return errs in order.
func (b *Backend) FailNext(op string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = append(b.failures[op], errs...)
}

// Calls returns how many times op was invoked, including failed calls.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// HasPool reports whether the pool currently exists.
func (b *Backend) HasPool(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pools[name]
	return ok
}

// HasJob reports whether the job currently exists.
func (b *Backend) HasJob(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.jobs[name]
	return ok
}

// TaskCount returns the number of tasks submitted to a job.
func (b *Backend) TaskCount(jobName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[jobName]; ok {
		return len(j.tasks)
	}
	return 0
}

// enter records a call and pops an injected failure. Callers hold b.mu.
func (b *Backend) enter(ctx context.Context, op string) error {
	b.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if queue := b.failures[op]; len(queue) > 0 {
		b.failures[op] = queue[1:]
		return queue[0]
	}
	return nil
}

func notFound(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, orchestrator.ErrNotFound)
}

func exists(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, orchestrator.ErrAlreadyExists)
}

func (b *Backend) CreatePool(ctx context.Context, spec orchestrator.PoolSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, OpCreatePool); err != nil {
		return err
	}
	if _, ok := b.pools[spec.Name]; ok {
		return exists("pool", spec.Name)
	}
	spec.Mounts = append([]orchestrator.Mount(nil), spec.Mounts...)
	b.pools[spec.Name] = spec
	return nil
}

func (b *Backend) GetPool(ctx context.Context, name string) (*orchestrator.PoolSpec, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, OpGetPool); err != nil {
		return nil, err
	}
	spec, ok := b.pools[name]
	if !ok {
		return nil, notFound("pool", name)
	}
	return &spec, nil
}

// DeletePool also removes every job on the pool.
func (b *Backend) DeletePool(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, OpDeletePool); err != nil {
		return err
	}
	if _, ok := b.pools[name]; !ok {
		return notFound("pool", name)
	}
	delete(b.pools, name)
	for jn, j := range b.jobs {
		if j.pool == name {
			delete(b.jobs, jn)
		}
	}
	return nil
}

func (b *Backend) CreateJob(ctx context.Context, name, pool string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, OpCreateJob); err != nil {
		return err
	}
	if _, ok := b.pools[pool]; !ok {
		return notFound("pool", pool)
	}
	if _, ok := b.jobs[name]; ok {
		return exists("job", name)
	}
	b.jobs[name] = &job{pool: pool}
	return nil
}

func (b *Backend) GetJob(ctx context.Context, name string) (*orchestrator.JobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, OpGetJob); err != nil {
		return nil, err
	}
	j, ok := b.jobs[name]
	if !ok {
		return nil, notFound("job", name)
	}
	info := &orchestrator.JobInfo{Name: name, Pool: j.pool}
	for _, t := range j.tasks {
		info.Tasks = append(info.Tasks, t.spec)
	}
	return info, nil
}

func (b *Backend) DeleteJob(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, OpDeleteJob); err != nil {
		return err
	}
	if _, ok := b.jobs[name]; !ok {
		return notFound("job", name)
	}
	delete(b.jobs, name)
	return nil
}

func (b *Backend) AddTask(ctx context.Context, jobName string, spec orchestrator.TaskSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, OpAddTask); err != nil {
		return err
	}
	j, ok := b.jobs[jobName]
	if !ok {
		return notFound("job", jobName)
	}
	for _, t := range j.tasks {
		if t.spec.ID == spec.ID {
			return exists("task", spec.ID)
		}
	}
	script := b.script(jobName, spec)
	if len(script) == 0 {
		script = DefaultScript(jobName, spec)
	}
	j.tasks = append(j.tasks, &task{spec: spec, script: script})
	return nil
}

// TaskStates advances every task of the job by one scripted step.
func (b *Backend) TaskStates(ctx context.Context, jobName string) (map[string]orchestrator.TaskState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, OpTaskStates); err != nil {
		return nil, err
	}
	j, ok := b.jobs[jobName]
	if !ok {
		return nil, notFound("job", jobName)
	}
	states := make(map[string]orchestrator.TaskState, len(j.tasks))
	for _, t := range j.tasks {
		idx := t.polls
		if idx >= len(t.script) {
			idx = len(t.script) - 1
		}
		states[t.spec.ID] = t.script[idx]
		t.polls++
	}
	return states, nil
}
