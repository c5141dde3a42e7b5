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

import "context"

// TaskSpec is a task as submitted to the remote system.
type TaskSpec struct {
	ID          string
	CommandLine string
}

// JobInfo describes a job that already exists remotely.
type JobInfo struct {
	Name  string
	Pool  string
	Tasks []TaskSpec
}

// BatchClient is the remote compute service: pool, job and task CRUD plus
// status queries. Implementations map their failures onto ErrNotFound,
// ErrAlreadyExists and ErrTransient and must be safe for concurrent use.
type BatchClient interface {
	// CreatePool provisions a pool. Returns ErrAlreadyExists if the name is taken.
	CreatePool(ctx context.Context, spec PoolSpec) error

	// GetPool returns the spec of an existing pool, or ErrNotFound.
	GetPool(ctx context.Context, name string) (*PoolSpec, error)

	// DeletePool removes a pool and anything still scheduled on it.
	// Returns ErrNotFound if the pool is absent.
	DeletePool(ctx context.Context, name string) error

	// CreateJob registers a job on a pool. Returns ErrNotFound if the pool is
	// absent and ErrAlreadyExists if the job name is taken.
	CreateJob(ctx context.Context, name, pool string) error

	// GetJob returns an existing job and its tasks, or ErrNotFound.
	GetJob(ctx context.Context, name string) (*JobInfo, error)

	// DeleteJob removes a job and its tasks. Returns ErrNotFound if absent.
	DeleteJob(ctx context.Context, name string) error

	// AddTask submits a task and returns once the service acknowledged it.
	AddTask(ctx context.Context, job string, task TaskSpec) error

	// TaskStates reports the current state of every task of a job.
	TaskStates(ctx context.Context, job string) (map[string]TaskState, error)
}
