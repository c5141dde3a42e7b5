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
	"sync"
	"time"

	"cloudops-toolkit/pkg/logging"
)

// DefaultTeardownTimeout bounds how long Scope.Close may spend deleting.
const DefaultTeardownTimeout = 5 * time.Minute

// Scope tracks the pools and jobs created through it so that Close can tear
// them down, typically in a defer right after NewScope:
//
//	scope := orch.NewScope()
//	defer scope.Close(ctx)
//
// Resources that already existed and were merely reused are not tracked.
type Scope struct {
	o       *JobOrchestrator
	timeout time.Duration

	mu    sync.Mutex
	pools []string
	jobs  []string
}

// NewScope starts a cleanup scope bound to the orchestrator.
func (o *JobOrchestrator) NewScope() *Scope {
	return &Scope{o: o, timeout: DefaultTeardownTimeout}
}

// WithTeardownTimeout changes the Close deadline.
func (s *Scope) WithTeardownTimeout(d time.Duration) *Scope {
	s.timeout = d
	return s
}

// CreatePool creates a pool and schedules it for deletion on Close.
func (s *Scope) CreatePool(ctx context.Context, spec PoolSpec) (*Pool, error) {
	pool, created, err := s.o.createPool(ctx, spec)
	if err != nil {
		return nil, err
	}
	if created {
		s.mu.Lock()
		s.pools = append(s.pools, pool.Name)
		s.mu.Unlock()
	}
	return pool, nil
}

// CreateJob creates a job and schedules it for deletion on Close.
func (s *Scope) CreateJob(ctx context.Context, name, poolName string, existOk bool) (*Job, error) {
	job, created, err := s.o.createJob(ctx, name, poolName, existOk)
	if err != nil {
		return nil, err
	}
	if created {
		s.mu.Lock()
		s.jobs = append(s.jobs, job.Name)
		s.mu.Unlock()
	}
	return job, nil
}

// TrackJob adds a job that was not created through the scope to the
// teardown list.
func (s *Scope) TrackJob(name string) {
	s.mu.Lock()
	s.jobs = append(s.jobs, name)
	s.mu.Unlock()
}

// TrackPool is TrackJob for pools.
func (s *Scope) TrackPool(name string) {
	s.mu.Lock()
	s.pools = append(s.pools, name)
	s.mu.Unlock()
}

// Close deletes tracked jobs, newest first, then tracked pools. Every
// resource is attempted even if an earlier deletion fails; failures are
// logged and returned joined. Close runs on a context detached from ctx's
// cancellation so it still works after the run was interrupted.
func (s *Scope) Close(ctx context.Context) error {
	s.mu.Lock()
	jobs, pools := s.jobs, s.pools
	s.jobs, s.pools = nil, nil
	s.mu.Unlock()

	if len(jobs) == 0 && len(pools) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	var errs []error
	for i := len(jobs) - 1; i >= 0; i-- {
		if err := s.o.DeleteJob(ctx, jobs[i]); err != nil {
			logging.Error("Teardown: failed to delete job %q: %v", jobs[i], err)
			errs = append(errs, err)
		}
	}
	for i := len(pools) - 1; i >= 0; i-- {
		if err := s.o.deletePool(ctx, pools[i], true); err != nil {
			logging.Error("Teardown: failed to delete pool %q: %v", pools[i], err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
