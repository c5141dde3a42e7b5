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
	"path"
	"sort"
	"strings"
	"sync"

	"cloudops-toolkit/pkg/logging"

	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

// PoolDeletePolicy decides what DeletePool does with jobs still registered
// on the pool.
type PoolDeletePolicy int

const (
	// PoolDeleteReject refuses to delete a pool that has registered jobs.
	PoolDeleteReject PoolDeletePolicy = iota
	// PoolDeleteCascade deletes the pool's jobs first.
	PoolDeleteCascade
)

// JobOrchestrator owns the pools and jobs of a run. Create one per run with
// New and pass it explicitly; it is safe for concurrent use.
type JobOrchestrator struct {
	client       BatchClient
	clock        clock.Clock
	backoff      wait.Backoff
	limiter      *rate.Limiter
	reusePools   bool
	deletePolicy PoolDeletePolicy

	mu    sync.RWMutex
	pools map[string]*Pool
	jobs  map[string]*Job
	// deleting counts DeletePool calls in flight per pool.
	deleting map[string]int
}

// Option configures a JobOrchestrator.
type Option func(*JobOrchestrator)

// WithClock replaces the wall clock used by the monitor loop.
func WithClock(c clock.Clock) Option {
	return func(o *JobOrchestrator) { o.clock = c }
}

// WithBackoff sets the retry policy for transient remote errors. Steps is
// the total number of attempts and is raised to 1 if lower.
func WithBackoff(b wait.Backoff) Option {
	return func(o *JobOrchestrator) {
		if b.Steps < 1 {
			b.Steps = 1
		}
		o.backoff = b
	}
}

// WithRateLimit caps remote calls per second. Zero or less disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *JobOrchestrator) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithPoolReuse lets CreatePool return an existing pool instead of failing
// with ErrResourceConflict.
func WithPoolReuse(reuse bool) Option {
	return func(o *JobOrchestrator) { o.reusePools = reuse }
}

// WithPoolDeletePolicy sets how DeletePool treats jobs still on the pool.
func WithPoolDeletePolicy(p PoolDeletePolicy) Option {
	return func(o *JobOrchestrator) { o.deletePolicy = p }
}

// New creates an orchestrator on top of client.
func New(client BatchClient, opts ...Option) *JobOrchestrator {
	o := &JobOrchestrator{
		client:   client,
		clock:    clock.RealClock{},
		backoff:  DefaultBackoff(),
		pools:    make(map[string]*Pool),
		jobs:     make(map[string]*Job),
		deleting: make(map[string]int),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreatePool validates spec and provisions the pool remotely.
func (o *JobOrchestrator) CreatePool(ctx context.Context, spec PoolSpec) (*Pool, error) {
	pool, _, err := o.createPool(ctx, spec)
	return pool, err
}

func (o *JobOrchestrator) createPool(ctx context.Context, spec PoolSpec) (*Pool, bool, error) {
	const op = "CreatePool"
	spec.Name = strings.TrimSpace(spec.Name)
	if err := validatePoolSpec(spec); err != nil {
		return nil, false, opError(op, spec.Name, ErrInvalidSpec, err)
	}
	if err := spec.Sizing.Validate(); err != nil {
		return nil, false, opError(op, spec.Name, ErrInvalidSizing, err)
	}

	if existing := o.Pool(spec.Name); existing != nil {
		if o.reusePools {
			logging.Info("Reusing registered pool %q", spec.Name)
			return existing, false, nil
		}
		return nil, false, opError(op, spec.Name, ErrResourceConflict, errors.New("pool is already registered"))
	}

	logging.Info("Creating pool %q (%s, image %s)...", spec.Name, spec.Sizing, spec.Image)
	err := o.call(ctx, op, func(ctx context.Context) error {
		return o.client.CreatePool(ctx, spec)
	})
	created := true
	switch {
	case errors.Is(err, ErrAlreadyExists):
		if !o.reusePools {
			return nil, false, opError(op, spec.Name, ErrResourceConflict, err)
		}
		var remote *PoolSpec
		err = o.call(ctx, op, func(ctx context.Context) error {
			var getErr error
			remote, getErr = o.client.GetPool(ctx, spec.Name)
			return getErr
		})
		if err != nil {
			return nil, false, o.translate(op, spec.Name, err, ErrPoolNotFound)
		}
		logging.Info("Pool %q already exists remotely, reusing it", spec.Name)
		spec = *remote
		created = false
	case err != nil:
		return nil, false, o.translate(op, spec.Name, err, ErrPoolNotFound)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.pools[spec.Name]; ok {
		if o.reusePools {
			return existing, false, nil
		}
		return nil, false, opError(op, spec.Name, ErrResourceConflict, errors.New("pool registered concurrently"))
	}
	pool := &Pool{PoolSpec: spec, CreatedAt: o.clock.Now()}
	o.pools[spec.Name] = pool
	if created {
		logging.Info("Pool %q created.", spec.Name)
	}
	return pool, created, nil
}

func validatePoolSpec(spec PoolSpec) error {
	if spec.Name == "" {
		return errors.New("pool name is required")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return errors.New("container image reference is required")
	}
	seen := make(map[string]bool, len(spec.Mounts))
	for _, m := range spec.Mounts {
		if strings.TrimSpace(m.Container) == "" || strings.TrimSpace(m.Path) == "" {
			return fmt.Errorf("mount %q -> %q needs both a container and a path", m.Container, m.Path)
		}
		p := path.Clean("/" + m.Path)
		if seen[p] {
			return fmt.Errorf("mount path %q is used more than once", p)
		}
		seen[p] = true
	}
	return nil
}

// CreateJob registers a job on poolName. With existOk an existing job on
// the same pool is returned as is.
func (o *JobOrchestrator) CreateJob(ctx context.Context, name, poolName string, existOk bool) (*Job, error) {
	job, _, err := o.createJob(ctx, name, poolName, existOk)
	return job, err
}

func (o *JobOrchestrator) createJob(ctx context.Context, name, poolName string, existOk bool) (*Job, bool, error) {
	const op = "CreateJob"
	name, poolName = strings.TrimSpace(name), strings.TrimSpace(poolName)
	if name == "" {
		return nil, false, opError(op, name, ErrInvalidSpec, errors.New("job name is required"))
	}

	if job := o.Job(name); job != nil {
		return o.existingJob(op, job, poolName, existOk)
	}

	if _, err := o.lookupPool(ctx, op, poolName); err != nil {
		return nil, false, err
	}

	logging.Info("Creating job %q on pool %q...", name, poolName)
	err := o.call(ctx, op, func(ctx context.Context) error {
		return o.client.CreateJob(ctx, name, poolName)
	})
	switch {
	case errors.Is(err, ErrAlreadyExists):
		if !existOk {
			return nil, false, opError(op, name, ErrResourceConflict, err)
		}
		job, err := o.adoptJob(ctx, op, name)
		if err != nil {
			return nil, false, err
		}
		return o.existingJob(op, job, poolName, existOk)
	case errors.Is(err, ErrNotFound):
		return nil, false, opError(op, name, ErrPoolNotFound, err)
	case err != nil:
		return nil, false, o.translate(op, name, err, ErrJobNotFound)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.jobs[name]; ok {
		if existOk && existing.Pool == poolName {
			return existing, false, nil
		}
		return nil, false, opError(op, name, ErrResourceConflict, errors.New("job registered concurrently"))
	}
	job := newJob(name, poolName, o.clock.Now())
	o.jobs[name] = job
	logging.Info("Job %q created.", name)
	return job, true, nil
}

func (o *JobOrchestrator) existingJob(op string, job *Job, poolName string, existOk bool) (*Job, bool, error) {
	if !existOk {
		return nil, false, opError(op, job.Name, ErrResourceConflict, errors.New("job already exists"))
	}
	if job.Pool != poolName {
		return nil, false, opError(op, job.Name, ErrResourceConflict,
			fmt.Errorf("job exists on pool %q, not %q", job.Pool, poolName))
	}
	logging.Info("Job %q already exists, reusing it", job.Name)
	return job, false, nil
}

// AddTask submits commandLine to the job and returns once the remote system
// acknowledged it.
func (o *JobOrchestrator) AddTask(ctx context.Context, jobName, commandLine string) (*Task, error) {
	const op = "AddTask"
	if strings.TrimSpace(commandLine) == "" {
		return nil, opError(op, jobName, ErrInvalidCommand, errors.New("command line is empty"))
	}

	job, err := o.lookupJob(ctx, op, jobName)
	if err != nil {
		return nil, err
	}

	spec := TaskSpec{ID: job.reserveTaskID(), CommandLine: commandLine}
	attempts := 0
	err = o.call(ctx, op, func(ctx context.Context) error {
		attempts++
		err := o.client.AddTask(ctx, job.Name, spec)
		// A retried submission that finds its own id was acknowledged by an
		// earlier attempt whose response got lost.
		if attempts > 1 && errors.Is(err, ErrAlreadyExists) {
			return nil
		}
		return err
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, opError(op, job.Name, ErrJobNotFound, err)
	case errors.Is(err, ErrAlreadyExists):
		return nil, opError(op, job.Name, ErrResourceConflict, fmt.Errorf("task %s: %w", spec.ID, err))
	case err != nil:
		return nil, o.translate(op, job.Name, err, ErrJobNotFound)
	}

	task := job.appendTask(&Task{
		ID:          spec.ID,
		Job:         job.Name,
		CommandLine: spec.CommandLine,
		State:       TaskQueued,
		SubmittedAt: o.clock.Now(),
	})
	logging.Info("Added %s to job %q: %s", task.ID, job.Name, commandLine)
	return &task, nil
}

// DeleteJob removes the job remotely and from the registry. Deleting a job
// that does not exist is not an error.
func (o *JobOrchestrator) DeleteJob(ctx context.Context, name string) error {
	const op = "DeleteJob"
	name = strings.TrimSpace(name)
	logging.Info("Deleting job %q...", name)
	err := o.call(ctx, op, func(ctx context.Context) error {
		return o.client.DeleteJob(ctx, name)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return o.translate(op, name, err, ErrJobNotFound)
	}
	o.mu.Lock()
	delete(o.jobs, name)
	o.mu.Unlock()
	if errors.Is(err, ErrNotFound) {
		logging.Info("Job %q was already gone.", name)
	} else {
		logging.Info("Job %q deleted.", name)
	}
	return nil
}

// DeletePool removes the pool remotely and from the registry. Deleting a
// pool that does not exist is not an error. A pool whose jobs are being
// monitored is never deleted.
func (o *JobOrchestrator) DeletePool(ctx context.Context, name string) error {
	return o.deletePool(ctx, name, o.deletePolicy == PoolDeleteCascade)
}

func (o *JobOrchestrator) deletePool(ctx context.Context, name string, cascade bool) error {
	const op = "DeletePool"
	name = strings.TrimSpace(name)

	// Monitors start under o.mu and refuse a pool that is being deleted, so
	// the check below holds until the remote delete has finished.
	o.mu.Lock()
	var dependents []string
	for _, j := range o.jobs {
		if j.Pool != name {
			continue
		}
		if j.Monitoring() {
			o.mu.Unlock()
			return opError(op, name, ErrResourceConflict, fmt.Errorf("job %q is being monitored", j.Name))
		}
		dependents = append(dependents, j.Name)
	}
	o.deleting[name]++
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		if o.deleting[name]--; o.deleting[name] <= 0 {
			delete(o.deleting, name)
		}
		o.mu.Unlock()
	}()
	sort.Strings(dependents)

	if len(dependents) > 0 {
		if !cascade {
			return opError(op, name, ErrResourceConflict, fmt.Errorf("pool still has jobs %v", dependents))
		}
		for _, j := range dependents {
			if err := o.DeleteJob(ctx, j); err != nil {
				logging.Warn("Failed to delete job %q of pool %q: %v", j, name, err)
			}
		}
	}

	logging.Info("Deleting pool %q...", name)
	err := o.call(ctx, op, func(ctx context.Context) error {
		return o.client.DeletePool(ctx, name)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return o.translate(op, name, err, ErrPoolNotFound)
	}

	o.mu.Lock()
	delete(o.pools, name)
	for jn, j := range o.jobs {
		if j.Pool == name {
			delete(o.jobs, jn)
		}
	}
	o.mu.Unlock()
	if errors.Is(err, ErrNotFound) {
		logging.Info("Pool %q was already gone.", name)
	} else {
		logging.Info("Pool %q deleted.", name)
	}
	return nil
}

// Pool returns a registered pool or nil.
func (o *JobOrchestrator) Pool(name string) *Pool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pools[name]
}

// Job returns a registered job or nil.
func (o *JobOrchestrator) Job(name string) *Job {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.jobs[name]
}

// Pools lists registered pool names in sorted order.
func (o *JobOrchestrator) Pools() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.pools))
	for n := range o.pools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Jobs lists registered job names in sorted order.
func (o *JobOrchestrator) Jobs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.jobs))
	for n := range o.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// lookupPool finds a pool in the registry, falling back to the remote system
// for pools created by an earlier run.
func (o *JobOrchestrator) lookupPool(ctx context.Context, op, name string) (*Pool, error) {
	if name == "" {
		return nil, opError(op, name, ErrPoolNotFound, errors.New("pool name is empty"))
	}
	if p := o.Pool(name); p != nil {
		return p, nil
	}
	var remote *PoolSpec
	err := o.call(ctx, op, func(ctx context.Context) error {
		var getErr error
		remote, getErr = o.client.GetPool(ctx, name)
		return getErr
	})
	if err != nil {
		return nil, o.translate(op, name, err, ErrPoolNotFound)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.pools[name]; ok {
		return p, nil
	}
	p := &Pool{PoolSpec: *remote, CreatedAt: o.clock.Now()}
	o.pools[name] = p
	return p, nil
}

// lookupJob finds a job in the registry or adopts it from the remote system.
func (o *JobOrchestrator) lookupJob(ctx context.Context, op, name string) (*Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, opError(op, name, ErrJobNotFound, errors.New("job name is empty"))
	}
	if j := o.Job(name); j != nil {
		return j, nil
	}
	return o.adoptJob(ctx, op, name)
}

func (o *JobOrchestrator) adoptJob(ctx context.Context, op, name string) (*Job, error) {
	var info *JobInfo
	err := o.call(ctx, op, func(ctx context.Context) error {
		var getErr error
		info, getErr = o.client.GetJob(ctx, name)
		return getErr
	})
	if err != nil {
		return nil, o.translate(op, name, err, ErrJobNotFound)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if j, ok := o.jobs[name]; ok {
		return j, nil
	}
	now := o.clock.Now()
	job := newJob(info.Name, info.Pool, now)
	for _, t := range info.Tasks {
		job.appendTask(&Task{ID: t.ID, Job: info.Name, CommandLine: t.CommandLine, State: TaskQueued, SubmittedAt: now})
	}
	o.jobs[name] = job
	logging.Debug("Adopted remote job %q with %d tasks", name, len(info.Tasks))
	return job, nil
}

// startMonitor counts a monitor on job unless its pool is being deleted.
func (o *JobOrchestrator) startMonitor(job *Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deleting[job.Pool] > 0 {
		return fmt.Errorf("pool %q is being deleted", job.Pool)
	}
	job.monitors.Add(1)
	return nil
}

// translate maps a remote failure onto the package's error kinds.
// notFound is the kind used when the remote resource is missing.
func (o *JobOrchestrator) translate(op, name string, err, notFound error) error {
	var opErr *OpError
	switch {
	case errors.As(err, &opErr):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s %q: %w", op, name, err)
	case errors.Is(err, ErrNotFound):
		return opError(op, name, notFound, err)
	case errors.Is(err, ErrAlreadyExists):
		return opError(op, name, ErrResourceConflict, err)
	case errors.As(err, new(*exhaustedError)):
		return opError(op, name, ErrRemoteUnavailable, err)
	default:
		return fmt.Errorf("%s %q: %w", op, name, err)
	}
}
