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

package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloudops-toolkit/pkg/orchestrator"
	"cloudops-toolkit/pkg/orchestrator/memory"

	"k8s.io/apimachinery/pkg/util/wait"
	testingclock "k8s.io/utils/clock/testing"
)

// testBackoff retries without delay so retries never wait on the fake clock.
var testBackoff = wait.Backoff{Factor: 1.0, Steps: 3}

func newTestOrchestrator(t *testing.T, script memory.Script, opts ...orchestrator.Option) (*orchestrator.JobOrchestrator, *memory.Backend, *testingclock.FakeClock) {
	t.Helper()
	backend := memory.New(script)
	fc := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	base := []orchestrator.Option{orchestrator.WithClock(fc), orchestrator.WithBackoff(testBackoff)}
	return orchestrator.New(backend, append(base, opts...)...), backend, fc
}

func poolSpec(name string) orchestrator.PoolSpec {
	return orchestrator.PoolSpec{
		Name:   name,
		Image:  "ref:latest",
		Sizing: orchestrator.FixedSize(1),
	}
}

func transient(msg string) error {
	return fmt.Errorf("%s: %w", msg, orchestrator.ErrTransient)
}

func assertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("Expected error matching %v, got %v", target, err)
	}
}

func TestCreatePoolConflict(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"p1", "getting-started-pool", "a"} {
		t.Run(name, func(t *testing.T) {
			o, backend, _ := newTestOrchestrator(t, nil)

			pool, err := o.CreatePool(ctx, poolSpec(name))
			if err != nil {
				t.Fatalf("CreatePool: %v", err)
			}
			if pool.Name != name {
				t.Errorf("Expected pool name %q, got %q", name, pool.Name)
			}

			_, err = o.CreatePool(ctx, poolSpec(name))
			assertErrorIs(t, err, orchestrator.ErrResourceConflict)
			if got := backend.Calls(memory.OpCreatePool); got != 1 {
				t.Errorf("Expected 1 remote CreatePool call, got %d", got)
			}
		})
	}
}

func TestCreatePoolRemoteConflict(t *testing.T) {
	ctx := context.Background()
	backend := memory.New(nil)
	if err := backend.CreatePool(ctx, poolSpec("p1")); err != nil {
		t.Fatalf("seeding backend: %v", err)
	}

	o := orchestrator.New(backend, orchestrator.WithBackoff(testBackoff))
	_, err := o.CreatePool(ctx, poolSpec("p1"))
	assertErrorIs(t, err, orchestrator.ErrResourceConflict)

	reuse := orchestrator.New(backend, orchestrator.WithBackoff(testBackoff), orchestrator.WithPoolReuse(true))
	pool, err := reuse.CreatePool(ctx, poolSpec("p1"))
	if err != nil {
		t.Fatalf("CreatePool with reuse: %v", err)
	}
	if pool.Image != "ref:latest" {
		t.Errorf("Expected image %q from the remote pool, got %q", "ref:latest", pool.Image)
	}
	again, err := reuse.CreatePool(ctx, poolSpec("p1"))
	if err != nil {
		t.Fatalf("second CreatePool with reuse: %v", err)
	}
	if again != pool {
		t.Errorf("Expected the registered pool to be returned on reuse")
	}
}

func TestCreatePoolValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*orchestrator.PoolSpec)
		want   error
	}{
		{"zero fixed count", func(s *orchestrator.PoolSpec) { s.Sizing = orchestrator.FixedSize(0) }, orchestrator.ErrInvalidSizing},
		{"negative fixed count", func(s *orchestrator.PoolSpec) { s.Sizing = orchestrator.FixedSize(-2) }, orchestrator.ErrInvalidSizing},
		{"min above max", func(s *orchestrator.PoolSpec) { s.Sizing = orchestrator.AutoscaleRange(5, 2) }, orchestrator.ErrInvalidSizing},
		{"zero max", func(s *orchestrator.PoolSpec) { s.Sizing = orchestrator.AutoscaleRange(0, 0) }, orchestrator.ErrInvalidSizing},
		{"negative min", func(s *orchestrator.PoolSpec) { s.Sizing = orchestrator.AutoscaleRange(-1, 3) }, orchestrator.ErrInvalidSizing},
		{"empty name", func(s *orchestrator.PoolSpec) { s.Name = "  " }, orchestrator.ErrInvalidSpec},
		{"empty image", func(s *orchestrator.PoolSpec) { s.Image = "" }, orchestrator.ErrInvalidSpec},
		{"mount without path", func(s *orchestrator.PoolSpec) {
			s.Mounts = []orchestrator.Mount{{Container: "input-test"}}
		}, orchestrator.ErrInvalidSpec},
		{"duplicate mount path", func(s *orchestrator.PoolSpec) {
			s.Mounts = []orchestrator.Mount{{Container: "a", Path: "inputs"}, {Container: "b", Path: "/inputs"}}
		}, orchestrator.ErrInvalidSpec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, backend, _ := newTestOrchestrator(t, nil)
			spec := poolSpec("p1")
			tt.modify(&spec)

			_, err := o.CreatePool(context.Background(), spec)
			assertErrorIs(t, err, tt.want)
			if got := backend.Calls(memory.OpCreatePool); got != 0 {
				t.Errorf("Expected no remote call for an invalid spec, got %d", got)
			}
		})
	}
}

func TestAutoscaleRangeAccepted(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	spec := poolSpec("getting-started-pool")
	spec.Sizing = orchestrator.AutoscaleRange(0, 5)
	spec.Mounts = []orchestrator.Mount{{Container: "input-test", Path: "inputs"}}

	pool, err := o.CreatePool(context.Background(), spec)
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if got := pool.Sizing.NodeLimit(); got != 5 {
		t.Errorf("Expected node limit 5, got %d", got)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	o, backend, _ := newTestOrchestrator(t, nil)
	if _, err := o.CreatePool(ctx, poolSpec("p1")); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if _, err := o.CreateJob(ctx, "j1", "p1", false); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := o.DeleteJob(ctx, "j1"); err != nil {
			t.Errorf("DeleteJob call %d: %v", i+1, err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := o.DeletePool(ctx, "p1"); err != nil {
			t.Errorf("DeletePool call %d: %v", i+1, err)
		}
	}
	if backend.HasPool("p1") || backend.HasJob("j1") {
		t.Errorf("Expected remote pool and job to be gone")
	}
	if got := o.Pools(); len(got) != 0 {
		t.Errorf("Expected empty pool registry, got %v", got)
	}

	// Never created at all.
	if err := o.DeletePool(ctx, "ghost"); err != nil {
		t.Errorf("DeletePool on absent pool: %v", err)
	}
}

func TestCreateJob(t *testing.T) {
	ctx := context.Background()
	o, backend, _ := newTestOrchestrator(t, nil)
	for _, p := range []string{"p1", "p2"} {
		if _, err := o.CreatePool(ctx, poolSpec(p)); err != nil {
			t.Fatalf("CreatePool %s: %v", p, err)
		}
	}

	first, err := o.CreateJob(ctx, "j1", "p1", true)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	t.Run("existOk returns existing job", func(t *testing.T) {
		again, err := o.CreateJob(ctx, "j1", "p1", true)
		if err != nil {
			t.Fatalf("CreateJob existOk: %v", err)
		}
		if again != first {
			t.Errorf("Expected the existing job to be returned")
		}
		if got := backend.Calls(memory.OpCreateJob); got != 1 {
			t.Errorf("Expected 1 remote CreateJob call, got %d", got)
		}
	})

	t.Run("duplicate without existOk", func(t *testing.T) {
		_, err := o.CreateJob(ctx, "j1", "p1", false)
		assertErrorIs(t, err, orchestrator.ErrResourceConflict)
	})

	t.Run("existing job on another pool", func(t *testing.T) {
		_, err := o.CreateJob(ctx, "j1", "p2", true)
		assertErrorIs(t, err, orchestrator.ErrResourceConflict)
	})

	t.Run("missing pool", func(t *testing.T) {
		_, err := o.CreateJob(ctx, "j2", "nope", false)
		assertErrorIs(t, err, orchestrator.ErrPoolNotFound)
	})
}

func TestCreateJobAdoptsRemoteJob(t *testing.T) {
	ctx := context.Background()
	backend := memory.New(nil)
	if err := backend.CreatePool(ctx, poolSpec("p1")); err != nil {
		t.Fatal(err)
	}
	if err := backend.CreateJob(ctx, "j1", "p1"); err != nil {
		t.Fatal(err)
	}
	if err := backend.AddTask(ctx, "j1", orchestrator.TaskSpec{ID: "task-1", CommandLine: "echo earlier"}); err != nil {
		t.Fatal(err)
	}

	o := orchestrator.New(backend, orchestrator.WithBackoff(testBackoff))
	job, err := o.CreateJob(ctx, "j1", "p1", true)
	if err != nil {
		t.Fatalf("CreateJob existOk on remote job: %v", err)
	}
	if got := len(job.Tasks()); got != 1 {
		t.Fatalf("Expected adopted job to carry 1 task, got %d", got)
	}

	task, err := o.AddTask(ctx, "j1", "echo later")
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if task.ID != "task-2" {
		t.Errorf("Expected next task id %q, got %q", "task-2", task.ID)
	}
}

func TestAddTask(t *testing.T) {
	ctx := context.Background()

	t.Run("empty command never reaches the remote system", func(t *testing.T) {
		o, backend, _ := newTestOrchestrator(t, nil)
		for _, cmd := range []string{"", "   ", "\t\n"} {
			_, err := o.AddTask(ctx, "j1", cmd)
			assertErrorIs(t, err, orchestrator.ErrInvalidCommand)
		}
		for _, op := range []string{memory.OpAddTask, memory.OpGetJob} {
			if got := backend.Calls(op); got != 0 {
				t.Errorf("Expected no %s calls, got %d", op, got)
			}
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		o, _, _ := newTestOrchestrator(t, nil)
		_, err := o.AddTask(ctx, "missing", "echo hi")
		assertErrorIs(t, err, orchestrator.ErrJobNotFound)
	})

	t.Run("sequential ids", func(t *testing.T) {
		o, backend, _ := newTestOrchestrator(t, nil)
		if _, err := o.CreatePool(ctx, poolSpec("p1")); err != nil {
			t.Fatal(err)
		}
		if _, err := o.CreateJob(ctx, "j1", "p1", false); err != nil {
			t.Fatal(err)
		}
		for i := 1; i <= 3; i++ {
			task, err := o.AddTask(ctx, "j1", fmt.Sprintf("echo %d", i))
			if err != nil {
				t.Fatalf("AddTask %d: %v", i, err)
			}
			if want := fmt.Sprintf("task-%d", i); task.ID != want {
				t.Errorf("Expected id %q, got %q", want, task.ID)
			}
			if task.State != orchestrator.TaskQueued {
				t.Errorf("Expected new task to be queued, got %q", task.State)
			}
		}
		if got := backend.TaskCount("j1"); got != 3 {
			t.Errorf("Expected 3 remote tasks, got %d", got)
		}
	})
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("transient errors are retried", func(t *testing.T) {
		o, backend, _ := newTestOrchestrator(t, nil)
		backend.FailNext(memory.OpCreatePool, transient("throttled"), transient("503"))
		if _, err := o.CreatePool(ctx, poolSpec("p1")); err != nil {
			t.Fatalf("CreatePool: %v", err)
		}
		if got := backend.Calls(memory.OpCreatePool); got != 3 {
			t.Errorf("Expected 3 attempts, got %d", got)
		}
	})

	t.Run("exhausted retries surface RemoteUnavailable", func(t *testing.T) {
		o, backend, _ := newTestOrchestrator(t, nil)
		backend.FailNext(memory.OpCreatePool, transient("a"), transient("b"), transient("c"))
		_, err := o.CreatePool(ctx, poolSpec("p1"))
		assertErrorIs(t, err, orchestrator.ErrRemoteUnavailable)
		if got := backend.Calls(memory.OpCreatePool); got != testBackoff.Steps {
			t.Errorf("Expected %d attempts, got %d", testBackoff.Steps, got)
		}
	})

	t.Run("backoff waits on the orchestrator clock", func(t *testing.T) {
		o, backend, fc := newTestOrchestrator(t, nil, orchestrator.WithBackoff(wait.Backoff{Duration: time.Minute, Factor: 2.0, Steps: 3}))
		backend.FailNext(memory.OpCreatePool, transient("throttled"), transient("503"))
		start := fc.Now()
		var err error
		driveClock(t, fc, time.Minute, func() {
			_, err = o.CreatePool(ctx, poolSpec("p1"))
		})
		if err != nil {
			t.Fatalf("CreatePool: %v", err)
		}
		// One minute, then two.
		if got := fc.Since(start); got != 3*time.Minute {
			t.Errorf("Expected 3m of simulated backoff, got %s", got)
		}
		if got := backend.Calls(memory.OpCreatePool); got != 3 {
			t.Errorf("Expected 3 attempts, got %d", got)
		}
	})

	t.Run("cancel during backoff", func(t *testing.T) {
		o, backend, fc := newTestOrchestrator(t, nil, orchestrator.WithBackoff(wait.Backoff{Duration: time.Hour, Factor: 1.0, Steps: 3}))
		backend.FailNext(memory.OpCreatePool, transient("throttled"))
		cctx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			_, err := o.CreatePool(cctx, poolSpec("p1"))
			errCh <- err
		}()
		for !fc.HasWaiters() {
			time.Sleep(time.Millisecond)
		}
		cancel()
		assertErrorIs(t, <-errCh, context.Canceled)
		if got := backend.Calls(memory.OpCreatePool); got != 1 {
			t.Errorf("Expected a single attempt before cancellation, got %d", got)
		}
	})

	t.Run("not found is not retried", func(t *testing.T) {
		o, backend, _ := newTestOrchestrator(t, nil)
		_, err := o.AddTask(ctx, "ghost", "echo hi")
		assertErrorIs(t, err, orchestrator.ErrJobNotFound)
		if got := backend.Calls(memory.OpGetJob); got != 1 {
			t.Errorf("Expected a single GetJob attempt, got %d", got)
		}
	})

	t.Run("lost acknowledgement of a task", func(t *testing.T) {
		o, backend, _ := newTestOrchestrator(t, nil)
		if _, err := o.CreatePool(ctx, poolSpec("p1")); err != nil {
			t.Fatal(err)
		}
		if _, err := o.CreateJob(ctx, "j1", "p1", false); err != nil {
			t.Fatal(err)
		}
		// The first attempt lands remotely but its reply is lost.
		if err := backend.AddTask(ctx, "j1", orchestrator.TaskSpec{ID: "task-1", CommandLine: "echo hi"}); err != nil {
			t.Fatal(err)
		}
		backend.FailNext(memory.OpAddTask, transient("connection reset"))
		task, err := o.AddTask(ctx, "j1", "echo hi")
		if err != nil {
			t.Fatalf("AddTask: %v", err)
		}
		if task.ID != "task-1" {
			t.Errorf("Expected id task-1, got %q", task.ID)
		}
		if got := backend.TaskCount("j1"); got != 1 {
			t.Errorf("Expected no duplicate task, got %d", got)
		}
	})
}

func TestDeletePoolPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("reject", func(t *testing.T) {
		o, backend, _ := newTestOrchestrator(t, nil)
		if _, err := o.CreatePool(ctx, poolSpec("p1")); err != nil {
			t.Fatal(err)
		}
		if _, err := o.CreateJob(ctx, "j1", "p1", false); err != nil {
			t.Fatal(err)
		}
		assertErrorIs(t, o.DeletePool(ctx, "p1"), orchestrator.ErrResourceConflict)
		if !backend.HasPool("p1") {
			t.Errorf("Expected pool to survive a rejected delete")
		}
	})

	t.Run("cascade", func(t *testing.T) {
		o, backend, _ := newTestOrchestrator(t, nil, orchestrator.WithPoolDeletePolicy(orchestrator.PoolDeleteCascade))
		if _, err := o.CreatePool(ctx, poolSpec("p1")); err != nil {
			t.Fatal(err)
		}
		if _, err := o.CreateJob(ctx, "j1", "p1", false); err != nil {
			t.Fatal(err)
		}
		if err := o.DeletePool(ctx, "p1"); err != nil {
			t.Fatalf("DeletePool: %v", err)
		}
		if backend.Calls(memory.OpDeleteJob) != 1 {
			t.Errorf("Expected the job to be deleted before the pool")
		}
		if o.Job("j1") != nil || o.Pool("p1") != nil {
			t.Errorf("Expected registry entries to be removed")
		}
	})
}
