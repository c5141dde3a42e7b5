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

package memory

import (
	"context"
	"errors"
	"testing"

	"cloudops-toolkit/pkg/orchestrator"
)

func TestTaskStatesFollowScript(t *testing.T) {
	ctx := context.Background()
	b := New(nil)
	if err := b.CreatePool(ctx, orchestrator.PoolSpec{Name: "p1", Image: "img"}); err != nil {
		t.Fatal(err)
	}
	if err := b.CreateJob(ctx, "j1", "p1"); err != nil {
		t.Fatal(err)
	}
	if err := b.AddTask(ctx, "j1", orchestrator.TaskSpec{ID: "task-1", CommandLine: "echo hi"}); err != nil {
		t.Fatal(err)
	}

	want := []orchestrator.TaskState{
		orchestrator.TaskQueued,
		orchestrator.TaskRunning,
		orchestrator.TaskSucceeded,
		orchestrator.TaskSucceeded,
	}
	for i, w := range want {
		states, err := b.TaskStates(ctx, "j1")
		if err != nil {
			t.Fatalf("TaskStates poll %d: %v", i+1, err)
		}
		if got := states["task-1"]; got != w {
			t.Errorf("poll %d: expected %q, got %q", i+1, w, got)
		}
	}
}

func TestErrors(t *testing.T) {
	ctx := context.Background()
	b := New(nil)

	if err := b.CreateJob(ctx, "j1", "missing"); !errors.Is(err, orchestrator.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a missing pool, got %v", err)
	}
	if err := b.CreatePool(ctx, orchestrator.PoolSpec{Name: "p1"}); err != nil {
		t.Fatal(err)
	}
	if err := b.CreatePool(ctx, orchestrator.PoolSpec{Name: "p1"}); !errors.Is(err, orchestrator.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
	if err := b.DeleteJob(ctx, "j1"); !errors.Is(err, orchestrator.ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting an absent job, got %v", err)
	}

	injected := errors.New("injected")
	b.FailNext(OpGetPool, injected)
	if _, err := b.GetPool(ctx, "p1"); !errors.Is(err, injected) {
		t.Errorf("Expected injected error, got %v", err)
	}
	if _, err := b.GetPool(ctx, "p1"); err != nil {
		t.Errorf("Expected injected error to be consumed, got %v", err)
	}
	if got := b.Calls(OpGetPool); got != 2 {
		t.Errorf("Expected 2 GetPool calls, got %d", got)
	}
}

func TestDeletePoolRemovesJobs(t *testing.T) {
	ctx := context.Background()
	b := New(nil)
	if err := b.CreatePool(ctx, orchestrator.PoolSpec{Name: "p1"}); err != nil {
		t.Fatal(err)
	}
	if err := b.CreateJob(ctx, "j1", "p1"); err != nil {
		t.Fatal(err)
	}
	if err := b.DeletePool(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if b.HasJob("j1") {
		t.Errorf("Expected jobs to be removed with their pool")
	}
}
