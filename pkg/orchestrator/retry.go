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
	"fmt"
	"time"

	"cloudops-toolkit/pkg/logging"

	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultBackoff retries a remote call up to five times, starting at 500ms
// and doubling with 10% jitter.
func DefaultBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: 500 * time.Millisecond,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    5,
	}
}

// exhaustedError is returned when every attempt failed with a transient error.
type exhaustedError struct {
	attempts int
	err      error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.attempts, e.err)
}

func (e *exhaustedError) Unwrap() error {
	return e.err
}

// call runs fn under the rate limiter, retrying transient failures with the
// configured backoff. Waits between attempts run on the orchestrator's clock.
// Non-transient errors are returned unchanged on the first occurrence.
func (o *JobOrchestrator) call(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := o.backoff
	for attempt := 1; ; attempt++ {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
		}
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case !IsTransient(err):
			return err
		}
		if attempt >= o.backoff.Steps {
			logging.Warn("%s: remote call still failing after %d attempts: %v", op, attempt, err)
			return &exhaustedError{attempts: attempt, err: err}
		}
		delay := backoff.Step()
		logging.Debug("%s: attempt %d failed with transient error, retrying in %s: %v", op, attempt, delay, err)
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (o *JobOrchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := o.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
