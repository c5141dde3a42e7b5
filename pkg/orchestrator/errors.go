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
	"errors"
	"fmt"
)

// Errors returned by JobOrchestrator operations. Match them with errors.Is.
var (
	ErrResourceConflict  = errors.New("resource conflict")
	ErrPoolNotFound      = errors.New("pool not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidSizing     = errors.New("invalid sizing policy")
	ErrInvalidCommand    = errors.New("invalid command line")
	ErrInvalidSpec       = errors.New("invalid resource spec")
	ErrMonitorTimeout    = errors.New("monitor timed out")
	ErrRemoteUnavailable = errors.New("remote service unavailable")
)

// Errors a BatchClient reports. The orchestrator translates them into the
// errors above.
var (
	// ErrNotFound means the remote resource does not exist.
	ErrNotFound = errors.New("remote resource not found")

	// ErrAlreadyExists means a remote resource with that name exists.
	ErrAlreadyExists = errors.New("remote resource already exists")

	// ErrTransient marks failures worth retrying: throttling, timeouts,
	// unavailable endpoints.
	ErrTransient = errors.New("transient remote error")
)

// OpError describes a failed orchestrator operation.
type OpError struct {
	// Op is the operation, e.g. "CreatePool".
	Op string

	// Name is the pool or job the operation targeted.
	Name string

	// Kind is one of the Err* sentinels of this package.
	Kind error

	// Err is the underlying cause, if any.
	Err error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op, name string, kind, err error) error {
	return &OpError{Op: op, Name: name, Kind: kind, Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsNotFound reports whether a pool or job was missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPoolNotFound) || errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a resource conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrResourceConflict)
}

// IsTimeout reports whether monitoring ran out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrMonitorTimeout)
}
