// Copyright 2024 The shelf-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package actor provides the building blocks shared by every worker in the
// service: a bounded mailbox with cloneable sender handles, a single-use reply
// channel for request/reply correlation, and the run-once actor contract.
package actor

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrConsumed is returned when Run is called on an actor that has already run.
var ErrConsumed = errors.New("actor: already consumed")

// Actor defines the interface for a long-lived worker.
// An actor owns private state that only its Run method touches. Other parts
// of the program reach it exclusively through the sender handles of its
// mailbox.
type Actor interface {
	// Name identifies the actor in logs and metrics.
	Name() string
	// Run executes the actor's loop until its mailbox is closed or the
	// cancellation signal it was built with fires, whichever comes first.
	// Run consumes the actor: a second call returns a Summary carrying
	// ErrConsumed without doing any work.
	Run() Summary
}

// Summary reports how an actor's Run ended.
type Summary struct {
	// Actor is the name of the actor that produced the summary.
	Actor string
	// Processed counts the messages the actor handled to completion.
	Processed int
	// Err is nil for a normal termination (cancellation or closed mailbox).
	Err error
}

// Failed reports whether the actor ended abnormally.
func (s Summary) Failed() bool {
	return s.Err != nil
}

// Result carries either a value or the error that prevented producing it.
// It is the payload of every reply channel.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps an error.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Unpack returns the value and error, in the usual Go order.
func (r Result[T]) Unpack() (T, error) {
	return r.Value, r.Err
}

// Once guards an actor's Run method so that it executes at most once.
// Embed it in the actor struct and call Begin first thing in Run.
type Once struct {
	used atomic.Bool
}

// Begin marks the actor as consumed. It returns ErrConsumed, wrapped with the
// actor name, when called a second time.
func (o *Once) Begin(name string) error {
	if !o.used.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrConsumed, name)
	}
	return nil
}
