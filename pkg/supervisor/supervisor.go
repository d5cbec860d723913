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

// package supervisor starts a fixed set of actors, each in its own goroutine,
// and joins them.
package supervisor

import (
	"errors"
	"fmt"

	"github.com/turtacn/shelf-go/pkg/actor"
	"github.com/turtacn/shelf-go/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoSpecs is returned when Run is given nothing to supervise.
	ErrNoSpecs = errors.New("no child specs provided")
	// ErrPanicked marks the summary of an actor whose Run panicked.
	ErrPanicked = errors.New("actor panicked")
)

// Spec defines a child actor managed by a Group.
type Spec struct {
	// ID identifies the child in logs and metrics. Defaults to the actor's
	// name.
	ID string
	// Actor is consumed by Run; it is never restarted.
	Actor actor.Actor
}

// Group runs actors concurrently and waits for all of them.
type Group struct {
	log *zap.Logger
}

// New creates a Group. A nil logger discards output.
func New(log *zap.Logger) *Group {
	if log == nil {
		log = zap.NewNop()
	}
	return &Group{log: log}
}

// Run starts every child and blocks until all have returned. Summaries are
// returned in spec order. The error is the first abnormal termination, if
// any: a panic or a summary carrying an error.
func (g *Group) Run(specs []Spec) ([]actor.Summary, error) {
	if len(specs) == 0 {
		return nil, ErrNoSpecs
	}

	summaries := make([]actor.Summary, len(specs))
	var eg errgroup.Group
	for i, spec := range specs {
		id := spec.ID
		if id == "" {
			id = spec.Actor.Name()
		}
		eg.Go(func() error {
			s := g.runChild(id, spec.Actor)
			summaries[i] = s
			return s.Err
		})
	}
	err := eg.Wait()
	return summaries, err
}

func (g *Group) runChild(id string, a actor.Actor) (s actor.Summary) {
	defer func() {
		if r := recover(); r != nil {
			s = actor.Summary{Actor: id, Err: fmt.Errorf("%w: %s: %v", ErrPanicked, id, r)}
			g.log.Error("Actor panicked", zap.String("actor", id), zap.Any("panic", r))
			metrics.ActorTerminationsTotal.WithLabelValues(id, "panic").Inc()
		}
	}()

	g.log.Debug("Starting actor", zap.String("actor", id))
	s = a.Run()
	if s.Actor == "" {
		s.Actor = id
	}

	if s.Failed() {
		g.log.Warn("Actor terminated abnormally", zap.String("actor", id), zap.Int("processed", s.Processed), zap.Error(s.Err))
		metrics.ActorTerminationsTotal.WithLabelValues(id, "error").Inc()
		return s
	}
	g.log.Info("Actor terminated", zap.String("actor", id), zap.Int("processed", s.Processed))
	metrics.ActorTerminationsTotal.WithLabelValues(id, "ok").Inc()
	return s
}
