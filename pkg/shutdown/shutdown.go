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

// Package shutdown owns the process-wide cancellation signal.
//
// A Coordinator fires the signal exactly once, on the first of SIGINT,
// SIGTERM, or an explicit request from any worker. Workers receive a Handle at
// construction: a Token to observe the signal and a trigger to request it.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/shelf-go/pkg/actor"
	"github.com/turtacn/shelf-go/pkg/metrics"
	"go.uber.org/zap"
)

// Name is the actor name of the coordinator.
const Name = "shutdown"

// Cause identifies who asked for the global shutdown. It is used for
// diagnostics only.
type Cause int

const (
	// CauseSignal is an OS interrupt or termination signal.
	CauseSignal Cause = iota
	// CauseWebServer is the HTTP ingress, typically after a failed bind.
	CauseWebServer
	// CauseDatabase is the database actor.
	CauseDatabase
	// CauseNotifier is the change event publisher.
	CauseNotifier
)

func (c Cause) String() string {
	switch c {
	case CauseSignal:
		return "signal"
	case CauseWebServer:
		return "web_server"
	case CauseDatabase:
		return "database"
	case CauseNotifier:
		return "notifier"
	default:
		return "unknown"
	}
}

// Handle is the capability handed to every worker: an observer of the
// signal plus a sender onto the coordinator's trigger mailbox.
type Handle struct {
	token   Token
	trigger *actor.Sender[Cause]
	log     *zap.Logger
}

// Token returns the handle's cancellation observer.
func (h Handle) Token() Token {
	return h.token
}

// Trigger asks the coordinator to fire the global signal. Requests made after
// the signal fired are dropped. Failures are logged, never returned: the
// caller is already on an error path.
func (h Handle) Trigger(ctx context.Context, cause Cause) {
	if h.token.IsCancelled() {
		h.log.Debug("Shutdown already in progress", zap.Stringer("cause", cause))
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// Don't wait on a full trigger mailbox once the signal has fired.
		select {
		case <-h.token.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := h.trigger.Send(ctx, cause); err != nil {
		if errors.Is(err, actor.ErrMailboxClosed) || h.token.IsCancelled() {
			h.log.Debug("Shutdown request dropped", zap.Stringer("cause", cause), zap.Error(err))
			return
		}
		h.log.Error("Failed to request shutdown", zap.Stringer("cause", cause), zap.Error(err))
	}
}

// Release drops the handle's trigger sender.
func (h Handle) Release() {
	h.trigger.Release()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// WithSignals replaces OS signal delivery with ch. Intended for tests.
func WithSignals(ch <-chan os.Signal) Option {
	return func(c *Coordinator) {
		c.signals = ch
	}
}

// Coordinator produces the single, irreversible global cancellation event.
type Coordinator struct {
	actor.Once

	root    Token
	trigger *actor.Mailbox[Cause]
	signals <-chan os.Signal
	log     *zap.Logger

	cause  Cause
	signal os.Signal
}

// New creates the root cancellation signal and the trigger mailbox.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		root:    newToken(context.Background()),
		trigger: actor.NewMailbox[Cause](1),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements actor.Actor.
func (c *Coordinator) Name() string {
	return Name
}

// Handle returns a fresh capability pair. It may be called any number of
// times; each handle observes the same root signal through its own token.
func (c *Coordinator) Handle() Handle {
	return Handle{
		token:   c.root.Child(),
		trigger: c.trigger.Sender(),
		log:     c.log,
	}
}

// Fired returns a channel closed once the global signal fired.
func (c *Coordinator) Fired() <-chan struct{} {
	return c.root.Done()
}

// Cause reports what fired the signal. It is only meaningful after Fired is
// closed.
func (c *Coordinator) Cause() Cause {
	return c.cause
}

// Signal reports the OS signal that fired the signal, if any.
func (c *Coordinator) Signal() os.Signal {
	return c.signal
}

// Run waits for the first shutdown source and fires the signal. It
// implements actor.Actor; a second call returns ErrConsumed immediately.
func (c *Coordinator) Run() actor.Summary {
	if err := c.Begin(Name); err != nil {
		return actor.Summary{Actor: Name, Err: err}
	}

	signals := c.signals
	if signals == nil {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	requests, closed := c.trigger.Chan(), c.trigger.Closed()
	for {
		select {
		case sig := <-signals:
			c.log.Info("Received signal", zap.Stringer("signal", sig))
			c.fire(CauseSignal, sig)
			return actor.Summary{Actor: Name, Processed: 1}
		case cause := <-requests:
			c.log.Info("Shutdown requested by another actor", zap.Stringer("cause", cause))
			c.fire(cause, nil)
			return actor.Summary{Actor: Name, Processed: 1}
		case <-closed:
			select {
			case cause := <-requests:
				c.log.Info("Shutdown requested by another actor", zap.Stringer("cause", cause))
				c.fire(cause, nil)
				return actor.Summary{Actor: Name, Processed: 1}
			default:
			}
			c.log.Error("Shutdown trigger mailbox closed without a request; waiting on signals only")
			requests, closed = nil, nil
		}
	}
}

func (c *Coordinator) fire(cause Cause, sig os.Signal) {
	c.cause = cause
	c.signal = sig
	c.trigger.Stop()
	metrics.ShutdownsTotal.WithLabelValues(cause.String()).Inc()
	c.root.Cancel()
}
