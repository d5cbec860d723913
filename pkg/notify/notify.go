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

// Package notify publishes book change events to an MQTT broker.
//
// The notifier is an actor: producers drop an Event into its mailbox and
// move on. Publishing failures are logged and counted, never reported back.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/turtacn/shelf-go/pkg/actor"
	"github.com/turtacn/shelf-go/pkg/config"
	"github.com/turtacn/shelf-go/pkg/metrics"
	"github.com/turtacn/shelf-go/pkg/shutdown"
	"go.uber.org/zap"
)

// Name is the actor name used in logs and metrics.
const Name = "notifier"

// Kind is the type of change.
type Kind string

const (
	KindInserted Kind = "inserted"
	KindRemoved  Kind = "removed"
)

// Event describes one change to the books table.
type Event struct {
	Kind   Kind      `json:"kind"`
	BookID uuid.UUID `json:"book_id"`
	Title  string    `json:"title,omitempty"`
	At     time.Time `json:"at"`
}

// Option configures an Actor.
type Option func(*Actor)

// WithLogger sets the actor's logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Actor) {
		a.log = l
	}
}

// Actor publishes events from its mailbox, one at a time.
type Actor struct {
	actor.Once

	handle  shutdown.Handle
	pub     Publisher
	mailbox *actor.Mailbox[Event]
	prefix  string
	qos     byte
	log     *zap.Logger
}

// Connect dials the broker in cfg. A broker that cannot be reached is a
// startup error; the shutdown handle is released in that case.
func Connect(handle shutdown.Handle, cfg config.EventsConfig, opts ...Option) (*Actor, error) {
	pub, err := DialMQTT(cfg)
	if err != nil {
		handle.Release()
		return nil, fmt.Errorf("failed to connect to event broker: %w", err)
	}
	return New(handle, pub, cfg, opts...), nil
}

// New wraps pub. The actor owns pub and closes it when Run returns.
func New(handle shutdown.Handle, pub Publisher, cfg config.EventsConfig, opts ...Option) *Actor {
	a := &Actor{
		handle:  handle,
		pub:     pub,
		mailbox: actor.NewMailbox[Event](cfg.MailboxSize),
		prefix:  cfg.TopicPrefix,
		qos:     byte(cfg.QoS),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements actor.Actor.
func (a *Actor) Name() string {
	return Name
}

// Notifier returns a producer front over a new mailbox handle.
func (a *Actor) Notifier() *Notifier {
	return &Notifier{sender: a.mailbox.Sender()}
}

// Topic returns the topic events of kind k are published to.
func (a *Actor) Topic(k Kind) string {
	return a.prefix + "/" + string(k)
}

// Run publishes events until the shutdown signal fires or every Notifier
// has been released. Events still queued at that point are dropped.
func (a *Actor) Run() actor.Summary {
	if err := a.Begin(Name); err != nil {
		return actor.Summary{Actor: Name, Err: err}
	}
	defer a.handle.Release()
	defer a.teardown()

	token := a.handle.Token()
	processed := 0
	for {
		if token.IsCancelled() {
			return actor.Summary{Actor: Name, Processed: processed}
		}
		ev, err := a.mailbox.Receive(token.Context())
		if err != nil {
			if errors.Is(err, actor.ErrMailboxClosed) {
				a.log.Info("All notifiers released, stopping", zap.Int("processed", processed))
			}
			return actor.Summary{Actor: Name, Processed: processed}
		}
		a.publish(ev)
		processed++
	}
}

func (a *Actor) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err == nil {
		err = a.pub.Publish(a.Topic(ev.Kind), a.qos, payload)
	}
	if err != nil {
		a.log.Warn("Failed to publish event",
			zap.String("kind", string(ev.Kind)),
			zap.Stringer("book_id", ev.BookID),
			zap.Error(err))
		metrics.EventsPublishedTotal.WithLabelValues(string(ev.Kind), "error").Inc()
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(ev.Kind), "ok").Inc()
}

func (a *Actor) teardown() {
	if dropped := len(a.mailbox.Stop()); dropped > 0 {
		a.log.Warn("Dropped queued events", zap.Int("count", dropped))
	}
	a.pub.Close()
}

// Notifier enqueues events for an Actor. A nil *Notifier is valid and
// discards everything, which is how a disabled publisher looks to callers.
type Notifier struct {
	sender *actor.Sender[Event]
}

// Notify enqueues ev, waiting for room no longer than ctx allows.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if n == nil {
		return nil
	}
	return n.sender.Send(ctx, ev)
}

// Release drops the notifier's handle.
func (n *Notifier) Release() {
	if n == nil {
		return
	}
	n.sender.Release()
}
