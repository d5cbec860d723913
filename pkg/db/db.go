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

// Package db implements the database actor: the single owner of the
// database connection. Other actors reach the connection only by sending a
// Query into the actor's mailbox and waiting on the reply channel the query
// carries.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/turtacn/shelf-go/pkg/actor"
	"github.com/turtacn/shelf-go/pkg/config"
	"github.com/turtacn/shelf-go/pkg/metrics"
	"github.com/turtacn/shelf-go/pkg/shutdown"
	"github.com/turtacn/shelf-go/pkg/storage"
	"github.com/turtacn/shelf-go/pkg/storage/sqlstore"
	"go.uber.org/zap"
)

const (
	// Name is the actor name used in logs and metrics.
	Name = "db"
	// MailboxSize bounds the query mailbox. With one slot a caller whose
	// query is not yet dequeued blocks the next caller.
	MailboxSize = 1
)

// Option configures an Actor.
type Option func(*Actor)

// WithLogger sets the actor's logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Actor) {
		a.log = l
	}
}

// Actor serializes every access to a storage.Repository.
type Actor struct {
	actor.Once

	handle  shutdown.Handle
	repo    storage.Repository
	mailbox *actor.Mailbox[Query]
	log     *zap.Logger
}

// Connect opens the repository described by cfg and wraps it in an Actor.
// An unreachable database is reported immediately; there is no retry. On
// failure the shutdown handle is released.
func Connect(ctx context.Context, handle shutdown.Handle, cfg config.DatabaseConfig, opts ...Option) (*Actor, error) {
	var repo storage.Repository
	switch cfg.Driver {
	case config.DriverMemory:
		repo = storage.NewMemStore()
	default:
		s, err := sqlstore.Open(ctx, cfg)
		if err != nil {
			handle.Release()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		repo = s
	}
	return New(handle, repo, opts...), nil
}

// New wraps an already open repository. The actor takes ownership of repo
// and closes it when Run returns.
func New(handle shutdown.Handle, repo storage.Repository, opts ...Option) *Actor {
	a := &Actor{
		handle:  handle,
		repo:    repo,
		mailbox: actor.NewMailbox[Query](MailboxSize),
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

// Handle returns a new sender onto the query mailbox. Release it when done:
// once every handle is released the actor stops.
func (a *Actor) Handle() *actor.Sender[Query] {
	return a.mailbox.Sender()
}

// Client returns a typed client over a new handle.
func (a *Actor) Client() *Client {
	return NewClient(a.Handle())
}

// Run processes queries one at a time until the shutdown signal fires or
// every handle has been released. A query already taken from the mailbox
// always runs to completion and is answered. Queries still queued when Run
// returns are closed without a reply.
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
			a.log.Info("Shutdown signal received, stopping", zap.Int("processed", processed))
			return actor.Summary{Actor: Name, Processed: processed}
		}

		q, err := a.mailbox.Receive(token.Context())
		if err != nil {
			if errors.Is(err, actor.ErrMailboxClosed) {
				a.log.Info("All handles released, stopping", zap.Int("processed", processed))
			}
			return actor.Summary{Actor: Name, Processed: processed}
		}

		a.serve(context.WithoutCancel(token.Context()), q)
		processed++
	}
}

// Close disposes of an actor that will never run: queued queries are closed,
// the repository is closed and the shutdown handle released. It returns
// ErrConsumed if Run was already called, since Run then owns the cleanup.
func (a *Actor) Close() error {
	if err := a.Begin(Name); err != nil {
		return err
	}
	defer a.handle.Release()
	a.teardown()
	return nil
}

func (a *Actor) serve(ctx context.Context, q Query) {
	kind := q.Kind()
	start := time.Now()
	a.log.Debug("Executing query", zap.String("kind", kind))

	var err, replyErr error
	switch q := q.(type) {
	case SelectManyBooks:
		var books []storage.Book
		books, err = a.repo.SelectBooks(ctx)
		a.observe(kind, start, err)
		replyErr = q.RespondTo.Send(resultOf(books, err))
	case SelectBookByID:
		var book storage.Book
		book, err = a.repo.SelectBookByID(ctx, q.ID)
		a.observe(kind, start, err)
		replyErr = q.RespondTo.Send(resultOf(book, err))
	case InsertBook:
		var n int64
		n, err = a.repo.InsertBook(ctx, q.Book)
		a.observe(kind, start, err)
		replyErr = q.RespondTo.Send(resultOf(n, err))
	case UpdateBookSetRemoved:
		var n int64
		n, err = a.repo.UpdateBookSetRemoved(ctx, q.ID, q.At)
		a.observe(kind, start, err)
		replyErr = q.RespondTo.Send(resultOf(n, err))
	default:
		a.log.Error("Unknown query", zap.String("kind", kind))
		q.closeReply()
		return
	}

	if err != nil {
		a.log.Debug("Query failed", zap.String("kind", kind), zap.Error(err))
	}
	if replyErr != nil {
		a.log.Warn("Failed to respond from database actor", zap.String("kind", kind), zap.Error(replyErr))
		metrics.ReplyFailuresTotal.WithLabelValues(Name).Inc()
	}
}

func (a *Actor) observe(kind string, start time.Time, err error) {
	metrics.DBQueryDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.DBQueriesTotal.WithLabelValues(kind, outcome(err)).Inc()
}

func (a *Actor) teardown() {
	pending := a.mailbox.Stop()
	for _, q := range pending {
		q.closeReply()
	}
	if len(pending) > 0 {
		a.log.Info("Closed queued queries without reply", zap.Int("count", len(pending)))
	}
	if err := a.repo.Close(); err != nil {
		a.log.Error("Failed to close database", zap.Error(err))
	}
}

func resultOf[T any](v T, err error) actor.Result[T] {
	if err != nil {
		return actor.Fail[T](err)
	}
	return actor.Ok(v)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	case errors.Is(err, storage.ErrInvalid):
		return "invalid"
	default:
		return "error"
	}
}
