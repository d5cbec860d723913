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

// Package web is the HTTP ingress actor. It serves the books API and reaches
// the database only through a database client.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/turtacn/shelf-go/pkg/actor"
	"github.com/turtacn/shelf-go/pkg/metrics"
	"github.com/turtacn/shelf-go/pkg/monitor"
	"github.com/turtacn/shelf-go/pkg/notify"
	"github.com/turtacn/shelf-go/pkg/shutdown"
	"github.com/turtacn/shelf-go/pkg/storage"
	"go.uber.org/zap"
)

// Name is the actor name used in logs and metrics.
const Name = "web"

// ErrBind is returned by Run when the listen address cannot be bound.
var ErrBind = errors.New("failed to bind listener")

// Books is the database client the handlers use. Release is called when the
// server stops.
type Books interface {
	SelectBooks(ctx context.Context) ([]storage.Book, error)
	SelectBookByID(ctx context.Context, id uuid.UUID) (storage.Book, error)
	InsertBook(ctx context.Context, book storage.Book) (int64, error)
	UpdateBookSetRemoved(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
	Release()
}

// Notifier receives change events.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
	Release()
}

// Option configures a Server.
type Option func(*Server)

// WithNotifier publishes a change event after every insert and removal.
func WithNotifier(n Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// WithLogger sets the server's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithShutdownGrace bounds how long in-flight requests may take once the
// shutdown signal fired. Zero means no bound.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Server) {
		s.grace = d
	}
}

// WithHealth serves checker on /healthz instead of a private one.
func WithHealth(checker *monitor.HealthChecker) Option {
	return func(s *Server) {
		s.health = checker
	}
}

// Server is the HTTP ingress actor.
type Server struct {
	actor.Once

	handle   shutdown.Handle
	addr     string
	books    Books
	notifier Notifier
	health   *monitor.HealthChecker
	grace    time.Duration
	log      *zap.Logger
	router   *mux.Router

	ready  chan struct{}
	bound  string
	served atomic.Int64
}

// Init wires the router. It does not listen; Run does.
func Init(handle shutdown.Handle, listenAddress string, books Books, opts ...Option) *Server {
	s := &Server{
		handle: handle,
		addr:   listenAddress,
		books:  books,
		grace:  10 * time.Second,
		log:    zap.NewNop(),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = monitor.NewHealthChecker()
	}
	token := handle.Token()
	s.health.RegisterCheck("shutdown", func(context.Context) error {
		if token.IsCancelled() {
			return errors.New("shutting down")
		}
		return nil
	}, true)

	s.router = s.routes()
	return s
}

// Name implements actor.Actor.
func (s *Server) Name() string {
	return Name
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Ready is closed once Run has tried to bind.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address once Ready is closed, or "" if binding
// failed.
func (s *Server) Addr() string {
	<-s.ready
	return s.bound
}

// Run binds the listener and serves until the shutdown signal fires. A bind
// failure requests global shutdown and returns ErrBind. In-flight requests
// get the grace period to finish.
func (s *Server) Run() actor.Summary {
	if err := s.Begin(Name); err != nil {
		return actor.Summary{Actor: Name, Err: err}
	}
	defer s.handle.Release()
	defer s.books.Release()
	if s.notifier != nil {
		defer s.notifier.Release()
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		close(s.ready)
		s.log.Error("Failed to bind listener", zap.String("address", s.addr), zap.Error(err))
		s.handle.Trigger(context.Background(), shutdown.CauseWebServer)
		return actor.Summary{Actor: Name, Err: fmt.Errorf("%w %s: %v", ErrBind, s.addr, err)}
	}
	s.bound = ln.Addr().String()
	close(s.ready)
	s.log.Info("Listening", zap.String("address", s.bound))

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case <-s.handle.Token().Done():
		s.log.Info("Shutdown signal received, draining", zap.Duration("grace", s.grace))
		ctx, cancel := s.drainContext()
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Warn("Graceful shutdown incomplete, closing", zap.Error(err))
			srv.Close()
		}
		<-serveErr
		return actor.Summary{Actor: Name, Processed: int(s.served.Load())}
	case err := <-serveErr:
		s.log.Error("HTTP server stopped unexpectedly", zap.Error(err))
		s.handle.Trigger(context.Background(), shutdown.CauseWebServer)
		return actor.Summary{Actor: Name, Processed: int(s.served.Load()), Err: fmt.Errorf("serve: %w", err)}
	}
}

// drainContext bounds the graceful shutdown. A grace of zero or less waits
// for in-flight requests without a deadline.
func (s *Server) drainContext() (context.Context, context.CancelFunc) {
	if s.grace <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), s.grace)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)
	r.NotFoundHandler = s.instrument(http.NotFoundHandler())
	r.MethodNotAllowedHandler = s.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}))

	r.HandleFunc("/", s.getRoot).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	monitor.NewHealthServer(s.health).RegisterRoutes(r)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/books", s.postOne).Methods(http.MethodPost)
	v1.HandleFunc("/books", s.getAll).Methods(http.MethodGet)
	v1.HandleFunc("/books/{id}", s.getOneByID).Methods(http.MethodGet)
	v1.HandleFunc("/books/{id}", s.deleteOneByID).Methods(http.MethodDelete)
	return r
}
