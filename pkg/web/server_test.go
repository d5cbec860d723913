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

package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/shelf-go/pkg/actor"
	"github.com/turtacn/shelf-go/pkg/db"
	"github.com/turtacn/shelf-go/pkg/notify"
	"github.com/turtacn/shelf-go/pkg/shutdown"
	"github.com/turtacn/shelf-go/pkg/storage"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *fakeNotifier) Notify(ctx context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *fakeNotifier) Release() {}

func (n *fakeNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Kind
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

// brokenBooks fails every call.
type brokenBooks struct {
	released atomic.Bool
}

func (b *brokenBooks) SelectBooks(context.Context) ([]storage.Book, error) {
	return nil, db.ErrUnavailable
}

func (b *brokenBooks) SelectBookByID(context.Context, uuid.UUID) (storage.Book, error) {
	return storage.Book{}, db.ErrUnavailable
}

func (b *brokenBooks) InsertBook(context.Context, storage.Book) (int64, error) {
	return 0, db.ErrUnavailable
}

func (b *brokenBooks) UpdateBookSetRemoved(context.Context, uuid.UUID, time.Time) (int64, error) {
	return 0, db.ErrUnavailable
}

func (b *brokenBooks) Release() {
	b.released.Store(true)
}

// slowBooks holds SelectBooks until proceed is closed.
type slowBooks struct {
	brokenBooks
	entered chan struct{}
	proceed chan struct{}
}

func (b *slowBooks) SelectBooks(context.Context) ([]storage.Book, error) {
	close(b.entered)
	<-b.proceed
	return nil, nil
}

func newCoordinator() *shutdown.Coordinator {
	return shutdown.New(shutdown.WithSignals(make(chan os.Signal)))
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func runActor(a actor.Actor) <-chan actor.Summary {
	done := make(chan actor.Summary, 1)
	go func() { done <- a.Run() }()
	return done
}

// startDatabase runs a database actor over an in-memory store and stops it
// when the test ends.
func startDatabase(t *testing.T, c *shutdown.Coordinator) *db.Client {
	t.Helper()
	a := db.New(c.Handle(), storage.NewMemStore())
	client := a.Client()
	done := runActor(a)
	t.Cleanup(func() {
		client.Release()
		wait(t, done)
	})
	return client
}

type apiCall struct {
	t      *testing.T
	router http.Handler
}

func (c apiCall) do(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func TestBooksAPI(t *testing.T) {
	c := newCoordinator()
	books := startDatabase(t, c)
	notifier := &fakeNotifier{}
	s := Init(c.Handle(), "127.0.0.1:0", books, WithNotifier(notifier))
	api := apiCall{t: t, router: s.Handler()}

	rec := api.do(http.MethodPost, "/v1/books", `{"title":"Foo Bar!"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	location := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/v1/books/"))
	id := strings.TrimPrefix(location, "/v1/books/")

	rec = api.do(http.MethodGet, "/v1/books", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []apiBook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 1)
	assert.Equal(t, "Foo Bar!", all[0].Title)
	assert.Equal(t, id, all[0].ID.String())
	assert.Nil(t, all[0].RemovedAtUTC)

	rec = api.do(http.MethodGet, location, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var one apiBook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, all[0], one)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/v1/books/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/v1/books/not-a-uuid", "").Code)

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, location, "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodDelete, location, "").Code, "removing twice is rejected")
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, "/v1/books/"+uuid.NewString(), "").Code)

	rec = api.do(http.MethodGet, location, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	require.NotNil(t, one.RemovedAtUTC)
	assert.WithinDuration(t, time.Now(), *one.RemovedAtUTC, time.Minute)

	assert.Equal(t, []notify.Kind{notify.KindInserted, notify.KindRemoved}, notifier.kinds())
}

func TestPostBookValidation(t *testing.T) {
	c := newCoordinator()
	s := Init(c.Handle(), "127.0.0.1:0", startDatabase(t, c))
	api := apiCall{t: t, router: s.Handler()}

	id := uuid.NewString()
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodPost, "/v1/books", `{"id":"`+id+`","title":"Given id"}`).Code)
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, "/v1/books", `{"id":"`+id+`","title":"Again"}`).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/v1/books", `{"title":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/v1/books", `{"title":"`+strings.Repeat("x", 257)+`"}`).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/v1/books", `{"title":`).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/v1/books", `{"id":"nope","title":"x"}`).Code)
}

func TestRootAndOperationalRoutes(t *testing.T) {
	c := newCoordinator()
	s := Init(c.Handle(), "127.0.0.1:0", startDatabase(t, c))
	api := apiCall{t: t, router: s.Handler()}

	rec := api.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello world!", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = api.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shelf_http_requests_total")

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/v2/books", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, api.do(http.MethodPut, "/", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestDatabaseFailureIsInternalError(t *testing.T) {
	s := Init(newCoordinator().Handle(), "127.0.0.1:0", &brokenBooks{})
	api := apiCall{t: t, router: s.Handler()}

	assert.Equal(t, http.StatusInternalServerError, api.do(http.MethodGet, "/", "").Code)
	assert.Equal(t, http.StatusInternalServerError, api.do(http.MethodGet, "/v1/books", "").Code)
	assert.Equal(t, http.StatusInternalServerError, api.do(http.MethodGet, "/v1/books/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusInternalServerError, api.do(http.MethodPost, "/v1/books", `{"title":"x"}`).Code)
	assert.Equal(t, http.StatusInternalServerError, api.do(http.MethodDelete, "/v1/books/"+uuid.NewString(), "").Code)
}

func TestRunServesUntilShutdown(t *testing.T) {
	c := newCoordinator()
	books := &brokenBooks{}
	s := Init(c.Handle(), "127.0.0.1:0", books, WithShutdownGrace(time.Second))
	done := runActor(s)

	<-s.Ready()
	require.NotEmpty(t, s.Addr())

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + s.Addr() + "/healthz/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	go c.Run()
	h := c.Handle()
	h.Trigger(context.Background(), shutdown.CauseSignal)
	h.Release()

	summary := wait(t, done)
	assert.NoError(t, summary.Err)
	assert.Equal(t, Name, summary.Actor)
	assert.GreaterOrEqual(t, summary.Processed, 1)
	assert.True(t, books.released.Load())

	_, err = client.Get("http://" + s.Addr() + "/healthz/live")
	assert.Error(t, err)
}

func TestBindFailureRequestsShutdown(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	c := newCoordinator()
	coordinator := runActor(c)
	books := &brokenBooks{}
	s := Init(c.Handle(), taken.Addr().String(), books)

	summary := s.Run()
	assert.ErrorIs(t, summary.Err, ErrBind)
	assert.Empty(t, s.Addr())
	assert.True(t, books.released.Load())

	wait(t, coordinator)
	assert.Equal(t, shutdown.CauseWebServer, c.Cause())

	again := s.Run()
	assert.ErrorIs(t, again.Err, actor.ErrConsumed)
}

func TestShutdownWithoutGraceWaitsForInFlightRequests(t *testing.T) {
	c := newCoordinator()
	books := &slowBooks{entered: make(chan struct{}), proceed: make(chan struct{})}
	s := Init(c.Handle(), "127.0.0.1:0", books, WithShutdownGrace(0))
	done := runActor(s)
	addr := s.Addr()
	require.NotEmpty(t, addr)

	type response struct {
		code int
		err  error
	}
	responses := make(chan response, 1)
	go func() {
		client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
		resp, err := client.Get("http://" + addr + "/v1/books")
		if err != nil {
			responses <- response{err: err}
			return
		}
		resp.Body.Close()
		responses <- response{code: resp.StatusCode}
	}()
	wait[struct{}](t, books.entered)

	go c.Run()
	h := c.Handle()
	h.Trigger(context.Background(), shutdown.CauseSignal)
	h.Release()

	// Draining has started once the listener refuses new connections.
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return true
		}
		conn.Close()
		return false
	}, 5*time.Second, 10*time.Millisecond)

	close(books.proceed)
	r := wait[response](t, responses)
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusOK, r.code)
	assert.NoError(t, wait(t, done).Err)
}
