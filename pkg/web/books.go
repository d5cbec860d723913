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
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/turtacn/shelf-go/pkg/logger"
	"github.com/turtacn/shelf-go/pkg/notify"
	"github.com/turtacn/shelf-go/pkg/storage"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// apiBook is the HTTP representation of a book. It is kept apart from
// storage.Book so the two can change independently.
type apiBook struct {
	ID           uuid.UUID  `json:"id"`
	RemovedAtUTC *time.Time `json:"removed_at_utc"`
	Title        string     `json:"title"`
}

func toAPI(b storage.Book) apiBook {
	return apiBook{ID: b.ID, RemovedAtUTC: b.RemovedAtUTC, Title: b.Title}
}

func (b apiBook) toStorage() storage.Book {
	book := storage.Book{ID: b.ID, Title: b.Title}
	if b.RemovedAtUTC != nil {
		at := b.RemovedAtUTC.UTC()
		book.RemovedAtUTC = &at
	}
	return book
}

// getRoot answers with a banner once the database has served a query.
func (s *Server) getRoot(w http.ResponseWriter, r *http.Request) {
	if _, err := s.books.SelectBooks(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Hello world!"))
}

func (s *Server) postOne(w http.ResponseWriter, r *http.Request) {
	var in apiBook
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&in); err != nil {
		s.badRequest(w, r, "Malformed book", err)
		return
	}

	book := in.toStorage()
	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}
	if err := book.Validate(); err != nil {
		s.badRequest(w, r, "Invalid book", err)
		return
	}

	if _, err := s.books.InsertBook(r.Context(), book); err != nil {
		s.fail(w, r, err)
		return
	}
	s.publish(r.Context(), notify.Event{
		Kind:   notify.KindInserted,
		BookID: book.ID,
		Title:  book.Title,
		At:     time.Now().UTC(),
	})
	w.Header().Set("Location", "/v1/books/"+book.ID.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getAll(w http.ResponseWriter, r *http.Request) {
	books, err := s.books.SelectBooks(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]apiBook, 0, len(books))
	for _, b := range books {
		out = append(out, toAPI(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getOneByID(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bookID(w, r)
	if !ok {
		return
	}
	book, err := s.books.SelectBookByID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPI(book))
}

// deleteOneByID marks a book removed. Removing a book twice is a client
// error.
func (s *Server) deleteOneByID(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bookID(w, r)
	if !ok {
		return
	}
	existing, err := s.books.SelectBookByID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if existing.Removed() {
		logger.FromContext(r.Context(), s.log).Error("Cannot remove book: already removed",
			zap.Stringer("book_id", id),
			zap.Time("removed_at_utc", *existing.RemovedAtUTC))
		http.Error(w, "book already removed", http.StatusBadRequest)
		return
	}

	at := time.Now().UTC()
	n, err := s.books.UpdateBookSetRemoved(r.Context(), id, at)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if n == 0 {
		s.fail(w, r, storage.ErrNotFound)
		return
	}
	s.publish(r.Context(), notify.Event{
		Kind:   notify.KindRemoved,
		BookID: id,
		Title:  existing.Title,
		At:     at,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) bookID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.badRequest(w, r, "Malformed book id", err)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) publish(ctx context.Context, ev notify.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		logger.FromContext(ctx, s.log).Warn("Failed to enqueue change event",
			zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logger.FromContext(r.Context(), s.log).Info(msg, zap.Error(err))
	http.Error(w, msg, http.StatusBadRequest)
}

// fail maps a database client error to a status code. Anything the request
// itself did not cause is a 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, storage.ErrInvalid):
		code = http.StatusBadRequest
	}
	log := logger.FromContext(r.Context(), s.log)
	if code == http.StatusInternalServerError {
		log.Error("Database request failed", zap.Error(err))
	} else {
		log.Info("Database request rejected", zap.Int("code", code), zap.Error(err))
	}
	http.Error(w, http.StatusText(code), code)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
