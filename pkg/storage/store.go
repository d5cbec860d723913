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

// package storage defines the book record and the repository interface the
// database actor owns, together with an in-memory implementation.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxTitleLength is the width of the title column.
const MaxTitleLength = 256

var (
	// ErrNotFound is returned when no book has the requested id.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when inserting a book whose id already exists.
	ErrConflict = errors.New("conflict")
	// ErrInvalid is returned for a book that violates the schema.
	ErrInvalid = errors.New("invalid record")
)

// Book is a row of the books table.
type Book struct {
	ID uuid.UUID
	// RemovedAtUTC is set once the book was marked removed. Removal is soft:
	// the row stays and is still returned by selects.
	RemovedAtUTC *time.Time
	Title        string
}

// Removed reports whether the book was marked removed.
func (b Book) Removed() bool {
	return b.RemovedAtUTC != nil
}

// Validate checks the book against the table constraints.
func (b Book) Validate() error {
	if b.ID == uuid.Nil {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	n := utf8.RuneCountInString(b.Title)
	if n == 0 {
		return fmt.Errorf("%w: title cannot be empty", ErrInvalid)
	}
	if n > MaxTitleLength {
		return fmt.Errorf("%w: title longer than %d characters", ErrInvalid, MaxTitleLength)
	}
	return nil
}

// Repository is the exclusively owned database resource.
// Implementations are not safe for concurrent use: exactly one actor owns a
// Repository for its whole lifetime and calls it sequentially.
type Repository interface {
	// SelectBooks returns every book, removed ones included.
	SelectBooks(ctx context.Context) ([]Book, error)
	// SelectBookByID returns the book with id, or ErrNotFound.
	SelectBookByID(ctx context.Context, id uuid.UUID) (Book, error)
	// InsertBook stores a new book and returns the number of affected rows.
	InsertBook(ctx context.Context, book Book) (int64, error)
	// UpdateBookSetRemoved marks the book removed at the given instant and
	// returns the number of affected rows (0 for an unknown id).
	UpdateBookSetRemoved(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
	// Ping verifies the resource is reachable.
	Ping(ctx context.Context) error
	// Close releases the resource.
	Close() error
}

// MemStore is an in-memory Repository.
// It has no lock: like every Repository it belongs to a single actor.
type MemStore struct {
	books map[uuid.UUID]Book
	order []uuid.UUID
}

// NewMemStore creates and returns a new instance of MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		books: make(map[uuid.UUID]Book),
	}
}

// SelectBooks returns the books in insertion order.
func (s *MemStore) SelectBooks(ctx context.Context) ([]Book, error) {
	out := make([]Book, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneBook(s.books[id]))
	}
	return out, nil
}

// SelectBookByID retrieves one book.
func (s *MemStore) SelectBookByID(ctx context.Context, id uuid.UUID) (Book, error) {
	b, ok := s.books[id]
	if !ok {
		return Book{}, ErrNotFound
	}
	return cloneBook(b), nil
}

// InsertBook adds a book.
func (s *MemStore) InsertBook(ctx context.Context, book Book) (int64, error) {
	if err := book.Validate(); err != nil {
		return 0, err
	}
	if _, ok := s.books[book.ID]; ok {
		return 0, fmt.Errorf("%w: book %s already exists", ErrConflict, book.ID)
	}
	s.books[book.ID] = cloneBook(book)
	s.order = append(s.order, book.ID)
	return 1, nil
}

// UpdateBookSetRemoved sets the removal instant.
func (s *MemStore) UpdateBookSetRemoved(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	b, ok := s.books[id]
	if !ok {
		return 0, nil
	}
	at = at.UTC()
	b.RemovedAtUTC = &at
	s.books[id] = b
	return 1, nil
}

// Ping always succeeds.
func (s *MemStore) Ping(ctx context.Context) error {
	return nil
}

// Close drops all data.
func (s *MemStore) Close() error {
	s.books = make(map[uuid.UUID]Book)
	s.order = nil
	return nil
}

func cloneBook(b Book) Book {
	if b.RemovedAtUTC != nil {
		at := *b.RemovedAtUTC
		b.RemovedAtUTC = &at
	}
	return b
}
