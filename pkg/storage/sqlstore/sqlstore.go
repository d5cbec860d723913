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

// Package sqlstore implements storage.Repository on database/sql. A Store
// holds a single connection pinned from the pool, so every statement of its
// owner runs on the same session.
package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/turtacn/shelf-go/pkg/config"
	"github.com/turtacn/shelf-go/pkg/storage"
)

const uniqueViolation = pq.ErrorCode("23505")

var schema = map[string]string{
	config.DriverPostgres: `CREATE TABLE IF NOT EXISTS books (
	id UUID PRIMARY KEY,
	removed_at_utc TIMESTAMP NULL,
	title VARCHAR(256) NOT NULL
)`,
	config.DriverSQLite: `CREATE TABLE IF NOT EXISTS books (
	id TEXT PRIMARY KEY,
	removed_at_utc TIMESTAMP NULL,
	title VARCHAR(256) NOT NULL
)`,
}

// Placeholders appear in ascending order of first use: go-sqlite3 numbers
// $N parameters by appearance.
const (
	selectBooks          = `SELECT id, removed_at_utc, title FROM books`
	selectBookByID       = `SELECT id, removed_at_utc, title FROM books WHERE id = $1`
	insertBook           = `INSERT INTO books (id, removed_at_utc, title) VALUES ($1, $2, $3)`
	updateBookSetRemoved = `UPDATE books SET removed_at_utc = $1 WHERE id = $2`
)

// Store is a storage.Repository over one database connection.
type Store struct {
	driver string
	db     *sql.DB
	conn   *sql.Conn
}

var _ storage.Repository = (*Store)(nil)

// Open establishes the connection and pings it once. There is no retry:
// an unreachable database is a startup error. When cfg.Migrate is set the
// books table is created if absent.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if _, ok := schema[cfg.Driver]; !ok {
		return nil, errors.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", cfg.Driver)
	}
	db.SetMaxOpenConns(1)

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connect to %s database", cfg.Driver)
	}
	s := &Store{driver: cfg.Driver, db: db, conn: conn}

	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates the books table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, schema[s.driver]); err != nil {
		return errors.Wrap(err, "create books table")
	}
	return nil
}

// SelectBooks returns all books.
func (s *Store) SelectBooks(ctx context.Context) ([]storage.Book, error) {
	rows, err := s.conn.QueryContext(ctx, selectBooks)
	if err != nil {
		return nil, errors.Wrap(err, "select books")
	}
	defer rows.Close()

	books := make([]storage.Book, 0)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate books")
	}
	return books, nil
}

// SelectBookByID returns one book or storage.ErrNotFound.
func (s *Store) SelectBookByID(ctx context.Context, id uuid.UUID) (storage.Book, error) {
	b, err := scanBook(s.conn.QueryRowContext(ctx, selectBookByID, id.String()))
	if stderrors.Is(err, sql.ErrNoRows) {
		return storage.Book{}, errors.Wrapf(storage.ErrNotFound, "book %s", id)
	}
	return b, err
}

// InsertBook inserts one row. A duplicate id yields storage.ErrConflict.
func (s *Store) InsertBook(ctx context.Context, book storage.Book) (int64, error) {
	if err := book.Validate(); err != nil {
		return 0, err
	}
	var removed sql.NullTime
	if book.RemovedAtUTC != nil {
		removed = sql.NullTime{Time: normalize(*book.RemovedAtUTC), Valid: true}
	}

	res, err := s.conn.ExecContext(ctx, insertBook, book.ID.String(), removed, book.Title)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errors.Wrapf(storage.ErrConflict, "book %s: %v", book.ID, err)
		}
		return 0, errors.Wrapf(err, "insert book %s", book.ID)
	}
	return affected(res)
}

// UpdateBookSetRemoved sets removed_at_utc and returns the affected row count.
func (s *Store) UpdateBookSetRemoved(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, updateBookSetRemoved, normalize(at), id.String())
	if err != nil {
		return 0, errors.Wrapf(err, "update book %s", id)
	}
	return affected(res)
}

// Ping checks the pinned connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return errors.Wrapf(err, "ping %s database", s.driver)
	}
	return nil
}

// Close returns the connection and closes the pool.
func (s *Store) Close() error {
	connErr := s.conn.Close()
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "close database")
	}
	if connErr != nil && !stderrors.Is(connErr, sql.ErrConnDone) {
		return errors.Wrap(connErr, "close connection")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner) (storage.Book, error) {
	var (
		b       storage.Book
		removed sql.NullTime
	)
	if err := row.Scan(&b.ID, &removed, &b.Title); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return b, err
		}
		return b, errors.Wrap(err, "scan book")
	}
	if removed.Valid {
		at := removed.Time.UTC()
		b.RemovedAtUTC = &at
	}
	return b, nil
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}

// normalize drops what a TIMESTAMP column cannot hold.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	var liteErr sqlite3.Error
	if stderrors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
