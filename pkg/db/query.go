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

package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/turtacn/shelf-go/pkg/actor"
	"github.com/turtacn/shelf-go/pkg/storage"
)

// Query is a request to the database actor. The set of queries is closed:
// only the types in this file implement it. Each query carries the sender
// half of its reply channel.
type Query interface {
	// Kind names the query in logs and metrics.
	Kind() string

	isQuery()
	closeReply()
}

// SelectManyBooks asks for every book.
type SelectManyBooks struct {
	RespondTo *actor.ReplySender[actor.Result[[]storage.Book]]
}

// SelectBookByID asks for one book.
type SelectBookByID struct {
	ID        uuid.UUID
	RespondTo *actor.ReplySender[actor.Result[storage.Book]]
}

// InsertBook stores a book. The reply carries the affected row count.
type InsertBook struct {
	Book      storage.Book
	RespondTo *actor.ReplySender[actor.Result[int64]]
}

// UpdateBookSetRemoved marks a book removed at At. The reply carries the
// affected row count.
type UpdateBookSetRemoved struct {
	ID        uuid.UUID
	At        time.Time
	RespondTo *actor.ReplySender[actor.Result[int64]]
}

func (SelectManyBooks) Kind() string      { return "select_many_books" }
func (SelectBookByID) Kind() string       { return "select_book_by_id" }
func (InsertBook) Kind() string           { return "insert_book" }
func (UpdateBookSetRemoved) Kind() string { return "update_book_set_removed" }

func (SelectManyBooks) isQuery()      {}
func (SelectBookByID) isQuery()       {}
func (InsertBook) isQuery()           {}
func (UpdateBookSetRemoved) isQuery() {}

func (q SelectManyBooks) closeReply()      { q.RespondTo.Close() }
func (q SelectBookByID) closeReply()       { q.RespondTo.Close() }
func (q InsertBook) closeReply()           { q.RespondTo.Close() }
func (q UpdateBookSetRemoved) closeReply() { q.RespondTo.Close() }
