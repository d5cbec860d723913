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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/turtacn/shelf-go/pkg/actor"
	"github.com/turtacn/shelf-go/pkg/storage"
)

// ErrUnavailable is returned when the database actor has stopped or stopped
// before answering.
var ErrUnavailable = errors.New("database actor unavailable")

// Client is a typed front for a query mailbox sender. Each call builds the
// query, sends it and waits for the reply, all bounded by the caller's
// context. A Client may be used from many goroutines.
type Client struct {
	sender *actor.Sender[Query]
}

// NewClient wraps sender. The client owns it; call Release when done.
func NewClient(sender *actor.Sender[Query]) *Client {
	return &Client{sender: sender}
}

// Clone returns a client with its own handle.
func (c *Client) Clone() *Client {
	return NewClient(c.sender.Clone())
}

// Release drops the client's handle.
func (c *Client) Release() {
	c.sender.Release()
}

// SelectBooks returns every book.
func (c *Client) SelectBooks(ctx context.Context) ([]storage.Book, error) {
	tx, rx := actor.NewReply[actor.Result[[]storage.Book]]()
	if err := c.send(ctx, SelectManyBooks{RespondTo: tx}); err != nil {
		return nil, err
	}
	return await(ctx, rx)
}

// SelectBookByID returns one book or an error wrapping storage.ErrNotFound.
func (c *Client) SelectBookByID(ctx context.Context, id uuid.UUID) (storage.Book, error) {
	tx, rx := actor.NewReply[actor.Result[storage.Book]]()
	if err := c.send(ctx, SelectBookByID{ID: id, RespondTo: tx}); err != nil {
		return storage.Book{}, err
	}
	return await(ctx, rx)
}

// InsertBook stores book and returns the affected row count.
func (c *Client) InsertBook(ctx context.Context, book storage.Book) (int64, error) {
	tx, rx := actor.NewReply[actor.Result[int64]]()
	if err := c.send(ctx, InsertBook{Book: book, RespondTo: tx}); err != nil {
		return 0, err
	}
	return await(ctx, rx)
}

// UpdateBookSetRemoved marks a book removed and returns the affected row
// count.
func (c *Client) UpdateBookSetRemoved(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	tx, rx := actor.NewReply[actor.Result[int64]]()
	if err := c.send(ctx, UpdateBookSetRemoved{ID: id, At: at, RespondTo: tx}); err != nil {
		return 0, err
	}
	return await(ctx, rx)
}

func (c *Client) send(ctx context.Context, q Query) error {
	err := c.sender.Send(ctx, q)
	if errors.Is(err, actor.ErrMailboxClosed) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func await[T any](ctx context.Context, rx *actor.ReplyReceiver[actor.Result[T]]) (T, error) {
	res, err := rx.Receive(ctx)
	if err != nil {
		var zero T
		if errors.Is(err, actor.ErrNoReply) {
			return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return zero, err
	}
	return res.Unpack()
}
