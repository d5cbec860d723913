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

package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrMailboxClosed is returned by Send when the receiving actor has stopped
// or the sender handle was released, and by Receive once every sender has
// been released and the queue is drained.
var ErrMailboxClosed = errors.New("actor: mailbox closed")

// Mailbox is a bounded, ordered, multi-producer single-consumer message
// queue for an actor.
// It uses a buffered channel to store incoming messages. A full mailbox
// suspends senders, which is how a busy actor pushes back on its callers.
type Mailbox[M any] struct {
	messages chan M

	// gate lets Stop wait for senders that are mid-flight before it drains.
	gate     sync.RWMutex
	stopped  chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	senders int
	closed  chan struct{}
	isShut  bool
}

// NewMailbox creates a new mailbox with the given buffer size.
// Sizes below 1 are raised to 1.
func NewMailbox[M any](size int) *Mailbox[M] {
	if size < 1 {
		size = 1
	}
	return &Mailbox[M]{
		messages: make(chan M, size),
		stopped:  make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// Sender returns a new sender handle. Every handle must eventually be
// released; the mailbox closes when the last one is.
// A handle minted after the mailbox closed is born released.
func (mb *Mailbox[M]) Sender() *Sender[M] {
	s := &Sender[M]{mb: mb}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.isShut {
		s.released.Store(true)
		return s
	}
	mb.senders++
	return s
}

func (mb *Mailbox[M]) release() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.senders--
	if mb.senders == 0 && !mb.isShut {
		mb.isShut = true
		close(mb.closed)
	}
}

// Receive blocks until a message is received, the context is canceled, or
// the mailbox is closed and empty.
// Messages already queued when the last sender is released are still
// delivered before ErrMailboxClosed.
func (mb *Mailbox[M]) Receive(ctx context.Context) (M, error) {
	var zero M
	select {
	case msg := <-mb.messages:
		return msg, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-mb.stopped:
		return zero, ErrMailboxClosed
	case <-mb.closed:
		select {
		case msg := <-mb.messages:
			return msg, nil
		default:
			return zero, ErrMailboxClosed
		}
	}
}

// Stop is called by the receiving actor when it terminates. Further sends
// fail with ErrMailboxClosed, senders blocked on a full mailbox are woken,
// and the messages still queued are returned so the actor can fail them.
func (mb *Mailbox[M]) Stop() []M {
	mb.stopOnce.Do(func() { close(mb.stopped) })

	mb.gate.Lock()
	defer mb.gate.Unlock()

	var pending []M
	for {
		select {
		case msg := <-mb.messages:
			pending = append(pending, msg)
		default:
			return pending
		}
	}
}

// Chan returns the underlying message channel.
// This allows for selecting from multiple sources at once. Use it together
// with Closed, since the channel itself is never closed.
func (mb *Mailbox[M]) Chan() <-chan M {
	return mb.messages
}

// Closed returns a channel that is closed once every sender was released.
func (mb *Mailbox[M]) Closed() <-chan struct{} {
	return mb.closed
}

// Len returns the number of queued messages.
func (mb *Mailbox[M]) Len() int {
	return len(mb.messages)
}

// Cap returns the capacity of the mailbox.
func (mb *Mailbox[M]) Cap() int {
	return cap(mb.messages)
}

// Sender is a producer handle onto a Mailbox. It is safe to share between
// goroutines and may be cloned freely.
type Sender[M any] struct {
	mb       *Mailbox[M]
	released atomic.Bool
}

// Send puts a message into the mailbox.
// It blocks while the mailbox is full, until there is space, the receiver
// stops, or ctx is done.
func (s *Sender[M]) Send(ctx context.Context, msg M) error {
	if s.released.Load() {
		return ErrMailboxClosed
	}
	mb := s.mb

	mb.gate.RLock()
	defer mb.gate.RUnlock()

	select {
	case <-mb.stopped:
		return ErrMailboxClosed
	default:
	}

	select {
	case mb.messages <- msg:
		return nil
	case <-mb.stopped:
		return ErrMailboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clone returns an independent handle onto the same mailbox.
func (s *Sender[M]) Clone() *Sender[M] {
	if s.released.Load() {
		c := &Sender[M]{mb: s.mb}
		c.released.Store(true)
		return c
	}
	return s.mb.Sender()
}

// Release drops the handle. It is idempotent.
func (s *Sender[M]) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.mb.release()
	}
}
