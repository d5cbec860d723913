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
)

var (
	// ErrReplyAlreadySent is returned when a second value is sent on a reply.
	ErrReplyAlreadySent = errors.New("actor: reply already sent")
	// ErrReplyAbandoned is returned to the replying actor when the caller
	// stopped waiting.
	ErrReplyAbandoned = errors.New("actor: reply abandoned by receiver")
	// ErrNoReply is returned to the caller when the replying side closed the
	// channel without a value.
	ErrNoReply = errors.New("actor: closed without reply")
	// ErrReplyConsumed is returned by a second Receive on the same reply.
	ErrReplyConsumed = errors.New("actor: reply already received")
)

type replyState int

const (
	replyPending replyState = iota
	replySent
	replyClosed
	replyAbandoned
	replyDelivered
)

type reply[R any] struct {
	mu      sync.Mutex
	state   replyState
	value   chan R
	noReply chan struct{}
}

// ReplySender is the writing end of a single-use reply channel.
type ReplySender[R any] struct {
	r *reply[R]
}

// ReplyReceiver is the reading end of a single-use reply channel.
type ReplyReceiver[R any] struct {
	r *reply[R]
}

// NewReply creates a reply channel that carries exactly one value.
func NewReply[R any]() (*ReplySender[R], *ReplyReceiver[R]) {
	r := &reply[R]{
		value:   make(chan R, 1),
		noReply: make(chan struct{}),
	}
	return &ReplySender[R]{r: r}, &ReplyReceiver[R]{r: r}
}

// Send delivers v. It never blocks. Only the first call can succeed; later
// calls return ErrReplyAlreadySent and leave the first value untouched.
func (s *ReplySender[R]) Send(v R) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	switch s.r.state {
	case replyPending:
	case replyAbandoned:
		return ErrReplyAbandoned
	default:
		return ErrReplyAlreadySent
	}
	s.r.state = replySent
	s.r.value <- v
	return nil
}

// Close declares that no value will be sent. The receiver gets ErrNoReply.
// It is a no-op once a value was sent.
func (s *ReplySender[R]) Close() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	if s.r.state == replyPending {
		s.r.state = replyClosed
		close(s.r.noReply)
	}
}

// Receive waits for the value.
// If ctx is done first the reply is abandoned: the sender's Send then fails
// with ErrReplyAbandoned. A value that raced with the cancellation wins.
func (r *ReplyReceiver[R]) Receive(ctx context.Context) (R, error) {
	var zero R

	r.r.mu.Lock()
	switch r.r.state {
	case replyDelivered:
		r.r.mu.Unlock()
		return zero, ErrReplyConsumed
	case replyAbandoned:
		r.r.mu.Unlock()
		return zero, ErrReplyAbandoned
	}
	r.r.mu.Unlock()

	select {
	case v := <-r.r.value:
		r.markDelivered()
		return v, nil
	case <-r.r.noReply:
		return zero, ErrNoReply
	case <-ctx.Done():
		r.r.mu.Lock()
		defer r.r.mu.Unlock()
		switch r.r.state {
		case replySent:
			r.r.state = replyDelivered
			return <-r.r.value, nil
		case replyPending:
			r.r.state = replyAbandoned
		}
		return zero, ctx.Err()
	}
}

// Abandon tells the sender that nobody is waiting any more.
func (r *ReplyReceiver[R]) Abandon() {
	r.r.mu.Lock()
	defer r.r.mu.Unlock()
	if r.r.state == replyPending {
		r.r.state = replyAbandoned
	}
}

func (r *ReplyReceiver[R]) markDelivered() {
	r.r.mu.Lock()
	r.r.state = replyDelivered
	r.r.mu.Unlock()
}
