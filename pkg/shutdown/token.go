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

package shutdown

import "context"

// Token observes a cancellation signal. Tokens form a tree: cancelling a
// token cancels every token derived from it and never its parent. Once a
// token reports cancelled it stays cancelled.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newToken(parent context.Context) Token {
	ctx, cancel := context.WithCancel(parent)
	return Token{ctx: ctx, cancel: cancel}
}

// IsCancelled reports whether the signal has fired.
func (t Token) IsCancelled() bool {
	return t.ctx.Err() != nil
}

// Done returns a channel that is closed when the signal fires.
func (t Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context exposes the token as a context for APIs that take one.
func (t Token) Context() context.Context {
	return t.ctx
}

// Child derives an independent observer rooted at this token.
func (t Token) Child() Token {
	return newToken(t.ctx)
}

// Cancel fires this token and its descendants. It is idempotent.
func (t Token) Cancel() {
	t.cancel()
}
