package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is the run-scoped cancellation flag. It is set at most once; later
// calls to Cancel are no-ops. Each run gets its own Token.
type Token struct {
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	set    atomic.Bool

	mu     sync.Mutex
	reason string
}

// NewToken derives a token from parent. Cancelling parent (server shutdown)
// also cancels the token.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{parent: parent, ctx: ctx, cancel: cancel}
}

func (t *Token) Cancel() { t.CancelWithReason("") }

// CancelWithReason cancels the token on behalf of someone other than the
// user; reason ends up in the terminal event. Only the first cancel counts.
func (t *Token) CancelWithReason(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.set.Load() {
		return
	}
	t.reason = reason
	t.set.Store(true)
	t.cancel()
}

// Reason is the reason given to the cancel that took effect, if any.
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

func (t *Token) Cancelled() bool { return t.set.Load() || t.parent.Err() != nil }

func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Context is cancelled together with the token; blocking backend calls of the
// run use it so an in-flight request is abandoned on cancel.
func (t *Token) Context() context.Context { return t.ctx }

// release frees the context resources once the run is over.
func (t *Token) release() { t.cancel() }
