package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ScopeToken is a connection-scoped cancellation signal, distinct from the
// per-request context.Context the dispatcher already threads through
// Deliver/RunSideEffect. A context carries one request's deadline; a
// ScopeToken carries one connection's lifetime, so a background side effect
// goroutine (pipe_deadlock, notification_flood) can be told "this
// connection is gone" without a request context to hang it off of, and
// without the caller and the goroutine sharing a mutable "closed" flag.
type ScopeToken struct {
	id string

	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	err error
}

// NewScopeToken returns a live token stamped with a fresh scope ID.
func NewScopeToken() *ScopeToken {
	return &ScopeToken{id: uuid.NewString(), done: make(chan struct{})}
}

// ID is the scope identifier, used for the pipe transport's log fields.
// The HTTP+SSE transport does not use ScopeToken; its Mcp-Session-Id values
// are generated separately.
func (t *ScopeToken) ID() string { return t.id }

// Cancel marks the token done with reason. Only the first call has effect.
func (t *ScopeToken) Cancel(reason error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.err = reason
		t.mu.Unlock()
		close(t.done)
	})
}

// Done returns a channel closed once Cancel has been called.
func (t *ScopeToken) Done() <-chan struct{} { return t.done }

// Err returns the reason passed to Cancel, or nil if still live.
func (t *ScopeToken) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Context derives a context.Context bound to parent that is also cancelled
// when the token is. Per-request code downstream (delivery, side effects)
// only ever sees a context.Context; the token is how the transport layer
// tells that context's tree "shut down now" without threading a cancel
// function of its own through every call site.
func (t *ScopeToken) Context(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
