// Package dispatcher glues the phase engine and delivery layer into the
// response-before-transition request cycle: receive a JSON-RPC request,
// assemble a response from the current phase snapshot, hand it to
// delivery, then evaluate triggers and fire any transition's on_enter
// side effects.
package dispatcher

import (
	"sync"

	"github.com/dunia-labs/mcpfault/internal/delivery"
	"github.com/dunia-labs/mcpfault/internal/phase"
)

// Scope is the dispatcher-level bookkeeping for one phase scope: its phase
// state, the last response frame sent (duplicate_request_ids replays it),
// and a lock serializing writes from the main response path against any
// side effect goroutines sharing the same writer.
type Scope struct {
	State *phase.State

	mu           sync.Mutex
	lastResponse []byte

	writeMu sync.Mutex

	broadcastMu     sync.Mutex
	broadcastWriter delivery.FlushWriter
}

// NewScope returns a Scope at phase index 0. Transport creates one per
// connection for per-connection scope, or shares a single Scope across
// every connection for global scope.
func NewScope() *Scope {
	return &Scope{State: phase.NewState()}
}

func (s *Scope) recordResponse(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResponse = append([]byte(nil), frame...)
}

// LastResponse returns the most recently sent response frame, or nil if
// this scope has not yet sent one.
func (s *Scope) LastResponse() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponse
}

func (s *Scope) guard(w delivery.FlushWriter) delivery.FlushWriter {
	return &guardedWriter{w: w, mu: &s.writeMu}
}

// SetBroadcastWriter registers w as the destination for on_enter side
// effects, instead of the writer belonging to whichever request happened
// to trigger the transition. The HTTP+SSE transport calls this with its SSE
// stream once one is open for this scope, since side effects are
// server-initiated messages rather than responses. Passing nil clears it,
// falling back to the triggering request's own writer.
func (s *Scope) SetBroadcastWriter(w delivery.FlushWriter) {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	if w == nil {
		s.broadcastWriter = nil
		return
	}
	s.broadcastWriter = s.guard(w)
}

// effectWriter returns the registered broadcast writer, or fallback if none
// is set.
func (s *Scope) effectWriter(fallback delivery.FlushWriter) delivery.FlushWriter {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	if s.broadcastWriter != nil {
		return s.broadcastWriter
	}
	return fallback
}

// guardedWriter serializes each Write and Flush call on w, so on_enter side
// effects running in their own goroutines (notification_flood,
// pipe_deadlock) never split a single Write of the main response path or
// of each other.
type guardedWriter struct {
	w  delivery.FlushWriter
	mu *sync.Mutex
}

func (g *guardedWriter) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.w.Write(p)
}

func (g *guardedWriter) Flush() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.w.Flush()
}
