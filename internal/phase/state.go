// Package phase implements the per-scope phase engine: trigger evaluation,
// visible-state snapshot folding, and the compare-and-swap transition that
// the response-before-transition invariant depends on.
package phase

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is one scope's mutable phase-engine data: the current phase index,
// the time that phase was entered, and per-method event counters collected
// since then. A per-connection scope gets a fresh State; a global scope
// shares one across every connection.
type State struct {
	index     atomic.Int64
	enteredAt atomic.Int64 // UnixNano

	mu       sync.Mutex
	counters map[string]int64
}

// NewState returns a State at phase index 0, entered now.
func NewState() *State {
	s := &State{counters: make(map[string]int64)}
	s.enteredAt.Store(time.Now().UnixNano())
	return s
}

// Index returns the current phase index.
func (s *State) Index() int { return int(s.index.Load()) }

// EnteredAt returns when the current phase was entered.
func (s *State) EnteredAt() time.Time { return time.Unix(0, s.enteredAt.Load()) }

// IncrementMethod bumps the counter for method and returns its new value.
func (s *State) IncrementMethod(method string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[method]++
	return s.counters[method]
}

// CountFor returns the current counter value for method without mutating it.
func (s *State) CountFor(method string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[method]
}

// advance attempts to move the index from 'from' to 'from+1', resetting
// counters and entered_at only on success. The CompareAndSwap is what
// guarantees a trigger that fires on two concurrent requests advances
// exactly once.
func (s *State) advance(from int) bool {
	if !s.index.CompareAndSwap(int64(from), int64(from+1)) {
		return false
	}
	s.mu.Lock()
	s.counters = make(map[string]int64)
	s.mu.Unlock()
	s.enteredAt.Store(time.Now().UnixNano())
	return true
}
