package phase

import (
	"sync"
	"time"

	"github.com/dunia-labs/mcpfault/internal/config"
)

// Engine evaluates triggers and computes visible-state snapshots for one
// loaded configuration. A single Engine is shared by every scope's State:
// fold(baseline, phases[0..index]) is pure and keyed only by index, never
// by which scope asked, so the memoized snapshot table lives here rather
// than per State.
type Engine struct {
	cfg *config.ServerConfig

	mu        sync.RWMutex
	snapshots map[int]ServerState
}

// NewEngine returns an Engine over a frozen configuration.
func NewEngine(cfg *config.ServerConfig) *Engine {
	return &Engine{cfg: cfg, snapshots: make(map[int]ServerState)}
}

// PhaseCount returns the number of configured phases.
func (e *Engine) PhaseCount() int { return len(e.cfg.Phases) }

// PhaseAt returns the phase at index, if any.
func (e *Engine) PhaseAt(index int) (config.Phase, bool) {
	if index < 0 || index >= len(e.cfg.Phases) {
		return config.Phase{}, false
	}
	return e.cfg.Phases[index], true
}

// ActivePhase returns the phase that was last entered for a scope at a
// given index — phases[index-1], since index counts how many phase diffs
// have already been folded in. At index 0 no phase is active yet (the
// baseline is), so ok is false.
func (e *Engine) ActivePhase(index int) (config.Phase, bool) {
	return e.PhaseAt(index - 1)
}

// Snapshot returns the memoized visible_state(index).
func (e *Engine) Snapshot(index int) ServerState {
	e.mu.RLock()
	s, ok := e.snapshots[index]
	e.mu.RUnlock()
	if ok {
		return s
	}

	s = foldState(e.cfg, index)

	e.mu.Lock()
	e.snapshots[index] = s
	e.mu.Unlock()
	return s
}

// Event is one inbound dispatch used to evaluate triggers after a response
// has already been handed to delivery, per the response-before-transition
// invariant.
type Event struct {
	Method string
	Params []byte
}

// Observe increments the matching event_count counter for ev.Method and
// checks every trigger of phases[index], the next phase to enter, for the
// index state had when the request arrived.
// It must only be called after the response for that request has already
// been accepted by the delivery layer. If a trigger fires, it performs the
// compare-and-swap advance and returns the phase just entered so the
// caller can enqueue its on_enter side effects; a transition lost to a
// concurrent Observe reports transitioned=false.
func (e *Engine) Observe(state *State, ev Event) (entered config.Phase, transitioned bool) {
	i := state.Index()
	current, ok := e.PhaseAt(i)
	if !ok {
		return config.Phase{}, false
	}

	if ev.Method != "" {
		state.IncrementMethod(ev.Method)
	}

	if !anyTriggerFires(state, current, ev) {
		return config.Phase{}, false
	}
	if !state.advance(i) {
		return config.Phase{}, false
	}

	// current is the phase just entered: its own Triggers gated folding in
	// its own Diff and firing its own OnEnter, all three living on the same
	// config.Phase value.
	return current, true
}

func anyTriggerFires(state *State, phase config.Phase, ev Event) bool {
	for _, t := range phase.Triggers {
		if triggerFires(state, t, ev) {
			return true
		}
	}
	return false
}

func triggerFires(state *State, t config.Trigger, ev Event) bool {
	switch t.Kind {
	case config.TriggerEventCount:
		if ev.Method == "" || ev.Method != t.Method {
			return false
		}
		return state.CountFor(t.Method) >= int64(t.Count)
	case config.TriggerElapsed:
		return time.Since(state.EnteredAt()) >= durationFromSeconds(t.Seconds)
	case config.TriggerContentMatch:
		return contentMatches(ev.Params, t.Field, t.Pattern)
	default:
		return false
	}
}

func durationFromSeconds(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
