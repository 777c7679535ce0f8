package phase

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/dunia-labs/mcpfault/internal/config"
)

const defaultTickInterval = 100 * time.Millisecond

// tickInterval reads MCPFAULT_PHASE_TICK_MS, falling back to the 100ms
// default the elapsed trigger is specified against.
func tickInterval() time.Duration {
	v := os.Getenv("MCPFAULT_PHASE_TICK_MS")
	if v == "" {
		return defaultTickInterval
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return defaultTickInterval
	}
	return time.Duration(ms) * time.Millisecond
}

// RunTicker periodically re-checks the elapsed triggers of the next phase
// to enter, phases[state.Index()], so a time-based phase advances even on a connection with no
// traffic. It blocks until ctx is cancelled. onTransition is invoked with
// the phase just entered whenever the ticker itself wins a transition.
func (e *Engine) RunTicker(ctx context.Context, state *State, onTransition func(config.Phase)) {
	ticker := time.NewTicker(tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(state, onTransition)
		}
	}
}

func (e *Engine) tick(state *State, onTransition func(config.Phase)) {
	i := state.Index()
	current, ok := e.PhaseAt(i)
	if !ok {
		return
	}

	fires := false
	for _, t := range current.Triggers {
		if t.Kind == config.TriggerElapsed && triggerFires(state, t, Event{}) {
			fires = true
			break
		}
	}
	if !fires {
		return
	}
	if !state.advance(i) {
		return
	}
	if onTransition != nil {
		onTransition(current)
	}
}
