package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger provides structured logging for key lifecycle events: phase
// transitions, scheduled side effects, generator limit hits, and delivery
// starts.
type EventLogger struct {
	logger  *slog.Logger
	scopeID string
	connID  string
}

// NewEventLogger creates a new EventLogger with JSON output to stdout.
// It includes base attributes: scope_id and conn_id.
func NewEventLogger(scopeID, connID string) *EventLogger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler).With(
		"scope_id", scopeID,
		"conn_id", connID,
	)
	return &EventLogger{
		logger:  logger,
		scopeID: scopeID,
		connID:  connID,
	}
}

// NewEventLoggerWithWriter creates a new EventLogger with JSON output to a custom writer.
// Useful for testing or redirecting output.
func NewEventLoggerWithWriter(scopeID, connID string, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler).With(
		"scope_id", scopeID,
		"conn_id", connID,
	)
	return &EventLogger{
		logger:  logger,
		scopeID: scopeID,
		connID:  connID,
	}
}

// LogPhaseTransition logs a phase advance.
// event: "phase_transition"
// Attributes: scope, from_index, to_index, reason
func (el *EventLogger) LogPhaseTransition(scope string, fromIndex, toIndex int, reason string) {
	el.logger.Info("phase_transition",
		"scope", scope,
		"from_index", fromIndex,
		"to_index", toIndex,
		"reason", reason,
	)
}

// LogSideEffectScheduled logs when a side effect is queued to run after a
// response has been handed to the delivery layer.
// event: "side_effect_scheduled"
// Attributes: kind, phase_index, delay_ms
func (el *EventLogger) LogSideEffectScheduled(kind string, phaseIndex int, delayMs int64) {
	el.logger.Info("side_effect_scheduled",
		"kind", kind,
		"phase_index", phaseIndex,
		"delay_ms", delayMs,
	)
}

// LogGeneratorLimit logs when a response-time resource limit aborted a
// generator's output.
// event: "generator_limit"
// Attributes: generator_type, limit, actual
func (el *EventLogger) LogGeneratorLimit(generatorType, limit string, actual int64) {
	el.logger.Warn("generator_limit",
		"generator_type", generatorType,
		"limit", limit,
		"actual", actual,
	)
}

// LogDeliveryStart logs the start of a response delivery, before any
// configured delay or chunking begins.
// event: "delivery_start"
// Attributes: method, behavior, phase_index
func (el *EventLogger) LogDeliveryStart(method, behavior string, phaseIndex int) {
	el.logger.Info("delivery_start",
		"method", method,
		"behavior", behavior,
		"phase_index", phaseIndex,
	)
}

// LogConnectionOpened logs when a new connection is accepted.
// event: "connection_opened"
// Attributes: transport
func (el *EventLogger) LogConnectionOpened(transport string) {
	el.logger.Info("connection_opened",
		"transport", transport,
	)
}

// LogConnectionClosed logs when a connection ends.
// event: "connection_closed"
// Attributes: reason, lifetime_ms
func (el *EventLogger) LogConnectionClosed(reason string, lifetimeMs int64) {
	el.logger.Info("connection_closed",
		"reason", reason,
		"lifetime_ms", lifetimeMs,
	)
}

// Global logger management
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance.
// If no logger is set, returns a no-op logger.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}

var (
	noopLogger     *EventLogger
	noopLoggerOnce sync.Once
)

// NoopEventLogger returns the singleton event logger that discards all
// events. Useful for testing or when event logging is disabled.
func NoopEventLogger() *EventLogger {
	noopLoggerOnce.Do(func() {
		handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
		noopLogger = &EventLogger{
			logger:  slog.New(handler),
			scopeID: "",
			connID:  "",
		}
	})
	return noopLogger
}
