package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunia-labs/mcpfault/internal/config"
	"github.com/dunia-labs/mcpfault/internal/generators"
	"github.com/dunia-labs/mcpfault/internal/types"
)

// ErrCloseConnection signals the close_connection side effect: the caller
// owns the transport and must shut it down after this call returns, once
// any already-queued writes have drained.
var ErrCloseConnection = errors.New("delivery: close_connection requested")

// RunSideEffect executes one on_enter or per-response side effect against
// w. ctx bounds any side effect that loops or sleeps (notification_flood,
// pipe_deadlock), so tearing down the connection cancels it at its next
// suspension point. lastResponse is the most recently delivered response
// frame, needed by duplicate_request_ids.
func RunSideEffect(ctx context.Context, w FlushWriter, se config.SideEffect, lastResponse []byte, limits config.Limits) error {
	switch se.Kind {
	case config.SideEffectSendNotification:
		return sendNotification(w, se.Params)
	case config.SideEffectNotificationFlood:
		go runNotificationFlood(ctx, w, se.Params)
		return nil
	case config.SideEffectBatchAmplify:
		return batchAmplify(w, se.Params, limits)
	case config.SideEffectPipeDeadlock:
		return pipeDeadlock(ctx, w)
	case config.SideEffectCloseConnection:
		return ErrCloseConnection
	case config.SideEffectDuplicateRequestIDs:
		return duplicateRequestIDs(w, se.Params, lastResponse)
	default:
		return &Error{Reason: fmt.Sprintf("unknown side effect kind %q", se.Kind)}
	}
}

func sendNotification(w FlushWriter, params map[string]interface{}) error {
	method := paramString(params, "method", "")
	if method == "" {
		return &Error{Reason: "send_notification requires a method"}
	}
	var rawParams json.RawMessage
	if p, ok := params["params"]; ok {
		b, err := json.Marshal(p)
		if err != nil {
			return err
		}
		rawParams = b
	}
	frame, err := json.Marshal(types.JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: rawParams})
	if err != nil {
		return err
	}
	return writeFrame(w, frame)
}

// runNotificationFlood emits notifications at a fixed rate for duration
// seconds, or until ctx is cancelled, whichever comes first. It runs in
// its own goroutine so the triggering response isn't held up by it.
func runNotificationFlood(ctx context.Context, w FlushWriter, params map[string]interface{}) {
	rate := paramFloat(params, "rate", 10)
	if rate <= 0 {
		return
	}
	durationSeconds := paramFloat(params, "duration", 1)
	method := paramString(params, "method", "notifications/flood")
	interval := time.Duration(float64(time.Second) / rate)
	deadline := time.Now().Add(time.Duration(durationSeconds * float64(time.Second)))

	for time.Now().Before(deadline) {
		if !sleepWithContext(ctx, interval) {
			return
		}
		frame, err := json.Marshal(types.JSONRPCNotification{JSONRPC: "2.0", Method: method})
		if err != nil {
			return
		}
		if err := writeFrame(w, frame); err != nil {
			return
		}
	}
}

// batchAmplify builds a JSON-RPC batch of count copies of method via the
// batch_notifications generator and writes it as a single frame.
func batchAmplify(w FlushWriter, params map[string]interface{}, limits config.Limits) error {
	count := paramInt(params, "count", 10)
	if limits.MaxBatchSize > 0 && count > limits.MaxBatchSize {
		return &GeneratorLimitError{Kind: "batch_amplify", Limit: "max_batch_size", Requested: int64(count), Max: int64(limits.MaxBatchSize)}
	}
	method := paramString(params, "method", "notifications/amplified")

	gen, err := generators.Default.Build("batch_notifications", map[string]interface{}{"count": count, "method": method})
	if err != nil {
		return err
	}
	payload, err := gen.Generate(0)
	if err != nil {
		return err
	}
	if err := checkPayloadLimit(payload, limits); err != nil {
		return err
	}
	return writeFrame(w, payload)
}

// pipeDeadlock writes fixed-size chunks until the writer blocks or errors,
// intended to fill an unread pipe's OS buffer and wedge a client that
// never drains it. It only makes sense over a transport with a bounded
// buffer (the stdio pipe); an HTTP transport will simply accept the bytes.
func pipeDeadlock(ctx context.Context, w FlushWriter) error {
	chunk := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
}

// duplicateRequestIDs re-sends the last response frame count more times,
// so a client sees several responses carrying the same JSON-RPC id.
func duplicateRequestIDs(w FlushWriter, params map[string]interface{}, lastResponse []byte) error {
	if len(lastResponse) == 0 {
		return &Error{Reason: "duplicate_request_ids has no prior response to replay"}
	}
	count := paramInt(params, "count", 1)
	for i := 0; i < count; i++ {
		if err := writeFrame(w, lastResponse); err != nil {
			return err
		}
	}
	return nil
}
