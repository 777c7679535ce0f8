package delivery

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dunia-labs/mcpfault/internal/config"
)

// Deliver writes one JSON-RPC response frame to w according to cfg's
// behavior. frame is the marshaled response body, without a terminator.
// Deliver enforces max_payload_bytes and max_nest_depth before writing
// anything; a limit violation returns a *GeneratorLimitError and leaves w
// untouched, so the dispatcher can still write a JSON-RPC error response
// in its place.
func Deliver(ctx context.Context, w FlushWriter, cfg config.DeliveryConfig, frame []byte, limits config.Limits) error {
	if err := checkPayloadLimit(frame, limits); err != nil {
		return err
	}
	switch cfg.Behavior {
	case "", config.DeliveryNormal:
		return deliverNormal(w, frame)
	case config.DeliverySlowLoris:
		return deliverSlowLoris(ctx, w, cfg.Params, frame)
	case config.DeliveryUnboundedLine:
		return deliverUnboundedLine(w, frame)
	case config.DeliveryNestedJSONWrap:
		return deliverNestedJSONWrap(w, cfg.Params, frame, limits)
	case config.DeliveryResponseDelay:
		return deliverResponseDelay(ctx, w, cfg.Params, frame, limits)
	default:
		return &Error{Reason: fmt.Sprintf("unknown delivery behavior %q", cfg.Behavior)}
	}
}

func deliverNormal(w FlushWriter, frame []byte) error {
	return writeFrame(w, frame)
}

// deliverSlowLoris writes frame in chunk_size byte pieces, sleeping
// byte_delay milliseconds between each, flushing after every piece so a
// reader sees the bytes trickle in rather than arrive in one write.
func deliverSlowLoris(ctx context.Context, w FlushWriter, params map[string]interface{}, frame []byte) error {
	byteDelay := paramInt(params, "byte_delay", 50)
	chunkSize := paramInt(params, "chunk_size", 1)
	if chunkSize <= 0 {
		chunkSize = 1
	}

	for offset := 0; offset < len(frame); offset += chunkSize {
		end := offset + chunkSize
		if end > len(frame) {
			end = len(frame)
		}
		if _, err := w.Write(frame[offset:end]); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if end < len(frame) {
			if !sleepWithContext(ctx, time.Duration(byteDelay)*time.Millisecond) {
				return ctx.Err()
			}
		}
	}
	return writeTerminator(w)
}

// deliverUnboundedLine writes frame with no terminator and never flushes
// a closing newline, modeling a peer that starts a line and never ends it.
func deliverUnboundedLine(w FlushWriter, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return w.Flush()
}

// deliverNestedJSONWrap wraps frame in depth layers of {"wrap": ...}
// before writing it, so a client's JSON parser has to recurse depth levels
// before reaching the real response.
func deliverNestedJSONWrap(w FlushWriter, params map[string]interface{}, frame []byte, limits config.Limits) error {
	depth := paramInt(params, "depth", 10)
	if limits.MaxNestDepth > 0 && depth > limits.MaxNestDepth {
		return &GeneratorLimitError{Kind: "nested_json_wrap", Limit: "max_nest_depth", Requested: int64(depth), Max: int64(limits.MaxNestDepth)}
	}
	return writeFrame(w, wrapNested(frame, depth))
}

func wrapNested(frame []byte, depth int) []byte {
	const open = `{"wrap":`
	var buf bytes.Buffer
	buf.Grow(len(frame) + depth*(len(open)+1))
	for i := 0; i < depth; i++ {
		buf.WriteString(open)
	}
	buf.Write(frame)
	for i := 0; i < depth; i++ {
		buf.WriteByte('}')
	}
	return buf.Bytes()
}

// deliverResponseDelay sleeps delay_ms before writing frame normally. Per
// design this is the only behavior allowed to precede another; composing
// it with slow_loris or nested_json_wrap in the same phase is not
// supported by a single DeliveryConfig and is left undefined, matching the
// "combinations beyond that are not defined" scoping.
func deliverResponseDelay(ctx context.Context, w FlushWriter, params map[string]interface{}, frame []byte, limits config.Limits) error {
	delayMs := paramInt(params, "delay_ms", 0)
	if !sleepWithContext(ctx, time.Duration(delayMs)*time.Millisecond) {
		return ctx.Err()
	}
	return deliverNormal(w, frame)
}
