// Package delivery writes JSON-RPC response frames to a transport
// according to a configured DeliveryBehavior, and fires the SideEffects
// bound to phase entry or individual responses.
package delivery

import "fmt"

// Error reports a delivery-layer problem that isn't a resource-limit
// violation: an unknown behavior or side effect kind, or a side effect
// invoked without state it needs (duplicate_request_ids with nothing yet
// sent).
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "delivery: " + e.Reason }

// GeneratorLimitError reports a response-time resource limit violation —
// max_nest_depth, max_batch_size, or max_payload_bytes exceeded. The
// dispatcher maps this to a JSON-RPC error response and aborts only that
// response, never the server.
type GeneratorLimitError struct {
	Kind      string
	Limit     string
	Requested int64
	Max       int64
}

func (e *GeneratorLimitError) Error() string {
	return fmt.Sprintf("%s: %s exceeded (requested %d, max %d)", e.Kind, e.Limit, e.Requested, e.Max)
}
