package generators

import (
	"encoding/json"
	"fmt"

	"github.com/dunia-labs/mcpfault/internal/types"
)

const maxBatchNotificationsCount = 100_000

// batchNotifications renders a JSON array of JSON-RPC notification objects,
// the payload shape the batch_amplify side effect writes straight onto the
// wire.
type batchNotifications struct {
	count  int
	method string
}

func newBatchNotifications(params map[string]interface{}) (Generator, error) {
	count := paramInt(params, "count", 10)
	if count < 0 {
		return nil, &GeneratorError{Type: "batch_notifications", Param: "count", Reason: "must be non-negative"}
	}
	if count > maxBatchNotificationsCount {
		return nil, &GeneratorError{Type: "batch_notifications", Param: "count", Reason: fmt.Sprintf("exceeds hard maximum %d", maxBatchNotificationsCount)}
	}
	method := paramString(params, "method", "notifications/message")
	if method == "" {
		return nil, &GeneratorError{Type: "batch_notifications", Param: "method", Reason: "must not be empty"}
	}
	return &batchNotifications{count: count, method: method}, nil
}

func (g *batchNotifications) Generate(seed int64) ([]byte, error) {
	notifications := make([]types.JSONRPCNotification, g.count)
	for i := 0; i < g.count; i++ {
		params, err := json.Marshal(map[string]interface{}{"seq": seed + int64(i)})
		if err != nil {
			return nil, &GeneratorError{Type: "batch_notifications", Reason: "marshal params", Err: err}
		}
		notifications[i] = types.JSONRPCNotification{
			JSONRPC: "2.0",
			Method:  g.method,
			Params:  params,
		}
	}

	out, err := json.Marshal(notifications)
	if err != nil {
		return nil, &GeneratorError{Type: "batch_notifications", Reason: "marshal batch", Err: err}
	}
	return out, nil
}

func (g *batchNotifications) EstimatedSize() int64 {
	// Each object is 47 fixed bytes plus the method and up to 20 digits of
	// seq, followed by a comma; the array adds its two brackets.
	return int64(g.count)*int64(len(g.method)+68) + 2
}
