package delivery

import "github.com/dunia-labs/mcpfault/internal/config"

// checkPayloadLimit enforces max_payload_bytes at response time. A
// generator's own construction-time estimate can still end up unsafe once
// its output is embedded in a larger frame, so every behavior checks the
// frame it is about to put on the wire.
func checkPayloadLimit(frame []byte, limits config.Limits) error {
	if limits.MaxPayloadBytes > 0 && int64(len(frame)) > limits.MaxPayloadBytes {
		return &GeneratorLimitError{
			Kind:      "payload",
			Limit:     "max_payload_bytes",
			Requested: int64(len(frame)),
			Max:       limits.MaxPayloadBytes,
		}
	}
	return nil
}
