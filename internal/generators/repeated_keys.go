package generators

import (
	"fmt"
	"strconv"
)

const maxRepeatedKeysCount = 1_000_000

// repeatedKeys builds a JSON object containing the same key many times over.
// The JSON grammar doesn't forbid duplicate object keys; what a client does
// with them (first wins, last wins, merge, reject) is exactly the
// unspecified behavior this generator is built to probe.
type repeatedKeys struct {
	key   string
	count int
}

func newRepeatedKeys(params map[string]interface{}) (Generator, error) {
	count := paramInt(params, "count", 1000)
	if count < 0 {
		return nil, &GeneratorError{Type: "repeated_keys", Param: "count", Reason: "must be non-negative"}
	}
	if count > maxRepeatedKeysCount {
		return nil, &GeneratorError{Type: "repeated_keys", Param: "count", Reason: fmt.Sprintf("exceeds hard maximum %d", maxRepeatedKeysCount)}
	}
	key := paramString(params, "key", "id")
	if key == "" {
		return nil, &GeneratorError{Type: "repeated_keys", Param: "key", Reason: "must not be empty"}
	}
	return &repeatedKeys{key: key, count: count}, nil
}

func (g *repeatedKeys) Generate(seed int64) ([]byte, error) {
	buf := make([]byte, 0, g.count*(len(g.key)+12))
	buf = append(buf, '{')
	for i := 0; i < g.count; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '"')
		buf = append(buf, g.key...)
		buf = append(buf, '"', ':')
		buf = strconv.AppendInt(buf, seed+int64(i), 10)
	}
	buf = append(buf, '}')
	return buf, nil
}

func (g *repeatedKeys) EstimatedSize() int64 {
	return int64(g.count) * int64(len(g.key)+14)
}
