package generators

import (
	"encoding/base64"
	"fmt"
	"math/rand"
)

const maxGarbageBytes = 64 * 1024 * 1024

// garbage produces deterministic pseudo-random bytes, base64-encoded
// unless the "encoding" param is "raw".
type garbage struct {
	size    int
	encoded bool
}

func newGarbage(params map[string]interface{}) (Generator, error) {
	size := paramInt(params, "size", 1024)
	if size < 0 {
		return nil, &GeneratorError{Type: "garbage", Param: "size", Reason: "must be non-negative"}
	}
	if size > maxGarbageBytes {
		return nil, &GeneratorError{Type: "garbage", Param: "size", Reason: fmt.Sprintf("exceeds hard maximum %d bytes", maxGarbageBytes)}
	}
	encoded := paramString(params, "encoding", "base64") != "raw"
	return &garbage{size: size, encoded: encoded}, nil
}

func (g *garbage) Generate(seed int64) ([]byte, error) {
	rng := rand.New(rand.NewSource(seed))
	raw := make([]byte, g.size)
	rng.Read(raw)

	if !g.encoded {
		return raw, nil
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

func (g *garbage) EstimatedSize() int64 {
	if g.encoded {
		return int64(base64.StdEncoding.EncodedLen(g.size))
	}
	return int64(g.size)
}
