package generators

import (
	"fmt"
)

const maxUnicodeSpamLength = 1_000_000

// unicodeCategory names a pool of code points chosen to stress client-side
// unicode handling: combining marks that can blow up rendered width,
// bidi overrides that can disguise text direction, and zero-width
// characters that make length/content checks unreliable.
var unicodeCategoryPools = map[string][]rune{
	"combining": {
		0x0300, 0x0301, 0x0302, 0x0303, 0x0304, 0x0305, 0x0306, 0x0307,
		0x0308, 0x0309, 0x030A, 0x030B, 0x030C, 0x0315, 0x031B, 0x0340,
	},
	"rtl_override": {
		0x202A, 0x202B, 0x202C, 0x202D, 0x202E, 0x2066, 0x2067, 0x2068, 0x2069,
	},
	"zero_width": {
		0x200B, 0x200C, 0x200D, 0x2060, 0xFEFF,
	},
	"emoji_zwj": {
		0x1F468, 0x200D, 0x1F469, 0x200D, 0x1F467, 0x200D, 0x1F466,
	},
}

var unicodeCategoryOrder = []string{"combining", "rtl_override", "zero_width", "emoji_zwj"}

// unicodeSpam emits a run of code points drawn from one or more categories
// of unicode edge cases, e.g. stacked combining marks or bidi override
// sequences.
type unicodeSpam struct {
	length   int
	category string
	pool     []rune
}

func newUnicodeSpam(params map[string]interface{}) (Generator, error) {
	length := paramInt(params, "length", 256)
	if length < 0 {
		return nil, &GeneratorError{Type: "unicode_spam", Param: "length", Reason: "must be non-negative"}
	}
	if length > maxUnicodeSpamLength {
		return nil, &GeneratorError{Type: "unicode_spam", Param: "length", Reason: fmt.Sprintf("exceeds hard maximum %d code points", maxUnicodeSpamLength)}
	}

	category := paramString(params, "category", "mixed")
	var pool []rune
	if category == "mixed" {
		for _, c := range unicodeCategoryOrder {
			pool = append(pool, unicodeCategoryPools[c]...)
		}
	} else {
		p, ok := unicodeCategoryPools[category]
		if !ok {
			return nil, &GeneratorError{Type: "unicode_spam", Param: "category", Reason: fmt.Sprintf("unknown category %q", category)}
		}
		pool = p
	}

	return &unicodeSpam{length: length, category: category, pool: pool}, nil
}

func (g *unicodeSpam) Generate(seed int64) ([]byte, error) {
	runes := make([]rune, g.length)
	n := int64(len(g.pool))
	for i := 0; i < g.length; i++ {
		idx := (seed + int64(i)) % n
		if idx < 0 {
			idx += n
		}
		runes[i] = g.pool[idx]
	}
	return []byte(string(runes)), nil
}

func (g *unicodeSpam) EstimatedSize() int64 {
	// Worst case 4 bytes per code point (astral plane).
	return int64(g.length) * 4
}
