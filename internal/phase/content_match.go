package phase

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// contentMatches evaluates a content_match trigger's field/pattern against
// a request's raw JSON params. field is an RFC 6901 JSON pointer; pattern
// is compiled as a regular expression and matched against the string form
// of whatever the pointer resolves to — a plain literal pattern behaves as
// a substring match, and an anchored pattern ("^...$") behaves as an
// equality check, which covers all three forms the trigger needs without a
// separate comparator enum.
func contentMatches(params []byte, field, pattern string) bool {
	if len(params) == 0 {
		return false
	}
	var doc interface{}
	if err := json.Unmarshal(params, &doc); err != nil {
		return false
	}
	val, ok := resolvePointer(doc, field)
	if !ok {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(stringify(val))
}

func resolvePointer(doc interface{}, pointer string) (interface{}, bool) {
	if pointer == "" || pointer == "/" {
		return doc, true
	}
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	cur := doc
	for _, raw := range parts {
		p := strings.ReplaceAll(strings.ReplaceAll(raw, "~1", "/"), "~0", "~")
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[p]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
