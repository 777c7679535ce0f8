package config

import (
	"fmt"
	"os"
	"regexp"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, and ${VAR:?message}. It
// runs as a single textual pass over the raw file before YAML parsing, so
// substituted values can themselves contain YAML syntax but never trigger a
// second round of substitution.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)((?::-)|(?::\?))?([^}]*)\}`)

// SubstituteEnv performs the single-pass, non-recursive ${VAR} expansion
// stage of the loader pipeline. It never re-scans substituted text, so a
// default value or a variable's own content containing "${...}" is left
// untouched.
func SubstituteEnv(path string, raw []byte) ([]byte, error) {
	var firstErr error

	out := envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		if firstErr != nil {
			return match
		}
		groups := envVarPattern.FindSubmatch(match)
		name := string(groups[1])
		op := string(groups[2])
		rest := string(groups[3])

		val, isSet := os.LookupEnv(name)
		switch op {
		case ":-":
			if !isSet || val == "" {
				return []byte(rest)
			}
			return []byte(val)
		case ":?":
			if !isSet || val == "" {
				msg := rest
				if msg == "" {
					msg = "required but not set"
				}
				firstErr = &ConfigError{Path: path, Reason: fmt.Sprintf("environment variable %s: %s", name, msg)}
				return match
			}
			return []byte(val)
		default:
			if !isSet {
				return []byte("")
			}
			return []byte(val)
		}
	})

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
