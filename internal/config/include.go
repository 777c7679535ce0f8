package config

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileReader abstracts reading a config file by path, letting tests supply
// an in-memory fixture set instead of touching disk.
type FileReader func(path string) ([]byte, error)

// ResolveIncludes walks a decoded YAML tree looking for {$include: path}
// nodes (optionally paired with a sibling "override" block) and replaces
// each one with the parsed, recursively-resolved contents of that file,
// deep-merged under its override block if present. Parsed includes are
// cached by canonical path, so a file referenced by more than one
// $include is only read and parsed once per Load.
//
// basePath is the directory $include paths are resolved relative to.
// chain carries the sequence of already-open include paths so a cycle can
// be reported with the full loop rather than just "cycle detected".
func ResolveIncludes(node interface{}, basePath string, read FileReader, chain []string, maxDepth int) (interface{}, error) {
	return resolveIncludes(node, basePath, read, chain, maxDepth, make(map[string]interface{}))
}

func resolveIncludes(node interface{}, basePath string, read FileReader, chain []string, maxDepth int, cache map[string]interface{}) (interface{}, error) {
	if len(chain) > maxDepth {
		return nil, &CircularIncludeError{Chain: chain}
	}

	switch n := node.(type) {
	case map[string]interface{}:
		if incPath, ok := n["$include"].(string); ok {
			return resolveOneInclude(incPath, n["override"], basePath, read, chain, maxDepth, cache)
		}

		resolved := make(map[string]interface{}, len(n))
		for k, v := range n {
			rv, err := resolveIncludes(v, basePath, read, chain, maxDepth, cache)
			if err != nil {
				return nil, err
			}
			resolved[k] = rv
		}
		return resolved, nil

	case []interface{}:
		resolved := make([]interface{}, len(n))
		for i, v := range n {
			rv, err := resolveIncludes(v, basePath, read, chain, maxDepth, cache)
			if err != nil {
				return nil, err
			}
			resolved[i] = rv
		}
		return resolved, nil

	default:
		return node, nil
	}
}

// canonicalIncludePath resolves incPath relative to basePath into the
// absolute, cleaned form used as both the cycle-detection chain entry and
// the parsed-include cache key.
func canonicalIncludePath(incPath, basePath string) string {
	full := incPath
	if !filepath.IsAbs(full) {
		full = filepath.Join(basePath, incPath)
	}
	return filepath.Clean(full)
}

func resolveOneInclude(incPath string, override interface{}, basePath string, read FileReader, chain []string, maxDepth int, cache map[string]interface{}) (interface{}, error) {
	full := canonicalIncludePath(incPath, basePath)

	for _, seen := range chain {
		if seen == full {
			return nil, &CircularIncludeError{Chain: append(append([]string{}, chain...), full)}
		}
	}

	resolved, cached := cache[full]
	if !cached {
		raw, err := read(full)
		if err != nil {
			return nil, &ConfigError{Path: full, Reason: fmt.Sprintf("$include target unreadable: %v", err), Err: err}
		}

		substituted, err := SubstituteEnv(full, raw)
		if err != nil {
			return nil, err
		}

		var parsed interface{}
		if err := yaml.Unmarshal(substituted, &parsed); err != nil {
			return nil, &ConfigError{Path: full, Reason: fmt.Sprintf("invalid YAML: %v", err), Err: err}
		}

		normalized := normalizeYAMLMaps(parsed)

		resolved, err = resolveIncludes(normalized, filepath.Dir(full), read, append(chain, full), maxDepth, cache)
		if err != nil {
			return nil, err
		}
		cache[full] = resolved
	}

	if override != nil {
		resolvedOverride, err := resolveIncludes(normalizeYAMLMaps(override), basePath, read, chain, maxDepth, cache)
		if err != nil {
			return nil, err
		}
		return deepMerge(resolved, resolvedOverride), nil
	}

	return resolved, nil
}

// normalizeYAMLMaps converts the map[interface{}]interface{} values that
// yaml.v3 can still produce for deeply nested or anchor-heavy documents
// into map[string]interface{}, so the rest of the pipeline only ever deals
// with one map type.
func normalizeYAMLMaps(v interface{}) interface{} {
	switch n := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(n))
		for k, val := range n {
			out[k] = normalizeYAMLMaps(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(n))
		for k, val := range n {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLMaps(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(n))
		for i, val := range n {
			out[i] = normalizeYAMLMaps(val)
		}
		return out
	default:
		return v
	}
}
