package config

import (
	"fmt"

	"github.com/dunia-labs/mcpfault/internal/generators"
)

// resolvedGeneratorKey marks a node produced by resolving a $generate
// directive, so later stages (and the delivery layer) can recognize a
// generator reference without re-parsing the original $generate shape.
const resolvedGeneratorKey = "$$generator"

// ResolveGenerators walks a decoded YAML tree looking for
// {$generate: {type: ..., params: {...}}} nodes. Each one is validated by
// building the named Generator against the registry — catching an unknown
// type or an out-of-range param, and checking its estimated size and any
// depth/count params against the configured (already-defaulted) limits —
// but generation itself stays lazy: the node is replaced with a stable
// marker carrying the type and params, and the actual bytes are produced
// later, per request, by whatever reads the marker calling
// registry.Build(type, params).Generate(seed).
func ResolveGenerators(node interface{}, reg *generators.Registry, limits Limits) (interface{}, error) {
	switch n := node.(type) {
	case map[string]interface{}:
		if spec, ok := n["$generate"]; ok {
			return resolveOneGenerator(spec, reg, limits)
		}

		resolved := make(map[string]interface{}, len(n))
		for k, v := range n {
			rv, err := ResolveGenerators(v, reg, limits)
			if err != nil {
				return nil, err
			}
			resolved[k] = rv
		}
		return resolved, nil

	case []interface{}:
		resolved := make([]interface{}, len(n))
		for i, v := range n {
			rv, err := ResolveGenerators(v, reg, limits)
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

func resolveOneGenerator(spec interface{}, reg *generators.Registry, limits Limits) (interface{}, error) {
	specMap, ok := spec.(map[string]interface{})
	if !ok {
		return nil, &ConfigError{Reason: "$generate must be a mapping with type and params"}
	}

	genType, ok := specMap["type"].(string)
	if !ok || genType == "" {
		return nil, &ConfigError{Reason: "$generate.type is required"}
	}

	params, _ := specMap["params"].(map[string]interface{})

	gen, err := reg.Build(genType, params)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid $generate block: %v", err), Err: err}
	}

	if limits.MaxPayloadBytes > 0 && gen.EstimatedSize() > limits.MaxPayloadBytes {
		return nil, &ConfigError{Reason: fmt.Sprintf("$generate type %q estimated size %d bytes exceeds configured limits.max_payload_bytes %d", genType, gen.EstimatedSize(), limits.MaxPayloadBytes)}
	}
	if genType == "nested_json" && limits.MaxNestDepth > 0 {
		if depth := resolveParamInt(params, "depth"); depth > limits.MaxNestDepth {
			return nil, &ConfigError{Reason: fmt.Sprintf("$generate type %q depth %d exceeds configured limits.max_nest_depth %d", genType, depth, limits.MaxNestDepth)}
		}
	}
	if limits.MaxBatchSize > 0 {
		switch genType {
		case "batch_notifications", "repeated_keys":
			if count := resolveParamInt(params, "count"); count > limits.MaxBatchSize {
				return nil, &ConfigError{Reason: fmt.Sprintf("$generate type %q count %d exceeds configured limits.max_batch_size %d", genType, count, limits.MaxBatchSize)}
			}
		}
	}

	return map[string]interface{}{
		resolvedGeneratorKey: true,
		"type":               genType,
		"params":             params,
	}, nil
}

// resolveParamInt reads an integer-valued $generate param the same way
// each generator's own paramInt helper does, tolerating the float64 that
// YAML/JSON decoding produces for bare numeric literals.
func resolveParamInt(params map[string]interface{}, key string) int {
	v, ok := params[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// IsGeneratorRef reports whether v is a resolved $generate marker, and if
// so returns its generator type and params.
func IsGeneratorRef(v interface{}) (genType string, params map[string]interface{}, ok bool) {
	m, isMap := v.(map[string]interface{})
	if !isMap {
		return "", nil, false
	}
	if _, tagged := m[resolvedGeneratorKey]; !tagged {
		return "", nil, false
	}
	genType, _ = m["type"].(string)
	params, _ = m["params"].(map[string]interface{})
	return genType, params, true
}
