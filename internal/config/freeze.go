package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// decodeTyped converts the generic, fully-resolved YAML tree (includes
// expanded, files embedded, generators validated) into the typed
// ServerConfig by round-tripping it through yaml.Marshal/Unmarshal — the
// same "parse into an intermediate shape, then build the runtime value"
// split the rest of the codebase uses for its own config conversions,
// adapted here to a dynamic tree instead of a fixed JSON struct.
func decodeTyped(tree interface{}, path string) (*ServerConfig, error) {
	raw, err := yaml.Marshal(tree)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("re-encoding resolved config: %v", err), Err: err}
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("decoding resolved config: %v", err), Err: err}
	}
	return &cfg, nil
}

// Freeze is the loader's final stage: it clamps the limits to their hard
// caps one more time (defense in depth against an $include that smuggled
// in a larger limits: block after the top-level one was already clamped)
// and returns the config that callers treat as immutable from here on.
func Freeze(cfg *ServerConfig) *ServerConfig {
	frozen := *cfg
	frozen.Limits = ClampToHardCaps(cfg.Limits)
	if frozen.Scope == "" {
		frozen.Scope = ScopePerConnection
	}
	return &frozen
}
