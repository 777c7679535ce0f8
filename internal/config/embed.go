package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ResolveFileEmbeds walks a decoded YAML tree looking for
// {$file: path, format: text|json|binary} nodes and replaces each one with
// the referenced file's content: as a raw string for "text" (the default),
// a decoded JSON value for "json", or a base64-encoded string for
// "binary".
func ResolveFileEmbeds(node interface{}, basePath string, read FileReader) (interface{}, error) {
	switch n := node.(type) {
	case map[string]interface{}:
		if filePath, ok := n["$file"].(string); ok {
			return resolveOneFileEmbed(filePath, n, basePath, read)
		}

		resolved := make(map[string]interface{}, len(n))
		for k, v := range n {
			rv, err := ResolveFileEmbeds(v, basePath, read)
			if err != nil {
				return nil, err
			}
			resolved[k] = rv
		}
		return resolved, nil

	case []interface{}:
		resolved := make([]interface{}, len(n))
		for i, v := range n {
			rv, err := ResolveFileEmbeds(v, basePath, read)
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

func resolveOneFileEmbed(filePath string, node map[string]interface{}, basePath string, read FileReader) (interface{}, error) {
	full := filePath
	if !filepath.IsAbs(full) {
		full = filepath.Join(basePath, filePath)
	}
	full = filepath.Clean(full)

	format, _ := node["format"].(string)
	if format == "" {
		format = "text"
	}

	raw, err := read(full)
	if err != nil {
		return nil, &ConfigError{Path: full, Reason: fmt.Sprintf("$file target unreadable: %v", err), Err: err}
	}

	switch format {
	case "text":
		return string(raw), nil
	case "binary":
		return base64.StdEncoding.EncodeToString(raw), nil
	case "json":
		var parsed interface{}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, &ConfigError{Path: full, Reason: fmt.Sprintf("invalid JSON in $file target: %v", err), Err: err}
		}
		return parsed, nil
	default:
		return nil, &ConfigError{Path: full, Reason: fmt.Sprintf("unknown $file format %q (want text, json, or binary)", format)}
	}
}

// parseYAMLDocument decodes already-substituted YAML into a generic tree
// with map keys normalized to string. Env substitution is the caller's
// job; this helper does not perform it.
func parseYAMLDocument(path string, raw []byte) (interface{}, error) {
	var parsed interface{}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("invalid YAML: %v", err), Err: err}
	}
	return normalizeYAMLMaps(parsed), nil
}
