// Package config implements the declarative YAML configuration format: its
// ${VAR} substitution, $include/$file/$generate directives, validation,
// and the eight-stage pipeline that turns a file on disk into a frozen,
// immutable ServerConfig.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dunia-labs/mcpfault/internal/generators"
	"gopkg.in/yaml.v3"
)

// LoadResult is what the loader hands back: the frozen config plus any
// non-fatal warnings collected during validation, for `server validate` to
// print.
type LoadResult struct {
	Config   *ServerConfig
	Warnings []Warning
}

// Load runs the full eight-stage pipeline against the file at path:
// read, substitute env vars, parse YAML, resolve $include, embed $file,
// validate $generate, validate schema/semantics, freeze.
func Load(path string) (*LoadResult, error) {
	return LoadWithReader(path, osReadFile)
}

// LoadWithReader is Load with an injectable FileReader, so tests can load
// a tree of in-memory fixtures without touching disk.
func LoadWithReader(path string, read FileReader) (*LoadResult, error) {
	// Stage 1: read
	raw, err := read(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("unreadable: %v", err), Err: err}
	}
	// The file's own limits: block is not parsed yet, so its size is held
	// to the default (env-overridable, hard-clamped) max_config_bytes.
	if maxBytes := ApplyEnvOverrides(DefaultLimits()).MaxConfigBytes; int64(len(raw)) > maxBytes {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("file size %d bytes exceeds max_config_bytes %d", len(raw), maxBytes)}
	}

	// Stage 2: env substitution
	substituted, err := SubstituteEnv(path, raw)
	if err != nil {
		return nil, err
	}

	// Stage 3: YAML parse
	tree, err := parseYAMLDocument(path, substituted)
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(path)

	// Stage 4: include resolution, bounded by the top-level file's own
	// (defaulted, env-overridden, hard-clamped) max_include_depth.
	includeLimits, err := extractLimits(tree, path)
	if err != nil {
		return nil, err
	}
	tree, err = ResolveIncludes(tree, baseDir, read, []string{path}, includeLimits.MaxIncludeDepth)
	if err != nil {
		return nil, err
	}

	// Stage 5: file embedding
	tree, err = ResolveFileEmbeds(tree, baseDir, read)
	if err != nil {
		return nil, err
	}

	// Stage 6: generator validation, checked against this file's own
	// (defaulted) limits as well as each generator's hard constants — a
	// $generate block must respect the limits it will also be held to at
	// response time, not just the package-wide ceiling.
	limits, err := extractLimits(tree, path)
	if err != nil {
		return nil, err
	}
	tree, err = ResolveGenerators(tree, generators.Default, limits)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeTyped(tree, path)
	if err != nil {
		return nil, err
	}
	cfg.Limits = ApplyEnvOverrides(fillLimitsDefaults(cfg.Limits))

	// Stage 7: schema/semantic validation
	warnings, err := Validate(cfg, path)
	if err != nil {
		return nil, err
	}

	// Stage 8: freeze
	frozen := Freeze(cfg)

	return &LoadResult{Config: frozen, Warnings: warnings}, nil
}

// extractLimits decodes just the limits: block out of the still-generic
// tree (before $generate markers replace any payload nodes under it) and
// applies the same defaulting/env-override path the final ServerConfig's
// Limits goes through, so generator validation at stage 6 sees the exact
// limits that will govern the response those generators eventually produce.
func extractLimits(tree interface{}, path string) (Limits, error) {
	raw, err := yaml.Marshal(tree)
	if err != nil {
		return Limits{}, &ConfigError{Path: path, Reason: fmt.Sprintf("re-encoding for limits: %v", err), Err: err}
	}
	var wrapper struct {
		Limits Limits `yaml:"limits"`
	}
	if err := yaml.Unmarshal(raw, &wrapper); err != nil {
		return Limits{}, &ConfigError{Path: path, Reason: fmt.Sprintf("decoding limits: %v", err), Err: err}
	}
	return ApplyEnvOverrides(fillLimitsDefaults(wrapper.Limits)), nil
}

func fillLimitsDefaults(l Limits) Limits {
	d := DefaultLimits()
	if l.MaxPayloadBytes == 0 {
		l.MaxPayloadBytes = d.MaxPayloadBytes
	}
	if l.MaxNestDepth == 0 {
		l.MaxNestDepth = d.MaxNestDepth
	}
	if l.MaxBatchSize == 0 {
		l.MaxBatchSize = d.MaxBatchSize
	}
	if l.MaxPhases == 0 {
		l.MaxPhases = d.MaxPhases
	}
	if l.MaxTools == 0 {
		l.MaxTools = d.MaxTools
	}
	if l.MaxResources == 0 {
		l.MaxResources = d.MaxResources
	}
	if l.MaxPrompts == 0 {
		l.MaxPrompts = d.MaxPrompts
	}
	if l.MaxIncludeDepth == 0 {
		l.MaxIncludeDepth = d.MaxIncludeDepth
	}
	if l.MaxConfigBytes == 0 {
		l.MaxConfigBytes = d.MaxConfigBytes
	}
	return l
}

func osReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
