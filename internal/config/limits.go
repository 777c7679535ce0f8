package config

import (
	"os"
	"strconv"
)

// Hard upper bounds no env override or config value can exceed, mirroring
// the way a run's requested caps get clamped against a system policy's
// global hard caps rather than trusted outright.
const (
	hardMaxPayloadBytes = 256 * 1024 * 1024
	hardMaxNestDepth    = 50000
	hardMaxBatchSize    = 1_000_000
	hardMaxPhases       = 10000
	hardMaxTools        = 10000
	hardMaxResources    = 10000
	hardMaxPrompts      = 10000
	hardMaxIncludeDepth = 32
	hardMaxConfigBytes  = 64 * 1024 * 1024
)

// DefaultLimits returns the limits applied when a config omits the limits
// block entirely.
func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 16 * 1024 * 1024,
		MaxNestDepth:    1000,
		MaxBatchSize:    1000,
		MaxPhases:       500,
		MaxTools:        500,
		MaxResources:    500,
		MaxPrompts:      500,
		MaxIncludeDepth: 8,
		MaxConfigBytes:  8 * 1024 * 1024,
	}
}

// ApplyEnvOverrides overlays MCPFAULT_* environment variables onto l,
// clamping every overridden value against its hard maximum the way
// ComputeEffectiveLimits clamps a run's requested caps against
// SystemPolicy.GlobalHardCaps: min(requested, hardCap), never the reverse.
func ApplyEnvOverrides(l Limits) Limits {
	l.MaxPayloadBytes = minInt64(envInt64("MCPFAULT_MAX_PAYLOAD_BYTES", l.MaxPayloadBytes), hardMaxPayloadBytes)
	l.MaxNestDepth = minInt(envInt("MCPFAULT_MAX_NEST_DEPTH", l.MaxNestDepth), hardMaxNestDepth)
	l.MaxBatchSize = minInt(envInt("MCPFAULT_MAX_BATCH_SIZE", l.MaxBatchSize), hardMaxBatchSize)
	l.MaxPhases = minInt(envInt("MCPFAULT_MAX_PHASES", l.MaxPhases), hardMaxPhases)
	l.MaxTools = minInt(envInt("MCPFAULT_MAX_TOOLS", l.MaxTools), hardMaxTools)
	l.MaxResources = minInt(envInt("MCPFAULT_MAX_RESOURCES", l.MaxResources), hardMaxResources)
	l.MaxPrompts = minInt(envInt("MCPFAULT_MAX_PROMPTS", l.MaxPrompts), hardMaxPrompts)
	l.MaxIncludeDepth = minInt(envInt("MCPFAULT_MAX_INCLUDE_DEPTH", l.MaxIncludeDepth), hardMaxIncludeDepth)
	l.MaxConfigBytes = minInt64(envInt64("MCPFAULT_MAX_CONFIG_BYTES", l.MaxConfigBytes), hardMaxConfigBytes)
	return l
}

// ClampToHardCaps re-applies the hard maxima to a limits value parsed
// straight from a config file's limits: block, independent of env
// overrides, so a malicious or mistaken config can't declare its own way
// past them.
func ClampToHardCaps(l Limits) Limits {
	l.MaxPayloadBytes = minInt64(l.MaxPayloadBytes, hardMaxPayloadBytes)
	l.MaxNestDepth = minInt(l.MaxNestDepth, hardMaxNestDepth)
	l.MaxBatchSize = minInt(l.MaxBatchSize, hardMaxBatchSize)
	l.MaxPhases = minInt(l.MaxPhases, hardMaxPhases)
	l.MaxTools = minInt(l.MaxTools, hardMaxTools)
	l.MaxResources = minInt(l.MaxResources, hardMaxResources)
	l.MaxPrompts = minInt(l.MaxPrompts, hardMaxPrompts)
	l.MaxIncludeDepth = minInt(l.MaxIncludeDepth, hardMaxIncludeDepth)
	l.MaxConfigBytes = minInt64(l.MaxConfigBytes, hardMaxConfigBytes)
	return l
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(name string, def int64) int64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
