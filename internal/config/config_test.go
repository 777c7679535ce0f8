package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func fixtureReader(files map[string]string) FileReader {
	return func(path string) ([]byte, error) {
		if content, ok := files[path]; ok {
			return []byte(content), nil
		}
		return nil, fmt.Errorf("no such fixture: %s", path)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	read := fixtureReader(map[string]string{"/cfg/main.yaml": ""})
	result, err := LoadWithReader("/cfg/main.yaml", read)
	if err != nil {
		t.Fatalf("expected empty config to load with defaults, got error: %v", err)
	}
	if result.Config.Scope != ScopePerConnection {
		t.Errorf("expected default scope %q, got %q", ScopePerConnection, result.Config.Scope)
	}
	if len(result.Config.Phases) != 0 {
		t.Errorf("expected no phases, got %d", len(result.Config.Phases))
	}
}

func TestLoadSimpleConfig(t *testing.T) {
	yaml := `
scope: per-connection
baseline:
  tools:
    - name: echo
      description: echoes input
phases:
  - name: degrade
    triggers:
      - kind: event_count
        method: tools/call
        count: 3
    delivery:
      behavior: slow_loris
      params:
        byte_delay: 10
        chunk_size: 1
`
	read := fixtureReader(map[string]string{"/cfg/main.yaml": yaml})
	result, err := LoadWithReader("/cfg/main.yaml", read)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(result.Config.Baseline.Tools) != 1 || result.Config.Baseline.Tools[0].Name != "echo" {
		t.Fatalf("unexpected baseline tools: %+v", result.Config.Baseline.Tools)
	}
	if len(result.Config.Phases) != 1 || result.Config.Phases[0].Delivery.Behavior != DeliverySlowLoris {
		t.Fatalf("unexpected phases: %+v", result.Config.Phases)
	}
}

func TestIncludeCycleDirect(t *testing.T) {
	files := map[string]string{
		"/cfg/main.yaml": "$include: /cfg/main.yaml\n",
	}
	read := fixtureReader(files)
	_, err := LoadWithReader("/cfg/main.yaml", read)
	if err == nil {
		t.Fatal("expected circular include error")
	}
	if _, ok := err.(*CircularIncludeError); !ok {
		t.Fatalf("expected *CircularIncludeError, got %T: %v", err, err)
	}
}

func TestIncludeCycleIndirect(t *testing.T) {
	files := map[string]string{
		"/cfg/a.yaml": "$include: /cfg/b.yaml\n",
		"/cfg/b.yaml": "$include: /cfg/c.yaml\n",
		"/cfg/c.yaml": "$include: /cfg/a.yaml\n",
	}
	read := fixtureReader(files)
	_, err := LoadWithReader("/cfg/a.yaml", read)
	if err == nil {
		t.Fatal("expected circular include error for a->b->c->a cycle")
	}
	cycleErr, ok := err.(*CircularIncludeError)
	if !ok {
		t.Fatalf("expected *CircularIncludeError, got %T: %v", err, err)
	}
	if len(cycleErr.Chain) < 3 {
		t.Errorf("expected chain of at least 3 entries, got %v", cycleErr.Chain)
	}
}

func TestIncludeWithOverride(t *testing.T) {
	files := map[string]string{
		"/cfg/main.yaml": `
baseline:
  $include: /cfg/base.yaml
  override:
    instructions: "overridden"
`,
		"/cfg/base.yaml": `
tools:
  - name: echo
instructions: "original"
`,
	}
	read := fixtureReader(files)
	result, err := LoadWithReader("/cfg/main.yaml", read)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if result.Config.Baseline.Instructions != "overridden" {
		t.Errorf("expected override to win, got %q", result.Config.Baseline.Instructions)
	}
	if len(result.Config.Baseline.Tools) != 1 {
		t.Errorf("expected included tools to survive merge, got %+v", result.Config.Baseline.Tools)
	}
}

func TestEnvSubstitutionDefault(t *testing.T) {
	os.Unsetenv("MCPFAULT_TEST_UNSET_VAR")
	raw := []byte(`name: ${MCPFAULT_TEST_UNSET_VAR:-fallback}`)
	out, err := SubstituteEnv("test", raw)
	if err != nil {
		t.Fatalf("SubstituteEnv failed: %v", err)
	}
	if !strings.Contains(string(out), "fallback") {
		t.Errorf("expected fallback value, got %q", out)
	}
}

func TestEnvSubstitutionRequired(t *testing.T) {
	os.Unsetenv("MCPFAULT_TEST_REQUIRED_VAR")
	raw := []byte(`name: ${MCPFAULT_TEST_REQUIRED_VAR:?must be set}`)
	_, err := SubstituteEnv("test", raw)
	if err == nil {
		t.Fatal("expected error for unset required variable")
	}
	if !strings.Contains(err.Error(), "must be set") {
		t.Errorf("expected message to include the required-error text, got %v", err)
	}
}

func TestEnvSubstitutionSetValue(t *testing.T) {
	t.Setenv("MCPFAULT_TEST_SET_VAR", "hello")
	raw := []byte(`name: ${MCPFAULT_TEST_SET_VAR}`)
	out, err := SubstituteEnv("test", raw)
	if err != nil {
		t.Fatalf("SubstituteEnv failed: %v", err)
	}
	if string(out) != "name: hello" {
		t.Errorf("expected substituted value, got %q", out)
	}
}

func TestEnvSubstitutionSinglePass(t *testing.T) {
	t.Setenv("MCPFAULT_TEST_OUTER", "${MCPFAULT_TEST_INNER}")
	raw := []byte(`name: ${MCPFAULT_TEST_OUTER}`)
	out, err := SubstituteEnv("test", raw)
	if err != nil {
		t.Fatalf("SubstituteEnv failed: %v", err)
	}
	if string(out) != "name: ${MCPFAULT_TEST_INNER}" {
		t.Errorf("expected single-pass substitution to leave nested reference literal, got %q", out)
	}
}

func TestGeneratorValidationRejectsUnknownType(t *testing.T) {
	yaml := `
baseline:
  tools: []
phases:
  - name: p1
    triggers:
      - kind: event_count
        method: tools/call
        count: 1
    delivery:
      behavior: normal
      params:
        payload:
          $generate:
            type: does_not_exist
            params: {}
`
	read := fixtureReader(map[string]string{"/cfg/main.yaml": yaml})
	_, err := LoadWithReader("/cfg/main.yaml", read)
	if err == nil {
		t.Fatal("expected error for unknown generator type")
	}
}

func TestGeneratorValidationRejectsOversizedDepth(t *testing.T) {
	yaml := `
phases:
  - name: p1
    triggers:
      - kind: event_count
        method: tools/call
        count: 1
    delivery:
      behavior: normal
      params:
        payload:
          $generate:
            type: nested_json
            params:
              depth: 999999999
`
	read := fixtureReader(map[string]string{"/cfg/main.yaml": yaml})
	_, err := LoadWithReader("/cfg/main.yaml", read)
	if err == nil {
		t.Fatal("expected error for depth exceeding hard maximum")
	}
}

// TestGeneratorValidationRejectsConfiguredLimit exercises the configured
// limits.max_nest_depth path rather than the hard package constant: a depth
// that is well under the hard maximum of 50000 but still over this file's
// own configured cap must be rejected at load time, not just at the hard
// ceiling.
func TestGeneratorValidationRejectsConfiguredLimit(t *testing.T) {
	yaml := `
limits:
  max_nest_depth: 10
phases:
  - name: p1
    triggers:
      - kind: event_count
        method: tools/call
        count: 1
    delivery:
      behavior: normal
      params:
        payload:
          $generate:
            type: nested_json
            params:
              depth: 500
`
	read := fixtureReader(map[string]string{"/cfg/main.yaml": yaml})
	_, err := LoadWithReader("/cfg/main.yaml", read)
	if err == nil {
		t.Fatal("expected error for depth exceeding configured limits.max_nest_depth")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected a *ConfigError, got %T: %v", err, err)
	}
	if !strings.Contains(cfgErr.Reason, "max_nest_depth") {
		t.Fatalf("expected error to mention max_nest_depth, got %q", cfgErr.Reason)
	}
}

func TestValidateReplaceToolsMissingBaselineWarns(t *testing.T) {
	yaml := `
baseline:
  tools:
    - name: echo
phases:
  - name: p1
    triggers:
      - kind: event_count
        method: tools/call
        count: 1
    diff:
      replace_tools:
        - name: nonexistent
          description: should warn
`
	read := fixtureReader(map[string]string{"/cfg/main.yaml": yaml})
	result, err := LoadWithReader("/cfg/main.yaml", read)
	if err != nil {
		t.Fatalf("expected load to succeed with a warning, got error: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning about replace_tools referencing an unknown baseline tool")
	}
}

func TestValidateUnknownTriggerKindFails(t *testing.T) {
	yaml := `
phases:
  - name: p1
    triggers:
      - kind: not_a_real_kind
`
	read := fixtureReader(map[string]string{"/cfg/main.yaml": yaml})
	_, err := LoadWithReader("/cfg/main.yaml", read)
	if err == nil {
		t.Fatal("expected error for unknown trigger kind")
	}
}

func TestLimitsEnvOverrideClampedToHardMax(t *testing.T) {
	t.Setenv("MCPFAULT_MAX_NEST_DEPTH", "999999999")
	l := ApplyEnvOverrides(DefaultLimits())
	if l.MaxNestDepth != hardMaxNestDepth {
		t.Errorf("expected clamp to hard max %d, got %d", hardMaxNestDepth, l.MaxNestDepth)
	}
}

func TestLimitsEnvOverrideHonoredBelowHardMax(t *testing.T) {
	t.Setenv("MCPFAULT_MAX_NEST_DEPTH", "42")
	l := ApplyEnvOverrides(DefaultLimits())
	if l.MaxNestDepth != 42 {
		t.Errorf("expected override 42, got %d", l.MaxNestDepth)
	}
}

func TestFileEmbedText(t *testing.T) {
	files := map[string]string{
		"/cfg/main.yaml": `
baseline:
  instructions:
    $file: /cfg/instructions.txt
`,
		"/cfg/instructions.txt": "be careful",
	}
	read := fixtureReader(files)
	result, err := LoadWithReader("/cfg/main.yaml", read)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if result.Config.Baseline.Instructions != "be careful" {
		t.Errorf("expected embedded file content, got %q", result.Config.Baseline.Instructions)
	}
}
