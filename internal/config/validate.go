package config

import (
	"fmt"
)

// Validate runs schema-shape and semantic checks against a parsed
// ServerConfig, returning a fatal error for the former and a list of
// Warnings for the latter — issues real enough to report but not severe
// enough to refuse the load, like a replace_tools entry that doesn't match
// anything in the baseline.
func Validate(cfg *ServerConfig, path string) ([]Warning, error) {
	var warnings []Warning

	if cfg.Scope != "" && cfg.Scope != ScopePerConnection && cfg.Scope != ScopeGlobal {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("scope must be %q or %q, got %q", ScopePerConnection, ScopeGlobal, cfg.Scope)}
	}

	if len(cfg.Phases) > cfg.Limits.MaxPhases {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("phase count %d exceeds max_phases %d", len(cfg.Phases), cfg.Limits.MaxPhases)}
	}
	if len(cfg.Baseline.Tools) > cfg.Limits.MaxTools {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("baseline tool count %d exceeds max_tools %d", len(cfg.Baseline.Tools), cfg.Limits.MaxTools)}
	}
	if len(cfg.Baseline.Resources) > cfg.Limits.MaxResources {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("baseline resource count %d exceeds max_resources %d", len(cfg.Baseline.Resources), cfg.Limits.MaxResources)}
	}
	if len(cfg.Baseline.Prompts) > cfg.Limits.MaxPrompts {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("baseline prompt count %d exceeds max_prompts %d", len(cfg.Baseline.Prompts), cfg.Limits.MaxPrompts)}
	}

	baselineTools := toolNames(cfg.Baseline.Tools)
	baselineResources := resourceURIs(cfg.Baseline.Resources)
	baselinePrompts := promptNames(cfg.Baseline.Prompts)

	for i, phase := range cfg.Phases {
		if phase.Name == "" {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("phase %d: name is required", i)}
		}
		if len(phase.Triggers) == 0 {
			warnings = append(warnings, Warning{Path: path, Reason: fmt.Sprintf("phase %q has no triggers and can never be entered", phase.Name)})
		}
		for j, trig := range phase.Triggers {
			if err := validateTrigger(trig); err != nil {
				return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("phase %q trigger %d: %v", phase.Name, j, err)}
			}
		}
		if err := validateDelivery(phase.Delivery); err != nil {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("phase %q: %v", phase.Name, err)}
		}
		for j, se := range phase.OnEnter {
			if err := validateSideEffect(se); err != nil {
				return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("phase %q on_enter %d: %v", phase.Name, j, err)}
			}
		}

		for _, name := range phase.Diff.RemoveTools {
			if !baselineTools[name] {
				warnings = append(warnings, Warning{Path: path, Reason: fmt.Sprintf("phase %q: remove_tools references unknown tool %q", phase.Name, name)})
			}
		}
		for _, t := range phase.Diff.ReplaceTools {
			if !baselineTools[t.Name] {
				warnings = append(warnings, Warning{Path: path, Reason: fmt.Sprintf("phase %q: replace_tools entry %q has no matching baseline tool, diff is a no-op for it", phase.Name, t.Name)})
			}
		}
		for _, uri := range phase.Diff.RemoveResources {
			if !baselineResources[uri] {
				warnings = append(warnings, Warning{Path: path, Reason: fmt.Sprintf("phase %q: remove_resources references unknown resource %q", phase.Name, uri)})
			}
		}
		for _, r := range phase.Diff.ReplaceResources {
			if !baselineResources[r.URI] {
				warnings = append(warnings, Warning{Path: path, Reason: fmt.Sprintf("phase %q: replace_resources entry %q has no matching baseline resource, diff is a no-op for it", phase.Name, r.URI)})
			}
		}
		for _, name := range phase.Diff.RemovePrompts {
			if !baselinePrompts[name] {
				warnings = append(warnings, Warning{Path: path, Reason: fmt.Sprintf("phase %q: remove_prompts references unknown prompt %q", phase.Name, name)})
			}
		}
		for _, p := range phase.Diff.ReplacePrompts {
			if !baselinePrompts[p.Name] {
				warnings = append(warnings, Warning{Path: path, Reason: fmt.Sprintf("phase %q: replace_prompts entry %q has no matching baseline prompt, diff is a no-op for it", phase.Name, p.Name)})
			}
		}

		for name := range baselineTools {
			baselineTools[name] = true
		}
		for _, t := range phase.Diff.AddTools {
			baselineTools[t.Name] = true
		}
		for _, name := range phase.Diff.RemoveTools {
			delete(baselineTools, name)
		}

		for _, r := range phase.Diff.AddResources {
			baselineResources[r.URI] = true
		}
		for _, uri := range phase.Diff.RemoveResources {
			delete(baselineResources, uri)
		}

		for _, p := range phase.Diff.AddPrompts {
			baselinePrompts[p.Name] = true
		}
		for _, name := range phase.Diff.RemovePrompts {
			delete(baselinePrompts, name)
		}
	}

	return warnings, nil
}

func validateTrigger(t Trigger) error {
	switch t.Kind {
	case TriggerEventCount:
		if t.Method == "" {
			return fmt.Errorf("event_count trigger requires method")
		}
		if t.Count <= 0 {
			return fmt.Errorf("event_count trigger requires count > 0")
		}
	case TriggerElapsed:
		if t.Seconds <= 0 {
			return fmt.Errorf("elapsed trigger requires seconds > 0")
		}
	case TriggerContentMatch:
		if t.Field == "" || t.Pattern == "" {
			return fmt.Errorf("content_match trigger requires field and pattern")
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	return nil
}

func validateDelivery(d DeliveryConfig) error {
	switch d.Behavior {
	case "", DeliveryNormal, DeliverySlowLoris, DeliveryUnboundedLine, DeliveryNestedJSONWrap, DeliveryResponseDelay:
		return nil
	default:
		return fmt.Errorf("unknown delivery behavior %q", d.Behavior)
	}
}

func validateSideEffect(se SideEffect) error {
	switch se.Kind {
	case SideEffectSendNotification, SideEffectNotificationFlood, SideEffectBatchAmplify,
		SideEffectPipeDeadlock, SideEffectCloseConnection, SideEffectDuplicateRequestIDs:
		return nil
	default:
		return fmt.Errorf("unknown side effect kind %q", se.Kind)
	}
}

func toolNames(tools []ToolDef) map[string]bool {
	m := make(map[string]bool, len(tools))
	for _, t := range tools {
		m[t.Name] = true
	}
	return m
}

func resourceURIs(resources []ResourceDef) map[string]bool {
	m := make(map[string]bool, len(resources))
	for _, r := range resources {
		m[r.URI] = true
	}
	return m
}

func promptNames(prompts []PromptDef) map[string]bool {
	m := make(map[string]bool, len(prompts))
	for _, p := range prompts {
		m[p.Name] = true
	}
	return m
}
