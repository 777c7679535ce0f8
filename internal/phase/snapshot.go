package phase

import (
	"github.com/dunia-labs/mcpfault/internal/config"
	"github.com/dunia-labs/mcpfault/internal/types"
)

// ServerState is the tools/resources/prompts/instructions a client sees at
// a given phase index: baseline with every phase diff up to that index
// folded in. The wire lists (Tools/Resources/Prompts) are what tools/list,
// resources/list, and prompts/list marshal directly; the *Responses maps
// carry each entry's declarative response template by name/URI, config-only
// data with no place in the wire types themselves.
type ServerState struct {
	Tools     []types.Tool
	Resources []types.Resource
	Prompts   []types.Prompt

	ToolResponses     map[string]config.ResponseTemplate
	ResourceResponses map[string]config.ResponseTemplate
	PromptResponses   map[string]config.ResponseTemplate

	ProtocolVersion string
	Capabilities    map[string]interface{}
	Instructions    string
}

// foldState computes visible_state(index) = fold(baseline, phases[0..index], apply_diff).
// index phases have already run; a fresh scope starts at index 0, meaning
// no diffs have been applied yet.
func foldState(cfg *config.ServerConfig, index int) ServerState {
	state := ServerState{
		Tools:             toolDefsToWire(cfg.Baseline.Tools),
		Resources:         resourceDefsToWire(cfg.Baseline.Resources),
		Prompts:           promptDefsToWire(cfg.Baseline.Prompts),
		ToolResponses:     toolResponses(cfg.Baseline.Tools),
		ResourceResponses: resourceResponses(cfg.Baseline.Resources),
		PromptResponses:   promptResponses(cfg.Baseline.Prompts),
		ProtocolVersion:   cfg.Baseline.ProtocolVersion,
		Capabilities:      cfg.Baseline.Capabilities,
		Instructions:      cfg.Baseline.Instructions,
	}

	limit := index
	if limit > len(cfg.Phases) {
		limit = len(cfg.Phases)
	}
	for i := 0; i < limit; i++ {
		applyDiff(&state, cfg.Phases[i].Diff)
	}
	return state
}

func toolDefsToWire(defs []config.ToolDef) []types.Tool {
	out := make([]types.Tool, len(defs))
	for i, d := range defs {
		out[i] = d.Tool
	}
	return out
}

func resourceDefsToWire(defs []config.ResourceDef) []types.Resource {
	out := make([]types.Resource, len(defs))
	for i, d := range defs {
		out[i] = d.Resource
	}
	return out
}

func promptDefsToWire(defs []config.PromptDef) []types.Prompt {
	out := make([]types.Prompt, len(defs))
	for i, d := range defs {
		out[i] = d.Prompt
	}
	return out
}

func toolResponses(defs []config.ToolDef) map[string]config.ResponseTemplate {
	m := make(map[string]config.ResponseTemplate, len(defs))
	for _, d := range defs {
		m[d.Name] = d.Response
	}
	return m
}

func resourceResponses(defs []config.ResourceDef) map[string]config.ResponseTemplate {
	m := make(map[string]config.ResponseTemplate, len(defs))
	for _, d := range defs {
		m[d.URI] = d.Response
	}
	return m
}

func promptResponses(defs []config.PromptDef) map[string]config.ResponseTemplate {
	m := make(map[string]config.ResponseTemplate, len(defs))
	for _, d := range defs {
		m[d.Name] = d.Response
	}
	return m
}

func applyDiff(state *ServerState, diff config.StateDiff) {
	toolNames := make(map[string]bool, len(state.Tools))
	for _, t := range state.Tools {
		toolNames[t.Name] = true
	}
	for _, t := range diff.AddTools {
		if !toolNames[t.Name] {
			state.Tools = append(state.Tools, t.Tool)
			state.ToolResponses[t.Name] = t.Response
			toolNames[t.Name] = true
		}
	}
	if len(diff.RemoveTools) > 0 {
		remove := make(map[string]bool, len(diff.RemoveTools))
		for _, n := range diff.RemoveTools {
			remove[n] = true
			delete(state.ToolResponses, n)
		}
		state.Tools = filterTools(state.Tools, remove)
	}
	for _, t := range diff.ReplaceTools {
		for i := range state.Tools {
			if state.Tools[i].Name == t.Name {
				state.Tools[i] = t.Tool
				state.ToolResponses[t.Name] = t.Response
			}
		}
	}

	resourceURIs := make(map[string]bool, len(state.Resources))
	for _, r := range state.Resources {
		resourceURIs[r.URI] = true
	}
	for _, r := range diff.AddResources {
		if !resourceURIs[r.URI] {
			state.Resources = append(state.Resources, r.Resource)
			state.ResourceResponses[r.URI] = r.Response
			resourceURIs[r.URI] = true
		}
	}
	if len(diff.RemoveResources) > 0 {
		remove := make(map[string]bool, len(diff.RemoveResources))
		for _, u := range diff.RemoveResources {
			remove[u] = true
			delete(state.ResourceResponses, u)
		}
		state.Resources = filterResources(state.Resources, remove)
	}
	for _, r := range diff.ReplaceResources {
		for i := range state.Resources {
			if state.Resources[i].URI == r.URI {
				state.Resources[i] = r.Resource
				state.ResourceResponses[r.URI] = r.Response
			}
		}
	}

	promptNames := make(map[string]bool, len(state.Prompts))
	for _, p := range state.Prompts {
		promptNames[p.Name] = true
	}
	for _, p := range diff.AddPrompts {
		if !promptNames[p.Name] {
			state.Prompts = append(state.Prompts, p.Prompt)
			state.PromptResponses[p.Name] = p.Response
			promptNames[p.Name] = true
		}
	}
	if len(diff.RemovePrompts) > 0 {
		remove := make(map[string]bool, len(diff.RemovePrompts))
		for _, n := range diff.RemovePrompts {
			remove[n] = true
			delete(state.PromptResponses, n)
		}
		state.Prompts = filterPrompts(state.Prompts, remove)
	}
	for _, p := range diff.ReplacePrompts {
		for i := range state.Prompts {
			if state.Prompts[i].Name == p.Name {
				state.Prompts[i] = p.Prompt
				state.PromptResponses[p.Name] = p.Response
			}
		}
	}
}

func filterTools(tools []types.Tool, remove map[string]bool) []types.Tool {
	out := tools[:0:0]
	for _, t := range tools {
		if !remove[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

func filterResources(resources []types.Resource, remove map[string]bool) []types.Resource {
	out := resources[:0:0]
	for _, r := range resources {
		if !remove[r.URI] {
			out = append(out, r)
		}
	}
	return out
}

func filterPrompts(prompts []types.Prompt, remove map[string]bool) []types.Prompt {
	out := prompts[:0:0]
	for _, p := range prompts {
		if !remove[p.Name] {
			out = append(out, p)
		}
	}
	return out
}
