package config

import "github.com/dunia-labs/mcpfault/internal/types"

// Scope names where a phase's mutable state lives: one PhaseState per
// connection, or a single PhaseState shared by every connection.
const (
	ScopePerConnection = "per-connection"
	ScopeGlobal        = "global"
)

// ServerConfig is the fully loaded, validated, immutable configuration for
// a run of the server. Once Freeze returns one, nothing in the tree is
// mutated again; only PhaseState (built per scope at runtime) changes.
type ServerConfig struct {
	Scope    string   `yaml:"scope"`
	Limits   Limits   `yaml:"limits"`
	Baseline Baseline `yaml:"baseline"`
	Phases   []Phase  `yaml:"phases"`
}

// Baseline is the tools/resources/prompts visible before any phase diff has
// been folded in — the state a freshly connected client sees at phase
// index 0.
type Baseline struct {
	Tools     []ToolDef     `yaml:"tools"`
	Resources []ResourceDef `yaml:"resources"`
	Prompts   []PromptDef   `yaml:"prompts"`

	ProtocolVersion string                 `yaml:"protocol_version"`
	Capabilities    map[string]interface{} `yaml:"capabilities"`
	Instructions    string                 `yaml:"instructions"`
}

// ResponseTemplate declares what a tool/resource/prompt hands back at
// response time: static Content, or a Generate reference produced by a
// $generate block. ResolveGenerators resolves Generate into the marker
// map IsGeneratorRef reads; a request-time handler builds and runs the
// named generator against the request's configured limits, the same way
// delivery already enforces limits on the framed response around it.
// Content and Generate are mutually exclusive; Generate wins if both are
// set, Content is used if set, and a built-in fallback otherwise.
type ResponseTemplate struct {
	Content  string      `yaml:"content"`
	Generate interface{} `yaml:"generate"`
}

// ToolDef is a tool definition as it appears in configuration: the wire
// Tool shape plus its response template. types.Tool itself stays wire-only
// (it is marshaled straight into tools/list and tools/call responses),
// so the template lives on this wrapper instead.
type ToolDef struct {
	types.Tool `yaml:",inline"`
	Response   ResponseTemplate `yaml:"response"`
}

// ResourceDef is a resource definition plus its response template.
type ResourceDef struct {
	types.Resource `yaml:",inline"`
	Response       ResponseTemplate `yaml:"response"`
}

// PromptDef is a prompt definition plus its response template.
type PromptDef struct {
	types.Prompt `yaml:",inline"`
	Response     ResponseTemplate `yaml:"response"`
}

// Phase is one step in the scripted sequence of server behavior. Entering
// a phase folds its StateDiff onto the previous visible state, activates
// its DeliveryBehavior for all responses served while it is active, and
// fires its OnEnter side effects after the response that triggered the
// transition has already been handed to the delivery layer.
type Phase struct {
	Name     string         `yaml:"name"`
	Triggers []Trigger      `yaml:"triggers"`
	Diff     StateDiff      `yaml:"diff"`
	Delivery DeliveryConfig `yaml:"delivery"`
	OnEnter  []SideEffect   `yaml:"on_enter"`
}

// Trigger describes one condition that can fire a phase transition.
// Multiple triggers on a phase are OR-composed: any one firing advances
// the phase.
type Trigger struct {
	Kind string `yaml:"kind"`

	// event_count
	Method string `yaml:"method"`
	Count  int    `yaml:"count"`

	// elapsed
	Seconds float64 `yaml:"seconds"`

	// content_match
	Field   string `yaml:"field"`
	Pattern string `yaml:"pattern"`
}

const (
	TriggerEventCount   = "event_count"
	TriggerElapsed      = "elapsed"
	TriggerContentMatch = "content_match"
)

// StateDiff describes how a phase transition mutates the visible tools,
// resources, and prompts. Add appends an entry that doesn't already exist
// by name/URI; Remove deletes by name/URI; Replace substitutes an existing
// entry by name/URI, left as-is if no baseline entry matches (a no-op, not
// an error — see Validate in validate.go for the load-time check that
// flags this with a Warning).
type StateDiff struct {
	AddTools     []ToolDef `yaml:"add_tools"`
	RemoveTools  []string  `yaml:"remove_tools"`
	ReplaceTools []ToolDef `yaml:"replace_tools"`

	AddResources     []ResourceDef `yaml:"add_resources"`
	RemoveResources  []string      `yaml:"remove_resources"`
	ReplaceResources []ResourceDef `yaml:"replace_resources"`

	AddPrompts     []PromptDef `yaml:"add_prompts"`
	RemovePrompts  []string    `yaml:"remove_prompts"`
	ReplacePrompts []PromptDef `yaml:"replace_prompts"`
}

// DeliveryConfig selects how responses are written to the wire while a
// phase is active. An empty Behavior means "normal" (no additional params).
type DeliveryConfig struct {
	Behavior string                 `yaml:"behavior"`
	Params   map[string]interface{} `yaml:"params"`
}

const (
	DeliveryNormal         = "normal"
	DeliverySlowLoris      = "slow_loris"
	DeliveryUnboundedLine  = "unbounded_line"
	DeliveryNestedJSONWrap = "nested_json_wrap"
	DeliveryResponseDelay  = "response_delay"
)

// SideEffect describes an action fired after a response has already been
// handed to the delivery layer.
type SideEffect struct {
	Kind   string                 `yaml:"kind"`
	Params map[string]interface{} `yaml:"params"`
}

const (
	SideEffectSendNotification    = "send_notification"
	SideEffectNotificationFlood   = "notification_flood"
	SideEffectBatchAmplify        = "batch_amplify"
	SideEffectPipeDeadlock        = "pipe_deadlock"
	SideEffectCloseConnection     = "close_connection"
	SideEffectDuplicateRequestIDs = "duplicate_request_ids"
)

// GeneratorConfig names a $generate directive resolved during loading:
// a closed-set generator type plus its construction params.
type GeneratorConfig struct {
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:"params"`
}

// Limits bounds every resource-intensive knob in the config, both at load
// time (config size, include depth, entity counts) and at response time
// (payload bytes, nesting depth, batch size). Each field has a hard
// maximum defined in limits.go that env var overrides are clamped against.
type Limits struct {
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`
	MaxNestDepth    int   `yaml:"max_nest_depth"`
	MaxBatchSize    int   `yaml:"max_batch_size"`

	MaxPhases       int   `yaml:"max_phases"`
	MaxTools        int   `yaml:"max_tools"`
	MaxResources    int   `yaml:"max_resources"`
	MaxPrompts      int   `yaml:"max_prompts"`
	MaxIncludeDepth int   `yaml:"max_include_depth"`
	MaxConfigBytes  int64 `yaml:"max_config_bytes"`
}
