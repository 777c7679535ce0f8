package dispatcher

import (
	"encoding/json"
	"fmt"

	"github.com/dunia-labs/mcpfault/internal/config"
	"github.com/dunia-labs/mcpfault/internal/generators"
	"github.com/dunia-labs/mcpfault/internal/mcp"
	"github.com/dunia-labs/mcpfault/internal/phase"
	"github.com/dunia-labs/mcpfault/internal/types"
)

// route builds the full JSON-RPC response for req against the visible
// state at the scope's current phase index, already marshaled so a batch
// can embed it directly as one array element. It returns nil for
// notifications, which never get a response but still count toward
// event_count triggers.
func (d *Dispatcher) route(req types.JSONRPCRequest, state phase.ServerState) json.RawMessage {
	if req.ID == nil {
		// A JSON-RPC notification: no id, no response, but it still counts
		// toward event_count triggers once the caller observes it.
		return nil
	}

	var result interface{}
	var rpcErr *types.JSONRPCError

	switch req.Method {
	case "initialize":
		result, rpcErr = d.handleInitialize(req, state)
	case "ping":
		result = struct{}{}
	case "tools/list":
		result = types.ToolsListResult{Tools: state.Tools}
	case "tools/call":
		result, rpcErr = d.handleToolsCall(req, state)
	case "resources/list":
		result = types.ResourcesListResult{Resources: state.Resources}
	case "resources/read":
		result, rpcErr = d.handleResourcesRead(req, state)
	case "prompts/list":
		result = types.PromptsListResult{Prompts: state.Prompts}
	case "prompts/get":
		result, rpcErr = d.handlePromptsGet(req, state)
	default:
		rpcErr = &types.JSONRPCError{Code: types.ErrCodeMethodNotFound, Message: "method not found: " + req.Method}
	}

	resp := types.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else if b, err := json.Marshal(result); err != nil {
		resp.Error = &types.JSONRPCError{Code: types.ErrCodeInternalError, Message: err.Error()}
	} else {
		resp.Result = b
	}

	frame, err := json.Marshal(resp)
	if err != nil {
		return json.RawMessage(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return frame
}

func (d *Dispatcher) handleInitialize(req types.JSONRPCRequest, state phase.ServerState) (interface{}, *types.JSONRPCError) {
	var params types.InitializeParams
	_ = json.Unmarshal(req.Params, &params)

	version := state.ProtocolVersion
	if version == "" {
		version = mcp.Negotiate(params.ProtocolVersion, mcp.NegotiationSupported)
	}
	caps := state.Capabilities
	if caps == nil {
		caps = map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
			"prompts":   map[string]interface{}{},
		}
	}
	return types.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      types.ServerInfo{Name: mcp.ServerName, Version: mcp.ServerVersion},
		Instructions:    state.Instructions,
	}, nil
}

func (d *Dispatcher) handleToolsCall(req types.JSONRPCRequest, state phase.ServerState) (interface{}, *types.JSONRPCError) {
	var params types.ToolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &types.JSONRPCError{Code: types.ErrCodeInvalidParams, Message: "invalid tools/call params"}
	}

	var tool *types.Tool
	for i := range state.Tools {
		if state.Tools[i].Name == params.Name {
			tool = &state.Tools[i]
			break
		}
	}
	if tool == nil {
		return nil, &types.JSONRPCError{Code: types.ErrCodeInvalidParams, Message: "unknown tool: " + params.Name}
	}

	fallback := fmt.Sprintf("tool %q invoked with arguments %v", tool.Name, params.Arguments)
	text, rpcErr := d.resolveResponseContent(state.ToolResponses[tool.Name], fallback)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return types.ToolsCallResult{Content: []types.ToolContent{{Type: "text", Text: text}}}, nil
}

// resolveResponseContent produces the text a tool/resource/prompt response
// carries: a $generate reference built and run against the dispatcher's
// configured limits, static content, or fallback if the entry declares
// neither. Generation uses seed 0, the same fixed seed
// internal/delivery's batch_amplify uses, so a $generate block's output is
// reproducible across repeated calls and config reloads.
func (d *Dispatcher) resolveResponseContent(tmpl config.ResponseTemplate, fallback string) (string, *types.JSONRPCError) {
	if genType, genParams, ok := config.IsGeneratorRef(tmpl.Generate); ok {
		gen, err := generators.Default.Build(genType, genParams)
		if err != nil {
			return "", &types.JSONRPCError{Code: types.ErrCodeInternalError, Message: err.Error()}
		}
		if limit := d.cfg.Limits.MaxPayloadBytes; limit > 0 && gen.EstimatedSize() > limit {
			return "", &types.JSONRPCError{Code: types.ErrCodeGeneratorLimit, Message: fmt.Sprintf("generated response for %q estimated at %d bytes exceeds max_payload_bytes %d", genType, gen.EstimatedSize(), limit)}
		}
		payload, err := gen.Generate(0)
		if err != nil {
			return "", &types.JSONRPCError{Code: types.ErrCodeInternalError, Message: err.Error()}
		}
		if limit := d.cfg.Limits.MaxPayloadBytes; limit > 0 && int64(len(payload)) > limit {
			return "", &types.JSONRPCError{Code: types.ErrCodeGeneratorLimit, Message: fmt.Sprintf("generated response for %q is %d bytes, exceeds max_payload_bytes %d", genType, len(payload), limit)}
		}
		return string(payload), nil
	}
	if tmpl.Content != "" {
		return tmpl.Content, nil
	}
	return fallback, nil
}

func (d *Dispatcher) handleResourcesRead(req types.JSONRPCRequest, state phase.ServerState) (interface{}, *types.JSONRPCError) {
	var params types.ResourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &types.JSONRPCError{Code: types.ErrCodeInvalidParams, Message: "invalid resources/read params"}
	}

	for _, r := range state.Resources {
		if r.URI == params.URI {
			text, rpcErr := d.resolveResponseContent(state.ResourceResponses[r.URI], r.Description)
			if rpcErr != nil {
				return nil, rpcErr
			}
			return types.ResourcesReadResult{
				Contents: []types.ResourceContent{{URI: r.URI, MimeType: r.MimeType, Text: text}},
			}, nil
		}
	}
	return nil, &types.JSONRPCError{Code: types.ErrCodeInvalidParams, Message: "unknown resource: " + params.URI}
}

func (d *Dispatcher) handlePromptsGet(req types.JSONRPCRequest, state phase.ServerState) (interface{}, *types.JSONRPCError) {
	var params types.PromptsGetParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &types.JSONRPCError{Code: types.ErrCodeInvalidParams, Message: "invalid prompts/get params"}
	}

	for _, p := range state.Prompts {
		if p.Name == params.Name {
			text, rpcErr := d.resolveResponseContent(state.PromptResponses[p.Name], p.Description)
			if rpcErr != nil {
				return nil, rpcErr
			}
			return types.PromptsGetResult{
				Description: p.Description,
				Messages:    []types.PromptMessage{{Role: "user", Content: types.PromptContent{Type: "text", Text: text}}},
			}, nil
		}
	}
	return nil, &types.JSONRPCError{Code: types.ErrCodeInvalidParams, Message: "unknown prompt: " + params.Name}
}
