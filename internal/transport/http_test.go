package transport

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dunia-labs/mcpfault/internal/config"
	"github.com/dunia-labs/mcpfault/internal/dispatcher"
	"github.com/dunia-labs/mcpfault/internal/phase"
	"github.com/dunia-labs/mcpfault/internal/types"
)

func newTestServer(t *testing.T, cfg *config.ServerConfig, opts HTTPOptions) (*httptest.Server, *HTTPServer) {
	t.Helper()
	d := dispatcher.New(cfg, phase.NewEngine(cfg), nil, nil, nil)
	hs := NewHTTPServer(d, opts)
	srv := httptest.NewServer(hs.Handler())
	t.Cleanup(srv.Close)
	return srv, hs
}

func postJSONRPC(t *testing.T, url, sessionID string, req types.JSONRPCRequest) (*http.Response, types.JSONRPCResponse) {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequest(http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if sessionID != "" {
		httpReq.Header.Set(HeaderMCPSessionID, sessionID)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var out types.JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestHTTPPostPingAssignsSessionID(t *testing.T) {
	cfg := &config.ServerConfig{Limits: config.Limits{MaxPayloadBytes: 1 << 20, MaxNestDepth: 10, MaxBatchSize: 10}}
	srv, _ := newTestServer(t, cfg, HTTPOptions{Scope: config.ScopePerConnection})

	resp, out := postJSONRPC(t, srv.URL+DefaultPath, "", types.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "ping"})
	if out.Error != nil {
		t.Fatalf("unexpected error: %+v", out.Error)
	}
	if resp.Header.Get(HeaderMCPSessionID) == "" {
		t.Fatal("expected a generated Mcp-Session-Id header")
	}
}

func TestHTTPPostReusesSuppliedSessionID(t *testing.T) {
	cfg := &config.ServerConfig{
		Limits:   config.Limits{MaxPayloadBytes: 1 << 20, MaxNestDepth: 10, MaxBatchSize: 10},
		Baseline: config.Baseline{Tools: []config.ToolDef{{Tool: types.Tool{Name: "calculator"}}}},
		Phases: []config.Phase{
			{Name: "after-one", Triggers: []config.Trigger{{Kind: config.TriggerEventCount, Method: "tools/list", Count: 2}}},
		},
	}
	srv, _ := newTestServer(t, cfg, HTTPOptions{Scope: config.ScopePerConnection})

	_, out1 := postJSONRPC(t, srv.URL+DefaultPath, "fixed-session", types.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "tools/list"})
	if out1.Error != nil {
		t.Fatalf("unexpected error: %+v", out1.Error)
	}
	resp2, out2 := postJSONRPC(t, srv.URL+DefaultPath, "fixed-session", types.JSONRPCRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"})
	if out2.Error != nil {
		t.Fatalf("unexpected error: %+v", out2.Error)
	}
	if resp2.Header.Get(HeaderMCPSessionID) != "fixed-session" {
		t.Fatalf("expected the supplied session id to be echoed back, got %q", resp2.Header.Get(HeaderMCPSessionID))
	}
}

func TestHTTPSSEReceivesBroadcastSideEffect(t *testing.T) {
	cfg := &config.ServerConfig{
		Limits: config.Limits{MaxPayloadBytes: 1 << 20, MaxNestDepth: 10, MaxBatchSize: 10},
		Phases: []config.Phase{
			{
				Name:     "notify",
				Triggers: []config.Trigger{{Kind: config.TriggerEventCount, Method: "ping", Count: 1}},
				OnEnter: []config.SideEffect{
					{Kind: config.SideEffectSendNotification, Params: map[string]interface{}{"method": "notifications/tools/list_changed"}},
				},
			},
		},
	}
	srv, _ := newTestServer(t, cfg, HTTPOptions{Scope: config.ScopePerConnection})

	sessionID := "sse-session"
	sseReq, err := http.NewRequest(http.MethodGet, srv.URL+DefaultPath, nil)
	if err != nil {
		t.Fatalf("build SSE request: %v", err)
	}
	sseReq.Header.Set(HeaderAccept, ContentTypeSSE)
	sseReq.Header.Set(HeaderMCPSessionID, sessionID)

	sseResp, err := http.DefaultClient.Do(sseReq)
	if err != nil {
		t.Fatalf("open SSE stream: %v", err)
	}
	defer sseResp.Body.Close()
	if sseResp.Header.Get(HeaderContentType) != ContentTypeSSE {
		t.Fatalf("expected an SSE content type, got %q", sseResp.Header.Get(HeaderContentType))
	}

	// Give the handler goroutine time to register the broadcast writer
	// before the triggering request lands.
	time.Sleep(20 * time.Millisecond)

	_, out := postJSONRPC(t, srv.URL+DefaultPath, sessionID, types.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "ping"})
	if out.Error != nil {
		t.Fatalf("unexpected error: %+v", out.Error)
	}

	reader := bufio.NewReader(sseResp.Body)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.Contains(line, "notifications/tools/list_changed") {
			return
		}
	}
	t.Fatal("expected the SSE stream to carry the on_enter notification")
}

func TestHTTPGlobalScopeSharesStateAcrossSessions(t *testing.T) {
	cfg := &config.ServerConfig{
		Limits: config.Limits{MaxPayloadBytes: 1 << 20, MaxNestDepth: 10, MaxBatchSize: 10},
		Scope:  config.ScopeGlobal,
		Phases: []config.Phase{
			{Name: "after-two", Triggers: []config.Trigger{{Kind: config.TriggerEventCount, Method: "ping", Count: 2}}},
		},
	}
	srv, hs := newTestServer(t, cfg, HTTPOptions{Scope: config.ScopeGlobal})

	_, out1 := postJSONRPC(t, srv.URL+DefaultPath, "client-a", types.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "ping"})
	if out1.Error != nil {
		t.Fatalf("unexpected error: %+v", out1.Error)
	}
	resp2, out2 := postJSONRPC(t, srv.URL+DefaultPath, "client-b", types.JSONRPCRequest{JSONRPC: "2.0", ID: 2, Method: "ping"})
	if out2.Error != nil {
		t.Fatalf("unexpected error: %+v", out2.Error)
	}
	if resp2.Header.Get(HeaderMCPSessionID) != "client-b" {
		t.Fatalf("expected the session id to still be echoed even under global scope")
	}

	// One ping from each session reaches the shared count of 2. Observe runs
	// after the response is flushed, so wait briefly for it.
	scope, _ := hs.scopeFor("")
	deadline := time.Now().Add(time.Second)
	for scope.State.Index() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := scope.State.Index(); got != 1 {
		t.Fatalf("expected pings from two sessions to advance the shared scope to index 1, got %d", got)
	}
}
