package transport

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dunia-labs/mcpfault/internal/config"
	"github.com/dunia-labs/mcpfault/internal/delivery"
	"github.com/dunia-labs/mcpfault/internal/dispatcher"
)

// httpFlushWriter adapts a ResponseWriter+Flusher pair to delivery.FlushWriter
// for the plain POST request/response half of the transport.
type httpFlushWriter struct {
	rw http.ResponseWriter
	fl http.Flusher
}

func (h *httpFlushWriter) Write(p []byte) (int, error) { return h.rw.Write(p) }
func (h *httpFlushWriter) Flush() error                { h.fl.Flush(); return nil }

// sseEventWriter adapts a ResponseWriter+Flusher pair to delivery.FlushWriter
// for the long-lived SSE half. Bytes accumulate in buf across Write calls
// and are emitted as one "data: ...\n\n" record per Flush, grounded on
// mockserver.go's writeSSE. A delivery behavior that flushes mid-message
// (slow_loris) therefore splits one JSON-RPC frame across multiple SSE
// records instead of one — an honest reading of "drip bytes slowly" onto a
// framed transport, not a bug: a client has to reassemble across records
// either way.
type sseEventWriter struct {
	rw  http.ResponseWriter
	fl  http.Flusher
	buf bytes.Buffer
}

func (s *sseEventWriter) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *sseEventWriter) Flush() error {
	if s.buf.Len() == 0 {
		return nil
	}
	if _, err := s.rw.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.rw.Write(s.buf.Bytes()); err != nil {
		return err
	}
	if _, err := s.rw.Write([]byte("\n\n")); err != nil {
		return err
	}
	s.buf.Reset()
	s.fl.Flush()
	return nil
}

// HTTPOptions configures the HTTP+SSE transport.
type HTTPOptions struct {
	// Scope is config.ScopePerConnection or config.ScopeGlobal, matching
	// the loaded ServerConfig's Scope field.
	Scope string
	// Path is the endpoint both POST and SSE GET are served on. Defaults
	// to DefaultPath.
	Path string
	Log  *slog.Logger
}

// HTTPServer serves the streamable HTTP+SSE transport: POST for
// request/response, GET with Accept: text/event-stream for the long-lived
// server-initiated channel. Each session is identified by the
// Mcp-Session-Id header; under per-connection scope a session not carrying
// one is assigned a fresh uuid on its first request, and under global scope
// it is assigned "global".
type HTTPServer struct {
	d    *dispatcher.Dispatcher
	opts HTTPOptions
	log  *slog.Logger

	mu     sync.Mutex
	scopes map[string]*dispatcher.Scope

	globalOnce  sync.Once
	globalScope *dispatcher.Scope
}

// NewHTTPServer returns an HTTPServer dispatching onto d.
func NewHTTPServer(d *dispatcher.Dispatcher, opts HTTPOptions) *HTTPServer {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &HTTPServer{d: d, opts: opts, log: log, scopes: make(map[string]*dispatcher.Scope)}
}

// Handler returns the http.Handler to mount on an *http.Server.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.Path, s.handle)
	return mux
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost:
		s.handlePost(w, r)
	case r.Method == http.MethodGet && acceptsSSE(r):
		s.handleSSE(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	scope, sessionID := s.scopeFor(r.Header.Get(HeaderMCPSessionID))

	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set(HeaderMCPSessionID, sessionID)
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	fw := &httpFlushWriter{rw: w, fl: fl}

	err = s.d.Handle(r.Context(), scope, fw, body)
	if err == nil {
		return
	}
	if errors.Is(err, delivery.ErrCloseConnection) {
		s.forget(sessionID)
		return
	}
	s.log.Error("http_dispatch_failed", "scope_id", sessionID, "error", err)
}

func (s *HTTPServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	scope, sessionID := s.scopeFor(r.Header.Get(HeaderMCPSessionID))

	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set(HeaderContentType, ContentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(HeaderMCPSessionID, sessionID)
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	sw := &sseEventWriter{rw: w, fl: fl}
	scope.SetBroadcastWriter(sw)
	defer scope.SetBroadcastWriter(nil)

	s.log.Info("sse_stream_opened", "scope_id", sessionID)
	defer s.log.Info("sse_stream_closed", "scope_id", sessionID)

	<-r.Context().Done()
}

func (s *HTTPServer) scopeFor(sessionID string) (*dispatcher.Scope, string) {
	if s.opts.Scope == config.ScopeGlobal {
		s.globalOnce.Do(func() { s.globalScope = dispatcher.NewScope() })
		if sessionID == "" {
			sessionID = "global"
		}
		return s.globalScope, sessionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	scope, ok := s.scopes[sessionID]
	if !ok {
		scope = dispatcher.NewScope()
		s.scopes[sessionID] = scope
	}
	return scope, sessionID
}

func (s *HTTPServer) forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, sessionID)
}

func acceptsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get(HeaderAccept), ContentTypeSSE)
}
