// Package transport implements the two wire transports this server
// speaks: a line-delimited byte pipe (one connection per process) and
// HTTP+SSE (many concurrent connections, each stamped with a scope ID).
// Both adapt an accepted connection into a dispatcher.Scope and a
// delivery.FlushWriter and hand every frame to the same dispatcher.
package transport

const (
	HeaderContentType  = "Content-Type"
	HeaderAccept       = "Accept"
	HeaderMCPSessionID = "Mcp-Session-Id"

	ContentTypeJSON = "application/json"
	ContentTypeSSE  = "text/event-stream"

	DefaultPath = "/mcp"
)
