package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/dunia-labs/mcpfault/internal/delivery"
	"github.com/dunia-labs/mcpfault/internal/dispatcher"
)

// pipeWriter adapts a bufio.Writer to delivery.FlushWriter.
type pipeWriter struct {
	bw *bufio.Writer
}

func (p *pipeWriter) Write(b []byte) (int, error) { return p.bw.Write(b) }
func (p *pipeWriter) Flush() error                { return p.bw.Flush() }

// PipeOptions configures the byte-pipe transport.
type PipeOptions struct {
	// Scope is config.ScopePerConnection or config.ScopeGlobal. The pipe
	// transport only ever serves one connection per process, so both
	// values produce a single Scope for the process lifetime; the field
	// exists so callers pass their ServerConfig's Scope unconditionally.
	Scope string
	Log   *slog.Logger
}

// RunPipe serves exactly one connection over in/out: line-delimited
// JSON-RPC 2.0 frames, one UTF-8 JSON value per line. It returns nil when in
// reaches EOF or the dispatcher signals delivery.ErrCloseConnection,
// ctx.Err() when ctx is found cancelled between frames, and an *Error for
// any other read or dispatch failure.
func RunPipe(ctx context.Context, d *dispatcher.Dispatcher, in io.Reader, out io.Writer, opts PipeOptions) error {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	token := NewScopeToken()
	scope := dispatcher.NewScope()
	w := &pipeWriter{bw: bufio.NewWriter(out)}
	reqCtx := token.Context(ctx)

	log.Info("pipe_connection_opened", "scope_id", token.ID())
	defer log.Info("pipe_connection_closed", "scope_id", token.ID())

	reader := bufio.NewReaderSize(in, 64*1024)
	for {
		select {
		case <-ctx.Done():
			token.Cancel(ctx.Err())
			return ctx.Err()
		default:
		}

		line, err := readLine(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				token.Cancel(err)
				return nil
			}
			token.Cancel(err)
			return &Error{Transport: "pipe", ScopeID: token.ID(), Reason: "read failed", Cause: err}
		}
		if len(line) == 0 {
			continue
		}

		handleErr := d.Handle(reqCtx, scope, w, line)
		if handleErr == nil {
			continue
		}
		if errors.Is(handleErr, delivery.ErrCloseConnection) {
			log.Info("pipe_close_connection_requested", "scope_id", token.ID())
			token.Cancel(handleErr)
			return nil
		}
		token.Cancel(handleErr)
		return &Error{Transport: "pipe", ScopeID: token.ID(), Reason: "dispatch failed", Cause: handleErr}
	}
}

// readLine reads up to and including the next '\n', returning the line
// without its terminator. It correctly accumulates a frame that arrives
// split across multiple underlying Read calls, since bufio.Reader.ReadBytes
// loops internally until the delimiter is found or the reader is
// exhausted.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	if err != nil && len(line) > 0 {
		// A final frame with no trailing newline before EOF is still a
		// complete frame; surface it once, then EOF on the next call.
		return line, nil
	}
	return line, err
}
