package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/dunia-labs/mcpfault/internal/config"
	"github.com/dunia-labs/mcpfault/internal/dispatcher"
	"github.com/dunia-labs/mcpfault/internal/phase"
	"github.com/dunia-labs/mcpfault/internal/types"
)

func pingLine(id int) []byte {
	b, _ := json.Marshal(types.JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: "ping"})
	return append(b, '\n')
}

func TestRunPipeRespondsThenStopsOnEOF(t *testing.T) {
	cfg := &config.ServerConfig{Limits: config.Limits{MaxPayloadBytes: 1 << 20, MaxNestDepth: 10, MaxBatchSize: 10}}
	d := dispatcher.New(cfg, phase.NewEngine(cfg), nil, nil, nil)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	done := make(chan error, 1)
	go func() { done <- RunPipe(context.Background(), d, inR, outW, PipeOptions{}) }()

	go func() {
		_, _ = inW.Write(pingLine(1))
		_ = inW.Close()
	}()

	scanner := bufio.NewScanner(outR)
	if !scanner.Scan() {
		t.Fatalf("expected a response line, scanner err: %v", scanner.Err())
	}
	var resp types.JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunPipe returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunPipe did not stop after input EOF")
	}
}

func TestRunPipeHandlesFrameSplitAcrossReads(t *testing.T) {
	cfg := &config.ServerConfig{Limits: config.Limits{MaxPayloadBytes: 1 << 20, MaxNestDepth: 10, MaxBatchSize: 10}}
	d := dispatcher.New(cfg, phase.NewEngine(cfg), nil, nil, nil)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	done := make(chan error, 1)
	go func() { done <- RunPipe(context.Background(), d, inR, outW, PipeOptions{}) }()

	full := pingLine(1)
	split := len(full) / 2
	go func() {
		_, _ = inW.Write(full[:split])
		time.Sleep(10 * time.Millisecond)
		_, _ = inW.Write(full[split:])
		_ = inW.Close()
	}()

	scanner := bufio.NewScanner(outR)
	if !scanner.Scan() {
		t.Fatalf("expected a response line despite the split write, scanner err: %v", scanner.Err())
	}
	var resp types.JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPipe did not stop after input EOF")
	}
}

func TestRunPipeStopsOnCloseConnectionSideEffect(t *testing.T) {
	cfg := &config.ServerConfig{
		Limits: config.Limits{MaxPayloadBytes: 1 << 20, MaxNestDepth: 10, MaxBatchSize: 10},
		Phases: []config.Phase{
			{
				Name:     "kill",
				Triggers: []config.Trigger{{Kind: config.TriggerEventCount, Method: "ping", Count: 1}},
				OnEnter:  []config.SideEffect{{Kind: config.SideEffectCloseConnection}},
			},
		},
	}
	d := dispatcher.New(cfg, phase.NewEngine(cfg), nil, nil, nil)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	done := make(chan error, 1)
	go func() { done <- RunPipe(context.Background(), d, inR, outW, PipeOptions{}) }()

	go func() { _, _ = inW.Write(pingLine(1)) }()

	scanner := bufio.NewScanner(outR)
	if !scanner.Scan() {
		t.Fatalf("expected a response before close, scanner err: %v", scanner.Err())
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected a nil (graceful) stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunPipe did not stop after close_connection fired")
	}
	_ = inW.Close()
}
