package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dunia-labs/mcpfault/internal/config"
	"github.com/dunia-labs/mcpfault/internal/delivery"
	"github.com/dunia-labs/mcpfault/internal/events"
	otelpkg "github.com/dunia-labs/mcpfault/internal/otel"
	"github.com/dunia-labs/mcpfault/internal/phase"
	"github.com/dunia-labs/mcpfault/internal/types"
)

// Dispatcher glues a frozen configuration, a phase engine, and the
// delivery layer into the request cycle: assemble a response from the
// pre-trigger snapshot, hand it to delivery, only then evaluate triggers
// and fire the entered phase's on_enter side effects.
type Dispatcher struct {
	cfg     *config.ServerConfig
	engine  *phase.Engine
	metrics *otelpkg.Metrics
	tracer  *otelpkg.Tracer
	log     *events.EventLogger
}

// New returns a Dispatcher over cfg and engine. Any of metrics, tracer, or
// log may be nil, in which case a no-op implementation is used.
func New(cfg *config.ServerConfig, engine *phase.Engine, metrics *otelpkg.Metrics, tracer *otelpkg.Tracer, log *events.EventLogger) *Dispatcher {
	if metrics == nil {
		metrics = otelpkg.NoopMetrics()
	}
	if tracer == nil {
		tracer = otelpkg.NoopTracer()
	}
	if log == nil {
		log = events.NoopEventLogger()
	}
	return &Dispatcher{cfg: cfg, engine: engine, metrics: metrics, tracer: tracer, log: log}
}

// Handle dispatches one raw JSON-RPC frame (object or batch array) against
// scope, writing the response through w. It returns
// delivery.ErrCloseConnection when an on_enter close_connection side
// effect fired during this call, signaling the caller to tear the
// connection down once this call returns.
func (d *Dispatcher) Handle(ctx context.Context, scope *Scope, w delivery.FlushWriter, raw []byte) error {
	gw := scope.guard(w)
	if types.IsBatch(raw) {
		return d.handleBatch(ctx, scope, gw, raw)
	}
	return d.handleSingle(ctx, scope, gw, raw)
}

func (d *Dispatcher) handleSingle(ctx context.Context, scope *Scope, w delivery.FlushWriter, raw []byte) error {
	start := time.Now()
	var req types.JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return d.writeFatal(ctx, w, nil, types.ErrCodeParseError, "parse error")
	}

	i := scope.State.Index()
	snapshot := d.engine.Snapshot(i)
	deliveryCfg := d.activeDelivery(i)

	ctx, span := d.tracer.StartRequestSpan(ctx, otelpkg.RequestSpanOptions{
		Method:           req.Method,
		PhaseIndex:       i,
		DeliveryBehavior: deliveryCfg.Behavior,
	})
	defer span.End()

	frame := d.route(req, snapshot)
	if frame == nil {
		return d.observe(ctx, scope, w, req, i)
	}

	d.log.LogDeliveryStart(req.Method, deliveryCfg.Behavior, i)
	if err := delivery.Deliver(ctx, w, deliveryCfg, frame, d.cfg.Limits); err != nil {
		return d.handleDeliveryError(ctx, w, req.ID, err)
	}
	scope.recordResponse(frame)
	d.metrics.RecordRequestLatency(ctx, req.Method, "", float64(time.Since(start).Milliseconds()), true)

	return d.observe(ctx, scope, w, req, i)
}

func (d *Dispatcher) handleBatch(ctx context.Context, scope *Scope, w delivery.FlushWriter, raw []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return d.writeFatal(ctx, w, nil, types.ErrCodeParseError, "parse error")
	}
	if len(items) == 0 {
		return d.writeFatal(ctx, w, nil, types.ErrCodeInvalidRequest, "empty batch")
	}

	i := scope.State.Index()
	snapshot := d.engine.Snapshot(i)
	deliveryCfg := d.activeDelivery(i)

	reqs := make([]types.JSONRPCRequest, 0, len(items))
	responses := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		var req types.JSONRPCRequest
		if err := json.Unmarshal(item, &req); err != nil {
			responses = append(responses, errorFrame(nil, types.ErrCodeParseError, "parse error"))
			continue
		}
		if frame := d.route(req, snapshot); frame != nil {
			responses = append(responses, frame)
		}
		reqs = append(reqs, req)
	}

	frame, err := json.Marshal(responses)
	if err != nil {
		return err
	}
	if err := delivery.Deliver(ctx, w, deliveryCfg, frame, d.cfg.Limits); err != nil {
		return d.handleDeliveryError(ctx, w, nil, err)
	}
	scope.recordResponse(frame)

	for _, req := range reqs {
		if err := d.observe(ctx, scope, w, req, i); err != nil {
			return err
		}
	}
	return nil
}

// observe runs trigger evaluation for req after its response has already
// been handed to delivery, and fires any on_enter side effects a
// resulting transition schedules. Side effects that run to completion
// quickly (send_notification, batch_amplify, duplicate_request_ids) run
// inline, so their writes land deterministically right after the
// transition; pipe_deadlock blocks by design and runs in its own
// goroutine so it never wedges the dispatch loop itself;
// notification_flood schedules its own goroutine inside RunSideEffect.
// close_connection is reported back to the caller instead of run here;
// the caller's own connection teardown is what "flushes any pending
// writes" it asks for.
func (d *Dispatcher) observe(ctx context.Context, scope *Scope, w delivery.FlushWriter, req types.JSONRPCRequest, fromIndex int) error {
	entered, transitioned := d.engine.Observe(scope.State, phase.Event{Method: req.Method, Params: req.Params})
	if !transitioned {
		return nil
	}

	toIndex := fromIndex + 1
	d.log.LogPhaseTransition(d.cfg.Scope, fromIndex, toIndex, entered.Name)
	d.metrics.RecordPhaseTransition(ctx, d.cfg.Scope, toIndex)
	d.metrics.SetCurrentPhase(toIndex)

	effectW := scope.effectWriter(w)

	var closeRequested error
	for _, se := range entered.OnEnter {
		se := se
		d.log.LogSideEffectScheduled(se.Kind, toIndex, 0)
		d.metrics.RecordSideEffect(ctx, se.Kind)

		switch se.Kind {
		case config.SideEffectCloseConnection:
			closeRequested = delivery.ErrCloseConnection
		case config.SideEffectPipeDeadlock:
			go func() {
				_ = delivery.RunSideEffect(ctx, effectW, se, scope.LastResponse(), d.cfg.Limits)
			}()
		default:
			if err := delivery.RunSideEffect(ctx, effectW, se, scope.LastResponse(), d.cfg.Limits); err != nil {
				d.log.LogGeneratorLimit(se.Kind, "side_effect", 0)
			}
		}
	}
	return closeRequested
}

func (d *Dispatcher) activeDelivery(index int) config.DeliveryConfig {
	if active, ok := d.engine.ActivePhase(index); ok {
		return active.Delivery
	}
	return config.DeliveryConfig{Behavior: config.DeliveryNormal}
}

// handleDeliveryError maps a response-time resource limit violation to a
// JSON-RPC error response, per spec: it aborts that response only, never
// the connection or the server. The error frame itself is not held to
// max_payload_bytes, so it still goes out when that limit is tiny.
func (d *Dispatcher) handleDeliveryError(ctx context.Context, w delivery.FlushWriter, id interface{}, cause error) error {
	d.metrics.RecordError(ctx, "generator_limit")
	frame := errorFrame(id, types.ErrCodeGeneratorLimit, cause.Error())
	return delivery.Deliver(ctx, w, config.DeliveryConfig{Behavior: config.DeliveryNormal}, frame, config.Limits{})
}

func (d *Dispatcher) writeFatal(ctx context.Context, w delivery.FlushWriter, id interface{}, code int, message string) error {
	frame := errorFrame(id, code, message)
	return delivery.Deliver(ctx, w, config.DeliveryConfig{Behavior: config.DeliveryNormal}, frame, d.cfg.Limits)
}

func errorFrame(id interface{}, code int, message string) json.RawMessage {
	resp := types.JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &types.JSONRPCError{Code: code, Message: message}}
	b, _ := json.Marshal(resp)
	return b
}
