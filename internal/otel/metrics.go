// Package otel provides OpenTelemetry metrics integration for the adversarial server.
package otel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "mcpfault",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics functionality with server-specific helpers.
type Metrics struct {
	config           *MetricsConfig
	meterProvider    *sdkmetric.MeterProvider
	meter            metric.Meter
	shutdown         func(context.Context) error
	mu               sync.RWMutex
	currentStage     atomic.Int64
	stageCallback    metric.Int64ObservableGauge
	stageCallbackReg metric.Registration

	// Metric instruments
	requestLatency    metric.Float64Histogram
	errorCounter      metric.Int64Counter
	activeConnections metric.Int64UpDownCounter
	phaseTransitions  metric.Int64Counter
	sideEffectCounter metric.Int64Counter
	generatorBytes    metric.Int64Counter
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		// Use no-op meter when disabled
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	// Create exporter based on type
	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	// Create resource with service information
	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	// Create meter provider
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	// Register metric instruments
	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// createResource creates the OpenTelemetry resource with service information.
func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	// Add custom attributes
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	// Request latency histogram (in milliseconds), covering the full
	// dispatch including any configured response_delay.
	m.requestLatency, err = m.meter.Float64Histogram(
		"mcpfault.request.latency",
		metric.WithDescription("Latency of dispatched JSON-RPC requests"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request latency histogram: %w", err)
	}

	// Error counter with category attribute
	m.errorCounter, err = m.meter.Int64Counter(
		"mcpfault.errors",
		metric.WithDescription("Count of errors by category"),
	)
	if err != nil {
		return fmt.Errorf("failed to create error counter: %w", err)
	}

	// Active connections gauge (up/down counter)
	m.activeConnections, err = m.meter.Int64UpDownCounter(
		"mcpfault.connections.active",
		metric.WithDescription("Number of active client connections"),
	)
	if err != nil {
		return fmt.Errorf("failed to create active connections counter: %w", err)
	}

	// Phase transition counter
	m.phaseTransitions, err = m.meter.Int64Counter(
		"mcpfault.phase.transitions",
		metric.WithDescription("Count of phase transitions by scope"),
	)
	if err != nil {
		return fmt.Errorf("failed to create phase transition counter: %w", err)
	}

	// Side effect counter
	m.sideEffectCounter, err = m.meter.Int64Counter(
		"mcpfault.side_effects",
		metric.WithDescription("Count of side effects fired, by kind"),
	)
	if err != nil {
		return fmt.Errorf("failed to create side effect counter: %w", err)
	}

	// Generator output bytes counter
	m.generatorBytes, err = m.meter.Int64Counter(
		"mcpfault.generator.bytes",
		metric.WithDescription("Bytes emitted by payload generators, by generator type"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create generator bytes counter: %w", err)
	}

	// Current phase index observable gauge
	m.stageCallback, err = m.meter.Int64ObservableGauge(
		"mcpfault.phase.current",
		metric.WithDescription("Current global phase index"),
	)
	if err != nil {
		return fmt.Errorf("failed to create phase gauge: %w", err)
	}

	// Register callback for phase gauge
	m.stageCallbackReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.stageCallback, m.currentStage.Load())
			return nil
		},
		m.stageCallback,
	)
	if err != nil {
		return fmt.Errorf("failed to register phase gauge callback: %w", err)
	}

	return nil
}

// RecordRequestLatency records the latency of a dispatched JSON-RPC request.
func (m *Metrics) RecordRequestLatency(ctx context.Context, method, toolName string, latencyMs float64, success bool) {
	if m.requestLatency == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.Bool("success", success),
	}

	if toolName != "" {
		attrs = append(attrs, attribute.String("tool_name", toolName))
	}

	m.requestLatency.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
}

// RecordError records an error with the specified category.
func (m *Metrics) RecordError(ctx context.Context, category string) {
	if m.errorCounter == nil {
		return
	}

	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
	))
}

// IncrementConnections increments the active connections counter.
func (m *Metrics) IncrementConnections(ctx context.Context) {
	if m.activeConnections == nil {
		return
	}

	m.activeConnections.Add(ctx, 1)
}

// DecrementConnections decrements the active connections counter.
func (m *Metrics) DecrementConnections(ctx context.Context) {
	if m.activeConnections == nil {
		return
	}

	m.activeConnections.Add(ctx, -1)
}

// RecordPhaseTransition increments the phase transition counter for a scope.
func (m *Metrics) RecordPhaseTransition(ctx context.Context, scope string, toIndex int) {
	if m.phaseTransitions == nil {
		return
	}

	m.phaseTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.Int("to_index", toIndex),
	))
}

// RecordSideEffect increments the side effect counter for a given kind.
func (m *Metrics) RecordSideEffect(ctx context.Context, kind string) {
	if m.sideEffectCounter == nil {
		return
	}

	m.sideEffectCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordGeneratorBytes adds to the generator output byte counter for a
// given generator type.
func (m *Metrics) RecordGeneratorBytes(ctx context.Context, generatorType string, n int64) {
	if m.generatorBytes == nil {
		return
	}

	m.generatorBytes.Add(ctx, n, metric.WithAttributes(
		attribute.String("generator_type", generatorType),
	))
}

// SetCurrentPhase sets the current global phase index for the observable
// gauge. This is thread-safe and will be read by the gauge callback.
func (m *Metrics) SetCurrentPhase(phaseIndex int) {
	m.currentStage.Store(int64(phaseIndex))
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Unregister callback if registered
	if m.stageCallbackReg != nil {
		if err := m.stageCallbackReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister stage callback: %w", err)
		}
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		// Return a no-op metrics instance
		cfg := DefaultMetricsConfig()
		m := &Metrics{
			config:        cfg,
			meterProvider: sdkmetric.NewMeterProvider(),
			shutdown:      func(context.Context) error { return nil },
		}
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		return m
	}

	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
