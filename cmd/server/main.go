// Command mcpfault runs the adversarial MCP server, or validates an attack
// configuration file without starting it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunia-labs/mcpfault/internal/config"
	"github.com/dunia-labs/mcpfault/internal/dispatcher"
	"github.com/dunia-labs/mcpfault/internal/events"
	"github.com/dunia-labs/mcpfault/internal/health"
	otelpkg "github.com/dunia-labs/mcpfault/internal/otel"
	"github.com/dunia-labs/mcpfault/internal/phase"
	"github.com/dunia-labs/mcpfault/internal/transport"
)

// Exit codes per the CLI contract: general success/failure plus one code
// per error class in the taxonomy, so a harness driving this process can
// tell a bad config apart from a dead transport apart from Ctrl-C.
const (
	exitOK              = 0
	exitGeneral         = 1
	exitConfigError     = 2
	exitIOError         = 3
	exitTransportError  = 4
	exitPhaseError      = 5
	exitGeneratorLimit  = 10
	exitUsage           = 64
	exitInterrupted     = 130
	exitTerminatedBySIG = 143
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCommand(os.Args[2:]))
	case "validate":
		os.Exit(validateCommand(os.Args[2:]))
	case "-h", "--help", "help":
		usage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "mcpfault: unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(exitUsage)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mcpfault <run|validate> -config <path> [flags]")
}

// validateCommand runs the loader against a config file and reports either
// the load error or every warning, each prefixed with its file path. The
// loader stops at its first error and does not record line numbers.
func validateCommand(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the attack configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "validate: -config is required")
		return exitUsage
	}

	result, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			return exitConfigError
		}
		return exitGeneral
	}
	for _, w := range result.Warnings {
		fmt.Fprintln(os.Stderr, w.String())
	}
	fmt.Printf("%s: valid (%d phase(s), scope=%s)\n", *configPath, len(result.Config.Phases), result.Config.Scope)
	return exitOK
}

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the attack configuration file")
	transportName := fs.String("transport", "pipe", "transport: pipe or http")
	addr := fs.String("addr", "127.0.0.1:8733", "listen address for the http transport")
	scopeOverride := fs.String("scope", "", "override the configured scope: per-connection or global")
	deliveryOverride := fs.String("delivery", "", "override every phase's delivery behavior")
	maxPayloadBytes := fs.Int64("max-payload-bytes", 0, "override limits.max_payload_bytes (0 keeps the config's value)")
	healthInterval := fs.Duration("health-interval", 30*time.Second, "host resource sampling interval (0 disables)")
	tracingExporter := fs.String("tracing-exporter", "none", "tracing exporter: none, stdout, otlp-grpc, otlp-http")
	metricsExporter := fs.String("metrics-exporter", "none", "metrics exporter: none, stdout, otlp-grpc, otlp-http")
	otlpEndpoint := fs.String("otlp-endpoint", "", "OTLP collector endpoint for otlp-grpc/otlp-http exporters")
	dev := fs.Bool("dev", false, "development mode: debug logging, stdout tracing")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "run: -config is required")
		return exitUsage
	}

	level := slog.LevelInfo
	if *dev {
		level = slog.LevelDebug
		if *tracingExporter == "none" {
			*tracingExporter = string(otelpkg.ExporterStdout)
		}
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	result, err := config.Load(*configPath)
	if err != nil {
		log.Error("config_load_failed", "error", err)
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			return exitConfigError
		}
		return exitGeneral
	}
	for _, w := range result.Warnings {
		log.Warn("config_warning", "detail", w.String())
	}
	cfg := result.Config

	if *scopeOverride != "" {
		cfg.Scope = *scopeOverride
	}
	if *deliveryOverride != "" {
		for i := range cfg.Phases {
			cfg.Phases[i].Delivery.Behavior = *deliveryOverride
		}
	}
	if *maxPayloadBytes > 0 {
		cfg.Limits.MaxPayloadBytes = *maxPayloadBytes
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := otelpkg.NewTracer(ctx, &otelpkg.Config{
		Enabled:      *tracingExporter != "none",
		ExporterType: otelpkg.ExporterType(*tracingExporter),
		OTLPEndpoint: *otlpEndpoint,
		ServiceName:  "mcpfault",
	})
	if err != nil {
		log.Error("tracer_init_failed", "error", err)
		return exitGeneral
	}
	otelpkg.SetGlobalTracer(tracer)

	metrics, err := otelpkg.NewMetrics(ctx, &otelpkg.MetricsConfig{
		Enabled:      *metricsExporter != "none",
		ExporterType: otelpkg.ExporterType(*metricsExporter),
		OTLPEndpoint: *otlpEndpoint,
		ServiceName:  "mcpfault",
	})
	if err != nil {
		log.Error("metrics_init_failed", "error", err)
		return exitGeneral
	}
	otelpkg.SetGlobalMetrics(metrics)

	eventLog := events.NewEventLogger(cfg.Scope, *transportName)
	engine := phase.NewEngine(cfg)
	d := dispatcher.New(cfg, engine, metrics, tracer, eventLog)

	if *healthInterval > 0 {
		go health.NewSampler(*healthInterval, log).Run(ctx)
	}

	log.Info("server_starting", "transport", *transportName, "scope", cfg.Scope, "phases", len(cfg.Phases))

	switch *transportName {
	case "pipe":
		err = transport.RunPipe(ctx, d, os.Stdin, os.Stdout, transport.PipeOptions{Scope: cfg.Scope, Log: log})
	case "http":
		err = runHTTP(ctx, d, cfg, *addr, log)
	default:
		fmt.Fprintf(os.Stderr, "run: unknown transport %q\n", *transportName)
		return exitUsage
	}

	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			log.Info("server_interrupted")
			return exitInterrupted
		}
		var transportErr *transport.Error
		if errors.As(err, &transportErr) {
			log.Error("transport_failed", "error", err)
			return exitTransportError
		}
		var phaseErr *phase.Error
		if errors.As(err, &phaseErr) {
			log.Error("phase_engine_failed", "error", err)
			return exitPhaseError
		}
		log.Error("server_failed", "error", err)
		return exitGeneral
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		log.Info("server_interrupted")
		return exitInterrupted
	}
	return exitOK
}

func runHTTP(ctx context.Context, d *dispatcher.Dispatcher, cfg *config.ServerConfig, addr string, log *slog.Logger) error {
	hs := transport.NewHTTPServer(d, transport.HTTPOptions{Scope: cfg.Scope, Log: log})
	srv := &http.Server{Addr: addr, Handler: hs.Handler()}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http_listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- &transport.Error{Transport: "http", ScopeID: "-", Reason: "listen failed", Cause: err}
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
