package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kubeadapt/nvml-exporter/internal/config"
	"github.com/kubeadapt/nvml-exporter/internal/device"
	exportererrors "github.com/kubeadapt/nvml-exporter/internal/errors"
	"github.com/kubeadapt/nvml-exporter/internal/exporter"
	"github.com/kubeadapt/nvml-exporter/internal/gather"
	"github.com/kubeadapt/nvml-exporter/internal/health"
	"github.com/kubeadapt/nvml-exporter/internal/listener"
	"github.com/kubeadapt/nvml-exporter/internal/metrics"
	"github.com/kubeadapt/nvml-exporter/internal/observability"
)

// exporterApp wires the gather engine to its listeners.
type exporterApp struct {
	cfg      config.Config
	metrics  *observability.Metrics
	errors   *exportererrors.ErrorCollector
	registry *metrics.Registry
	engine   *gather.Engine
	set      *listener.Set
	debug    *health.Server
}

func newExporter(cfg config.Config, source device.Source) *exporterApp {
	m := observability.NewMetrics()
	errCollector := exportererrors.NewErrorCollector(exportererrors.RealClock{})
	registry := metrics.NewRegistry()
	engine := gather.NewEngine(source, registry, m, errCollector, gather.Options{
		ThrottleReasons: cfg.ThrottleReasons,
		EvictStale:      cfg.EvictStale,
	})

	snapshot := prometheus.Gatherers{registry.Gatherer(), m.Registry}
	listeners := make([]*listener.Listener, 0, len(cfg.Listen))
	for _, addr := range cfg.Listen {
		h := exporter.New(engine, snapshot, m, addr)
		listeners = append(listeners, listener.New(addr, h, listener.Options{
			DrainTimeout: cfg.ShutdownTimeout,
			Metrics:      m,
		}))
	}

	app := &exporterApp{
		cfg:      cfg,
		metrics:  m,
		errors:   errCollector,
		registry: registry,
		engine:   engine,
		set:      listener.NewSet(listeners...).WithErrorCollector(errCollector),
	}
	if cfg.DebugListen != "" {
		app.debug = health.NewServer(cfg.DebugListen, m, engine, errCollector)
	}
	return app
}

// run serves until ctx is cancelled and every listener has drained. A
// listener that fails is logged; the others keep serving and run still
// returns nil.
func (a *exporterApp) run(ctx context.Context) error {
	if a.debug != nil {
		if err := a.debug.Start(); err != nil {
			slog.Error("failed to start debug server", "error", err)
			return err
		}
		slog.Info("debug server listening", "address", a.debug.Addr())
	}

	outcomes := a.set.Run(ctx)
	if err := listener.Err(outcomes); err != nil {
		slog.Warn("some listeners did not stop cleanly", "error", err)
	}

	if a.debug != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), debugStopTimeout)
		defer cancel()
		if err := a.debug.Stop(stopCtx); err != nil {
			slog.Error("debug server shutdown error", "error", err)
		}
	}
	return nil
}
