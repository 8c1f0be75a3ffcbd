package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	"github.com/spf13/cobra"

	"github.com/kubeadapt/nvml-exporter/internal/config"
	"github.com/kubeadapt/nvml-exporter/internal/device/nvml"
	"github.com/kubeadapt/nvml-exporter/internal/observability"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.Load()
	cfg.Version = version

	cmd := &cobra.Command{
		Use:           "nvml-exporter",
		Short:         "Export NVIDIA GPU telemetry from NVML in the Prometheus text format",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cfg.BindFlags(cmd.Flags())
	return cmd
}

func run(parent context.Context, cfg config.Config) error {
	// 1. Validate config and set up logging.
	slog.SetDefault(observability.NewLogger(os.Stderr, cfg.Verbosity))
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}

	// 2. Create context with signal handling.
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("shutdown signal received", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("nvml-exporter starting",
		"version", cfg.Version,
		"listen", cfg.Listen,
		"throttle_reasons", cfg.ThrottleReasons,
		"debug_listen", cfg.DebugListen,
	)

	// 3. Load NVML.
	source, err := nvml.Init()
	if err != nil {
		slog.Error("failed to initialize NVML", "error", err)
		return fmt.Errorf("initialize NVML: %w", err)
	}
	defer func() {
		if err := source.Shutdown(); err != nil {
			slog.Error("NVML shutdown error", "error", err)
		}
	}()

	// 4. Serve until every listener has stopped.
	if err := newExporter(cfg, source).run(ctx); err != nil {
		return err
	}

	slog.Info("nvml-exporter stopped")
	return nil
}

// debugStopTimeout bounds stopping the debug server at shutdown.
const debugStopTimeout = 5 * time.Second
