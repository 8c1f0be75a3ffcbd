// Package gather implements the gather pass: one sweep over every visible
// device that reads all enabled telemetry and writes it into the metric
// registry.
//
// Failures are isolated. Only a failing device count aborts a pass; a device
// whose handle or UUID cannot be resolved is skipped, and a failing read
// leaves the previous value of its label tuple untouched. Reads are never
// retried within a pass; the next scrape retries them naturally.
package gather

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kubeadapt/nvml-exporter/internal/device"
	exportererrors "github.com/kubeadapt/nvml-exporter/internal/errors"
	"github.com/kubeadapt/nvml-exporter/internal/metrics"
	"github.com/kubeadapt/nvml-exporter/internal/observability"
)

// Options are fixed at startup.
type Options struct {
	// ThrottleReasons enables the throttle reason family.
	ThrottleReasons bool
	// EvictStale removes label tuples of device indexes at or beyond the
	// current device count. Off by default: series of devices that
	// disappear otherwise keep their last value for the process lifetime.
	EvictStale bool
}

// Engine runs gather passes. Gather is safe for concurrent use; overlapping
// passes interleave their writes per label tuple.
type Engine struct {
	source   device.Source
	registry *metrics.Registry
	metrics  *observability.Metrics
	errors   *exportererrors.ErrorCollector
	opts     Options

	passes    atomic.Int64
	succeeded atomic.Bool
	lastOK    atomic.Bool
}

// NewEngine creates an Engine writing into registry.
func NewEngine(source device.Source, registry *metrics.Registry, m *observability.Metrics, errCollector *exportererrors.ErrorCollector, opts Options) *Engine {
	return &Engine{
		source:   source,
		registry: registry,
		metrics:  m,
		errors:   errCollector,
		opts:     opts,
	}
}

// IsReady reports whether a pass has succeeded and the latest pass did not
// fail fatally. Implements health.ReadinessChecker.
func (e *Engine) IsReady() bool {
	return e.succeeded.Load() && e.lastOK.Load()
}

// Passes returns the number of passes started.
func (e *Engine) Passes() int64 {
	return e.passes.Load()
}

// Gather runs one pass. It returns an error wrapping
// errors.ErrDeviceSourceUnavailable only when the device count cannot be
// read; every other failure is logged and isolated.
func (e *Engine) Gather(ctx context.Context) error {
	start := time.Now()
	e.passes.Add(1)

	logger := slog.Default().With("pass", uuid.NewString())
	logger.DebugContext(ctx, "starting NVML gather")

	defer func() {
		e.metrics.GatherDuration.Observe(time.Since(start).Seconds())
	}()

	count, err := e.source.Count()
	if err != nil {
		ee := exportererrors.DeviceSourceUnavailable(err)
		e.errors.Report(ee)
		e.metrics.GatherTotal.WithLabelValues("failed").Inc()
		e.lastOK.Store(false)
		return ee
	}
	e.errors.Resolve(exportererrors.ErrDeviceSourceUnavailable, "gather")
	e.registry.DeviceCount.Set(float64(count))

	if e.opts.EvictStale {
		if n := e.registry.EvictDevicesFrom(count); n > 0 {
			e.metrics.EvictedSeries.Add(float64(n))
			logger.InfoContext(ctx, "evicted series of devices no longer enumerated", "count", count, "series", n)
		}
	}

	for index := 0; index < count; index++ {
		e.gatherDevice(ctx, logger, index)
	}

	e.metrics.GatherTotal.WithLabelValues("ok").Inc()
	e.lastOK.Store(true)
	e.succeeded.Store(true)
	logger.DebugContext(ctx, "NVML gather finished", "devices", count, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (e *Engine) gatherDevice(ctx context.Context, logger *slog.Logger, index int) {
	d, err := e.source.Handle(index)
	if err == nil {
		var id string
		id, err = d.UUID()
		if err == nil {
			e.collect(ctx, logger, index, id, d)
			return
		}
	}

	ee := exportererrors.DeviceResolutionFailed(index, err)
	e.errors.Report(ee)
	e.metrics.DevicesSkipped.Inc()
	logger.WarnContext(ctx, "skipping device", "device", index, "error", ee)
}

func (e *Engine) collect(ctx context.Context, logger *slog.Logger, index int, id string, d device.Device) {
	e.errors.Resolve(exportererrors.ErrDeviceResolutionFailed, "gather/device/"+strconv.Itoa(index))
	e.registry.NoteDevice(index)

	p := &pass{
		ctx:    ctx,
		engine: e,
		index:  index,
		dev:    d,
		labels: []string{strconv.Itoa(index), id},
		logger: logger.With("device", index, "uuid", id),
	}

	for _, s := range coreReads {
		p.collectScalar(s)
	}
	for _, g := range compoundReads {
		g.collect(p, d)
	}
	p.collectClocks(d)
	if e.opts.ThrottleReasons {
		p.collectThrottleReasons(d)
	} else {
		p.logger.Log(ctx, observability.LevelTrace, "skipping throttle reasons collection")
	}
	p.collectMemoryErrors(d)
}
