package gather

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kubeadapt/nvml-exporter/internal/device"
	exportererrors "github.com/kubeadapt/nvml-exporter/internal/errors"
	"github.com/kubeadapt/nvml-exporter/internal/metrics"
	"github.com/kubeadapt/nvml-exporter/internal/observability"
)

// pass carries the per-device state of one gather pass.
type pass struct {
	ctx    context.Context
	engine *Engine
	index  int
	dev    device.Device
	labels []string // device index and uuid resolved in this pass
	logger *slog.Logger
}

func (p *pass) set(f family, v float64, extra ...string) {
	f(p.engine.registry).WithLabelValues(labelValues(p.labels, extra...)...).Set(v)
}

func (p *pass) collectScalar(s scalarRead) {
	v, err := s.read(p.dev)
	if err != nil {
		p.readFailed(s.name, err)
		return
	}
	p.readOK(s.name)
	p.set(s.family, v)
}

// readFailed logs and records a failed read. The label tuple keeps its
// previous value.
func (p *pass) readFailed(name string, err error) {
	ee := exportererrors.MetricReadFailed(p.index, name, err)
	p.engine.metrics.ReadFailures.WithLabelValues(name).Inc()
	p.engine.errors.Report(ee)
	p.logger.WarnContext(p.ctx, "error collecting metric", "metric", name, "error", err)
}

func (p *pass) readOK(name string) {
	p.engine.errors.Resolve(exportererrors.ErrMetricReadFailed, "gather/device/"+p.labels[0]+"/"+name)
}

// trace logs a read that failed in a way that is routine for the part,
// such as an unsupported clock or ECC counter.
func (p *pass) trace(msg string, args ...any) {
	p.logger.Log(p.ctx, observability.LevelTrace, msg, args...)
}

func (p *pass) collectClocks(d device.Device) {
	for _, id := range device.ClockIDs {
		for _, ct := range device.ClockTypes {
			v, err := d.Clock(id, ct)
			if err != nil {
				p.engine.metrics.ReadFailures.WithLabelValues("clock").Inc()
				p.trace("failed to collect clock", "clock_id", id, "type", ct, "error", err)
				continue
			}
			p.set(clock, float64(v), id.String(), ct.String())
		}
	}
}

func (p *pass) collectThrottleReasons(d device.Device) {
	mask, err := d.ThrottleReasons()
	if err != nil {
		p.readFailed("throttle_reasons", err)
		return
	}
	p.readOK("throttle_reasons")
	for _, r := range device.AllThrottleReasons {
		v := 0.0
		if mask.Active(r) {
			v = 1
		}
		p.set(throttleReasons, v, r.String())
	}
}

func (p *pass) collectMemoryErrors(d device.Device) {
	enabled, err := d.ECCEnabled()
	if err != nil {
		p.engine.metrics.ReadFailures.WithLabelValues("ecc_mode").Inc()
		p.logger.WarnContext(p.ctx, "could not check ECC state, skipping memory error metrics", "error", err)
		return
	}
	if !enabled {
		p.logger.WarnContext(p.ctx, "ECC is not enabled, skipping memory error metrics")
		return
	}

	p.logger.DebugContext(p.ctx, "ECC enabled, collecting memory error statistics")
	for _, loc := range device.MemoryLocations {
		for _, counter := range device.ECCCounters {
			for _, kind := range device.MemoryErrorTypes {
				n, err := d.MemoryErrorCounter(kind, counter, loc)
				if err != nil {
					if !errors.Is(err, device.ErrNotSupported) {
						p.engine.metrics.ReadFailures.WithLabelValues("memory_error_counter").Inc()
					}
					p.trace("failed to collect memory error counter",
						"mem_error", kind, "ecc_counter", counter, "mem_location", loc, "error", err)
					continue
				}
				p.set(memoryErrorCounters, float64(n), kind.String(), counter.String(), loc.String())
			}
		}
	}
}

func clock(r *metrics.Registry) *prometheus.GaugeVec { return r.Clock }

func throttleReasons(r *metrics.Registry) *prometheus.GaugeVec { return r.ThrottleReasons }

func memoryErrorCounters(r *metrics.Registry) *prometheus.GaugeVec { return r.MemoryErrorCounters }
