package gather

import (
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kubeadapt/nvml-exporter/internal/device"
	"github.com/kubeadapt/nvml-exporter/internal/metrics"
)

// family picks the gauge family a read writes to.
type family func(r *metrics.Registry) *prometheus.GaugeVec

// scalarRead is one independent read producing one value per device.
type scalarRead struct {
	name   string
	family family
	read   func(d device.Device) (float64, error)
}

// field maps one part of a structured read onto a family. extra holds label
// values appended after device and uuid.
type field[T any] struct {
	family family
	extra  []string
	value  func(v T) float64
}

// compoundRead is a structured read that succeeds or fails as a unit.
// then runs only after the read succeeded, each entry independently.
type compoundRead[T any] struct {
	name   string
	read   func(d device.Device) (T, error)
	fields []field[T]
	then   []scalarRead
}

// group is a compoundRead with its type parameter erased.
type group interface {
	collect(p *pass, d device.Device)
}

func (c compoundRead[T]) collect(p *pass, d device.Device) {
	v, err := c.read(d)
	if err != nil {
		p.readFailed(c.name, err)
		return
	}
	p.readOK(c.name)
	for _, f := range c.fields {
		p.set(f.family, f.value(v), f.extra...)
	}
	for _, s := range c.then {
		p.collectScalar(s)
	}
}

func fromUint32(v uint32, err error) (float64, error) { return float64(v), err }

func fromInt(v int, err error) (float64, error) { return float64(v), err }

func fromBool(v bool, err error) (float64, error) {
	if v {
		return 1, err
	}
	return 0, err
}

// milliwattsToWatts converts a power reading in milliwatts to watts.
func milliwattsToWatts(v uint32, err error) (float64, error) {
	return float64(v) / 1000, err
}

var coreReads = []scalarRead{
	{
		name:   "temperature",
		family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.Temperature },
		read:   func(d device.Device) (float64, error) { return fromUint32(d.Temperature()) },
	},
	{
		name:   "power_usage",
		family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.PowerUsage },
		read:   func(d device.Device) (float64, error) { return milliwattsToWatts(d.PowerUsage()) },
	},
	{
		name:   "running_compute_processes_count",
		family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.ComputeProcesses },
		read:   func(d device.Device) (float64, error) { return fromInt(d.ComputeProcessCount()) },
	},
	{
		name:   "running_graphics_processes_count",
		family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.GraphicsProcesses },
		read:   func(d device.Device) (float64, error) { return fromInt(d.GraphicsProcessCount()) },
	},
	{
		name:   "current_pcie_link_width",
		family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.CurrentPCIeLinkWidth },
		read:   func(d device.Device) (float64, error) { return fromInt(d.CurrentPCIeLinkWidth()) },
	},
	{
		name:   "current_pcie_link_generation",
		family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.CurrentPCIeLinkGen },
		read:   func(d device.Device) (float64, error) { return fromInt(d.CurrentPCIeLinkGeneration()) },
	},
	{
		name:   "max_pcie_link_width",
		family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.MaxPCIeLinkWidth },
		read:   func(d device.Device) (float64, error) { return fromInt(d.MaxPCIeLinkWidth()) },
	},
	{
		name:   "max_pcie_link_generation",
		family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.MaxPCIeLinkGen },
		read:   func(d device.Device) (float64, error) { return fromInt(d.MaxPCIeLinkGeneration()) },
	},
	{
		name:   "display_active",
		family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.DisplayActive },
		read:   func(d device.Device) (float64, error) { return fromBool(d.DisplayActive()) },
	},
	{
		name:   "display_mode",
		family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.DisplayMode },
		read:   func(d device.Device) (float64, error) { return fromBool(d.DisplayConnected()) },
	},
}

var encoderCapacityReads = []scalarRead{
	{
		name:   "encoder_capacity_h264",
		family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.EncoderCapacityH264 },
		read:   func(d device.Device) (float64, error) { return fromInt(d.EncoderCapacity(device.EncoderH264)) },
	},
	{
		name:   "encoder_capacity_hevc",
		family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.EncoderCapacityHEVC },
		read:   func(d device.Device) (float64, error) { return fromInt(d.EncoderCapacity(device.EncoderHEVC)) },
	},
}

var compoundReads = []group{
	compoundRead[device.MemoryInfo]{
		name: "memory_info",
		read: func(d device.Device) (device.MemoryInfo, error) { return d.MemoryInfo() },
		fields: []field[device.MemoryInfo]{
			{family: memoryInfo, extra: []string{metrics.MemoryFree}, value: func(m device.MemoryInfo) float64 { return float64(m.Free) }},
			{family: memoryInfo, extra: []string{metrics.MemoryTotal}, value: func(m device.MemoryInfo) float64 { return float64(m.Total) }},
			{family: memoryInfo, extra: []string{metrics.MemoryUsed}, value: func(m device.MemoryInfo) float64 { return float64(m.Used) }},
		},
	},
	compoundRead[device.Utilization]{
		name: "utilization",
		read: func(d device.Device) (device.Utilization, error) { return d.Utilization() },
		fields: []field[device.Utilization]{
			{
				family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.UtilizationGPU },
				value:  func(u device.Utilization) float64 { return float64(u.GPU) },
			},
			{
				family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.UtilizationMemory },
				value:  func(u device.Utilization) float64 { return float64(u.Memory) },
			},
		},
	},
	compoundRead[device.EncoderStats]{
		name: "encoder_stats",
		read: func(d device.Device) (device.EncoderStats, error) { return d.EncoderStats() },
		fields: []field[device.EncoderStats]{
			{
				family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.EncoderSessions },
				value:  func(s device.EncoderStats) float64 { return float64(s.SessionCount) },
			},
			{
				family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.EncoderAverageFPS },
				value:  func(s device.EncoderStats) float64 { return float64(s.AverageFPS) },
			},
			{
				family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.EncoderAverageLatency },
				value:  func(s device.EncoderStats) float64 { return float64(s.AverageLatency) },
			},
		},
		then: encoderCapacityReads,
	},
	compoundRead[device.FBCStats]{
		name: "fbc_stats",
		read: func(d device.Device) (device.FBCStats, error) { return d.FBCStats() },
		fields: []field[device.FBCStats]{
			{
				family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.FBCSessions },
				value:  func(s device.FBCStats) float64 { return float64(s.SessionCount) },
			},
			{
				family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.FBCAverageFPS },
				value:  func(s device.FBCStats) float64 { return float64(s.AverageFPS) },
			},
			{
				family: func(r *metrics.Registry) *prometheus.GaugeVec { return r.FBCAverageLatency },
				value:  func(s device.FBCStats) float64 { return float64(s.AverageLatency) },
			},
		},
	},
}

func memoryInfo(r *metrics.Registry) *prometheus.GaugeVec { return r.MemoryInfo }

// labelValues returns base followed by extra without aliasing base.
func labelValues(base []string, extra ...string) []string {
	return slices.Concat(base, extra)
}
