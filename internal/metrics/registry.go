// Package metrics owns the NVML metric families exported on every scrape.
//
// Families are created once per process on a private prometheus.Registry and
// never change name or label schema afterwards. Every family except the
// device count is keyed by at least the device index and UUID resolved in
// the gather pass that wrote it.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Label names.
const (
	LabelDevice      = "device"
	LabelUUID        = "uuid"
	LabelClockID     = "clock_id"
	LabelClockType   = "type"
	LabelMemoryState = "state"
	LabelReason      = "reason"
	LabelMemError    = "mem_error"
	LabelECCCounter  = "ecc_counter"
	LabelMemLocation = "mem_location"
)

// Memory state label values.
const (
	MemoryFree  = "free"
	MemoryUsed  = "used"
	MemoryTotal = "total"
)

var deviceLabels = []string{LabelDevice, LabelUUID}

// Registry holds the NVML metric families.
type Registry struct {
	reg *prometheus.Registry

	DeviceCount prometheus.Gauge

	Temperature          *prometheus.GaugeVec
	PowerUsage           *prometheus.GaugeVec
	ComputeProcesses     *prometheus.GaugeVec
	GraphicsProcesses    *prometheus.GaugeVec
	CurrentPCIeLinkWidth *prometheus.GaugeVec
	CurrentPCIeLinkGen   *prometheus.GaugeVec
	MaxPCIeLinkWidth     *prometheus.GaugeVec
	MaxPCIeLinkGen       *prometheus.GaugeVec
	DisplayActive        *prometheus.GaugeVec
	DisplayMode          *prometheus.GaugeVec
	MemoryInfo           *prometheus.GaugeVec

	UtilizationGPU    *prometheus.GaugeVec
	UtilizationMemory *prometheus.GaugeVec

	EncoderSessions       *prometheus.GaugeVec
	EncoderAverageFPS     *prometheus.GaugeVec
	EncoderAverageLatency *prometheus.GaugeVec
	EncoderCapacityH264   *prometheus.GaugeVec
	EncoderCapacityHEVC   *prometheus.GaugeVec

	FBCSessions       *prometheus.GaugeVec
	FBCAverageFPS     *prometheus.GaugeVec
	FBCAverageLatency *prometheus.GaugeVec

	Clock               *prometheus.GaugeVec
	ThrottleReasons     *prometheus.GaugeVec
	MemoryErrorCounters *prometheus.GaugeVec

	mu          sync.Mutex
	seenDevices int // one past the highest device index ever written
}

func deviceGauge(name, help string, extra ...string) *prometheus.GaugeVec {
	labels := append(append([]string{}, deviceLabels...), extra...)
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
}

// NewRegistry creates every NVML family and registers it on a fresh registry.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		DeviceCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nvml_device_count",
			Help: "number of nvml devices",
		}),

		Temperature:          deviceGauge("nvml_temperature", "temperature of nvml device"),
		PowerUsage:           deviceGauge("nvml_power_usage", "power usage of nvml device in watts"),
		ComputeProcesses:     deviceGauge("nvml_running_compute_processes_count", "number of running compute processes"),
		GraphicsProcesses:    deviceGauge("nvml_running_graphics_processes_count", "number of running graphics processes"),
		CurrentPCIeLinkWidth: deviceGauge("nvml_current_pcie_link_width", "current pcie link width"),
		CurrentPCIeLinkGen:   deviceGauge("nvml_current_pcie_link_generation", "current pcie link generation"),
		MaxPCIeLinkWidth:     deviceGauge("nvml_max_pcie_link_width", "max pcie link width"),
		MaxPCIeLinkGen:       deviceGauge("nvml_max_pcie_link_generation", "max pcie link generation"),
		DisplayActive:        deviceGauge("nvml_display_active", "display active"),
		DisplayMode:          deviceGauge("nvml_display_mode", "display connected"),
		MemoryInfo:           deviceGauge("nvml_memory_info", "memory information in bytes", LabelMemoryState),

		UtilizationGPU:    deviceGauge("nvml_utilization_gpu", "GPU utilization"),
		UtilizationMemory: deviceGauge("nvml_utilization_memory", "memory utilization"),

		EncoderSessions:       deviceGauge("nvml_encoder_stats_sessions_count", "session count for encoder sessions"),
		EncoderAverageFPS:     deviceGauge("nvml_encoder_stats_average_fps", "average fps for encoder sessions"),
		EncoderAverageLatency: deviceGauge("nvml_encoder_stats_average_latency", "average latency for encoder sessions"),
		EncoderCapacityH264:   deviceGauge("nvml_encoder_capacity_h264", "encoder capacity"),
		EncoderCapacityHEVC:   deviceGauge("nvml_encoder_capacity_hevc", "encoder capacity"),

		FBCSessions:       deviceGauge("nvml_fbc_stats_sessions_count", "session count for frame buffer capture sessions"),
		FBCAverageFPS:     deviceGauge("nvml_fbc_stats_average_fps", "average fps for frame buffer capture sessions"),
		FBCAverageLatency: deviceGauge("nvml_fbc_stats_average_latency", "average latency for frame buffer capture sessions"),

		Clock:               deviceGauge("nvml_clock", "clock speed", LabelClockID, LabelClockType),
		ThrottleReasons:     deviceGauge("nvml_current_clocks_throttle_reasons", "current clock throttling reason code", LabelReason),
		MemoryErrorCounters: deviceGauge("nvml_memory_error_counters", "memory error counters", LabelMemError, LabelECCCounter, LabelMemLocation),
	}

	r.reg.MustRegister(r.DeviceCount)
	for _, v := range r.deviceFamilies() {
		r.reg.MustRegister(v)
	}
	return r
}

// deviceFamilies returns every family keyed by device.
func (r *Registry) deviceFamilies() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		r.Temperature,
		r.PowerUsage,
		r.ComputeProcesses,
		r.GraphicsProcesses,
		r.CurrentPCIeLinkWidth,
		r.CurrentPCIeLinkGen,
		r.MaxPCIeLinkWidth,
		r.MaxPCIeLinkGen,
		r.DisplayActive,
		r.DisplayMode,
		r.MemoryInfo,
		r.UtilizationGPU,
		r.UtilizationMemory,
		r.EncoderSessions,
		r.EncoderAverageFPS,
		r.EncoderAverageLatency,
		r.EncoderCapacityH264,
		r.EncoderCapacityHEVC,
		r.FBCSessions,
		r.FBCAverageFPS,
		r.FBCAverageLatency,
		r.Clock,
		r.ThrottleReasons,
		r.MemoryErrorCounters,
	}
}

// Gatherer exposes the underlying registry for composition with other
// gatherers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Snapshot returns the current value of every family. The result is owned by
// the caller.
func (r *Registry) Snapshot() ([]*dto.MetricFamily, error) {
	return r.reg.Gather()
}

// NoteDevice records that labels for device index are about to be written.
func (r *Registry) NoteDevice(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index+1 > r.seenDevices {
		r.seenDevices = index + 1
	}
}

// EvictDevicesFrom deletes every label tuple whose device index is count or
// higher and returns the number of tuples removed.
func (r *Registry) EvictDevicesFrom(count int) int {
	r.mu.Lock()
	seen := r.seenDevices
	if count < seen {
		r.seenDevices = count
	}
	r.mu.Unlock()

	removed := 0
	for idx := count; idx < seen; idx++ {
		match := prometheus.Labels{LabelDevice: strconv.Itoa(idx)}
		for _, v := range r.deviceFamilies() {
			removed += v.DeletePartialMatch(match)
		}
	}
	return removed
}
