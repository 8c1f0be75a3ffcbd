package nvml

import (
	gonvml "github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/kubeadapt/nvml-exporter/internal/device"
)

// gpu adapts an NVML device handle to device.Device. The label enums in the
// device package share NVML's numeric values, so they convert directly.
type gpu struct {
	h gonvml.Device
}

func (g *gpu) UUID() (string, error) {
	v, ret := g.h.GetUUID()
	return v, check("uuid", ret)
}

func (g *gpu) Temperature() (uint32, error) {
	v, ret := g.h.GetTemperature(gonvml.TEMPERATURE_GPU)
	return v, check("temperature", ret)
}

func (g *gpu) PowerUsage() (uint32, error) {
	v, ret := g.h.GetPowerUsage()
	return v, check("power usage", ret)
}

func (g *gpu) ComputeProcessCount() (int, error) {
	procs, ret := g.h.GetComputeRunningProcesses()
	return len(procs), check("running compute processes", ret)
}

func (g *gpu) GraphicsProcessCount() (int, error) {
	procs, ret := g.h.GetGraphicsRunningProcesses()
	return len(procs), check("running graphics processes", ret)
}

func (g *gpu) CurrentPCIeLinkWidth() (int, error) {
	v, ret := g.h.GetCurrPcieLinkWidth()
	return v, check("current pcie link width", ret)
}

func (g *gpu) CurrentPCIeLinkGeneration() (int, error) {
	v, ret := g.h.GetCurrPcieLinkGeneration()
	return v, check("current pcie link generation", ret)
}

func (g *gpu) MaxPCIeLinkWidth() (int, error) {
	v, ret := g.h.GetMaxPcieLinkWidth()
	return v, check("max pcie link width", ret)
}

func (g *gpu) MaxPCIeLinkGeneration() (int, error) {
	v, ret := g.h.GetMaxPcieLinkGeneration()
	return v, check("max pcie link generation", ret)
}

func (g *gpu) DisplayActive() (bool, error) {
	v, ret := g.h.GetDisplayActive()
	return enabled(v), check("display active", ret)
}

func (g *gpu) DisplayConnected() (bool, error) {
	v, ret := g.h.GetDisplayMode()
	return enabled(v), check("display mode", ret)
}

func (g *gpu) MemoryInfo() (device.MemoryInfo, error) {
	m, ret := g.h.GetMemoryInfo()
	if err := check("memory info", ret); err != nil {
		return device.MemoryInfo{}, err
	}
	return device.MemoryInfo{Free: m.Free, Used: m.Used, Total: m.Total}, nil
}

func (g *gpu) Utilization() (device.Utilization, error) {
	u, ret := g.h.GetUtilizationRates()
	if err := check("utilization rates", ret); err != nil {
		return device.Utilization{}, err
	}
	return device.Utilization{GPU: u.Gpu, Memory: u.Memory}, nil
}

func (g *gpu) EncoderStats() (device.EncoderStats, error) {
	sessions, fps, latency, ret := g.h.GetEncoderStats()
	if err := check("encoder stats", ret); err != nil {
		return device.EncoderStats{}, err
	}
	return device.EncoderStats{SessionCount: sessions, AverageFPS: fps, AverageLatency: latency}, nil
}

func (g *gpu) EncoderCapacity(t device.EncoderType) (int, error) {
	v, ret := g.h.GetEncoderCapacity(gonvml.EncoderType(t))
	return v, check("encoder capacity "+t.String(), ret)
}

func (g *gpu) FBCStats() (device.FBCStats, error) {
	s, ret := g.h.GetFBCStats()
	if err := check("fbc stats", ret); err != nil {
		return device.FBCStats{}, err
	}
	return device.FBCStats{SessionCount: s.SessionsCount, AverageFPS: s.AverageFPS, AverageLatency: s.AverageLatency}, nil
}

func (g *gpu) Clock(id device.ClockID, t device.ClockType) (uint32, error) {
	v, ret := g.h.GetClock(gonvml.ClockType(t), gonvml.ClockId(id))
	return v, check("clock "+id.String()+"/"+t.String(), ret)
}

func (g *gpu) ThrottleReasons() (device.ThrottleReasons, error) {
	v, ret := g.h.GetCurrentClocksThrottleReasons()
	return device.ThrottleReasons(v), check("current clocks throttle reasons", ret)
}

func (g *gpu) ECCEnabled() (bool, error) {
	current, _, ret := g.h.GetEccMode()
	return enabled(current), check("ecc mode", ret)
}

func (g *gpu) MemoryErrorCounter(e device.MemoryErrorType, c device.ECCCounter, l device.MemoryLocation) (uint64, error) {
	v, ret := g.h.GetMemoryErrorCounter(gonvml.MemoryErrorType(e), gonvml.EccCounterType(c), gonvml.MemoryLocation(l))
	return v, check("memory error counter "+e.String()+"/"+c.String()+"/"+l.String(), ret)
}
