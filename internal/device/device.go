package device

import "errors"

// ErrNotSupported is wrapped by backends when the device does not implement
// a read. Callers use it to log unsupported reads at a lower level.
var ErrNotSupported = errors.New("not supported")

// Source abstracts device enumeration for testability.
type Source interface {
	// Count returns the number of devices currently visible.
	Count() (int, error)
	// Handle resolves the device at index. Indexes run from 0 to Count()-1.
	Handle(index int) (Device, error)
}

// Device reads telemetry for a single GPU.
type Device interface {
	UUID() (string, error)

	// Temperature returns the GPU core temperature in degrees Celsius.
	Temperature() (uint32, error)
	// PowerUsage returns the board power draw in milliwatts.
	PowerUsage() (uint32, error)

	ComputeProcessCount() (int, error)
	GraphicsProcessCount() (int, error)

	CurrentPCIeLinkWidth() (int, error)
	CurrentPCIeLinkGeneration() (int, error)
	MaxPCIeLinkWidth() (int, error)
	MaxPCIeLinkGeneration() (int, error)

	DisplayActive() (bool, error)
	DisplayConnected() (bool, error)

	MemoryInfo() (MemoryInfo, error)
	Utilization() (Utilization, error)
	EncoderStats() (EncoderStats, error)
	EncoderCapacity(t EncoderType) (int, error)
	FBCStats() (FBCStats, error)

	Clock(id ClockID, t ClockType) (uint32, error)
	ThrottleReasons() (ThrottleReasons, error)

	ECCEnabled() (bool, error)
	MemoryErrorCounter(e MemoryErrorType, c ECCCounter, l MemoryLocation) (uint64, error)
}

// MemoryInfo is the frame buffer usage in bytes.
type MemoryInfo struct {
	Free  uint64
	Used  uint64
	Total uint64
}

// Utilization holds percentages over the driver's last sample period.
type Utilization struct {
	GPU    uint32
	Memory uint32
}

// EncoderStats summarizes active hardware encoder sessions.
type EncoderStats struct {
	SessionCount   int
	AverageFPS     uint32
	AverageLatency uint32
}

// FBCStats summarizes active frame buffer capture sessions.
type FBCStats struct {
	SessionCount   uint32
	AverageFPS     uint32
	AverageLatency uint32
}
