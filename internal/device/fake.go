package device

import (
	"fmt"
	"sync"
)

// Read names accepted by FakeDevice.Fail.
const (
	ReadHandle               = "handle"
	ReadUUID                 = "uuid"
	ReadTemperature          = "temperature"
	ReadPowerUsage           = "power_usage"
	ReadComputeProcesses     = "compute_processes"
	ReadGraphicsProcesses    = "graphics_processes"
	ReadCurrentPCIeLinkWidth = "current_pcie_link_width"
	ReadCurrentPCIeLinkGen   = "current_pcie_link_generation"
	ReadMaxPCIeLinkWidth     = "max_pcie_link_width"
	ReadMaxPCIeLinkGen       = "max_pcie_link_generation"
	ReadDisplayActive        = "display_active"
	ReadDisplayConnected     = "display_connected"
	ReadMemoryInfo           = "memory_info"
	ReadUtilization          = "utilization"
	ReadEncoderStats         = "encoder_stats"
	ReadEncoderCapacity      = "encoder_capacity"
	ReadFBCStats             = "fbc_stats"
	ReadClock                = "clock"
	ReadThrottleReasons      = "throttle_reasons"
	ReadECCMode              = "ecc_mode"
	ReadMemoryErrorCounter   = "memory_error_counter"
)

// ClockKey addresses one clock reading.
type ClockKey struct {
	ID   ClockID
	Type ClockType
}

// MemoryErrorKey addresses one ECC counter.
type MemoryErrorKey struct {
	Error    MemoryErrorType
	Counter  ECCCounter
	Location MemoryLocation
}

// FakeValues is the telemetry a FakeDevice reports. Clocks, encoder
// capacities and memory error counters missing from their maps are reported
// as ErrNotSupported.
type FakeValues struct {
	Temperature          uint32
	PowerUsageMilliwatts uint32
	ComputeProcesses     int
	GraphicsProcesses    int
	CurrentPCIeWidth     int
	CurrentPCIeGen       int
	MaxPCIeWidth         int
	MaxPCIeGen           int
	DisplayActive        bool
	DisplayConnected     bool
	Memory               MemoryInfo
	Utilization          Utilization
	Encoder              EncoderStats
	EncoderCapacity      map[EncoderType]int
	FBC                  FBCStats
	Clocks               map[ClockKey]uint32
	ThrottleReasons      ThrottleReasons
	ECCEnabled           bool
	MemoryErrors         map[MemoryErrorKey]uint64
}

// FakeDevice is an in-memory Device. It is safe for concurrent use.
type FakeDevice struct {
	mu       sync.RWMutex
	uuid     string
	values   FakeValues
	failures map[string]error
}

// NewFakeDevice returns a device reporting uuid and v.
func NewFakeDevice(uuid string, v FakeValues) *FakeDevice {
	return &FakeDevice{uuid: uuid, values: v, failures: make(map[string]error)}
}

// Update mutates the reported values under the device lock.
func (d *FakeDevice) Update(fn func(v *FakeValues)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.values)
}

// Fail makes every subsequent read named read return err.
func (d *FakeDevice) Fail(read string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[read] = err
}

// Recover clears failures for the given reads, or all failures when none
// are given.
func (d *FakeDevice) Recover(reads ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(reads) == 0 {
		d.failures = make(map[string]error)
		return
	}
	for _, r := range reads {
		delete(d.failures, r)
	}
}

func (d *FakeDevice) failure(read string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.failures[read]
}

// read returns the current values or the injected failure for read.
func (d *FakeDevice) read(read string) (FakeValues, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.failures[read]; err != nil {
		return FakeValues{}, err
	}
	return d.values, nil
}

func (d *FakeDevice) UUID() (string, error) {
	if err := d.failure(ReadUUID); err != nil {
		return "", err
	}
	return d.uuid, nil
}

func (d *FakeDevice) Temperature() (uint32, error) {
	v, err := d.read(ReadTemperature)
	return v.Temperature, err
}

func (d *FakeDevice) PowerUsage() (uint32, error) {
	v, err := d.read(ReadPowerUsage)
	return v.PowerUsageMilliwatts, err
}

func (d *FakeDevice) ComputeProcessCount() (int, error) {
	v, err := d.read(ReadComputeProcesses)
	return v.ComputeProcesses, err
}

func (d *FakeDevice) GraphicsProcessCount() (int, error) {
	v, err := d.read(ReadGraphicsProcesses)
	return v.GraphicsProcesses, err
}

func (d *FakeDevice) CurrentPCIeLinkWidth() (int, error) {
	v, err := d.read(ReadCurrentPCIeLinkWidth)
	return v.CurrentPCIeWidth, err
}

func (d *FakeDevice) CurrentPCIeLinkGeneration() (int, error) {
	v, err := d.read(ReadCurrentPCIeLinkGen)
	return v.CurrentPCIeGen, err
}

func (d *FakeDevice) MaxPCIeLinkWidth() (int, error) {
	v, err := d.read(ReadMaxPCIeLinkWidth)
	return v.MaxPCIeWidth, err
}

func (d *FakeDevice) MaxPCIeLinkGeneration() (int, error) {
	v, err := d.read(ReadMaxPCIeLinkGen)
	return v.MaxPCIeGen, err
}

func (d *FakeDevice) DisplayActive() (bool, error) {
	v, err := d.read(ReadDisplayActive)
	return v.DisplayActive, err
}

func (d *FakeDevice) DisplayConnected() (bool, error) {
	v, err := d.read(ReadDisplayConnected)
	return v.DisplayConnected, err
}

func (d *FakeDevice) MemoryInfo() (MemoryInfo, error) {
	v, err := d.read(ReadMemoryInfo)
	return v.Memory, err
}

func (d *FakeDevice) Utilization() (Utilization, error) {
	v, err := d.read(ReadUtilization)
	return v.Utilization, err
}

func (d *FakeDevice) EncoderStats() (EncoderStats, error) {
	v, err := d.read(ReadEncoderStats)
	return v.Encoder, err
}

func (d *FakeDevice) EncoderCapacity(t EncoderType) (int, error) {
	v, err := d.read(ReadEncoderCapacity)
	if err != nil {
		return 0, err
	}
	c, ok := v.EncoderCapacity[t]
	if !ok {
		return 0, fmt.Errorf("encoder capacity %s: %w", t, ErrNotSupported)
	}
	return c, nil
}

func (d *FakeDevice) FBCStats() (FBCStats, error) {
	v, err := d.read(ReadFBCStats)
	return v.FBC, err
}

func (d *FakeDevice) Clock(id ClockID, t ClockType) (uint32, error) {
	v, err := d.read(ReadClock)
	if err != nil {
		return 0, err
	}
	c, ok := v.Clocks[ClockKey{ID: id, Type: t}]
	if !ok {
		return 0, fmt.Errorf("clock %s/%s: %w", id, t, ErrNotSupported)
	}
	return c, nil
}

func (d *FakeDevice) ThrottleReasons() (ThrottleReasons, error) {
	v, err := d.read(ReadThrottleReasons)
	return v.ThrottleReasons, err
}

func (d *FakeDevice) ECCEnabled() (bool, error) {
	v, err := d.read(ReadECCMode)
	return v.ECCEnabled, err
}

func (d *FakeDevice) MemoryErrorCounter(e MemoryErrorType, c ECCCounter, l MemoryLocation) (uint64, error) {
	v, err := d.read(ReadMemoryErrorCounter)
	if err != nil {
		return 0, err
	}
	n, ok := v.MemoryErrors[MemoryErrorKey{Error: e, Counter: c, Location: l}]
	if !ok {
		return 0, fmt.Errorf("memory error counter %s/%s/%s: %w", e, c, l, ErrNotSupported)
	}
	return n, nil
}

// Fake is an in-memory Source. It is safe for concurrent use.
type Fake struct {
	mu       sync.RWMutex
	devices  []*FakeDevice
	countErr error
}

// NewFake returns a Source enumerating devices in order.
func NewFake(devices ...*FakeDevice) *Fake {
	return &Fake{devices: devices}
}

// SetDevices replaces the enumerated devices, simulating hot-plug.
func (f *Fake) SetDevices(devices ...*FakeDevice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
}

// FailCount makes Count return err. A nil err restores enumeration.
func (f *Fake) FailCount(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countErr = err
}

// Count implements Source.
func (f *Fake) Count() (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.devices), nil
}

// Handle implements Source.
func (f *Fake) Handle(index int) (Device, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if index < 0 || index >= len(f.devices) {
		return nil, fmt.Errorf("device index %d out of range", index)
	}
	d := f.devices[index]
	if err := d.failure(ReadHandle); err != nil {
		return nil, err
	}
	return d, nil
}
