package device

import "math/bits"

// ClockID selects which clock value of a domain is read.
type ClockID int32

// Clock ids.
const (
	ClockIDCurrent ClockID = iota
	ClockIDAppClockTarget
	ClockIDAppClockDefault
	ClockIDCustomerBoostMax
)

// ClockIDs lists every clock id in export order.
var ClockIDs = []ClockID{ClockIDCurrent, ClockIDAppClockTarget, ClockIDAppClockDefault, ClockIDCustomerBoostMax}

func (c ClockID) String() string {
	switch c {
	case ClockIDCurrent:
		return "current"
	case ClockIDAppClockTarget:
		return "app_clock_target"
	case ClockIDAppClockDefault:
		return "app_clock_default"
	case ClockIDCustomerBoostMax:
		return "customer_boost_max"
	}
	return "unknown"
}

// ClockType is a clock domain.
type ClockType int32

// Clock domains.
const (
	ClockGraphics ClockType = iota
	ClockSM
	ClockMem
	ClockVideo
)

// ClockTypes lists every clock domain in export order.
var ClockTypes = []ClockType{ClockGraphics, ClockSM, ClockMem, ClockVideo}

func (c ClockType) String() string {
	switch c {
	case ClockGraphics:
		return "graphics"
	case ClockSM:
		return "sm"
	case ClockMem:
		return "mem"
	case ClockVideo:
		return "video"
	}
	return "unknown"
}

// EncoderType is a hardware encoder codec.
type EncoderType int32

// Encoder codecs.
const (
	EncoderH264 EncoderType = iota
	EncoderHEVC
)

func (e EncoderType) String() string {
	switch e {
	case EncoderH264:
		return "h264"
	case EncoderHEVC:
		return "hevc"
	}
	return "unknown"
}

// ThrottleReasons is the bitmask of reasons the clocks are currently limited.
type ThrottleReasons uint64

// ThrottleReason is a single reason flag. ThrottleNone has no bits set.
type ThrottleReason uint64

// Throttle reasons, NVML bit values.
const (
	ThrottleNone                      ThrottleReason = 0
	ThrottleGPUIdle                   ThrottleReason = 1 << 0
	ThrottleApplicationsClocksSetting ThrottleReason = 1 << 1
	ThrottleSWPowerCap                ThrottleReason = 1 << 2
	ThrottleHWSlowdown                ThrottleReason = 1 << 3
	ThrottleSyncBoost                 ThrottleReason = 1 << 4
	ThrottleSWThermalSlowdown         ThrottleReason = 1 << 5
	ThrottleHWThermalSlowdown         ThrottleReason = 1 << 6
	ThrottleHWPowerBrakeSlowdown      ThrottleReason = 1 << 7
	ThrottleDisplayClockSetting       ThrottleReason = 1 << 8
)

// AllThrottleReasons lists every known reason in export order.
var AllThrottleReasons = []ThrottleReason{
	ThrottleGPUIdle,
	ThrottleApplicationsClocksSetting,
	ThrottleSWPowerCap,
	ThrottleHWSlowdown,
	ThrottleSyncBoost,
	ThrottleSWThermalSlowdown,
	ThrottleHWThermalSlowdown,
	ThrottleHWPowerBrakeSlowdown,
	ThrottleDisplayClockSetting,
	ThrottleNone,
}

func (r ThrottleReason) String() string {
	switch r {
	case ThrottleGPUIdle:
		return "gpu_idle"
	case ThrottleApplicationsClocksSetting:
		return "applications_clocks_setting"
	case ThrottleSWPowerCap:
		return "sw_power_cap"
	case ThrottleHWSlowdown:
		return "hw_slowdown"
	case ThrottleSyncBoost:
		return "sync_boost"
	case ThrottleSWThermalSlowdown:
		return "sw_thermal_slowdown"
	case ThrottleHWThermalSlowdown:
		return "hw_thermal_slowdown"
	case ThrottleHWPowerBrakeSlowdown:
		return "hw_power_brake_slowdown"
	case ThrottleDisplayClockSetting:
		return "display_clock_setting"
	case ThrottleNone:
		return "none"
	}
	return "unknown"
}

// Active reports whether reason is set in the mask. ThrottleNone has no
// bits, so it is never active and the active reasons always match Count.
func (m ThrottleReasons) Active(reason ThrottleReason) bool {
	return uint64(m)&uint64(reason) != 0
}

// Known returns the mask restricted to the reasons in AllThrottleReasons.
func (m ThrottleReasons) Known() ThrottleReasons {
	var known uint64
	for _, r := range AllThrottleReasons {
		known |= uint64(r)
	}
	return ThrottleReasons(uint64(m) & known)
}

// Count returns the number of known reasons set in the mask.
func (m ThrottleReasons) Count() int {
	return bits.OnesCount64(uint64(m.Known()))
}

// MemoryErrorType distinguishes corrected from uncorrected ECC errors.
type MemoryErrorType int32

// Memory error types.
const (
	MemoryErrorCorrected MemoryErrorType = iota
	MemoryErrorUncorrected
)

// MemoryErrorTypes lists every error type in export order.
var MemoryErrorTypes = []MemoryErrorType{MemoryErrorCorrected, MemoryErrorUncorrected}

func (e MemoryErrorType) String() string {
	switch e {
	case MemoryErrorCorrected:
		return "corrected"
	case MemoryErrorUncorrected:
		return "uncorrected"
	}
	return "unknown"
}

// ECCCounter selects the counter lifetime.
type ECCCounter int32

// ECC counter scopes. Volatile counters reset on driver reload, aggregate
// counters persist across reboots.
const (
	ECCCounterVolatile ECCCounter = iota
	ECCCounterAggregate
)

// ECCCounters lists every counter scope in export order.
var ECCCounters = []ECCCounter{ECCCounterAggregate, ECCCounterVolatile}

func (c ECCCounter) String() string {
	switch c {
	case ECCCounterAggregate:
		return "aggregate"
	case ECCCounterVolatile:
		return "volatile"
	}
	return "unknown"
}

// MemoryLocation is the memory structure an ECC counter refers to.
type MemoryLocation int32

// Memory locations, NVML values.
const (
	MemoryLocationL1Cache MemoryLocation = iota
	MemoryLocationL2Cache
	MemoryLocationDevice
	MemoryLocationRegisterFile
	MemoryLocationTexture
	MemoryLocationShared
	MemoryLocationCBU
	MemoryLocationSRAM
)

// MemoryLocations lists every location in export order.
var MemoryLocations = []MemoryLocation{
	MemoryLocationCBU,
	MemoryLocationDevice,
	MemoryLocationL1Cache,
	MemoryLocationL2Cache,
	MemoryLocationRegisterFile,
	MemoryLocationShared,
	MemoryLocationSRAM,
	MemoryLocationTexture,
}

func (l MemoryLocation) String() string {
	switch l {
	case MemoryLocationCBU:
		return "cbu"
	case MemoryLocationDevice:
		return "device"
	case MemoryLocationL1Cache:
		return "l1_cache"
	case MemoryLocationL2Cache:
		return "l2_cache"
	case MemoryLocationRegisterFile:
		return "register_file"
	case MemoryLocationShared:
		return "shared"
	case MemoryLocationSRAM:
		return "sram"
	case MemoryLocationTexture:
		return "texture"
	}
	return "unknown"
}
