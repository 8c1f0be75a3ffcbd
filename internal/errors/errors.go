package errors

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Code represents a typed exporter error code.
type Code string

// Exporter error codes.
const (
	ErrDeviceSourceUnavailable Code = "DEVICE_SOURCE_UNAVAILABLE"
	ErrMetricReadFailed        Code = "METRIC_READ_FAILED"
	ErrDeviceResolutionFailed  Code = "DEVICE_RESOLUTION_FAILED"
	ErrListenerFailed          Code = "LISTENER_FAILED"
	ErrEncodeFailed            Code = "ENCODE_FAILED"
)

// defaultTTL is the auto-expiry duration for errors not re-reported.
const defaultTTL = 5 * time.Minute

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock uses the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// ExporterError represents a typed exporter error with code, component, and optional wrapped error.
// Device and Metric are set for per-device gather failures.
type ExporterError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Component string `json:"component"`
	Device    string `json:"device,omitempty"`
	Metric    string `json:"metric,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *ExporterError) Error() string {
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As compatibility.
func (e *ExporterError) Unwrap() error {
	return e.Err
}

// DeviceSourceUnavailable reports that device enumeration itself failed.
// It aborts the current gather pass.
func DeviceSourceUnavailable(err error) *ExporterError {
	return &ExporterError{
		Code:      ErrDeviceSourceUnavailable,
		Message:   fmt.Sprintf("device source unavailable: %v", err),
		Component: "gather",
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// MetricReadFailed reports a single failed read for one device.
func MetricReadFailed(index int, metric string, err error) *ExporterError {
	dev := strconv.Itoa(index)
	return &ExporterError{
		Code:      ErrMetricReadFailed,
		Message:   fmt.Sprintf("reading %s for device %s: %v", metric, dev, err),
		Component: "gather/device/" + dev + "/" + metric,
		Device:    dev,
		Metric:    metric,
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// DeviceResolutionFailed reports that a device handle or UUID could not be resolved.
func DeviceResolutionFailed(index int, err error) *ExporterError {
	dev := strconv.Itoa(index)
	return &ExporterError{
		Code:      ErrDeviceResolutionFailed,
		Message:   fmt.Sprintf("resolving device %s: %v", dev, err),
		Component: "gather/device/" + dev,
		Device:    dev,
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// ListenerFailed reports that the listener on addr stopped abnormally.
func ListenerFailed(addr string, err error) *ExporterError {
	return &ExporterError{
		Code:      ErrListenerFailed,
		Message:   fmt.Sprintf("listener %s: %v", addr, err),
		Component: "listener/" + addr,
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// EncodeFailed reports that a snapshot could not be serialized.
func EncodeFailed(err error) *ExporterError {
	return &ExporterError{
		Code:      ErrEncodeFailed,
		Message:   fmt.Sprintf("encoding metrics: %v", err),
		Component: "exporter",
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// HasCode reports whether any ExporterError in err's chain carries code.
func HasCode(err error, code Code) bool {
	var ee *ExporterError
	return stderrors.As(err, &ee) && ee.Code == code
}

// entry wraps an ExporterError with its last-reported time for expiry tracking.
type entry struct {
	err        ExporterError
	lastReport time.Time
}

// ErrorCollector is a thread-safe store for active exporter errors.
// Errors are keyed by Code+Component and auto-expire after 5 minutes
// if not re-reported.
type ErrorCollector struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]entry // key = string(Code) + "|" + Component
}

// NewErrorCollector creates an ErrorCollector with the given clock.
func NewErrorCollector(clock Clock) *ErrorCollector {
	return &ErrorCollector{
		clock:   clock,
		entries: make(map[string]entry),
	}
}

// key builds the dedup key for an error.
func key(code Code, component string) string {
	return string(code) + "|" + component
}

// Report stores or refreshes an error. The dedup key is Code+Component.
func (ec *ErrorCollector) Report(err *ExporterError) {
	if err == nil {
		return
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()

	k := key(err.Code, err.Component)
	ec.entries[k] = entry{
		err:        *err,
		lastReport: ec.clock.Now(),
	}
}

// Resolve removes an error once the condition behind it has cleared,
// e.g. a metric read that succeeds again.
func (ec *ErrorCollector) Resolve(code Code, component string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	delete(ec.entries, key(code, component))
}

// GetActiveErrors returns all errors that have been reported within the TTL window.
func (ec *ErrorCollector) GetActiveErrors() []ExporterError {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	now := ec.clock.Now()
	result := make([]ExporterError, 0, len(ec.entries))
	for k, e := range ec.entries {
		if now.Sub(e.lastReport) > defaultTTL {
			delete(ec.entries, k)
			continue
		}
		result = append(result, e.err)
	}
	return result
}

// GetActiveErrorCodes returns a deduplicated list of active error codes.
func (ec *ErrorCollector) GetActiveErrorCodes() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	now := ec.clock.Now()
	seen := make(map[Code]struct{})
	codes := make([]string, 0)
	for k, e := range ec.entries {
		if now.Sub(e.lastReport) > defaultTTL {
			delete(ec.entries, k)
			continue
		}
		if _, ok := seen[e.err.Code]; !ok {
			seen[e.err.Code] = struct{}{}
			codes = append(codes, string(e.err.Code))
		}
	}
	return codes
}

// Clear removes all tracked errors.
func (ec *ErrorCollector) Clear() {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.entries = make(map[string]entry)
}
