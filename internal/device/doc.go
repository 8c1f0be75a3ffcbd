// Package device describes the GPU management capability the exporter reads
// telemetry from.
//
// A Source enumerates devices by index and hands out Device handles. Every
// read on a Device is independently fallible: a failing temperature read says
// nothing about whether the power read for the same device will succeed. The
// label enums in this package (clock ids, clock types, throttle reasons,
// memory locations, ECC counters, memory error types) carry the exact strings
// used in the exported label values, and numeric values matching the NVML ABI
// so backends can convert them directly.
//
// Fake is an in-memory Source with per-read failure injection, used by the
// tests of every package that consumes a Source.
package device
