// Package nvml implements device.Source on top of the NVIDIA Management
// Library through github.com/NVIDIA/go-nvml. The library is loaded at
// runtime, so the binary starts on hosts without a driver and fails in Init.
package nvml

import (
	"fmt"

	gonvml "github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/kubeadapt/nvml-exporter/internal/device"
)

// Source enumerates NVML devices. Create it with Init and release it with
// Shutdown.
type Source struct{}

// Init loads and initializes NVML.
func Init() (*Source, error) {
	if ret := gonvml.Init(); ret != gonvml.SUCCESS {
		return nil, fmt.Errorf("nvml init: %s", gonvml.ErrorString(ret))
	}
	return &Source{}, nil
}

// Shutdown releases NVML.
func (s *Source) Shutdown() error {
	if ret := gonvml.Shutdown(); ret != gonvml.SUCCESS {
		return fmt.Errorf("nvml shutdown: %s", gonvml.ErrorString(ret))
	}
	return nil
}

// Count implements device.Source.
func (s *Source) Count() (int, error) {
	n, ret := gonvml.DeviceGetCount()
	if err := check("device count", ret); err != nil {
		return 0, err
	}
	return n, nil
}

// Handle implements device.Source.
func (s *Source) Handle(index int) (device.Device, error) {
	h, ret := gonvml.DeviceGetHandleByIndex(index)
	if err := check(fmt.Sprintf("device handle %d", index), ret); err != nil {
		return nil, err
	}
	return &gpu{h: h}, nil
}

// check converts an NVML return code into an error. Unsupported reads wrap
// device.ErrNotSupported.
func check(op string, ret gonvml.Return) error {
	switch ret {
	case gonvml.SUCCESS:
		return nil
	case gonvml.ERROR_NOT_SUPPORTED:
		return fmt.Errorf("%s: %w", op, device.ErrNotSupported)
	default:
		return fmt.Errorf("%s: %s", op, gonvml.ErrorString(ret))
	}
}

func enabled(state gonvml.EnableState) bool {
	return state == gonvml.FEATURE_ENABLED
}
