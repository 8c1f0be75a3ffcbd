package nvml

import (
	"testing"

	gonvml "github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/assert"

	"github.com/kubeadapt/nvml-exporter/internal/device"
)

func TestCheck(t *testing.T) {
	assert.NoError(t, check("temperature", gonvml.SUCCESS))

	err := check("clock current/video", gonvml.ERROR_NOT_SUPPORTED)
	assert.ErrorIs(t, err, device.ErrNotSupported)
	assert.Contains(t, err.Error(), "clock current/video")
}

func TestEnabled(t *testing.T) {
	assert.True(t, enabled(gonvml.FEATURE_ENABLED))
	assert.False(t, enabled(gonvml.FEATURE_DISABLED))
}

func TestLabelEnumsMatchNVML(t *testing.T) {
	assert.EqualValues(t, gonvml.CLOCK_ID_CURRENT, device.ClockIDCurrent)
	assert.EqualValues(t, gonvml.CLOCK_ID_CUSTOMER_BOOST_MAX, device.ClockIDCustomerBoostMax)
	assert.EqualValues(t, gonvml.CLOCK_MEM, device.ClockMem)
	assert.EqualValues(t, gonvml.CLOCK_VIDEO, device.ClockVideo)
	assert.EqualValues(t, gonvml.AGGREGATE_ECC, device.ECCCounterAggregate)
	assert.EqualValues(t, gonvml.MEMORY_ERROR_TYPE_UNCORRECTED, device.MemoryErrorUncorrected)
	assert.EqualValues(t, gonvml.MEMORY_LOCATION_DEVICE_MEMORY, device.MemoryLocationDevice)
	assert.EqualValues(t, gonvml.MEMORY_LOCATION_TEXTURE_SHM, device.MemoryLocationShared)
	assert.EqualValues(t, gonvml.MEMORY_LOCATION_SRAM, device.MemoryLocationSRAM)
	assert.EqualValues(t, gonvml.ENCODER_QUERY_HEVC, device.EncoderHEVC)
}
