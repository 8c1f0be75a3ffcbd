package gather

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeadapt/nvml-exporter/internal/device"
	exportererrors "github.com/kubeadapt/nvml-exporter/internal/errors"
	"github.com/kubeadapt/nvml-exporter/internal/metrics"
	"github.com/kubeadapt/nvml-exporter/internal/observability"
)

const (
	uuid0 = "GPU-7a1f0e3c-0000-4000-8000-000000000000"
	uuid1 = "GPU-7a1f0e3c-0000-4000-8000-000000000001"
)

var errRead = errors.New("nvml: unknown error")

type fixture struct {
	source   *device.Fake
	registry *metrics.Registry
	metrics  *observability.Metrics
	errors   *exportererrors.ErrorCollector
	engine   *Engine
}

func newFixture(t *testing.T, opts Options, devices ...*device.FakeDevice) *fixture {
	t.Helper()
	f := &fixture{
		source:   device.NewFake(devices...),
		registry: metrics.NewRegistry(),
		metrics:  observability.NewMetrics(),
		errors:   exportererrors.NewErrorCollector(exportererrors.RealClock{}),
	}
	f.engine = NewEngine(f.source, f.registry, f.metrics, f.errors, opts)
	return f
}

func fullValues() device.FakeValues {
	return device.FakeValues{
		Temperature:          72,
		PowerUsageMilliwatts: 150000,
		ComputeProcesses:     3,
		GraphicsProcesses:    1,
		CurrentPCIeWidth:     16,
		CurrentPCIeGen:       4,
		MaxPCIeWidth:         16,
		MaxPCIeGen:           5,
		DisplayActive:        false,
		DisplayConnected:     true,
		Memory:               device.MemoryInfo{Free: 6 << 30, Used: 2 << 30, Total: 8 << 30},
		Utilization:          device.Utilization{GPU: 87, Memory: 40},
		Encoder:              device.EncoderStats{SessionCount: 2, AverageFPS: 60, AverageLatency: 1200},
		EncoderCapacity:      map[device.EncoderType]int{device.EncoderH264: 100, device.EncoderHEVC: 80},
		FBC:                  device.FBCStats{SessionCount: 1, AverageFPS: 30, AverageLatency: 500},
		Clocks: map[device.ClockKey]uint32{
			{ID: device.ClockIDCurrent, Type: device.ClockGraphics}: 1410,
			{ID: device.ClockIDCurrent, Type: device.ClockMem}:      1215,
		},
		ThrottleReasons: device.ThrottleReasons(device.ThrottleGPUIdle),
		ECCEnabled:      true,
		MemoryErrors: map[device.MemoryErrorKey]uint64{
			{Error: device.MemoryErrorCorrected, Counter: device.ECCCounterAggregate, Location: device.MemoryLocationDevice}:  4,
			{Error: device.MemoryErrorUncorrected, Counter: device.ECCCounterVolatile, Location: device.MemoryLocationL2Cache}: 0,
		},
	}
}

// sample looks up one label tuple in a registry snapshot.
func sample(t *testing.T, r *metrics.Registry, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	families, err := r.Snapshot()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matches(m, labels) {
				return m.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}

// series counts the label tuples of one family.
func series(t *testing.T, r *metrics.Registry, name string) int {
	t.Helper()
	families, err := r.Snapshot()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return len(mf.GetMetric())
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		want, ok := labels[lp.GetName()]
		if !ok {
			continue
		}
		if want != lp.GetValue() {
			return false
		}
		found++
	}
	return found == len(labels)
}

func dev(index, uuid string) map[string]string {
	return map[string]string{metrics.LabelDevice: index, metrics.LabelUUID: uuid}
}

func with(base map[string]string, kv ...string) map[string]string {
	out := make(map[string]string, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

func TestGather_ExportsEveryFamily(t *testing.T) {
	f := newFixture(t, Options{ThrottleReasons: true}, device.NewFakeDevice(uuid0, fullValues()))

	require.NoError(t, f.engine.Gather(context.Background()))

	d0 := dev("0", uuid0)
	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"nvml_temperature", d0, 72},
		{"nvml_power_usage", d0, 150},
		{"nvml_running_compute_processes_count", d0, 3},
		{"nvml_running_graphics_processes_count", d0, 1},
		{"nvml_current_pcie_link_width", d0, 16},
		{"nvml_current_pcie_link_generation", d0, 4},
		{"nvml_max_pcie_link_width", d0, 16},
		{"nvml_max_pcie_link_generation", d0, 5},
		{"nvml_display_active", d0, 0},
		{"nvml_display_mode", d0, 1},
		{"nvml_memory_info", with(d0, metrics.LabelMemoryState, "free"), 6 << 30},
		{"nvml_memory_info", with(d0, metrics.LabelMemoryState, "used"), 2 << 30},
		{"nvml_memory_info", with(d0, metrics.LabelMemoryState, "total"), 8 << 30},
		{"nvml_utilization_gpu", d0, 87},
		{"nvml_utilization_memory", d0, 40},
		{"nvml_encoder_stats_sessions_count", d0, 2},
		{"nvml_encoder_stats_average_fps", d0, 60},
		{"nvml_encoder_stats_average_latency", d0, 1200},
		{"nvml_encoder_capacity_h264", d0, 100},
		{"nvml_encoder_capacity_hevc", d0, 80},
		{"nvml_fbc_stats_sessions_count", d0, 1},
		{"nvml_fbc_stats_average_fps", d0, 30},
		{"nvml_fbc_stats_average_latency", d0, 500},
		{"nvml_clock", with(d0, metrics.LabelClockID, "current", metrics.LabelClockType, "graphics"), 1410},
		{"nvml_clock", with(d0, metrics.LabelClockID, "current", metrics.LabelClockType, "mem"), 1215},
		{"nvml_current_clocks_throttle_reasons", with(d0, metrics.LabelReason, "gpu_idle"), 1},
		{"nvml_current_clocks_throttle_reasons", with(d0, metrics.LabelReason, "none"), 0},
		{"nvml_memory_error_counters", with(d0, metrics.LabelMemError, "corrected", metrics.LabelECCCounter, "aggregate", metrics.LabelMemLocation, "device"), 4},
		{"nvml_memory_error_counters", with(d0, metrics.LabelMemError, "uncorrected", metrics.LabelECCCounter, "volatile", metrics.LabelMemLocation, "l2_cache"), 0},
	}
	for _, tt := range tests {
		got, ok := sample(t, f.registry, tt.name, tt.labels)
		if assert.True(t, ok, "%s %v missing", tt.name, tt.labels) {
			assert.InDelta(t, tt.want, got, 0.001, "%s %v", tt.name, tt.labels)
		}
	}

	count, ok := sample(t, f.registry, "nvml_device_count", nil)
	require.True(t, ok)
	assert.Equal(t, 1.0, count)

	assert.True(t, f.engine.IsReady())
	assert.Equal(t, int64(1), f.engine.Passes())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GatherTotal.WithLabelValues("ok")))
	assert.Empty(t, f.errors.GetActiveErrors())
}

func TestGather_UnsupportedClocksOmitted(t *testing.T) {
	f := newFixture(t, Options{}, device.NewFakeDevice(uuid0, fullValues()))

	require.NoError(t, f.engine.Gather(context.Background()))

	assert.Equal(t, 2, series(t, f.registry, "nvml_clock"))
	_, ok := sample(t, f.registry, "nvml_clock", with(dev("0", uuid0), metrics.LabelClockID, "customer_boost_max", metrics.LabelClockType, "sm"))
	assert.False(t, ok)
	assert.Equal(t, 14.0, testutil.ToFloat64(f.metrics.ReadFailures.WithLabelValues("clock")))
}

func TestGather_CountFailureAbortsPass(t *testing.T) {
	f := newFixture(t, Options{}, device.NewFakeDevice(uuid0, fullValues()))
	f.source.FailCount(errRead)

	err := f.engine.Gather(context.Background())

	require.Error(t, err)
	assert.True(t, exportererrors.HasCode(err, exportererrors.ErrDeviceSourceUnavailable))
	assert.ErrorIs(t, err, errRead)
	assert.False(t, f.engine.IsReady())
	assert.Equal(t, 0, series(t, f.registry, "nvml_temperature"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GatherTotal.WithLabelValues("failed")))
	assert.Contains(t, f.errors.GetActiveErrorCodes(), string(exportererrors.ErrDeviceSourceUnavailable))
}

func TestGather_CountFailureKeepsPreviousValues(t *testing.T) {
	f := newFixture(t, Options{}, device.NewFakeDevice(uuid0, fullValues()))
	require.NoError(t, f.engine.Gather(context.Background()))
	require.True(t, f.engine.IsReady())

	f.source.FailCount(errRead)
	require.Error(t, f.engine.Gather(context.Background()))

	got, ok := sample(t, f.registry, "nvml_temperature", dev("0", uuid0))
	require.True(t, ok)
	assert.Equal(t, 72.0, got)
	assert.False(t, f.engine.IsReady())

	f.source.FailCount(nil)
	require.NoError(t, f.engine.Gather(context.Background()))
	assert.True(t, f.engine.IsReady())
	assert.NotContains(t, f.errors.GetActiveErrorCodes(), string(exportererrors.ErrDeviceSourceUnavailable))
}

func TestGather_ZeroDevices(t *testing.T) {
	f := newFixture(t, Options{})

	require.NoError(t, f.engine.Gather(context.Background()))

	count, ok := sample(t, f.registry, "nvml_device_count", nil)
	require.True(t, ok)
	assert.Equal(t, 0.0, count)
	assert.Equal(t, 0, series(t, f.registry, "nvml_temperature"))
}

func TestGather_UnresolvableDeviceSkipped(t *testing.T) {
	tests := []struct {
		name string
		read string
	}{
		{"handle", device.ReadHandle},
		{"uuid", device.ReadUUID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d0 := device.NewFakeDevice(uuid0, fullValues())
			d1 := device.NewFakeDevice(uuid1, fullValues())
			d0.Fail(tt.read, errRead)
			f := newFixture(t, Options{}, d0, d1)

			require.NoError(t, f.engine.Gather(context.Background()))

			_, ok := sample(t, f.registry, "nvml_temperature", map[string]string{metrics.LabelDevice: "0"})
			assert.False(t, ok)
			got, ok := sample(t, f.registry, "nvml_temperature", dev("1", uuid1))
			require.True(t, ok)
			assert.Equal(t, 72.0, got)

			count, _ := sample(t, f.registry, "nvml_device_count", nil)
			assert.Equal(t, 2.0, count)
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DevicesSkipped))
			assert.Contains(t, f.errors.GetActiveErrorCodes(), string(exportererrors.ErrDeviceResolutionFailed))
		})
	}
}

func TestGather_FailedReadKeepsPreviousValue(t *testing.T) {
	d0 := device.NewFakeDevice(uuid0, fullValues())
	f := newFixture(t, Options{}, d0)
	require.NoError(t, f.engine.Gather(context.Background()))

	d0.Update(func(v *device.FakeValues) {
		v.Temperature = 80
		v.PowerUsageMilliwatts = 200000
	})
	d0.Fail(device.ReadTemperature, errRead)
	require.NoError(t, f.engine.Gather(context.Background()))

	temp, ok := sample(t, f.registry, "nvml_temperature", dev("0", uuid0))
	require.True(t, ok)
	assert.Equal(t, 72.0, temp)
	power, _ := sample(t, f.registry, "nvml_power_usage", dev("0", uuid0))
	assert.Equal(t, 200.0, power)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReadFailures.WithLabelValues("temperature")))
	require.Len(t, f.errors.GetActiveErrors(), 1)
	assert.Equal(t, "temperature", f.errors.GetActiveErrors()[0].Metric)

	d0.Recover()
	require.NoError(t, f.engine.Gather(context.Background()))
	temp, _ = sample(t, f.registry, "nvml_temperature", dev("0", uuid0))
	assert.Equal(t, 80.0, temp)
	assert.Empty(t, f.errors.GetActiveErrors())
}

func TestGather_FailedReadNeverCreatesTuple(t *testing.T) {
	d0 := device.NewFakeDevice(uuid0, fullValues())
	d0.Fail(device.ReadMemoryInfo, errRead)
	d0.Fail(device.ReadUtilization, errRead)
	f := newFixture(t, Options{}, d0)

	require.NoError(t, f.engine.Gather(context.Background()))

	assert.Equal(t, 0, series(t, f.registry, "nvml_memory_info"))
	assert.Equal(t, 0, series(t, f.registry, "nvml_utilization_gpu"))
	assert.Equal(t, 0, series(t, f.registry, "nvml_utilization_memory"))
	assert.Equal(t, 1, series(t, f.registry, "nvml_temperature"))
}

func TestGather_EncoderCapacityRequiresEncoderStats(t *testing.T) {
	d0 := device.NewFakeDevice(uuid0, fullValues())
	d0.Fail(device.ReadEncoderStats, errRead)
	f := newFixture(t, Options{}, d0)

	require.NoError(t, f.engine.Gather(context.Background()))

	assert.Equal(t, 0, series(t, f.registry, "nvml_encoder_stats_sessions_count"))
	assert.Equal(t, 0, series(t, f.registry, "nvml_encoder_capacity_h264"))
	assert.Equal(t, 0, series(t, f.registry, "nvml_encoder_capacity_hevc"))
	assert.Equal(t, 1, series(t, f.registry, "nvml_fbc_stats_sessions_count"))
}

func TestGather_EncoderCapacityIndependent(t *testing.T) {
	v := fullValues()
	delete(v.EncoderCapacity, device.EncoderHEVC)
	f := newFixture(t, Options{}, device.NewFakeDevice(uuid0, v))

	require.NoError(t, f.engine.Gather(context.Background()))

	assert.Equal(t, 1, series(t, f.registry, "nvml_encoder_capacity_h264"))
	assert.Equal(t, 0, series(t, f.registry, "nvml_encoder_capacity_hevc"))
}

func TestGather_ThrottleReasonsDisabled(t *testing.T) {
	f := newFixture(t, Options{ThrottleReasons: false}, device.NewFakeDevice(uuid0, fullValues()))

	require.NoError(t, f.engine.Gather(context.Background()))

	assert.Equal(t, 0, series(t, f.registry, "nvml_current_clocks_throttle_reasons"))
}

func TestGather_ThrottleReasons(t *testing.T) {
	tests := []struct {
		name   string
		mask   device.ThrottleReasons
		active []string
	}{
		{"idle", device.ThrottleReasons(device.ThrottleGPUIdle), []string{"gpu_idle"}},
		{"empty mask", 0, nil},
		{
			"power and thermal",
			device.ThrottleReasons(device.ThrottleSWPowerCap | device.ThrottleHWThermalSlowdown),
			[]string{"sw_power_cap", "hw_thermal_slowdown"},
		},
		{"unknown bits only", device.ThrottleReasons(1 << 40), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := fullValues()
			v.ThrottleReasons = tt.mask
			f := newFixture(t, Options{ThrottleReasons: true}, device.NewFakeDevice(uuid0, v))

			require.NoError(t, f.engine.Gather(context.Background()))

			require.Equal(t, len(device.AllThrottleReasons), series(t, f.registry, "nvml_current_clocks_throttle_reasons"))
			sum := 0.0
			for _, r := range device.AllThrottleReasons {
				got, ok := sample(t, f.registry, "nvml_current_clocks_throttle_reasons", with(dev("0", uuid0), metrics.LabelReason, r.String()))
				require.True(t, ok, r.String())
				want := 0.0
				if slices.Contains(tt.active, r.String()) {
					want = 1
				}
				assert.Equal(t, want, got, r.String())
				sum += got
			}
			assert.Equal(t, float64(len(tt.active)), sum)
			assert.Equal(t, float64(tt.mask.Count()), sum)
		})
	}
}

func TestGather_ThrottleReasonReadFailure(t *testing.T) {
	d0 := device.NewFakeDevice(uuid0, fullValues())
	d0.Fail(device.ReadThrottleReasons, errRead)
	f := newFixture(t, Options{ThrottleReasons: true}, d0)

	require.NoError(t, f.engine.Gather(context.Background()))

	assert.Equal(t, 0, series(t, f.registry, "nvml_current_clocks_throttle_reasons"))
	assert.Equal(t, 1, series(t, f.registry, "nvml_temperature"))
}

func TestGather_MemoryErrorsRequireECC(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		v := fullValues()
		v.ECCEnabled = false
		f := newFixture(t, Options{}, device.NewFakeDevice(uuid0, v))

		require.NoError(t, f.engine.Gather(context.Background()))

		assert.Equal(t, 0, series(t, f.registry, "nvml_memory_error_counters"))
	})

	t.Run("mode read fails", func(t *testing.T) {
		d0 := device.NewFakeDevice(uuid0, fullValues())
		d0.Fail(device.ReadECCMode, errRead)
		f := newFixture(t, Options{}, d0)

		require.NoError(t, f.engine.Gather(context.Background()))

		assert.Equal(t, 0, series(t, f.registry, "nvml_memory_error_counters"))
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReadFailures.WithLabelValues("ecc_mode")))
	})

	t.Run("enabled", func(t *testing.T) {
		f := newFixture(t, Options{}, device.NewFakeDevice(uuid0, fullValues()))

		require.NoError(t, f.engine.Gather(context.Background()))

		assert.Equal(t, 2, series(t, f.registry, "nvml_memory_error_counters"))
	})
}

func TestGather_DeviceHotUnplug(t *testing.T) {
	d0 := device.NewFakeDevice(uuid0, fullValues())
	d1 := device.NewFakeDevice(uuid1, fullValues())

	t.Run("retained by default", func(t *testing.T) {
		f := newFixture(t, Options{}, d0, d1)
		require.NoError(t, f.engine.Gather(context.Background()))

		f.source.SetDevices(d0)
		require.NoError(t, f.engine.Gather(context.Background()))

		count, _ := sample(t, f.registry, "nvml_device_count", nil)
		assert.Equal(t, 1.0, count)
		_, ok := sample(t, f.registry, "nvml_temperature", dev("1", uuid1))
		assert.True(t, ok)
	})

	t.Run("evicted when enabled", func(t *testing.T) {
		f := newFixture(t, Options{EvictStale: true}, d0, d1)
		require.NoError(t, f.engine.Gather(context.Background()))

		f.source.SetDevices(d0)
		require.NoError(t, f.engine.Gather(context.Background()))

		_, ok := sample(t, f.registry, "nvml_temperature", dev("1", uuid1))
		assert.False(t, ok)
		_, ok = sample(t, f.registry, "nvml_temperature", dev("0", uuid0))
		assert.True(t, ok)
		assert.Positive(t, testutil.ToFloat64(f.metrics.EvictedSeries))
	})
}

func TestGather_Concurrent(t *testing.T) {
	d0 := device.NewFakeDevice(uuid0, fullValues())
	d1 := device.NewFakeDevice(uuid1, fullValues())
	f := newFixture(t, Options{ThrottleReasons: true}, d0, d1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, f.engine.Gather(context.Background()))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(80), f.engine.Passes())
	assert.Equal(t, 80.0, testutil.ToFloat64(f.metrics.GatherTotal.WithLabelValues("ok")))
	temp, ok := sample(t, f.registry, "nvml_temperature", dev("1", uuid1))
	require.True(t, ok)
	assert.Equal(t, 72.0, temp)
}
