package acq

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/camflow/camera"
	"github.com/nasa-jpl/camflow/device"
	"github.com/nasa-jpl/camflow/sdk"
	"github.com/nasa-jpl/camflow/sdk/sim"
	"github.com/nasa-jpl/camflow/util"
)

var quietLogger = log.New(io.Discard, "", 0)

func simCaps(t *testing.T, cfg sim.Config) sdk.Capabilities {
	t.Helper()
	s := openSim(t, cfg)
	defer s.h.Close()
	var caps sdk.Capabilities
	err := s.h.Call(func(s sdk.SDK) error {
		var err error
		caps, err = s.Capabilities()
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return caps
}

type simCamera struct {
	sim *sim.SDK
	h   *device.Handle
}

func openSim(t *testing.T, cfg sim.Config) simCamera {
	t.Helper()
	s := sim.New(cfg)
	dc := device.NewContext(s)
	dc.Logger = quietLogger
	h, err := dc.Open(0)
	if err != nil {
		t.Fatal(err)
	}
	return simCamera{sim: s, h: h}
}

func TestFitCentersRegion(t *testing.T) {
	caps := simCaps(t, sim.Config{})
	got, err := Fit(camera.Settings{
		Binning: camera.Binning{H: 2, V: 2},
		Region:  camera.Region{X0: 1, X1: 512, Y0: 1, Y1: 512},
	}, caps)
	if err != nil {
		t.Fatal(err)
	}
	expected := camera.Region{X0: 257, X1: 768, Y0: 257, Y1: 768}
	if got.Region != expected {
		t.Errorf("expected %v got %v", expected, got.Region)
	}
	if w, h := got.Dims(); w != 256 || h != 256 {
		t.Errorf("expected 256x256 super pixels got %dx%d", w, h)
	}
}

func TestFitZeroRegionIsFullSensor(t *testing.T) {
	caps := simCaps(t, sim.Config{})
	got, err := Fit(camera.Settings{Binning: camera.Binning{H: 4, V: 4}}, caps)
	if err != nil {
		t.Fatal(err)
	}
	expected := camera.Region{X0: 1, X1: 1024, Y0: 1, Y1: 1024}
	if got.Region != expected {
		t.Errorf("expected %v got %v", expected, got.Region)
	}
}

func TestFitWithoutSubImage(t *testing.T) {
	caps := simCaps(t, sim.Config{NoSubImage: true, Width: 256, Height: 256})
	_, err := Fit(camera.Settings{
		Binning: camera.Binning{H: 1, V: 1},
		Region:  camera.Region{X0: 1, X1: 512, Y0: 1, Y1: 512},
	}, caps)
	var hw *sdk.HardwareError
	if !errors.As(err, &hw) {
		t.Fatalf("expected a HardwareError got %v", err)
	}

	got, err := Fit(camera.Settings{
		Binning: camera.Binning{H: 1, V: 1},
		Region:  camera.Region{X0: 1, X1: 64, Y0: 1, Y1: 64},
	}, caps)
	if err != nil {
		t.Fatal(err)
	}
	expected := camera.Region{X0: 1, X1: 256, Y0: 1, Y1: 256}
	if got.Region != expected {
		t.Errorf("expected a small region to widen to %v got %v", expected, got.Region)
	}
}

func TestFitClamps(t *testing.T) {
	caps := simCaps(t, sim.Config{})
	got, err := Fit(camera.Settings{
		Binning:      camera.Binning{H: 0, V: 99},
		Region:       camera.Region{X0: 1, X1: 4, Y0: 1, Y1: 4},
		ExposureTime: time.Hour,
		ReadoutRate:  9e6,
		Gain:         3.1,
	}, caps)
	if err != nil {
		t.Fatal(err)
	}
	expected := camera.Settings{
		Binning: camera.Binning{H: 1, V: 4},
		// 16 super pixels minimum, centered
		Region:       camera.Region{X0: 505, X1: 520, Y0: 481, Y1: 544},
		ExposureTime: 600 * time.Second,
		ReadoutRate:  10e6,
		Gain:         4,
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("fit mismatch (-want +got):\n%s", diff)
	}

	got, _ = Fit(camera.Settings{}, caps)
	if got.ExposureTime != MinExposure || got.ReadoutRate != 100e6 || got.Gain != 1 {
		t.Errorf("expected the zero request to take the minimum exposure, fastest rate and lowest gain got %+v", got)
	}
}

func TestFitIsIdempotent(t *testing.T) {
	caps := simCaps(t, sim.Config{})
	reqs := []camera.Settings{
		{Binning: camera.Binning{H: 3, V: 2}, Region: camera.Region{X0: 10, X1: 700, Y0: 33, Y1: 34}},
		{Binning: camera.Binning{H: 2, V: 2}, Region: camera.Region{X0: 1, X1: 1024, Y0: 1, Y1: 1024}, Gain: 2},
		{ExposureTime: 123456 * time.Nanosecond, ReadoutRate: 1},
	}
	for _, req := range reqs {
		once, err := Fit(req, caps)
		if err != nil {
			t.Fatal(err)
		}
		twice, err := Fit(once, caps)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("Fit is not idempotent for %+v (-once +twice):\n%s", req, diff)
		}
	}
}

func TestRepeatedCommitWritesNothing(t *testing.T) {
	s := openSim(t, sim.Config{})
	defer s.h.Close()
	cache := NewSettingCache(simCaps(t, sim.Config{}))
	cache.Logger = quietLogger
	req := camera.Settings{
		Binning:      camera.Binning{H: 2, V: 2},
		Region:       camera.Region{X0: 1, X1: 128, Y0: 1, Y1: 128},
		ExposureTime: 5 * time.Millisecond,
		ReadoutRate:  10e6,
		Gain:         2,
	}
	fitted, err := cache.Request(req)
	if err != nil {
		t.Fatal(err)
	}
	s.sim.ResetCalls()
	committed, err := cache.DiffAndCommit(s.h)
	if err != nil {
		t.Fatal(err)
	}
	if n := s.sim.Writes(); n != 4 {
		t.Errorf("expected 4 writes for the first commit got %d", n)
	}
	if committed.Settings != fitted {
		t.Errorf("expected committed %+v got %+v", fitted, committed.Settings)
	}
	if committed.Exposure != 5*time.Millisecond || committed.BitDepth != 16 {
		t.Errorf("expected 5ms at 16 bits got %v at %d", committed.Exposure, committed.BitDepth)
	}

	if _, err := cache.Request(req); err != nil {
		t.Fatal(err)
	}
	s.sim.ResetCalls()
	if _, err := cache.DiffAndCommit(s.h); err != nil {
		t.Fatal(err)
	}
	if n := s.sim.Writes(); n != 0 {
		t.Errorf("expected an identical request to write nothing got %d writes", n)
	}
	if cache.Pending() {
		t.Error("nothing should be pending")
	}
}

func TestCommitWritesOnlyWhatChanged(t *testing.T) {
	s := openSim(t, sim.Config{})
	defer s.h.Close()
	cache := NewSettingCache(simCaps(t, sim.Config{}))
	cache.Logger = quietLogger
	if _, err := cache.DiffAndCommit(s.h); err != nil {
		t.Fatal(err)
	}
	req := cache.Requested()
	req.ExposureTime = 7 * time.Millisecond
	cache.Request(req)
	s.sim.ResetCalls()
	if _, err := cache.DiffAndCommit(s.h); err != nil {
		t.Fatal(err)
	}
	if s.sim.Calls("SetExposureTime") != 1 || s.sim.Writes() != 1 {
		t.Errorf("expected a single exposure write got %d writes", s.sim.Writes())
	}

	// a new channel means new gains
	req.ReadoutRate = 10e6
	cache.Request(req)
	s.sim.ResetCalls()
	if _, err := cache.DiffAndCommit(s.h); err != nil {
		t.Fatal(err)
	}
	if s.sim.Calls("SetReadoutChannel") != 1 || s.sim.Calls("SetPreAmpGain") != 1 || s.sim.Writes() != 2 {
		t.Errorf("expected readout and gain writes got %d writes", s.sim.Writes())
	}
	if regs := s.sim.Registers(0); regs.Channel != 0 || regs.Speed != 1 {
		t.Errorf("expected channel 0 speed 1 got %d %d", regs.Channel, regs.Speed)
	}

	cache.InvalidateExposure()
	s.sim.ResetCalls()
	cache.DiffAndCommit(s.h)
	if s.sim.Writes() != 1 {
		t.Errorf("expected the invalidated exposure to be rewritten got %d writes", s.sim.Writes())
	}

	cache.Invalidate()
	s.sim.ResetCalls()
	cache.DiffAndCommit(s.h)
	if s.sim.Writes() != 4 {
		t.Errorf("expected everything to be rewritten got %d writes", s.sim.Writes())
	}
}

func TestCommitRefusedWhileAcquiring(t *testing.T) {
	s := openSim(t, sim.Config{})
	defer s.h.Close()
	cache := NewSettingCache(simCaps(t, sim.Config{}))
	cache.setAcquiring(true)
	if _, err := cache.DiffAndCommit(s.h); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected invalid state got %v", err)
	}
}

func TestFailedCommitIsRetried(t *testing.T) {
	s := openSim(t, sim.Config{})
	defer s.h.Close()
	cache := NewSettingCache(simCaps(t, sim.Config{}))
	cache.Logger = quietLogger
	s.sim.FailNext("SetImage", sdk.DRVErrorAck)
	if _, err := cache.DiffAndCommit(s.h); err == nil {
		t.Fatal("expected the injected failure")
	}
	s.sim.ResetCalls()
	if _, err := cache.DiffAndCommit(s.h); err != nil {
		t.Fatal(err)
	}
	if s.sim.Calls("SetReadoutChannel") != 0 || s.sim.Calls("SetImage") != 1 || s.sim.Calls("SetExposureTime") != 1 {
		t.Errorf("expected only the image and exposure to be retried got %d writes", s.sim.Writes())
	}
}

func TestFitHugeExposureTakesTheMaximum(t *testing.T) {
	caps := simCaps(t, sim.Config{})
	got, err := Fit(camera.Settings{ExposureTime: util.SecsToDuration(1e20)}, caps)
	if err != nil {
		t.Fatal(err)
	}
	if got.ExposureTime != 600*time.Second {
		t.Errorf("expected an out of range exposure to clamp to 600s got %v", got.ExposureTime)
	}
}

func TestFitThermal(t *testing.T) {
	caps := simCaps(t, sim.Config{})
	tests := []struct {
		celsius  float64
		expected int
	}{
		{-42.4, -42},
		{-500, -80},
		{99, 30},
	}
	for _, tt := range tests {
		got, err := FitSetpoint(tt.celsius, caps)
		if err != nil || got != tt.expected {
			t.Errorf("expected %v to fit to %d got %d %v", tt.celsius, tt.expected, got, err)
		}
	}
	speeds := []struct{ req, expected float64 }{{0, 0}, {0.3, 0.5}, {0.8, 1}, {7, 1}}
	for _, tt := range speeds {
		if got, _ := FitFanSpeed(tt.req, caps); got != tt.expected {
			t.Errorf("expected fan speed %v to fit to %v got %v", tt.req, tt.expected, got)
		}
	}
	if m := fanMode(0.5, caps.FanModes); m != sdk.FanLow {
		t.Errorf("expected half speed to be the low fan got %v", m)
	}

	bare := simCaps(t, sim.Config{NoCooling: true, FanModes: []sdk.FanMode{}})
	if _, err := FitSetpoint(-10, bare); !errors.Is(err, sdk.ErrNotSupported) {
		t.Errorf("expected not supported got %v", err)
	}
	if _, err := FitFanSpeed(1, bare); !errors.Is(err, sdk.ErrNotSupported) {
		t.Errorf("expected not supported got %v", err)
	}
}

func TestThermalCommit(t *testing.T) {
	s := openSim(t, sim.Config{})
	defer s.h.Close()
	cache := NewSettingCache(simCaps(t, sim.Config{}))
	cache.Logger = quietLogger
	if got := cache.Thermal(); got.Setpoint != -80 || got.FanSpeed != 1 {
		t.Errorf("expected the default to cool to -80C with the fan at full speed got %+v", got)
	}
	if _, err := cache.RequestSetpoint(-35); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.RequestFanSpeed(0); err != nil {
		t.Fatal(err)
	}
	committed, err := cache.DiffAndCommit(s.h)
	if err != nil {
		t.Fatal(err)
	}
	regs := s.sim.Registers(0)
	if regs.Setpoint != -35 || !regs.Cooling || regs.Fan != sdk.FanOff {
		t.Errorf("expected -35C, cooling, fan off got %+v", regs)
	}
	if committed.Thermal != (camera.Thermal{Setpoint: -35, FanSpeed: 0}) {
		t.Errorf("expected the committed thermal state got %+v", committed.Thermal)
	}

	s.sim.ResetCalls()
	cache.DiffAndCommit(s.h)
	if n := s.sim.Calls("SetTemperature") + s.sim.Calls("SetFanMode"); n != 0 {
		t.Errorf("expected an unchanged thermal state to write nothing got %d writes", n)
	}

	cache.RequestSetpoint(25)
	cache.DiffAndCommit(s.h)
	if regs := s.sim.Registers(0); regs.Setpoint != 25 || regs.Cooling {
		t.Errorf("expected the cooler off above %dC got %+v", camera.CoolerOffAbove, regs)
	}
}

func TestThermalSkippedWithoutControl(t *testing.T) {
	cfg := sim.Config{NoCooling: true, FanModes: []sdk.FanMode{}}
	s := openSim(t, cfg)
	defer s.h.Close()
	cache := NewSettingCache(simCaps(t, cfg))
	cache.Logger = quietLogger
	if _, err := cache.DiffAndCommit(s.h); err != nil {
		t.Fatal(err)
	}
	if n := s.sim.Calls("SetTemperature") + s.sim.Calls("SetCooling") + s.sim.Calls("SetFanMode"); n != 0 {
		t.Errorf("expected no thermal writes got %d", n)
	}
	if cache.Pending() {
		t.Error("nothing should be pending")
	}
}
