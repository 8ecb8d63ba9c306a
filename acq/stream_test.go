package acq

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nasa-jpl/camflow/camera"
	"github.com/nasa-jpl/camflow/device"
	"github.com/nasa-jpl/camflow/sdk"
	"github.com/nasa-jpl/camflow/sdk/sim"
)

var fastSettings = camera.Settings{
	Binning:      camera.Binning{H: 1, V: 1},
	Region:       camera.Region{X0: 1, X1: 64, Y0: 1, Y1: 64},
	ExposureTime: 2 * time.Millisecond,
	ReadoutRate:  50e6,
	Gain:         1,
}

func fastConfig() Config {
	init := fastSettings
	return Config{
		Engine: EngineConfig{
			FrameTimeout: 200 * time.Millisecond,
			RetryBackoff: 5 * time.Millisecond,
			AbortSettle:  time.Millisecond,
			Reinit:       device.ReinitPolicy{Initial: time.Millisecond, Max: 10 * time.Millisecond, Timeout: 2 * time.Second},
		},
		TemperaturePeriod: time.Hour,
		StopTimeout:       2 * time.Second,
		Initial:           &init,
		Logger:            quietLogger,
	}
}

func openCamera(t *testing.T, cfg Config) (*Camera, *sim.SDK) {
	t.Helper()
	s := sim.New(sim.Config{})
	dc := device.NewContext(s)
	dc.Logger = quietLogger
	c, err := Open(dc, 0, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c, s
}

// waitFor polls cond until it is true or a second elapses
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAcquireOne(t *testing.T) {
	c, s := openCamera(t, fastConfig())
	f, err := c.AcquireOne(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.Width != 64 || f.Height != 64 || len(f.Pix) != 64*64 {
		t.Errorf("expected a 64x64 frame got %dx%d with %d pixels", f.Width, f.Height, len(f.Pix))
	}
	md := f.Metadata
	if md.Exposure != 2*time.Millisecond || md.Region != c.Settings().Region || md.BitDepth != 16 {
		t.Errorf("unexpected metadata %+v", md)
	}
	if md.AcquiredAt.IsZero() {
		t.Error("expected an acquisition timestamp")
	}
	if c.Locked() {
		t.Error("the acquisition lock should be free")
	}
	if s.Acquiring(0) {
		t.Error("the camera should be idle after a single frame")
	}
}

func TestStartStopRandomDelay(t *testing.T) {
	c, _ := openCamera(t, fastConfig())
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 25; i++ {
		if err := c.Start(func(*Frame) {}); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		time.Sleep(time.Duration(rng.Intn(10000)) * time.Microsecond)
		c.Stop()
		if err := c.WaitStopped(10 * time.Second); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if c.Locked() {
			t.Fatalf("iteration %d: the acquisition lock leaked", i)
		}
		if st := c.State(); st != Idle {
			t.Fatalf("iteration %d: expected Idle got %v", i, st)
		}
	}
}

func TestStartTwice(t *testing.T) {
	c, _ := openCamera(t, fastConfig())
	if err := c.Start(func(*Frame) {}); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(func(*Frame) {}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected already running got %v", err)
	}
	c.Stop()
	if err := c.Start(func(*Frame) {}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected already running while stopping got %v", err)
	}
	if err := c.WaitStopped(time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestFramesAreSequential(t *testing.T) {
	c, _ := openCamera(t, fastConfig())
	var (
		active  int32
		overlap int32
		frames  int32
		lastSeq uint64
	)
	err := c.Start(func(f *Frame) {
		if atomic.AddInt32(&active, 1) != 1 {
			atomic.StoreInt32(&overlap, 1)
		}
		if f.Seq <= lastSeq {
			atomic.StoreInt32(&overlap, 1)
		}
		lastSeq = f.Seq
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&frames, 1)
		atomic.AddInt32(&active, -1)
	})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frames", func() bool { return atomic.LoadInt32(&frames) >= 10 })
	if st := c.State(); st != Running {
		t.Errorf("expected Running got %v", st)
	}
	c.Stop()
	if err := c.WaitStopped(time.Second); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&overlap) != 0 {
		t.Error("callbacks overlapped or arrived out of order")
	}
}

func TestStopFromCallback(t *testing.T) {
	c, _ := openCamera(t, fastConfig())
	var once sync.Once
	err := c.Start(func(*Frame) {
		once.Do(c.Stop)
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WaitStopped(10 * time.Second); err != nil {
		t.Fatalf("waiting for a stream stopped from its callback: %v", err)
	}
	if c.Locked() {
		t.Error("the acquisition lock leaked")
	}
}

func TestStopReleasesLongWait(t *testing.T) {
	cfg := fastConfig()
	cfg.Engine.FrameTimeout = time.Minute
	slow := fastSettings
	slow.ExposureTime = time.Minute
	cfg.Initial = &slow
	c, _ := openCamera(t, cfg)
	if err := c.Start(func(*Frame) {}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "the stream to run", func() bool { return c.State() == Running })
	start := time.Now()
	c.Stop()
	if err := c.WaitStopped(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("stopping took %v", d)
	}
}

func TestWaitStoppedTimeout(t *testing.T) {
	c, _ := openCamera(t, fastConfig())
	release := make(chan struct{})
	var once sync.Once
	err := c.Start(func(*Frame) {
		once.Do(func() { <-release })
	})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "the stream to run", func() bool { return c.State() == Running })
	time.Sleep(50 * time.Millisecond)
	c.Stop()
	if err := c.WaitStopped(10 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("expected a stop timeout got %v", err)
	}
	close(release)
	if err := c.WaitStopped(time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestSettingsStagedDuringStream(t *testing.T) {
	c, s := openCamera(t, fastConfig())
	seen := make(chan Metadata, 64)
	err := c.Start(func(f *Frame) {
		select {
		case seen <- f.Metadata:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	<-seen
	req := c.Settings()
	req.ExposureTime = 3 * time.Millisecond
	req.Binning = camera.Binning{H: 2, V: 2}
	if _, err := c.RequestSettings(req); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case md := <-seen:
			if md.Exposure == 3*time.Millisecond {
				if md.Binning != req.Binning {
					t.Errorf("expected binning %v got %v", req.Binning, md.Binning)
				}
				c.Stop()
				c.WaitStopped(time.Second)
				if regs := s.Registers(0); regs.HBin != 2 {
					t.Errorf("expected the hardware to be binned 2 got %d", regs.HBin)
				}
				return
			}
		case <-deadline:
			t.Fatal("the new settings never took effect")
		}
	}
}

func TestAcquireOneWhileStreaming(t *testing.T) {
	c, _ := openCamera(t, fastConfig())
	if err := c.Start(func(*Frame) {}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "the stream to run", func() bool { return c.State() == Running })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.AcquireOne(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected invalid state got %v", err)
	}
	c.Stop()
	c.WaitStopped(time.Second)
	if _, err := c.AcquireOne(context.Background()); err != nil {
		t.Errorf("expected a frame once the stream stopped got %v", err)
	}
}

func TestNoNewDataBacksOff(t *testing.T) {
	c, s := openCamera(t, fastConfig())
	var frames int32
	if err := c.Start(func(*Frame) { atomic.AddInt32(&frames, 1) }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frames", func() bool { return atomic.LoadInt32(&frames) >= 2 })
	opens := s.Calls("Open")
	s.InjectNoNewData(3)
	n := atomic.LoadInt32(&frames)
	waitFor(t, "frames after the fault", func() bool { return atomic.LoadInt32(&frames) >= n+5 })
	c.Stop()
	c.WaitStopped(time.Second)
	if got := c.Reinitializations(); got != 0 {
		t.Errorf("expected no reinitialization got %d", got)
	}
	if s.Calls("Open") != opens || s.Calls("ShutDown") != 0 {
		t.Error("the device handle should not have been torn down")
	}
	if s.Calls("CancelWait") < 3 {
		t.Errorf("expected a CancelWait per missed frame got %d", s.Calls("CancelWait"))
	}
	if c.StreamErr() != nil {
		t.Errorf("expected no stream error got %v", c.StreamErr())
	}
}

func TestDeviceLossReinitializes(t *testing.T) {
	c, s := openCamera(t, fastConfig())
	var frames int32
	if err := c.Start(func(*Frame) { atomic.AddInt32(&frames, 1) }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frames", func() bool { return atomic.LoadInt32(&frames) >= 2 })
	s.Unplug(50 * time.Millisecond)
	waitFor(t, "reinitialization", func() bool { return c.Reinitializations() == 1 })
	n := atomic.LoadInt32(&frames)
	waitFor(t, "frames after reinitialization", func() bool { return atomic.LoadInt32(&frames) >= n+3 })
	c.Stop()
	if err := c.WaitStopped(time.Second); err != nil {
		t.Fatal(err)
	}
	if got := c.Reinitializations(); got != 1 {
		t.Errorf("expected exactly one reinitialization got %d", got)
	}
	if got := s.Calls("ShutDown"); got != 1 {
		t.Errorf("expected one shutdown got %d", got)
	}
	regs := s.Registers(0)
	r := c.Committed().Settings.Region
	if regs.HStart != r.X0 || regs.HEnd != r.X1 || regs.Exposure != 2*time.Millisecond {
		t.Errorf("expected the last settings to be recommitted got %+v", regs)
	}
}

func TestReinitializationFailureFailsStream(t *testing.T) {
	cfg := fastConfig()
	cfg.Engine.Reinit.Timeout = 30 * time.Millisecond
	c, s := openCamera(t, cfg)
	failures := make(chan error, 1)
	c.OnFailure(func(err error) { failures <- err })
	var frames int32
	if err := c.Start(func(*Frame) { atomic.AddInt32(&frames, 1) }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frames", func() bool { return atomic.LoadInt32(&frames) >= 1 })
	s.Unplug(time.Hour)
	select {
	case err := <-failures:
		var sf *StreamFailedError
		var hw *sdk.HardwareError
		if !errors.As(err, &sf) || !errors.As(err, &hw) {
			t.Errorf("expected a StreamFailedError wrapping a HardwareError got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("the stream never failed")
	}
	if err := c.WaitStopped(time.Second); err != nil {
		t.Fatal(err)
	}
	if c.Locked() {
		t.Error("the acquisition lock leaked")
	}
}

func TestFatalErrorFailsStream(t *testing.T) {
	c, s := openCamera(t, fastConfig())
	failures := make(chan error, 1)
	c.OnFailure(func(err error) { failures <- err })
	s.FailNext("MostRecentImage16", sdk.DRVErrorAck)
	if err := c.Start(func(*Frame) {}); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-failures:
		if !errors.Is(err, sdk.DRVErrorAck) {
			t.Errorf("expected DRV_ERROR_ACK got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("the stream never failed")
	}
	waitFor(t, "Stopped", func() bool { return c.State() == Stopped })
	if err := c.StreamErr(); err == nil {
		t.Error("expected the stream error to be kept")
	}
	if err := c.Start(func(*Frame) {}); err != nil {
		t.Errorf("expected a failed stream to be restartable got %v", err)
	}
}

func TestMetadataCarriesTemperature(t *testing.T) {
	cfg := fastConfig()
	cfg.TemperaturePeriod = 5 * time.Millisecond
	c, _ := openCamera(t, cfg)
	waitFor(t, "a temperature reading", func() bool { return !c.Temperature().At.IsZero() })
	f, err := c.AcquireOne(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.Metadata.Temperature != -20 {
		t.Errorf("expected -20 C got %v", f.Metadata.Temperature)
	}
}

func TestBufferPoolReuse(t *testing.T) {
	p := NewBufferPool(1)
	b := p.Get(10)
	p.Put(b)
	p.Put(make([]uint16, 3))
	if p.Idle() != 1 {
		t.Errorf("expected the pool to hold 1 buffer got %d", p.Idle())
	}
	if got := p.Get(5); cap(got) != 10 || len(got) != 5 {
		t.Errorf("expected the pooled buffer to be reused got len %d cap %d", len(got), cap(got))
	}
	if got := p.Get(20); len(got) != 20 {
		t.Errorf("expected a new buffer of 20 got %d", len(got))
	}
}

func TestFrameClone(t *testing.T) {
	p := NewBufferPool(1)
	f := &Frame{Width: 2, Height: 1, Pix: []uint16{1, 2}, pool: p}
	g := f.Clone()
	f.release()
	if g.At(1, 0) != 2 || g.pool != nil {
		t.Error("expected the clone to own its pixels")
	}
	if p.Idle() != 1 {
		t.Error("expected the released buffer to go back to the pool")
	}
}

func TestStopWhileWaitingForTheLockSparesAcquireOne(t *testing.T) {
	c, _ := openCamera(t, fastConfig())
	slow := fastSettings
	slow.ExposureTime = 300 * time.Millisecond
	if _, err := c.RequestSettings(slow); err != nil {
		t.Fatal(err)
	}
	result := make(chan error, 1)
	go func() {
		_, err := c.AcquireOne(context.Background())
		result <- err
	}()
	waitFor(t, "the single frame to hold the lock", c.Locked)
	if err := c.Start(func(*Frame) {}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if st := c.State(); st != Starting {
		t.Errorf("expected the stream to wait for the lock got %v", st)
	}
	c.Stop()
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("expected the single frame to survive stopping another stream got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AcquireOne never returned")
	}
	if err := c.WaitStopped(time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestNoFrameAfterStop(t *testing.T) {
	c, s := openCamera(t, fastConfig())
	// stop right after the third frame is read out, before it is delivered
	s.OnRead(func(n uint64) {
		if n == 3 {
			c.Stop()
		}
	})
	var delivered int32
	if err := c.Start(func(*Frame) { atomic.AddInt32(&delivered, 1) }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "Stopped", func() bool { return c.State() == Stopped })
	if n := atomic.LoadInt32(&delivered); n != 2 {
		t.Errorf("expected 2 frames delivered before the stop got %d", n)
	}
	if n := c.Frames(); n != 2 {
		t.Errorf("expected the frame counter to read 2 got %d", n)
	}
}

func TestAcquireOneHonoursTheContext(t *testing.T) {
	c, _ := openCamera(t, fastConfig())
	slow := fastSettings
	slow.ExposureTime = 5 * time.Second
	if _, err := c.RequestSettings(slow); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := c.AcquireOne(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the deadline to end the exposure got %v", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("expected AcquireOne to return soon after its deadline, took %v", d)
	}
	if c.Locked() {
		t.Error("the acquisition lock leaked")
	}
	if _, err := c.RequestSettings(fastSettings); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AcquireOne(context.Background()); err != nil {
		t.Errorf("expected the camera to be usable after an abandoned frame got %v", err)
	}
}

func TestSetpointSurvivesDeviceLoss(t *testing.T) {
	c, s := openCamera(t, fastConfig())
	if got, err := c.SetTemperatureSetpoint(-42.2); err != nil || got != -42 {
		t.Fatalf("expected -42 got %d %v", got, err)
	}
	if got, err := c.SetFanSpeed(0.5); err != nil || got != 0.5 {
		t.Fatalf("expected half speed got %v %v", got, err)
	}
	if regs := s.Registers(0); regs.Setpoint != -42 || !regs.Cooling || regs.Fan != sdk.FanLow {
		t.Errorf("expected an idle camera to take the thermal settings at once got %+v", regs)
	}

	var frames int32
	if err := c.Start(func(*Frame) { atomic.AddInt32(&frames, 1) }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frames", func() bool { return atomic.LoadInt32(&frames) >= 2 })
	s.Unplug(50 * time.Millisecond)
	waitFor(t, "reinitialization", func() bool { return c.Reinitializations() == 1 })
	n := atomic.LoadInt32(&frames)
	waitFor(t, "frames after reinitialization", func() bool { return atomic.LoadInt32(&frames) >= n+2 })
	if regs := s.Registers(0); regs.Setpoint != -42 || !regs.Cooling || regs.Fan != sdk.FanLow {
		t.Errorf("expected the thermal settings to be rewritten after reinitialization got %+v", regs)
	}

	// a running stream takes a new set-point at its next cycle
	if _, err := c.SetTemperatureSetpoint(-10); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "the new set-point", func() bool { return s.Registers(0).Setpoint == -10 })
	c.Stop()
	if err := c.WaitStopped(time.Second); err != nil {
		t.Fatal(err)
	}
	if got := c.Committed().Thermal; got.Setpoint != -10 || got.FanSpeed != 0.5 {
		t.Errorf("expected -10C at half fan speed committed got %+v", got)
	}
}

func TestCameras(t *testing.T) {
	c, _ := openCamera(t, fastConfig())
	got, err := c.Cameras()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Claimed {
		t.Errorf("expected the one camera to be claimed got %+v", got)
	}
}
