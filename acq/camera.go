package acq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nasa-jpl/camflow/camera"
	"github.com/nasa-jpl/camflow/device"
	"github.com/nasa-jpl/camflow/health"
	"github.com/nasa-jpl/camflow/sdk"
	"github.com/nasa-jpl/camflow/util"
)

// Config configures a Camera
type Config struct {
	// Engine holds the acquisition loop timings
	Engine EngineConfig

	// TemperaturePeriod is the temperature polling period
	TemperaturePeriod time.Duration

	// StopTimeout bounds the wait for the stream to stop in Close
	StopTimeout time.Duration

	// Initial, if not nil, is requested when the camera is opened
	Initial *camera.Settings

	// Logger is shared by every component of the camera
	Logger *log.Logger
}

// Camera is one open camera with its settings, acquisition engine,
// continuous stream and temperature monitor
type Camera struct {
	dc      *device.Context
	h       *device.Handle
	caps    sdk.Capabilities
	cache   *SettingCache
	eng     *Engine
	stream  *Stream
	monitor *health.Monitor
	cfg     Config
}

// Open claims camera idx in dc and starts its temperature monitor
func Open(dc *device.Context, idx int, cfg Config) (*Camera, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, fmt.Sprintf("camera %d: ", idx), log.LstdFlags)
	}
	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = cfg.Logger
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	h, err := dc.Open(idx)
	if err != nil {
		return nil, err
	}
	var caps sdk.Capabilities
	err = h.Call(func(s sdk.SDK) error {
		var err error
		caps, err = s.Capabilities()
		return err
	})
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("acq: reading capabilities of camera %d: %w", idx, err)
	}
	cache := NewSettingCache(caps)
	cache.Logger = cfg.Logger
	if cfg.Initial != nil {
		if _, err := cache.Request(*cfg.Initial); err != nil {
			h.Close()
			return nil, err
		}
	}

	c := &Camera{dc: dc, h: h, caps: caps, cache: cache, cfg: cfg}
	c.eng = NewEngine(h, cache, cfg.Engine)
	c.stream = NewStream(c.eng)
	c.monitor = health.New(cfg.TemperaturePeriod, c.sampleTemperature,
		health.WithSentinel(sdk.TemperatureSentinel), health.WithLogger(cfg.Logger))
	c.eng.Temperature = func() float64 { return c.monitor.Latest().Celsius }
	c.monitor.Start()
	return c, nil
}

func (c *Camera) sampleTemperature() (float64, error) {
	var t int
	err := c.h.Call(func(s sdk.SDK) error {
		var err error
		t, err = s.Temperature()
		if sdk.BeneignThermal(err) {
			err = nil
		}
		return err
	})
	if errors.Is(err, device.ErrClosed) {
		return 0, health.ErrGone
	}
	if errors.Is(err, sdk.ErrDeviceLost) {
		return 0, health.ErrSkip
	}
	return float64(t), err
}

// Capabilities returns the static description of the camera
func (c *Camera) Capabilities() sdk.Capabilities {
	return c.caps
}

// RequestSettings fits s to the camera and stages it for the next
// acquisition cycle.  It does not touch the hardware.  The fitted value is
// returned
func (c *Camera) RequestSettings(s camera.Settings) (camera.Settings, error) {
	return c.cache.Request(s)
}

// Settings returns the staged settings
func (c *Camera) Settings() camera.Settings {
	return c.cache.Requested()
}

// Committed returns the configuration in effect on the hardware
func (c *Camera) Committed() Committed {
	return c.cache.Committed()
}

// TemperatureSetpoint returns the staged cooler set-point in Celsius
func (c *Camera) TemperatureSetpoint() int {
	return c.cache.Thermal().Setpoint
}

// SetTemperatureSetpoint clamps a cooler set-point to the range of the
// camera and stages it.  It is written at once when the camera is idle, or
// at the next cycle of a running stream.  The cooler is switched off above
// camera.CoolerOffAbove.  The fitted set-point is returned
func (c *Camera) SetTemperatureSetpoint(celsius float64) (int, error) {
	t, err := c.cache.RequestSetpoint(celsius)
	if err != nil {
		return 0, err
	}
	return t, c.eng.Apply()
}

// FanSpeed returns the staged fan speed as a fraction of full speed
func (c *Camera) FanSpeed() float64 {
	return c.cache.Thermal().FanSpeed
}

// SetFanSpeed snaps a fan speed to the closest the fan supports and stages
// it in the same way as SetTemperatureSetpoint
func (c *Camera) SetFanSpeed(speed float64) (float64, error) {
	f, err := c.cache.RequestFanSpeed(speed)
	if err != nil {
		return 0, err
	}
	return f, c.eng.Apply()
}

// Cameras lists the cameras attached to the SDK this camera was opened with
func (c *Camera) Cameras() ([]device.Info, error) {
	return c.dc.Scan()
}

// AcquireOne takes a single frame.  It waits for a running stream to release
// the hardware until ctx is done
func (c *Camera) AcquireOne(ctx context.Context) (*Frame, error) {
	return c.eng.AcquireOne(ctx)
}

// Start starts continuous acquisition, calling cb with every frame
func (c *Camera) Start(cb func(*Frame)) error {
	return c.stream.Start(cb)
}

// Stop requests the stream to stop without waiting
func (c *Camera) Stop() {
	c.stream.Stop()
}

// WaitStopped waits for the stream to stop
func (c *Camera) WaitStopped(timeout time.Duration) error {
	return c.stream.WaitStopped(timeout)
}

// State returns the state of the stream
func (c *Camera) State() State {
	return c.stream.State()
}

// Frames returns the number of frames handed to stream callbacks
func (c *Camera) Frames() uint64 {
	return c.stream.Frames()
}

// StreamErr returns the error which stopped the last stream
func (c *Camera) StreamErr() error {
	return c.stream.Err()
}

// OnFailure sets the function called when the stream fails
func (c *Camera) OnFailure(fn func(error)) {
	c.stream.OnFailure(fn)
}

// Locked is true while an acquisition holds the hardware
func (c *Camera) Locked() bool {
	return c.eng.Locked()
}

// Reinitializations returns the number of recoveries from device loss
func (c *Camera) Reinitializations() uint64 {
	return c.eng.Reinitializations()
}

// Temperature returns the latest temperature reading
func (c *Camera) Temperature() health.Reading {
	return c.monitor.Latest()
}

// SubscribeTemperature calls fn with every temperature reading
func (c *Camera) SubscribeTemperature(fn func(health.Reading)) func() {
	return c.monitor.Subscribe(fn)
}

// Close stops the stream and the monitor and releases the camera
func (c *Camera) Close() error {
	c.stream.Stop()
	errs := []error{c.stream.WaitStopped(c.cfg.StopTimeout)}
	c.monitor.Stop()
	errs = append(errs, c.h.Close())
	return util.MergeErrors(errs)
}
