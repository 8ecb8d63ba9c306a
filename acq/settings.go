package acq

import (
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"github.com/nasa-jpl/camflow/camera"
	"github.com/nasa-jpl/camflow/device"
	"github.com/nasa-jpl/camflow/sdk"
	"github.com/nasa-jpl/camflow/util"
)

// MinExposure is the shortest exposure time a request is clamped to
const MinExposure = time.Microsecond

// Fit clamps a settings request to what a camera with caps can do.  Binning
// is limited to [1, max], the region is reduced to a whole number of super
// pixels, clamped, and centered on the sensor, the exposure is limited to
// [MinExposure, caps.MaxExposure] and the readout rate and gain snap to the
// closest available values.  Fit is idempotent.
//
// A camera without sub-image readout can only read the full sensor.  A
// request larger than the sensor is an error, and a smaller one is widened
func Fit(req camera.Settings, caps sdk.Capabilities) (camera.Settings, error) {
	out := req
	out.Binning.H = util.ClampInt(req.Binning.H, 1, maxInt(caps.MaxBinH, 1))
	out.Binning.V = util.ClampInt(req.Binning.V, 1, maxInt(caps.MaxBinV, 1))

	region, err := fitRegion(req.Region, out.Binning, caps)
	if err != nil {
		return camera.Settings{}, err
	}
	out.Region = region

	max := util.SecsToDuration(caps.MaxExposure)
	if max < MinExposure {
		max = MinExposure
	}
	out.ExposureTime = util.ClampDuration(req.ExposureTime, MinExposure, max)

	rates := caps.ReadoutRates()
	if req.ReadoutRate <= 0 {
		out.ReadoutRate = util.MaxFloat(rates)
	} else if i := util.FindClosest(req.ReadoutRate, rates); i >= 0 {
		out.ReadoutRate = rates[i]
	}
	if i := util.FindClosest(req.Gain, caps.Gains); i >= 0 {
		out.Gain = caps.Gains[i]
	}
	return out, nil
}

// fitRegion works in super pixels: the size of the request is divided by
// the binning, clamped to [MinImageLength, sensor/binning] and centered
func fitRegion(r camera.Region, b camera.Binning, caps sdk.Capabilities) (camera.Region, error) {
	maxW, maxH := caps.Width/b.H, caps.Height/b.V
	w, h := maxW, maxH
	if !r.IsZero() {
		w, h = r.Dims(b)
	}
	if caps.SubImage {
		minLen := maxInt(caps.MinImageLength, 1)
		w = util.ClampInt(w, minInt(minLen, maxW), maxW)
		h = util.ClampInt(h, minInt(minLen, maxH), maxH)
	} else {
		if w > maxW || h > maxH {
			return camera.Region{}, &sdk.HardwareError{
				Code: sdk.DRVP1Invalid,
				Message: fmt.Sprintf("requested image size %dx%d does not match sensor resolution %dx%d",
					w, h, maxW, maxH),
			}
		}
		w, h = maxW, maxH
	}
	left, top := (maxW-w)/2, (maxH-h)/2
	return camera.Region{
		X0: left*b.H + 1,
		X1: (left + w) * b.H,
		Y0: top*b.V + 1,
		Y1: (top + h) * b.V,
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// FitSetpoint clamps a cooler set-point to the range of caps and rounds it
// to a whole degree.  A camera without temperature control returns an error
// matching sdk.ErrNotSupported
func FitSetpoint(celsius float64, caps sdk.Capabilities) (int, error) {
	if !caps.Cooling {
		return 0, &sdk.HardwareError{Code: sdk.DRVNotSupported, Message: "camera has no temperature control"}
	}
	if math.IsNaN(celsius) {
		return 0, &sdk.HardwareError{Code: sdk.DRVP1Invalid, Message: "temperature set-point is not a number"}
	}
	t := util.Clamp(celsius, float64(caps.MinTemperature), float64(caps.MaxTemperature))
	return int(math.Round(t)), nil
}

// FitFanSpeed snaps a fan speed, as a fraction of full speed, to the
// closest mode the fan of caps has.  A camera without fan control returns
// an error matching sdk.ErrNotSupported
func FitFanSpeed(speed float64, caps sdk.Capabilities) (float64, error) {
	n := len(caps.FanModes)
	if n == 0 {
		return 0, &sdk.HardwareError{Code: sdk.DRVNotSupported, Message: "camera has no fan control"}
	}
	if n == 1 || math.IsNaN(speed) {
		return 1, nil
	}
	steps := float64(n - 1)
	return math.Round(util.Clamp(speed, 0, 1)*steps) / steps, nil
}

// fanMode is the mode of modes, ordered slowest first, for a fitted speed
func fanMode(speed float64, modes []sdk.FanMode) sdk.FanMode {
	i := int(math.Round(speed * float64(len(modes)-1)))
	return modes[util.ClampInt(i, 0, len(modes)-1)]
}

// DefaultThermal cools as hard as the camera allows with the fan at full
// speed
func DefaultThermal(caps sdk.Capabilities) camera.Thermal {
	t := camera.Thermal{FanSpeed: 1}
	if caps.Cooling {
		t.Setpoint = caps.MinTemperature
	}
	return t
}

// DefaultSettings is the full sensor, unbinned, at the fastest readout rate
// and lowest gain, with a one second exposure
func DefaultSettings(caps sdk.Capabilities) camera.Settings {
	s, _ := Fit(camera.Settings{
		Binning:      camera.Binning{H: 1, V: 1},
		ExposureTime: time.Second,
	}, caps)
	return s
}

// Committed is the configuration last written to the hardware
type Committed struct {
	// Settings are the settings in effect.  ExposureTime holds the
	// requested value, Exposure below holds what the camera reported
	Settings camera.Settings

	// BitDepth is the dynamic range of the readout channel in use
	BitDepth int

	// PixelReadout is the time to read out one super pixel
	PixelReadout time.Duration

	// Exposure is the exposure time reported by the camera
	Exposure time.Duration

	// Thermal is the cooling configuration in effect
	Thermal camera.Thermal
}

const (
	partReadout uint8 = 1 << iota
	partGain
	partImage
	partExposure
	partSetpoint
	partFan

	partAll = partReadout | partGain | partImage | partExposure | partSetpoint | partFan
)

// SettingCache holds the requested settings and remembers which have been
// written to the hardware, so that a commit only issues the writes that
// changed.
//
// Request may be called from any goroutine.  DiffAndCommit is called by
// whoever holds the acquisition lock, between acquisitions
type SettingCache struct {
	caps sdk.Capabilities

	mu        sync.Mutex
	requested camera.Settings
	thermal   camera.Thermal
	committed Committed
	valid     uint8
	acquiring bool

	// Logger receives a line for every commit
	Logger *log.Logger
}

// NewSettingCache returns a cache for a camera with caps, requesting the
// default settings.  Nothing is considered committed
func NewSettingCache(caps sdk.Capabilities) *SettingCache {
	return &SettingCache{
		caps:      caps,
		requested: DefaultSettings(caps),
		thermal:   DefaultThermal(caps),
		Logger:    log.New(os.Stderr, "acq: ", log.LstdFlags),
	}
}

// Capabilities returns the capabilities the cache fits requests to
func (c *SettingCache) Capabilities() sdk.Capabilities {
	return c.caps
}

// Request fits s and stages it for the next commit.  The fitted value is
// returned.  Request never touches the hardware
func (c *SettingCache) Request(s camera.Settings) (camera.Settings, error) {
	fitted, err := Fit(s, c.caps)
	if err != nil {
		return camera.Settings{}, err
	}
	c.mu.Lock()
	c.requested = fitted
	c.mu.Unlock()
	return fitted, nil
}

// Requested returns the staged settings
func (c *SettingCache) Requested() camera.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested
}

// RequestSetpoint fits a cooler set-point and stages it for the next commit.
// The fitted value is returned
func (c *SettingCache) RequestSetpoint(celsius float64) (int, error) {
	t, err := FitSetpoint(celsius, c.caps)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.thermal.Setpoint = t
	c.mu.Unlock()
	return t, nil
}

// RequestFanSpeed fits a fan speed and stages it for the next commit.  The
// fitted value is returned
func (c *SettingCache) RequestFanSpeed(speed float64) (float64, error) {
	f, err := FitFanSpeed(speed, c.caps)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.thermal.FanSpeed = f
	c.mu.Unlock()
	return f, nil
}

// Thermal returns the staged cooling configuration
func (c *SettingCache) Thermal() camera.Thermal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thermal
}

// Committed returns the configuration last written to the hardware
func (c *SettingCache) Committed() Committed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}

// Pending is true if a commit would write anything
func (c *SettingCache) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid != partAll || c.requested != c.committed.Settings || c.thermal != c.committed.Thermal
}

// Invalidate forgets what has been committed, so the next commit rewrites
// every setting
func (c *SettingCache) Invalidate() {
	c.mu.Lock()
	c.valid = 0
	c.mu.Unlock()
}

// InvalidateExposure forces the exposure to be rewritten by the next
// commit.  Cameras discard it when the acquisition mode changes
func (c *SettingCache) InvalidateExposure() {
	c.mu.Lock()
	c.valid &^= partExposure
	c.mu.Unlock()
}

func (c *SettingCache) setAcquiring(b bool) {
	c.mu.Lock()
	c.acquiring = b
	c.mu.Unlock()
}

// DiffAndCommit writes the settings which differ from those last committed,
// in dependency order: the readout channel, then gain, then the image and
// binning, then the exposure, and last the cooler and fan.  A channel change
// invalidates the gain.
//
// A commit while the hardware is acquiring fails with ErrInvalidState.
// Writes which succeed before an error are remembered, the rest are retried
// by the next commit
func (c *SettingCache) DiffAndCommit(h *device.Handle) (Committed, error) {
	c.mu.Lock()
	if c.acquiring {
		c.mu.Unlock()
		return Committed{}, fmt.Errorf("%w: cannot commit settings while acquiring", ErrInvalidState)
	}
	req := c.requested
	thermal := c.thermal
	next := c.committed
	valid := c.valid
	c.mu.Unlock()

	var writes []string
	err := h.Call(func(s sdk.SDK) error {
		if valid&partReadout == 0 || next.Settings.ReadoutRate != req.ReadoutRate {
			ch, speed, ok := c.caps.LocateRate(req.ReadoutRate)
			if !ok {
				return fmt.Errorf("acq: readout rate %g Hz is not available", req.ReadoutRate)
			}
			prev, _, known := c.caps.LocateRate(next.Settings.ReadoutRate)
			if err := s.SetReadoutChannel(ch.Index, speed); err != nil {
				return err
			}
			if !known || prev.Index != ch.Index {
				valid &^= partGain
			}
			next.Settings.ReadoutRate = req.ReadoutRate
			next.BitDepth = ch.BitDepth
			next.PixelReadout = util.SecsToDuration(1 / req.ReadoutRate)
			valid |= partReadout
			writes = append(writes, "readout")
		}
		if valid&partGain == 0 || next.Settings.Gain != req.Gain {
			idx := util.FindClosest(req.Gain, c.caps.Gains)
			if idx >= 0 {
				if err := s.SetPreAmpGain(idx); err != nil {
					return err
				}
			}
			next.Settings.Gain = req.Gain
			valid |= partGain
			writes = append(writes, "gain")
		}
		if valid&partImage == 0 || next.Settings.Binning != req.Binning || next.Settings.Region != req.Region {
			b, r := req.Binning, req.Region
			if err := s.SetImage(b.H, b.V, r.X0, r.X1, r.Y0, r.Y1); err != nil {
				return err
			}
			next.Settings.Binning, next.Settings.Region = b, r
			valid |= partImage
			writes = append(writes, "image")
		}
		if valid&partExposure == 0 || next.Settings.ExposureTime != req.ExposureTime {
			if err := s.SetExposureTime(req.ExposureTime); err != nil {
				return err
			}
			t, err := s.AcquisitionTimings()
			if err != nil {
				return err
			}
			next.Settings.ExposureTime = req.ExposureTime
			next.Exposure = util.SecsToDuration(t.Exposure)
			valid |= partExposure
			writes = append(writes, "exposure")
		}
		if valid&partSetpoint == 0 || next.Thermal.Setpoint != thermal.Setpoint {
			if c.caps.Cooling {
				if err := s.SetTemperature(thermal.Setpoint); err != nil {
					return err
				}
				if err := s.SetCooling(thermal.Cooling()); err != nil {
					return err
				}
				writes = append(writes, "setpoint")
			}
			next.Thermal.Setpoint = thermal.Setpoint
			valid |= partSetpoint
		}
		if valid&partFan == 0 || next.Thermal.FanSpeed != thermal.FanSpeed {
			if modes := c.caps.FanModes; len(modes) > 0 {
				if err := s.SetFanMode(fanMode(thermal.FanSpeed, modes)); err != nil {
					return err
				}
				writes = append(writes, "fan")
			}
			next.Thermal.FanSpeed = thermal.FanSpeed
			valid |= partFan
		}
		return nil
	})

	c.mu.Lock()
	c.committed = next
	c.valid = valid
	c.mu.Unlock()
	if len(writes) > 0 && c.Logger != nil {
		c.Logger.Printf("committed %v: %s binning, region %v, exposure %v, set-point %dC", writes,
			next.Settings.Binning.HxV(), next.Settings.Region, next.Exposure, next.Thermal.Setpoint)
	}
	if err != nil {
		return next, fmt.Errorf("acq: committing settings: %w", err)
	}
	return next, nil
}
