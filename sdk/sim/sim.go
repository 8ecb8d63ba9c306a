/*Package sim provides an in-process camera which satisfies sdk.SDK.

The simulated camera produces frames on a clock derived from its exposure,
readout rate and AOI, in the same way real hardware does.  Faults can be
injected to exercise recovery paths: dropped frames (InjectNoNewData), a
camera which is unplugged and comes back later (Unplug) and arbitrary driver
errors on the next call to a named method (FailNext).  OnRead runs a function
after every frame is read, to interleave other calls with acquisition.

Every method call is counted, so tests can assert on the number of writes the
acquisition engine issued.
*/
package sim

import (
	"errors"
	"sync"
	"time"

	"github.com/nasa-jpl/camflow/sdk"
)

// Config describes the simulated sensor.  Zero fields take the values of
// DefaultConfig
type Config struct {
	// Cameras is the number of cameras attached
	Cameras int

	// Width and Height are the sensor dimensions
	Width, Height int

	// MaxBinning is the largest binning factor on either axis
	MaxBinning int

	// MinImageLength is the smallest AOI dimension in super pixels
	MinImageLength int

	// NoSubImage makes the camera only read out the full sensor
	NoSubImage bool

	// MaxExposure is the longest exposure, in seconds
	MaxExposure float64

	// Channels are the A/D channels
	Channels []sdk.Channel

	// Gains are the preamp gains
	Gains []float64

	// Temperature is the steady state sensor temperature
	Temperature int

	// NoCooling makes the camera refuse temperature control.  Otherwise
	// set-points between MinTemperature and MaxTemperature are accepted
	NoCooling      bool
	MinTemperature int
	MaxTemperature int

	// FanModes are the fan modes from slowest to fastest.  An empty, non
	// nil slice makes the camera refuse fan control
	FanModes []sdk.FanMode
}

// DefaultConfig is a 1024x1024, 16-bit camera with three readout rates
func DefaultConfig() Config {
	return Config{
		Cameras:        1,
		Width:          1024,
		Height:         1024,
		MaxBinning:     4,
		MinImageLength: 16,
		MaxExposure:    600,
		Channels: []sdk.Channel{
			{Index: 0, BitDepth: 16, Speeds: []float64{50e6, 10e6, 1e6}},
			{Index: 1, BitDepth: 12, Speeds: []float64{100e6}},
		},
		Gains:          []float64{1, 2, 4},
		Temperature:    -20,
		MinTemperature: -80,
		MaxTemperature: 30,
		FanModes:       []sdk.FanMode{sdk.FanOff, sdk.FanLow, sdk.FanFull},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Cameras == 0 {
		c.Cameras = d.Cameras
	}
	if c.Width == 0 {
		c.Width = d.Width
	}
	if c.Height == 0 {
		c.Height = d.Height
	}
	if c.MaxBinning == 0 {
		c.MaxBinning = d.MaxBinning
	}
	if c.MinImageLength == 0 {
		c.MinImageLength = d.MinImageLength
	}
	if c.MaxExposure == 0 {
		c.MaxExposure = d.MaxExposure
	}
	if len(c.Channels) == 0 {
		c.Channels = d.Channels
	}
	if len(c.Gains) == 0 {
		c.Gains = d.Gains
	}
	if c.Temperature == 0 {
		c.Temperature = d.Temperature
	}
	if c.MinTemperature == 0 && c.MaxTemperature == 0 {
		c.MinTemperature, c.MaxTemperature = d.MinTemperature, d.MaxTemperature
	}
	if c.FanModes == nil {
		c.FanModes = d.FanModes
	}
	return c
}

// Registers is the hardware state of one simulated camera
type Registers struct {
	Channel, Speed int
	Gain           int
	HBin, VBin     int
	HStart, HEnd   int
	VStart, VEnd   int
	Exposure       time.Duration
	Kinetic        time.Duration
	Mode           sdk.AcquisitionMode
	Setpoint       int
	Cooling        bool
	Fan            sdk.FanMode
}

type camera struct {
	regs        Registers
	initialized bool
	acquiring   bool
	started     time.Time
	consumed    int
	frames      uint64
	lost        bool
}

// SDK is a simulated camera library
type SDK struct {
	sync.Mutex

	cfg  Config
	cams []*camera

	handles    map[sdk.Handle]int
	nextHandle sdk.Handle
	current    sdk.Handle

	unpluggedUntil time.Time
	cancel         chan struct{}
	dropFrames     int
	failures       map[string]sdk.DRVError
	calls          map[string]int
	onRead         func(frames uint64)
}

// New returns a simulated SDK with cfg.Cameras identical cameras attached
func New(cfg Config) *SDK {
	cfg = cfg.withDefaults()
	s := &SDK{
		cfg:      cfg,
		handles:  map[sdk.Handle]int{},
		cancel:   make(chan struct{}),
		failures: map[string]sdk.DRVError{},
		calls:    map[string]int{},
	}
	for i := 0; i < cfg.Cameras; i++ {
		s.cams = append(s.cams, &camera{regs: s.powerOnRegisters()})
	}
	return s
}

func (s *SDK) powerOnRegisters() Registers {
	return Registers{
		HBin: 1, VBin: 1,
		HStart: 1, HEnd: s.cfg.Width,
		VStart: 1, VEnd: s.cfg.Height,
		Exposure: 10 * time.Millisecond,
		Mode:     sdk.AcquisitionSingleScan,
		Setpoint: s.cfg.MaxTemperature,
		Fan:      sdk.FanFull,
	}
}

// InjectNoNewData makes the next n waits for a frame fail with DRV_NO_NEW_DATA
func (s *SDK) InjectNoNewData(n int) {
	s.Lock()
	defer s.Unlock()
	s.dropFrames += n
}

// FailNext makes the next call to the method named op return code
func (s *SDK) FailNext(op string, code sdk.DRVError) {
	s.Lock()
	defer s.Unlock()
	s.failures[op] = code
}

// Unplug disconnects every camera for downFor.  While unplugged the
// temperature reads as the sentinel, no cameras are available and waits
// for frames fail immediately.  When the cameras come back they must be
// initialized again and their registers are reset
func (s *SDK) Unplug(downFor time.Duration) {
	s.Lock()
	defer s.Unlock()
	s.unpluggedUntil = time.Now().Add(downFor)
	for _, c := range s.cams {
		c.lost = true
		c.acquiring = false
	}
	s.wake()
}

// OnRead sets a function called after every successful MostRecentImage16
// with the number of frames read so far.  It runs without the simulator
// locked, so it may call back into the SDK
func (s *SDK) OnRead(fn func(frames uint64)) {
	s.Lock()
	defer s.Unlock()
	s.onRead = fn
}

// Calls returns the number of times the method named op has been called
func (s *SDK) Calls(op string) int {
	s.Lock()
	defer s.Unlock()
	return s.calls[op]
}

// Writes returns the total number of configuration writes issued
func (s *SDK) Writes() int {
	s.Lock()
	defer s.Unlock()
	n := 0
	for _, op := range []string{"SetReadoutChannel", "SetPreAmpGain", "SetImage", "SetExposureTime"} {
		n += s.calls[op]
	}
	return n
}

// ResetCalls zeros the call counters
func (s *SDK) ResetCalls() {
	s.Lock()
	defer s.Unlock()
	s.calls = map[string]int{}
}

// Registers returns the hardware state of camera idx
func (s *SDK) Registers(idx int) Registers {
	s.Lock()
	defer s.Unlock()
	return s.cams[idx].regs
}

// Acquiring returns true if camera idx is acquiring
func (s *SDK) Acquiring(idx int) bool {
	s.Lock()
	defer s.Unlock()
	return s.cams[idx].acquiring
}

// enter counts a call and returns an injected failure, if there is one.
// The caller holds the lock
func (s *SDK) enter(op string) error {
	s.calls[op]++
	if code, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return sdk.Errorf(uint(code), "%s", op)
	}
	return nil
}

func (s *SDK) unplugged() bool {
	if s.unpluggedUntil.IsZero() {
		return false
	}
	if time.Now().Before(s.unpluggedUntil) {
		return true
	}
	s.unpluggedUntil = time.Time{}
	for _, c := range s.cams {
		c.regs = s.powerOnRegisters()
		c.initialized = false
	}
	return false
}

// selected returns the current camera, or an error if there is none or it
// cannot be talked to
func (s *SDK) selected(op string) (*camera, error) {
	idx, ok := s.handles[s.current]
	if !ok {
		return nil, sdk.Errorf(uint(sdk.DRVErrorNoHandle), "%s", op)
	}
	c := s.cams[idx]
	if s.unplugged() || c.lost {
		return nil, sdk.Errorf(uint(sdk.DRVErrorNoCamera), "%s", op)
	}
	if !c.initialized {
		return nil, sdk.Errorf(uint(sdk.DRVNotInitialized), "%s", op)
	}
	return c, nil
}

// wake releases every WaitForAcquisition.  The caller holds the lock
func (s *SDK) wake() {
	close(s.cancel)
	s.cancel = make(chan struct{})
}

func (s *SDK) cycle(c *camera) time.Duration {
	r := c.regs
	rate := s.cfg.Channels[r.Channel].Speeds[r.Speed]
	pix := ((r.HEnd - r.HStart + 1) / r.HBin) * ((r.VEnd - r.VStart + 1) / r.VBin)
	readout := time.Duration(float64(pix) / rate * float64(time.Second))
	d := r.Exposure + readout
	if r.Kinetic > d {
		d = r.Kinetic
	}
	return d
}

// produced is the number of frames the camera has finished since it started
func (s *SDK) produced(c *camera, now time.Time) int {
	if !c.acquiring && c.started.IsZero() {
		return 0
	}
	n := int(now.Sub(c.started) / s.cycle(c))
	if c.regs.Mode == sdk.AcquisitionSingleScan && n > 1 {
		n = 1
	}
	return n
}

// AvailableCameras returns the number of cameras plugged in
func (s *SDK) AvailableCameras() (int, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("AvailableCameras"); err != nil {
		return 0, err
	}
	if s.unplugged() {
		return 0, nil
	}
	return len(s.cams), nil
}

// Open returns a new handle to camera idx
func (s *SDK) Open(idx int) (sdk.Handle, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("Open"); err != nil {
		return 0, err
	}
	if s.unplugged() || idx < 0 || idx >= len(s.cams) {
		return 0, sdk.Errorf(uint(sdk.DRVErrorNoCamera), "Open(%d)", idx)
	}
	s.nextHandle++
	s.handles[s.nextHandle] = idx
	s.cams[idx].lost = false
	return s.nextHandle, nil
}

// Close forgets a handle
func (s *SDK) Close(h sdk.Handle) error {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("Close"); err != nil {
		return err
	}
	delete(s.handles, h)
	if s.current == h {
		s.current = 0
	}
	return nil
}

// Select makes h the current camera
func (s *SDK) Select(h sdk.Handle) error {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("Select"); err != nil {
		return err
	}
	if _, ok := s.handles[h]; !ok {
		return sdk.Errorf(uint(sdk.DRVP1Invalid), "Select(%d)", h)
	}
	s.current = h
	return nil
}

// Initialize initializes the current camera
func (s *SDK) Initialize() error {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("Initialize"); err != nil {
		return err
	}
	idx, ok := s.handles[s.current]
	if !ok {
		return sdk.Errorf(uint(sdk.DRVErrorNoHandle), "Initialize")
	}
	c := s.cams[idx]
	if s.unplugged() || c.lost {
		return sdk.Errorf(uint(sdk.DRVErrorNoCamera), "Initialize")
	}
	c.initialized = true
	return nil
}

// ShutDown shuts down the current camera
func (s *SDK) ShutDown() error {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("ShutDown"); err != nil {
		return err
	}
	idx, ok := s.handles[s.current]
	if !ok {
		return sdk.Errorf(uint(sdk.DRVErrorNoHandle), "ShutDown")
	}
	c := s.cams[idx]
	c.initialized = false
	c.acquiring = false
	s.wake()
	return nil
}

// Capabilities describes the simulated sensor
func (s *SDK) Capabilities() (sdk.Capabilities, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("Capabilities"); err != nil {
		return sdk.Capabilities{}, err
	}
	if _, err := s.selected("Capabilities"); err != nil {
		return sdk.Capabilities{}, err
	}
	chans := make([]sdk.Channel, len(s.cfg.Channels))
	for i, ch := range s.cfg.Channels {
		ch.Speeds = append([]float64(nil), ch.Speeds...)
		chans[i] = ch
	}
	return sdk.Capabilities{
		Model:          "camflow simulator",
		Width:          s.cfg.Width,
		Height:         s.cfg.Height,
		MaxBinH:        s.cfg.MaxBinning,
		MaxBinV:        s.cfg.MaxBinning,
		MinImageLength: s.cfg.MinImageLength,
		SubImage:       !s.cfg.NoSubImage,
		MaxExposure:    s.cfg.MaxExposure,
		Channels:       chans,
		Gains:          append([]float64(nil), s.cfg.Gains...),
		Cooling:        !s.cfg.NoCooling,
		MinTemperature: s.cfg.MinTemperature,
		MaxTemperature: s.cfg.MaxTemperature,
		FanModes:       append([]sdk.FanMode(nil), s.cfg.FanModes...),
	}, nil
}

// settable returns the current camera if registers may be written
func (s *SDK) settable(op string) (*camera, error) {
	if err := s.enter(op); err != nil {
		return nil, err
	}
	c, err := s.selected(op)
	if err != nil {
		return nil, err
	}
	if c.acquiring {
		return nil, sdk.Errorf(uint(sdk.DRVAcquiring), "%s", op)
	}
	return c, nil
}

// SetReadoutChannel sets the A/D channel and shift speed
func (s *SDK) SetReadoutChannel(channel, speed int) error {
	s.Lock()
	defer s.Unlock()
	c, err := s.settable("SetReadoutChannel")
	if err != nil {
		return err
	}
	if channel < 0 || channel >= len(s.cfg.Channels) {
		return sdk.Errorf(uint(sdk.DRVP1Invalid), "SetReadoutChannel")
	}
	if speed < 0 || speed >= len(s.cfg.Channels[channel].Speeds) {
		return sdk.Errorf(uint(sdk.DRVP2Invalid), "SetReadoutChannel")
	}
	c.regs.Channel = channel
	c.regs.Speed = speed
	return nil
}

// SetPreAmpGain sets the preamp gain index
func (s *SDK) SetPreAmpGain(idx int) error {
	s.Lock()
	defer s.Unlock()
	c, err := s.settable("SetPreAmpGain")
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(s.cfg.Gains) {
		return sdk.Errorf(uint(sdk.DRVP1Invalid), "SetPreAmpGain")
	}
	c.regs.Gain = idx
	return nil
}

// SetImage sets the AOI and binning
func (s *SDK) SetImage(hbin, vbin, hstart, hend, vstart, vend int) error {
	s.Lock()
	defer s.Unlock()
	c, err := s.settable("SetImage")
	if err != nil {
		return err
	}
	switch {
	case hbin < 1 || hbin > s.cfg.MaxBinning:
		return sdk.Errorf(uint(sdk.DRVP1Invalid), "SetImage")
	case vbin < 1 || vbin > s.cfg.MaxBinning:
		return sdk.Errorf(uint(sdk.DRVP2Invalid), "SetImage")
	case hstart < 1 || hend > s.cfg.Width || hend < hstart:
		return sdk.Errorf(uint(sdk.DRVP3Invalid), "SetImage")
	case vstart < 1 || vend > s.cfg.Height || vend < vstart:
		return sdk.Errorf(uint(sdk.DRVP3Invalid), "SetImage")
	case s.cfg.NoSubImage && (hend-hstart+1 != s.cfg.Width || vend-vstart+1 != s.cfg.Height):
		return sdk.Errorf(uint(sdk.DRVNotSupported), "SetImage")
	}
	c.regs.HBin, c.regs.VBin = hbin, vbin
	c.regs.HStart, c.regs.HEnd = hstart, hend
	c.regs.VStart, c.regs.VEnd = vstart, vend
	return nil
}

// SetExposureTime sets the exposure, in whole microseconds
func (s *SDK) SetExposureTime(t time.Duration) error {
	s.Lock()
	defer s.Unlock()
	c, err := s.settable("SetExposureTime")
	if err != nil {
		return err
	}
	if t < 0 {
		return sdk.Errorf(uint(sdk.DRVP1Invalid), "SetExposureTime")
	}
	max := time.Duration(s.cfg.MaxExposure * float64(time.Second))
	if t > max {
		t = max
	}
	c.regs.Exposure = t.Round(time.Microsecond)
	return nil
}

// SetAcquisitionMode sets the acquisition mode
func (s *SDK) SetAcquisitionMode(m sdk.AcquisitionMode) error {
	s.Lock()
	defer s.Unlock()
	c, err := s.settable("SetAcquisitionMode")
	if err != nil {
		return err
	}
	if m < sdk.AcquisitionSingleScan || m > sdk.AcquisitionRunUntilAbort {
		return sdk.Errorf(uint(sdk.DRVP1Invalid), "SetAcquisitionMode")
	}
	c.regs.Mode = m
	return nil
}

// SetKineticCycleTime sets the kinetic cycle time.  Zero means as fast as
// the exposure and readout allow
func (s *SDK) SetKineticCycleTime(t time.Duration) error {
	s.Lock()
	defer s.Unlock()
	c, err := s.settable("SetKineticCycleTime")
	if err != nil {
		return err
	}
	c.regs.Kinetic = t
	return nil
}

// AcquisitionTimings returns the timings in effect
func (s *SDK) AcquisitionTimings() (sdk.AcquisitionTimings, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("AcquisitionTimings"); err != nil {
		return sdk.AcquisitionTimings{}, err
	}
	c, err := s.selected("AcquisitionTimings")
	if err != nil {
		return sdk.AcquisitionTimings{}, err
	}
	cyc := s.cycle(c).Seconds()
	return sdk.AcquisitionTimings{
		Exposure:     c.regs.Exposure.Seconds(),
		Accumulation: cyc,
		Kinetic:      cyc,
	}, nil
}

// StartAcquisition starts acquiring
func (s *SDK) StartAcquisition() error {
	s.Lock()
	defer s.Unlock()
	c, err := s.settable("StartAcquisition")
	if err != nil {
		return err
	}
	c.acquiring = true
	c.started = time.Now()
	c.consumed = 0
	return nil
}

// AbortAcquisition stops acquiring.  It returns DRV_IDLE, which is beneign,
// if the camera is not acquiring
func (s *SDK) AbortAcquisition() error {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("AbortAcquisition"); err != nil {
		return err
	}
	c, err := s.selected("AbortAcquisition")
	if err != nil {
		return err
	}
	if !c.acquiring {
		return sdk.Error(uint(sdk.DRVIdle))
	}
	c.acquiring = false
	s.wake()
	return nil
}

// Status returns the acquisition status
func (s *SDK) Status() (sdk.Status, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("Status"); err != nil {
		return 0, err
	}
	c, err := s.selected("Status")
	if err != nil {
		return 0, err
	}
	if c.acquiring {
		if c.regs.Mode == sdk.AcquisitionSingleScan && s.produced(c, time.Now()) >= 1 {
			c.acquiring = false
			return sdk.StatusIdle, nil
		}
		return sdk.StatusAcquiring, nil
	}
	return sdk.StatusIdle, nil
}

// WaitForAcquisition blocks until an unread frame exists, the timeout
// elapses or CancelWait is called
func (s *SDK) WaitForAcquisition(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	s.Lock()
	if err := s.enter("WaitForAcquisition"); err != nil {
		s.Unlock()
		return err
	}
	s.Unlock()
	for {
		s.Lock()
		if s.dropFrames > 0 {
			s.dropFrames--
			s.Unlock()
			return sdk.Errorf(uint(sdk.DRVNoNewData), "WaitForAcquisition")
		}
		c, err := s.selected("WaitForAcquisition")
		if err != nil || !c.acquiring {
			s.Unlock()
			return sdk.Errorf(uint(sdk.DRVNoNewData), "WaitForAcquisition")
		}
		now := time.Now()
		n := s.produced(c, now)
		if n > c.consumed {
			s.Unlock()
			return nil
		}
		next := c.started.Add(time.Duration(c.consumed+1) * s.cycle(c))
		cancel := s.cancel
		s.Unlock()

		if !now.Before(deadline) {
			return sdk.Errorf(uint(sdk.DRVNoNewData), "WaitForAcquisition")
		}
		if next.After(deadline) {
			next = deadline
		}
		t := time.NewTimer(time.Until(next))
		select {
		case <-cancel:
			t.Stop()
			return sdk.Errorf(uint(sdk.DRVNoNewData), "WaitForAcquisition")
		case <-t.C:
		}
	}
}

// CancelWait releases any goroutine in WaitForAcquisition
func (s *SDK) CancelWait() error {
	s.Lock()
	defer s.Unlock()
	s.calls["CancelWait"]++
	s.wake()
	return nil
}

// MostRecentImage16 fills buf with the newest frame.  Each pixel holds the
// frame counter plus its index, truncated to the bit depth of the channel
func (s *SDK) MostRecentImage16(buf []uint16) error {
	n, err := s.readImage(buf)
	if err != nil {
		return err
	}
	s.Lock()
	fn := s.onRead
	s.Unlock()
	if fn != nil {
		fn(n)
	}
	return nil
}

func (s *SDK) readImage(buf []uint16) (uint64, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("MostRecentImage16"); err != nil {
		return 0, err
	}
	c, err := s.selected("MostRecentImage16")
	if errors.Is(err, sdk.DRVErrorNoCamera) {
		// the frame being read vanished with the camera
		return 0, sdk.Errorf(uint(sdk.DRVNoNewData), "MostRecentImage16")
	}
	if err != nil {
		return 0, err
	}
	r := c.regs
	w := (r.HEnd - r.HStart + 1) / r.HBin
	h := (r.VEnd - r.VStart + 1) / r.VBin
	if len(buf) < w*h {
		return 0, sdk.Errorf(uint(sdk.DRVP2Invalid), "MostRecentImage16 buffer of %d for %dx%d frame", len(buf), w, h)
	}
	n := s.produced(c, time.Now())
	if n <= c.consumed {
		return 0, sdk.Errorf(uint(sdk.DRVNoNewData), "MostRecentImage16")
	}
	c.consumed = n
	c.frames++
	mask := uint16(1<<uint(s.cfg.Channels[r.Channel].BitDepth) - 1)
	base := uint16(c.frames)
	for i := 0; i < w*h; i++ {
		buf[i] = (base + uint16(i)) & mask
	}
	return c.frames, nil
}

// Temperature returns the sensor temperature, or the sentinel while the
// camera is unplugged
func (s *SDK) Temperature() (int, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("Temperature"); err != nil {
		return 0, err
	}
	idx, ok := s.handles[s.current]
	if !ok {
		return 0, sdk.Errorf(uint(sdk.DRVErrorNoHandle), "Temperature")
	}
	if s.unplugged() || s.cams[idx].lost {
		return sdk.TemperatureSentinel, nil
	}
	return s.cfg.Temperature, nil
}

// thermal returns the current camera if its cooling can be controlled
func (s *SDK) thermal(op string) (*camera, error) {
	if err := s.enter(op); err != nil {
		return nil, err
	}
	c, err := s.selected(op)
	if err != nil {
		return nil, err
	}
	if s.cfg.NoCooling {
		return nil, sdk.Errorf(uint(sdk.DRVNotSupported), "%s", op)
	}
	return c, nil
}

// SetTemperature sets the cooler set-point
func (s *SDK) SetTemperature(celsius int) error {
	s.Lock()
	defer s.Unlock()
	c, err := s.thermal("SetTemperature")
	if err != nil {
		return err
	}
	if celsius < s.cfg.MinTemperature || celsius > s.cfg.MaxTemperature {
		return sdk.Errorf(uint(sdk.DRVP1Invalid), "SetTemperature(%d)", celsius)
	}
	c.regs.Setpoint = celsius
	return nil
}

// SetCooling switches the cooler on or off
func (s *SDK) SetCooling(on bool) error {
	s.Lock()
	defer s.Unlock()
	c, err := s.thermal("SetCooling")
	if err != nil {
		return err
	}
	c.regs.Cooling = on
	return nil
}

// SetFanMode sets the fan mode
func (s *SDK) SetFanMode(m sdk.FanMode) error {
	s.Lock()
	defer s.Unlock()
	if err := s.enter("SetFanMode"); err != nil {
		return err
	}
	c, err := s.selected("SetFanMode")
	if err != nil {
		return err
	}
	for _, ok := range s.cfg.FanModes {
		if ok == m {
			c.regs.Fan = m
			return nil
		}
	}
	if len(s.cfg.FanModes) == 0 {
		return sdk.Errorf(uint(sdk.DRVNotSupported), "SetFanMode")
	}
	return sdk.Errorf(uint(sdk.DRVP1Invalid), "SetFanMode(%v)", m)
}
