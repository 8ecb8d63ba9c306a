/*Package acq drives frame acquisition on one camera.

The Engine turns a settings request into hardware state and frames.  It
holds an acquisition lock for the duration of every hardware transaction:
a single frame from AcquireOne, or the whole life of a continuous Stream.
Settings requested while the lock is held are staged in the SettingCache
and committed at the start of the next cycle.

In continuous mode the engine arms the camera in run-until-abort mode, sleeps
for one frame period while watching for a stop request, then waits (bounded)
for the frame.  A wait that ends with no new data triggers recovery: if the
camera reports the sentinel temperature it is reinitialized and the last
settings are written to it again, otherwise the engine backs off briefly.
Either way the camera is rearmed on the next cycle.
*/
package acq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/nasa-jpl/camflow/device"
	"github.com/nasa-jpl/camflow/sdk"
)

// EngineConfig holds the timings of the acquisition loop.  Zero fields take
// the values of DefaultEngineConfig
type EngineConfig struct {
	// FrameTimeout bounds every wait for a frame beyond the expected
	// frame period
	FrameTimeout time.Duration

	// RetryBackoff is the pause after a frame was missed for a reason other
	// than the camera disappearing
	RetryBackoff time.Duration

	// AbortSettle is the pause after aborting an acquisition before the
	// camera is reconfigured
	AbortSettle time.Duration

	// PoolDepth is the number of idle frame buffers kept for reuse
	PoolDepth int

	// Reinit bounds the wait for a lost camera to come back
	Reinit device.ReinitPolicy

	// Logger receives the engine's log lines
	Logger *log.Logger
}

// DefaultEngineConfig returns the default engine timings
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		FrameTimeout: time.Second,
		RetryBackoff: 100 * time.Millisecond,
		AbortSettle:  100 * time.Millisecond,
		PoolDepth:    4,
		Reinit:       device.DefaultReinitPolicy(),
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.FrameTimeout == 0 {
		c.FrameTimeout = d.FrameTimeout
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.AbortSettle == 0 {
		c.AbortSettle = d.AbortSettle
	}
	if c.PoolDepth == 0 {
		c.PoolDepth = d.PoolDepth
	}
	if c.Reinit == (device.ReinitPolicy{}) {
		c.Reinit = d.Reinit
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "acq: ", log.LstdFlags)
	}
	return c
}

// Engine acquires frames from one camera
type Engine struct {
	cfg   EngineConfig
	h     *device.Handle
	cache *SettingCache
	pool  *BufferPool
	sem   chan struct{}

	// Temperature returns the most recent sensor temperature, which is
	// recorded in frame metadata.  It may be nil
	Temperature func() float64

	// the remaining fields belong to the holder of sem
	armed     bool
	mode      sdk.AcquisitionMode
	period    time.Duration
	committed Committed
	seq       uint64

	reinits uint64
}

// NewEngine returns an engine acquiring from h with the settings in cache
func NewEngine(h *device.Handle, cache *SettingCache, cfg EngineConfig) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:   cfg,
		h:     h,
		cache: cache,
		pool:  NewBufferPool(cfg.PoolDepth),
		sem:   make(chan struct{}, 1),
	}
}

// Locked is true while an acquisition holds the hardware
func (e *Engine) Locked() bool {
	return len(e.sem) == 1
}

// Reinitializations returns the number of times the camera was recovered
// after disappearing
func (e *Engine) Reinitializations() uint64 {
	return atomic.LoadUint64(&e.reinits)
}

func (e *Engine) lock(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: acquisition lock is held: %v", ErrInvalidState, ctx.Err())
	}
}

func (e *Engine) unlock() {
	<-e.sem
}

// Apply commits the staged settings at once if no acquisition holds the
// hardware.  Otherwise the holder commits them at its next cycle and Apply
// does nothing
func (e *Engine) Apply() error {
	select {
	case e.sem <- struct{}{}:
	default:
		return nil
	}
	defer e.unlock()
	_, err := e.cache.DiffAndCommit(e.h)
	return err
}

func (e *Engine) temperature() float64 {
	if e.Temperature == nil {
		return 0
	}
	return e.Temperature()
}

// AcquireOne takes a single frame with the requested settings.  It waits for
// the acquisition lock until ctx is done, in which case an error matching
// ErrInvalidState is returned.  If ctx is done while the frame is exposed the
// acquisition is aborted and the error wraps ctx.Err().  The frame is owned
// by the caller
func (e *Engine) AcquireOne(ctx context.Context) (*Frame, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.unlock()
	defer e.disarm()

	if err := e.arm(sdk.AcquisitionSingleScan); err != nil {
		return nil, err
	}
	at := time.Now()
	if err := e.waitCtx(ctx, e.period+e.cfg.FrameTimeout); err != nil {
		return nil, fmt.Errorf("acq: waiting for frame: %w", err)
	}
	w, h := e.committed.Settings.Dims()
	f := &Frame{Width: w, Height: h, Pix: make([]uint16, w*h)}
	if err := e.h.Call(func(s sdk.SDK) error { return s.MostRecentImage16(f.Pix) }); err != nil {
		return nil, fmt.Errorf("acq: reading frame: %w", err)
	}
	e.seq++
	f.Seq = e.seq
	f.Metadata = metadataFrom(e.committed, at, e.temperature())
	return f, nil
}

// waitCtx waits for a frame, releasing the wait when ctx is done.  The
// caller holds the acquisition lock, so the only wait CancelWait can release
// is its own
func (e *Engine) waitCtx(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			if err := e.h.CancelWait(); err != nil {
				e.cfg.Logger.Printf("cancelling wait: %v", err)
			}
		case <-done:
		}
	}()
	err := e.h.WaitForAcquisition(timeout)
	close(done)
	<-exited
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// arm stops the camera, commits any pending settings and starts an
// acquisition in mode m
func (e *Engine) arm(m sdk.AcquisitionMode) error {
	if err := e.halt(); err != nil {
		return err
	}
	if err := e.h.Call(func(s sdk.SDK) error { return s.SetAcquisitionMode(m) }); err != nil {
		return fmt.Errorf("acq: setting acquisition mode %v: %w", m, err)
	}
	e.cache.InvalidateExposure()
	committed, err := e.cache.DiffAndCommit(e.h)
	if err != nil {
		return err
	}
	var t sdk.AcquisitionTimings
	err = e.h.Call(func(s sdk.SDK) error {
		if m == sdk.AcquisitionRunUntilAbort {
			if err := s.SetKineticCycleTime(0); err != nil {
				return err
			}
		}
		if err := s.StartAcquisition(); err != nil {
			return err
		}
		var err error
		t, err = s.AcquisitionTimings()
		return err
	})
	if err != nil {
		return fmt.Errorf("acq: starting acquisition: %w", err)
	}
	e.cache.setAcquiring(true)

	w, h := committed.Settings.Dims()
	readout := time.Duration(w*h) * committed.PixelReadout
	e.period = time.Duration(t.Kinetic * float64(time.Second))
	if exp := committed.Exposure + readout; exp > e.period {
		e.period = exp
	}
	e.committed = committed
	e.mode = m
	e.armed = true
	return nil
}

// halt aborts an acquisition in progress and lets the camera settle
func (e *Engine) halt() error {
	var acquiring bool
	err := e.h.Call(func(s sdk.SDK) error {
		st, err := s.Status()
		if err != nil {
			return err
		}
		if st != sdk.StatusAcquiring {
			return nil
		}
		acquiring = true
		return s.AbortAcquisition()
	})
	if err != nil {
		return fmt.Errorf("acq: aborting acquisition: %w", err)
	}
	e.armed = false
	e.cache.setAcquiring(false)
	if acquiring {
		time.Sleep(e.cfg.AbortSettle)
	}
	return nil
}

// disarm halts the camera, logging failures
func (e *Engine) disarm() {
	if err := e.halt(); err != nil {
		e.cfg.Logger.Printf("%v", err)
		e.armed = false
		e.cache.setAcquiring(false)
	}
}

// ensureArmed arms the camera for continuous acquisition if it is not, or
// if settings are waiting to be committed
func (e *Engine) ensureArmed() error {
	if e.armed && e.mode == sdk.AcquisitionRunUntilAbort && !e.cache.Pending() {
		return nil
	}
	return e.arm(sdk.AcquisitionRunUntilAbort)
}

// next runs one continuous acquisition cycle on an armed camera.  A nil
// frame with a nil error means the cycle produced no frame and recovery
// succeeded
func (e *Engine) next(stop <-chan struct{}) (*Frame, error) {
	at := time.Now()
	t := time.NewTimer(e.period)
	select {
	case <-stop:
		t.Stop()
		return nil, errStopped
	case <-t.C:
	}

	err := e.h.WaitForAcquisition(e.cfg.FrameTimeout)
	if stopped(stop) {
		return nil, errStopped
	}
	w, h := e.committed.Settings.Dims()
	buf := e.pool.Get(w * h)
	if err == nil {
		err = e.h.Call(func(s sdk.SDK) error { return s.MostRecentImage16(buf) })
	}
	if err != nil {
		e.pool.Put(buf)
		if errors.Is(err, sdk.ErrNoNewData) {
			return nil, e.recover(stop)
		}
		return nil, fmt.Errorf("acq: reading frame: %w", err)
	}
	if stopped(stop) {
		e.pool.Put(buf)
		return nil, errStopped
	}
	e.seq++
	return &Frame{
		Seq:      e.seq,
		Width:    w,
		Height:   h,
		Pix:      buf,
		Metadata: metadataFrom(e.committed, at, e.temperature()),
		pool:     e.pool,
	}, nil
}

// recover handles a wait that ended without a frame
func (e *Engine) recover(stop <-chan struct{}) error {
	if err := e.h.CancelWait(); err != nil {
		e.cfg.Logger.Printf("cancelling wait: %v", err)
	}
	e.armed = false

	var temp int
	err := e.h.Call(func(s sdk.SDK) error {
		var err error
		temp, err = s.Temperature()
		if sdk.BeneignThermal(err) {
			err = nil
		}
		return err
	})
	if err == nil && temp == sdk.TemperatureSentinel {
		e.cfg.Logger.Printf("camera %d seems to have disappeared, reinitializing", e.h.Index())
		e.cache.setAcquiring(false)
		if err := e.reinitialize(stop); err != nil {
			return err
		}
		atomic.AddUint64(&e.reinits, 1)
		e.cache.Invalidate()
		e.cfg.Logger.Printf("camera %d reinitialized", e.h.Index())
		return nil
	}
	if err != nil {
		e.cfg.Logger.Printf("no new data, and reading the temperature failed: %v", err)
	} else {
		e.cfg.Logger.Printf("no new data, retrying in %v", e.cfg.RetryBackoff)
	}
	t := time.NewTimer(e.cfg.RetryBackoff)
	defer t.Stop()
	select {
	case <-stop:
		return errStopped
	case <-t.C:
	}
	return nil
}

func (e *Engine) reinitialize(stop <-chan struct{}) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	err := e.h.Reinitialize(ctx, e.cfg.Reinit)
	if err == nil {
		return nil
	}
	if stopped(stop) {
		return errStopped
	}
	var hw *sdk.HardwareError
	if !errors.As(err, &hw) {
		hw = &sdk.HardwareError{Code: sdk.DRVErrorNoCamera, Message: err.Error()}
	}
	return fmt.Errorf("acq: reinitializing camera %d: %w", e.h.Index(), hw)
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
