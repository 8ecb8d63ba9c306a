/*Package device owns the connection to cameras driven through an sdk.SDK.

Vendor SDKs keep a single "current camera" for the whole process, so every
call that acts on a camera must be preceded by selecting it, and the pair
must not be interleaved with calls for another camera.  A Context holds the
process-wide mutex which serializes that, and Handle.Call is the only way to
issue hardware calls through it.

WaitForAcquisition and CancelWait are the exceptions.  They go straight to
the SDK so that a goroutine blocked waiting on a frame does not keep the
mutex held, and so a stop request can release it.
*/
package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/nasa-jpl/camflow/sdk"
)

var (
	// ErrClosed is returned by calls on a Handle after Close
	ErrClosed = errors.New("device: handle is closed")

	errNotYet = errors.New("device: camera has not reappeared")
)

// Context is the process-wide hardware context shared by every Handle opened
// from the same SDK
type Context struct {
	mu      sync.Mutex
	sdk     sdk.SDK
	current *Handle
	claimed map[int]*Handle

	// Logger receives warnings about errors which are not returned, such
	// as those produced while shutting a camera down
	Logger *log.Logger
}

// NewContext returns a Context wrapping s
func NewContext(s sdk.SDK) *Context {
	return &Context{
		sdk:     s,
		claimed: map[int]*Handle{},
		Logger:  log.New(os.Stderr, "device: ", log.LstdFlags),
	}
}

// Open claims, selects and initializes the camera at idx.  If the camera is
// already claimed an error matching sdk.ErrDeviceBusy is returned, and if
// idx is not an attached camera one matching sdk.ErrDeviceNotFound
func (c *Context) Open(idx int) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.sdk.AvailableCameras()
	if err != nil {
		return nil, fmt.Errorf("device: counting cameras: %w", err)
	}
	if idx < 0 || idx >= n {
		return nil, fmt.Errorf("device: camera %d with %d attached: %w", idx, n, sdk.ErrDeviceNotFound)
	}
	if _, ok := c.claimed[idx]; ok {
		return nil, fmt.Errorf("device: camera %d: %w", idx, sdk.ErrDeviceBusy)
	}
	h := &Handle{ctx: c, idx: idx}
	if err := h.open(); err != nil {
		return nil, err
	}
	c.claimed[idx] = h
	return h, nil
}

// Info describes one attached camera
type Info struct {
	// Index is the index to Open the camera with
	Index int `json:"index"`

	// Claimed is true if a Handle to the camera is open in this Context
	Claimed bool `json:"claimed"`
}

// Scan lists the attached cameras without opening them
func (c *Context) Scan() ([]Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.sdk.AvailableCameras()
	if err != nil {
		return nil, fmt.Errorf("device: counting cameras: %w", err)
	}
	out := make([]Info, n)
	for i := range out {
		_, claimed := c.claimed[i]
		out[i] = Info{Index: i, Claimed: claimed}
	}
	return out, nil
}

// ReinitPolicy bounds the wait for a lost camera to reappear
type ReinitPolicy struct {
	// Initial is the first interval between polls for the camera
	Initial time.Duration

	// Max is the longest interval between polls
	Max time.Duration

	// Timeout is the longest total wait.  Zero means wait until the
	// context is cancelled
	Timeout time.Duration
}

// DefaultReinitPolicy polls every 25ms at first, backing off to once a
// second, and gives up after a minute
func DefaultReinitPolicy() ReinitPolicy {
	return ReinitPolicy{Initial: 25 * time.Millisecond, Max: time.Second, Timeout: time.Minute}
}

// Handle is an open camera.  Method calls are safe for concurrent use
type Handle struct {
	ctx    *Context
	idx    int
	raw    sdk.Handle
	opened bool
	lost   bool
	closed bool
}

// Index returns the index of the camera this handle refers to
func (h *Handle) Index() int {
	return h.idx
}

// open obtains a raw handle and initializes the camera.  The context lock
// is held
func (h *Handle) open() error {
	s := h.ctx.sdk
	raw, err := s.Open(h.idx)
	if err != nil {
		return fmt.Errorf("device: opening camera %d: %w", h.idx, err)
	}
	if err = s.Select(raw); err == nil {
		err = s.Initialize()
	}
	if err != nil {
		if err2 := s.Close(raw); err2 != nil {
			h.ctx.Logger.Printf("closing camera %d after failed initialization: %v", h.idx, err2)
		}
		if h.ctx.current == h {
			h.ctx.current = nil
		}
		return fmt.Errorf("device: initializing camera %d: %w", h.idx, err)
	}
	h.raw = raw
	h.opened = true
	h.ctx.current = h
	return nil
}

// selectLocked makes h the current camera if it is not already.  The
// context lock is held
func (h *Handle) selectLocked() error {
	if h.ctx.current == h {
		return nil
	}
	if err := h.ctx.sdk.Select(h.raw); err != nil {
		return fmt.Errorf("device: selecting camera %d: %w", h.idx, err)
	}
	h.ctx.current = h
	return nil
}

func (h *Handle) usable() error {
	if h.closed {
		return ErrClosed
	}
	if h.lost {
		return fmt.Errorf("device: camera %d: %w", h.idx, sdk.ErrDeviceLost)
	}
	return nil
}

// Select makes this the current camera
func (h *Handle) Select() error {
	h.ctx.mu.Lock()
	defer h.ctx.mu.Unlock()
	if err := h.usable(); err != nil {
		return err
	}
	return h.selectLocked()
}

// Call runs fn with this camera selected and the hardware context locked.
// fn must not call back into the Handle
func (h *Handle) Call(fn func(sdk.SDK) error) error {
	h.ctx.mu.Lock()
	defer h.ctx.mu.Unlock()
	if err := h.usable(); err != nil {
		return err
	}
	if err := h.selectLocked(); err != nil {
		return err
	}
	return fn(h.ctx.sdk)
}

// WaitForAcquisition waits for a frame without holding the hardware context
func (h *Handle) WaitForAcquisition(timeout time.Duration) error {
	return h.ctx.sdk.WaitForAcquisition(timeout)
}

// CancelWait releases a goroutine blocked in WaitForAcquisition
func (h *Handle) CancelWait() error {
	return h.ctx.sdk.CancelWait()
}

// Close shuts the camera down and releases the claim on it.  Errors from
// the SDK are logged, and Close is idempotent
func (h *Handle) Close() error {
	h.ctx.mu.Lock()
	defer h.ctx.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	delete(h.ctx.claimed, h.idx)
	h.release()
	return nil
}

// release shuts down and closes the raw handle.  The context lock is held
func (h *Handle) release() {
	if !h.opened {
		return
	}
	s := h.ctx.sdk
	if err := h.selectLocked(); err != nil {
		h.ctx.Logger.Printf("%v", err)
	} else if err := s.ShutDown(); err != nil {
		h.ctx.Logger.Printf("shutting down camera %d: %v", h.idx, err)
	}
	if err := s.Close(h.raw); err != nil {
		h.ctx.Logger.Printf("closing camera %d: %v", h.idx, err)
	}
	h.opened = false
	if h.ctx.current == h {
		h.ctx.current = nil
	}
}

// Reinitialize recovers a camera which has disappeared.  It shuts the old
// connection down, waits for the camera to be listed again and reopens it,
// retrying the open once.  Calls through the handle fail with an error
// matching sdk.ErrDeviceLost until it returns successfully
func (h *Handle) Reinitialize(ctx context.Context, p ReinitPolicy) error {
	h.ctx.mu.Lock()
	if h.closed {
		h.ctx.mu.Unlock()
		return ErrClosed
	}
	h.lost = true
	h.release()
	h.ctx.mu.Unlock()

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
		MaxElapsedTime:      p.Timeout,
		Clock:               backoff.SystemClock,
	}
	op := func() error {
		n, err := h.ctx.sdk.AvailableCameras()
		if err != nil {
			return err
		}
		if n <= h.idx {
			return errNotYet
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		if err != errNotYet {
			h.ctx.Logger.Printf("polling for camera %d: %v", h.idx, err)
		}
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("device: camera %d did not reappear: %w", h.idx, err)
	}

	h.ctx.mu.Lock()
	defer h.ctx.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	err := h.open()
	if err != nil {
		h.ctx.Logger.Printf("%v, retrying", err)
		err = h.open()
	}
	if err != nil {
		return err
	}
	h.lost = false
	return nil
}
