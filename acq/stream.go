package acq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// State is the state of a continuous stream
type State int32

const (
	// Idle streams can be started
	Idle State = iota

	// Starting streams have a worker which has not yet started the hardware
	Starting

	// Running streams are acquiring
	Running

	// StopRequested streams have been asked to stop and have not yet
	StopRequested

	// Stopped streams have a worker which has exited.  The next Start or
	// WaitStopped returns them to Idle
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case StopRequested:
		return "StopRequested"
	case Stopped:
		return "Stopped"
	}
	return "Unknown"
}

// MarshalText makes states print by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stream runs continuous acquisition on a worker goroutine, handing every
// frame to a callback.  The frame and its pixels are only valid until the
// callback returns, use Frame.Clone to keep them.
//
// The callback runs on the worker.  It may call Stop, but must not call
// WaitStopped, which would wait for itself
type Stream struct {
	eng *Engine

	mu        sync.Mutex
	state     State
	stop      chan struct{}
	done      chan struct{}
	err       error
	onFailure func(error)

	// owner is true while the worker holds the acquisition lock.  Until
	// then a wait in progress belongs to someone else
	owner bool

	frames uint64
}

// NewStream returns an idle stream acquiring with eng
func NewStream(eng *Engine) *Stream {
	return &Stream{eng: eng}
}

// OnFailure sets a function called with a *StreamFailedError when the
// stream stops because of an error.  It is called from the worker after the
// stream has reached Stopped
func (s *Stream) OnFailure(fn func(error)) {
	s.mu.Lock()
	s.onFailure = fn
	s.mu.Unlock()
}

// State returns the state of the stream
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error which stopped the last stream, if any
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Frames returns the number of frames delivered since the stream was made
func (s *Stream) Frames() uint64 {
	return atomic.LoadUint64(&s.frames)
}

// Start launches the worker, which calls cb with every frame.  A stream
// which is not Idle, or Stopped with its worker gone, returns ErrAlreadyRunning
func (s *Stream) Start(cb func(*Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		s.state = Idle
	}
	if s.state != Idle {
		return ErrAlreadyRunning
	}
	s.state = Starting
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.err = nil
	go s.run(cb, s.stop, s.done)
	return nil
}

// Stop asks the worker to stop and releases it if it is waiting on the
// camera.  It returns without waiting.  Stop is a no-op unless the stream is
// Starting or Running.  A worker still waiting for the acquisition lock is
// not holding a wait on the camera, so the holder's wait is left alone
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.state != Starting && s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = StopRequested
	close(s.stop)
	owner := s.owner
	s.mu.Unlock()
	if !owner {
		return
	}
	if err := s.eng.h.CancelWait(); err != nil {
		s.eng.cfg.Logger.Printf("cancelling wait: %v", err)
	}
}

// WaitStopped blocks until the worker exits, then returns the stream to
// Idle.  If that takes longer than timeout ErrStopTimeout is returned.  An
// Idle stream returns immediately
func (s *Stream) WaitStopped(timeout time.Duration) error {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return nil
	}
	done := s.done
	s.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		return ErrStopTimeout
	}

	s.mu.Lock()
	if s.state == Stopped && s.done == done {
		s.state = Idle
	}
	s.mu.Unlock()
	return nil
}

func (s *Stream) markRunning() {
	s.mu.Lock()
	if s.state == Starting {
		s.state = Running
	}
	s.mu.Unlock()
}

func (s *Stream) setOwner(b bool) {
	s.mu.Lock()
	s.owner = b
	s.mu.Unlock()
}

func (s *Stream) run(cb func(*Frame), stop, done chan struct{}) {
	err := s.work(cb, stop)
	if errors.Is(err, errStopped) {
		err = nil
	}

	s.mu.Lock()
	s.state = Stopped
	s.err = err
	fn := s.onFailure
	close(done)
	s.mu.Unlock()

	if err != nil {
		s.eng.cfg.Logger.Printf("stream stopped: %v", err)
		if fn != nil {
			fn(&StreamFailedError{Err: err})
		}
	}
}

// work holds the acquisition lock for the life of the stream
func (s *Stream) work(cb func(*Frame), stop <-chan struct{}) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := s.eng.lock(ctx); err != nil {
		return errStopped
	}
	defer s.eng.unlock()
	s.setOwner(true)
	defer s.setOwner(false)
	defer s.eng.disarm()

	for !stopped(stop) {
		if err := s.eng.ensureArmed(); err != nil {
			return err
		}
		s.markRunning()
		f, err := s.eng.next(stop)
		if err != nil {
			return err
		}
		if f == nil {
			continue
		}
		atomic.AddUint64(&s.frames, 1)
		cb(f)
		f.release()
	}
	return nil
}
