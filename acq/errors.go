package acq

import "errors"

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state, for example committing settings while acquiring
	ErrInvalidState = errors.New("acq: invalid state")

	// ErrAlreadyRunning is returned by Start if a stream is active
	ErrAlreadyRunning = errors.New("acq: stream already running")

	// ErrStopTimeout is returned by WaitStopped if the stream did not stop
	// in time
	ErrStopTimeout = errors.New("acq: timed out waiting for the stream to stop")

	errStopped = errors.New("acq: stop requested")
)

// StreamFailedError is delivered to the failure callback of a stream which
// stopped because of an error
type StreamFailedError struct {
	Err error
}

func (e *StreamFailedError) Error() string {
	return "acq: stream failed: " + e.Err.Error()
}

// Unwrap returns the underlying error
func (e *StreamFailedError) Unwrap() error {
	return e.Err
}
