package health

import (
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"
)

func quiet() Option {
	return WithLogger(log.New(io.Discard, "", 0))
}

func TestMonitorPolls(t *testing.T) {
	var calls int32
	sample := func() (float64, error) {
		atomic.AddInt32(&calls, 1)
		return -20, nil
	}
	m := New(5*time.Millisecond, sample, quiet())
	readings := make(chan Reading, 16)
	m.Subscribe(func(r Reading) {
		select {
		case readings <- r:
		default:
		}
	})
	m.Start()
	defer m.Stop()
	select {
	case r := <-readings:
		if r.Celsius != -20 || r.Lost || r.Err != nil {
			t.Errorf("expected -20 got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no reading")
	}
	time.Sleep(30 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n < 2 {
		t.Errorf("expected repeated polls got %d", n)
	}
}

func TestMonitorSentinelAndErrors(t *testing.T) {
	vals := make(chan float64, 1)
	vals <- -999
	sample := func() (float64, error) {
		select {
		case v := <-vals:
			return v, nil
		default:
			return 0, errors.New("bus timeout")
		}
	}
	m := New(time.Hour, sample, WithSentinel(-999), quiet())
	m.Start()
	// the first sample is taken immediately
	deadline := time.Now().Add(time.Second)
	for m.Latest().At.IsZero() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.Stop()
	r := m.Latest()
	if !r.Lost || r.Celsius != -999 {
		t.Errorf("expected a lost reading got %+v", r)
	}

	m.poll()
	r = m.Latest()
	if r.Err == nil || r.Celsius != -999 {
		t.Errorf("expected the failed sample to keep the last value got %+v", r)
	}
}

func TestMonitorStopsWhenGone(t *testing.T) {
	m := New(time.Millisecond, func() (float64, error) { return 0, ErrGone }, quiet())
	m.Start()
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on ErrGone")
	}
	m.Stop()
}

func TestStopBeforeStart(t *testing.T) {
	m := New(time.Millisecond, func() (float64, error) { return 1, nil }, quiet())
	m.Stop()
	m.Start()
	m.Stop()
	if !m.Latest().At.IsZero() {
		t.Error("a monitor stopped before starting should never poll")
	}
}

func TestUnsubscribe(t *testing.T) {
	m := New(time.Hour, func() (float64, error) { return 1, nil }, quiet())
	var n int32
	unsub := m.Subscribe(func(Reading) { atomic.AddInt32(&n, 1) })
	m.poll()
	unsub()
	m.poll()
	if got := atomic.LoadInt32(&n); got != 1 {
		t.Errorf("expected 1 notification got %d", got)
	}
}

func TestSkippedSamples(t *testing.T) {
	skip := false
	m := New(time.Hour, func() (float64, error) {
		if skip {
			return 0, ErrSkip
		}
		return 5, nil
	}, quiet())
	m.poll()
	first := m.Latest()
	skip = true
	m.poll()
	if got := m.Latest(); got != first {
		t.Errorf("expected a skipped sample to leave %+v got %+v", first, got)
	}
}
