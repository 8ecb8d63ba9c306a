/*Package health polls a camera's sensor temperature on a fixed period.

A Monitor runs one goroutine which calls a sampler function every period,
keeps the latest reading and fans it out to subscribers.  It is started and
stopped explicitly by its owner.
*/
package health

import (
	"errors"
	"log"
	"os"
	"sync"
	"time"
)

var (
	// ErrGone may be returned by a sampler to stop the monitor, because the
	// thing being sampled no longer exists
	ErrGone = errors.New("health: sample source is gone")

	// ErrSkip may be returned by a sampler which cannot take a sample right
	// now.  No reading is recorded
	ErrSkip = errors.New("health: sample skipped")
)

// DefaultPeriod is the polling period used when none is given
const DefaultPeriod = 10 * time.Second

// Reading is one temperature sample
type Reading struct {
	// Celsius is the last good temperature.  It is not updated by a sampler
	// which fails
	Celsius float64 `json:"celsius"`

	// At is when the sample was taken
	At time.Time `json:"at"`

	// Lost is true if the sample was the sentinel value reported by a
	// camera which has disappeared
	Lost bool `json:"lost"`

	// Err holds the sampler error, if there was one
	Err error `json:"-"`
}

// Sampler reads a temperature
type Sampler func() (float64, error)

// Option configures a Monitor
type Option func(*Monitor)

// WithSentinel marks readings equal to v as Lost
func WithSentinel(v float64) Option {
	return func(m *Monitor) {
		m.sentinel = &v
	}
}

// WithLogger sets the logger of the monitor
func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// Monitor polls a Sampler
type Monitor struct {
	period   time.Duration
	sample   Sampler
	sentinel *float64
	logger   *log.Logger

	mu      sync.RWMutex
	latest  Reading
	subs    map[int]func(Reading)
	nextSub int
	started bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New returns a monitor which calls sample every period once started.  A
// period of zero uses DefaultPeriod
func New(period time.Duration, sample Sampler, opts ...Option) *Monitor {
	if period <= 0 {
		period = DefaultPeriod
	}
	m := &Monitor{
		period: period,
		sample: sample,
		logger: log.New(os.Stderr, "health: ", log.LstdFlags),
		subs:   map[int]func(Reading){},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the polling goroutine.  It takes a sample immediately.
// Calling Start more than once, or after Stop, does nothing
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	select {
	case <-m.stop:
		return
	default:
	}
	m.started = true
	go m.run()
}

// Stop stops the polling goroutine and waits for it to exit.  It is safe to
// call more than once
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if started {
		<-m.done
	}
}

// Done is closed when the polling goroutine exits
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Latest returns the last reading
func (m *Monitor) Latest() Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Subscribe registers fn to be called with every reading, from the polling
// goroutine.  The returned function unsubscribes
func (m *Monitor) Subscribe(fn func(Reading)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) run() {
	defer close(m.done)
	if !m.poll() {
		return
	}
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if !m.poll() {
				return
			}
		}
	}
}

// poll takes one sample.  It returns false if the monitor should exit
func (m *Monitor) poll() bool {
	v, err := m.sample()
	if errors.Is(err, ErrGone) {
		m.logger.Printf("stopping: %v", err)
		return false
	}
	if errors.Is(err, ErrSkip) {
		return true
	}
	m.mu.Lock()
	r := Reading{Celsius: m.latest.Celsius, At: time.Now(), Err: err}
	if err == nil {
		r.Celsius = v
		r.Lost = m.sentinel != nil && v == *m.sentinel
	} else {
		m.logger.Printf("reading temperature: %v", err)
	}
	m.latest = r
	subs := make([]func(Reading), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(r)
	}
	return true
}
