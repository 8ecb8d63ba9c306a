package telemetry

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nasa-jpl/camflow/health"
)

type token struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *token {
	t := &token{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *token) Wait() bool { <-t.done; return true }
func (t *token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *token) Done() <-chan struct{} { return t.done }
func (t *token) Error() error          { return t.err }

type message struct {
	topic   string
	payload []byte
}

type broker struct {
	mu   sync.Mutex
	msgs []message
	next mqtt.Token
}

func (b *broker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, message{topic: topic, payload: payload.([]byte)})
	if b.next != nil {
		t := b.next
		b.next = nil
		return t
	}
	return doneToken(nil)
}

func quiet(r *Reporter) *Reporter {
	r.Logger = log.New(io.Discard, "", 0)
	return r
}

func TestTemperature(t *testing.T) {
	b := &broker{}
	r := quiet(New(b, "lab/cam0"))
	at := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := r.Temperature(health.Reading{Celsius: -60, At: at}); err != nil {
		t.Fatal(err)
	}
	if len(b.msgs) != 1 || b.msgs[0].topic != "lab/cam0/temperature" {
		t.Fatalf("expected one message on lab/cam0/temperature got %+v", b.msgs)
	}
	var got health.Reading
	if err := json.Unmarshal(b.msgs[0].payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Celsius != -60 || !got.At.Equal(at) {
		t.Errorf("expected -60 at %v got %+v", at, got)
	}
}

func TestStreamFailed(t *testing.T) {
	b := &broker{}
	r := quiet(New(b, ""))
	if err := r.StreamFailed(errors.New("camera gone")); err != nil {
		t.Fatal(err)
	}
	var got StreamFailure
	if err := json.Unmarshal(b.msgs[0].payload, &got); err != nil {
		t.Fatal(err)
	}
	if b.msgs[0].topic != "stream" || got.State != "failed" || got.Error != "camera gone" {
		t.Errorf("unexpected failure message %s %+v", b.msgs[0].topic, got)
	}
}

func TestPublishErrors(t *testing.T) {
	b := &broker{next: doneToken(errors.New("not connected"))}
	r := quiet(New(b, "x"))
	if err := r.Temperature(health.Reading{}); err == nil {
		t.Error("expected the token error")
	}

	b.next = &token{done: make(chan struct{})}
	r.timeout = 5 * time.Millisecond
	if err := r.Temperature(health.Reading{}); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected a timeout got %v", err)
	}
}

type source struct {
	sub     func(health.Reading)
	failure func(error)
}

func (s *source) SubscribeTemperature(fn func(health.Reading)) func() {
	s.sub = fn
	return func() { s.sub = nil }
}

func (s *source) OnFailure(fn func(error)) { s.failure = fn }

func TestAttach(t *testing.T) {
	b := &broker{}
	r := quiet(New(b, "cam"))
	src := &source{}
	stop := r.Attach(src)
	src.sub(health.Reading{Celsius: 1})
	src.failure(errors.New("boom"))
	stop()
	if src.sub != nil {
		t.Error("expected the subscription to be removed")
	}
	if len(b.msgs) != 2 || b.msgs[0].topic != "cam/temperature" || b.msgs[1].topic != "cam/stream" {
		t.Errorf("expected a temperature then a stream message got %+v", b.msgs)
	}
}
