/*Package telemetry publishes camera health to an MQTT broker.

Temperature readings go to <prefix>/temperature and stream failures to
<prefix>/stream, both as JSON.  Publishing never blocks the caller for
longer than the configured timeout.
*/
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nasa-jpl/camflow/health"
)

// ErrTimeout is returned when the broker does not acknowledge in time
var ErrTimeout = errors.New("telemetry: timed out waiting for the broker")

// Config holds the broker connection parameters
type Config struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883
	Broker string `yaml:"Broker"`

	// ClientID identifies this daemon to the broker
	ClientID string `yaml:"ClientID"`

	// Prefix is prepended to every topic
	Prefix string `yaml:"Prefix"`

	// QoS is the quality of service of every message
	QoS byte `yaml:"QoS"`

	// Timeout bounds the connection and each publish
	Timeout time.Duration `yaml:"Timeout"`
}

// Publisher is the part of mqtt.Client used to publish
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Source is something which produces temperature readings and stream
// failures.  *acq.Camera is a Source
type Source interface {
	SubscribeTemperature(func(health.Reading)) func()
	OnFailure(func(error))
}

// Reporter publishes telemetry messages
type Reporter struct {
	pub     Publisher
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration

	Logger *log.Logger
}

// New returns a reporter publishing with p under prefix
func New(p Publisher, prefix string) *Reporter {
	return &Reporter{
		pub:     p,
		prefix:  prefix,
		timeout: 2 * time.Second,
		Logger:  log.New(os.Stderr, "telemetry: ", log.LstdFlags),
	}
}

// Connect connects to the broker in cfg and returns a reporter using the
// connection.  The client reconnects on its own if the connection drops
func Connect(cfg Config) (*Reporter, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	r := New(nil, cfg.Prefix)
	r.qos = cfg.QoS
	r.timeout = cfg.Timeout

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		r.Logger.Printf("connection to %s lost, reconnecting: %v", cfg.Broker, err)
	}
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("telemetry: connecting to %s: %w", cfg.Broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: connecting to %s: %w", cfg.Broker, err)
	}
	r.client = c
	r.pub = c
	return r, nil
}

func (r *Reporter) topic(leaf string) string {
	if r.prefix == "" {
		return leaf
	}
	return r.prefix + "/" + leaf
}

func (r *Reporter) publish(leaf string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	topic := r.topic(leaf)
	token := r.pub.Publish(topic, r.qos, false, payload)
	if !token.WaitTimeout(r.timeout) {
		return fmt.Errorf("telemetry: publishing to %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: publishing to %s: %w", topic, err)
	}
	return nil
}

// Temperature publishes a temperature reading
func (r *Reporter) Temperature(rd health.Reading) error {
	return r.publish("temperature", rd)
}

// StreamFailure is the message published when a stream fails
type StreamFailure struct {
	State string    `json:"state"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// StreamFailed publishes the failure of a stream
func (r *Reporter) StreamFailed(err error) error {
	return r.publish("stream", StreamFailure{State: "failed", Error: err.Error(), At: time.Now()})
}

// Attach publishes every temperature reading and stream failure of src.
// The returned function stops the temperature messages
func (r *Reporter) Attach(src Source) func() {
	src.OnFailure(func(err error) {
		if perr := r.StreamFailed(err); perr != nil {
			r.Logger.Println(perr)
		}
	})
	return src.SubscribeTemperature(func(rd health.Reading) {
		if err := r.Temperature(rd); err != nil {
			r.Logger.Println(err)
		}
	})
}

// Close disconnects from the broker, if the reporter made the connection
func (r *Reporter) Close() {
	if r.client != nil {
		r.client.Disconnect(250)
	}
}
