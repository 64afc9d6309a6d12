// Package telemetry records and publishes what the control loop sees.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gwillem/glove/pkg/gesture"
	"github.com/gwillem/glove/pkg/imu"
)

// DefaultPublishTimeout bounds how long one publish may hold up a cycle.
const DefaultPublishTimeout = 50 * time.Millisecond

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("telemetry: publish timed out")

// Sample is one control cycle as published.
type Sample struct {
	Session  string    `json:"session"`
	Seq      uint64    `json:"seq"`
	Time     time.Time `json:"time"`
	Label    int       `json:"label"`
	Error    *float64  `json:"error,omitempty"`
	Errors   []float64 `json:"errors,omitempty"`
	Angles   imu.Euler `json:"angles"`
	Command  string    `json:"command,omitempty"`
	Feedback string    `json:"feedback,omitempty"`
}

// NewSample fills a sample from a classification result. An infinite
// error, reported for an empty database, is left out.
func NewSample(t time.Time, res gesture.Result, angles imu.Euler) Sample {
	s := Sample{
		Time:   t,
		Label:  res.Label,
		Errors: res.Errors,
		Angles: angles,
	}
	if !math.IsInf(res.Error, 0) && !math.IsNaN(res.Error) {
		e := res.Error
		s.Error = &e
	}
	return s
}

// Publisher sends samples somewhere outside the process.
type Publisher interface {
	Publish(s Sample) error
	Close()
}

// Nop discards samples.
type Nop struct{}

func (Nop) Publish(Sample) error { return nil }
func (Nop) Close()               {}

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// MQTTPublisher publishes samples as JSON on one topic. Every sample from
// the same publisher carries the same session id.
type MQTTPublisher struct {
	client  mqttClient
	topic   string
	session string
	timeout time.Duration
	seq     atomic.Uint64
	log     zerolog.Logger
}

// DialMQTT connects to the broker.
func DialMQTT(cfg MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	cfg.Logger.Info().Str("broker", cfg.Broker).Str("topic", cfg.Topic).Msg("mqtt connected")
	return newMQTTPublisher(client, cfg), nil
}

func newMQTTPublisher(client mqttClient, cfg MQTTConfig) *MQTTPublisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPublishTimeout
	}
	return &MQTTPublisher{
		client:  client,
		topic:   cfg.Topic,
		session: uuid.NewString(),
		timeout: cfg.Timeout,
		log:     cfg.Logger,
	}
}

// Session returns the id stamped on every sample.
func (p *MQTTPublisher) Session() string {
	return p.session
}

// Publish sends s at QoS 0.
func (p *MQTTPublisher) Publish(s Sample) error {
	s.Session = p.session
	s.Seq = p.seq.Add(1)
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}

	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Close disconnects after letting in-flight messages drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
