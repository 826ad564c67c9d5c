// Package notify publishes pipeline status changes to an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/esimov/irisview"
	"github.com/google/uuid"
)

// DefaultTopic is the topic prefix status messages are published under.
const DefaultTopic = "irisview"

var errNotConnected = errors.New("mqtt not connected")

// publisher is the part of the MQTT client used by the notifier.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes every relevant status change as JSON on
// <Topic>/<ClientID>/status. Frame rate changes alone are not published.
type MQTT struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Timeout  time.Duration
	Logger   *log.Logger

	client mqtt.Client
	pub    publisher

	mu        sync.Mutex
	last      *irisview.Status
	published uint64
	errors    uint64
}

// NewMQTT returns a notifier for the broker with a random client id.
func NewMQTT(broker string) *MQTT {
	return &MQTT{
		Broker:   broker,
		Topic:    DefaultTopic,
		ClientID: "irisview-" + uuid.New().String(),
		Timeout:  5 * time.Second,
		Logger:   log.New(io.Discard, "", 0),
	}
}

// Connect establishes the broker connection. The client reconnects on its own
// once connected.
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().AddBroker(brokerURL(m.Broker)).SetClientID(m.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(m.Timeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		m.Logger.Printf("connected to mqtt broker %s as %s", m.Broker, m.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.Logger.Printf("mqtt connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	m.mu.Lock()
	m.client, m.pub = client, client
	m.mu.Unlock()

	return nil
}

// Run publishes the statuses received on updates until the channel is
// closed or ctx is done.
func (m *MQTT) Run(ctx context.Context, updates <-chan irisview.Status) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-updates:
			if !ok {
				return nil
			}
			if err := m.Publish(s); err != nil {
				m.Logger.Printf("unable to publish status: %v", err)
			}
		}
	}
}

// Publish sends the status unless it only differs from the last published
// one by its frame rate.
func (m *MQTT) Publish(s irisview.Status) error {
	m.mu.Lock()
	pub, last := m.pub, m.last
	m.mu.Unlock()

	if pub == nil {
		m.fail()
		return errNotConnected
	}
	if last != nil && !Changed(*last, s) {
		return nil
	}

	payload, err := Payload(s)
	if err != nil {
		m.fail()
		return err
	}
	token := pub.Publish(StatusTopic(m.Topic, m.ClientID), m.QoS, true, payload)
	if !token.WaitTimeout(m.Timeout) {
		m.fail()
		return errors.New("mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		m.fail()
		return fmt.Errorf("mqtt publish failed: %w", err)
	}

	m.mu.Lock()
	m.last = &s
	m.published++
	m.mu.Unlock()

	return nil
}

// Stats returns the number of published messages and of failed attempts.
func (m *MQTT) Stats() (published, failed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.published, m.errors
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.client, m.pub = nil, nil
	return nil
}

func (m *MQTT) fail() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

// StatusTopic returns the topic of a client's status messages.
func StatusTopic(prefix, clientID string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopic
	}
	return fmt.Sprintf("%s/%s/status", prefix, clientID)
}

// Payload encodes the status message.
func Payload(s irisview.Status) ([]byte, error) {
	return json.Marshal(s)
}

// Changed reports whether next differs from prev by more than its frame rate.
func Changed(prev, next irisview.Status) bool {
	prev.FPS, next.FPS = 0, 0
	return prev != next
}

// brokerURL adds the tcp scheme to a bare host:port.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
