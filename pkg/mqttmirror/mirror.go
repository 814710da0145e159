// Package mqttmirror mirrors the device stream onto an MQTT broker.
//
// Device chunks are published to "<prefix>/rx". Messages received on
// "<prefix>/tx" are written to the device unchanged. The mirror is one more
// client of the bridge, next to the WebSocket and TCP registries.
package mqttmirror

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/usbnetserver/bridge/pkg/upstream"
)

// Defaults.
const (
	DefaultPrefix         = "usbnet"
	DefaultConnectTimeout = 10 * time.Second
	disconnectQuiesce     = 250 // ms
)

// Config configures a Mirror.
type Config struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	// Required unless Client is set.
	Broker string

	// ClientID defaults to "usbnet-bridge-<random>".
	ClientID string

	// Username and Password are optional broker credentials.
	Username string
	Password string

	// Prefix is the topic prefix (default: "usbnet").
	Prefix string

	// QoS for publish and subscribe (0, 1 or 2).
	QoS byte

	// Device receives the payload of every tx message. Required.
	Device upstream.Sink

	// ConnectTimeout bounds Start (default: 10s).
	ConnectTimeout time.Duration

	// Client overrides the paho client built from the fields above.
	Client mqtt.Client

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Mirror publishes device chunks and relays tx messages to the device.
type Mirror struct {
	client  mqtt.Client
	owned   bool
	device  upstream.Sink
	rx      string
	tx      string
	qos     byte
	timeout time.Duration
	log     logging.LeveledLogger

	mu      sync.Mutex
	started bool
}

// New creates a Mirror. It does not connect until Start.
func New(config Config) (*Mirror, error) {
	if config.Device == nil {
		return nil, ErrNoDevice
	}
	if config.Client == nil && config.Broker == "" {
		return nil, ErrNoBroker
	}
	if config.QoS > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, config.QoS)
	}
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.ClientID == "" {
		config.ClientID = "usbnet-bridge-" + uuid.NewString()[:8]
	}

	m := &Mirror{
		device:  config.Device,
		rx:      config.Prefix + "/rx",
		tx:      config.Prefix + "/tx",
		qos:     config.QoS,
		timeout: config.ConnectTimeout,
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("mqtt")
	}

	m.client = config.Client
	if m.client == nil {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(config.Broker)
		opts.SetClientID(config.ClientID)
		if config.Username != "" {
			opts.SetUsername(config.Username)
			opts.SetPassword(config.Password)
		}
		opts.SetAutoReconnect(true)
		opts.SetConnectTimeout(config.ConnectTimeout)
		// Subscriptions are renewed on every (re)connect.
		opts.SetOnConnectHandler(func(c mqtt.Client) {
			if err := m.subscribe(); err != nil && m.log != nil {
				m.log.Warnf("subscribe %s: %v", m.tx, err)
			}
		})
		opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
			if m.log != nil {
				m.log.Warnf("broker connection lost: %v", err)
			}
		})
		m.client = mqtt.NewClient(opts)
		m.owned = true
	}
	return m, nil
}

// Start connects to the broker and subscribes to the tx topic.
func (m *Mirror) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}

	tok := m.client.Connect()
	if !tok.WaitTimeout(m.timeout) {
		return ErrTimeout
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	if !m.owned {
		if err := m.subscribe(); err != nil {
			m.client.Disconnect(disconnectQuiesce)
			return err
		}
	}

	m.started = true
	if m.log != nil {
		m.log.Infof("mirroring device on %s and %s", m.rx, m.tx)
	}
	return nil
}

func (m *Mirror) subscribe() error {
	tok := m.client.Subscribe(m.tx, m.qos, func(_ mqtt.Client, msg mqtt.Message) {
		m.deliver(msg.Payload())
	})
	if !tok.WaitTimeout(m.timeout) {
		return ErrTimeout
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrSubscribe, err)
	}
	return nil
}

func (m *Mirror) deliver(p []byte) {
	if len(p) == 0 {
		return
	}
	if _, err := m.device.Write(p); err != nil && m.log != nil {
		m.log.Warnf("tx message dropped: %v", err)
	}
}

// Publish sends a device chunk to the rx topic. It does not wait for the
// broker; delivery errors are logged.
func (m *Mirror) Publish(p []byte) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	tok := m.client.Publish(m.rx, m.qos, false, append([]byte(nil), p...))
	go func() {
		if tok.WaitTimeout(m.timeout) && tok.Error() != nil && m.log != nil {
			m.log.Warnf("publish %s: %v", m.rx, tok.Error())
		}
	}()
	return nil
}

// Stop disconnects from the broker.
func (m *Mirror) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	m.client.Disconnect(disconnectQuiesce)
}

// RxTopic returns the topic device chunks are published to.
func (m *Mirror) RxTopic() string { return m.rx }

// TxTopic returns the topic relayed to the device.
func (m *Mirror) TxTopic() string { return m.tx }
