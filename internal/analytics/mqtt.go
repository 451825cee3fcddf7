package analytics

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/prethora/glowly"
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	// Broker is host:port, or a full URL such as ssl://host:8883.
	Broker   string
	ClientID string

	// TopicPrefix is prepended to the event name: <prefix>/<name>.
	TopicPrefix string
	QoS         byte

	// Buffer is how many events may wait for delivery before new ones
	// are dropped.
	Buffer int

	PublishTimeout time.Duration
}

func (c *MQTTConfig) setDefaults() {
	if c.ClientID == "" {
		c.ClientID = "glowly"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "glowly/events"
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
}

// publisher is the part of an MQTT client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, payload []byte) error
	Disconnect()
}

// pahoPublisher adapts a paho client.
type pahoPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func (p *pahoPublisher) Publish(topic string, qos byte, payload []byte) error {
	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return errors.New("publish timeout")
	}
	return token.Error()
}

func (p *pahoPublisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// MQTTStats counts sink activity.
type MQTTStats struct {
	Published int64
	Dropped   int64
	Errors    int64
}

// MQTTSink publishes events to an MQTT broker from a single background
// goroutine. When the queue is full new events are dropped.
type MQTTSink struct {
	cfg    MQTTConfig
	pub    publisher
	logger glowly.Logger

	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64
}

var _ glowly.AnalyticsSink = (*MQTTSink)(nil)

// DialMQTT connects to the broker and starts the delivery goroutine. The
// paho client reconnects on its own after the initial connection.
func DialMQTT(cfg MQTTConfig, logger glowly.Logger) (*MQTTSink, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = discard{}
	}

	broker := cfg.Broker
	if !hasScheme(broker) {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return newMQTTSink(&pahoPublisher{client: client, timeout: cfg.PublishTimeout}, cfg, logger), nil
}

func newMQTTSink(pub publisher, cfg MQTTConfig, logger glowly.Logger) *MQTTSink {
	cfg.setDefaults()
	if logger == nil {
		logger = discard{}
	}
	s := &MQTTSink{
		cfg:    cfg,
		pub:    pub,
		logger: logger,
		queue:  make(chan Event, cfg.Buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// RecordEvent queues the event for delivery.
func (s *MQTTSink) RecordEvent(name string, props map[string]any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}

	select {
	case s.queue <- NewEvent(name, props):
	default:
		s.dropped.Add(1)
	}
}

func (s *MQTTSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		payload, err := ev.Marshal()
		if err != nil {
			s.errors.Add(1)
			s.logger.Warn("encoding analytics event", "event", ev.Name, "error", err)
			continue
		}
		topic := s.cfg.TopicPrefix + "/" + ev.Name
		if err := s.pub.Publish(topic, s.cfg.QoS, payload); err != nil {
			s.errors.Add(1)
			s.logger.Debug("analytics publish failed", "topic", topic, "error", err)
			continue
		}
		s.published.Add(1)
	}
}

// Stats returns delivery counters.
func (s *MQTTSink) Stats() MQTTStats {
	return MQTTStats{
		Published: s.published.Load(),
		Dropped:   s.dropped.Load(),
		Errors:    s.errors.Load(),
	}
}

// Close stops accepting events, delivers what is queued and disconnects.
// Safe to call more than once.
func (s *MQTTSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	s.pub.Disconnect()
	return nil
}

func hasScheme(broker string) bool {
	for _, p := range []string{"tcp://", "ssl://", "tls://", "ws://", "wss://", "mqtt://", "mqtts://"} {
		if strings.HasPrefix(broker, p) {
			return true
		}
	}
	return false
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
