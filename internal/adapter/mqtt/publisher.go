// Package mqtt bridges coil state to an MQTT broker: a publisher that
// mirrors each slave's polled state to retained topics, and a command
// listener that turns incoming set messages into coil writes.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/coilhub/internal/domain"
)

// Config holds MQTT client configuration.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	CleanSession   bool
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	BufferSize     int
	PublishTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "coilhub"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "coilhub"
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.BufferSize == 0 {
		c.BufferSize = 1000
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// statePayload is the JSON document published per slave.
type statePayload struct {
	Slave     uint8           `json:"slave"`
	Coils     map[string]bool `json:"coils"`
	Timestamp time.Time       `json:"timestamp"`
}

// stateMessage is one queued snapshot waiting to be published.
type stateMessage struct {
	slave  domain.SlaveID
	states domain.CoilState
}

// PublisherStats tracks publisher counters.
type PublisherStats struct {
	MessagesPublished atomic.Uint64
	MessagesFailed    atomic.Uint64
	MessagesDropped   atomic.Uint64
	BytesSent         atomic.Uint64
}

// Publisher mirrors coil state snapshots to retained MQTT topics, one
// topic per slave. It implements the hub's subscriber interface;
// OnCoilUpdate never blocks the poll loop, it only enqueues the
// snapshot for the background worker.
type Publisher struct {
	config    Config
	client    pahomqtt.Client
	logger    zerolog.Logger
	connected atomic.Bool
	queue     chan stateMessage
	done      chan struct{}
	wg        sync.WaitGroup
	stats     *PublisherStats
}

// NewPublisher creates a publisher. Call Connect before attaching it to
// the hub.
func NewPublisher(config Config, logger zerolog.Logger) *Publisher {
	config.applyDefaults()
	return &Publisher{
		config: config,
		logger: logger.With().Str("component", "mqtt-publisher").Logger(),
		queue:  make(chan stateMessage, config.BufferSize),
		done:   make(chan struct{}),
		stats:  &PublisherStats{},
	}
}

// Connect establishes the connection to the MQTT broker and starts the
// publish worker.
func (p *Publisher) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.config.BrokerURL)
	opts.SetClientID(p.config.ClientID)
	opts.SetCleanSession(p.config.CleanSession)
	opts.SetKeepAlive(p.config.KeepAlive)
	opts.SetConnectTimeout(p.config.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(p.config.ReconnectDelay)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	p.client = pahomqtt.NewClient(opts)

	p.logger.Info().Str("broker", p.config.BrokerURL).Msg("Connecting to MQTT broker")

	token := p.client.Connect()

	connectDone := make(chan bool, 1)
	go func() {
		connectDone <- token.WaitTimeout(p.config.ConnectTimeout)
	}()

	select {
	case success := <-connectDone:
		if !success {
			return fmt.Errorf("%w: connection timeout", domain.ErrMQTTConnectionFailed)
		}
		if token.Error() != nil {
			return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, token.Error())
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, ctx.Err())
	}

	p.connected.Store(true)

	p.wg.Add(1)
	go p.processQueue()

	p.logger.Info().Msg("Connected to MQTT broker")
	return nil
}

// Disconnect stops the publish worker and disconnects from the broker.
func (p *Publisher) Disconnect() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	p.wg.Wait()

	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(1000)
	}
	p.connected.Store(false)
	p.logger.Info().Msg("Disconnected from MQTT broker")
}

// OnCoilUpdate queues the snapshot for publishing. When the queue is
// full the oldest snapshot is dropped; a newer one for the same slave
// supersedes it anyway.
func (p *Publisher) OnCoilUpdate(slave domain.SlaveID, states domain.CoilState) {
	msg := stateMessage{slave: slave, states: states.Clone()}
	select {
	case p.queue <- msg:
	default:
		select {
		case <-p.queue:
			p.stats.MessagesDropped.Add(1)
		default:
		}
		select {
		case p.queue <- msg:
		default:
			p.stats.MessagesDropped.Add(1)
		}
	}
}

func (p *Publisher) processQueue() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.queue:
			if err := p.publishState(msg); err != nil {
				p.logger.Warn().Err(err).
					Uint8("slave", uint8(msg.slave)).
					Msg("Failed to publish coil state")
			}
		}
	}
}

// StateTopic returns the retained topic carrying a slave's snapshot.
func (p *Publisher) StateTopic(slave domain.SlaveID) string {
	return fmt.Sprintf("%s/slave/%d/state", p.config.TopicPrefix, slave)
}

func (p *Publisher) publishState(msg stateMessage) error {
	if !p.connected.Load() {
		return domain.ErrMQTTNotConnected
	}

	coils := make(map[string]bool, len(msg.states))
	for addr, value := range msg.states {
		coils[strconv.Itoa(int(addr))] = value
	}
	payload, err := json.Marshal(statePayload{
		Slave:     uint8(msg.slave),
		Coils:     coils,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize coil state: %w", err)
	}

	token := p.client.Publish(p.StateTopic(msg.slave), p.config.QoS, true, payload)
	if !token.WaitTimeout(p.config.PublishTimeout) {
		p.stats.MessagesFailed.Add(1)
		return fmt.Errorf("%w: publish timeout", domain.ErrMQTTPublishFailed)
	}
	if token.Error() != nil {
		p.stats.MessagesFailed.Add(1)
		return fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, token.Error())
	}

	p.stats.MessagesPublished.Add(1)
	p.stats.BytesSent.Add(uint64(len(payload)))
	return nil
}

func (p *Publisher) onConnect(pahomqtt.Client) {
	p.connected.Store(true)
	p.logger.Info().Msg("MQTT connection established")
}

func (p *Publisher) onConnectionLost(_ pahomqtt.Client, err error) {
	p.connected.Store(false)
	p.logger.Warn().Err(err).Msg("MQTT connection lost")
}

// IsConnected reports whether the broker connection is up.
func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

// QueueDepth returns the number of snapshots waiting to be published.
func (p *Publisher) QueueDepth() int {
	return len(p.queue)
}

// Client exposes the underlying paho client for the command listener.
func (p *Publisher) Client() pahomqtt.Client {
	return p.client
}

// HealthCheck verifies the broker connection is alive.
func (p *Publisher) HealthCheck(context.Context) error {
	if !p.connected.Load() {
		return domain.ErrMQTTNotConnected
	}
	return nil
}
