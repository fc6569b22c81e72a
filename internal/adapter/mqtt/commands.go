package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/coilhub/internal/domain"
)

// CoilWriter is the write half of the hub, as the command listener
// sees it.
type CoilWriter interface {
	Write(ctx context.Context, slave domain.SlaveID, addr domain.Address, value bool) bool
}

// CommandConfig holds configuration for the command listener.
type CommandConfig struct {
	// TopicPrefix is the shared topic root; commands arrive on
	// <prefix>/slave/<id>/coil/<addr>/set.
	TopicPrefix string

	// WriteTimeout bounds each coil write.
	WriteTimeout time.Duration

	// QoS is the MQTT QoS level for command messages.
	QoS byte

	// EnableAcknowledgement publishes a result message per command.
	EnableAcknowledgement bool

	// QueueSize bounds the pending command queue; commands beyond it
	// are rejected.
	QueueSize int
}

func (c *CommandConfig) applyDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "coilhub"
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.QueueSize == 0 {
		c.QueueSize = 100
	}
}

// CommandStats tracks command handling counters.
type CommandStats struct {
	CommandsReceived  atomic.Uint64
	CommandsSucceeded atomic.Uint64
	CommandsFailed    atomic.Uint64
	CommandsRejected  atomic.Uint64
}

// writeCommand is one parsed set request.
type writeCommand struct {
	slave domain.SlaveID
	addr  domain.Address
	value bool
}

// writeResult is the acknowledgement payload.
type writeResult struct {
	Slave     uint8     `json:"slave"`
	Address   uint16    `json:"address"`
	Value     bool      `json:"value"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandListener subscribes to coil set topics and routes each command
// through the hub's write path. Commands run on a single worker so
// writes issued over MQTT keep their arrival order.
type CommandListener struct {
	client  pahomqtt.Client
	writer  CoilWriter
	config  CommandConfig
	logger  zerolog.Logger
	stats   *CommandStats
	queue   chan writeCommand
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCommandListener creates a command listener on an already-connected
// MQTT client.
func NewCommandListener(client pahomqtt.Client, writer CoilWriter, config CommandConfig, logger zerolog.Logger) *CommandListener {
	config.applyDefaults()
	return &CommandListener{
		client: client,
		writer: writer,
		config: config,
		logger: logger.With().Str("component", "mqtt-commands").Logger(),
		stats:  &CommandStats{},
		queue:  make(chan writeCommand, config.QueueSize),
	}
}

// SubscribedTopic returns the MQTT topic pattern the listener consumes.
func (l *CommandListener) SubscribedTopic() string {
	return fmt.Sprintf("%s/slave/+/coil/+/set", l.config.TopicPrefix)
}

// Start subscribes to the command topic and launches the write worker.
func (l *CommandListener) Start() error {
	if !l.running.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	topic := l.SubscribedTopic()
	token := l.client.Subscribe(topic, l.config.QoS, l.handleMessage)
	if !token.WaitTimeout(10 * time.Second) {
		l.running.Store(false)
		cancel()
		return fmt.Errorf("%w: subscribe timeout for %s", domain.ErrMQTTConnectionFailed, topic)
	}
	if token.Error() != nil {
		l.running.Store(false)
		cancel()
		return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, token.Error())
	}

	l.wg.Add(1)
	go l.processQueue(ctx)

	l.logger.Info().Str("topic", topic).Msg("Command listener started")
	return nil
}

// Stop unsubscribes and drains the worker.
func (l *CommandListener) Stop() {
	if !l.running.CompareAndSwap(true, false) {
		return
	}
	if l.client.IsConnected() {
		l.client.Unsubscribe(l.SubscribedTopic()).WaitTimeout(5 * time.Second)
	}
	l.cancel()
	l.wg.Wait()
	l.logger.Info().Msg("Command listener stopped")
}

func (l *CommandListener) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	l.stats.CommandsReceived.Add(1)

	cmd, err := l.parseCommand(msg.Topic(), msg.Payload())
	if err != nil {
		l.stats.CommandsRejected.Add(1)
		l.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Rejected coil command")
		return
	}

	select {
	case l.queue <- cmd:
	default:
		l.stats.CommandsRejected.Add(1)
		l.logger.Warn().
			Uint8("slave", uint8(cmd.slave)).
			Uint16("address", uint16(cmd.addr)).
			Msg("Command queue full, rejecting coil command")
	}
}

// parseCommand extracts slave and address from the topic and the
// desired value from the payload.
func (l *CommandListener) parseCommand(topic string, payload []byte) (writeCommand, error) {
	// <prefix>/slave/<id>/coil/<addr>/set; the prefix itself may
	// contain separators, so parse from the tail.
	parts := strings.Split(topic, "/")
	if len(parts) < 5 || parts[len(parts)-1] != "set" || parts[len(parts)-3] != "coil" {
		return writeCommand{}, fmt.Errorf("unrecognized command topic %q", topic)
	}

	slaveRaw := parts[len(parts)-4]
	addrRaw := parts[len(parts)-2]

	slave, err := strconv.ParseUint(slaveRaw, 10, 8)
	if err != nil || !domain.ValidSlaveID(domain.SlaveID(slave)) {
		return writeCommand{}, fmt.Errorf("invalid slave id %q", slaveRaw)
	}
	addr, err := strconv.ParseUint(addrRaw, 10, 16)
	if err != nil || addr > uint64(domain.MaxAddress) {
		return writeCommand{}, fmt.Errorf("invalid coil address %q", addrRaw)
	}

	value, err := parseValue(payload)
	if err != nil {
		return writeCommand{}, err
	}

	return writeCommand{
		slave: domain.SlaveID(slave),
		addr:  domain.Address(addr),
		value: value,
	}, nil
}

// parseValue accepts the usual boolean spellings: true/false, 1/0,
// on/off, case-insensitive.
func parseValue(payload []byte) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "true", "1", "on":
		return true, nil
	case "false", "0", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid coil value %q", payload)
}

func (l *CommandListener) processQueue(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-l.queue:
			l.execute(ctx, cmd)
		}
	}
}

func (l *CommandListener) execute(ctx context.Context, cmd writeCommand) {
	writeCtx, cancel := context.WithTimeout(ctx, l.config.WriteTimeout)
	ok := l.writer.Write(writeCtx, cmd.slave, cmd.addr, cmd.value)
	cancel()

	if ok {
		l.stats.CommandsSucceeded.Add(1)
	} else {
		l.stats.CommandsFailed.Add(1)
	}

	l.logger.Debug().
		Uint8("slave", uint8(cmd.slave)).
		Uint16("address", uint16(cmd.addr)).
		Bool("value", cmd.value).
		Bool("success", ok).
		Msg("Processed coil command")

	if l.config.EnableAcknowledgement {
		l.sendResult(cmd, ok)
	}
}

func (l *CommandListener) sendResult(cmd writeCommand, success bool) {
	topic := fmt.Sprintf("%s/slave/%d/coil/%d/result", l.config.TopicPrefix, cmd.slave, cmd.addr)
	payload, err := json.Marshal(writeResult{
		Slave:     uint8(cmd.slave),
		Address:   uint16(cmd.addr),
		Value:     cmd.value,
		Success:   success,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	token := l.client.Publish(topic, l.config.QoS, false, payload)
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		l.logger.Warn().Str("topic", topic).Msg("Failed to publish command result")
	}
}

// Stats returns the command counters.
func (l *CommandListener) Stats() map[string]uint64 {
	return map[string]uint64{
		"commands_received":  l.stats.CommandsReceived.Load(),
		"commands_succeeded": l.stats.CommandsSucceeded.Load(),
		"commands_failed":    l.stats.CommandsFailed.Load(),
		"commands_rejected":  l.stats.CommandsRejected.Load(),
	}
}
