package hub

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/coilhub/internal/domain"
	"github.com/nexus-edge/coilhub/internal/metrics"
	"github.com/nexus-edge/coilhub/internal/protocol"
	"github.com/nexus-edge/coilhub/internal/transport"
)

// Config holds hub configuration.
type Config struct {
	// ScanInterval is the wall-clock period between poll cycles.
	ScanInterval time.Duration

	// InterSlaveDelay is an optional pause between slaves within one
	// cycle, to throttle bus load.
	InterSlaveDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = time.Second
	}
}

// Stats tracks hub counters.
type Stats struct {
	PollsTotal    atomic.Uint64
	PollsSuccess  atomic.Uint64
	PollsFailed   atomic.Uint64
	PollsSkipped  atomic.Uint64
	WritesTotal   atomic.Uint64
	WritesFailed  atomic.Uint64
	CoilsRead     atomic.Uint64
	Notifications atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the hub counters.
type StatsSnapshot struct {
	PollsTotal    uint64 `json:"polls_total"`
	PollsSuccess  uint64 `json:"polls_success"`
	PollsFailed   uint64 `json:"polls_failed"`
	PollsSkipped  uint64 `json:"polls_skipped"`
	WritesTotal   uint64 `json:"writes_total"`
	WritesFailed  uint64 `json:"writes_failed"`
	CoilsRead     uint64 `json:"coils_read"`
	Notifications uint64 `json:"notifications"`
}

// Hub owns the transport, the address registry, the state cache and
// the polling scheduler. Every frame exchange, whether a poll read or
// an on-demand write, runs under the single wire gate: no two frames
// are ever in flight on the link at once, and whichever request
// acquires the gate first completes fully before the next begins.
type Hub struct {
	config    Config
	transport transport.Transport
	registry  *Registry
	cache     *StateCache
	logger    zerolog.Logger
	metrics   *metrics.Registry

	gate sync.Mutex // wire gate: one transaction on the link at a time

	subMu       sync.Mutex
	subscribers []domain.Subscriber

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stats   *Stats
}

// New creates a hub around the given transport.
func New(config Config, tr transport.Transport, logger zerolog.Logger, metricsReg *metrics.Registry) *Hub {
	config.applyDefaults()
	return &Hub{
		config:    config,
		transport: tr,
		registry:  NewRegistry(),
		cache:     NewStateCache(),
		logger:    logger.With().Str("component", "hub").Logger(),
		metrics:   metricsReg,
		stats:     &Stats{},
	}
}

// Register adds coil addresses to the slave's poll set. Safe to call
// repeatedly, also while the hub is running; the slave's window only
// ever grows.
func (h *Hub) Register(slave domain.SlaveID, addrs []domain.Address) error {
	if err := h.registry.Register(slave, addrs); err != nil {
		return err
	}
	h.logger.Debug().
		Uint8("slave", uint8(slave)).
		Int("addresses", len(addrs)).
		Msg("Registered coils for polling")
	return nil
}

// AddSubscriber appends a subscriber. Subscribers are invoked in
// registration order after every successful poll; they must treat the
// state map as read-only.
func (h *Hub) AddSubscriber(sub domain.Subscriber) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.subscribers = append(h.subscribers, sub)
}

// Slaves returns the registered slaves in registration order.
func (h *Hub) Slaves() []domain.SlaveID {
	return h.registry.Slaves()
}

// Window returns the slave's current poll window.
func (h *Hub) Window(slave domain.SlaveID) (domain.PollWindow, bool) {
	return h.registry.Window(slave)
}

// CurrentState returns a copy of the slave's last known coil state,
// possibly empty. Late-joining subscribers read this at attach time.
func (h *Hub) CurrentState(slave domain.SlaveID) domain.CoilState {
	return h.cache.Get(slave)
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() StatsSnapshot {
	return StatsSnapshot{
		PollsTotal:    h.stats.PollsTotal.Load(),
		PollsSuccess:  h.stats.PollsSuccess.Load(),
		PollsFailed:   h.stats.PollsFailed.Load(),
		PollsSkipped:  h.stats.PollsSkipped.Load(),
		WritesTotal:   h.stats.WritesTotal.Load(),
		WritesFailed:  h.stats.WritesFailed.Load(),
		CoilsRead:     h.stats.CoilsRead.Load(),
		Notifications: h.stats.Notifications.Load(),
	}
}

// HealthCheck reports whether the link endpoint is reachable.
func (h *Hub) HealthCheck(ctx context.Context) error {
	return h.transport.HealthCheck(ctx)
}

// Start launches the polling scheduler.
func (h *Hub) Start(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.logger.Info().
		Dur("scan_interval", h.config.ScanInterval).
		Int("slaves", len(h.registry.Slaves())).
		Msg("Starting polling scheduler")

	h.wg.Add(1)
	go h.run(runCtx)
	return nil
}

// Stop cancels the poll timer, waits for any in-flight transaction to
// finish (aborting mid-write could leave device state undefined) and
// closes the transport. ctx bounds the wait.
func (h *Hub) Stop(ctx context.Context) error {
	if !h.started.CompareAndSwap(true, false) {
		return nil
	}
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("Polling scheduler stopped")
	case <-ctx.Done():
		h.logger.Warn().Msg("Timeout waiting for scheduler to stop")
	}

	return h.transport.Close()
}

// run is the scheduler loop: a single goroutine woken by a periodic
// ticker. Ticks never overlap because the same goroutine executes them
// to completion; timer jitter cannot interleave frames.
func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.ScanInterval)
	defer ticker.Stop()

	// Initial cycle before the first tick so state is available
	// immediately after start.
	h.pollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pollAll(ctx)
		}
	}
}

// pollAll visits every registered slave in registration order. A
// failure in one slave's poll never prevents the remaining slaves from
// being polled in the same cycle.
func (h *Hub) pollAll(ctx context.Context) {
	slaves := h.registry.Slaves()
	for i, slave := range slaves {
		if ctx.Err() != nil {
			return
		}
		h.pollSlave(ctx, slave)

		if h.config.InterSlaveDelay > 0 && i < len(slaves)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(h.config.InterSlaveDelay):
			}
		}
	}
}

// pollSlave performs one read transaction for one slave: encode the
// window read, exchange under the wire gate, decode, replace the cached
// state and fan out to subscribers. On any failure the slave's cached
// state is left untouched and subscribers are not called.
func (h *Hub) pollSlave(ctx context.Context, slave domain.SlaveID) {
	window, ok := h.registry.Window(slave)
	if !ok {
		return
	}

	h.stats.PollsTotal.Add(1)
	slaveLabel := strconv.Itoa(int(slave))

	frame, err := protocol.EncodeReadCoils(slave, window)
	if err != nil {
		// Register rejects windows the one-byte count cannot carry, so
		// this only trips if the codec and registry bounds diverge.
		h.stats.PollsFailed.Add(1)
		h.logger.Error().Err(err).Uint8("slave", uint8(slave)).Msg("Failed to encode read request")
		return
	}

	start := time.Now()
	h.gate.Lock()
	resp, err := h.transport.Exchange(ctx, frame, transport.MinResponseLength)
	h.gate.Unlock()
	duration := time.Since(start)
	if h.metrics != nil {
		h.metrics.RecordExchange(duration.Seconds())
	}

	if err != nil {
		if errors.Is(err, domain.ErrBreakerOpen) {
			h.stats.PollsSkipped.Add(1)
			if h.metrics != nil {
				h.metrics.RecordPollSkipped()
			}
			h.logger.Debug().Uint8("slave", uint8(slave)).Msg("Poll skipped: circuit breaker open")
			return
		}
		h.stats.PollsFailed.Add(1)
		if h.metrics != nil {
			h.metrics.RecordPollError(slaveLabel, errorType(err))
		}
		h.logger.Warn().Err(err).Uint8("slave", uint8(slave)).Msg("Poll failed, keeping cached state")
		return
	}

	states, err := protocol.DecodeReadCoils(resp, window)
	if err != nil {
		h.stats.PollsFailed.Add(1)
		if h.metrics != nil {
			h.metrics.RecordPollError(slaveLabel, errorType(err))
		}
		h.logger.Warn().Err(err).Uint8("slave", uint8(slave)).Msg("Response rejected, keeping cached state")
		return
	}

	changes := h.cache.ReplaceAll(slave, states)
	h.stats.PollsSuccess.Add(1)
	h.stats.CoilsRead.Add(uint64(len(states)))
	if h.metrics != nil {
		h.metrics.RecordPollSuccess(slaveLabel, duration.Seconds(), len(states), changes)
	}

	h.notify(slave, states)

	h.logger.Debug().
		Uint8("slave", uint8(slave)).
		Int("coils", len(states)).
		Int("changes", changes).
		Dur("duration", duration).
		Msg("Poll cycle completed")
}

// notify invokes every subscriber with the full window of states,
// synchronously and in registration order, before the scheduler moves
// on to the next slave.
func (h *Hub) notify(slave domain.SlaveID, states domain.CoilState) {
	h.subMu.Lock()
	subs := make([]domain.Subscriber, len(h.subscribers))
	copy(subs, h.subscribers)
	h.subMu.Unlock()

	for _, sub := range subs {
		sub.OnCoilUpdate(slave, states)
	}
	h.stats.Notifications.Add(uint64(len(subs)))
	if h.metrics != nil {
		h.metrics.RecordNotifications(len(subs))
	}
}

// Write flips a single coil on a remote slave. The exchange runs under
// the same wire gate as polling, so a write and a poll never share the
// link. On verified success the cached state is patched optimistically
// when the slave already has an entry; slaves never polled get no
// entry. Failures are reported as false, never retried here.
func (h *Hub) Write(ctx context.Context, slave domain.SlaveID, addr domain.Address, value bool) bool {
	h.stats.WritesTotal.Add(1)
	slaveLabel := strconv.Itoa(int(slave))

	err := h.writeCoil(ctx, slave, addr, value)
	if err != nil {
		h.stats.WritesFailed.Add(1)
		if h.metrics != nil {
			h.metrics.RecordWrite(slaveLabel, false)
		}
		h.logger.Warn().Err(err).
			Uint8("slave", uint8(slave)).
			Uint16("address", uint16(addr)).
			Bool("value", value).
			Msg("Write coil failed")
		return false
	}

	h.cache.Patch(slave, addr, value)
	if h.metrics != nil {
		h.metrics.RecordWrite(slaveLabel, true)
	}
	h.logger.Debug().
		Uint8("slave", uint8(slave)).
		Uint16("address", uint16(addr)).
		Bool("value", value).
		Msg("Write coil succeeded")
	return true
}

func (h *Hub) writeCoil(ctx context.Context, slave domain.SlaveID, addr domain.Address, value bool) error {
	frame, err := protocol.EncodeWriteSingleCoil(slave, addr, value)
	if err != nil {
		return err
	}

	start := time.Now()
	h.gate.Lock()
	resp, err := h.transport.Exchange(ctx, frame, transport.MinResponseLength)
	h.gate.Unlock()
	if h.metrics != nil {
		h.metrics.RecordExchange(time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}

	return protocol.DecodeWriteSingleCoil(resp)
}

// errorType maps an exchange or codec error to a metrics label.
func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrConnectFailed):
		return "connect_failed"
	case errors.Is(err, domain.ErrWriteFailed):
		return "write_failed"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrShortResponse):
		return "short_response"
	case errors.Is(err, domain.ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, domain.ErrFrameTooShort):
		return "frame_too_short"
	case errors.Is(err, domain.ErrUnexpectedFunctionCode):
		return "unexpected_function_code"
	case errors.Is(err, domain.ErrByteCountMismatch):
		return "byte_count_mismatch"
	default:
		return "other"
	}
}
