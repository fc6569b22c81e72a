package transport

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/nexus-edge/coilhub/internal/domain"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func (c *BreakerConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "coil-link"
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
}

// Breaker decorates a Transport with a circuit breaker. When the
// endpoint keeps failing, exchanges fail fast with ErrBreakerOpen
// instead of paying the full connect timeout every poll cycle; the hub
// treats that as a skipped poll. After the breaker's timeout a probe
// exchange is let through.
type Breaker struct {
	inner Transport
	cb    *gobreaker.CircuitBreaker
}

// NewBreaker wraps inner with a circuit breaker.
func NewBreaker(inner Transport, config BreakerConfig, logger zerolog.Logger) *Breaker {
	config.applyDefaults()
	log := logger.With().Str("component", "transport-breaker").Logger()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Transport circuit breaker state changed")
		},
	})
	return &Breaker{inner: inner, cb: cb}
}

// Exchange runs the inner exchange through the breaker.
func (b *Breaker) Exchange(ctx context.Context, frame []byte, minLen int) ([]byte, error) {
	resp, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Exchange(ctx, frame, minLen)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.ErrBreakerOpen
		}
		return nil, err
	}
	return resp.([]byte), nil
}

// HealthCheck bypasses the breaker so health probes keep reporting the
// real endpoint state while the breaker is open.
func (b *Breaker) HealthCheck(ctx context.Context) error {
	return b.inner.HealthCheck(ctx)
}

// Close closes the inner transport.
func (b *Breaker) Close() error {
	return b.inner.Close()
}
