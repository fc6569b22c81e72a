package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/coilhub/internal/domain"
)

// TCP is the TCP link variant. It opens a fresh connection for every
// exchange: each request pays a connect/close cost, which trades
// throughput for robustness against half-dead sockets on flaky field
// networks. There is no connection state to leak or resynchronize.
type TCP struct {
	addr   string
	config Config
	logger zerolog.Logger
	inErr  bool
}

// NewTCP creates a TCP transport for host:port.
func NewTCP(addr string, config Config, logger zerolog.Logger) *TCP {
	config.applyDefaults()
	return &TCP{
		addr:   addr,
		config: config,
		logger: logger.With().Str("component", "tcp-transport").Str("addr", addr).Logger(),
	}
}

// Exchange dials the endpoint, writes frame and reads one response of
// at least minLen bytes. The connection is closed on every exit path.
func (t *TCP) Exchange(ctx context.Context, frame []byte, minLen int) ([]byte, error) {
	dialer := net.Dialer{Timeout: t.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		t.noteError(err)
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectFailed, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(t.config.ResponseTimeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.noteError(err)
		return nil, fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(t.config.ResponseTimeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	buf := make([]byte, maxFrameSize)
	n, err := conn.Read(buf)
	if err != nil {
		t.noteError(err)
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, fmt.Errorf("%w after %s", domain.ErrTimeout, t.config.ResponseTimeout)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	if n < minLen {
		t.noteError(fmt.Errorf("%d bytes", n))
		return nil, fmt.Errorf("%w: got %d bytes, want at least %d", domain.ErrShortResponse, n, minLen)
	}

	t.noteRecovery()
	return buf[:n], nil
}

// HealthCheck dials the endpoint and closes the connection.
func (t *TCP) HealthCheck(ctx context.Context) error {
	dialer := net.Dialer{Timeout: t.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectFailed, err)
	}
	return conn.Close()
}

// Close is a no-op: no connection outlives an exchange.
func (t *TCP) Close() error {
	return nil
}

// noteError logs the first failure after a healthy stretch. Repeated
// failures only log at debug so a dead endpoint does not flood the log
// once per poll cycle.
func (t *TCP) noteError(err error) {
	if !t.inErr {
		t.inErr = true
		t.logger.Error().Err(err).Msg("Link error")
		return
	}
	t.logger.Debug().Err(err).Msg("Link still failing")
}

func (t *TCP) noteRecovery() {
	if t.inErr {
		t.inErr = false
		t.logger.Info().Msg("Link recovered")
	}
}
