// Package transport provides bounded-time request/response exchange
// over one physical link: TCP (fresh connection per exchange) or a
// serial line. All variants expose the same interface so the link kind
// is purely a configuration concern.
package transport

import (
	"context"
	"time"
)

// MinResponseLength is the fewest bytes a response must carry before it
// can even be checksum-verified.
const MinResponseLength = 3

// maxFrameSize bounds a single read. RTU frames never exceed 256 bytes.
const maxFrameSize = 256

// Transport exchanges one request frame for one response frame on the
// physical link. Implementations are not required to be safe for
// concurrent use; the hub serializes all exchanges behind its wire
// gate.
type Transport interface {
	// Exchange writes frame, waits for at least minLen response bytes
	// and returns them. Every exit path releases whatever connection
	// state the exchange acquired.
	Exchange(ctx context.Context, frame []byte, minLen int) ([]byte, error)

	// HealthCheck verifies the endpoint is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the link.
	Close() error
}

// Config holds the timeouts shared by all link kinds.
type Config struct {
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// ResponseTimeout bounds the wait for response bytes after a
	// request has been written.
	ResponseTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 3 * time.Second
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 3 * time.Second
	}
}
