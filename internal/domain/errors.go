package domain

import "errors"

// Transport errors.
var (
	ErrConnectFailed = errors.New("transport: connect failed")
	ErrWriteFailed   = errors.New("transport: write failed")
	ErrTimeout       = errors.New("transport: response timeout")
	ErrShortResponse = errors.New("transport: short response")
	ErrBreakerOpen   = errors.New("transport: circuit breaker is open")
)

// Frame codec errors.
var (
	ErrChecksumMismatch       = errors.New("frame: checksum mismatch")
	ErrFrameTooShort          = errors.New("frame: too short")
	ErrUnexpectedFunctionCode = errors.New("frame: unexpected function code")
	ErrByteCountMismatch      = errors.New("frame: byte count mismatch")
)

// Configuration errors, fatal at construction.
var (
	ErrUnsupportedLinkKind = errors.New("config: unsupported link kind")
	ErrInvalidScanInterval = errors.New("config: scan interval out of range")
	ErrInvalidSlaveID      = errors.New("invalid slave ID")
	ErrInvalidAddress      = errors.New("coil address exceeds one-byte range")
	ErrWindowTooWide       = errors.New("poll window too wide for one-byte count")
)

// MQTT errors.
var (
	ErrMQTTConnectionFailed = errors.New("mqtt: connection failed")
	ErrMQTTNotConnected     = errors.New("mqtt: not connected")
	ErrMQTTPublishFailed    = errors.New("mqtt: publish failed")
)
