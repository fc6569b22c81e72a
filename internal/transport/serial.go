package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/grid-x/serial"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/coilhub/internal/domain"
)

// SerialConfig describes the serial line parameters.
type SerialConfig struct {
	// Device is the port path, e.g. /dev/ttyUSB0.
	Device string

	// BaudRate in bits per second, e.g. 9600.
	BaudRate int

	// DataBits per character: 5, 6, 7 or 8.
	DataBits int

	// Parity: "N", "E" or "O".
	Parity string

	// StopBits: 1 or 2.
	StopBits int
}

// Serial is the serial-line link variant. Unlike TCP, the port is
// opened once and kept open: opening a tty per exchange would reset
// line discipline and drop bytes. The port is reopened after an I/O
// failure.
//
// Exchange, HealthCheck and Close may be called from different
// goroutines; mu keeps the port handle and error state consistent.
type Serial struct {
	serialCfg SerialConfig
	config    Config
	logger    zerolog.Logger

	mu       sync.Mutex
	port     io.ReadWriteCloser
	inErr    bool
	openPort func() (io.ReadWriteCloser, error)
}

// NewSerial creates a serial transport. The port is opened lazily on
// the first exchange.
func NewSerial(serialCfg SerialConfig, config Config, logger zerolog.Logger) *Serial {
	config.applyDefaults()
	if serialCfg.BaudRate <= 0 {
		serialCfg.BaudRate = 9600
	}
	if serialCfg.DataBits == 0 {
		serialCfg.DataBits = 8
	}
	if serialCfg.Parity == "" {
		serialCfg.Parity = "N"
	}
	if serialCfg.StopBits == 0 {
		serialCfg.StopBits = 1
	}
	s := &Serial{
		serialCfg: serialCfg,
		config:    config,
		logger:    logger.With().Str("component", "serial-transport").Str("device", serialCfg.Device).Logger(),
	}
	s.openPort = func() (io.ReadWriteCloser, error) {
		return serial.Open(&serial.Config{
			Address:  serialCfg.Device,
			BaudRate: serialCfg.BaudRate,
			DataBits: serialCfg.DataBits,
			Parity:   serialCfg.Parity,
			StopBits: serialCfg.StopBits,
			Timeout:  config.ResponseTimeout,
		})
	}
	return s
}

// open ensures the port is open. Caller holds mu.
func (s *Serial) open() error {
	if s.port != nil {
		return nil
	}
	port, err := s.openPort()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectFailed, err)
	}
	s.port = port
	s.logger.Info().Int("baud", s.serialCfg.BaudRate).Msg("Serial port opened")
	return nil
}

// dropPort closes and forgets the port so the next exchange reopens
// it. Caller holds mu.
func (s *Serial) dropPort() {
	if s.port != nil {
		_ = s.port.Close()
		s.port = nil
	}
}

// Exchange writes frame to the port and reads one response of at least
// minLen bytes. Read timing is bounded by the port's configured
// timeout. A failed exchange drops the port so the next one starts
// from a clean open.
func (s *Serial) Exchange(ctx context.Context, frame []byte, minLen int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.open(); err != nil {
		s.noteError(err)
		return nil, err
	}

	if _, err := s.port.Write(frame); err != nil {
		s.noteError(err)
		s.dropPort()
		return nil, fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
	}

	buf := make([]byte, maxFrameSize)
	n, err := s.port.Read(buf)
	if err != nil {
		s.noteError(err)
		s.dropPort()
		return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	if n < minLen {
		s.noteError(fmt.Errorf("%d bytes", n))
		return nil, fmt.Errorf("%w: got %d bytes, want at least %d", domain.ErrShortResponse, n, minLen)
	}

	s.noteRecovery()
	return buf[:n], nil
}

// HealthCheck ensures the port can be opened.
func (s *Serial) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open()
}

// Close releases the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) noteError(err error) {
	if !s.inErr {
		s.inErr = true
		s.logger.Error().Err(err).Msg("Link error")
		return
	}
	s.logger.Debug().Err(err).Msg("Link still failing")
}

func (s *Serial) noteRecovery() {
	if s.inErr {
		s.inErr = false
		s.logger.Info().Msg("Link recovered")
	}
}
