package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/coilhub/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, LinkTCP, cfg.Link.Kind)
	assert.Equal(t, 502, cfg.Link.Port)
	assert.Equal(t, time.Second, cfg.Polling.ScanInterval)
	assert.Equal(t, time.Duration(0), cfg.Polling.InterSlaveDelay)
	assert.Equal(t, 3*time.Second, cfg.Link.ConnectTimeout)
	assert.Equal(t, 3*time.Second, cfg.Link.ResponseTimeout)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COILHUB_LINK_HOST", "10.0.0.5")
	t.Setenv("COILHUB_LINK_PORT", "8899")
	t.Setenv("COILHUB_POLLING_SCAN_INTERVAL", "5s")
	t.Setenv("COILHUB_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.Link.Host)
	assert.Equal(t, 8899, cfg.Link.Port)
	assert.Equal(t, 5*time.Second, cfg.Polling.ScanInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func validSerialLink() LinkConfig {
	return LinkConfig{
		Kind:     LinkSerial,
		Device:   "/dev/ttyUSB0",
		BaudRate: 9600,
		DataBits: 8,
		Parity:   "N",
		StopBits: 1,
	}
}

func validConfig() *Config {
	return &Config{
		Link: LinkConfig{
			Kind: LinkTCP,
			Host: "localhost",
			Port: 502,
		},
		HTTP: HTTPConfig{Port: 8080},
		Polling: PollingConfig{
			ScanInterval: time.Second,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
		wantIs  error
	}{
		{
			name:   "valid tcp config",
			mutate: func(*Config) {},
		},
		{
			name: "valid serial config",
			mutate: func(c *Config) {
				c.Link = validSerialLink()
			},
		},
		{
			name:    "unknown link kind",
			mutate:  func(c *Config) { c.Link.Kind = "udp" },
			wantErr: "unsupported link kind",
			wantIs:  domain.ErrUnsupportedLinkKind,
		},
		{
			name:    "tcp without host",
			mutate:  func(c *Config) { c.Link.Host = "" },
			wantErr: "link host is required",
		},
		{
			name: "serial without device",
			mutate: func(c *Config) {
				c.Link = validSerialLink()
				c.Link.Device = ""
			},
			wantErr: "link device is required",
		},
		{
			name: "serial data bits out of range",
			mutate: func(c *Config) {
				c.Link = validSerialLink()
				c.Link.DataBits = 9
			},
			wantErr: "invalid data bits",
		},
		{
			name: "serial unknown parity",
			mutate: func(c *Config) {
				c.Link = validSerialLink()
				c.Link.Parity = "M"
			},
			wantErr: "invalid parity",
		},
		{
			name: "serial bad stop bits",
			mutate: func(c *Config) {
				c.Link = validSerialLink()
				c.Link.StopBits = 3
			},
			wantErr: "invalid stop bits",
		},
		{
			name:    "scan interval too fast",
			mutate:  func(c *Config) { c.Polling.ScanInterval = 100 * time.Millisecond },
			wantErr: "scan interval",
			wantIs:  domain.ErrInvalidScanInterval,
		},
		{
			name:    "scan interval too slow",
			mutate:  func(c *Config) { c.Polling.ScanInterval = 2 * time.Minute },
			wantErr: "scan interval",
			wantIs:  domain.ErrInvalidScanInterval,
		},
		{
			name: "mqtt enabled without broker",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.BrokerURL = ""
			},
			wantErr: "broker URL is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}
