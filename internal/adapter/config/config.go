// Package config provides configuration management for coilhub.
// It supports environment variables, config files (YAML/JSON), and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nexus-edge/coilhub/internal/domain"
)

// Link kinds.
const (
	LinkTCP    = "tcp"
	LinkSerial = "serial"
)

// Scan interval bounds. Devices in the field misbehave when hammered
// faster than 1 Hz, and anything slower than a minute makes the cached
// state useless for switching.
const (
	MinScanInterval = 1 * time.Second
	MaxScanInterval = 60 * time.Second
)

// Config holds all configuration for coilhub.
type Config struct {
	// Environment is the deployment environment (development, staging, production)
	Environment string `mapstructure:"environment"`

	// SlavesConfigPath is the path to the slave definitions file
	SlavesConfigPath string `mapstructure:"slaves_config_path"`

	// HTTP server configuration (health, status, metrics)
	HTTP HTTPConfig `mapstructure:"http"`

	// Link configuration (the bus the slaves hang off)
	Link LinkConfig `mapstructure:"link"`

	// Polling configuration
	Polling PollingConfig `mapstructure:"polling"`

	// MQTT configuration
	MQTT MQTTConfig `mapstructure:"mqtt"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LinkConfig describes the physical or emulated bus carrying the
// frames. Kind selects between a TCP-attached adapter and a local
// serial port; the unused fields of the other kind are ignored.
type LinkConfig struct {
	Kind string `mapstructure:"kind"`

	// TCP link
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// Serial link
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stop_bits"`

	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`

	// Circuit breaker configuration
	CBEnabled          bool          `mapstructure:"cb_enabled"`
	CBMaxRequests      uint32        `mapstructure:"cb_max_requests"`
	CBInterval         time.Duration `mapstructure:"cb_interval"`
	CBTimeout          time.Duration `mapstructure:"cb_timeout"`
	CBFailureThreshold uint32        `mapstructure:"cb_failure_threshold"`
}

// PollingConfig holds polling scheduler configuration.
type PollingConfig struct {
	ScanInterval    time.Duration `mapstructure:"scan_interval"`
	InterSlaveDelay time.Duration `mapstructure:"inter_slave_delay"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MQTTConfig holds MQTT client configuration.
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	CleanSession   bool          `mapstructure:"clean_session"`
	QoS            byte          `mapstructure:"qos"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	BufferSize     int           `mapstructure:"buffer_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	TimeFormat string `mapstructure:"time_format"`
}

// Load loads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file search paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/coilhub")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, will use defaults and env vars
	}

	// Environment variable binding
	v.SetEnvPrefix("COILHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Environment
	v.SetDefault("environment", "development")
	v.SetDefault("slaves_config_path", "./config/slaves.yaml")

	// HTTP
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	// Link
	v.SetDefault("link.kind", LinkTCP)
	v.SetDefault("link.host", "localhost")
	v.SetDefault("link.port", 502)
	v.SetDefault("link.device", "")
	v.SetDefault("link.baud_rate", 9600)
	v.SetDefault("link.data_bits", 8)
	v.SetDefault("link.parity", "N")
	v.SetDefault("link.stop_bits", 1)
	v.SetDefault("link.connect_timeout", 3*time.Second)
	v.SetDefault("link.response_timeout", 3*time.Second)
	// Circuit breaker defaults
	v.SetDefault("link.cb_enabled", true)
	v.SetDefault("link.cb_max_requests", 1)
	v.SetDefault("link.cb_interval", 30*time.Second)
	v.SetDefault("link.cb_timeout", 15*time.Second)
	v.SetDefault("link.cb_failure_threshold", 5)

	// Polling
	v.SetDefault("polling.scan_interval", 1*time.Second)
	v.SetDefault("polling.inter_slave_delay", 0)
	v.SetDefault("polling.shutdown_timeout", 30*time.Second)

	// MQTT
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "coilhub")
	v.SetDefault("mqtt.topic_prefix", "coilhub")
	v.SetDefault("mqtt.clean_session", true)
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.reconnect_delay", 5*time.Second)
	v.SetDefault("mqtt.buffer_size", 1000)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)
}

// bindEnvVars binds environment variables to config keys.
func bindEnvVars(v *viper.Viper) {
	// Link environment variables
	_ = v.BindEnv("link.kind", "LINK_KIND")
	_ = v.BindEnv("link.host", "LINK_HOST")
	_ = v.BindEnv("link.port", "LINK_PORT")
	_ = v.BindEnv("link.device", "LINK_DEVICE")

	// MQTT environment variables
	_ = v.BindEnv("mqtt.enabled", "MQTT_ENABLED")
	_ = v.BindEnv("mqtt.broker_url", "MQTT_BROKER_URL")
	_ = v.BindEnv("mqtt.username", "MQTT_USERNAME")
	_ = v.BindEnv("mqtt.password", "MQTT_PASSWORD")
	_ = v.BindEnv("mqtt.client_id", "MQTT_CLIENT_ID")

	// General environment variables
	_ = v.BindEnv("environment", "ENVIRONMENT")
	_ = v.BindEnv("slaves_config_path", "SLAVES_CONFIG_PATH")

	// HTTP
	_ = v.BindEnv("http.port", "HTTP_PORT")

	// Polling
	_ = v.BindEnv("polling.scan_interval", "SCAN_INTERVAL")

	// Logging
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Link.Kind {
	case LinkTCP:
		if c.Link.Host == "" {
			return fmt.Errorf("link host is required for tcp links")
		}
		if c.Link.Port <= 0 || c.Link.Port > 65535 {
			return fmt.Errorf("invalid link port: %d", c.Link.Port)
		}
	case LinkSerial:
		if c.Link.Device == "" {
			return fmt.Errorf("link device is required for serial links")
		}
		if c.Link.BaudRate <= 0 {
			return fmt.Errorf("invalid baud rate: %d", c.Link.BaudRate)
		}
		if c.Link.DataBits < 5 || c.Link.DataBits > 8 {
			return fmt.Errorf("invalid data bits: %d (want 5-8)", c.Link.DataBits)
		}
		switch c.Link.Parity {
		case "N", "E", "O":
		default:
			return fmt.Errorf("invalid parity: %q (want N, E or O)", c.Link.Parity)
		}
		if c.Link.StopBits != 1 && c.Link.StopBits != 2 {
			return fmt.Errorf("invalid stop bits: %d (want 1 or 2)", c.Link.StopBits)
		}
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedLinkKind, c.Link.Kind)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Polling.ScanInterval < MinScanInterval || c.Polling.ScanInterval > MaxScanInterval {
		return fmt.Errorf("%w: %s not in [%s, %s]",
			domain.ErrInvalidScanInterval, c.Polling.ScanInterval, MinScanInterval, MaxScanInterval)
	}
	if c.Polling.InterSlaveDelay < 0 {
		return fmt.Errorf("inter-slave delay must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("MQTT broker URL is required when MQTT is enabled")
	}

	return nil
}
