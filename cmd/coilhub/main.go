// Package main is the entry point for the coilhub service. It wires
// the link transport, the polling hub, the MQTT bridge and the HTTP
// surface, and manages the application lifecycle.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/coilhub/internal/adapter/config"
	"github.com/nexus-edge/coilhub/internal/adapter/mqtt"
	"github.com/nexus-edge/coilhub/internal/api"
	"github.com/nexus-edge/coilhub/internal/domain"
	"github.com/nexus-edge/coilhub/internal/health"
	"github.com/nexus-edge/coilhub/internal/hub"
	"github.com/nexus-edge/coilhub/internal/metrics"
	"github.com/nexus-edge/coilhub/internal/transport"
	"github.com/nexus-edge/coilhub/pkg/logging"
)

const (
	serviceName    = "coilhub"
	serviceVersion = "1.0.0"
)

func main() {
	// Load configuration before the logger so the logging section can
	// shape it.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(serviceName, serviceVersion, logging.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger.Info().Str("env", cfg.Environment).Msg("Starting coilhub")

	// Initialize metrics
	metricsRegistry := metrics.NewRegistry()

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build the link transport
	link, err := buildTransport(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize link transport")
	}

	// Build the hub and register the configured slaves
	coilHub := hub.New(hub.Config{
		ScanInterval:    cfg.Polling.ScanInterval,
		InterSlaveDelay: cfg.Polling.InterSlaveDelay,
	}, link, logger, metricsRegistry)

	slaves, err := config.LoadSlaves(cfg.SlavesConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.SlavesConfigPath).Msg("Failed to load slave definitions")
	}
	for _, def := range slaves.Slaves {
		if err := coilHub.Register(domain.SlaveID(def.ID), def.Addresses()); err != nil {
			logger.Fatal().Err(err).Str("slave", def.Name).Msg("Failed to register slave")
		}
		logger.Info().
			Str("slave", def.Name).
			Uint8("id", def.ID).
			Int("coils", len(def.Coils)).
			Msg("Registered slave")
	}

	// Initialize health checker
	healthChecker := health.NewChecker(health.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
	})
	healthChecker.AddCheck("link", coilHub)

	// Optional MQTT bridge: retained state topics out, coil commands in
	var mqttPublisher *mqtt.Publisher
	var commandListener *mqtt.CommandListener
	if cfg.MQTT.Enabled {
		mqttPublisher = mqtt.NewPublisher(mqtt.Config{
			BrokerURL:      cfg.MQTT.BrokerURL,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			CleanSession:   cfg.MQTT.CleanSession,
			QoS:            cfg.MQTT.QoS,
			KeepAlive:      cfg.MQTT.KeepAlive,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
			ReconnectDelay: cfg.MQTT.ReconnectDelay,
			BufferSize:     cfg.MQTT.BufferSize,
		}, logger)

		if err := mqttPublisher.Connect(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
		}
		defer mqttPublisher.Disconnect()

		coilHub.AddSubscriber(mqttPublisher)
		healthChecker.AddCheck("mqtt", mqttPublisher)

		commandListener = mqtt.NewCommandListener(
			mqttPublisher.Client(),
			coilHub,
			mqtt.CommandConfig{
				TopicPrefix:           cfg.MQTT.TopicPrefix,
				QoS:                   cfg.MQTT.QoS,
				EnableAcknowledgement: true,
			},
			logger,
		)
		if err := commandListener.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start command listener (MQTT writes disabled)")
		} else {
			defer commandListener.Stop()
		}
	}

	// Start polling
	if err := coilHub.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start polling")
	}

	// HTTP surface: health, metrics, status API
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthChecker.HealthHandler)
	mux.HandleFunc("/health/live", healthChecker.LivenessHandler)
	mux.HandleFunc("/health/ready", healthChecker.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())
	api.NewHandler(coilHub, serviceVersion, logger).Register(mux)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	logger.Info().
		Str("link", cfg.Link.Kind).
		Int("slaves", len(slaves.Slaves)).
		Dur("scan_interval", cfg.Polling.ScanInterval).
		Msg("coilhub started successfully")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Polling.ShutdownTimeout)
	defer shutdownCancel()

	if commandListener != nil {
		commandListener.Stop()
	}
	if err := coilHub.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping hub")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	logger.Info().Msg("coilhub shutdown complete")
}

// buildTransport assembles the configured link, wrapped in a circuit
// breaker unless disabled.
func buildTransport(cfg *config.Config, logger zerolog.Logger) (transport.Transport, error) {
	trConfig := transport.Config{
		ConnectTimeout:  cfg.Link.ConnectTimeout,
		ResponseTimeout: cfg.Link.ResponseTimeout,
	}

	var link transport.Transport
	switch cfg.Link.Kind {
	case config.LinkTCP:
		addr := fmt.Sprintf("%s:%d", cfg.Link.Host, cfg.Link.Port)
		link = transport.NewTCP(addr, trConfig, logger)
	case config.LinkSerial:
		link = transport.NewSerial(transport.SerialConfig{
			Device:   cfg.Link.Device,
			BaudRate: cfg.Link.BaudRate,
			DataBits: cfg.Link.DataBits,
			Parity:   cfg.Link.Parity,
			StopBits: cfg.Link.StopBits,
		}, trConfig, logger)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedLinkKind, cfg.Link.Kind)
	}

	if cfg.Link.CBEnabled {
		link = transport.NewBreaker(link, transport.BreakerConfig{
			MaxRequests:      cfg.Link.CBMaxRequests,
			Interval:         cfg.Link.CBInterval,
			Timeout:          cfg.Link.CBTimeout,
			FailureThreshold: cfg.Link.CBFailureThreshold,
		}, logger)
	}
	return link, nil
}
