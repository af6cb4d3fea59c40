package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"v2v-service/internal/config"
	"v2v-service/internal/db"
	"v2v-service/internal/detector"
	httpapi "v2v-service/internal/http"
	"v2v-service/internal/logger"
	"v2v-service/internal/metrics"
	"v2v-service/internal/publish"
	"v2v-service/internal/relay"
	"v2v-service/internal/repository"
	"v2v-service/internal/service"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(v *viper.Viper, configPath *string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the V2V relay and hazard detection API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlag("server.port", cmd.Flags().Lookup("port")); err != nil {
				return err
			}
			cfg, err := config.Load(v, *configPath)
			if err != nil {
				return err
			}
			if debug {
				cfg.Log.Level = "debug"
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP listen port")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Log)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}

	conn, err := db.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(conn); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}()

	var reports service.ReportStore
	if conn != nil {
		reports = repository.NewHazardRepository(conn)
	}

	var det detector.Detector = detector.NewClient(detector.Options{
		Endpoint:   cfg.Detector.Endpoint,
		APIKey:     cfg.Detector.APIKey,
		Confidence: cfg.Detector.Confidence,
		Overlap:    cfg.Detector.Overlap,
		Timeout:    cfg.Detector.Timeout,
	}, m.Pipeline, log)
	if cfg.Detector.CacheTTL > 0 {
		det = detector.NewCached(det, cfg.Detector.CacheTTL, m.Pipeline)
	}
	if cfg.Detector.APIKey == "" {
		log.Warn().Msg("detector.api_key is empty, upstream detection requests will likely be rejected")
	}

	publishers, err := openPublishers(cfg, m.Publisher, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := publishers.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close publishers")
		}
	}()

	v2vRelay := relay.New(relay.Options{
		SendTimeout:      cfg.Relay.SendTimeout,
		HistorySize:      cfg.Relay.HistorySize,
		AnnouncePresence: cfg.Relay.AnnouncePresence,
	}, m.Relay, log)
	transport := relay.NewTransport(v2vRelay, relay.TransportOptions{
		PingInterval:    cfg.Relay.PingInterval,
		PingTimeout:     cfg.Relay.PingTimeout,
		MaxMessageBytes: cfg.Relay.MaxMessageBytes,
	}, log)

	deps := service.Dependencies{
		Detector: det,
		Reports:  reports,
		Relay:    v2vRelay,
		Metrics:  m.Pipeline,
	}
	if publishers.Len() > 0 {
		deps.Publisher = publishers
	}
	hazardService := service.NewHazardService(deps, log.With().Str("component", "hazard").Logger())

	handler := httpapi.NewHandler(
		hazardService,
		v2vRelay,
		transport,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		log,
	)
	router := httpapi.NewRouter(cfg, handler, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	go hazardService.RunCleanup(ctx, cfg.Retention.CleanupInterval, cfg.Retention.ReportDays)

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("ws", fmt.Sprintf("ws://%s/ws", srv.Addr)).
			Msg("v2v service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown, so the relay
	// closes them itself.
	v2vRelay.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	transport.Wait()

	log.Info().Msg("stopped")
	return nil
}

func openPublishers(cfg *config.Config, m *metrics.PublisherMetrics, log zerolog.Logger) (*publish.Multi, error) {
	var publishers []publish.Publisher

	if cfg.MQTT.Enabled {
		p, err := publish.NewMQTTPublisher(publish.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
		}, log.With().Str("component", "mqtt").Logger())
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, p)
	}

	if cfg.Kafka.Enabled {
		p, err := publish.NewKafkaPublisher(publish.KafkaOptions{
			BootstrapServers: cfg.Kafka.BootstrapServers,
			Topic:            cfg.Kafka.Topic,
			Acks:             cfg.Kafka.Acks,
		}, log.With().Str("component", "kafka").Logger())
		if err != nil {
			for _, opened := range publishers {
				_ = opened.Close()
			}
			return nil, err
		}
		publishers = append(publishers, p)
	}

	return publish.NewMulti(m, log, publishers...), nil
}
