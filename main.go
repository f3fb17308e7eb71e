package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"greenhouse-cloud/internal/audit"
	"greenhouse-cloud/internal/auth"
	commandsapp "greenhouse-cloud/internal/commands/application"
	commandshttp "greenhouse-cloud/internal/commands/interfaces/http"
	commandsmqtt "greenhouse-cloud/internal/commands/interfaces/mqtt"
	"greenhouse-cloud/internal/config"
	"greenhouse-cloud/internal/eventbus"
	fleetrepo "greenhouse-cloud/internal/fleet/infrastructure/postgres"
	fleethttp "greenhouse-cloud/internal/fleet/interfaces/http"
	"greenhouse-cloud/internal/logging"
	"greenhouse-cloud/internal/mqttconn"
	"greenhouse-cloud/internal/observability/metrics"
	"greenhouse-cloud/internal/realtime"
	realtimehttp "greenhouse-cloud/internal/realtime/interfaces/http"
	telemetryapp "greenhouse-cloud/internal/telemetry/application"
	telemetry "greenhouse-cloud/internal/telemetry/domain"
	telemetryinflux "greenhouse-cloud/internal/telemetry/infrastructure/influx"
	telemetrypostgres "greenhouse-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "greenhouse-cloud/internal/telemetry/interfaces/http"
	telemetrymqtt "greenhouse-cloud/internal/telemetry/interfaces/mqtt"
)

const (
	telemetryPath     = "/api/v1/telemetry"
	commandStatusPath = "/api/v1/commands/status"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	logger := logging.New("greenhouse-cloud", cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Fatal("config error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("db open error")
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.WithError(err).Fatal("db ping error")
		}
	}

	sink, closeSink, err := buildSink(ctx, cfg, db)
	if err != nil {
		logger.WithError(err).Fatal("telemetry sink error")
	}
	defer closeSink()

	validator, err := telemetry.NewValidator(cfg.TelemetryBatchMaxUpdates)
	if err != nil {
		logger.WithError(err).Fatal("validator error")
	}

	bus := eventbus.NewInMemoryBus()
	hub := realtime.NewHub(logger)

	ingestService, err := telemetryapp.NewIngestService(validator, sink, bus, logger)
	if err != nil {
		logger.WithError(err).Fatal("ingest service error")
	}
	statusService, err := commandsapp.NewStatusService(bus, logger)
	if err != nil {
		logger.WithError(err).Fatal("status service error")
	}

	statusBroadcaster, err := commandsapp.NewStatusBroadcaster(hub, logger)
	if err != nil {
		logger.WithError(err).Fatal("status broadcaster error")
	}
	statusBroadcaster.Register(bus)
	liveBroadcaster, err := telemetryapp.NewLiveBroadcaster(hub, logger)
	if err != nil {
		logger.WithError(err).Fatal("telemetry broadcaster error")
	}
	liveBroadcaster.Register(bus)
	if db != nil {
		auditRepo := audit.NewRepository(db)
		if err := auditRepo.EnsureSchema(ctx); err != nil {
			logger.WithError(err).Fatal("audit schema error")
		}
		auditRecorder, err := commandsapp.NewAuditRecorder(auditRepo, logger)
		if err != nil {
			logger.WithError(err).Fatal("audit recorder error")
		}
		auditRecorder.Register(bus)
	}

	ingestHandler, err := telemetryhttp.NewIngestHandler(ingestService, validator.MaxUpdates(), logger)
	if err != nil {
		logger.WithError(err).Fatal("ingest handler error")
	}
	statusHandler, err := commandshttp.NewStatusHandler(statusService, logger)
	if err != nil {
		logger.WithError(err).Fatal("status handler error")
	}
	wsHandler, err := realtimehttp.NewWSHandler(hub, nil, logger, realtimehttp.WithAllowedOrigins(cfg.RealtimeAllowedOrigins...))
	if err != nil {
		logger.WithError(err).Fatal("websocket handler error")
	}
	streamHandler, err := realtimehttp.NewStreamHandler(hub, nil, logger)
	if err != nil {
		logger.WithError(err).Fatal("stream handler error")
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics", telemetryPath, commandStatusPath}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), cfg.IngestSkew())
	if cfg.IngestSecret == "" {
		logger.Warn("INGEST_HMAC_SECRET not set, ingest endpoints will reject every request")
	}

	mux := http.NewServeMux()
	mux.Handle(telemetryPath, ingestAuth.Wrap(ingestHandler))
	mux.Handle(commandStatusPath, ingestAuth.Wrap(statusHandler))
	mux.Handle("/api/v1/realtime/ws", wsHandler)
	mux.Handle("/api/v1/realtime/stream", streamHandler)
	if db != nil {
		greenhouses := fleetrepo.NewGreenhouseRepository(db)
		if err := greenhouses.EnsureSchema(ctx); err != nil {
			logger.WithError(err).Fatal("fleet schema error")
		}
		greenhouseHandler, err := fleethttp.NewGreenhouseHandler(greenhouses, logger)
		if err != nil {
			logger.WithError(err).Fatal("greenhouse handler error")
		}
		mux.Handle("/api/v1/greenhouses", greenhouseHandler)
	} else {
		logger.Warn("no database configured, /api/v1/greenhouses disabled")
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.MQTT.Enabled() {
		client, err := mqttconn.Connect(gctx, cfg.MQTT, logger)
		if err != nil {
			logger.WithError(err).Fatal("mqtt error")
		}
		telemetryConsumer, err := telemetrymqtt.NewIngestConsumer(ingestService, mqttconn.ClientPublisher{Client: client}, cfg.MQTT.TopicPrefix, logger)
		if err != nil {
			logger.WithError(err).Fatal("mqtt telemetry consumer error")
		}
		statusConsumer, err := commandsmqtt.NewStatusConsumer(statusService, cfg.MQTT.TopicPrefix, logger)
		if err != nil {
			logger.WithError(err).Fatal("mqtt status consumer error")
		}
		g.Go(func() error {
			return mqttconn.NewConsumer(client, telemetryConsumer.Topic(), logger).Run(gctx, telemetryConsumer.Handle)
		})
		g.Go(func() error {
			return mqttconn.NewConsumer(client, statusConsumer.Topic(), logger).Run(gctx, statusConsumer.Handle)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("server stopped")
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func buildSink(ctx context.Context, cfg config.Config, db *sql.DB) (telemetry.Sink, func(), error) {
	switch cfg.TelemetrySink {
	case config.SinkInflux:
		sink, err := telemetryinflux.NewSink(cfg.Influx)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	default:
		sink := telemetrypostgres.NewSink(db)
		if err := sink.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return sink, func() {}, nil
	}
}

func loggingMiddleware(next http.Handler, logger logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.WithFields(logging.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   resp.status,
			"duration": time.Since(start).String(),
		}).Debug("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
