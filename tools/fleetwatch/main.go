package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"greenhouse-cloud/internal/config"
	"greenhouse-cloud/internal/credential"
	fleetapp "greenhouse-cloud/internal/fleet/application"
	fleetclient "greenhouse-cloud/internal/fleet/client"
	"greenhouse-cloud/internal/logging"
	"greenhouse-cloud/internal/observability/metrics"
	"greenhouse-cloud/internal/realtime"
	realtimeclient "greenhouse-cloud/internal/realtime/client"
)

func main() {
	cfg, err := config.LoadClient()
	logger := logging.New("fleetwatch", cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Fatal("config error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.InitClient()

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		logger.WithError(err).Fatal("credential store error")
	}
	defer closeStore()
	if cfg.Token != "" {
		if err := store.Set(ctx, cfg.Token); err != nil {
			logger.WithError(err).Fatal("credential store write failed")
		}
	}

	stream, err := credential.NewStream(store,
		credential.WithGracePeriod(cfg.GracePeriod),
		credential.WithLogger(logger),
	)
	if err != nil {
		logger.WithError(err).Fatal("token stream error")
	}
	defer stream.Stop()

	connector, err := realtimeclient.NewConnector(realtimeclient.Config{
		URL:      cfg.RealtimeURL,
		Channels: cfg.Channels,
		Logger:   logger,
		Handler: func(msg realtime.Message) {
			logger.WithFields(logging.Fields{
				"channel": msg.Channel,
				"type":    msg.Type,
				"data":    string(msg.Data),
			}).Info("realtime message")
		},
	}, stream)
	if err != nil {
		logger.WithError(err).Fatal("realtime connector error")
	}
	defer connector.Close()

	fetcher, err := fleetclient.NewFetcher(cfg.APIURL, store, fleetclient.WithBreaker(fleetclient.BreakerConfig{
		Failures: uint32(cfg.BreakerFailures),
		Open:     cfg.BreakerOpen,
		Interval: cfg.BreakerInterval,
	}))
	if err != nil {
		logger.WithError(err).Fatal("fleet fetcher error")
	}

	coordinator, err := fleetapp.NewCoordinator(connector, fetcher, logger)
	if err != nil {
		logger.WithError(err).Fatal("coordinator error")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		refresh(gctx, coordinator, cfg.RefreshInterval, logger)
		return nil
	})
	if cfg.MetricsAddr != "" {
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("fleetwatch stopped")
		os.Exit(1)
	}
	logger.Info("fleetwatch stopped")
}

func refresh(ctx context.Context, coordinator *fleetapp.Coordinator, every time.Duration, logger logging.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		list, err := coordinator.List(ctx)
		if err == nil {
			zones := 0
			for _, g := range list {
				zones += len(g.Zones)
			}
			logger.WithFields(logging.Fields{
				"greenhouses": len(list),
				"zones":       zones,
			}).Info("fleet refreshed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func buildStore(cfg config.ClientConfig) (credential.Store, func(), error) {
	if cfg.RedisAddr == "" {
		return credential.NewMemoryStore(), func() {}, nil
	}
	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	store, err := credential.NewRedisStore(client, cfg.CredentialPrefix)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, func() { _ = client.Close() }, nil
}
