package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quirck3n/refugio-gateway/internal/gateway/auth"
	"github.com/quirck3n/refugio-gateway/internal/gateway/config"
	"github.com/quirck3n/refugio-gateway/internal/gateway/metrics"
	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
	"github.com/quirck3n/refugio-gateway/internal/gateway/pipeline"
	"github.com/quirck3n/refugio-gateway/internal/gateway/processors"
	"github.com/quirck3n/refugio-gateway/internal/gateway/ratelimit"
	"github.com/quirck3n/refugio-gateway/internal/gateway/registry"
	"github.com/quirck3n/refugio-gateway/internal/gateway/routes"
	"github.com/quirck3n/refugio-gateway/internal/gateway/server"
	"github.com/quirck3n/refugio-gateway/pkg/events"
	"github.com/quirck3n/refugio-gateway/pkg/logger"
	"github.com/quirck3n/refugio-gateway/pkg/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	if err := run(cfg, lg); err != nil {
		lg.Error("gateway stopped", zap.Error(err))
		lg.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	reg, err := registry.New(cfg.ServiceURLs())
	if err != nil {
		return err
	}

	table, err := loadRoutes(cfg.RoutesFile)
	if err != nil {
		return err
	}
	if err := routes.Validate(table, reg.Has); err != nil {
		return err
	}

	collector := metrics.NewCollector(nil)

	// Redis is optional: it backs the shared rate-limit store and the event
	// stream when REDIS_URL is set.
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	tiers := ratelimit.TiersFromConfig(cfg.RateLimit)
	var store ratelimit.Store
	switch cfg.RateLimit.Store {
	case "redis":
		store = ratelimit.NewRedisStore(redisClient, "gateway:ratelimit")
	default:
		store = ratelimit.NewMemoryStore(cfg.RateLimit.MaxClients, ratelimit.LongestWindow(tiers))
	}
	limiter := ratelimit.NewLimiter(tiers, store)

	validator, err := auth.NewJWTValidator(auth.JWTConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.NopPublisher{}
	if redisClient != nil && cfg.EventsStream != "" {
		publisher = events.NewRedisPublisher(redisClient, cfg.EventsStream)
	}

	forwarder := processors.NewForwarder(reg, processors.ForwarderConfig{
		Version: cfg.Server.Version,
		Timeout: cfg.Upstream.Timeout,
		Retries: cfg.Upstream.Retries,
	}, lg, collector)

	health := processors.NewHealthAggregator(reg.Targets(), processors.HealthConfig{
		Path:    cfg.Health.Path,
		Timeout: cfg.Health.Timeout,
	}, lg, collector, publisher)

	srv, err := server.New(server.Deps{
		Config:    cfg,
		Routes:    table,
		Pipeline:  pipeline.New(limiter, validator, lg, collector, publisher),
		Forwarder: forwarder,
		Health:    health,
		Metrics:   collector,
		Logger:    lg,
	})
	if err != nil {
		return err
	}

	lg.Info("gateway starting",
		zap.String("port", cfg.Server.Port),
		zap.String("version", cfg.Server.Version),
		zap.Strings("services", reg.Names()),
		zap.Int("routes", len(table)),
		zap.String("rate_limit_store", cfg.RateLimit.Store),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		lg.Info("gateway shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway forced to shutdown: %w", err)
	}

	lg.Info("gateway exited")
	return nil
}

func loadRoutes(path string) ([]models.Route, error) {
	if path == "" {
		return routes.Default(), nil
	}
	return routes.LoadFile(path)
}
