package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/adityakum/remitflow/internal/analytics"
	"github.com/adityakum/remitflow/internal/config"
	"github.com/adityakum/remitflow/internal/logging"
	"github.com/adityakum/remitflow/internal/provider"
	"github.com/adityakum/remitflow/internal/server"
	"github.com/adityakum/remitflow/internal/service"
	"github.com/adityakum/remitflow/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	st, redisClient := buildStore(logger, cfg.Redis)
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("closing redis client failed", "error", err)
			}
		}
	}()

	mirror, graphClient, err := buildMirror(ctx, logger, cfg.Graph)
	if err != nil {
		logger.Error("failed to create graph client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if graphClient != nil {
			if err := graphClient.Close(context.Background()); err != nil {
				logger.Warn("closing graph client failed", "error", err)
			}
		}
	}()

	collector := provider.NewHTTPCollector(provider.Options{
		BaseURL: cfg.Providers.CollectorURL,
		APIKey:  cfg.Providers.CollectorAPIKey,
	}, cfg.Providers.CollectorMerchantID)
	converter := provider.NewHTTPConverter(provider.Options{
		BaseURL: cfg.Providers.ConverterURL,
		APIKey:  cfg.Providers.ConverterAPIKey,
	})
	transmitter := provider.NewHTTPTransmitter(provider.Options{
		BaseURL: cfg.Providers.TransmitterURL,
		APIKey:  cfg.Providers.TransmitterAPIKey,
	}, cfg.Providers.TransmitterProfileID)

	remittanceService := service.NewRemittanceService(logger, st, collector, converter, transmitter, mirror, service.Config{
		SourceCurrency:  cfg.Remittance.SourceCurrency,
		TargetCurrency:  cfg.Remittance.TargetCurrency,
		MinAmount:       cfg.Remittance.MinAmount,
		MaxAmount:       cfg.Remittance.MaxAmount,
		FeePercent:      cfg.Remittance.FeePercent,
		RateSource:      cfg.Remittance.RateSource,
		ProviderTimeout: cfg.Providers.Timeout,
	})

	apiHandlers := server.NewAPIHandlers(logger, remittanceService)
	router := server.NewRouter(logger, server.RouterDependencies{
		Health: server.MultiHealthService{
			server.RedisHealthService{Client: redisClient},
			server.GraphHealthService{Client: graphClient},
		},
		API: apiHandlers,
	})

	srv := server.New(logger, cfg.HTTP, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// buildStore prefers Redis and falls back to the in-memory store when no
// address is configured, which loses state across restarts.
func buildStore(logger *slog.Logger, cfg config.RedisConfig) (store.Store, *redis.Client) {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not set, using in-memory store; transactions will not survive restarts")
		return store.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return store.NewRedisStore(client), client
}

// buildMirror returns a nil mirror when the analytics graph is not configured.
func buildMirror(ctx context.Context, logger *slog.Logger, cfg config.GraphConfig) (*analytics.Mirror, analytics.Client, error) {
	if cfg.URI == "" {
		logger.Info("GRAPH_URI not set, analytics projection disabled")
		return nil, nil, nil
	}

	client, err := analytics.NewNeo4jClient(ctx, analytics.Options{
		URI:            cfg.URI,
		Database:       cfg.Database,
		Username:       cfg.Username,
		Password:       cfg.Password,
		MaxConnections: cfg.MaxConnections,
	})
	if err != nil {
		return nil, nil, err
	}
	return analytics.NewMirror(logger, client), client, nil
}
