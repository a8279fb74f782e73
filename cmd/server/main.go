package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/launchsentry/launchsentry/internal/cache"
	"github.com/launchsentry/launchsentry/internal/chain"
	"github.com/launchsentry/launchsentry/internal/config"
	"github.com/launchsentry/launchsentry/internal/connectors"
	"github.com/launchsentry/launchsentry/internal/database"
	"github.com/launchsentry/launchsentry/internal/models"
	"github.com/launchsentry/launchsentry/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg)

	db, err := database.NewPostgresConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redis, err := database.NewRedisConnection(cfg.Redis, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redis.Close()

	store := database.NewStore(db.Pool)
	seen := cache.NewTokenCache(redis.Client, 72*time.Hour, logger)

	signals := services.NewSignalService(store, cfg.SubscriberTimeoutDuration(), logger)
	if cfg.Telegram.BotToken != "" {
		notifier, err := services.NewTelegramNotifier(
			cfg.Telegram.BotToken, cfg.Telegram.ChatID, models.SeverityMedium, logger)
		if err != nil {
			logger.WithError(err).Error("Telegram notifier disabled")
		} else {
			signals.Subscribe(notifier.HandleSignal)
			logger.Info("Telegram notifier attached")
		}
	}

	riskEngine := services.NewRiskEngine(store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := riskEngine.Initialize(ctx, cfg.Risk); err != nil {
		logger.Fatalf("Failed to initialize risk engine: %v", err)
	}

	// one chain client per venue, shared by the connector and the jobs
	registry := connectors.NewRegistry(store, signals, seen, logger)
	clients := make(map[string]chain.Reader, len(cfg.Venues))
	chainClients := make(map[string]chain.Reader) // first client per chain
	for _, venue := range cfg.Venues {
		client := chain.NewClient(chain.Options{
			Chain:     venue.Chain,
			RPCURL:    venue.RPCURL,
			RateLimit: venue.RateLimit,
			ChunkSize: venue.ChunkSize,
		}, logger)
		clients[venue.ID] = client
		if _, ok := chainClients[venue.Chain]; !ok {
			chainClients[venue.Chain] = client
		}

		if _, err := registry.Register(connectors.LaunchpadConfig{
			ID:               venue.ID,
			Venue:            venue.Venue,
			Chain:            venue.Chain,
			FactoryAddresses: venue.FactoryAddresses,
			PollInterval:     time.Duration(venue.PollIntervalMs) * time.Millisecond,
			MaxBlocksPerScan: venue.MaxBlocksPerScan,
		}, client); err != nil {
			logger.Fatalf("Failed to register connector %s: %v", venue.ID, err)
		}
	}
	registry.StartAll(ctx)

	scheduler := services.NewStrategyScheduler(store, signals, logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Error("Strategy scheduler failed to start")
	}

	stops := startJobs(ctx, cfg, clients, chainClients, store, signals, scheduler, logger)

	logger.WithFields(logrus.Fields{
		"venues":      len(cfg.Venues),
		"environment": cfg.Environment,
	}).Info("launchsentry started")

	<-ctx.Done()
	logger.Info("Shutting down")

	registry.StopAll()
	scheduler.StopAll()
	for _, stopJob := range stops {
		stopJob()
	}
	logger.Info("Shutdown complete")
}

// startJobs wires the periodic intelligence jobs and returns their stop
// functions.
func startJobs(
	ctx context.Context,
	cfg *config.Config,
	clients map[string]chain.Reader,
	chainClients map[string]chain.Reader,
	store *database.Store,
	signals *services.SignalService,
	scheduler *services.StrategyScheduler,
	logger *logrus.Logger,
) []func() {
	var stops []func()

	coverage := services.NewCoverageVerifier(cfg.Venues, clients, store, store, signals,
		time.Duration(cfg.Coverage.WindowHours)*time.Hour, logger)
	stops = append(stops, services.StartPeriodic(ctx, "coverage",
		time.Duration(cfg.Coverage.IntervalMinutes)*time.Minute, logger, coverage.Run))

	for chainID, client := range chainClients {
		analyzer := services.NewDistributionAnalyzer(chainID, client, store, store, signals,
			time.Duration(cfg.Distribution.WindowHours)*time.Hour,
			services.DistributionThresholds{
				Top10Percent:   decimal.NewFromFloat(cfg.Distribution.Top10Threshold),
				CreatorPercent: decimal.NewFromFloat(cfg.Distribution.CreatorThreshold),
			}, logger)
		stops = append(stops, services.StartPeriodic(ctx, "distribution:"+chainID,
			time.Duration(cfg.Distribution.IntervalMinutes)*time.Minute, logger, analyzer.Run))

		if cfg.Liquidity.PairFactory != "" {
			locator := services.NewUniswapV2Locator(client,
				cfg.Liquidity.PairFactory, cfg.Liquidity.QuoteToken,
				decimal.NewFromFloat(cfg.Liquidity.QuoteUsd), int32(cfg.Liquidity.QuoteDecimals))
			monitor := services.NewLiquidityMonitor(chainID, locator, store, store, signals,
				time.Duration(cfg.Liquidity.WindowHours)*time.Hour,
				decimal.NewFromFloat(cfg.Liquidity.DropThresholdPercent), logger)
			stops = append(stops, services.StartPeriodic(ctx, "liquidity:"+chainID,
				time.Duration(cfg.Liquidity.IntervalMinutes)*time.Minute, logger, monitor.Run))
		}

		pump := services.NewEventPump(chainID, client, scheduler, logger)
		stops = append(stops, services.StartPeriodic(ctx, "events:"+chainID,
			30*time.Second, logger, pump.Run))
	}

	return stops
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
