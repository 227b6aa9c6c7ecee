package main

import (
	"GasFutures/internal/cache"
	"GasFutures/internal/config"
	"GasFutures/internal/core"
	"GasFutures/internal/ingestion"
	"GasFutures/internal/observability"
	"GasFutures/internal/persistence"
	"GasFutures/internal/query"
	"GasFutures/internal/server"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("GASFUT_CONFIG"), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithLevel("main", observability.ParseLogLevel(cfg.LogLevel))
	if err := run(*cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exchange stopped with error")
	}
	logger.Info().Msg("shutdown complete")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnLifetime.Duration)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	if cfg.Postgres.RunMigrations {
		applied, err := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, logger).Up(ctx)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info().Int("applied", applied).Msg("migrations up to date")
	}

	// --- Core ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	persistChan := make(chan core.CoreOutput, cfg.Engine.PersistChanSize)
	publishChan := make(chan core.CoreOutput, cfg.Engine.PublishChanSize)

	exchange := core.NewExchange(core.Config{
		PersistChan:   persistChan,
		PublishChan:   publishChan,
		DBChecker:     persistence.NewPostgresIdempotencyChecker(db),
		DedupCapacity: cfg.Engine.DedupCapacity,
		Metrics:       metrics,
		Logger:        observability.NewLoggerWithLevel("core", observability.ParseLogLevel(cfg.LogLevel)),
	})

	// --- Recovery ---
	commandLog := persistence.NewCommandLog(db)
	snapshots := persistence.NewSnapshotManager(db)
	recovery := &persistence.Recovery{
		Log:       commandLog,
		Snapshots: snapshots,
		PageSize:  cfg.Engine.ReplayPageSize,
		WarmKeys:  cfg.Engine.DedupCapacity,
		Logger:    logger,
	}
	stats, err := recovery.Run(ctx, exchange)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	metrics.ReplayCommands.Add(float64(stats.Replayed))
	metrics.ReplayDuration.Set(stats.ReplayTaken.Seconds())
	logger.Info().
		Int("replayed", stats.Replayed).
		Int("applied", stats.Applied).
		Int64("log_seq", stats.LastLogSeq).
		Int64("checkpoint", stats.Checkpoint).
		Int("warmed_keys", stats.WarmedKeys).
		Dur("took", stats.ReplayTaken).
		Msg("recovery complete")

	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Redis ---
	var (
		cooldown ingestion.ListingCooldown
		marks    ingestion.MarkCache
	)
	if cfg.Redis.Enabled {
		rdb, err := cache.NewClient(ctx, cache.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		cooldown = cache.NewRedisCooldown(rdb, cfg.Listing.Cooldown.Duration)
		marks = cache.NewMarkPriceCache(rdb)
		healthChecker.AddCheck("redis", cache.Ping(rdb))
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	} else {
		cooldown = cache.NewMemoryCooldown(cfg.Listing.Cooldown.Duration)
		logger.Warn().Msg("redis disabled: listing cooldown is process-local and marks are not cached")
	}

	dispatcher := ingestion.NewDispatcher(exchange, cooldown, marks, metrics)
	bootstrapMarkets(ctx, dispatcher, cfg.Markets, logger)

	// --- Back end: drains core outputs until the channels close ---
	back, backCtx := errgroup.WithContext(context.Background())

	persistWorker := persistence.NewPersistenceWorker(db, persistChan,
		cfg.Engine.PersistBatchSize, cfg.Engine.PersistFlushTimeout.Duration, metrics, logger)
	back.Go(func() error { return persistWorker.Run(backCtx) })

	// --- NATS ---
	var subscriber *ingestion.NATSSubscriber
	front, frontCtx := errgroup.WithContext(ctx)

	if cfg.NATS.Enabled {
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()

		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			return fmt.Errorf("ensure inbound streams: %w", err)
		}
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			return fmt.Errorf("ensure outbound stream: %w", err)
		}
		healthChecker.AddCheck("nats", natsCheck(nc))

		rawChan := make(chan ingestion.RawCommand, cfg.Engine.InboundChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		front.Go(func() error { return ignoreCanceled(dispatcher.Run(frontCtx, rawChan)) })

		publisher := ingestion.NewOutboundPublisher(js, publishChan)
		back.Go(func() error { return publisher.Run(backCtx) })
		logger.Info().Str("url", cfg.NATS.URL).Msg("nats connected")
	} else {
		back.Go(func() error { return discard(publishChan) })
		logger.Warn().Msg("nats disabled: commands arrive over HTTP only and events are not published")
	}

	// --- Servers ---
	srv, err := server.New(server.Config{
		GRPCAddr:     cfg.Server.GRPCAddr,
		HTTPAddr:     cfg.Server.HTTPAddr,
		MetricsAddr:  cfg.Server.MetricsAddr,
		RateLimitRPS: cfg.Server.RateLimitRPS,
		RateBurst:    cfg.Server.RateBurst,
	}, server.Deps{
		Exchange:   exchange,
		Dispatcher: dispatcher,
		Queries:    query.NewQueryService(db),
		Metrics:    metrics,
		Logger:     logger,
	}, healthChecker)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	front.Go(func() error { return srv.StartGRPC(frontCtx) })
	front.Go(func() error { return srv.StartHTTP(frontCtx) })
	front.Go(func() error { return srv.StartMetrics(frontCtx) })
	front.Go(func() error {
		runSnapshots(frontCtx, exchange, snapshots, cfg.Engine, logger)
		return nil
	})
	front.Go(func() error {
		runChannelMetrics(frontCtx, metrics, persistChan, publishChan)
		return nil
	})

	srv.SetServing(true)
	logger.Info().
		Int64("log_seq", exchange.LastLogSeq()).
		Int("markets", len(exchange.Markets())).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("exchange ready")

	frontErr := front.Wait()
	srv.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	if frontErr != nil {
		logger.Error().Err(frontErr).Msg("front end failed, shutting down")
	} else {
		logger.Info().Msg("signal received, shutting down")
	}

	// Nothing applies commands any more; let the workers drain and exit.
	close(persistChan)
	close(publishChan)
	backErr := back.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := takeSnapshot(shutdownCtx, exchange, snapshots, cfg.Engine.SnapshotsKept); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("log_seq", exchange.LastLogSeq()).Msg("final snapshot saved")
	}

	return errors.Join(frontErr, backErr)
}

// bootstrapMarkets lists configured markets that are not listed yet.
func bootstrapMarkets(ctx context.Context, d *ingestion.Dispatcher, markets []config.MarketConfig, logger zerolog.Logger) {
	now := time.Now().UnixMicro()
	for _, m := range markets {
		_, err := d.Submit(ctx, m.ListMarket(now))
		switch {
		case err == nil:
			logger.Info().Str("market", m.Symbol).Time("expiry", m.Expiry).Msg("market listed")
		case errors.Is(err, core.ErrMarketExists), errors.Is(err, core.ErrDuplicateCommand):
			logger.Debug().Str("market", m.Symbol).Msg("market already listed")
		default:
			logger.Warn().Err(err).Str("market", m.Symbol).Msg("bootstrap listing rejected")
		}
	}
}

// runSnapshots checkpoints the exchange on an interval, skipping intervals
// in which nothing was applied.
func runSnapshots(ctx context.Context, x *core.Exchange, sm *persistence.SnapshotManager, cfg config.EngineConfig, logger zerolog.Logger) {
	if cfg.SnapshotInterval.Duration <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.SnapshotInterval.Duration)
	defer ticker.Stop()

	last := x.LastLogSeq()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq := x.LastLogSeq()
			if seq == last {
				continue
			}
			if err := takeSnapshot(ctx, x, sm, cfg.SnapshotsKept); err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = seq
			logger.Debug().Int64("log_seq", seq).Msg("periodic snapshot saved")
		}
	}
}

func takeSnapshot(ctx context.Context, x *core.Exchange, sm *persistence.SnapshotManager, keep int) error {
	cp := x.Checkpoint()
	if cp.LogSeq == 0 {
		return nil
	}
	if err := sm.Save(ctx, cp); err != nil {
		return err
	}
	if keep > 0 {
		if err := sm.Prune(ctx, keep); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
	}
	return nil
}

func runChannelMetrics(ctx context.Context, m *observability.Metrics, persistChan, publishChan chan core.CoreOutput) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			m.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
		}
	}
}

func natsCheck(nc *nats.Conn) observability.CheckFunc {
	return func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	}
}

// discard drains outputs when nothing publishes them.
func discard(ch <-chan core.CoreOutput) error {
	for range ch {
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
