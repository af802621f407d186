package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BetLedger/internal/config"
	"BetLedger/internal/core"
	"BetLedger/internal/event"
	"BetLedger/internal/ingestion"
	"BetLedger/internal/ledger"
	"BetLedger/internal/observability"
	"BetLedger/internal/persistence"
	"BetLedger/internal/projection"
	"BetLedger/internal/query"
	"BetLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("BETLEDGER_CONFIG"), "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := observability.NewLoggerWithLevel("betledger", level)
	logger.Info().Msg("betledger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// Persist sends block (no event may be lost); projection and publish
	// sends drop when their consumers fall behind.
	persistChan := make(chan core.CoreOutput, cfg.Pipeline.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Pipeline.ProjectionChanSize)
	persistWorkerChan := make(chan core.CoreOutput, cfg.Pipeline.PersistChanSize)
	publishChan := make(chan core.CoreOutput, cfg.Pipeline.PublishChanSize)

	// --- Core ---
	admin := ledger.Principal(cfg.Ledger.AdminPrincipal)
	params := core.Params{
		FeeBps: cfg.Ledger.FeeBps,
		MinBet: cfg.Ledger.MinBet,
		MaxBet: cfg.Ledger.MaxBet,
	}
	dbChecker := persistence.NewPostgresRequestChecker(db)
	ledgerCore := core.NewCore(0, admin, params, persistChan, projectionChan, dbChecker, cfg.Ledger.DedupCapacity, metrics)

	// --- Recovery: snapshot restore + event replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	if err := recoverState(ctx, snapMgr, ledgerCore, metrics, logger); err != nil {
		logger.Fatal().Err(err).Msg("recovery failed")
	}

	if err := projection.SeedGovernance(ctx, db, cfg.Ledger.AdminPrincipal,
		cfg.Ledger.FeeBps, cfg.Ledger.MinBet, cfg.Ledger.MaxBet); err != nil {
		logger.Fatal().Err(err).Msg("seed governance projection")
	}

	// --- Dispatcher ---
	dispatcher := core.NewDispatcher(ledgerCore, cfg.Pipeline.DispatchQueueDepth, observability.NewLoggerWithLevel("dispatcher", level))

	errChan := make(chan error, 10)
	go func() { errChan <- dispatcher.Run(ctx) }()

	// --- Workers ---
	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan,
		cfg.Pipeline.BatchSize, cfg.Pipeline.FlushTimeout, metrics,
		observability.NewLoggerWithLevel("persistence", level))
	go func() { errChan <- persistWorker.Run(ctx) }()

	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics,
		observability.NewLoggerWithLevel("projection", level))
	go func() { errChan <- projWorker.Run(ctx) }()

	// Fan persisted outputs out to the outbound publisher without ever
	// stalling the persistence path.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case out, ok := <-persistChan:
				if !ok {
					return
				}
				persistWorkerChan <- out
				select {
				case publishChan <- out:
				default:
					metrics.PublishDrops.Inc()
				}
			}
		}
	}()

	// --- NATS ---
	var natsSubscriber *ingestion.NATSSubscriber
	if cfg.NATS.Enabled {
		natsLogger := observability.NewLoggerWithLevel("nats", level)
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLogger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			logger.Fatal().Err(err).Msg("ensure command stream")
		}
		if err := ingestion.EnsureOutboundStream(ctx, js, natsLogger); err != nil {
			logger.Fatal().Err(err).Msg("ensure outbound stream")
		}

		cmdChan := make(chan ingestion.RawCommand, cfg.Pipeline.CommandChanSize)
		natsSubscriber = ingestion.NewNATSSubscriber(js, cmdChan, natsLogger)
		if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe")
		}

		processor := ingestion.NewCommandProcessor(dispatcher, cmdChan, metrics, natsLogger)
		go func() { errChan <- processor.Run(ctx) }()

		publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, natsLogger)
		go func() { errChan <- publisher.Run(ctx) }()

		logger.Info().Str("url", cfg.NATS.URL).Msg("nats connected")
	}

	// --- Query path ---
	queryService := query.NewQueryService(db)
	var queryBackend server.QueryBackend = queryService
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		queryBackend = query.NewCachedQueryService(queryService, rdb,
			cfg.Redis.PendingTTL, cfg.Redis.TerminalTTL, metrics)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis cache enabled")
	}

	// --- HTTP server ---
	httpServer := server.NewHTTPServer(dispatcher, queryBackend, healthChecker, metrics,
		cfg.HTTP.RatePerSec, cfg.HTTP.RateBurst,
		observability.NewLoggerWithLevel("http", level))

	srv := &http.Server{
		Addr:         cfg.HTTP.ListenAddr,
		Handler:      httpServer.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// --- Periodic snapshots and channel gauges ---
	go runPeriodicSnapshots(ctx, dispatcher, snapMgr, cfg.Snapshots.Interval, metrics, logger)
	go runChannelGauges(ctx, metrics, map[string]chan core.CoreOutput{
		"persist":    persistChan,
		"projection": projectionChan,
		"publish":    publishChan,
	})

	healthChecker.SetReady(true)
	logger.Info().Int64("sequence", ledgerCore.GetSequence()).Msg("betledger ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("component failed, shutting down")
		}
	}

	healthChecker.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if natsSubscriber != nil {
		natsSubscriber.Stop()
	}
	srv.Shutdown(shutdownCtx)

	// Final snapshot before the dispatcher stops.
	if snap, err := dispatcher.Snapshot(shutdownCtx); err == nil {
		data := persistence.SnapshotFromState(snap, time.Now())
		if err := snapMgr.SaveSnapshot(shutdownCtx, data); err != nil {
			logger.Error().Err(err).Msg("final snapshot failed")
		} else {
			logger.Info().Int64("sequence", snap.Sequence).Msg("final snapshot saved")
		}
	}

	cancel()
	time.Sleep(200 * time.Millisecond) // Let workers run their final flushes
	logger.Info().Msg("betledger shutdown complete")
}

// recoverState restores the latest snapshot and replays the event log forward.
func recoverState(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	ledgerCore *core.Core,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	start := time.Now()

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		state, err := snap.ToState()
		if err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		if err := ledgerCore.RestoreFromSnapshot(state); err != nil {
			return err
		}
		logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot restored")
	} else {
		logger.Info().Msg("no snapshot, cold start from genesis")
	}

	const batchSize = 1000
	fromSequence := ledgerCore.GetSequence()
	var replayed int64

	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			ev := core.ReplayEvent{
				Sequence:  row.Sequence,
				EventType: event.ParseEventType(row.EventType),
				RequestID: row.RequestID,
				Payload:   row.Payload,
				Timestamp: row.Timestamp.UnixNano(),
			}
			copy(ev.StateHash[:], row.StateHash)

			if err := ledgerCore.ApplyReplayEvent(ev); err != nil {
				return err
			}
			replayed++
		}

		fromSequence = rows[len(rows)-1].Sequence + 1
	}

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int64("replayed", replayed).
		Int64("sequence", ledgerCore.GetSequence()).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return nil
}

func runPeriodicSnapshots(
	ctx context.Context,
	dispatcher *core.Dispatcher,
	snapMgr *persistence.SnapshotManager,
	interval time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSequence int64 = -1

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()

			snap, err := dispatcher.Snapshot(ctx)
			if err != nil {
				continue
			}
			if snap.Sequence == lastSequence {
				continue // Nothing applied since the last snapshot
			}

			data := persistence.SnapshotFromState(snap, time.Now())
			if err := snapMgr.SaveSnapshot(ctx, data); err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}

			lastSequence = snap.Sequence
			if metrics != nil {
				metrics.SnapshotTaken.Inc()
				metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
				metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
			}
			logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot saved")
		}
	}
}

func runChannelGauges(ctx context.Context, metrics *observability.Metrics, channels map[string]chan core.CoreOutput) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, ch := range channels {
				metrics.SetChannelMetrics(name, len(ch), cap(ch))
			}
		}
	}
}
