package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OrcaBus/platform-integration-tests/internal/app/migrate"
	"github.com/OrcaBus/platform-integration-tests/internal/blob"
	"github.com/OrcaBus/platform-integration-tests/internal/bus"
	httpx "github.com/OrcaBus/platform-integration-tests/internal/http"
	"github.com/OrcaBus/platform-integration-tests/internal/registry"
	"github.com/OrcaBus/platform-integration-tests/internal/scenario"
	"github.com/OrcaBus/platform-integration-tests/internal/service/ingest"
	"github.com/OrcaBus/platform-integration-tests/internal/service/run"
	"github.com/OrcaBus/platform-integration-tests/internal/service/verdict"
	"github.com/OrcaBus/platform-integration-tests/internal/store"
	"github.com/OrcaBus/platform-integration-tests/internal/store/bolt"
	storepg "github.com/OrcaBus/platform-integration-tests/internal/store/postgres"
	"github.com/OrcaBus/platform-integration-tests/internal/ws"
	"github.com/OrcaBus/platform-integration-tests/pkg/config"
	"github.com/OrcaBus/platform-integration-tests/pkg/logger"
)

func main() {
	cfg := config.LoadEngineConfig()
	log := logger.New("engine", logger.Level(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := openStore(ctx, cfg, log)
	defer st.Close()

	reg := registry.New(st)

	catalog, err := scenario.LoadCatalog(cfg.ScenarioDir, cfg.DefaultScenario)
	if err != nil {
		log.Error("failed to load scenario catalog", "dir", cfg.ScenarioDir, "error", err)
		os.Exit(1)
	}
	log.Info("scenario catalog loaded", "dir", cfg.ScenarioDir, "scenarios", catalog.Names())

	archive := openArchive(ctx, cfg, log)
	hub := ws.NewHub()
	ingestSvc := ingest.New(reg, archive, hub, log)
	publisher := openPublisher(ctx, cfg, ingestSvc, log)

	runSvc := run.New(reg, catalog, publisher, run.Options{
		DefaultTimeout:  cfg.RunTimeout,
		RetentionFactor: cfg.RetentionFactor,
		BusSource:       cfg.BusSource,
		SchemaVersion:   cfg.SchemaVersion,
	}, log)
	verdictSvc := verdict.New(reg, archive, verdict.Options{
		MaxLatency:   cfg.MaxLatency,
		LatencyFatal: cfg.LatencyFatal,
	}, log)

	validator, err := bus.NewValidator()
	if err != nil {
		log.Error("failed to compile envelope schema", "error", err)
		os.Exit(1)
	}

	go sweepExpired(ctx, reg, cfg.RetentionSweep, log)

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisADR); addr != "" {
		limiter, err = httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPWD, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, falling back to memory", "error", err)
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter()
	}

	router := httpx.NewRouter(log, runSvc, ingestSvc, verdictSvc, validator, hub, limiter, cfg.APIToken, cfg.BusToken, st.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("engine server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "bus", cfg.BusDriver)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("engine server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func openStore(ctx context.Context, cfg config.EngineConfig, log *slog.Logger) store.Store {
	switch cfg.StoreDriver {
	case "bolt":
		st, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			log.Error("failed to open bolt store", "path", cfg.BoltPath, "error", err)
			os.Exit(1)
		}
		return st
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		return storepg.New(pool)
	default:
		log.Error("unknown store driver", "store_driver", cfg.StoreDriver)
		os.Exit(1)
		return nil
	}
}

func openArchive(ctx context.Context, cfg config.EngineConfig, log *slog.Logger) blob.Store {
	switch cfg.BlobDriver {
	case "s3":
		archive, err := blob.NewS3Store(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Error("failed to configure s3 archive", "bucket", cfg.S3Bucket, "error", err)
			os.Exit(1)
		}
		return archive
	default:
		archive, err := blob.NewFSStore(cfg.BlobDir)
		if err != nil {
			log.Error("failed to open archive directory", "dir", cfg.BlobDir, "error", err)
			os.Exit(1)
		}
		return archive
	}
}

// openPublisher selects the seed-event transport. The memory bus loops seed
// events straight back into the ingest service, which makes a single-node
// deployment self-contained without EventBridge.
func openPublisher(ctx context.Context, cfg config.EngineConfig, ingestSvc *ingest.Service, log *slog.Logger) bus.Publisher {
	switch cfg.BusDriver {
	case "eventbridge":
		pub, err := bus.NewEventBridgePublisher(ctx, cfg.AWSRegion, cfg.BusName, log)
		if err != nil {
			log.Error("failed to configure eventbridge publisher", "bus", cfg.BusName, "error", err)
			os.Exit(1)
		}
		return pub
	default:
		mb := bus.NewMemoryBus()
		mb.Subscribe(func(ctx context.Context, env bus.Envelope) {
			if err := ingestSvc.Ingest(ctx, env); err != nil {
				log.Warn("loopback ingest failed", "event_id", env.ID, "error", err)
			}
		})
		return mb
	}
}

func sweepExpired(ctx context.Context, reg *registry.Registry, every time.Duration, log *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := reg.PurgeExpired(ctx, time.Now().UTC())
			if err != nil {
				log.Warn("retention sweep failed", "error", err)
				continue
			}
			if purged > 0 {
				log.Info("retention sweep purged runs", "count", purged)
			}
		}
	}
}
