package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/verity-sec/verity/pkg/api"
	"github.com/verity-sec/verity/pkg/appender"
	"github.com/verity-sec/verity/pkg/archive"
	"github.com/verity-sec/verity/pkg/config"
	"github.com/verity-sec/verity/pkg/obs"
	"github.com/verity-sec/verity/pkg/query"
	"github.com/verity-sec/verity/pkg/retention"
	"github.com/verity-sec/verity/pkg/store"
	"github.com/verity-sec/verity/pkg/verifier"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting verityd", "port", cfg.Port)

	if err := run(cfg, logger); err != nil {
		logger.Error("verityd exited", "error", err)
		os.Exit(1)
	}
	logger.Info("verityd exited")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsLogger := obs.NewSlogAdapterFor(logger)
	metrics := obs.NewPrometheusMetrics()

	var st store.Store
	if cfg.DBPath != "" {
		sqlStore, err := store.OpenSQL(cfg.DBPath)
		if err != nil {
			return err
		}
		st = sqlStore
	} else {
		logger.Warn("DB_PATH not set, using in-memory store")
		st = store.NewMemoryStore()
	}
	defer st.Close()

	policy := retention.DefaultPolicy()
	if cfg.RetentionPolicyPath != "" {
		loaded, err := retention.LoadPolicy(cfg.RetentionPolicyPath)
		if err != nil {
			return err
		}
		policy = loaded
	}

	var holds retention.HoldRepo
	if cfg.RedisAddr != "" {
		redisHolds, err := retention.NewRedisHoldRepo(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPassword)
		if err != nil {
			return err
		}
		holds = redisHolds
	} else {
		holds = retention.NewMemoryHoldRepo()
	}

	locks := appender.NewTenantLocks()
	app := appender.New(st, locks, policy, obsLogger, metrics)
	app.MaxRetries = cfg.AppendMaxRetries

	ver := verifier.New(st, obsLogger, metrics)
	ver.BatchSize = cfg.VerifyBatchSize
	ver.PersistCheckpoints = true
	if cfg.VerifyRateLimit > 0 {
		ver.Limiter = rate.NewLimiter(rate.Limit(cfg.VerifyRateLimit), cfg.VerifyBatchSize)
	}

	purger := retention.NewPurger(st, holds, locks, app, obsLogger, metrics)
	purger.BatchSize = cfg.PurgeBatchSize

	var blobs archive.BlobStore
	if cfg.S3Bucket != "" {
		s3Blobs, err := archive.NewS3Store(ctx, cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket)
		if err != nil {
			return err
		}
		blobs = s3Blobs
	} else {
		localBlobs, err := archive.NewLocalStore(cfg.ArchivePath)
		if err != nil {
			return err
		}
		blobs = localBlobs
	}
	archiver := archive.New(st, blobs, obsLogger)

	server := api.New(api.Server{
		Appender: app,
		Query:    query.New(st, obsLogger),
		Verifier: ver,
		Purger:   purger,
		Holds:    holds,
		Store:    st,
		Archiver: archiver,
		Logger:   obsLogger,
		Metrics:  metrics,
		Registry: metrics.Registry(),
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Routes(),
	}

	scheduler := &retention.Scheduler{
		Purger:   purger,
		Interval: cfg.PurgeInterval,
		Jitter:   cfg.PurgeInterval / 10,
		Logger:   obsLogger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
