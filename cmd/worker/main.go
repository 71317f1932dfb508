// The worker binary runs the inference side of the pipeline: it migrates
// the schema, seeds the model version, and then supervises the worker pool
// and the recovery sweeper until terminated.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/medpipe/cxrscan/config"
	"github.com/medpipe/cxrscan/jobs"
	"github.com/medpipe/cxrscan/jobs/pg"
	"github.com/medpipe/cxrscan/metrics"
	"github.com/medpipe/cxrscan/objstore"
	"github.com/medpipe/cxrscan/predictor"
)

func main() {
	var cfg config.AppConfig
	if err := config.LoadConfigFromEnv(&cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fallbackWriter := logharbour.NewFallbackWriter(os.Stdout, os.Stderr)
	lctx := logharbour.NewLoggerContext(logharbour.DefaultPriority)
	logger := logharbour.NewLogger(lctx, "cxrscan-worker", fallbackWriter)

	if err := migrate(ctx, cfg.DatabaseURL); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create database pool: %v", err)
	}
	defer pool.Close()
	store := pg.NewStore(pool)

	mv, err := store.SeedModelVersion(ctx, cfg.ModelName, cfg.WeightsPath)
	if err != nil {
		log.Fatalf("Failed to seed model version: %v", err)
	}
	logger.Info().LogActivity("Model version ready", map[string]any{
		"id":   mv.ID,
		"name": mv.Name,
	})

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	queue := jobs.NewQueue(rdb, &jobs.QueueConfig{
		ImageTTL:     cfg.ImageTTL,
		RetryTTL:     cfg.RetryTTL,
		CacheTTL:     cfg.ImageTTL,
		BRPopTimeout: cfg.BRPopTimeout,
		BatchWindow:  cfg.BatchWindow,
		MaxBatchSize: cfg.MaxBatchSize,
	})

	m := metrics.NewPrometheusMetrics()
	jobs.RegisterJobMetrics(m)
	go serveMetrics(m, cfg.MetricsPort)

	sweeper := jobs.NewSweeper(store, queue, logger, m, &jobs.SweeperConfig{
		StuckInProgress: cfg.StuckInProgress,
		StuckQueued:     cfg.StuckQueued,
		MaxRetries:      cfg.MaxRetries,
	})

	newPredictor := func() (predictor.Predictor, error) {
		return predictor.NewHTTPPredictor(cfg.PredictorURL, cfg.Device), nil
	}

	workerPool := jobs.NewWorkerPool(store, queue, newPredictor, sweeper, logger, m, &jobs.PoolConfig{
		WorkerCount:    cfg.WorkerCount,
		SupervisorTick: cfg.SupervisorTick,
		RecoveryPeriod: cfg.RecoveryPeriod,
	})
	workerPool.WorkerCfg = &jobs.WorkerConfig{
		InferenceTimeout: cfg.InferenceTimeout,
		MaxRetries:       cfg.MaxRetries,
	}
	if cfg.ObjstoreEndpoint != "" && cfg.ObjstoreBucket != "" {
		mc, err := minio.New(cfg.ObjstoreEndpoint, &minio.Options{
			Creds: credentials.NewStaticV4(cfg.ObjstoreAccessKey, cfg.ObjstoreSecretKey, ""),
		})
		if err != nil {
			log.Fatalf("Failed to create object store client: %v", err)
		}
		workerPool.Archive = objstore.NewMinioObjectStore(mc)
		workerPool.ArchiveBucket = cfg.ObjstoreBucket
	}

	if err := workerPool.Run(ctx); err != nil {
		log.Fatalf("Worker pool failed: %v", err)
	}
}

// migrate runs schema migrations on a dedicated connection; Tern needs a
// plain *pgx.Conn rather than a pool.
func migrate(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	return jobs.MigrateDatabase(ctx, conn)
}

func serveMetrics(m *metrics.PrometheusMetrics, port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	if err := http.ListenAndServe(":"+port, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics server failed: %v", err)
	}
}
