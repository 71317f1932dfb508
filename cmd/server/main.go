// The server binary runs the submission service: the HTTP API that accepts
// chest X-ray uploads, answers polling clients, and serves the operator
// endpoints. Inference itself runs in the worker binary.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/medpipe/cxrscan/config"
	"github.com/medpipe/cxrscan/jobs"
	"github.com/medpipe/cxrscan/jobs/pg"
	"github.com/medpipe/cxrscan/jobsvc"
	"github.com/medpipe/cxrscan/metrics"
	"github.com/medpipe/cxrscan/objstore"
	"github.com/medpipe/cxrscan/router"
	"github.com/medpipe/cxrscan/service"
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
	logger := logharbour.NewLogger(lctx, "cxrscan-server", fallbackWriter)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create database pool: %v", err)
	}
	defer pool.Close()
	store := pg.NewStore(pool)

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

	submitter := jobs.NewSubmitter(store, queue, logger)
	if cfg.ObjstoreEndpoint != "" && cfg.ObjstoreBucket != "" {
		mc, err := minio.New(cfg.ObjstoreEndpoint, &minio.Options{
			Creds: credentials.NewStaticV4(cfg.ObjstoreAccessKey, cfg.ObjstoreSecretKey, ""),
		})
		if err != nil {
			log.Fatalf("Failed to create object store client: %v", err)
		}
		submitter.Archive = objstore.NewMinioObjectStore(mc)
		submitter.ArchiveBucket = cfg.ObjstoreBucket
	}

	r := gin.New()
	r.Use(router.LogRequest(router.NewLogHarbourAdapter(logger)))
	r.Use(gin.Recovery())
	r.Use(router.TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(router.RecordRequests(m, jobs.MetricHTTPRequestSeconds))

	s := service.NewService(r).
		WithConfig(&config.Env{}).
		WithLogger(logger).
		WithSubmitter(submitter).
		WithMetricsView(jobs.NewMetricsView(store, queue)).
		WithMetrics(m)
	jobsvc.RegisterRoutes(s)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	go func() {
		logger.Info().LogActivity("Submission service listening", map[string]any{
			"port": cfg.HTTPPort,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info().LogActivity("Shutting down submission service", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err).LogActivity("HTTP server shutdown failed", nil)
	}
}
