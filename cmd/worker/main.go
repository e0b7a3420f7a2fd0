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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/followup-engine/internal/app"
	"github.com/unclebandit/followup-engine/internal/config"
	"github.com/unclebandit/followup-engine/internal/db"
	"github.com/unclebandit/followup-engine/internal/logger"
	"github.com/unclebandit/followup-engine/internal/metrics"
	"github.com/unclebandit/followup-engine/internal/queue"
	"github.com/unclebandit/followup-engine/internal/service"
	"github.com/unclebandit/followup-engine/internal/tracing"
)

type subscriber interface {
	Subscribe(ctx context.Context, handler queue.Handler) error
}

// consume feeds every job from sub to the worker until ctx ends.
func consume(ctx context.Context, sub subscriber, worker *service.Worker) error {
	err := sub.Subscribe(ctx, worker.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logr, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logr.Sync()

	if cfg.AMQPURL == "" {
		logr.Fatal("AMQP_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, "followup-worker", cfg.OTLPEndpoint, logr)
	if err != nil {
		logr.Fatal("init tracer", zap.Error(err))
	}
	defer shutdownTracer()
	metrics.InitWorkerMetrics()

	conn, err := db.Open(ctx, cfg.DatabaseURL, logr)
	if err != nil {
		logr.Fatal("connect database", zap.Error(err))
	}
	defer conn.Close()

	// Dispatch never publishes events, so the worker needs no sink.
	svc := app.NewServices(cfg, conn, nil, logr)

	q, err := queue.NewAMQPQueue(cfg.AMQPURL, cfg.DispatchQueue, cfg.WorkerMaxRetries, logr.Named("queue"))
	if err != nil {
		logr.Fatal("connect queue", zap.Error(err))
	}
	defer q.Close()

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("metrics server stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	worker := service.NewWorker(svc.Dispatcher.Dispatch, logr.Named("worker"))
	logr.Info("worker running, waiting for dispatch jobs", zap.String("queue", cfg.DispatchQueue))
	if err := consume(ctx, q, worker); err != nil {
		logr.Error("worker stopped", zap.Error(err))
		return
	}
	logr.Info("worker shut down")
}
