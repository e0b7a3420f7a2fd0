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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/unclebandit/followup-engine/internal/app"
	"github.com/unclebandit/followup-engine/internal/config"
	"github.com/unclebandit/followup-engine/internal/controller"
	"github.com/unclebandit/followup-engine/internal/db"
	"github.com/unclebandit/followup-engine/internal/events"
	"github.com/unclebandit/followup-engine/internal/handler"
	"github.com/unclebandit/followup-engine/internal/idempotency"
	"github.com/unclebandit/followup-engine/internal/logger"
	"github.com/unclebandit/followup-engine/internal/metrics"
	"github.com/unclebandit/followup-engine/internal/middleware"
	"github.com/unclebandit/followup-engine/internal/queue"
	"github.com/unclebandit/followup-engine/internal/service"
	"github.com/unclebandit/followup-engine/internal/tracing"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, "followup-api", cfg.OTLPEndpoint, logr)
	if err != nil {
		logr.Fatal("init tracer", zap.Error(err))
	}
	defer shutdownTracer()
	metrics.InitAPIMetrics()

	conn, err := db.Open(ctx, cfg.DatabaseURL, logr)
	if err != nil {
		logr.Fatal("connect database", zap.Error(err))
	}
	defer conn.Close()

	var sink events.Sink = events.NopSink{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.EventsTopic)
		defer kafkaSink.Close()
		sink = kafkaSink
		logr.Info("publishing events to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.EventsTopic))
	}

	var store idempotency.Store
	if cfg.RedisAddr != "" {
		redisStore := idempotency.NewRedisStore(cfg.RedisAddr, cfg.IdempotencyTTL)
		defer redisStore.Close()
		store = redisStore
	} else {
		store = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	}

	svc := app.NewServices(cfg, conn, sink, logr)

	// With a broker, the worker binary consumes jobs; without one, run them here.
	if cfg.AMQPURL != "" {
		q, err := queue.NewAMQPQueue(cfg.AMQPURL, cfg.DispatchQueue, cfg.WorkerMaxRetries, logr.Named("queue"))
		if err != nil {
			logr.Fatal("connect queue", zap.Error(err))
		}
		defer q.Close()
		svc.Dispatcher.Queue = q
	} else {
		q := queue.NewInMemoryQueue(cfg.WorkerMaxRetries, logr.Named("queue"))
		worker := service.NewWorker(svc.Dispatcher.Dispatch, logr.Named("worker"))
		if err := q.Subscribe(ctx, worker.Handle); err != nil {
			logr.Fatal("subscribe worker", zap.Error(err))
		}
		svc.Dispatcher.Queue = q
		logr.Warn("AMQP_URL not set, dispatch jobs run in-process")
	}

	sequenceController := &controller.SequenceController{Sequences: svc.Sequences}
	messageController := &controller.MessageController{Dispatcher: svc.Dispatcher}
	webhookController := &controller.WebhookController{
		Reconciler:    svc.Reconciler,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logr.Named("webhooks"),
	}
	sequenceHandler := &handler.SequenceHandler{Sequences: svc.Sequences}
	deliveryHandler := &handler.DeliveryHandler{Deliveries: svc.Deliveries}
	limiter := middleware.NewRateLimiter(rate.Limit(cfg.APIRatePerSec), cfg.APIBurst)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks carry no principal; the signature authenticates them.
	r.Post("/webhooks/{provider}", webhookController.Receive)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequirePrincipal)
		r.Use(limiter.Middleware)

		r.With(middleware.Idempotency(store, logr.Named("idempotency"))).
			Post("/sequences/{id}/generate", sequenceController.Generate)
		r.Post("/sequences/{id}/archive", sequenceController.Archive)
		r.Get("/sequences/{id}", sequenceHandler.GetSequenceWithStats)
		r.Get("/senders/{id}/sequences", sequenceHandler.ListSequences)

		r.Post("/messages/{id}/regenerate", sequenceController.Regenerate)
		r.Post("/messages/{id}/preview", messageController.Preview)
		r.Post("/messages/{id}/dispatch", messageController.Dispatch)

		r.Get("/deliveries/{id}", deliveryHandler.GetDelivery)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logr.Info("server running", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Fatal("server stopped", zap.Error(err))
	}
}
