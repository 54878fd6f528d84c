package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/akopylov/orderflow/internal/cache"
	catalogapp "github.com/akopylov/orderflow/internal/catalog/application"
	cataloghttp "github.com/akopylov/orderflow/internal/catalog/infrastructure/http"
	catalogpg "github.com/akopylov/orderflow/internal/catalog/infrastructure/postgres"
	"github.com/akopylov/orderflow/internal/config"
	orderapp "github.com/akopylov/orderflow/internal/order/application"
	orderhttp "github.com/akopylov/orderflow/internal/order/infrastructure/http"
	orderpg "github.com/akopylov/orderflow/internal/order/infrastructure/postgres"
	"github.com/akopylov/orderflow/internal/tasks"
	taskkafka "github.com/akopylov/orderflow/internal/tasks/kafka"
	"github.com/akopylov/orderflow/internal/tasks/pgstore"
	"github.com/akopylov/orderflow/pkg/idempotency"
	"github.com/akopylov/orderflow/pkg/logging"
	"github.com/akopylov/orderflow/pkg/metrics"
	"github.com/akopylov/orderflow/pkg/shutdown"
)

func main() {
	log := logging.New()
	cfg := config.Load()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	// Postgres
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("redis connect failed", "err", err)
		os.Exit(1)
	}

	repo := orderpg.NewRepository(log, pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Error("schema bootstrap failed", "err", err)
		os.Exit(1)
	}

	versions := cache.NewRedisVersionStore(rdb)
	dispatcher := cache.NewDispatcher(log, versions)

	taskMetrics := metrics.NewTaskMetrics(prometheus.DefaultRegisterer)
	idem := idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL)

	// Durable task journal (optional)
	var taskStore *pgstore.Store
	runnerOpts := []tasks.RunnerOption{
		tasks.WithRetryDelay(cfg.TaskRetryDelay),
		tasks.WithMaxAttempts(cfg.TaskMaxAttempts),
	}
	if cfg.DurableTasks {
		taskStore = pgstore.NewStore(log, pool)
		if err := taskStore.EnsureSchema(ctx); err != nil {
			log.Error("task store bootstrap failed", "err", err)
			os.Exit(1)
		}
		runnerOpts = append(runnerOpts, tasks.WithStateRecorder(taskStore))
	}

	runner := tasks.NewRunner(log, idem, taskMetrics, runnerOpts...)
	runner.Register(tasks.KindDocument,
		tasks.NewDocumentHandler(log, repo, tasks.NewLogNotifier(log)))
	runner.Register(tasks.KindShippedWebhook,
		tasks.NewWebhookHandler(log, repo, cfg.WebhookURL, cfg.WebhookTimeout))

	go drainExhausted(ctx, log, runner)

	pipeline, stopPipeline := buildPipeline(ctx, log, cfg, runner, taskStore)
	defer stopPipeline()

	cacheClient := cache.NewClient(rdb)
	svc := orderapp.NewService(log, repo, dispatcher, pipeline, taskMetrics, cfg.MinOrderCents)
	handler := orderhttp.NewHandler(log, svc, versions, cacheClient)

	catalogSvc := catalogapp.NewService(log, catalogpg.NewRepository(log, pool), dispatcher)
	catalogHandler := cataloghttp.NewHandler(log, catalogSvc, versions, cacheClient)

	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	r.Mount("/catalog", catalogHandler.Routes())
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("orderflow shutdown complete")
}

// buildPipeline wires the configured task transport around the shared runner
// and returns the enqueuer plus its stop function.
func buildPipeline(ctx context.Context, log *slog.Logger, cfg config.Config, runner *tasks.Runner, taskStore *pgstore.Store) (tasks.Enqueuer, func()) {
	var enqueuer tasks.Enqueuer
	var stop func()

	switch cfg.TaskTransport {
	case config.TransportInline:
		enqueuer = tasks.NewInline(runner)
		stop = func() {}
	case config.TransportKafka:
		writer := taskkafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		enqueuer = taskkafka.NewEnqueuer(log, writer)
		consumer := taskkafka.NewConsumer(log, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup, runner)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("task consumer stopped", "err", err)
			}
		}()
		stop = func() { _ = writer.Close() }
	default:
		p := tasks.NewPool(log, runner, cfg.QueueSize, cfg.TaskTimeout)
		p.Start(cfg.WorkerCount)
		enqueuer = p
		stop = p.Stop
	}

	if taskStore != nil {
		// Relay re-submits journaled tasks straight into the transport; the
		// journal itself records new enqueues first.
		relay := pgstore.NewRelay(log, taskStore, enqueuer)
		go func() {
			_ = relay.Run(ctx)
		}()
		enqueuer = pgstore.NewJournal(taskStore, enqueuer)
	}

	return enqueuer, stop
}

func drainExhausted(ctx context.Context, log *slog.Logger, runner *tasks.Runner) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-runner.Exhausted():
			log.Error("task exhausted all retries; operator attention required",
				"kind", string(t.Kind), "order_id", t.OrderID)
		}
	}
}
