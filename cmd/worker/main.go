package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/interntrack/attendance/internal/attendance"
	"github.com/interntrack/attendance/internal/clock"
	"github.com/interntrack/attendance/internal/config"
	"github.com/interntrack/attendance/internal/logger"
	"github.com/interntrack/attendance/internal/metrics"
	"github.com/interntrack/attendance/internal/qrtoken"
	"github.com/interntrack/attendance/internal/queue"
	"github.com/interntrack/attendance/internal/roster"
	"github.com/interntrack/attendance/internal/store"
)

// Worker retries failed ledger writes from the queue and keeps the roster in sync.
func main() {
	cfg := config.Load()
	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("worker failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.App, log *slog.Logger) error {
	if err := checkBackends(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk, err := clock.New(cfg.Timezone)
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	db, err := store.NewDB(pingCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet; consumer will keep retrying", slog.String("addr", cfg.RedisAddr))
	}
	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)
	repo := attendance.NewPostgresRepository(db.Client)

	// Tokens live in the API process; the worker only replays recorded marks.
	svc := attendance.NewService(repo, qrtoken.NewVerifier(qrtoken.NewStore()), clk,
		attendance.WithRetryQueue(q),
		attendance.WithMetrics(rec),
		attendance.WithLogger(log),
	)

	srv := newMetricsServer(":"+cfg.MetricsPort, reg)
	go func() {
		log.Info("worker metrics listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("ledger retry consumer started",
			slog.String("queue", queue.DefaultKey),
			slog.String("timezone", clk.Location().String()),
		)
		if err := svc.ConsumeRetries(ctx, time.Second); err != nil {
			log.Error("ledger retry consumer failed", slog.String("error", err.Error()))
		}
	}()

	if cfg.RosterURL != "" {
		syncer := roster.NewSyncer(
			roster.NewClient(cfg.RosterURL, cfg.RosterAPIKey, cfg.RosterTimeout),
			roster.NewReconciler(repo, rec, log),
			log,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			syncer.Start(ctx, cfg.RosterInterval)
		}()
	} else {
		log.Info("roster feed not configured (ROSTER_URL not set)")
	}

	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("worker stopped")
	return nil
}

// checkBackends rejects in-memory backends: the worker shares its queue and
// intern store with the API, which only Postgres and Redis allow.
func checkBackends(cfg config.App) error {
	if cfg.StoreBackend == "memory" {
		return errors.New("worker requires STORE_BACKEND=postgres; with memory the API drains its own retries")
	}
	if cfg.QueueBackend == "memory" {
		return errors.New("worker requires QUEUE_BACKEND=redis; with memory the API drains its own retries")
	}
	return nil
}

func newMetricsServer(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
