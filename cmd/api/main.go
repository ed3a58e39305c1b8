package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/interntrack/attendance/internal/attendance"
	"github.com/interntrack/attendance/internal/auth"
	"github.com/interntrack/attendance/internal/clock"
	"github.com/interntrack/attendance/internal/config"
	"github.com/interntrack/attendance/internal/handler"
	"github.com/interntrack/attendance/internal/httpmiddleware"
	"github.com/interntrack/attendance/internal/logger"
	"github.com/interntrack/attendance/internal/metrics"
	"github.com/interntrack/attendance/internal/qrtoken"
	"github.com/interntrack/attendance/internal/queue"
	"github.com/interntrack/attendance/internal/roster"
	"github.com/interntrack/attendance/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Error("http server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk, err := clock.New(cfg.Timezone)
	if err != nil {
		return err
	}

	health := map[string]handler.HealthCheck{}

	repo, closeRepo, err := openRepository(ctx, cfg, log, health)
	if err != nil {
		return err
	}
	defer closeRepo()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		health["redis"] = redisClient.Healthy
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	tokens := qrtoken.NewStore()
	issuer := qrtoken.NewIssuer(tokens, clk, qrtoken.TTLs{Daily: cfg.DailyTokenTTL, Meeting: cfg.MeetingTokenTTL})
	svc := attendance.NewService(repo, qrtoken.NewVerifier(tokens), clk,
		attendance.WithRetryQueue(q),
		attendance.WithMetrics(rec),
		attendance.WithLogger(log),
	)

	// An in-process queue has no separate worker to drain it.
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := svc.ConsumeRetries(ctx, time.Second); err != nil {
				log.Error("retry consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	var syncer handler.RosterSyncer
	if cfg.RosterURL != "" {
		syncer = roster.NewSyncer(
			roster.NewClient(cfg.RosterURL, cfg.RosterAPIKey, cfg.RosterTimeout),
			roster.NewReconciler(repo, rec, log),
			log,
		)
	} else {
		log.Info("roster feed not configured (ROSTER_URL not set)")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(metrics.Handler(reg)))

	h := &handler.Handler{
		Service: svc,
		Issuer:  issuer,
		Tokens:  tokens,
		Now:     clk.Now,
		Roster:  syncer,
		Teams:   repo,
		Metrics: rec,
		QRSize:  cfg.QRSize,
		Health:  health,
		Log:     log,
	}
	h.Register(r,
		auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer),
		httpmiddleware.NewKeyedLimiter(cfg.RateLimitPerMin, 0).GinMiddleware(),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", slog.String("addr", srv.Addr), slog.String("timezone", clk.Location().String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced shutdown", slog.String("error", err.Error()))
	}
	log.Info("server exited")
	return nil
}

// repository is what the API needs from a persistence backend.
type repository interface {
	attendance.Repository
	roster.Store
	handler.TeamSetter
}

func openRepository(ctx context.Context, cfg config.App, log *slog.Logger, health map[string]handler.HealthCheck) (repository, func(), error) {
	if cfg.StoreBackend == "memory" {
		log.Warn("using in-memory intern store; data is lost on restart")
		return attendance.NewMemoryRepository(), func() {}, nil
	}

	if cfg.MigrateOnStart {
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	db, err := store.NewDB(pingCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	health["db"] = db.Healthy
	return attendance.NewPostgresRepository(db.Client), func() { _ = db.Close() }, nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
