package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/config"
	"github.com/brightensolutions/brightensolutions-sub000/internal/handlers"
	"github.com/brightensolutions/brightensolutions-sub000/internal/middleware"
	"github.com/brightensolutions/brightensolutions-sub000/internal/repository"
	"github.com/brightensolutions/brightensolutions-sub000/internal/services"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func main() {
	issueToken := flag.String("issue-admin-token", "", "print an admin bearer token for `subject` and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of an issued admin token")
	flag.Parse()

	if *issueToken != "" {
		if err := printAdminToken(*issueToken, *tokenTTL); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printAdminToken(subject string, ttl time.Duration) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	token, err := middleware.GenerateAdminToken(cfg.AdminTokenSecret, subject, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func newLogger(appEnv string) *slog.Logger {
	var handler slog.Handler
	if appEnv == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}

func Run(ctx context.Context) error {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Setup Logger
	logger := newLogger(cfg.AppEnv)
	slog.SetDefault(logger)

	// 3. Initialize Database
	db, err := repository.InitDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// 4. Initialize Redis
	rdb, err := repository.InitRedis(cfg.RedisURL, cfg.RedisPassword, 0)
	if err != nil {
		logger.Warn("Failed to connect to Redis, snapshot cache disabled", "error", err)
	} else {
		defer rdb.Close()
	}

	// 5. Run Migrations
	if strings.HasPrefix(cfg.DatabaseURL, "postgres") {
		logger.Info("Running database migrations...")
		if err := repository.RunMigrations(cfg.DatabaseURL, ""); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	if cfg.AdminTokenSecret == "" {
		logger.Warn("ADMIN_TOKEN_SECRET not set, admin endpoints will reject every request")
	}

	// 6. Initialize Services
	auditService := services.NewAuditService(db, logger)
	geoIPService := services.NewGeoIPService(cfg, logger)
	cache := services.NewSnapshotCache(rdb, cfg.SnapshotCacheTTL, logger)
	visitorService := services.NewVisitorService(db, logger, geoIPService, auditService, cache, cfg.IngestQueueSize)
	statsService := services.NewStatsService(db)
	rateLimiter := services.NewIPRateLimiter(rate.Limit(cfg.IngestRateLimit), cfg.IngestBurst, logger)

	// 7. Initialize Handler
	h := handlers.NewHandler(cfg, logger, db, rdb, visitorService, statsService)

	// 8. Setup Router
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := h.SetupRouter(rateLimiter)

	// 9. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Background Context for workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// Start Background Workers
	geoIPService.Init()
	defer geoIPService.Close()
	auditCtx, auditCancel := context.WithCancel(context.Background())
	defer auditCancel()
	go auditService.Start(auditCtx)

	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		visitorService.Start(workerCtx)
	}()
	go geoIPService.StartUpdater(workerCtx)
	rateLimiter.StartCleanup(workerCtx, time.Minute, 10*time.Minute)

	// Initializing server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	}

	// Graceful shutdown timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// The ingest worker drains accepted snapshots before the audit writer stops.
	workerCancel()
	<-ingestDone
	auditCancel()
	time.Sleep(100 * time.Millisecond)

	logger.Info("Server exiting")
	return nil
}
