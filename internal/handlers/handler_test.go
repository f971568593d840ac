package handlers

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/config"
	"github.com/brightensolutions/brightensolutions-sub000/internal/middleware"
	"github.com/brightensolutions/brightensolutions-sub000/internal/models"
	"github.com/brightensolutions/brightensolutions-sub000/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret-12345678901234567890123456789012"

type testEnv struct {
	h        *Handler
	db       *gorm.DB
	visitors *services.VisitorService
}

func setupTestHandler(t *testing.T) *testEnv {
	db, _ := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	db.AutoMigrate(models.All()...)

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg := config.Config{
		AdminTokenSecret:   testSecret,
		CORSAllowedOrigins: "https://brighten.example",
	}

	// Use a dummy redis client (not connected) with no retries
	rdb := redis.NewClient(&redis.Options{
		Addr:       "localhost:1",
		MaxRetries: -1,
	})
	t.Cleanup(func() { rdb.Close() })

	audit := services.NewAuditService(db, log)
	geoIP := services.NewGeoIPService(cfg, log)
	cache := services.NewSnapshotCache(rdb, time.Minute, log)
	visitors := services.NewVisitorService(db, log, geoIP, audit, cache, 2)
	stats := services.NewStatsService(db)

	h := NewHandler(cfg, log, db, rdb, visitors, stats)
	return &testEnv{h: h, db: db, visitors: visitors}
}

func setupTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return h.SetupRouter(nil)
}

func adminToken(t *testing.T) string {
	token, err := middleware.GenerateAdminToken(testSecret, "test", time.Hour)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return "Bearer " + token
}
