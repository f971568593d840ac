package handlers

import (
	"net/http"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/middleware"
	"github.com/brightensolutions/brightensolutions-sub000/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (h *Handler) SetupRouter(rateLimiter *services.IPRateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(h.logger))

	r.GET("/health", h.Health)

	tracking := r.Group("/api/tracking")

	// Public ingest, called cross-origin from the marketing site
	ingest := tracking.Group("")
	ingest.Use(h.corsMiddleware())
	if rateLimiter != nil {
		ingest.Use(h.RateLimitMiddleware(rateLimiter))
	}
	{
		ingest.POST("/visitor", h.IngestVisitor)
		ingest.OPTIONS("/visitor", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}

	admin := tracking.Group("")
	admin.Use(middleware.AdminAuth(h.cfg.AdminTokenSecret))
	{
		admin.GET("/visitors/:visitor_id", h.GetVisitor)
		admin.GET("/stats", h.GetStats)
		admin.GET("/export.parquet", h.ExportParquet)
	}

	return r
}

func (h *Handler) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowOrigins:  h.cfg.AllowedOrigins(),
		AllowMethods:  []string{"POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cors.New(cfg)
}

func (h *Handler) Health(c *gin.Context) {
	status := gin.H{"status": "healthy", "database": "up", "cache": "disabled"}
	code := http.StatusOK

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status["status"] = "degraded"
		status["database"] = "down"
		code = http.StatusServiceUnavailable
	}
	if h.rdb != nil {
		status["cache"] = "up"
		if err := h.rdb.Ping(c.Request.Context()).Err(); err != nil {
			status["cache"] = "down"
		}
	}

	c.JSON(code, status)
}
