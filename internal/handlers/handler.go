package handlers

import (
	"log/slog"

	"github.com/brightensolutions/brightensolutions-sub000/internal/config"
	"github.com/brightensolutions/brightensolutions-sub000/internal/services"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Handler struct {
	cfg            config.Config
	logger         *slog.Logger
	db             *gorm.DB
	rdb            *redis.Client
	visitorService *services.VisitorService
	statsService   *services.StatsService
}

func NewHandler(
	cfg config.Config,
	logger *slog.Logger,
	db *gorm.DB,
	rdb *redis.Client,
	visitorService *services.VisitorService,
	statsService *services.StatsService,
) *Handler {
	return &Handler{
		cfg:            cfg,
		logger:         logger,
		db:             db,
		rdb:            rdb,
		visitorService: visitorService,
		statsService:   statsService,
	}
}
