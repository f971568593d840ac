package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/models"

	"gorm.io/gorm"
)

// AuditService records consent and contact changes in the background.
type AuditService struct {
	db      *gorm.DB
	logger  *slog.Logger
	channel chan models.AuditLog
}

func NewAuditService(db *gorm.DB, logger *slog.Logger) *AuditService {
	return &AuditService{
		db:      db,
		logger:  logger,
		channel: make(chan models.AuditLog, 100),
	}
}

func (s *AuditService) Start(ctx context.Context) {
	for {
		select {
		case entry := <-s.channel:
			if err := s.db.Create(&entry).Error; err != nil {
				s.logger.Error("Failed to write audit log", "action", entry.Action, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *AuditService) LogAction(visitorID, action string, details any, ip string) {
	detailBytes, err := json.Marshal(details)
	if err != nil {
		s.logger.Warn("Unable to encode audit details", "action", action, "error", err)
	}

	entry := models.AuditLog{
		VisitorID: visitorID,
		Action:    action,
		Details:   string(detailBytes),
		IPAddress: ip,
		Timestamp: time.Now().UTC(),
	}

	select {
	case s.channel <- entry:
	default:
		s.logger.Warn("Audit channel full, dropping log", "action", action, "visitor_id", visitorID)
	}
}
