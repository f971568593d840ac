package models

import (
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/pkg/utils"

	"gorm.io/gorm"
)

const (
	ActionConsentGranted = "CONSENT_GRANTED"
	ActionConsentRevoked = "CONSENT_REVOKED"
	ActionContactUpdated = "CONTACT_UPDATED"
)

type AuditLog struct {
	ID        string    `gorm:"primaryKey;size:26" json:"id"`
	VisitorID string    `gorm:"index;size:64" json:"visitor_id"`
	Action    string    `gorm:"size:50;not null" json:"action"` // one of the Action* constants
	Details   string    `gorm:"type:text" json:"details"`       // JSON
	IPAddress string    `gorm:"size:45" json:"ip_address"`      // masked
	Timestamp time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"timestamp"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

func (a *AuditLog) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.NewRowID()
	}
	return nil
}

// All returns every model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{&Visitor{}, &PageVisit{}, &AuditLog{}}
}
