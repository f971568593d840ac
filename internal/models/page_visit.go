package models

import (
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/pkg/utils"

	"gorm.io/gorm"
)

type PageVisit struct {
	ID        string    `gorm:"primaryKey;size:26" json:"id"`
	VisitorID string    `gorm:"not null;size:64;index:idx_page_visits_visitor_seq,priority:1" json:"visitor_id"`
	Seq       int       `gorm:"not null;index:idx_page_visits_visitor_seq,priority:2" json:"seq"`
	Path      string    `gorm:"type:text;not null;index" json:"path"`
	Title     string    `gorm:"type:text" json:"title"`
	VisitedAt time.Time `gorm:"not null" json:"visited_at"`
	TimeSpent *int      `json:"time_spent,omitempty"` // seconds, nil while the page is open
}

func (PageVisit) TableName() string {
	return "page_visits"
}

func (p *PageVisit) BeforeCreate(*gorm.DB) error {
	if p.ID != "" {
		return nil
	}
	id, err := utils.NewRowIDAt(p.VisitedAt)
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}
