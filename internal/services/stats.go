package services

import (
	"context"
	"fmt"

	"github.com/brightensolutions/brightensolutions-sub000/internal/models"

	"gorm.io/gorm"
)

type Bucket struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type PageStat struct {
	Path         string  `json:"path"`
	Views        int64   `json:"views"`
	AvgTimeSpent float64 `json:"avg_time_spent"` // seconds, measured visits only
}

type Stats struct {
	Visitors  int64      `json:"visitors"`
	Consented int64      `json:"consented"`
	Bots      int64      `json:"bots"`
	PageViews int64      `json:"page_views"`
	Browsers  []Bucket   `json:"browsers"`
	OS        []Bucket   `json:"os"`
	Devices   []Bucket   `json:"devices"`
	Countries []Bucket   `json:"countries"`
	TopPages  []PageStat `json:"top_pages"`
}

// StatsService aggregates stored visitors for the back office.
type StatsService struct {
	db *gorm.DB
}

func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{db: db}
}

const topPagesLimit = 10

func (s *StatsService) Summary(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	stats := &Stats{}

	if err := db.Model(&models.Visitor{}).Count(&stats.Visitors).Error; err != nil {
		return nil, fmt.Errorf("failed to count visitors: %w", err)
	}
	if err := db.Model(&models.Visitor{}).Where("has_consent = ?", true).Count(&stats.Consented).Error; err != nil {
		return nil, fmt.Errorf("failed to count consented visitors: %w", err)
	}
	if err := db.Model(&models.Visitor{}).Where("is_bot = ?", true).Count(&stats.Bots).Error; err != nil {
		return nil, fmt.Errorf("failed to count bots: %w", err)
	}
	if err := db.Model(&models.PageVisit{}).Count(&stats.PageViews).Error; err != nil {
		return nil, fmt.Errorf("failed to count page views: %w", err)
	}

	groups := []struct {
		column string
		dest   *[]Bucket
	}{
		{"browser", &stats.Browsers},
		{"os", &stats.OS},
		{"device", &stats.Devices},
		{"country", &stats.Countries},
	}
	for _, g := range groups {
		*g.dest = []Bucket{}
		err := db.Model(&models.Visitor{}).
			Select(g.column + " as name, count(*) as count").
			Group(g.column).
			Order("count desc, name").
			Scan(g.dest).Error
		if err != nil {
			return nil, fmt.Errorf("failed to group by %s: %w", g.column, err)
		}
	}

	stats.TopPages = []PageStat{}
	err := db.Model(&models.PageVisit{}).
		Select("path, count(*) as views, coalesce(avg(time_spent), 0) as avg_time_spent").
		Group("path").
		Order("views desc, path").
		Limit(topPagesLimit).
		Scan(&stats.TopPages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank pages: %w", err)
	}

	return stats, nil
}
