package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/models"
	"github.com/brightensolutions/brightensolutions-sub000/pkg/tracking"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const drainTimeout = 5 * time.Second

var (
	ErrQueueFull       = errors.New("ingest queue full")
	ErrVisitorNotFound = errors.New("visitor not found")
)

// Snapshot is one accepted POST /api/tracking/visitor body together with the
// request metadata used for enrichment.
type Snapshot struct {
	Data       tracking.VisitorData
	IP         string
	UserAgent  string
	ReceivedAt time.Time
}

// VisitorService stores visitor snapshots last-write-wins by visitor id.
// The HTTP path only enqueues; a single Start loop drains the queue, so
// writes for one visitor never interleave.
type VisitorService struct {
	db     *gorm.DB
	logger *slog.Logger
	queue  chan Snapshot
	geoIP  *GeoIPService
	audit  *AuditService
	cache  *SnapshotCache
}

func NewVisitorService(db *gorm.DB, logger *slog.Logger, geoIP *GeoIPService, audit *AuditService, cache *SnapshotCache, queueSize int) *VisitorService {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &VisitorService{
		db:     db,
		logger: logger,
		queue:  make(chan Snapshot, queueSize),
		geoIP:  geoIP,
		audit:  audit,
		cache:  cache,
	}
}

func (s *VisitorService) Start(ctx context.Context) {
	s.logger.Info("Visitor ingest worker starting")
	for {
		select {
		case snap := <-s.queue:
			if _, err := s.Save(ctx, snap); err != nil {
				s.logger.Error("Failed to store visitor snapshot", "visitor_id", snap.Data.VisitorID, "error", err)
			}
		case <-ctx.Done():
			s.logger.Info("Visitor ingest worker stopping", "pending", len(s.queue))
			s.drain(context.WithoutCancel(ctx))
			return
		}
	}
}

// drain stores snapshots that were already acknowledged with 202, bounded by
// drainTimeout.
func (s *VisitorService) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	for {
		select {
		case snap := <-s.queue:
			if _, err := s.Save(ctx, snap); err != nil {
				s.logger.Error("Failed to store visitor snapshot", "visitor_id", snap.Data.VisitorID, "error", err)
			}
		default:
			return
		}
	}
}

// SubmitAsync enqueues snap, or returns ErrQueueFull without blocking.
func (s *VisitorService) SubmitAsync(snap Snapshot) error {
	select {
	case s.queue <- snap:
		return nil
	default:
		s.logger.Warn("Ingest channel full, dropping snapshot", "visitor_id", snap.Data.VisitorID)
		return ErrQueueFull
	}
}

// Save applies snap. It reports false when a newer snapshot for the same
// visitor is already stored.
func (s *VisitorService) Save(ctx context.Context, snap Snapshot) (bool, error) {
	data := snap.Data
	data.Normalize()
	if err := data.Validate(); err != nil {
		return false, err
	}
	if snap.ReceivedAt.IsZero() {
		snap.ReceivedAt = time.Now()
	}
	e := s.enrich(snap.UserAgent, snap.IP)

	var previous *models.Visitor
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Visitor
		err := tx.Where("visitor_id = ?", data.VisitorID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("failed to load visitor: %w", err)
		default:
			if isStale(data.SentAt, existing.SentAt) {
				return nil
			}
			previous = &existing
		}

		row, err := visitorRow(data, e, previous)
		if err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Save(row).Error; err != nil {
			return fmt.Errorf("failed to save visitor: %w", err)
		}

		if err := tx.Where("visitor_id = ?", data.VisitorID).Delete(&models.PageVisit{}).Error; err != nil {
			return fmt.Errorf("failed to clear page history: %w", err)
		}
		if pages := pageRows(data); len(pages) > 0 {
			if err := tx.CreateInBatches(&pages, 100).Error; err != nil {
				return fmt.Errorf("failed to insert page history: %w", err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !applied {
		s.logger.Debug("Ignoring stale snapshot", "visitor_id", data.VisitorID)
		return false, nil
	}

	s.cache.Invalidate(ctx, data.VisitorID)
	s.recordChanges(data, previous, e.MaskedIP)
	return true, nil
}

// isStale reports whether incoming was sent before stored. Snapshots without
// a send time fall back to arrival order.
func isStale(incoming, stored *time.Time) bool {
	return incoming != nil && stored != nil && incoming.Before(*stored)
}

func visitorRow(data tracking.VisitorData, e enrichment, previous *models.Visitor) (*models.Visitor, error) {
	storage := data.StorageData
	if !data.HasConsent {
		storage = tracking.EmptyStorageData()
	}
	storageJSON, err := json.Marshal(storage)
	if err != nil {
		return nil, fmt.Errorf("failed to encode storage data: %w", err)
	}

	row := &models.Visitor{
		VisitorID:        data.VisitorID,
		FirstVisit:       data.FirstVisit.UTC(),
		LastVisit:        data.LastVisit.UTC(),
		VisitCount:       data.VisitCount,
		Referrer:         data.Referrer,
		Browser:          data.Device.Browser,
		BrowserVersion:   data.Device.BrowserVersion,
		OS:               data.Device.OS,
		OSVersion:        data.Device.OSVersion,
		Device:           data.Device.Device,
		ScreenResolution: data.Device.ScreenResolution,
		UABrowser:        e.UABrowser,
		IsBot:            e.IsBot,
		Country:          e.Country,
		Region:           e.Region,
		City:             e.City,
		IPAddress:        e.MaskedIP,
		HasConsent:       data.HasConsent,
		StorageData:      string(storageJSON),
		SentAt:           utcPtr(data.SentAt),
	}
	if data.HasConsent {
		row.ConsentDate = utcPtr(data.ConsentDate)
	}

	if previous != nil {
		row.ID = previous.ID
		row.CreatedAt = previous.CreatedAt
		// a snapshot without contact info leaves the stored contact untouched
		row.ContactName = previous.ContactName
		row.ContactEmail = previous.ContactEmail
		row.ContactPhone = previous.ContactPhone
	}
	if c := data.ContactInfo; c != nil {
		row.ContactName = c.Name
		row.ContactEmail = c.Email
		row.ContactPhone = c.Phone
	}
	return row, nil
}

func pageRows(data tracking.VisitorData) []models.PageVisit {
	pages := make([]models.PageVisit, 0, len(data.PagesVisited))
	for i, p := range data.PagesVisited {
		pages = append(pages, models.PageVisit{
			VisitorID: data.VisitorID,
			Seq:       i,
			Path:      p.Path,
			Title:     p.Title,
			VisitedAt: p.VisitedAt.UTC(),
			TimeSpent: p.TimeSpent,
		})
	}
	return pages
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *VisitorService) recordChanges(data tracking.VisitorData, previous *models.Visitor, ip string) {
	if s.audit == nil {
		return
	}
	hadConsent := previous != nil && previous.HasConsent
	switch {
	case data.HasConsent && !hadConsent:
		s.audit.LogAction(data.VisitorID, models.ActionConsentGranted, map[string]any{"consentDate": data.ConsentDate}, ip)
	case !data.HasConsent && hadConsent:
		s.audit.LogAction(data.VisitorID, models.ActionConsentRevoked, nil, ip)
	}

	if c := data.ContactInfo; c != nil {
		changed := previous == nil ||
			previous.ContactName != c.Name ||
			previous.ContactEmail != c.Email ||
			previous.ContactPhone != c.Phone
		if changed {
			s.audit.LogAction(data.VisitorID, models.ActionContactUpdated, map[string]bool{
				"name":  c.Name != "",
				"email": c.Email != "",
				"phone": c.Phone != "",
				"first": previous == nil || !previous.HasContact(),
			}, ip)
		}
	}
}

// Get returns the stored visitor with its page history in visit order.
func (s *VisitorService) Get(ctx context.Context, visitorID string) (*models.Visitor, error) {
	if v, ok := s.cache.Get(ctx, visitorID); ok {
		return v, nil
	}

	var v models.Visitor
	err := s.db.WithContext(ctx).
		Preload("Pages", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		Where("visitor_id = ?", visitorID).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVisitorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load visitor: %w", err)
	}

	s.cache.Set(ctx, &v)
	return &v, nil
}
