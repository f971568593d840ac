package tracking

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// DeviceInfo is the detector output attached to every snapshot.
type DeviceInfo struct {
	Browser          string `json:"browser"`
	BrowserVersion   string `json:"browserVersion"`
	OS               string `json:"os"`
	OSVersion        string `json:"osVersion"`
	Device           string `json:"device"`
	ScreenResolution string `json:"screenResolution"`
}

// PageVisit is one navigation observed by the tracker. TimeSpent is whole
// seconds and stays nil until the visit has accrued at least one second.
type PageVisit struct {
	Path      string    `json:"path" binding:"required"`
	Title     string    `json:"title"`
	VisitedAt time.Time `json:"visitedAt" binding:"required"`
	TimeSpent *int      `json:"timeSpent,omitempty" binding:"omitempty,min=0,max=2678400"`
}

// ContactInfo is optional visitor-supplied contact data.
type ContactInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// StorageData is the consent gated dump of the three ambient stores.
type StorageData struct {
	Cookies        map[string]string `json:"cookies"`
	LocalStorage   map[string]string `json:"localStorage"`
	SessionStorage map[string]string `json:"sessionStorage"`
}

// EmptyStorageData is what a visitor without consent reports.
func EmptyStorageData() StorageData {
	return StorageData{
		Cookies:        map[string]string{},
		LocalStorage:   map[string]string{},
		SessionStorage: map[string]string{},
	}
}

// VisitorData is the full snapshot posted to the ingest endpoint. Every sync
// carries the complete state, so the consumer can apply last-write-wins by
// VisitorID.
type VisitorData struct {
	VisitorID    string       `json:"visitorId" binding:"required,max=64"`
	FirstVisit   time.Time    `json:"firstVisit" binding:"required"`
	LastVisit    time.Time    `json:"lastVisit" binding:"required"`
	VisitCount   int          `json:"visitCount" binding:"min=1,max=1000000"`
	PagesVisited []PageVisit  `json:"pagesVisited" binding:"max=100,dive"`
	Referrer     string       `json:"referrer"`
	Device       DeviceInfo   `json:"device"`
	HasConsent   bool         `json:"hasConsent"`
	ConsentDate  *time.Time   `json:"consentDate,omitempty"`
	ContactInfo  *ContactInfo `json:"contactInfo,omitempty"`
	StorageData  StorageData  `json:"storageData"`
	SentAt       *time.Time   `json:"sentAt,omitempty"`
}

// Payload limits. The binding tags above carry the same numbers.
const (
	MaxPagesPerSnapshot = 100
	MaxTimeSpent        = 31 * 24 * 60 * 60
	MaxVisitCount       = 1_000_000
)

// Timestamps outside [earliestTimestamp, now+maxClockSkew] are rejected.
var earliestTimestamp = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const maxClockSkew = 48 * time.Hour

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// payloadValidator uses gin's "binding" tag so client and server share one
// schema definition.
func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.SetTagName("binding")
	})
	return validate
}

// Normalize replaces nil collections with empty ones so they encode as []
// and {} rather than null.
func (v *VisitorData) Normalize() {
	if v.PagesVisited == nil {
		v.PagesVisited = []PageVisit{}
	}
	if v.StorageData.Cookies == nil {
		v.StorageData.Cookies = map[string]string{}
	}
	if v.StorageData.LocalStorage == nil {
		v.StorageData.LocalStorage = map[string]string{}
	}
	if v.StorageData.SessionStorage == nil {
		v.StorageData.SessionStorage = map[string]string{}
	}
}

func (v *VisitorData) Validate() error {
	if err := payloadValidator().Struct(v); err != nil {
		return fmt.Errorf("invalid visitor data: %w", err)
	}
	if err := v.checkTimes(time.Now()); err != nil {
		return fmt.Errorf("invalid visitor data: %w", err)
	}
	return nil
}

func (v *VisitorData) checkTimes(now time.Time) error {
	latest := now.Add(maxClockSkew)
	check := func(field string, ts time.Time) error {
		if ts.Before(earliestTimestamp) || ts.After(latest) {
			return fmt.Errorf("%s %s out of range", field, ts.UTC().Format(time.RFC3339))
		}
		return nil
	}
	if err := check("firstVisit", v.FirstVisit); err != nil {
		return err
	}
	if err := check("lastVisit", v.LastVisit); err != nil {
		return err
	}
	for i, p := range v.PagesVisited {
		if err := check(fmt.Sprintf("pagesVisited[%d].visitedAt", i), p.VisitedAt); err != nil {
			return err
		}
	}
	if v.ConsentDate != nil {
		if err := check("consentDate", *v.ConsentDate); err != nil {
			return err
		}
	}
	if v.SentAt != nil {
		if err := check("sentAt", *v.SentAt); err != nil {
			return err
		}
	}
	return nil
}

// Encode normalizes, validates and serializes the snapshot.
func (v VisitorData) Encode() ([]byte, error) {
	v.Normalize()
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
