package models

import (
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/pkg/utils"

	"gorm.io/gorm"
)

// Visitor is the latest accepted snapshot for one visitor id.
type Visitor struct {
	ID         string    `gorm:"primaryKey;size:26" json:"id"`
	VisitorID  string    `gorm:"uniqueIndex;not null;size:64" json:"visitor_id"`
	FirstVisit time.Time `gorm:"not null" json:"first_visit"`
	LastVisit  time.Time `gorm:"not null;index" json:"last_visit"`
	VisitCount int       `gorm:"not null;default:1" json:"visit_count"`
	Referrer   string    `gorm:"type:text" json:"referrer"`

	// Client-reported device info
	Browser          string `gorm:"size:50" json:"browser"`
	BrowserVersion   string `gorm:"size:50" json:"browser_version"`
	OS               string `gorm:"size:50" json:"os"`
	OSVersion        string `gorm:"size:50" json:"os_version"`
	Device           string `gorm:"size:20" json:"device"`
	ScreenResolution string `gorm:"size:20" json:"screen_resolution"`

	// Server-side enrichment
	UABrowser string `gorm:"size:100" json:"ua_browser"`
	IsBot     bool   `gorm:"default:false" json:"is_bot"`
	Country   string `gorm:"size:100;default:'Unknown'" json:"country"`
	Region    string `gorm:"size:100" json:"region"`
	City      string `gorm:"size:100" json:"city"`
	IPAddress string `gorm:"size:45" json:"ip_address,omitempty"` // masked

	HasConsent   bool       `gorm:"default:false;index" json:"has_consent"`
	ConsentDate  *time.Time `json:"consent_date,omitempty"`
	ContactName  string     `gorm:"size:255" json:"contact_name,omitempty"`
	ContactEmail string     `gorm:"size:255" json:"contact_email,omitempty"`
	ContactPhone string     `gorm:"size:50" json:"contact_phone,omitempty"`
	StorageData  string     `gorm:"type:text" json:"storage_data"` // JSON, empty stores without consent

	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Pages []PageVisit `gorm:"foreignKey:VisitorID;references:VisitorID;constraint:OnDelete:CASCADE" json:"pages,omitempty"`
}

func (Visitor) TableName() string {
	return "visitors"
}

func (v *Visitor) BeforeCreate(*gorm.DB) error {
	if v.ID == "" {
		v.ID = utils.NewRowID()
	}
	return nil
}

// HasContact reports whether any contact field is set.
func (v *Visitor) HasContact() bool {
	return v.ContactName != "" || v.ContactEmail != "" || v.ContactPhone != ""
}
