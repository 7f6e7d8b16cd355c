// Package scrape defines core types shared across subsystems.
package scrape

import (
	"time"
)

// Vehicle is a model page mirrored from the listing site. Vehicles are
// created on first sighting and updated in place; they are never deleted
// by the crawl core.
type Vehicle struct {
	ID        string
	Brand     string
	Model     string
	Category  string
	URL       string
	UpdatedAt time.Time
}

// Part is one replacement part belonging to exactly one Vehicle.
// IsDeleted marks a tombstone: the row is retained and eligible for
// restoration if the part reappears on a later pass.
type Part struct {
	ID          string
	VehicleID   string
	Name        string
	PartNumber  string
	Description string
	Price       float64
	Currency    string
	ImageURL    string
	ImagePath   string
	SourceURL   string
	ScrapedAt   time.Time
	LastSeen    time.Time
	IsDeleted   bool
	DeletedAt   *time.Time
}

// HistoryEvent tags why a snapshot was archived.
type HistoryEvent string

// Supported history events.
const (
	EventUpdated  HistoryEvent = "updated"
	EventDeleted  HistoryEvent = "deleted"
	EventRestored HistoryEvent = "restored"
)

// PartHistory is an append-only snapshot of a Part taken at the moment a
// transition was detected. Rows are never mutated after insertion;
// RecordedAt plus insertion order reconstructs a per-part timeline.
type PartHistory struct {
	PartID      string
	VehicleID   string
	Name        string
	PartNumber  string
	Description string
	Price       float64
	Currency    string
	ImageURL    string
	ImagePath   string
	SourceURL   string
	IsDeleted   bool
	DeletedAt   *time.Time
	Event       HistoryEvent
	RecordedAt  time.Time
}

// Snapshot captures the current state of p as a history entry.
func Snapshot(p Part, event HistoryEvent, at time.Time) PartHistory {
	return PartHistory{
		PartID:      p.ID,
		VehicleID:   p.VehicleID,
		Name:        p.Name,
		PartNumber:  p.PartNumber,
		Description: p.Description,
		Price:       p.Price,
		Currency:    p.Currency,
		ImageURL:    p.ImageURL,
		ImagePath:   p.ImagePath,
		SourceURL:   p.SourceURL,
		IsDeleted:   p.IsDeleted,
		DeletedAt:   p.DeletedAt,
		Event:       event,
		RecordedAt:  at,
	}
}

// ImageAsset is one distinct remote image observed for a part. Position 0
// is the first-discovered/primary candidate. LocalPath stays empty until
// the first successful download.
type ImageAsset struct {
	PartID    string
	URL       string
	LocalPath string
	Position  int
}

// AssetStatus classifies the outcome of synchronizing one image.
type AssetStatus string

// Asset synchronization outcomes.
const (
	AssetNew       AssetStatus = "new"
	AssetUpdated   AssetStatus = "updated"
	AssetUnchanged AssetStatus = "unchanged"
)

// AssetOutcome reports one image synchronization upward, both for
// observability and for the change tracker's image-content-changed
// signal.
type AssetOutcome struct {
	URL        string
	Status     AssetStatus
	Bytes      int64
	LocalPath  string
	BackupPath string
	Err        error
}

// Changed reports whether the local content was replaced this pass.
func (o AssetOutcome) Changed() bool {
	return o.Err == nil && (o.Status == AssetNew || o.Status == AssetUpdated)
}

// ExtractedPart is a raw candidate record recovered from one listing
// page, before identity assignment. ImageURLs preserves discovery order
// and contains ImageURL when one was found.
type ExtractedPart struct {
	Name        string
	PartNumber  string
	Description string
	Price       float64
	Currency    string
	ImageURL    string
	ImageURLs   []string
}

// ModelLink is one candidate model-page link found on a category page.
type ModelLink struct {
	Title string
	URL   string
}
