// Package progress defines the structured event stream a crawl run
// emits for its caller: per-run, per-page, per-part, and per-image
// milestones.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
	StagePageStart Stage = "PAGE_START"
	StagePageDone  Stage = "PAGE_DONE"
	StagePageError Stage = "PAGE_ERROR"
	StagePart      Stage = "PART"
	StageImage     Stage = "IMAGE"
)

// Event captures a single crawl-run milestone.
type Event struct {
	// RunID identifies one crawl run.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// URL is the page or image URL the event concerns, when applicable.
	URL string
	// Vehicle labels part/page events with the owning vehicle id.
	Vehicle string
	// PartID and Part label part and image events.
	PartID string
	Part   string
	// Outcome carries the part outcome (new/updated/restored/deleted/
	// unchanged) or image status (new/updated/unchanged) for the stage.
	Outcome string
	// Bytes is the transferred size for image events.
	Bytes int64
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageStart, StagePageDone, StagePageError:
		if e.URL == "" {
			return errors.New("page events require a url")
		}
	case StagePart:
		if e.Outcome == "" {
			return errors.New("part events require an outcome")
		}
	case StageImage:
		if e.URL == "" {
			return errors.New("image events require a url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}
