// Package tracker compares freshly extracted records against stored
// state, applies inserts and updates, archives prior snapshots into the
// append-only history log, and reconciles vanished parts into
// tombstones with restore semantics.
package tracker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tkuosman/partsmirror/internal/identity"
	"github.com/tkuosman/partsmirror/internal/scrape"
)

// AssetSyncer synchronizes a part's images and upserts its asset rows.
type AssetSyncer interface {
	SyncPart(ctx context.Context, ops scrape.Ops, partID string, urls []string) ([]scrape.AssetOutcome, error)
}

// PartOutcome classifies what one pass did with one part.
type PartOutcome string

// Per-part pass outcomes.
const (
	PartNew       PartOutcome = "new"
	PartUpdated   PartOutcome = "updated"
	PartRestored  PartOutcome = "restored"
	PartUnchanged PartOutcome = "unchanged"
	PartDeleted   PartOutcome = "deleted"
	PartError     PartOutcome = "error"
)

// Result reports one part's pass outcome upward.
type Result struct {
	PartID  string
	Name    string
	Outcome PartOutcome
	Assets  []scrape.AssetOutcome
}

// Tracker owns all Vehicle and Part writes during a crawl pass. Each
// part's insert/update plus its history and asset rows run inside one
// scoped store transaction.
type Tracker struct {
	store  scrape.Store
	assets AssetSyncer
	logger *zap.Logger
}

// New builds a Tracker. assets may be nil when image downloading is off.
func New(store scrape.Store, assets AssetSyncer, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, assets: assets, logger: logger}
}

// EnsureVehicle correlates a sighted model page with a stored vehicle,
// creating or refreshing the row. Matching prefers the canonical URL
// (robust against brand-parsing improvements), then the derived id.
func (t *Tracker) EnsureVehicle(ctx context.Context, brand, model, category, url string, now time.Time) (scrape.Vehicle, error) {
	brand = identity.NormalizeBrand(brand)
	id := identity.VehicleID(brand, model)

	stored, err := t.store.VehicleByURL(ctx, url)
	if err != nil {
		return scrape.Vehicle{}, err
	}
	if stored == nil {
		if stored, err = t.store.VehicleByID(ctx, id); err != nil {
			return scrape.Vehicle{}, err
		}
	}

	v := scrape.Vehicle{ID: id, Brand: brand, Model: model, Category: category, URL: url, UpdatedAt: now}
	if stored != nil {
		// Keep the stored id so existing part identities stay valid.
		v.ID = stored.ID
	}
	if err := t.store.UpsertVehicle(ctx, v); err != nil {
		return scrape.Vehicle{}, err
	}
	return v, nil
}

// TrackPart processes one extracted record for a vehicle. The returned
// error is non-nil only when the run was aborted; persistence failures
// are logged and the pass continues.
func (t *Tracker) TrackPart(ctx context.Context, vehicle scrape.Vehicle, rec scrape.ExtractedPart, sourceURL string, now time.Time) (Result, error) {
	existing, err := t.matchPart(ctx, vehicle.ID, rec)
	if err != nil {
		t.logger.Error("part lookup failed", zap.String("vehicle_id", vehicle.ID),
			zap.String("name", rec.Name), zap.Error(err))
		// The id is content-derived, so it can be reported without the
		// store: the part stays in the pass's seen set and a transient
		// lookup failure never tombstones a part that is on the page.
		id := identity.PartID(vehicle.ID, rec.PartNumber, rec.Name)
		return Result{PartID: id, Name: rec.Name, Outcome: PartError}, nil
	}
	if existing == nil {
		return t.insertPart(ctx, vehicle, rec, sourceURL, now)
	}
	return t.updatePart(ctx, *existing, rec, sourceURL, now)
}

func (t *Tracker) matchPart(ctx context.Context, vehicleID string, rec scrape.ExtractedPart) (*scrape.Part, error) {
	if rec.PartNumber != "" {
		return t.store.PartByNumber(ctx, vehicleID, rec.PartNumber)
	}
	return t.store.PartByName(ctx, vehicleID, rec.Name)
}

func (t *Tracker) insertPart(ctx context.Context, vehicle scrape.Vehicle, rec scrape.ExtractedPart, sourceURL string, now time.Time) (Result, error) {
	part := scrape.Part{
		ID:          identity.PartID(vehicle.ID, rec.PartNumber, rec.Name),
		VehicleID:   vehicle.ID,
		Name:        rec.Name,
		PartNumber:  rec.PartNumber,
		Description: rec.Description,
		Price:       rec.Price,
		Currency:    rec.Currency,
		ImageURL:    rec.ImageURL,
		SourceURL:   sourceURL,
		ScrapedAt:   now,
		LastSeen:    now,
	}
	result := Result{PartID: part.ID, Name: part.Name, Outcome: PartNew}

	tx, err := t.store.Begin(ctx)
	if err != nil {
		t.logger.Error("begin part transaction failed", zap.String("part_id", part.ID), zap.Error(err))
		return result, nil
	}
	defer rollback(ctx, tx)

	if err := tx.InsertPart(ctx, part); err != nil {
		// First-time insert failures never fail the run.
		t.logger.Error("part insert failed", zap.String("part_id", part.ID),
			zap.String("name", part.Name), zap.Error(err))
		return result, nil
	}

	outcomes, abortErr := t.syncAssets(ctx, tx, part.ID, rec)
	result.Assets = outcomes
	if abortErr != nil {
		return result, abortErr
	}

	if path := primaryLocalPath(ctx, tx, part.ID, part.ImageURL); path != "" {
		part.ImagePath = path
		if err := tx.UpdatePart(ctx, part); err != nil {
			t.logger.Error("part image path update failed", zap.String("part_id", part.ID), zap.Error(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		t.logger.Error("part insert commit failed", zap.String("part_id", part.ID), zap.Error(err))
	}
	return result, nil
}

func (t *Tracker) updatePart(ctx context.Context, existing scrape.Part, rec scrape.ExtractedPart, sourceURL string, now time.Time) (Result, error) {
	result := Result{PartID: existing.ID, Name: rec.Name, Outcome: PartUnchanged}

	tx, err := t.store.Begin(ctx)
	if err != nil {
		t.logger.Error("begin part transaction failed", zap.String("part_id", existing.ID), zap.Error(err))
		return result, nil
	}
	defer rollback(ctx, tx)

	outcomes, abortErr := t.syncAssets(ctx, tx, existing.ID, rec)
	result.Assets = outcomes
	if abortErr != nil {
		return result, abortErr
	}

	imageChanged, backupPath := imageContentChange(outcomes, existing.ImageURL)
	changed := fieldsDiffer(existing, rec) || imageChanged || existing.IsDeleted

	if changed {
		event := scrape.EventUpdated
		if existing.IsDeleted {
			event = scrape.EventRestored
			result.Outcome = PartRestored
		} else {
			result.Outcome = PartUpdated
		}
		snapshot := scrape.Snapshot(existing, event, now)
		if imageChanged && backupPath != "" {
			// The history snapshot should point at the bytes that were
			// current when it was taken, not at the overwritten file.
			snapshot.ImagePath = backupPath
		}
		if err := tx.AppendHistory(ctx, snapshot); err != nil {
			t.logger.Error("history append failed", zap.String("part_id", existing.ID), zap.Error(err))
			return result, nil
		}
	}

	updated := existing
	updated.Name = rec.Name
	updated.PartNumber = rec.PartNumber
	updated.Description = rec.Description
	updated.Price = rec.Price
	updated.Currency = rec.Currency
	updated.ImageURL = rec.ImageURL
	updated.SourceURL = sourceURL
	updated.LastSeen = now
	updated.IsDeleted = false
	updated.DeletedAt = nil
	if changed {
		updated.ScrapedAt = now
	}
	if path := primaryLocalPath(ctx, tx, updated.ID, updated.ImageURL); path != "" {
		updated.ImagePath = path
	}

	if err := tx.UpdatePart(ctx, updated); err != nil {
		// Logged; the record stays in its prior state.
		t.logger.Error("part update failed", zap.String("part_id", existing.ID), zap.Error(err))
		return Result{PartID: existing.ID, Name: rec.Name, Outcome: PartUnchanged, Assets: outcomes}, nil
	}
	if err := tx.Commit(ctx); err != nil {
		t.logger.Error("part update commit failed", zap.String("part_id", existing.ID), zap.Error(err))
		return Result{PartID: existing.ID, Name: rec.Name, Outcome: PartUnchanged, Assets: outcomes}, nil
	}
	return result, nil
}

// ReconcileMissing tombstones the vehicle's active parts that were not
// seen in this pass. Already-deleted parts are left untouched, which
// makes the reconciliation idempotent.
func (t *Tracker) ReconcileMissing(ctx context.Context, vehicleID string, seen map[string]struct{}, now time.Time) ([]Result, error) {
	active, err := t.store.ActiveParts(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	var results []Result
	for _, part := range active {
		if _, ok := seen[part.ID]; ok {
			continue
		}
		tx, err := t.store.Begin(ctx)
		if err != nil {
			t.logger.Error("begin tombstone transaction failed", zap.String("part_id", part.ID), zap.Error(err))
			continue
		}
		if err := tx.AppendHistory(ctx, scrape.Snapshot(part, scrape.EventDeleted, now)); err != nil {
			t.logger.Error("tombstone history append failed", zap.String("part_id", part.ID), zap.Error(err))
			rollback(ctx, tx)
			continue
		}
		if err := tx.MarkPartDeleted(ctx, part.ID, now); err != nil {
			t.logger.Error("tombstone mark failed", zap.String("part_id", part.ID), zap.Error(err))
			rollback(ctx, tx)
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			t.logger.Error("tombstone commit failed", zap.String("part_id", part.ID), zap.Error(err))
			continue
		}
		results = append(results, Result{PartID: part.ID, Name: part.Name, Outcome: PartDeleted})
	}
	return results, nil
}

func (t *Tracker) syncAssets(ctx context.Context, ops scrape.Ops, partID string, rec scrape.ExtractedPart) ([]scrape.AssetOutcome, error) {
	if t.assets == nil || len(rec.ImageURLs) == 0 {
		return nil, nil
	}
	outcomes, err := t.assets.SyncPart(ctx, ops, partID, rec.ImageURLs)
	if err != nil && errors.Is(err, scrape.ErrAborted) {
		return outcomes, err
	}
	return outcomes, nil
}

// fieldsDiffer compares the tracked fields: price (numeric and
// currency), name, description, and the primary image reference.
func fieldsDiffer(stored scrape.Part, rec scrape.ExtractedPart) bool {
	return stored.Price != rec.Price ||
		stored.Currency != rec.Currency ||
		stored.Name != rec.Name ||
		stored.Description != rec.Description ||
		stored.ImageURL != rec.ImageURL
}

// imageContentChange reports whether any asset's content was replaced
// this pass, and the backup path of the stored primary image if its
// content changed.
func imageContentChange(outcomes []scrape.AssetOutcome, primaryURL string) (bool, string) {
	changed := false
	backupPath := ""
	for _, o := range outcomes {
		if o.Err != nil || o.Status != scrape.AssetUpdated {
			continue
		}
		changed = true
		if o.URL == primaryURL {
			backupPath = o.BackupPath
		}
	}
	return changed, backupPath
}

// primaryLocalPath prefers the locally stored asset path whenever the
// asset table holds one for the (part, image URL) pair.
func primaryLocalPath(ctx context.Context, ops scrape.Ops, partID, imageURL string) string {
	if imageURL == "" {
		return ""
	}
	row, err := ops.ImageAsset(ctx, partID, imageURL)
	if err != nil || row == nil {
		return ""
	}
	return row.LocalPath
}

func rollback(ctx context.Context, tx scrape.Tx) {
	_ = tx.Rollback(ctx)
}
