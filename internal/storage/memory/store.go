// Package memory implements scrape.Store with in-process maps. It backs
// tracker and orchestrator tests; operations apply immediately and the
// returned transactions are no-ops on commit/rollback.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tkuosman/partsmirror/internal/scrape"
)

// Store is a mutex-guarded in-memory implementation of scrape.Store.
type Store struct {
	mu         sync.Mutex
	vehicles   map[string]scrape.Vehicle
	parts      map[string]scrape.Part
	history    []scrape.PartHistory
	assets     map[string]map[string]scrape.ImageAsset
	assetOrder map[string][]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		vehicles:   make(map[string]scrape.Vehicle),
		parts:      make(map[string]scrape.Part),
		assets:     make(map[string]map[string]scrape.ImageAsset),
		assetOrder: make(map[string][]string),
	}
}

// VehicleByURL returns the vehicle with a matching canonical URL.
func (s *Store) VehicleByURL(_ context.Context, url string) (*scrape.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vehicles {
		if v.URL == url {
			cp := v
			return &cp, nil
		}
	}
	return nil, nil
}

// VehicleByID returns the vehicle with the given id.
func (s *Store) VehicleByID(_ context.Context, id string) (*scrape.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vehicles[id]; ok {
		cp := v
		return &cp, nil
	}
	return nil, nil
}

// UpsertVehicle inserts or replaces a vehicle row.
func (s *Store) UpsertVehicle(_ context.Context, v scrape.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[v.ID] = v
	return nil
}

// PartByNumber returns the vehicle's part with a matching part number.
func (s *Store) PartByNumber(_ context.Context, vehicleID, partNumber string) (*scrape.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.parts {
		if p.VehicleID == vehicleID && p.PartNumber == partNumber {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

// PartByName returns the vehicle's part with a matching name.
func (s *Store) PartByName(_ context.Context, vehicleID, name string) (*scrape.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.parts {
		if p.VehicleID == vehicleID && p.Name == name {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

// InsertPart adds a new part row.
func (s *Store) InsertPart(_ context.Context, p scrape.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[p.ID] = p
	return nil
}

// UpdatePart replaces an existing part row.
func (s *Store) UpdatePart(_ context.Context, p scrape.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[p.ID] = p
	return nil
}

// ActiveParts lists the vehicle's non-tombstoned parts.
func (s *Store) ActiveParts(_ context.Context, vehicleID string) ([]scrape.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scrape.Part
	for _, p := range s.parts {
		if p.VehicleID == vehicleID && !p.IsDeleted {
			out = append(out, p)
		}
	}
	return out, nil
}

// MarkPartDeleted flips a part to its tombstone state.
func (s *Store) MarkPartDeleted(_ context.Context, partID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[partID]
	if !ok {
		return nil
	}
	p.IsDeleted = true
	p.DeletedAt = &at
	s.parts[partID] = p
	return nil
}

// AppendHistory appends a snapshot to the history log.
func (s *Store) AppendHistory(_ context.Context, h scrape.PartHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, h)
	return nil
}

// UpsertImageAsset inserts or updates one asset row. An empty LocalPath
// never clobbers a previously resolved one.
func (s *Store) UpsertImageAsset(_ context.Context, a scrape.ImageAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.assets[a.PartID]
	if !ok {
		rows = make(map[string]scrape.ImageAsset)
		s.assets[a.PartID] = rows
	}
	if existing, exists := rows[a.URL]; exists {
		existing.Position = a.Position
		if a.LocalPath != "" {
			existing.LocalPath = a.LocalPath
		}
		rows[a.URL] = existing
		return nil
	}
	rows[a.URL] = a
	s.assetOrder[a.PartID] = append(s.assetOrder[a.PartID], a.URL)
	return nil
}

// ImageAsset returns one asset row, or nil when absent.
func (s *Store) ImageAsset(_ context.Context, partID, url string) (*scrape.ImageAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assets[partID][url]; ok {
		cp := a
		return &cp, nil
	}
	return nil, nil
}

// ImageAssets lists a part's asset rows in first-discovery order.
func (s *Store) ImageAssets(_ context.Context, partID string) ([]scrape.ImageAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scrape.ImageAsset
	for _, url := range s.assetOrder[partID] {
		out = append(out, s.assets[partID][url])
	}
	return out, nil
}

// Begin returns a pass-through transaction.
func (s *Store) Begin(context.Context) (scrape.Tx, error) {
	return &tx{Store: s}, nil
}

// Close implements scrape.Store.
func (s *Store) Close() {}

type tx struct {
	*Store
}

func (t *tx) Commit(context.Context) error   { return nil }
func (t *tx) Rollback(context.Context) error { return nil }

// Part returns a part row by id for test assertions.
func (s *Store) Part(id string) (scrape.Part, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[id]
	return p, ok
}

// History returns a copy of the history log for test assertions.
func (s *Store) History() []scrape.PartHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scrape.PartHistory(nil), s.history...)
}
