package scrape

import (
	"context"
	"time"
)

// Fetcher retrieves remote resources. Implementations perform a single
// bounded-timeout request with no retries; retry policy, if any, belongs
// to the caller.
type Fetcher interface {
	// FetchPage retrieves a listing page body.
	FetchPage(ctx context.Context, url string) ([]byte, error)
	// FetchBytes retrieves a binary resource body.
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	// ProbeSize performs a metadata-only check and returns the remote
	// content length, or -1 when the server does not report one.
	ProbeSize(ctx context.Context, url string) (int64, error)
}

// Ops is the row-level persistence contract shared by Store and Tx.
// Lookup methods return (nil, nil) when no row matches.
type Ops interface {
	VehicleByURL(ctx context.Context, url string) (*Vehicle, error)
	VehicleByID(ctx context.Context, id string) (*Vehicle, error)
	UpsertVehicle(ctx context.Context, v Vehicle) error

	PartByNumber(ctx context.Context, vehicleID, partNumber string) (*Part, error)
	PartByName(ctx context.Context, vehicleID, name string) (*Part, error)
	InsertPart(ctx context.Context, p Part) error
	UpdatePart(ctx context.Context, p Part) error
	// ActiveParts lists the vehicle's parts with IsDeleted unset.
	ActiveParts(ctx context.Context, vehicleID string) ([]Part, error)
	MarkPartDeleted(ctx context.Context, partID string, at time.Time) error

	AppendHistory(ctx context.Context, h PartHistory) error

	UpsertImageAsset(ctx context.Context, a ImageAsset) error
	ImageAsset(ctx context.Context, partID, url string) (*ImageAsset, error)
	ImageAssets(ctx context.Context, partID string) ([]ImageAsset, error)
}

// Store persists the mirrored entities. Begin opens a scoped transaction
// used to group one part's writes; implementations without transactional
// semantics may return a Tx that applies operations immediately.
type Store interface {
	Ops
	Begin(ctx context.Context) (Tx, error)
	Close()
}

// Tx groups row operations; Rollback after Commit is a no-op.
type Tx interface {
	Ops
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
