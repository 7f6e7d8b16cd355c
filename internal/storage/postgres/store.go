// Package postgres provides the Postgres-backed persistence
// implementation for the mirrored entities.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tkuosman/partsmirror/internal/scrape"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

type queryRunner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements scrape.Store on a pgx pool. Schema creation and
// migration are the embedding application's concern.
type Store struct {
	ops
	pool dbPool
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{ops: ops{q: pool}, pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing with pgxmock).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{ops: ops{q: pool}, pool: pool}, nil
}

// Begin opens a scoped transaction grouping one part's writes.
func (s *Store) Begin(ctx context.Context) (scrape.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &storeTx{ops: ops{q: tx}, tx: tx}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

type storeTx struct {
	ops
	tx pgx.Tx
}

func (t *storeTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (t *storeTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// ops implements scrape.Ops over either the pool or a transaction.
type ops struct {
	q queryRunner
}

const vehicleColumns = "id, brand, model, category, url, updated_at"

func (o ops) VehicleByURL(ctx context.Context, url string) (*scrape.Vehicle, error) {
	row := o.q.QueryRow(ctx,
		"SELECT "+vehicleColumns+" FROM vehicles WHERE url = $1", url)
	return scanVehicle(row)
}

func (o ops) VehicleByID(ctx context.Context, id string) (*scrape.Vehicle, error) {
	row := o.q.QueryRow(ctx,
		"SELECT "+vehicleColumns+" FROM vehicles WHERE id = $1", id)
	return scanVehicle(row)
}

func (o ops) UpsertVehicle(ctx context.Context, v scrape.Vehicle) error {
	_, err := o.q.Exec(ctx, `
INSERT INTO vehicles (id, brand, model, category, url, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	brand = EXCLUDED.brand,
	model = EXCLUDED.model,
	category = EXCLUDED.category,
	url = EXCLUDED.url,
	updated_at = EXCLUDED.updated_at`,
		v.ID, v.Brand, v.Model, v.Category, v.URL, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert vehicle: %w", err)
	}
	return nil
}

const partColumns = `id, vehicle_id, name, part_number, description, price, currency,
	image_url, image_path, source_url, scraped_at, last_seen, is_deleted, deleted_at`

func (o ops) PartByNumber(ctx context.Context, vehicleID, partNumber string) (*scrape.Part, error) {
	row := o.q.QueryRow(ctx,
		"SELECT "+partColumns+" FROM parts WHERE vehicle_id = $1 AND part_number = $2",
		vehicleID, partNumber)
	return scanPart(row)
}

func (o ops) PartByName(ctx context.Context, vehicleID, name string) (*scrape.Part, error) {
	row := o.q.QueryRow(ctx,
		"SELECT "+partColumns+" FROM parts WHERE vehicle_id = $1 AND name = $2",
		vehicleID, name)
	return scanPart(row)
}

func (o ops) InsertPart(ctx context.Context, p scrape.Part) error {
	_, err := o.q.Exec(ctx, `
INSERT INTO parts (
	id, vehicle_id, name, part_number, description, price, currency,
	image_url, image_path, source_url, scraped_at, last_seen, is_deleted, deleted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.VehicleID, p.Name, p.PartNumber, p.Description, p.Price, p.Currency,
		p.ImageURL, p.ImagePath, p.SourceURL, p.ScrapedAt, p.LastSeen, p.IsDeleted, p.DeletedAt)
	if err != nil {
		return fmt.Errorf("insert part: %w", err)
	}
	return nil
}

func (o ops) UpdatePart(ctx context.Context, p scrape.Part) error {
	_, err := o.q.Exec(ctx, `
UPDATE parts SET
	name = $2, part_number = $3, description = $4, price = $5, currency = $6,
	image_url = $7, image_path = $8, source_url = $9, scraped_at = $10,
	last_seen = $11, is_deleted = $12, deleted_at = $13
WHERE id = $1`,
		p.ID, p.Name, p.PartNumber, p.Description, p.Price, p.Currency,
		p.ImageURL, p.ImagePath, p.SourceURL, p.ScrapedAt, p.LastSeen, p.IsDeleted, p.DeletedAt)
	if err != nil {
		return fmt.Errorf("update part: %w", err)
	}
	return nil
}

func (o ops) ActiveParts(ctx context.Context, vehicleID string) ([]scrape.Part, error) {
	rows, err := o.q.Query(ctx,
		"SELECT "+partColumns+" FROM parts WHERE vehicle_id = $1 AND is_deleted = FALSE",
		vehicleID)
	if err != nil {
		return nil, fmt.Errorf("list active parts: %w", err)
	}
	defer rows.Close()

	var parts []scrape.Part
	for rows.Next() {
		p, err := scanPartRow(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active parts: %w", err)
	}
	return parts, nil
}

func (o ops) MarkPartDeleted(ctx context.Context, partID string, at time.Time) error {
	_, err := o.q.Exec(ctx,
		"UPDATE parts SET is_deleted = TRUE, deleted_at = $2 WHERE id = $1", partID, at)
	if err != nil {
		return fmt.Errorf("mark part deleted: %w", err)
	}
	return nil
}

func (o ops) AppendHistory(ctx context.Context, h scrape.PartHistory) error {
	_, err := o.q.Exec(ctx, `
INSERT INTO part_history (
	part_id, vehicle_id, name, part_number, description, price, currency,
	image_url, image_path, source_url, is_deleted, deleted_at, event, recorded_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		h.PartID, h.VehicleID, h.Name, h.PartNumber, h.Description, h.Price, h.Currency,
		h.ImageURL, h.ImagePath, h.SourceURL, h.IsDeleted, h.DeletedAt, string(h.Event), h.RecordedAt)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (o ops) UpsertImageAsset(ctx context.Context, a scrape.ImageAsset) error {
	_, err := o.q.Exec(ctx, `
INSERT INTO part_images (part_id, image_url, local_path, position)
VALUES ($1, $2, NULLIF($3, ''), $4)
ON CONFLICT (part_id, image_url) DO UPDATE SET
	position = EXCLUDED.position,
	local_path = COALESCE(NULLIF(EXCLUDED.local_path, ''), part_images.local_path)`,
		a.PartID, a.URL, a.LocalPath, a.Position)
	if err != nil {
		return fmt.Errorf("upsert image asset: %w", err)
	}
	return nil
}

func (o ops) ImageAsset(ctx context.Context, partID, url string) (*scrape.ImageAsset, error) {
	row := o.q.QueryRow(ctx, `
SELECT part_id, image_url, COALESCE(local_path, ''), position
FROM part_images WHERE part_id = $1 AND image_url = $2`, partID, url)
	var a scrape.ImageAsset
	if err := row.Scan(&a.PartID, &a.URL, &a.LocalPath, &a.Position); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select image asset: %w", err)
	}
	return &a, nil
}

func (o ops) ImageAssets(ctx context.Context, partID string) ([]scrape.ImageAsset, error) {
	rows, err := o.q.Query(ctx, `
SELECT part_id, image_url, COALESCE(local_path, ''), position
FROM part_images WHERE part_id = $1 ORDER BY position`, partID)
	if err != nil {
		return nil, fmt.Errorf("list image assets: %w", err)
	}
	defer rows.Close()

	var assets []scrape.ImageAsset
	for rows.Next() {
		var a scrape.ImageAsset
		if err := rows.Scan(&a.PartID, &a.URL, &a.LocalPath, &a.Position); err != nil {
			return nil, fmt.Errorf("scan image asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list image assets: %w", err)
	}
	return assets, nil
}

func scanVehicle(row pgx.Row) (*scrape.Vehicle, error) {
	var v scrape.Vehicle
	err := row.Scan(&v.ID, &v.Brand, &v.Model, &v.Category, &v.URL, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select vehicle: %w", err)
	}
	return &v, nil
}

func scanPart(row pgx.Row) (*scrape.Part, error) {
	p, err := scanPartRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select part: %w", err)
	}
	return &p, nil
}

func scanPartRow(row pgx.Row) (scrape.Part, error) {
	var p scrape.Part
	err := row.Scan(&p.ID, &p.VehicleID, &p.Name, &p.PartNumber, &p.Description,
		&p.Price, &p.Currency, &p.ImageURL, &p.ImagePath, &p.SourceURL,
		&p.ScrapedAt, &p.LastSeen, &p.IsDeleted, &p.DeletedAt)
	if err != nil {
		return scrape.Part{}, err
	}
	return p, nil
}
