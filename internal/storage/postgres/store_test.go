package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/tkuosman/partsmirror/internal/scrape"
)

var passTS = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func samplePart() scrape.Part {
	return scrape.Part{
		ID:         "part-1",
		VehicleID:  "veh-1",
		Name:       "Tank",
		PartNumber: "12345",
		Price:      45,
		Currency:   "EUR",
		ImageURL:   "https://example.fi/images/a/tank.jpg",
		ImagePath:  "a/tank.jpg",
		SourceURL:  "https://example.fi/osat/a.html",
		ScrapedAt:  passTS,
		LastSeen:   passTS,
	}
}

func TestUpsertVehicle(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	v := scrape.Vehicle{
		ID: "veh-1", Brand: "Aprilia", Model: "RS 125",
		Category: "Motorcycles", URL: "https://example.fi/osat/a.html", UpdatedAt: passTS,
	}

	mock.ExpectExec("INSERT INTO vehicles").
		WithArgs(v.ID, v.Brand, v.Model, v.Category, v.URL, v.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertVehicle(context.Background(), v))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleByURLNotFoundReturnsNil(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM vehicles WHERE url").
		WithArgs("https://example.fi/osat/missing.html").
		WillReturnRows(pgxmock.NewRows([]string{"id", "brand", "model", "category", "url", "updated_at"}))

	v, err := store.VehicleByURL(context.Background(), "https://example.fi/osat/missing.html")
	require.NoError(t, err)
	require.Nil(t, v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPartByNumberScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	p := samplePart()

	rows := pgxmock.NewRows([]string{
		"id", "vehicle_id", "name", "part_number", "description", "price", "currency",
		"image_url", "image_path", "source_url", "scraped_at", "last_seen", "is_deleted", "deleted_at",
	}).AddRow(p.ID, p.VehicleID, p.Name, p.PartNumber, p.Description, p.Price, p.Currency,
		p.ImageURL, p.ImagePath, p.SourceURL, p.ScrapedAt, p.LastSeen, p.IsDeleted, p.DeletedAt)

	mock.ExpectQuery("SELECT (.+) FROM parts WHERE vehicle_id").
		WithArgs(p.VehicleID, p.PartNumber).
		WillReturnRows(rows)

	got, err := store.PartByNumber(context.Background(), p.VehicleID, p.PartNumber)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, p, *got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPartWritesRunInsideTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	p := samplePart()
	h := scrape.Snapshot(p, scrape.EventUpdated, passTS)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO part_history").
		WithArgs(h.PartID, h.VehicleID, h.Name, h.PartNumber, h.Description, h.Price, h.Currency,
			h.ImageURL, h.ImagePath, h.SourceURL, h.IsDeleted, h.DeletedAt, string(h.Event), h.RecordedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE parts SET").
		WithArgs(p.ID, p.Name, p.PartNumber, p.Description, p.Price, p.Currency,
			p.ImageURL, p.ImagePath, p.SourceURL, p.ScrapedAt, p.LastSeen, p.IsDeleted, p.DeletedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AppendHistory(ctx, h))
	require.NoError(t, tx.UpdatePart(ctx, p))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivePartsListsRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	p := samplePart()

	rows := pgxmock.NewRows([]string{
		"id", "vehicle_id", "name", "part_number", "description", "price", "currency",
		"image_url", "image_path", "source_url", "scraped_at", "last_seen", "is_deleted", "deleted_at",
	}).AddRow(p.ID, p.VehicleID, p.Name, p.PartNumber, p.Description, p.Price, p.Currency,
		p.ImageURL, p.ImagePath, p.SourceURL, p.ScrapedAt, p.LastSeen, p.IsDeleted, p.DeletedAt)

	mock.ExpectQuery("SELECT (.+) FROM parts WHERE vehicle_id = (.+) AND is_deleted = FALSE").
		WithArgs(p.VehicleID).
		WillReturnRows(rows)

	got, err := store.ActiveParts(context.Background(), p.VehicleID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, p, got[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPartDeleted(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE parts SET is_deleted = TRUE").
		WithArgs("part-1", passTS).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkPartDeleted(context.Background(), "part-1", passTS))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertImageAssetPreservesKnownLocalPath(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	a := scrape.ImageAsset{PartID: "part-1", URL: "https://example.fi/images/a/tank.jpg", Position: 0}

	mock.ExpectExec("INSERT INTO part_images").
		WithArgs(a.PartID, a.URL, a.LocalPath, a.Position).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertImageAsset(context.Background(), a))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImageAssetNotFoundReturnsNil(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM part_images WHERE part_id").
		WithArgs("part-1", "https://example.fi/images/x.jpg").
		WillReturnRows(pgxmock.NewRows([]string{"part_id", "image_url", "local_path", "position"}))

	a, err := store.ImageAsset(context.Background(), "part-1", "https://example.fi/images/x.jpg")
	require.NoError(t, err)
	require.Nil(t, a)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}
