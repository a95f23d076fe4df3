package bookings

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/vine/internal/config"
	"github.com/watzon/vine/internal/database"
	"github.com/watzon/vine/internal/storage"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func insertBooking(t *testing.T, db *database.DB, ref string, updatedAt time.Time) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO bookings (reference, customer_name, customer_email, resource, status,
			starts_at, ends_at, amount_cents, currency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ref, "Ada Lovelace", nil, "room-1", "CONFIRMED",
		database.FormatTime(base.Add(24*time.Hour)),
		database.FormatTime(base.Add(26*time.Hour)),
		12500, "EUR",
		database.FormatTime(updatedAt.Add(-time.Hour)),
		database.FormatTime(updatedAt),
	)
	require.NoError(t, err)
}

func decode(t *testing.T, r io.Reader) []Booking {
	t.Helper()
	var out []Booking
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var b Booking
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &b))
		out = append(out, b)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestProcessor_ExportsWindow(t *testing.T) {
	db := testDB(t)
	backend := storage.NewFilesystemBackend(t.TempDir())

	from := base
	to := base.Add(time.Hour)

	insertBooking(t, db, "at-from", from)
	insertBooking(t, db, "inside-b", from.Add(30*time.Minute))
	insertBooking(t, db, "inside-a", from.Add(10*time.Minute))
	insertBooking(t, db, "at-to", to)
	insertBooking(t, db, "after", to.Add(time.Second))

	p, err := NewProcessor(db, backend, Options{SourceTable: "bookings", Bucket: "exports"})
	require.NoError(t, err)

	n, err := p.Process(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	key := ObjectKey(from, to, "")
	rc, err := backend.Get(context.Background(), "exports", key)
	require.NoError(t, err)
	defer rc.Close()

	got := decode(t, rc)
	require.Len(t, got, 3)
	assert.Equal(t, "inside-a", got[0].Reference)
	assert.Equal(t, "inside-b", got[1].Reference)
	assert.Equal(t, "at-to", got[2].Reference)
	assert.Empty(t, got[0].CustomerEmail)
	assert.Equal(t, int64(12500), got[0].AmountCents)
	assert.True(t, got[2].UpdatedAt.Equal(to))
}

func TestProcessor_EmptyWindowWritesNothing(t *testing.T) {
	db := testDB(t)
	backend := storage.NewFilesystemBackend(t.TempDir())

	p, err := NewProcessor(db, backend, Options{SourceTable: "bookings", Bucket: "exports"})
	require.NoError(t, err)

	n, err := p.Process(context.Background(), base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	exists, err := backend.Exists(context.Background(), "exports", ObjectKey(base, base.Add(time.Hour), ""))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestProcessor_ReprocessingOverwrites(t *testing.T) {
	db := testDB(t)
	raw := storage.NewFilesystemBackend(t.TempDir())
	backend, err := storage.NewCompressedBackend(raw, storage.CompressionZstd)
	require.NoError(t, err)

	from, to := base, base.Add(time.Hour)
	insertBooking(t, db, "one", from.Add(time.Minute))

	p, err := NewProcessor(db, backend, Options{SourceTable: "bookings", Bucket: "exports", Compression: storage.CompressionZstd})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), from, to)
	require.NoError(t, err)

	insertBooking(t, db, "two", from.Add(2*time.Minute))
	n, err := p.Process(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	key := ObjectKey(from, to, storage.CompressionZstd)
	assert.Equal(t, "2024/06/01/bookings_20240601T120000Z_20240601T130000Z.ndjson.zst", key)

	rc, err := backend.Get(context.Background(), "exports", key)
	require.NoError(t, err)
	defer rc.Close()
	assert.Len(t, decode(t, rc), 2)
}

func TestProcessor_RejectsInvertedWindow(t *testing.T) {
	p, err := NewProcessor(testDB(t), storage.NewFilesystemBackend(t.TempDir()), Options{SourceTable: "bookings", Bucket: "exports"})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), base, base.Add(-time.Minute))
	assert.Error(t, err)
}

func TestNewProcessor_Validation(t *testing.T) {
	backend := storage.NewFilesystemBackend(t.TempDir())

	_, err := NewProcessor(nil, backend, Options{SourceTable: "bookings; DROP TABLE x", Bucket: "exports"})
	assert.Error(t, err)

	_, err = NewProcessor(nil, backend, Options{SourceTable: "bookings"})
	assert.Error(t, err)
}

func TestProcessor_QueryFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectQuery("SELECT .* FROM bookings WHERE updated_at > \\? AND updated_at <= \\? ORDER BY updated_at ASC, id ASC").
		WillReturnError(errors.New("no such table: bookings"))

	p, err := NewProcessor(database.Wrap(sqlDB), storage.NewFilesystemBackend(t.TempDir()), Options{SourceTable: "bookings", Bucket: "exports"})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), base, base.Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "querying bookings")
	require.NoError(t, mock.ExpectationsWereMet())
}

type failingBackend struct {
	storage.Backend
}

func (failingBackend) Put(context.Context, string, string, io.Reader, int64) error {
	return errors.New("bucket unavailable")
}

func TestProcessor_BackendFailure(t *testing.T) {
	db := testDB(t)
	insertBooking(t, db, "one", base.Add(time.Minute))

	p, err := NewProcessor(db, failingBackend{}, Options{SourceTable: "bookings", Bucket: "exports"})
	require.NoError(t, err)

	n, err := p.Process(context.Background(), base, base.Add(time.Hour))
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "bucket unavailable")
}

func TestObjectKey(t *testing.T) {
	from := time.Date(2024, 5, 31, 23, 30, 0, 0, time.UTC)
	to := time.Date(2024, 6, 1, 0, 30, 0, 0, time.FixedZone("CET", 3600))

	assert.Equal(t, "2024/05/31/bookings_20240531T233000Z_20240531T233000Z.ndjson.gz", ObjectKey(from, to, storage.CompressionGzip))
	assert.Equal(t, "2024/05/31/bookings_20240531T233000Z_20240531T233000Z.ndjson", ObjectKey(from, from, storage.CompressionNone))
}
