package bookings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/watzon/vine/internal/database"
)

const (
	defaultStatus   = "PENDING"
	defaultCurrency = "USD"
)

// Store writes rows into the source table. The export never writes; Store
// exists for seeding and fixtures.
type Store struct {
	db    database.Querier
	table string
	now   func() time.Time
}

func NewStore(db database.Querier, table string) (*Store, error) {
	if !identifierPattern.MatchString(table) {
		return nil, errors.Newf("invalid source table %q", table)
	}
	return &Store{db: db, table: table, now: time.Now}, nil
}

// Upsert inserts b or replaces the row with the same reference. updated_at
// is always bumped so the change lands in the next export window.
func (s *Store) Upsert(ctx context.Context, b *Booking) error {
	if err := validateBooking(b); err != nil {
		return err
	}

	now := s.now().UTC()
	if b.Status == "" {
		b.Status = defaultStatus
	}
	if b.Currency == "" {
		b.Currency = defaultCurrency
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	var email any
	if b.CustomerEmail != "" {
		email = b.CustomerEmail
	}

	cols := bookingColumns[1:]
	updates := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == "reference" || c == "created_at" {
			continue
		}
		updates = append(updates, c+" = excluded."+c)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (%s)
		ON CONFLICT(reference) DO UPDATE SET %s
		RETURNING id
	`, s.table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "), strings.Join(updates, ", "))

	err := s.db.QueryRowContext(ctx, query,
		b.Reference, b.CustomerName, email, b.Resource, b.Status,
		database.FormatTime(b.StartsAt), database.FormatTime(b.EndsAt),
		b.AmountCents, b.Currency,
		database.FormatTime(b.CreatedAt), database.FormatTime(b.UpdatedAt),
	).Scan(&b.ID)
	if err != nil {
		return errors.Wrapf(database.ClassifyError(err), "upserting booking %s", b.Reference)
	}
	return nil
}

// Count returns how many rows the source table holds.
func (s *Store) Count(ctx context.Context) (int64, error) {
	query, args := database.NewQuery(s.table).BuildCount()
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "counting bookings")
	}
	return n, nil
}

func validateBooking(b *Booking) error {
	switch {
	case b.Reference == "":
		return errors.New("booking reference is required")
	case b.CustomerName == "":
		return errors.Newf("booking %s: customer name is required", b.Reference)
	case b.Resource == "":
		return errors.Newf("booking %s: resource is required", b.Reference)
	case b.StartsAt.IsZero() || b.EndsAt.IsZero():
		return errors.Newf("booking %s: start and end are required", b.Reference)
	case b.EndsAt.Before(b.StartsAt):
		return errors.Newf("booking %s: ends before it starts", b.Reference)
	}
	return nil
}
