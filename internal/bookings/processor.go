package bookings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"github.com/watzon/vine/internal/database"
	"github.com/watzon/vine/internal/storage"
)

const keyTimeLayout = "20060102T150405Z"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Processor exports the bookings changed inside a window as NDJSON.
type Processor struct {
	db          database.Querier
	backend     storage.Backend
	table       string
	bucket      string
	compression string
}

// Options configures a Processor.
type Options struct {
	SourceTable string
	Bucket      string
	// Compression only selects the key suffix; the backend does the encoding.
	Compression string
}

func NewProcessor(db database.Querier, backend storage.Backend, opts Options) (*Processor, error) {
	if !identifierPattern.MatchString(opts.SourceTable) {
		return nil, errors.Newf("invalid source table %q", opts.SourceTable)
	}
	if opts.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Processor{
		db:          db,
		backend:     backend,
		table:       opts.SourceTable,
		bucket:      opts.Bucket,
		compression: opts.Compression,
	}, nil
}

// Process writes every booking with from < updated_at <= to to a single
// object and returns how many were written. An empty window writes nothing.
// Running the same window again overwrites the same object.
func (p *Processor) Process(ctx context.Context, from, to time.Time) (int64, error) {
	if to.Before(from) {
		return 0, errors.Newf("window end %s is before start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	query, args := database.NewQuery(p.table).
		Select(bookingColumns...).
		Filter("updated_at", database.OpGt, database.FormatTime(from)).
		Filter("updated_at", database.OpLte, database.FormatTime(to)).
		OrderBy("updated_at").
		OrderBy("id").
		Build()

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "querying bookings")
	}
	defer rows.Close()

	var (
		buf   bytes.Buffer
		count int64
	)
	enc := json.NewEncoder(&buf)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return 0, errors.Wrap(err, "scanning booking")
		}
		if err := enc.Encode(b); err != nil {
			return 0, errors.Wrapf(err, "encoding booking %d", b.ID)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "iterating bookings")
	}

	if count == 0 {
		log.Debug().
			Time("from", from).
			Time("to", to).
			Msg("No bookings changed in window")
		return 0, nil
	}

	key := ObjectKey(from, to, p.compression)
	if err := p.backend.Put(ctx, p.bucket, key, &buf, int64(buf.Len())); err != nil {
		return 0, errors.Wrapf(err, "writing export %s", key)
	}

	log.Info().
		Str("bucket", p.bucket).
		Str("key", key).
		Int64("records_processed", count).
		Msg("Bookings exported")

	return count, nil
}

// ObjectKey names the export for a window: YYYY/MM/DD/bookings_<from>_<to>.ndjson
// with the date taken from the window end and the compression suffix appended.
func ObjectKey(from, to time.Time, compression string) string {
	to = to.UTC()
	return fmt.Sprintf("%s/bookings_%s_%s.ndjson%s",
		to.Format("2006/01/02"),
		from.UTC().Format(keyTimeLayout),
		to.Format(keyTimeLayout),
		storage.Extension(compression),
	)
}
