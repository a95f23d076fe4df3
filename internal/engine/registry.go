package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/watzon/vine/internal/database"
)

// Registry persists job definitions and repeating triggers.
type Registry struct {
	db *database.DB
}

func NewRegistry(db *database.DB) *Registry {
	return &Registry{db: db}
}

// TriggerRecord is the persisted form of a repeating trigger.
type TriggerRecord struct {
	Key          TriggerKey
	Job          JobKey
	Interval     time.Duration
	NextFireAt   *time.Time
	LastFireAt   *time.Time
	FireCount    int64
	FailureCount int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UpsertJob stores a durable job definition.
func (r *Registry) UpsertJob(ctx context.Context, job JobKey, description string) error {
	now := database.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO engine_jobs (job_name, job_group, description, durable, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(job_name, job_group) DO UPDATE SET
			description = excluded.description,
			updated_at = excluded.updated_at
	`, job.Name, job.Group, description, now, now)
	if err != nil {
		return errors.Wrap(err, "saving job definition")
	}
	return nil
}

// JobExists reports whether a durable definition exists for job.
func (r *Registry) JobExists(ctx context.Context, job JobKey) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM engine_jobs WHERE job_name = ? AND job_group = ?`,
		job.Name, job.Group,
	).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "looking up job definition")
	}
	return n > 0, nil
}

// SaveTrigger inserts or replaces a trigger. Replacing resets its counters.
func (r *Registry) SaveTrigger(ctx context.Context, rec *TriggerRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO engine_triggers (
			trigger_name, trigger_group, job_name, job_group, interval_seconds,
			next_fire_at, last_fire_at, fire_count, failure_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trigger_name, trigger_group) DO UPDATE SET
			job_name = excluded.job_name,
			job_group = excluded.job_group,
			interval_seconds = excluded.interval_seconds,
			next_fire_at = excluded.next_fire_at,
			last_fire_at = excluded.last_fire_at,
			fire_count = excluded.fire_count,
			failure_count = excluded.failure_count,
			updated_at = excluded.updated_at
	`,
		rec.Key.Name, rec.Key.Group, rec.Job.Name, rec.Job.Group,
		int64(rec.Interval/time.Second),
		database.NullTime(rec.NextFireAt),
		database.NullTime(rec.LastFireAt),
		rec.FireCount, rec.FailureCount,
		database.FormatTime(rec.CreatedAt), database.FormatTime(rec.UpdatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "saving trigger")
	}
	return nil
}

// GetTrigger returns the trigger or nil when none is stored.
func (r *Registry) GetTrigger(ctx context.Context, key TriggerKey) (*TriggerRecord, error) {
	rows, err := r.db.QueryContext(ctx, triggerSelect+` WHERE trigger_name = ? AND trigger_group = ?`, key.Name, key.Group)
	if err != nil {
		return nil, errors.Wrap(err, "querying trigger")
	}
	defer rows.Close()

	recs, err := scanTriggers(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// ListTriggers returns every stored trigger ordered by key.
func (r *Registry) ListTriggers(ctx context.Context) ([]*TriggerRecord, error) {
	rows, err := r.db.QueryContext(ctx, triggerSelect+` ORDER BY trigger_group, trigger_name`)
	if err != nil {
		return nil, errors.Wrap(err, "querying triggers")
	}
	defer rows.Close()

	return scanTriggers(rows)
}

// DeleteTrigger removes a trigger and reports whether one existed.
func (r *Registry) DeleteTrigger(ctx context.Context, key TriggerKey) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM engine_triggers WHERE trigger_name = ? AND trigger_group = ?`,
		key.Name, key.Group,
	)
	if err != nil {
		return false, errors.Wrap(err, "deleting trigger")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "deleting trigger")
	}
	return n > 0, nil
}

// RecordFire stamps a trigger after one of its fires finished.
func (r *Registry) RecordFire(ctx context.Context, key TriggerKey, firedAt time.Time, next *time.Time, failed bool) error {
	failure := 0
	if failed {
		failure = 1
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE engine_triggers
		SET last_fire_at = ?,
		    next_fire_at = ?,
		    fire_count = fire_count + 1,
		    failure_count = failure_count + ?,
		    updated_at = ?
		WHERE trigger_name = ? AND trigger_group = ?
	`,
		database.FormatTime(firedAt),
		database.NullTime(next),
		failure,
		database.Now(),
		key.Name, key.Group,
	)
	if err != nil {
		return errors.Wrap(err, "updating trigger after fire")
	}
	return nil
}

const triggerSelect = `
	SELECT trigger_name, trigger_group, job_name, job_group, interval_seconds,
	       next_fire_at, last_fire_at, fire_count, failure_count, created_at, updated_at
	FROM engine_triggers`

func scanTriggers(rows *sql.Rows) ([]*TriggerRecord, error) {
	var recs []*TriggerRecord
	for rows.Next() {
		var (
			rec                  TriggerRecord
			intervalSeconds      int64
			nextFire, lastFire   sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(
			&rec.Key.Name, &rec.Key.Group, &rec.Job.Name, &rec.Job.Group,
			&intervalSeconds, &nextFire, &lastFire,
			&rec.FireCount, &rec.FailureCount, &createdAt, &updatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scanning trigger")
		}
		rec.Interval = time.Duration(intervalSeconds) * time.Second

		var err error
		if rec.NextFireAt, err = database.ParseNullTime(nextFire); err != nil {
			return nil, err
		}
		if rec.LastFireAt, err = database.ParseNullTime(lastFire); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, err
		}
		if rec.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
			return nil, err
		}

		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating triggers")
	}
	return recs, nil
}
