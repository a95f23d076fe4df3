package executions

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"github.com/watzon/vine/internal/database"
)

// ErrNotFound is returned by Get when no record has the requested id.
var ErrNotFound = errors.New("execution record not found")

const historyTable = "job_execution_history"

var recordColumns = []string{
	"id", "job_name", "job_group", "trigger_name", "trigger_group",
	"start_time", "end_time", "status", "error_message", "records_processed",
	"duration_ms", "process_from_time", "process_to_time",
}

// Store handles database operations for execution history.
type Store struct {
	db *database.DB
}

// NewStore creates a new execution store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new record and returns its generated id. An empty status
// defaults to STARTED.
func (s *Store) Create(ctx context.Context, rec *Record) (int64, error) {
	if rec.Status == "" {
		rec.Status = StatusStarted
	}
	if err := validateRecord(rec); err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO job_execution_history (
			job_name, job_group, trigger_name, trigger_group,
			start_time, end_time, status, error_message, records_processed,
			duration_ms, process_from_time, process_to_time, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.JobName,
		rec.JobGroup,
		nullString(rec.TriggerName),
		nullString(rec.TriggerGroup),
		database.FormatTime(rec.StartTime),
		database.NullTime(rec.EndTime),
		rec.Status,
		nullString(rec.ErrorMessage),
		nullInt64(rec.RecordsProcessed),
		nullInt64(rec.DurationMs),
		database.NullTime(rec.ProcessFromTime),
		database.NullTime(rec.ProcessToTime),
		database.Now(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "inserting execution record")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "reading execution record id")
	}
	rec.ID = id

	return id, nil
}

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	return getRecord(ctx, s.db, id)
}

// Update applies fn to the record inside a transaction. It reports whether a
// change was written: unknown ids (including id <= 0) and records already in
// a terminal state are left untouched without error.
func (s *Store) Update(ctx context.Context, id int64, fn func(*Record)) (bool, error) {
	if id <= 0 {
		return false, nil
	}

	var applied bool
	err := s.db.Transaction(ctx, func(tx *database.Tx) error {
		rec, err := getRecord(ctx, tx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if rec.Status.Terminal() {
			log.Debug().
				Int64("execution_id", id).
				Str("status", string(rec.Status)).
				Msg("Ignoring update to finished execution")
			return nil
		}

		fn(rec)
		rec.ID = id

		if err := writeRecord(ctx, tx, rec); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// List returns records matching f, most recent first, together with the
// total number of matching records ignoring Limit and Offset.
func (s *Store) List(ctx context.Context, f Filter) ([]*Record, int64, error) {
	q := database.NewQuery(historyTable).Select(recordColumns...)
	if f.JobName != "" {
		q.Where("job_name", f.JobName)
	}
	if f.JobGroup != "" {
		q.Where("job_group", f.JobGroup)
	}
	if f.Since != nil {
		q.Filter("start_time", database.OpGte, database.FormatTime(*f.Since))
	}

	countSQL, countArgs := q.BuildCount()
	var total int64
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "counting execution records")
	}

	q.OrderByDesc("start_time").OrderByDesc("id").Limit(f.Limit).Offset(f.Offset)
	query, args := q.Build()

	records, err := queryRecords(ctx, s.db, query, args...)
	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// FindRunningOlderThan returns STARTED records with no end time whose start
// time is before cutoff, oldest first.
func (s *Store) FindRunningOlderThan(ctx context.Context, cutoff time.Time) ([]*Record, error) {
	return findRunning(ctx, s.db, cutoff)
}

// LastCompleted returns the COMPLETED record with the latest processing
// window end for the job, or nil if the job never completed a window.
func (s *Store) LastCompleted(ctx context.Context, jobName, jobGroup string) (*Record, error) {
	records, err := queryRecords(ctx, s.db, `
		SELECT `+strings.Join(recordColumns, ", ")+`
		FROM job_execution_history
		WHERE job_name = ? AND job_group = ?
		  AND status = ?
		  AND process_to_time IS NOT NULL
		ORDER BY process_to_time DESC, id DESC
		LIMIT 1
	`, jobName, jobGroup, StatusCompleted)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Stats aggregates counts and the latest success/error for a job. INTERRUPTED
// runs count as failed.
func (s *Store) Stats(ctx context.Context, jobName, jobGroup string) (*Stats, error) {
	var stats Stats
	var lastSuccess sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'COMPLETED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('FAILED', 'INTERRUPTED') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'STARTED' THEN 1 ELSE 0 END), 0),
			MAX(CASE WHEN status = 'COMPLETED' THEN end_time END)
		FROM job_execution_history
		WHERE job_name = ? AND job_group = ?
	`, jobName, jobGroup).Scan(
		&stats.Total,
		&stats.Successful,
		&stats.Failed,
		&stats.Running,
		&lastSuccess,
	)
	if err != nil {
		return nil, errors.Wrap(err, "aggregating execution history")
	}

	if stats.LastSuccessfulRun, err = database.ParseNullTime(lastSuccess); err != nil {
		return nil, errors.Wrap(err, "parsing last successful run")
	}

	var lastError sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT error_message
		FROM job_execution_history
		WHERE job_name = ? AND job_group = ?
		  AND status IN ('FAILED', 'INTERRUPTED')
		  AND error_message IS NOT NULL
		ORDER BY start_time DESC, id DESC
		LIMIT 1
	`, jobName, jobGroup).Scan(&lastError)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "querying last execution error")
	}
	stats.LastErrorMessage = lastError.String

	return &stats, nil
}

// MarkAbandoned finishes every STARTED record that began before cutoff with
// the given terminal status and message, in one transaction. It returns the
// records as written.
func (s *Store) MarkAbandoned(ctx context.Context, cutoff time.Time, status Status, message string, now time.Time) ([]*Record, error) {
	if !status.Terminal() {
		return nil, errors.Newf("cannot mark abandoned runs as %s", status)
	}

	var updated []*Record
	err := s.db.Transaction(ctx, func(tx *database.Tx) error {
		running, err := findRunning(ctx, tx, cutoff)
		if err != nil {
			return err
		}

		for _, rec := range running {
			end := now
			duration := end.Sub(rec.StartTime).Milliseconds()
			rec.EndTime = &end
			rec.DurationMs = &duration
			rec.Status = status
			rec.ErrorMessage = message

			if err := writeRecord(ctx, tx, rec); err != nil {
				return err
			}
		}

		updated = running
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func validateRecord(rec *Record) error {
	if !rec.Status.Valid() {
		return errors.Newf("invalid execution status %q", rec.Status)
	}
	if rec.Status == StatusStarted && rec.EndTime != nil {
		return errors.New("started execution must not have an end time")
	}
	if rec.Status.Terminal() && rec.EndTime == nil {
		return errors.Newf("%s execution requires an end time", rec.Status)
	}
	if rec.EndTime != nil && rec.DurationMs == nil {
		duration := rec.EndTime.Sub(rec.StartTime).Milliseconds()
		rec.DurationMs = &duration
	}
	return nil
}

func writeRecord(ctx context.Context, q database.Querier, rec *Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		UPDATE job_execution_history
		SET trigger_name = ?, trigger_group = ?, end_time = ?, status = ?,
		    error_message = ?, records_processed = ?, duration_ms = ?,
		    process_from_time = ?, process_to_time = ?
		WHERE id = ?
	`,
		nullString(rec.TriggerName),
		nullString(rec.TriggerGroup),
		database.NullTime(rec.EndTime),
		rec.Status,
		nullString(rec.ErrorMessage),
		nullInt64(rec.RecordsProcessed),
		nullInt64(rec.DurationMs),
		database.NullTime(rec.ProcessFromTime),
		database.NullTime(rec.ProcessToTime),
		rec.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "updating execution record %d", rec.ID)
	}
	return nil
}

func getRecord(ctx context.Context, q database.Querier, id int64) (*Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+strings.Join(recordColumns, ", ")+`
		FROM job_execution_history
		WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrNotFound, "id %d", id)
		}
		return nil, errors.Wrap(err, "querying execution record")
	}
	return rec, nil
}

func findRunning(ctx context.Context, q database.Querier, cutoff time.Time) ([]*Record, error) {
	query, args := database.NewQuery(historyTable).
		Select(recordColumns...).
		Where("status", string(StatusStarted)).
		Filter("end_time", database.OpIsNull, nil).
		Filter("start_time", database.OpLt, database.FormatTime(cutoff)).
		OrderBy("start_time").
		Build()

	return queryRecords(ctx, q, query, args...)
}

func queryRecords(ctx context.Context, q database.Querier, query string, args ...any) ([]*Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying execution history")
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning execution record")
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating execution history")
	}

	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var triggerName, triggerGroup, errorMessage sql.NullString
	var startTime string
	var endTime, processFrom, processTo sql.NullString
	var recordsProcessed, durationMs sql.NullInt64

	if err := row.Scan(
		&rec.ID,
		&rec.JobName,
		&rec.JobGroup,
		&triggerName,
		&triggerGroup,
		&startTime,
		&endTime,
		&rec.Status,
		&errorMessage,
		&recordsProcessed,
		&durationMs,
		&processFrom,
		&processTo,
	); err != nil {
		return nil, err
	}

	rec.TriggerName = triggerName.String
	rec.TriggerGroup = triggerGroup.String
	rec.ErrorMessage = errorMessage.String

	var err error
	if rec.StartTime, err = database.ParseTime(startTime); err != nil {
		return nil, errors.Wrap(err, "parsing start_time")
	}
	if rec.EndTime, err = database.ParseNullTime(endTime); err != nil {
		return nil, errors.Wrap(err, "parsing end_time")
	}
	if rec.ProcessFromTime, err = database.ParseNullTime(processFrom); err != nil {
		return nil, errors.Wrap(err, "parsing process_from_time")
	}
	if rec.ProcessToTime, err = database.ParseNullTime(processTo); err != nil {
		return nil, errors.Wrap(err, "parsing process_to_time")
	}
	if recordsProcessed.Valid {
		v := recordsProcessed.Int64
		rec.RecordsProcessed = &v
	}
	if durationMs.Valid {
		v := durationMs.Int64
		rec.DurationMs = &v
	}

	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
