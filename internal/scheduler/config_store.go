package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/watzon/vine/internal/database"
)

// ConfigStore persists the schedule configuration keyed by config name.
type ConfigStore struct {
	db *database.DB
}

func NewConfigStore(db *database.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// Get returns the named configuration or an error marked ErrConfigNotFound.
func (s *ConfigStore) Get(ctx context.Context, name string) (*Config, error) {
	return getConfig(ctx, s.db, name)
}

// Create inserts a new configuration. A duplicate name yields ErrConfigExists.
func (s *ConfigStore) Create(ctx context.Context, cfg *Config) error {
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_config (
			config_name, enabled, interval_minutes, start_from_time, start_from_set_at,
			last_run_time, next_run_time, last_start_time, last_stop_time, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, configArgs(cfg)...)
	if err != nil {
		if database.IsUniqueError(database.ClassifyError(err)) {
			return errors.Wrapf(ErrConfigExists, "config %q", cfg.Name)
		}
		return errors.Wrap(err, "inserting scheduler config")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "reading scheduler config id")
	}
	cfg.ID = id
	return nil
}

// Save upserts the configuration.
func (s *ConfigStore) Save(ctx context.Context, cfg *Config) error {
	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		return saveConfig(ctx, tx, cfg)
	})
}

// Update applies fn to the named configuration inside one transaction and
// returns the stored result. If fn fails nothing is written.
func (s *ConfigStore) Update(ctx context.Context, name string, fn func(*Config) error) (*Config, error) {
	var updated *Config
	err := s.db.Transaction(ctx, func(tx *database.Tx) error {
		cfg, err := getConfig(ctx, tx, name)
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		if err := saveConfig(ctx, tx, cfg); err != nil {
			return err
		}
		updated = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func getConfig(ctx context.Context, q database.Querier, name string) (*Config, error) {
	var (
		cfg                       Config
		enabled                   int
		startFrom, startFromSetAt sql.NullString
		lastRun, nextRun          sql.NullString
		lastStart, lastStop       sql.NullString
		createdAt, updatedAt      string
	)

	err := q.QueryRowContext(ctx, `
		SELECT id, config_name, enabled, interval_minutes, start_from_time, start_from_set_at,
		       last_run_time, next_run_time, last_start_time, last_stop_time, created_at, updated_at
		FROM scheduler_config
		WHERE config_name = ?
	`, name).Scan(
		&cfg.ID, &cfg.Name, &enabled, &cfg.IntervalMinutes, &startFrom, &startFromSetAt,
		&lastRun, &nextRun, &lastStart, &lastStop, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrConfigNotFound, "config %q", name)
		}
		return nil, errors.Wrap(err, "querying scheduler config")
	}
	cfg.Enabled = enabled != 0

	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&cfg.StartFromTime, startFrom},
		{&cfg.StartFromSetAt, startFromSetAt},
		{&cfg.LastRunTime, lastRun},
		{&cfg.NextRunTime, nextRun},
		{&cfg.LastStartTime, lastStart},
		{&cfg.LastStopTime, lastStop},
	} {
		t, err := database.ParseNullTime(f.src)
		if err != nil {
			return nil, errors.Wrap(err, "parsing scheduler config")
		}
		*f.dst = t
	}

	if cfg.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if cfg.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func saveConfig(ctx context.Context, q database.Querier, cfg *Config) error {
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	_, err := q.ExecContext(ctx, `
		INSERT INTO scheduler_config (
			config_name, enabled, interval_minutes, start_from_time, start_from_set_at,
			last_run_time, next_run_time, last_start_time, last_stop_time, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(config_name) DO UPDATE SET
			enabled = excluded.enabled,
			interval_minutes = excluded.interval_minutes,
			start_from_time = excluded.start_from_time,
			start_from_set_at = excluded.start_from_set_at,
			last_run_time = excluded.last_run_time,
			next_run_time = excluded.next_run_time,
			last_start_time = excluded.last_start_time,
			last_stop_time = excluded.last_stop_time,
			updated_at = excluded.updated_at
	`, configArgs(cfg)...)
	if err != nil {
		return errors.Wrap(database.ClassifyError(err), "saving scheduler config")
	}
	return nil
}

func configArgs(cfg *Config) []any {
	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	return []any{
		cfg.Name,
		enabled,
		cfg.IntervalMinutes,
		database.NullTime(cfg.StartFromTime),
		database.NullTime(cfg.StartFromSetAt),
		database.NullTime(cfg.LastRunTime),
		database.NullTime(cfg.NextRunTime),
		database.NullTime(cfg.LastStartTime),
		database.NullTime(cfg.LastStopTime),
		database.FormatTime(cfg.CreatedAt),
		database.FormatTime(cfg.UpdatedAt),
	}
}
