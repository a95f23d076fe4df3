package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func tableColumns(t *testing.T, db *sql.DB, table string) map[string]bool {
	t.Helper()

	rows, err := db.QueryContext(context.Background(), "PRAGMA table_info("+table+")")
	if err != nil {
		t.Fatalf("getting %s schema: %v", table, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("scanning column info: %v", err)
		}
		columns[name] = true
	}
	return columns
}

func TestRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _vine_versions").Scan(&count)
	if err != nil {
		t.Fatalf("version table query failed: %v", err)
	}

	if count != 4 {
		t.Errorf("expected 4 applied migrations, got %d", count)
	}
}

func TestRun_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}

	if err := Run(ctx, db); err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}

	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _vine_versions").Scan(&count)
	if err != nil {
		t.Fatalf("version table query failed: %v", err)
	}

	applied, err := GetApplied(ctx, db)
	if err != nil {
		t.Fatalf("GetApplied() failed: %v", err)
	}

	if len(applied) != count {
		t.Errorf("expected %d applied migrations, got %d", count, len(applied))
	}
}

func TestSchedulerTables(t *testing.T) {
	db := testDB(t)

	if err := Run(context.Background(), db); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	required := map[string][]string{
		"scheduler_config": {
			"config_name", "enabled", "interval_minutes", "start_from_time",
			"last_run_time", "next_run_time", "last_start_time", "last_stop_time",
			"created_at", "updated_at",
		},
		"job_execution_history": {
			"id", "job_name", "job_group", "trigger_name", "trigger_group",
			"start_time", "end_time", "status", "error_message", "records_processed",
			"duration_ms", "process_from_time", "process_to_time",
		},
		"engine_jobs":     {"job_name", "job_group", "description", "durable"},
		"engine_triggers": {"trigger_name", "trigger_group", "job_name", "interval_seconds", "fire_count", "failure_count"},
		"bookings":        {"id", "reference", "updated_at"},
	}

	for table, cols := range required {
		columns := tableColumns(t, db, table)
		for _, col := range cols {
			if !columns[col] {
				t.Errorf("%s missing required column: %s", table, col)
			}
		}
	}
}

func TestExecutionStatusCheck(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO job_execution_history (job_name, job_group, start_time, status, created_at)
		VALUES ('job', 'group', '2024-01-01T00:00:00Z', 'BOGUS', '2024-01-01T00:00:00Z')
	`)
	if err == nil {
		t.Error("expected check constraint failure for unknown status")
	}
}

func TestSplitStatements(t *testing.T) {
	content := `-- leading comment
CREATE TABLE a (v TEXT DEFAULT 'x;y');
-- between
CREATE INDEX idx_a ON a(v);
`
	stmts := splitStatements(content)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "CREATE TABLE a (v TEXT DEFAULT 'x;y')" {
		t.Errorf("unexpected first statement: %q", stmts[0])
	}
}
