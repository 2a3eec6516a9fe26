package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// Every file holds exactly one portable statement so the same schema applies
// on MySQL and SQLite.
//
//go:embed schema/*.sql
var schemaFS embed.FS

const schemaTable = "expat_schema_migrations"

// timeLayout is fixed width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// StepRun is one row of the run ledger. The ledger is informational: steps
// decide what is left to do from the data they own, never from this table.
type StepRun struct {
	RunID      string
	Step       string
	Direction  string
	DryRun     bool
	Outcome    string
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// schemaFiles returns the embedded schema files in apply order.
func schemaFiles() ([]string, error) {
	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// EnsureLedger applies pending ledger schema files and returns the names of
// the files applied by this call.
func (db *DB) EnsureLedger(ctx context.Context) ([]string, error) {
	files, err := schemaFiles()
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+schemaTable+` (
		version VARCHAR(255) NOT NULL PRIMARY KEY,
		applied_at VARCHAR(32) NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s table: %w", schemaTable, Classify(err))
	}

	var applied []string
	for _, file := range files {
		var count int
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+schemaTable+" WHERE version = ?", file).Scan(&count)
		if err != nil {
			return applied, fmt.Errorf("failed to check schema status for %s: %w", file, Classify(err))
		}
		if count > 0 {
			continue
		}

		content, err := schemaFS.ReadFile(path.Join("schema", file))
		if err != nil {
			return applied, fmt.Errorf("failed to read schema %s: %w", file, err)
		}

		// MySQL commits DDL implicitly, so the statement and its bookkeeping
		// row are not wrapped in one transaction.
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return applied, fmt.Errorf("failed to execute schema %s: %w", file, Classify(err))
		}
		_, err = db.ExecContext(ctx, "INSERT INTO "+schemaTable+" (version, applied_at) VALUES (?, ?)",
			file, formatTime(time.Now()))
		if err != nil {
			return applied, fmt.Errorf("failed to record schema %s: %w", file, Classify(err))
		}
		applied = append(applied, file)
	}
	return applied, nil
}

// RecordStepRun inserts one ledger row.
func (db *DB) RecordStepRun(ctx context.Context, r StepRun) error {
	_, err := db.ExecContext(ctx, `INSERT INTO expat_step_runs
		(run_id, step, direction, dry_run, outcome, detail, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Step, r.Direction, boolInt(r.DryRun), r.Outcome, r.Detail,
		formatTime(r.StartedAt), formatTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to record run of %s: %w", r.Step, Classify(err))
	}
	return nil
}

// StepRuns returns the most recent ledger rows, newest first. A limit of zero
// or less returns every row. Rows for one step can be selected with step.
func (db *DB) StepRuns(ctx context.Context, step string, limit int) ([]StepRun, error) {
	query := `SELECT run_id, step, direction, dry_run, outcome, detail, started_at, finished_at
		FROM expat_step_runs`
	var args []any
	if step != "" {
		query += " WHERE step = ?"
		args = append(args, step)
	}
	query += " ORDER BY started_at DESC, run_id, step"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query step runs: %w", Classify(err))
	}
	defer rows.Close()

	var out []StepRun
	for rows.Next() {
		var (
			r                 StepRun
			dryRun            int
			detail            sql.NullString
			started, finished string
		)
		if err := rows.Scan(&r.RunID, &r.Step, &r.Direction, &dryRun, &r.Outcome, &detail, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan step run: %w", err)
		}
		r.DryRun = dryRun != 0
		r.Detail = detail.String
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt, _ = time.Parse(timeLayout, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
