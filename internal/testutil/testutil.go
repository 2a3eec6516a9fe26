package testutil

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/dryrun"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Schemas attached to every fixture database next to the main one, so
// queries that name hops.* and metastore.* tables run unchanged.
var Schemas = []string{"hops", "metastore"}

//go:embed platform.sql
var platformSQL string

var driverSeq atomic.Int64

// TempDB creates an empty SQLite database with Schemas attached.
func TempDB(t *testing.T) *db.DB {
	t.Helper()

	dir := t.TempDir()
	name := fmt.Sprintf("sqlite3_fixture_%d", driverSeq.Add(1))
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for _, s := range Schemas {
				stmt := fmt.Sprintf("ATTACH DATABASE '%s' AS %s", filepath.Join(dir, s+".db"), s)
				if _, err := conn.Exec(stmt, nil); err != nil {
					return err
				}
			}
			return nil
		},
	})

	sqlDB, err := sql.Open(name, "file:"+filepath.Join(dir, "hopsworks.db")+"?_busy_timeout=5000")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := sqlDB.Ping(); err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	return db.Wrap(sqlDB, db.DriverSQLite)
}

// PlatformDB creates a fixture database holding the subset of the platform
// schema that migration steps touch.
func PlatformDB(t *testing.T) *db.DB {
	t.Helper()
	database := TempDB(t)
	Exec(t, database, splitStatements(platformSQL)...)
	return database
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Exec runs each statement and fails the test on error.
func Exec(t *testing.T, database *db.DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		if _, err := database.Exec(s); err != nil {
			t.Fatalf("Failed to exec %q: %v", s, err)
		}
	}
}

// Count returns the number of rows in table matching where (may be empty).
func Count(t *testing.T, database *db.DB, table, where string, args ...any) int {
	t.Helper()
	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	if err := database.QueryRow(q, args...).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}

// QueryString returns a single string column.
func QueryString(t *testing.T, database *db.DB, query string, args ...any) string {
	t.Helper()
	var s sql.NullString
	if err := database.QueryRow(query, args...).Scan(&s); err != nil {
		t.Fatalf("Failed to query %q: %v", query, err)
	}
	return s.String
}

// ObservedGate returns a gate whose mutation log can be inspected.
func ObservedGate(dryRun bool) (*dryrun.Gate, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return dryrun.New(dryRun, zap.New(core)), logs
}

// Mutation is the comparable part of a logged mutation.
type Mutation struct {
	System string
	Op     string
	Target string
	Detail string
}

// Mutations extracts the mutations logged through a gate, in order. Detail
// holds the query and args of relational mutations.
func Mutations(logs *observer.ObservedLogs) []Mutation {
	var out []Mutation
	for _, e := range logs.All() {
		if e.Message != dryrun.MsgApply && e.Message != dryrun.MsgSkipped {
			continue
		}
		m := e.ContextMap()
		mu := Mutation{
			System: fmt.Sprint(m["system"]),
			Op:     fmt.Sprint(m["op"]),
			Target: fmt.Sprint(m["target"]),
		}
		if q, ok := m["query"]; ok {
			mu.Detail = fmt.Sprintf("%v %v", q, m["args"])
		}
		out = append(out, mu)
	}
	return out
}

// WriteFile writes content to a file in dir.
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// ReadFile reads content from a file.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(data)
}
