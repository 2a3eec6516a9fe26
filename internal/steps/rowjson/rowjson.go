// Package rowjson rewrites JSON documents stored in relational columns. Rows
// are loaded first, converted in memory and written back in one batch, so a
// failure leaves every row in its previous shape.
package rowjson

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/dryrun"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
)

// Row is one stored document.
type Row struct {
	ID    int64
	Value sql.NullString
}

// Load reads (id, document) pairs selected by query.
func Load(ctx context.Context, q db.Querier, query string, args ...any) ([]Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load rows: %w", db.Classify(err))
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Object is a decoded JSON object. Numbers are kept as json.Number so they
// are written back exactly as read.
type Object = map[string]any

// Decode parses a JSON object. Anything else is a fault.DataShape error.
func Decode(raw string) (Object, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fault.DataShape.New("not a JSON document: %v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fault.DataShape.New("expected a JSON object, got %T", v)
	}
	return obj, nil
}

// Encode renders obj compactly with sorted keys and without HTML escaping.
func Encode(obj any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Diff returns a unified diff of two documents, pretty printed so that each
// key lands on its own line.
func Diff(before, after string) string {
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(indent(before)),
		B:        difflib.SplitLines(indent(after)),
		FromFile: "before",
		ToFile:   "after",
		Context:  1,
	})
	return diff
}

func indent(doc string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(doc), "", "  "); err != nil {
		return doc + "\n"
	}
	buf.WriteByte('\n')
	return buf.String()
}

// ErrUnchanged is returned by a Convert func for rows already in the target
// shape. A conversion to the empty string stores NULL.
var ErrUnchanged = errors.New("unchanged")

// Convert maps a stored document to its new form. Returning ErrUnchanged
// leaves the row alone.
type Convert func(obj Object) (Object, error)

// Rewrite describes one column rewrite.
type Rewrite struct {
	// Table and Column name the JSON column; rows are addressed by id.
	Table  string
	Column string
	// Entity names a row in logs and batch errors, e.g. "job".
	Entity string
	// SkipBadRows logs and skips rows whose documents fail with
	// fault.DataShape instead of aborting.
	SkipBadRows bool
}

// Stats counts what a rewrite did.
type Stats struct {
	Seen      int
	Rewritten int
	Unchanged int
	Skipped   int
}

// Apply converts rows holding JSON objects and writes every changed document
// back in a single batch committed once. Rows with a NULL document are
// skipped.
func (rw Rewrite) Apply(ctx context.Context, database *db.DB, gate *dryrun.Gate, rows []Row, convert Convert) (Stats, error) {
	return rw.ApplyText(ctx, database, gate, rows, func(raw string) (string, error) {
		obj, err := Decode(raw)
		if err != nil {
			return "", err
		}
		next, err := convert(obj)
		if err != nil {
			return "", err
		}
		return Encode(next)
	})
}

// ApplyText is Apply for column values that are not JSON objects. convert
// returns ErrUnchanged for values already in the target shape.
func (rw Rewrite) ApplyText(ctx context.Context, database *db.DB, gate *dryrun.Gate, rows []Row, convert func(raw string) (string, error)) (Stats, error) {
	log := gate.Logger()
	batch := db.NewBatch()
	query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE id = ?", rw.Table, rw.Column)

	var st Stats
	for _, r := range rows {
		st.Seen++
		entity := fmt.Sprintf("%s %d", rw.Entity, r.ID)
		if !r.Value.Valid || strings.TrimSpace(r.Value.String) == "" {
			st.Skipped++
			log.Debug("skipping empty document", zap.String("entity", entity))
			continue
		}

		next, err := convert(r.Value.String)
		switch {
		case errors.Is(err, ErrUnchanged):
			st.Unchanged++
			continue
		case err != nil && rw.SkipBadRows && fault.DataShape.Has(err):
			st.Skipped++
			log.Warn("skipping row with unrecognized document", zap.String("entity", entity), zap.Error(err))
			continue
		case err != nil:
			return st, fmt.Errorf("%s: %w", entity, err)
		}

		if log.Core().Enabled(zap.DebugLevel) {
			log.Debug("rewriting document", zap.String("entity", entity), zap.String("diff", Diff(r.Value.String, next)))
		}
		var value any = next
		if next == "" {
			value = nil
		}
		batch.Add(entity, query, value, r.ID)
		st.Rewritten++
	}

	if err := batch.ExecTx(ctx, gate, database); err != nil {
		return st, err
	}
	return st, nil
}

// Fields returns zap fields summarizing st.
func (st Stats) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("seen", st.Seen),
		zap.Int("rewritten", st.Rewritten),
		zap.Int("unchanged", st.Unchanged),
		zap.Int("skipped", st.Skipped),
	}
}
