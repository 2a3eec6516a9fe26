package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hopsworks/expat/internal/dryrun"
	"github.com/hopsworks/expat/internal/fault"
	"go.uber.org/zap"
)

// Execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn in a transaction scoped to one logical unit of work. The
// transaction is committed when fn returns nil and rolled back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", Classify(err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", Classify(err))
	}
	return nil
}

// Exec runs one mutating statement through the gate and returns the number
// of affected rows (zero in dry-run mode).
func Exec(ctx context.Context, gate *dryrun.Gate, ex Execer, entity, query string, args ...any) (int64, error) {
	var affected int64
	err := gate.Apply(ctx, mutation(entity, query), func(ctx context.Context) error {
		res, err := ex.ExecContext(ctx, query, args...)
		if err != nil {
			return Classify(err)
		}
		affected, _ = res.RowsAffected()
		return nil
	}, statementFields(query, args)...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s %s: %w", verb(query), entity, err)
	}
	return affected, nil
}

// Insert runs an INSERT through the gate and returns the generated key. In
// dry-run mode a synthetic negative key is returned so dependent statements
// can still be logged.
func Insert(ctx context.Context, gate *dryrun.Gate, ex Execer, entity, query string, args ...any) (int64, error) {
	id := int64(0)
	err := gate.Apply(ctx, mutation(entity, query), func(ctx context.Context) error {
		res, err := ex.ExecContext(ctx, query, args...)
		if err != nil {
			return Classify(err)
		}
		id, err = res.LastInsertId()
		return err
	}, statementFields(query, args)...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s: %w", entity, err)
	}
	if gate.DryRun() {
		id = gate.SyntheticID()
	}
	return id, nil
}

type statement struct {
	entity string
	query  string
	args   []any
}

// Batch buffers statements that are executed together inside one
// transaction. A failure rolls the whole batch back, so callers should cut
// batches at boundaries where partial application is tolerable.
type Batch struct {
	stmts []statement
}

// NewBatch returns an empty batch.
func NewBatch() *Batch { return &Batch{} }

// Add queues a statement attributed to a logical entity (e.g. "job 42").
func (b *Batch) Add(entity, query string, args ...any) {
	b.stmts = append(b.stmts, statement{entity: entity, query: query, args: args})
}

// Len returns the number of queued statements.
func (b *Batch) Len() int { return len(b.stmts) }

// Entities returns the entities in queue order.
func (b *Batch) Entities() []string {
	out := make([]string, 0, len(b.stmts))
	for _, s := range b.stmts {
		out = append(out, s.entity)
	}
	return out
}

// Exec runs every queued statement through the gate in order. On failure the
// returned error is a fault.PartialBatch listing every entity of the batch and
// the caller must roll back. The batch is emptied either way.
func (b *Batch) Exec(ctx context.Context, gate *dryrun.Gate, ex Execer) error {
	stmts, entities := b.stmts, b.Entities()
	b.stmts = nil

	for _, s := range stmts {
		err := gate.Apply(ctx, mutation(s.entity, s.query), func(ctx context.Context) error {
			_, err := ex.ExecContext(ctx, s.query, s.args...)
			return err
		}, statementFields(s.query, s.args)...)
		if err != nil {
			return fault.NewBatchError(entities, Classify(fmt.Errorf("%s: %w", s.entity, err)))
		}
	}
	return nil
}

// ExecTx runs the batch in its own transaction and commits once.
func (b *Batch) ExecTx(ctx context.Context, gate *dryrun.Gate, db *DB) error {
	if b.Len() == 0 {
		return nil
	}
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		return b.Exec(ctx, gate, tx)
	})
}

func mutation(entity, query string) dryrun.Mutation {
	return dryrun.Mutation{System: dryrun.Relational, Op: verb(query), Target: entity}
}

func verb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "exec"
	}
	return strings.ToLower(fields[0])
}

func statementFields(query string, args []any) []zap.Field {
	return []zap.Field{
		zap.String("query", strings.Join(strings.Fields(query), " ")),
		zap.String("args", formatArgs(args)),
	}
}

// formatArgs renders arguments for the mutation log. Byte slices are shown by
// length only.
func formatArgs(args []any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case nil:
			parts = append(parts, "NULL")
		case []byte:
			parts = append(parts, fmt.Sprintf("<%d bytes>", len(v)))
		case string:
			parts = append(parts, fmt.Sprintf("%q", v))
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
