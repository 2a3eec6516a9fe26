package namespace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/fault"
)

// DefaultTable is the HopsFS inode table.
const DefaultTable = "hops.hdfs_inodes"

var tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLRows reads inode rows from the relational store.
type SQLRows struct {
	q     db.Querier
	table string
	part  Partitioner
}

// NewSQLRows returns a row store over table (DefaultTable when empty).
func NewSQLRows(q db.Querier, table string, part Partitioner) (*SQLRows, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tablePattern.MatchString(table) {
		return nil, fault.Configuration.New("invalid inode table name %q", table)
	}
	if part == nil {
		part = HopsPartitioner{RandomLevel: DefaultRandomLevel}
	}
	return &SQLRows{q: q, table: table, part: part}, nil
}

func (s *SQLRows) selectFrom() string {
	return "SELECT id, parent_id, name, partition_id, is_dir FROM " + s.table
}

// Lookup implements Rows.
func (s *SQLRows) Lookup(ctx context.Context, parentID int64, name string, partitionID int64) (*Entry, error) {
	return s.one(ctx, s.selectFrom()+" WHERE partition_id = ? AND parent_id = ? AND name = ?",
		partitionID, parentID, name)
}

// RootChild implements Rows. Top level entries live in the root's partition.
func (s *SQLRows) RootChild(ctx context.Context, name string) (*Entry, error) {
	return s.Lookup(ctx, RootID, name, s.part.Partition(RootID, name, 1))
}

// ByID implements Rows.
func (s *SQLRows) ByID(ctx context.Context, id int64) (*Entry, error) {
	return s.one(ctx, s.selectFrom()+" WHERE id = ?", id)
}

func (s *SQLRows) one(ctx context.Context, query string, args ...any) (*Entry, error) {
	var (
		e     Entry
		isDir sql.NullBool
	)
	err := s.q.QueryRowContext(ctx, query, args...).Scan(&e.ID, &e.ParentID, &e.Name, &e.PartitionID, &isDir)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.table, db.Classify(err))
	}
	e.IsDir = isDir.Bool
	return &e, nil
}
