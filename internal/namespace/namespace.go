// Package namespace resolves human readable HopsFS paths against the flat,
// hash partitioned inode table and reconstructs paths from inode rows.
package namespace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hopsworks/expat/internal/paths"
)

// RootID is the id of the namespace root.
const RootID int64 = 1

// MaxDepth bounds parent walks in PathOf.
const MaxDepth = 1000

var (
	// ErrNotFound is returned when a path segment or id has no row.
	ErrNotFound = errors.New("namespace entry not found")
	// ErrNilEntry is returned by PathOf when called without an entry.
	ErrNilEntry = errors.New("namespace entry was not provided")
	// ErrCorrupt is returned when a parent chain does not reach the root.
	ErrCorrupt = errors.New("namespace cycle or corruption")
)

// Entry is one inode row.
type Entry struct {
	ID          int64
	ParentID    int64
	Name        string
	PartitionID int64
	IsDir       bool
}

// IsRoot reports whether e is the namespace root.
func (e *Entry) IsRoot() bool { return e.ID == RootID }

// Rows is the read side of the inode table. Every method returns ErrNotFound
// when no row matches.
type Rows interface {
	// Lookup is a point lookup by primary key.
	Lookup(ctx context.Context, parentID int64, name string, partitionID int64) (*Entry, error)
	// RootChild returns the top level entry with the given name.
	RootChild(ctx context.Context, name string) (*Entry, error)
	// ByID returns the entry with the given id.
	ByID(ctx context.Context, id int64) (*Entry, error)
}

// Resolver translates between paths and entries.
type Resolver struct {
	rows Rows
	part Partitioner
}

// NewResolver returns a Resolver over rows. A nil partitioner selects the
// HopsFS function with the default random level.
func NewResolver(rows Rows, part Partitioner) *Resolver {
	if part == nil {
		part = HopsPartitioner{RandomLevel: DefaultRandomLevel}
	}
	return &Resolver{rows: rows, part: part}
}

// Resolve returns the entry at p. p may be absolute ("/a/b"), a URI
// ("hopsfs://nn:8020/a/b") or relative to the root ("a/b"). Any missing
// segment yields ErrNotFound; no partial result is returned.
func (r *Resolver) Resolve(ctx context.Context, p string) (*Entry, error) {
	segs := paths.Segments(p)
	if len(segs) == 0 {
		return nil, ErrNotFound
	}

	cur, err := r.rows.RootChild(ctx, segs[0])
	if err != nil {
		return nil, err
	}
	for i, name := range segs[1:] {
		depth := i + 2
		next, err := r.rows.Lookup(ctx, cur.ID, name, r.part.Partition(cur.ID, name, depth))
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// FindByID returns the entry with id.
func (r *Resolver) FindByID(ctx context.Context, id int64) (*Entry, error) {
	return r.rows.ByID(ctx, id)
}

// PathOf walks parent pointers up to the root and returns the absolute path
// of e. The root itself has the empty path.
func (r *Resolver) PathOf(ctx context.Context, e *Entry) (string, error) {
	if e == nil {
		return "", ErrNilEntry
	}

	var names []string
	cur := e
	for hops := 0; !cur.IsRoot(); hops++ {
		if hops >= MaxDepth {
			return "", fmt.Errorf("%w: no root within %d hops of inode %d", ErrCorrupt, MaxDepth, e.ID)
		}
		names = append(names, cur.Name)
		parent, err := r.rows.ByID(ctx, cur.ParentID)
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: inode %d has dangling parent %d", ErrCorrupt, cur.ID, cur.ParentID)
		}
		if err != nil {
			return "", err
		}
		cur = parent
	}

	var b strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		b.WriteString(paths.Separator)
		b.WriteString(names[i])
	}
	return b.String(), nil
}

// Exists reports whether p resolves.
func (r *Resolver) Exists(ctx context.Context, p string) (bool, error) {
	_, err := r.Resolve(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
