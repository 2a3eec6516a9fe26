package dfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hopsworks/expat/internal/db"
)

// Conn runs statements against the relational store.
type Conn interface {
	db.Execer
	db.Querier
}

// SQLGroups administers HopsFS groups through the user and group tables the
// namespace service reads.
type SQLGroups struct {
	conn Conn
}

// NewSQLGroups returns a group admin over conn.
func NewSQLGroups(conn Conn) *SQLGroups {
	return &SQLGroups{conn: conn}
}

func (g *SQLGroups) id(ctx context.Context, table, name string) (int64, bool, error) {
	var id int64
	err := g.conn.QueryRowContext(ctx, "SELECT id FROM "+table+" WHERE name = ?", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up %s in %s: %w", name, table, db.Classify(err))
	}
	return id, true, nil
}

// maxIDAttempts bounds how often create re-allocates an id taken by another
// writer between the MAX(id) read and the insert.
const maxIDAttempts = 5

// create inserts name under a fresh id. When another writer inserted the same
// name first, the existing id is returned with existed set.
func (g *SQLGroups) create(ctx context.Context, table, name string) (int64, bool, error) {
	for attempt := 1; ; attempt++ {
		var next int64
		if err := g.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM "+table).Scan(&next); err != nil {
			return 0, false, fmt.Errorf("failed to allocate id in %s: %w", table, db.Classify(err))
		}
		_, err := g.conn.ExecContext(ctx, "INSERT INTO "+table+" (id, name) VALUES (?, ?)", next, name)
		if err == nil {
			return next, false, nil
		}
		if !db.IsDuplicateKey(err) {
			return 0, false, fmt.Errorf("failed to insert %s into %s: %w", name, table, db.Classify(err))
		}
		existing, ok, lookupErr := g.id(ctx, table, name)
		if lookupErr != nil {
			return 0, false, lookupErr
		}
		if ok {
			return existing, true, nil
		}
		if attempt == maxIDAttempts {
			return 0, false, fmt.Errorf("failed to insert %s into %s after %d id collisions: %w",
				name, table, attempt, db.Classify(err))
		}
	}
}

// AddGroup implements Groups.
func (g *SQLGroups) AddGroup(ctx context.Context, group string) error {
	_, ok, err := g.id(ctx, "hops.hdfs_groups", group)
	if err != nil {
		return err
	}
	if ok {
		return GroupExistsError(group)
	}
	_, existed, err := g.create(ctx, "hops.hdfs_groups", group)
	if err != nil {
		return err
	}
	if existed {
		return GroupExistsError(group)
	}
	return nil
}

// AddUserToGroup implements Groups. The user is created when unknown; the
// group must exist.
func (g *SQLGroups) AddUserToGroup(ctx context.Context, user, group string) error {
	groupID, ok, err := g.id(ctx, "hops.hdfs_groups", group)
	if err != nil {
		return err
	}
	if !ok {
		return &RemoteError{Exception: "GroupNotFoundException", Message: "group " + group + " does not exist"}
	}
	userID, ok, err := g.id(ctx, "hops.hdfs_users", user)
	if err != nil {
		return err
	}
	if !ok {
		if userID, _, err = g.create(ctx, "hops.hdfs_users", user); err != nil {
			return err
		}
	}

	var n int
	err = g.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM hops.hdfs_users_groups WHERE user_id = ? AND group_id = ?", userID, groupID).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to check membership of %s: %w", user, db.Classify(err))
	}
	if n > 0 {
		return MemberExistsError(user, group)
	}
	_, err = g.conn.ExecContext(ctx,
		"INSERT INTO hops.hdfs_users_groups (user_id, group_id) VALUES (?, ?)", userID, groupID)
	if err != nil {
		return fmt.Errorf("failed to add %s to %s: %w", user, group, db.Classify(err))
	}
	return nil
}
