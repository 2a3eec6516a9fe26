package dfs_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/dfs"
	"github.com/hopsworks/expat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLGroups(t *testing.T) {
	ctx := context.Background()
	database := testutil.PlatformDB(t)
	g := dfs.NewSQLGroups(database)

	require.NoError(t, g.AddGroup(ctx, "demo__Airflow__read"))
	err := g.AddGroup(ctx, "demo__Airflow__read")
	require.Error(t, err)
	assert.True(t, dfs.IsAlreadyExists(err))
	assert.Equal(t, "GroupAlreadyExistsException: demo__Airflow__read already exists", err.Error())

	require.NoError(t, g.AddUserToGroup(ctx, "demo__meb10000", "demo__Airflow__read"))
	err = g.AddUserToGroup(ctx, "demo__meb10000", "demo__Airflow__read")
	require.Error(t, err)
	assert.True(t, dfs.IsAlreadyMember(err))
	assert.Contains(t, err.Error(), "demo__meb10000 is already part of Group: demo__Airflow__read")

	err = g.AddUserToGroup(ctx, "demo__meb10000", "missing")
	require.Error(t, err)
	assert.False(t, dfs.IsAlreadyMember(err))

	assert.Equal(t, 1, testutil.Count(t, database, "hops.hdfs_groups", ""))
	assert.Equal(t, 1, testutil.Count(t, database, "hops.hdfs_users", "name = ?", "demo__meb10000"))
	assert.Equal(t, 1, testutil.Count(t, database, "hops.hdfs_users_groups", ""))
}

// racingConn lets another writer commit a row right before the first insert
// into table.
type racingConn struct {
	*db.DB
	table string
	race  func(id any, name any)
	done  bool
}

func (c *racingConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !c.done && strings.HasPrefix(query, "INSERT INTO "+c.table+" ") {
		c.done = true
		c.race(args[0], args[1])
	}
	return c.DB.ExecContext(ctx, query, args...)
}

func TestSQLGroupsRetriesIDTakenByAnotherWriter(t *testing.T) {
	ctx := context.Background()
	database := testutil.PlatformDB(t)
	conn := &racingConn{DB: database, table: "hops.hdfs_groups", race: func(id, _ any) {
		testutil.Exec(t, database, fmt.Sprintf("INSERT INTO hops.hdfs_groups (id, name) VALUES (%v, 'other')", id))
	}}
	g := dfs.NewSQLGroups(conn)

	require.NoError(t, g.AddGroup(ctx, "demo__Airflow"))
	assert.Equal(t, 1, testutil.Count(t, database, "hops.hdfs_groups", "name = ?", "demo__Airflow"))
	assert.Equal(t, 1, testutil.Count(t, database, "hops.hdfs_groups", "name = ?", "other"))
}

func TestSQLGroupsReportsNameInsertedByAnotherWriter(t *testing.T) {
	ctx := context.Background()
	database := testutil.PlatformDB(t)
	conn := &racingConn{DB: database, table: "hops.hdfs_groups", race: func(id, name any) {
		testutil.Exec(t, database, fmt.Sprintf("INSERT INTO hops.hdfs_groups (id, name) VALUES (%v, '%v')", id, name))
	}}
	g := dfs.NewSQLGroups(conn)

	err := g.AddGroup(ctx, "demo__Airflow")
	require.Error(t, err)
	assert.True(t, dfs.IsAlreadyExists(err))
	assert.Equal(t, 1, testutil.Count(t, database, "hops.hdfs_groups", "name = ?", "demo__Airflow"))
}

func TestSQLGroupsUsesUserInsertedByAnotherWriter(t *testing.T) {
	ctx := context.Background()
	database := testutil.PlatformDB(t)
	conn := &racingConn{DB: database, table: "hops.hdfs_users", race: func(id, name any) {
		testutil.Exec(t, database, fmt.Sprintf("INSERT INTO hops.hdfs_users (id, name) VALUES (%v, '%v')", id, name))
	}}
	g := dfs.NewSQLGroups(conn)
	require.NoError(t, g.AddGroup(ctx, "demo__Airflow"))

	require.NoError(t, g.AddUserToGroup(ctx, "demo__meb10000", "demo__Airflow"))
	assert.Equal(t, 1, testutil.Count(t, database, "hops.hdfs_users", "name = ?", "demo__meb10000"))
	assert.Equal(t, 1, testutil.Count(t, database, "hops.hdfs_users_groups", ""))
}
