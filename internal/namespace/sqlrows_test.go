package namespace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLRowsResolve(t *testing.T) {
	ctx := context.Background()
	database, err := db.Open(ctx, db.Options{Driver: db.DriverSQLite, URL: filepath.Join(t.TempDir(), "inodes.db")})
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec(`CREATE TABLE hdfs_inodes (
		partition_id INTEGER NOT NULL,
		parent_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		id INTEGER NOT NULL UNIQUE,
		is_dir INTEGER NOT NULL,
		PRIMARY KEY (partition_id, parent_id, name)
	)`)
	require.NoError(t, err)

	// Keys as stored by HopsFS for /Projects/demo/Models.
	rows := [][]any{
		{0, 0, "", 1, 1},
		{1, 1, "Projects", 2, 1},
		{95469231, 2, "demo", 10, 1},
		{-554376663, 10, "Models", 11, 1},
	}
	for _, r := range rows {
		_, err := database.Exec("INSERT INTO hdfs_inodes (partition_id, parent_id, name, id, is_dir) VALUES (?, ?, ?, ?, ?)", r...)
		require.NoError(t, err)
	}

	store, err := NewSQLRows(database, "hdfs_inodes", nil)
	require.NoError(t, err)
	r := NewResolver(store, nil)

	e, err := r.Resolve(ctx, "/Projects/demo/Models")
	require.NoError(t, err)
	assert.Equal(t, &Entry{ID: 11, ParentID: 10, Name: "Models", PartitionID: -554376663, IsDir: true}, e)

	p, err := r.PathOf(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, "/Projects/demo/Models", p)

	_, err = r.Resolve(ctx, "/Projects/demo/Jupyter")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewSQLRowsRejectsBadTable(t *testing.T) {
	_, err := NewSQLRows(nil, "hops.hdfs_inodes; DROP TABLE x", nil)
	assert.True(t, fault.Configuration.Has(err))

	s, err := NewSQLRows(nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTable, s.table)
}
