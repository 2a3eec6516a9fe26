package platform

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/dryrun"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sqliteConfig(t *testing.T, extra map[string]any) *config.Config {
	t.Helper()
	values := map[string]any{
		config.KeyDBDriver: db.DriverSQLite,
		config.KeyDBURL:    filepath.Join(t.TempDir(), "state", "hopsworks.db"),
	}
	for k, v := range extra {
		values[k] = v
	}
	return config.FromMap(values)
}

func newEnv(dryRun bool) *migration.Env {
	log := zap.NewNop()
	return &migration.Env{Log: log, Gate: dryrun.New(dryRun, log), DryRun: dryRun}
}

func TestRequiredKeys(t *testing.T) {
	assert.Equal(t, []string{config.KeyDBURL}, RequiredKeys(migration.NeedDB))
	assert.Equal(t,
		[]string{config.KeyDBURL, config.KeyWebHDFSURL, config.KeyHopsUser},
		RequiredKeys(migration.NeedNamespace))
	assert.Equal(t, []string{config.KeyElasticURL}, RequiredKeys(migration.NeedSearch))
	assert.Equal(t, []string{config.KeyKubeMasterURL}, RequiredKeys(migration.NeedSecrets))
	assert.Empty(t, RequiredKeys(migration.NeedExec))
}

func TestOpenValidatesBeforeConnecting(t *testing.T) {
	cfg := sqliteConfig(t, nil)
	env := newEnv(false)

	err := New(cfg).Open(context.Background(), "s", migration.NeedDB|migration.NeedSearch|migration.NeedSecrets, env)
	require.Error(t, err)
	assert.True(t, fault.Configuration.Has(err))
	assert.Contains(t, err.Error(), config.KeyElasticURL)
	assert.Contains(t, err.Error(), config.KeyKubeMasterURL)
	assert.Nil(t, env.DB)
	require.NoError(t, env.Release())
}

func TestOpenDatabase(t *testing.T) {
	env := newEnv(false)
	require.NoError(t, New(sqliteConfig(t, nil)).Open(context.Background(), "s", migration.NeedDB, env))
	require.NotNil(t, env.DB)
	assert.Nil(t, env.FS)
	assert.Nil(t, env.Exec)

	require.NoError(t, env.DB.PingContext(context.Background()))
	require.NoError(t, env.Release())
	assert.Error(t, env.DB.PingContext(context.Background()))
}

func TestOpenNamespace(t *testing.T) {
	cfg := sqliteConfig(t, map[string]any{
		config.KeyWebHDFSURL: "http://127.0.0.1:1/webhdfs/v1",
		config.KeyHopsUser:   "hdfs",
	})
	env := newEnv(true)
	require.NoError(t, New(cfg).Open(context.Background(), "s", migration.NeedNamespace|migration.NeedExec, env))
	defer env.Release()

	assert.NotNil(t, env.DB)
	assert.NotNil(t, env.FS)
	assert.NotNil(t, env.Resolver)
	assert.NotNil(t, env.Exec)

	// dry-run mutations never reach the unreachable namenode
	require.NoError(t, env.FS.Mkdirs(context.Background(), "/Projects/demo/Airflow", 0o750))
}

func TestOpenRejectsBadInodeTable(t *testing.T) {
	cfg := sqliteConfig(t, map[string]any{
		config.KeyWebHDFSURL:  "http://127.0.0.1:1/webhdfs/v1",
		config.KeyHopsUser:    "hdfs",
		config.KeyInodesTable: "hdfs_inodes; DROP TABLE x",
	})
	env := newEnv(false)
	err := New(cfg).Open(context.Background(), "s", migration.NeedNamespace, env)
	require.Error(t, err)
	assert.True(t, fault.Configuration.Has(err))
	require.NoError(t, env.Release())
}

func TestOpenLedger(t *testing.T) {
	database, err := OpenLedger(context.Background(), sqliteConfig(t, nil), zap.NewNop())
	require.NoError(t, err)
	defer database.Close()

	runs, err := database.StepRuns(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
