package appctx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hopsworks/expat/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().String(FlagConfig, "", "")
	cmd.Flags().Bool(FlagDryRun, false, "")
	cmd.Flags().String(FlagLogLevel, "", "")
	cmd.Flags().String(FlagLogFormat, "", "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "expat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestBootstrap_ConfigOnly(t *testing.T) {
	path := writeConfig(t, "expat:\n  dry_run: true\n")

	app, err := Bootstrap(newCmd(t, "--config", path), DefaultOptions())
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, path, app.Config.File())
	assert.True(t, app.DryRun)
	assert.NotNil(t, app.Log)
	assert.Nil(t, app.DB)
}

func TestBootstrap_FlagsOverrideConfig(t *testing.T) {
	path := writeConfig(t, "expat:\n  dry_run: true\nlog:\n  level: warn\n")

	app, err := Bootstrap(newCmd(t, "--config", path, "--dry-run=false", "--log-level", "debug"), DefaultOptions())
	require.NoError(t, err)
	defer app.Close()

	assert.False(t, app.DryRun)
	assert.Equal(t, "debug", app.Config.String(config.KeyLogLevel))
}

func TestBootstrap_InvalidLogFormat(t *testing.T) {
	path := writeConfig(t, "log:\n  format: xml\n")

	_, err := Bootstrap(newCmd(t, "--config", path), DefaultOptions())
	assert.ErrorContains(t, err, "invalid log format")
}

func TestBootstrap_MissingConfigFile(t *testing.T) {
	_, err := Bootstrap(newCmd(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")), DefaultOptions())
	assert.ErrorContains(t, err, "failed to load config")
}

func TestBootstrap_WithDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hopsworks.db")
	path := writeConfig(t, "database:\n  driver: sqlite3\n  url: "+dbPath+"\n")

	app, err := Bootstrap(newCmd(t, "--config", path), WithDB())
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.DB)
	var tables int
	require.NoError(t, app.DB.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'expat_step_runs'").Scan(&tables))
	assert.Zero(t, tables)
}

func TestBootstrap_WithLedger(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hopsworks.db")
	path := writeConfig(t, "database:\n  driver: sqlite3\n  url: "+dbPath+"\n")

	app, err := Bootstrap(newCmd(t, "--config", path), WithLedger())
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.DB)
	runs, err := app.DB.StepRuns(t.Context(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestBootstrap_WithDBRequiresURL(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: sqlite3\n")
	t.Setenv(config.EnvName(config.KeyDBURL), "")

	_, err := Bootstrap(newCmd(t, "--config", path), WithDB())
	assert.ErrorContains(t, err, config.KeyDBURL)
}

func TestApp_Close_Multiple(t *testing.T) {
	// Close should be safe to call multiple times
	app := &App{}
	app.Close()
	app.Close()
}
