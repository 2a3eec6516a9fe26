package epipereindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/procexec"
	"github.com/hopsworks/expat/internal/steps/stepstest"
	"github.com/hopsworks/expat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reindexIni = `[elastic]
index = projects
#featurestore_index = featurestore
app_provenance_index = appprovenance
batch_size = 5000
`

func setup(t *testing.T, targets string) (*stepstest.Harness, string) {
	t.Helper()
	h := stepstest.New(t)
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "conf"), 0o755))
	testutil.WriteFile(t, filepath.Join(home, "conf"), "config-reindex.ini", reindexIni)
	h.Config.Set(config.KeyEpipePath, home)
	h.Config.Set(config.KeyEpipeReindex, targets)
	h.Search.SetHits("projects")
	h.Search.SetHits("appprovenance")
	return h, home
}

func TestRewriteConfig(t *testing.T) {
	targets, err := Select([]string{"featurestore", "projects"})
	require.NoError(t, err)

	assert.Equal(t, `[elastic]
index = projects
featurestore_index = featurestore
#app_provenance_index = appprovenance
batch_size = 5000
`, RewriteConfig(reindexIni, targets))
}

func TestRewriteConfigKeepsRestOfLine(t *testing.T) {
	targets, err := Select([]string{"featurestore"})
	require.NoError(t, err)

	in := "index = projects ; main index\r\n  #featurestore_index = featurestore\r\n"
	assert.Equal(t, "#index = projects ; main index\r\n  featurestore_index = featurestore\r\n",
		RewriteConfig(in, targets))
}

func TestLibraryPath(t *testing.T) {
	assert.Equal(t, "/srv/hops/mysql/lib", libraryPath("/srv/hops/mysql/lib", ""))
	assert.Equal(t, "/srv/hops/mysql/lib:/usr/lib", libraryPath("/srv/hops/mysql/lib", "/usr/lib"))
}

func TestSelect(t *testing.T) {
	_, err := Select([]string{"projects", "models"})
	require.Error(t, err)
	assert.True(t, fault.Configuration.Has(err))
	assert.Contains(t, err.Error(), "models")

	_, err = Select([]string{" "})
	assert.True(t, fault.Configuration.Has(err))
}

func TestMigrate(t *testing.T) {
	h, home := setup(t, "projects,featurestore")
	t.Setenv("LD_LIBRARY_PATH", "")
	h.Exec.Respond = func(c procexec.Command) (procexec.Result, error) {
		if filepath.Base(c.Path) == "epipe" {
			return procexec.Result{Output: "reindexed 42 projects\n"}, nil
		}
		return procexec.Result{}, nil
	}

	h.Migrate(t, New(), false)

	require.Len(t, h.Exec.Commands, 3)
	assert.Equal(t, "systemctl stop epipe", h.Exec.Commands[0].String())
	epipe := h.Exec.Commands[1]
	ini := filepath.Join(home, "conf", "config-reindex.ini")
	assert.Equal(t, filepath.Join(home, "bin", "epipe")+" -c "+ini, epipe.String())
	require.Len(t, epipe.Env, 1)
	assert.Equal(t, "LD_LIBRARY_PATH=/srv/hops/mysql/lib", epipe.Env[0])
	assert.Equal(t, DefaultTimeout, epipe.Timeout)
	assert.Equal(t, "systemctl restart epipe", h.Exec.Commands[2].String())

	assert.Equal(t, []string{"delete featurestore", "delete projects", "create featurestore", "create projects"}, h.Search.Calls)
	assert.Contains(t, testutil.ReadFile(t, ini), "\nfeaturestore_index = featurestore\n")
	assert.Contains(t, testutil.ReadFile(t, ini), "\n#app_provenance_index = appprovenance\n")
	assert.Equal(t, "reindexed 42 projects\n", testutil.ReadFile(t, filepath.Join(home, "epipe-reindex.log")))
}

func TestMigrateRestartsAfterFailedReindex(t *testing.T) {
	h, _ := setup(t, "projects")
	h.Exec.Respond = func(c procexec.Command) (procexec.Result, error) {
		if filepath.Base(c.Path) == "epipe" {
			return procexec.Result{ExitCode: 3, Output: "boom"}, nil
		}
		return procexec.Result{}, nil
	}

	err := New().Migrate(context.Background(), h.Env(false))
	require.Error(t, err)
	assert.True(t, fault.ExternalProcess.Has(err))
	require.Len(t, h.Exec.Commands, 3)
	assert.Equal(t, "systemctl restart epipe", h.Exec.Commands[2].String())
}

func TestMigrateStopsWhenServiceDoesNotStop(t *testing.T) {
	h, _ := setup(t, "projects")
	h.Exec.Respond = func(procexec.Command) (procexec.Result, error) {
		return procexec.Result{ExitCode: 1}, nil
	}

	err := New().Migrate(context.Background(), h.Env(false))
	require.Error(t, err)
	assert.Len(t, h.Exec.Commands, 1)
	assert.Empty(t, h.Search.Calls)
}

func TestMigrateMissingConfigFile(t *testing.T) {
	h := stepstest.New(t)
	h.Config.Set(config.KeyEpipePath, t.TempDir())
	h.Config.Set(config.KeyEpipeReindex, "projects")

	err := New().Migrate(context.Background(), h.Env(false))
	require.Error(t, err)
	assert.True(t, fault.Configuration.Has(err))
	assert.Empty(t, h.Exec.Commands)
}

func TestDryRun(t *testing.T) {
	h, home := setup(t, "featurestore")

	muts := h.Migrate(t, New(), true)

	var ops []string
	for _, m := range muts {
		ops = append(ops, m.System+" "+m.Op+" "+filepath.Base(m.Target))
	}
	assert.Equal(t, []string{
		"process exec systemctl",
		"search delete-index featurestore",
		"search create-index featurestore",
		"local write config-reindex.ini",
		"process exec epipe",
		"process exec systemctl",
	}, ops)
	assert.Empty(t, h.Exec.Commands)
	assert.Equal(t, reindexIni, testutil.ReadFile(t, filepath.Join(home, "conf", "config-reindex.ini")))
}
