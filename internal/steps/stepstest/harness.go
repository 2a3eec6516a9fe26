// Package stepstest runs migration steps against fixture state.
package stepstest

import (
	"context"
	"testing"

	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/dfs"
	"github.com/hopsworks/expat/internal/dfs/dfstest"
	"github.com/hopsworks/expat/internal/dryrun"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/namespace"
	"github.com/hopsworks/expat/internal/procexec"
	"github.com/hopsworks/expat/internal/procexec/procexectest"
	"github.com/hopsworks/expat/internal/search"
	"github.com/hopsworks/expat/internal/search/searchtest"
	"github.com/hopsworks/expat/internal/secrets"
	"github.com/hopsworks/expat/internal/secrets/secretstest"
	"github.com/hopsworks/expat/internal/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Harness holds fixture state shared by consecutive runs of a step.
type Harness struct {
	DB      *db.DB
	FS      *dfstest.Mem
	Search  *searchtest.Mem
	Secrets *secretstest.Mem
	Exec    *procexectest.Fake
	Config  *config.Config
	// Logs holds the log of the most recent run.
	Logs *observer.ObservedLogs
}

// New returns a harness over the platform fixture schema.
func New(t *testing.T) *Harness {
	t.Helper()
	return &Harness{
		DB:      testutil.PlatformDB(t),
		FS:      dfstest.New(),
		Search:  searchtest.New(),
		Secrets: secretstest.New(),
		Exec:    &procexectest.Fake{},
		Config: config.FromMap(map[string]any{
			config.KeyExpatDir:   t.TempDir(),
			config.KeyHopsUser:   "hdfs",
			config.KeyHadoopHome: "/srv/hops/hadoop",
		}),
	}
}

// Env returns a fresh Env whose mutating handles go through a new gate.
func (h *Harness) Env(dryRun bool) *migration.Env {
	core, logs := observer.New(zap.DebugLevel)
	h.Logs = logs
	log := zap.New(core)
	gate := dryrun.New(dryRun, log)
	part := namespace.HopsPartitioner{RandomLevel: namespace.DefaultRandomLevel}
	return &migration.Env{
		DB:       h.DB,
		FS:       dfs.Gated(h.FS, gate),
		Resolver: namespace.NewResolver(h.FS.Tree, part),
		Search:   search.Gated(h.Search, gate),
		Secrets:  secrets.Gated(h.Secrets, gate),
		Exec:     procexec.Gated(h.Exec, gate),
		Config:   h.Config,
		Log:      log,
		Gate:     gate,
		DryRun:   dryRun,
	}
}

// Migrate runs s forward and returns the mutations it logged.
func (h *Harness) Migrate(t *testing.T, s migration.Step, dryRun bool) []testutil.Mutation {
	t.Helper()
	if err := s.Migrate(context.Background(), h.Env(dryRun)); err != nil {
		t.Fatalf("%s: migrate failed: %v", s.Name(), err)
	}
	return testutil.Mutations(h.Logs)
}

// Rollback runs s backward and returns the mutations it logged. A declared
// no-op is not a failure.
func (h *Harness) Rollback(t *testing.T, s migration.Step, dryRun bool) []testutil.Mutation {
	t.Helper()
	err := s.Rollback(context.Background(), h.Env(dryRun))
	if _, noop := migration.IsNoop(err); err != nil && !noop {
		t.Fatalf("%s: rollback failed: %v", s.Name(), err)
	}
	return testutil.Mutations(h.Logs)
}

// Messages returns the messages logged at level or above during the last run.
func (h *Harness) Messages(level zapcore.Level) []string {
	var out []string
	for _, e := range h.Logs.All() {
		if e.Level >= level {
			out = append(out, e.Message)
		}
	}
	return out
}
