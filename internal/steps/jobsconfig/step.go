// Package jobsconfig reshapes the JSON configuration of Spark jobs between
// the legacy upper-case layout and the sparkJobConfiguration layout.
//
// Each document is sniffed first: documents already in the requested shape
// are left alone, so the step converges when run again. Rows that are not
// JSON objects are logged and skipped.
package jobsconfig

import (
	"context"

	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/steps/rowjson"
)

// Name identifies the step.
const Name = "jobs-config"

const selectJobs = "SELECT id, json_config FROM jobs"

var rewrite = rowjson.Rewrite{Table: "jobs", Column: "json_config", Entity: "job", SkipBadRows: true}

// Step implements migration.Step.
type Step struct{}

// New returns the step.
func New() migration.Step { return Step{} }

// Name implements migration.Step.
func (Step) Name() string { return Name }

// Migrate implements migration.Step.
func (Step) Migrate(ctx context.Context, env *migration.Env) error {
	return run(ctx, env, Forward)
}

// Rollback implements migration.Step.
func (Step) Rollback(ctx context.Context, env *migration.Env) error {
	return run(ctx, env, Backward)
}

func run(ctx context.Context, env *migration.Env, convert rowjson.Convert) error {
	rows, err := rowjson.Load(ctx, env.DB, selectJobs)
	if err != nil {
		return err
	}
	st, err := rewrite.Apply(ctx, env.DB, env.Gate, rows, convert)
	if err != nil {
		return err
	}
	env.Log.Info("job configurations processed", st.Fields()...)
	return nil
}
