// Package storageconnectors converts Snowflake connector options from the
// legacy "k=v;k=v" string to a JSON option list, and gives every feature
// store a storage_connector_resources directory.
//
// Options are sniffed as JSON first, so converted rows are left alone. The
// directories are created before the option rows are committed. An option
// without "=" fails the step.
package storageconnectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/dfs"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/paths"
	"github.com/hopsworks/expat/internal/steps/rowjson"
	"go.uber.org/zap"
)

// Name identifies the step.
const Name = "storage-connectors"

// ResourcesDir is created inside every feature store database directory.
const ResourcesDir = "storage_connector_resources"

const (
	selectConnectors = "SELECT id, arguments FROM feature_store_snowflake_connector"
	selectProjects   = "SELECT projectname FROM project ORDER BY id"
)

var rewrite = rowjson.Rewrite{Table: "feature_store_snowflake_connector", Column: "arguments", Entity: "snowflake connector"}

// Option is one connector option.
type Option struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Step implements migration.Step.
type Step struct{}

// New returns the step.
func New() migration.Step { return Step{} }

// Name implements migration.Step.
func (Step) Name() string { return Name }

// Needs implements migration.Needs.
func (Step) Needs() migration.Handles { return migration.NeedDB | migration.NeedNamespace }

// Migrate implements migration.Step.
func (Step) Migrate(ctx context.Context, env *migration.Env) error {
	rows, err := rowjson.Load(ctx, env.DB, selectConnectors)
	if err != nil {
		return err
	}
	projects, err := projectNames(ctx, env.DB)
	if err != nil {
		return err
	}

	for _, p := range projects {
		if err := ensureResourcesDir(ctx, env, p); err != nil {
			return fmt.Errorf("project %s: %w", p, err)
		}
	}

	st, err := rewrite.ApplyText(ctx, env.DB, env.Gate, rows, Forward)
	if err != nil {
		return err
	}
	env.Log.Info("snowflake connector options processed", st.Fields()...)
	return nil
}

// Rollback implements migration.Step.
func (Step) Rollback(ctx context.Context, env *migration.Env) error {
	rows, err := rowjson.Load(ctx, env.DB, selectConnectors)
	if err != nil {
		return err
	}
	projects, err := projectNames(ctx, env.DB)
	if err != nil {
		return err
	}

	for _, p := range projects {
		dir := paths.FeaturestoreDB(p) + paths.Separator + ResourcesDir
		ok, err := dfs.Exists(ctx, env.FS, dir)
		if err != nil {
			return fmt.Errorf("project %s: %w", p, err)
		}
		if !ok {
			continue
		}
		if err := env.FS.Delete(ctx, dir, true); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}

	st, err := rewrite.ApplyText(ctx, env.DB, env.Gate, rows, Backward)
	if err != nil {
		return err
	}
	env.Log.Info("snowflake connector options processed", st.Fields()...)
	return nil
}

func projectNames(ctx context.Context, q db.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, selectProjects)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", db.Classify(err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ensureResourcesDir creates the resources directory of a feature store
// enabled project and aligns its owner and permission with the feature store
// directory. Projects without a feature store database are skipped.
func ensureResourcesDir(ctx context.Context, env *migration.Env, project string) error {
	fsDir := paths.FeaturestoreDB(project)
	parent, err := env.FS.Stat(ctx, fsDir)
	if errors.Is(err, fs.ErrNotExist) {
		env.Log.Debug("no feature store database", zap.String("project", project))
		return nil
	}
	if err != nil {
		return err
	}

	dir := fsDir + paths.Separator + ResourcesDir
	cur, err := env.FS.Stat(ctx, dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := env.FS.Mkdirs(ctx, dir, parent.Permission); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		cur = &dfs.FileInfo{Path: dir, Permission: parent.Permission}
	case err != nil:
		return err
	}

	if cur.Owner != parent.Owner || cur.Group != parent.Group {
		if err := env.FS.SetOwner(ctx, dir, parent.Owner, parent.Group); err != nil {
			return fmt.Errorf("failed to set owner of %s: %w", dir, err)
		}
	}
	if cur.Permission != parent.Permission {
		if err := env.FS.SetPermission(ctx, dir, parent.Permission); err != nil {
			return fmt.Errorf("failed to set permission of %s: %w", dir, err)
		}
	}
	return nil
}

// Forward converts "k=v;k=v" to a JSON option list.
func Forward(raw string) (string, error) {
	if _, err := parseJSON(raw); err == nil {
		return "", rowjson.ErrUnchanged
	}
	opts, err := parseLegacy(raw)
	if err != nil {
		return "", err
	}
	if len(opts) == 0 {
		return "", rowjson.ErrUnchanged
	}
	return rowjson.Encode(opts)
}

// Backward converts a JSON option list to "k=v;k=v". An empty list becomes
// NULL.
func Backward(raw string) (string, error) {
	opts, err := parseJSON(raw)
	if err != nil {
		if _, lerr := parseLegacy(raw); lerr == nil {
			return "", rowjson.ErrUnchanged
		}
		return "", err
	}
	parts := make([]string, 0, len(opts))
	for _, o := range opts {
		parts = append(parts, o.Name+"="+o.Value)
	}
	return strings.Join(parts, ";"), nil
}

func parseJSON(raw string) ([]Option, error) {
	var opts []Option
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, fault.DataShape.New("not an option list: %v", err)
	}
	return opts, nil
}

func parseLegacy(raw string) ([]Option, error) {
	var opts []Option
	for _, arg := range strings.Split(raw, ";") {
		if arg == "" {
			continue
		}
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fault.DataShape.New("option %q has no value", arg)
		}
		opts = append(opts, Option{Name: name, Value: value})
	}
	return opts, nil
}
