// Package dockerresources moves the memory, cores and gpus settings of
// Docker and Python jobs into a nested resourceConfig object.
//
// A document that already has resourceConfig is considered migrated.
// Documents that cannot be read, or carry non-integer resources, fail the
// step: guessing the size of a job is not safe.
package dockerresources

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/steps/rowjson"
)

// Name identifies the step.
const Name = "docker-resources"

// ResourcesType is the type tag of the nested object.
const ResourcesType = "dockerResourcesConfiguration"

const selectJobs = "SELECT id, json_config FROM jobs WHERE type = ? OR type = ?"

// Defaults used when a document does not set a resource.
const (
	DefaultMemory = 1024
	DefaultCores  = 1
	DefaultGPUs   = 0
)

var resources = []struct {
	key string
	def int64
}{
	{"memory", DefaultMemory},
	{"cores", DefaultCores},
	{"gpus", DefaultGPUs},
}

var rewrite = rowjson.Rewrite{Table: "jobs", Column: "json_config", Entity: "job"}

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
	rows, err := rowjson.Load(ctx, env.DB, selectJobs, "DOCKER", "PYTHON")
	if err != nil {
		return err
	}
	st, err := rewrite.Apply(ctx, env.DB, env.Gate, rows, convert)
	if err != nil {
		return err
	}
	env.Log.Info("docker job configurations processed", st.Fields()...)
	return nil
}

// Forward nests the top level resources under resourceConfig.
func Forward(obj rowjson.Object) (rowjson.Object, error) {
	if _, ok := obj["resourceConfig"]; ok {
		return nil, rowjson.ErrUnchanged
	}
	nested := rowjson.Object{"type": ResourcesType}
	for _, r := range resources {
		v, err := integer(obj, r.key, r.def)
		if err != nil {
			return nil, err
		}
		delete(obj, r.key)
		nested[r.key] = v
	}
	obj["resourceConfig"] = nested
	return obj, nil
}

// Backward lifts resourceConfig back to the top level.
func Backward(obj rowjson.Object) (rowjson.Object, error) {
	raw, ok := obj["resourceConfig"]
	if !ok {
		return nil, rowjson.ErrUnchanged
	}
	nested, ok := raw.(map[string]any)
	if !ok {
		return nil, fault.DataShape.New("resourceConfig: expected an object, got %T", raw)
	}
	for _, r := range resources {
		v, err := integer(nested, r.key, r.def)
		if err != nil {
			return nil, err
		}
		obj[r.key] = v
	}
	delete(obj, "resourceConfig")
	return obj, nil
}

func integer(obj rowjson.Object, key string, def int64) (int64, error) {
	v, ok := obj[key]
	if !ok {
		return def, nil
	}
	var s string
	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = n
	default:
		return 0, fault.DataShape.New("%s: expected an integer, got %T", key, v)
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fault.DataShape.New("%s: expected an integer, got %q", key, s)
	}
	return i, nil
}
