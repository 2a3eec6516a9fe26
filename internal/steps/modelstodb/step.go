// Package modelstodb copies model metadata from the file provenance search
// indices into the model and model_version tables.
package modelstodb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/namespace"
	"github.com/hopsworks/expat/internal/paths"
	"go.uber.org/zap"
)

// Name identifies the step.
const Name = "models-to-db"

// IndexPattern matches the file provenance index of every project. Index
// names start with the project inode id.
const IndexPattern = "*__file_prov"

// MaxHits bounds the model versions read per project.
const MaxHits = 10000

const createdLayout = "2006-01-02 15:04:05"

const (
	selectProject      = `SELECT id FROM project WHERE projectname = ?`
	selectModel        = `SELECT id FROM model WHERE project_id = ? AND name = ?`
	insertModel        = `INSERT INTO model (name, project_id) VALUES (?, ?)`
	countModelVersion  = `SELECT COUNT(*) FROM model_version WHERE model_id = ? AND version = ?`
	insertModelVersion = `INSERT INTO model_version (model_id, version, created, creator, description, metrics,
		program, framework, environment, experiment_id, experiment_project_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// Summary is the model_summary provenance attribute of a model version.
type Summary struct {
	Name                  string          `json:"name"`
	Version               int             `json:"version"`
	Created               *int64          `json:"created"`
	UserFullName          string          `json:"userFullName"`
	Description           string          `json:"description"`
	Metrics               json.RawMessage `json:"metrics"`
	Program               string          `json:"program"`
	Framework             string          `json:"framework"`
	Environment           json.RawMessage `json:"environment"`
	ExperimentID          string          `json:"experimentId"`
	ExperimentProjectName string          `json:"experimentProjectName"`
}

// Query returns the search for model version states of a project.
func Query(projectInodeID, modelsInodeID int64) string {
	term := func(field string, value any) map[string]any {
		return map[string]any{"term": map[string]any{field: map[string]any{"value": value}}}
	}
	q := map[string]any{
		"from": 0,
		"size": MaxHits,
		"query": map[string]any{"bool": map[string]any{"must": []any{
			term("entry_type", "state"),
			term("project_i_id", strconv.FormatInt(projectInodeID, 10)),
			term("ml_type", "MODEL"),
			term("dataset_i_id", strconv.FormatInt(modelsInodeID, 10)),
			map[string]any{"exists": map[string]any{"field": "xattr_prov.model_summary.value"}},
		}}},
	}
	b, _ := json.Marshal(q)
	return string(b)
}

// ParseHit extracts the model summary from a search hit. The value may be
// stored as an object or as a JSON encoded string.
func ParseHit(source []byte) (*Summary, error) {
	var doc struct {
		XAttrProv struct {
			ModelSummary struct {
				Value json.RawMessage `json:"value"`
			} `json:"model_summary"`
		} `json:"xattr_prov"`
	}
	if err := json.Unmarshal(source, &doc); err != nil {
		return nil, fault.DataShape.New("unreadable search hit: %v", err)
	}
	raw := doc.XAttrProv.ModelSummary.Value
	var s string
	if json.Unmarshal(raw, &s) == nil {
		raw = []byte(s)
	}
	var sum Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return nil, fault.DataShape.New("unreadable model summary: %v", err)
	}
	if sum.Name == "" {
		return nil, fault.DataShape.New("model summary has no name")
	}
	return &sum, nil
}

// Step implements migration.Step.
type Step struct{}

// New returns the step.
func New() migration.Step { return Step{} }

// Name implements migration.Step.
func (Step) Name() string { return Name }

// Needs implements migration.Needs.
func (Step) Needs() migration.Handles {
	return migration.NeedDB | migration.NeedNamespace | migration.NeedSearch
}

// Migrate implements migration.Step.
func (Step) Migrate(ctx context.Context, env *migration.Env) error {
	indices, err := env.Search.ListIndices(ctx, IndexPattern)
	if err != nil {
		return err
	}
	env.Log.Info("found file provenance indices", zap.Int("count", len(indices)))

	for _, index := range indices {
		if err := migrateIndex(ctx, env, index); err != nil {
			return fmt.Errorf("index %s: %w", index, err)
		}
	}
	return nil
}

// Rollback implements migration.Step.
func (Step) Rollback(context.Context, *migration.Env) error {
	return migration.NoopRollback("model tables are kept, the search indices were never changed")
}

func migrateIndex(ctx context.Context, env *migration.Env, index string) error {
	log := env.Log.With(zap.String("index", index))
	prefix, _, _ := strings.Cut(index, "__")
	inodeID, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		log.Warn("skipped index without a project inode id")
		return nil
	}

	proj, err := env.Resolver.FindByID(ctx, inodeID)
	if errors.Is(err, namespace.ErrNotFound) {
		log.Warn("skipped index of a missing project", zap.Int64("inode_id", inodeID))
		return nil
	}
	if err != nil {
		return err
	}
	log = log.With(zap.String("project", proj.Name))
	models, err := env.Resolver.Resolve(ctx, paths.Dataset(proj.Name, "Models"))
	if errors.Is(err, namespace.ErrNotFound) {
		log.Info("project has no Models dataset")
		return nil
	}
	if err != nil {
		return err
	}

	res, err := env.Search.Search(ctx, index, Query(proj.ID, models.ID))
	if err != nil {
		return err
	}
	hits := res.Hits
	if res.Total > int64(len(hits)) {
		log.Warn("model versions beyond the search size are not migrated",
			zap.Int64("total", res.Total), zap.Int("returned", len(hits)))
	}
	if len(hits) == 0 {
		log.Info("found no model versions")
		return nil
	}
	summaries := make([]*Summary, 0, len(hits))
	seen := map[string]bool{}
	for _, h := range hits {
		s, err := ParseHit(h.Source)
		if err != nil {
			return fmt.Errorf("hit %s: %w", h.ID, err)
		}
		// a dry run cannot read back a version it skipped inserting
		key := s.Name + "/" + strconv.Itoa(s.Version)
		if seen[key] {
			log.Debug("skipped duplicate model version hit", zap.String("hit", h.ID), zap.String("model", key))
			continue
		}
		seen[key] = true
		summaries = append(summaries, s)
	}

	projectID, err := lookupProject(ctx, env.DB, proj.Name)
	if err != nil {
		return err
	}

	inserted := 0
	err = env.DB.WithTx(ctx, func(tx *sql.Tx) error {
		// models inserted by this transaction; dry runs cannot read them back
		created := map[string]int64{}
		for _, s := range summaries {
			n, err := insertVersion(ctx, env, tx, projectID, created, s)
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("model versions processed", zap.Int("found", len(summaries)), zap.Int("inserted", inserted))
	return nil
}

func lookupProject(ctx context.Context, q db.Querier, name string) (int64, error) {
	found, err := ids(ctx, q, selectProject, name)
	if err != nil {
		return 0, err
	}
	switch len(found) {
	case 0:
		return 0, fault.DataShape.New("project %s has no project row", name)
	case 1:
		return found[0], nil
	default:
		return 0, fault.DataShape.New("project %s matches %d project rows", name, len(found))
	}
}

func insertVersion(ctx context.Context, env *migration.Env, tx *sql.Tx, projectID int64, created map[string]int64, s *Summary) (int, error) {
	entity := "model " + s.Name + "/" + strconv.Itoa(s.Version)

	modelIDs, err := ids(ctx, tx, selectModel, projectID, s.Name)
	if err != nil {
		return 0, err
	}
	if id, ok := created[s.Name]; ok && len(modelIDs) == 0 {
		modelIDs = []int64{id}
	}
	var modelID int64
	switch len(modelIDs) {
	case 0:
		modelID, err = db.Insert(ctx, env.Gate, tx, "model "+s.Name, insertModel, s.Name, projectID)
		if err != nil {
			return 0, err
		}
		created[s.Name] = modelID
	case 1:
		modelID = modelIDs[0]
	default:
		return 0, fault.DataShape.New("model %s matches %d rows in project %d", s.Name, len(modelIDs), projectID)
	}

	var n int
	if err := tx.QueryRowContext(ctx, countModelVersion, modelID, s.Version).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to query model version: %w", db.Classify(err))
	}
	if n > 0 {
		return 0, nil
	}
	var createdAt any
	if s.Created != nil {
		createdAt = time.UnixMilli(*s.Created).UTC().Format(createdLayout)
	}
	_, err = db.Exec(ctx, env.Gate, tx, entity, insertModelVersion,
		modelID, s.Version, createdAt, s.UserFullName, s.Description, text(s.Metrics),
		s.Program, s.Framework, text(s.Environment), s.ExperimentID, s.ExperimentProjectName)
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func ids(ctx context.Context, q db.Querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", db.Classify(err))
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func text(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}
