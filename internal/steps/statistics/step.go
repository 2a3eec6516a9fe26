// Package statistics moves descriptive statistics from legacy per-commit
// JSON files into feature_descriptive_statistics rows.
//
// The platform upgrade leaves one placeholder row per legacy file, marked
// with feature_name "for-migration". A migrated placeholder is flipped to
// "to-be-deleted" in the same transaction that inserts its statistics; the
// legacy files and the placeholder row are removed afterwards, so an
// interrupted run picks up exactly where it stopped.
package statistics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/dfs"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/paths"
	"go.uber.org/zap"
)

// Name identifies the step.
const Name = "statistics"

// Placeholder markers stored in feature_name.
const (
	ForMigration = "for-migration"
	ToBeDeleted  = "to-be-deleted"
)

// Entity types stored in feature_type of a placeholder.
const (
	FeatureGroup    = "FEATURE_GROUP"
	TrainingDataset = "TRAINING_DATASET"
)

// Split names of a training dataset.
const (
	SplitTrain      = "train"
	SplitTest       = "test"
	SplitValidation = "validation"
)

const (
	selectPlaceholders = `SELECT id, feature_type, count, num_non_null_values, num_null_values, extended_statistics_path
		FROM feature_descriptive_statistics WHERE feature_name = ? ORDER BY id`
	selectEarliestCommits = `SELECT feature_group_id, MIN(commit_id) FROM feature_group_commit GROUP BY feature_group_id`

	insertStatistics = `INSERT INTO feature_descriptive_statistics (feature_name, feature_type, count, completeness,
		num_non_null_values, num_null_values, approx_num_distinct_values, min, max, sum, mean, stddev, percentiles,
		distinctness, entropy, uniqueness, exact_num_distinct_values, extended_statistics_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertIntermediate = `INSERT INTO %s (%s, feature_descriptive_statistics_id) VALUES (?, ?)`
	updateWindowStart  = `UPDATE feature_group_statistics SET window_start_commit_id = ? WHERE id = ?`
	flipPlaceholder    = `UPDATE feature_descriptive_statistics SET feature_name = ? WHERE id = ?`
	deletePlaceholder  = `DELETE FROM feature_descriptive_statistics WHERE id = ?`
)

// splitTables maps a split to its intermediate table. The empty split is a
// whole training dataset.
var splitTables = map[string]string{
	"":              "training_dataset_descriptive_statistics",
	SplitTrain:      "training_dataset_descriptive_statistics",
	SplitTest:       "test_dataset_descriptive_statistics",
	SplitValidation: "val_dataset_descriptive_statistics",
}

// placeholder is one marked row.
type placeholder struct {
	ID         int64
	EntityType string
	EntityID   int64
	CommitTime int64
	WindowEnd  int64
	Path       string
}

func (p placeholder) entity() string { return "statistics " + strconv.FormatInt(p.ID, 10) }

// part is one legacy file and what it turns into.
type part struct {
	legacy  string
	table   string
	column  string
	columns []legacyColumn
	files   map[string]string // feature -> extended statistics file
	info    *dfs.FileInfo
	dir     string
	name    func(feature string) string
}

// plan is the work derived from one placeholder.
type plan struct {
	ph          placeholder
	windowStart *int64
	parts       []*part
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
	pending, err := loadPlaceholders(ctx, env.DB, ForMigration)
	if err != nil {
		return err
	}
	for _, ph := range pending {
		if ph.EntityType != FeatureGroup && ph.EntityType != TrainingDataset {
			return fault.DataShape.New("%s: unknown entity type %q", ph.entity(), ph.EntityType)
		}
	}
	orphans, err := loadPlaceholders(ctx, env.DB, ToBeDeleted)
	if err != nil {
		return err
	}
	earliest, err := earliestCommits(ctx, env.DB)
	if err != nil {
		return err
	}

	for _, ph := range pending {
		p, err := planFor(ctx, env.FS, ph, earliest)
		if err != nil {
			return fmt.Errorf("%s: %w", ph.entity(), err)
		}
		if err := writeExtended(ctx, env.FS, p); err != nil {
			return fmt.Errorf("%s: %w", ph.entity(), err)
		}
		if err := commit(ctx, env, p); err != nil {
			return err
		}
		env.Log.Debug("statistics migrated", zap.Int64("statistics_id", ph.ID),
			zap.String("entity_type", ph.EntityType), zap.Int64("entity_id", ph.EntityID), zap.Int("files", len(p.parts)))
	}

	// Placeholders migrated above are now marked to-be-deleted as well.
	for _, ph := range append(orphans, pending...) {
		if err := removeLegacy(ctx, env.FS, ph); err != nil {
			return fmt.Errorf("%s: %w", ph.entity(), err)
		}
		if _, err := db.Exec(ctx, env.Gate, env.DB, ph.entity(), deletePlaceholder, ph.ID); err != nil {
			return err
		}
	}
	env.Log.Info("statistics processed", zap.Int("migrated", len(pending)), zap.Int("removed", len(orphans)+len(pending)))
	return nil
}

// Rollback implements migration.Step.
func (Step) Rollback(context.Context, *migration.Env) error {
	return migration.NoopRollback("legacy statistics files are not recreated")
}

func loadPlaceholders(ctx context.Context, q db.Querier, marker string) ([]placeholder, error) {
	rows, err := q.QueryContext(ctx, selectPlaceholders, marker)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s statistics: %w", marker, db.Classify(err))
	}
	defer rows.Close()

	var out []placeholder
	for rows.Next() {
		var (
			ph                         placeholder
			kind, path                 sql.NullString
			entity, commitTime, winEnd sql.NullInt64
		)
		if err := rows.Scan(&ph.ID, &kind, &entity, &commitTime, &winEnd, &path); err != nil {
			return nil, fmt.Errorf("failed to scan %s statistics: %w", marker, err)
		}
		ph.EntityType, ph.Path = kind.String, path.String
		ph.EntityID, ph.CommitTime, ph.WindowEnd = entity.Int64, commitTime.Int64, winEnd.Int64
		out = append(out, ph)
	}
	return out, rows.Err()
}

func earliestCommits(ctx context.Context, q db.Querier) (map[int64]int64, error) {
	rows, err := q.QueryContext(ctx, selectEarliestCommits)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature group commits: %w", db.Classify(err))
	}
	defer rows.Close()

	out := map[int64]int64{}
	for rows.Next() {
		var fg, commitID int64
		if err := rows.Scan(&fg, &commitID); err != nil {
			return nil, fmt.Errorf("failed to scan feature group commit: %w", err)
		}
		out[fg] = commitID
	}
	return out, rows.Err()
}

func planFor(ctx context.Context, files dfs.FileSystem, ph placeholder, earliest map[int64]int64) (*plan, error) {
	p := &plan{ph: ph}

	if ph.EntityType == FeatureGroup {
		end := ph.WindowEnd
		if start, ok := earliest[ph.EntityID]; ok {
			p.windowStart = &start
		} else if end == 0 {
			end = ph.CommitTime
		}
		pt, err := readPart(ctx, files, ph.Path, "feature_group_descriptive_statistics", "feature_group_statistics_id")
		if err != nil {
			return nil, err
		}
		pt.dir = paths.Parent(ph.Path)
		pt.name = func(f string) string { return windowName("", p.windowStart, end, f) }
		p.parts = append(p.parts, pt)
		return p, nil
	}

	info, err := files.Stat(ctx, ph.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir {
		pt, err := readPart(ctx, files, ph.Path, splitTables[""], "training_dataset_statistics_id")
		if err != nil {
			return nil, err
		}
		prefix := ""
		if strings.Contains(ph.Path, "transformation_fn") {
			prefix = "transformation_fn_"
		}
		pt.dir = paths.Parent(ph.Path)
		pt.name = func(f string) string { return windowName(prefix, nil, ph.CommitTime, f) }
		p.parts = append(p.parts, pt)
		return p, nil
	}

	for _, split := range []string{SplitTrain, SplitTest, SplitValidation} {
		legacy := splitFile(ph.Path, split, ph.CommitTime)
		if split == SplitValidation {
			ok, err := dfs.Exists(ctx, files, legacy)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		pt, err := readPart(ctx, files, legacy, splitTables[split], "training_dataset_statistics_id")
		if err != nil {
			return nil, err
		}
		pt.dir = ph.Path
		pt.name = func(f string) string {
			return strconv.FormatInt(ph.CommitTime, 10) + "_" + split + "_" + f + ".json"
		}
		p.parts = append(p.parts, pt)
	}
	return p, nil
}

func readPart(ctx context.Context, files dfs.FileSystem, path, table, column string) (*part, error) {
	info, err := files.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	data, err := files.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	cols, err := parseLegacy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &part{legacy: path, table: table, column: column, columns: cols, info: info, files: map[string]string{}}, nil
}

// writeExtended writes the extended statistics files of p. Names are derived
// from the placeholder, so a rerun overwrites what an interrupted run wrote.
func writeExtended(ctx context.Context, files dfs.FileSystem, p *plan) error {
	for _, pt := range p.parts {
		for _, c := range pt.columns {
			data, err := c.extendedJSON()
			if err != nil {
				return err
			}
			if data == nil {
				continue
			}
			path := pt.dir + paths.Separator + pt.name(c.Column)
			if err := files.Create(ctx, path, data, pt.info.Permission, true); err != nil {
				return err
			}
			if err := files.SetOwner(ctx, path, pt.info.Owner, pt.info.Group); err != nil {
				return err
			}
			if err := files.SetPermission(ctx, path, pt.info.Permission); err != nil {
				return err
			}
			pt.files[c.Column] = path
		}
	}
	return nil
}

func commit(ctx context.Context, env *migration.Env, p *plan) error {
	entity := p.ph.entity()
	return env.DB.WithTx(ctx, func(tx *sql.Tx) error {
		for _, pt := range p.parts {
			for _, c := range pt.columns {
				var ext any
				if path, ok := pt.files[c.Column]; ok {
					ext = path
				}
				id, err := db.Insert(ctx, env.Gate, tx, entity, insertStatistics,
					c.Column, c.DataType, value(c.Count), value(c.Completeness), value(c.NumNonNull),
					value(c.NumNull), value(c.ApproxDistinct), value(c.Min), value(c.Max), value(c.Sum),
					value(c.Mean), value(c.StdDev), c.percentiles(), value(c.Distinctness), value(c.Entropy),
					value(c.Uniqueness), value(c.ExactDistinct), ext)
				if err != nil {
					return err
				}
				if _, err := db.Exec(ctx, env.Gate, tx, entity, fmt.Sprintf(insertIntermediate, pt.table, pt.column), p.ph.ID, id); err != nil {
					return err
				}
			}
		}
		if p.windowStart != nil {
			if _, err := db.Exec(ctx, env.Gate, tx, entity, updateWindowStart, *p.windowStart, p.ph.ID); err != nil {
				return err
			}
		}
		_, err := db.Exec(ctx, env.Gate, tx, entity, flipPlaceholder, ToBeDeleted, p.ph.ID)
		return err
	})
}

// removeLegacy deletes the legacy files of a migrated placeholder. For a
// training dataset with splits only the split files of its commit go; the
// directory also holds the new extended statistics.
func removeLegacy(ctx context.Context, files dfs.FileSystem, ph placeholder) error {
	if ph.Path == "" {
		return nil
	}
	info, err := files.Stat(ctx, ph.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir {
		return files.Delete(ctx, ph.Path, false)
	}
	for _, split := range []string{SplitTrain, SplitTest, SplitValidation} {
		legacy := splitFile(ph.Path, split, ph.CommitTime)
		ok, err := dfs.Exists(ctx, files, legacy)
		if err != nil {
			return err
		}
		if ok {
			if err := files.Delete(ctx, legacy, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitFile(dir, split string, commitTime int64) string {
	return dir + paths.Separator + split + "_" + strconv.FormatInt(commitTime, 10) + ".json"
}

func windowName(prefix string, start *int64, end int64, feature string) string {
	name := prefix
	if start != nil {
		name += strconv.FormatInt(*start, 10) + "_"
	}
	return name + strconv.FormatInt(end, 10) + "_" + feature + ".json"
}
