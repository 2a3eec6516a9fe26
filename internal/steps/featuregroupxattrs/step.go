// Package featuregroupxattrs attaches the provenance.featurestore extended
// attribute to the directory of every hive managed feature group, so the
// search pipeline can index feature groups.
package featuregroupxattrs

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/dfs"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/paths"
	"go.uber.org/zap"
)

// Name identifies the step.
const Name = "featuregroup-xattrs"

// XAttr is the attribute written on feature group directories.
const XAttr = "provenance.featurestore"

// MaxXAttrSize is the largest value written with the feature list. Larger
// values are written without features.
const MaxXAttrSize = 13500

// CreatedLayout parses feature_group.created.
const CreatedLayout = "2006-1-02 15:04:05"

const (
	selectFeatureStores = `SELECT fs.id, p.inode_name FROM feature_store fs
		JOIN project p ON fs.project_id = p.id ORDER BY fs.id`
	selectFeatureGroups = `SELECT f.name, f.version, f.created, f.creator, t.TBL_ID, s.LOCATION
		FROM feature_group f
		JOIN cached_feature_group c ON f.cached_feature_group_id = c.id
		JOIN metastore.TBLS t ON c.offline_feature_group = t.TBL_ID
		JOIN metastore.SDS s ON t.SD_ID = s.SD_ID
		WHERE t.TBL_TYPE = 'MANAGED_TABLE' AND f.feature_store_id = ? ORDER BY f.id`
	selectCreator     = `SELECT email FROM users WHERE uid = ?`
	selectDescription = `SELECT PARAM_VALUE FROM metastore.TABLE_PARAMS WHERE TBL_ID = ? AND PARAM_KEY = 'comment'`
	selectFeatures    = `SELECT c.COLUMN_NAME FROM metastore.TBLS t
		JOIN metastore.SDS s ON t.SD_ID = s.SD_ID
		JOIN metastore.COLUMNS_V2 c ON s.CD_ID = c.CD_ID
		WHERE t.TBL_ID = ? ORDER BY c.INTEGER_IDX`
)

// Feature is one entry of fg_features.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Value is the content of the attribute.
type Value struct {
	FeaturestoreID int64     `json:"featurestore_id"`
	Description    *string   `json:"description"`
	CreateDate     *int64    `json:"create_date"`
	Creator        *string   `json:"creator"`
	Features       []Feature `json:"fg_features"`
}

// Encode renders v, dropping the feature list when the result would exceed
// MaxXAttrSize. The second result reports whether features were dropped.
func (v Value) Encode() ([]byte, bool, error) {
	if v.Features == nil {
		v.Features = []Feature{}
	}
	b, err := json.Marshal(v)
	if err != nil || len(b) <= MaxXAttrSize {
		return b, false, err
	}
	v.Features = []Feature{}
	b, err = json.Marshal(v)
	return b, true, err
}

type featureStore struct {
	ID      int64
	Project string
}

type featureGroup struct {
	Name     string
	Version  int
	Created  sql.NullString
	Creator  sql.NullInt64
	TableID  int64
	Location string
}

// Path returns the warehouse directory of a feature group.
func Path(project, name string, version int) string {
	return paths.FeaturestoreDB(project) + paths.Separator + name + "_" + strconv.Itoa(version)
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
	var written, current, skipped int
	err := each(ctx, env, func(fs featureStore, fg featureGroup, path string) error {
		log := env.Log.With(zap.String("path", path))
		if !strings.HasSuffix(fg.Location, path) {
			log.Warn("skipped feature group, location mismatch", zap.String("location", fg.Location))
			skipped++
			return nil
		}
		v, err := compute(ctx, env.DB, fs, fg)
		if err != nil {
			return err
		}
		val, trimmed, err := v.Encode()
		if err != nil {
			return err
		}
		if trimmed {
			log.Warn("xattr too large, features not attached")
		}

		old, err := env.FS.GetXAttr(ctx, path, XAttr)
		switch {
		case errors.Is(err, dfs.ErrNoXAttr):
		case err != nil:
			return err
		case same(old, val):
			current++
			return nil
		}
		if err := env.FS.SetXAttr(ctx, path, XAttr, val); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		return err
	}
	env.Log.Info("feature group xattrs processed",
		zap.Int("written", written), zap.Int("current", current), zap.Int("skipped", skipped))
	return nil
}

// Rollback implements migration.Step.
func (Step) Rollback(ctx context.Context, env *migration.Env) error {
	removed := 0
	err := each(ctx, env, func(_ featureStore, _ featureGroup, path string) error {
		_, err := env.FS.GetXAttr(ctx, path, XAttr)
		if errors.Is(err, dfs.ErrNoXAttr) {
			return nil
		}
		if err != nil {
			return err
		}
		err = env.FS.RemoveXAttr(ctx, path, XAttr)
		if err != nil && !dfs.IsNoXAttrToRemove(err) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return err
	}
	env.Log.Info("feature group xattrs removed", zap.Int("removed", removed))
	return nil
}

func each(ctx context.Context, env *migration.Env, fn func(featureStore, featureGroup, string) error) error {
	stores, err := featureStores(ctx, env.DB)
	if err != nil {
		return err
	}
	for _, fs := range stores {
		groups, err := featureGroups(ctx, env.DB, fs.ID)
		if err != nil {
			return err
		}
		for _, fg := range groups {
			path := Path(fs.Project, fg.Name, fg.Version)
			if err := fn(fs, fg, path); err != nil {
				return fmt.Errorf("feature group %s: %w", path, err)
			}
		}
	}
	return nil
}

func featureStores(ctx context.Context, q db.Querier) ([]featureStore, error) {
	rows, err := q.QueryContext(ctx, selectFeatureStores)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature stores: %w", db.Classify(err))
	}
	defer rows.Close()

	var out []featureStore
	for rows.Next() {
		var fs featureStore
		if err := rows.Scan(&fs.ID, &fs.Project); err != nil {
			return nil, fmt.Errorf("failed to scan feature store: %w", err)
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

func featureGroups(ctx context.Context, q db.Querier, featureStoreID int64) ([]featureGroup, error) {
	rows, err := q.QueryContext(ctx, selectFeatureGroups, featureStoreID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature groups: %w", db.Classify(err))
	}
	defer rows.Close()

	var out []featureGroup
	for rows.Next() {
		var fg featureGroup
		if err := rows.Scan(&fg.Name, &fg.Version, &fg.Created, &fg.Creator, &fg.TableID, &fg.Location); err != nil {
			return nil, fmt.Errorf("failed to scan feature group: %w", err)
		}
		out = append(out, fg)
	}
	return out, rows.Err()
}

func compute(ctx context.Context, q db.Querier, fs featureStore, fg featureGroup) (Value, error) {
	v := Value{FeaturestoreID: fs.ID}

	var creator string
	err := q.QueryRowContext(ctx, selectCreator, fg.Creator).Scan(&creator)
	if errors.Is(err, sql.ErrNoRows) {
		return v, fault.DataShape.New("creator %d not found", fg.Creator.Int64)
	}
	if err != nil {
		return v, fmt.Errorf("failed to query creator: %w", db.Classify(err))
	}
	v.Creator = &creator

	var desc sql.NullString
	err = q.QueryRowContext(ctx, selectDescription, fg.TableID).Scan(&desc)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return v, fmt.Errorf("failed to query description: %w", db.Classify(err))
	}
	if desc.Valid {
		v.Description = &desc.String
	}

	if fg.Created.Valid {
		t, err := time.ParseInLocation(CreatedLayout, fg.Created.String, time.Local)
		if err != nil {
			return v, fault.DataShape.New("bad create date %q: %v", fg.Created.String, err)
		}
		ms := t.UnixMilli()
		v.CreateDate = &ms
	}

	rows, err := q.QueryContext(ctx, selectFeatures, fg.TableID)
	if err != nil {
		return v, fmt.Errorf("failed to query features: %w", db.Classify(err))
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return v, fmt.Errorf("failed to scan feature: %w", err)
		}
		v.Features = append(v.Features, Feature{Name: name})
	}
	return v, rows.Err()
}

// same reports whether the stored value decodes to the computed one.
func same(stored, computed []byte) bool {
	var v Value
	if err := json.Unmarshal(stored, &v); err != nil {
		return false
	}
	b, _, err := v.Encode()
	return err == nil && bytes.Equal(b, computed)
}
