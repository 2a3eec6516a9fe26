package statistics

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/steps/stepstest"
	"github.com/hopsworks/expat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fgDir = "/Projects/demo/Statistics/FeatureGroups/fg_1"
	tdDir = "/Projects/demo/Statistics/TrainingDatasets/td_1"

	legacyFG = `{"columns":[
		{"column":"age","dataType":"Integral","count":10,"completeness":1.0,"numRecordsNonNull":10,"numRecordsNull":0,
		 "minimum":1,"maximum":90,"mean":40.5,"approxPercentiles":[1,20,40],"histogram":[{"value":"1","count":1}]},
		{"column":"name","dataType":"String","count":10,"exactNumDistinctValues":7}]}`
	legacySplit = `{"columns":[{"column":"label","dataType":"Boolean","count":3,"unique_values":[true,false]}]}`
)

func seed(t *testing.T, h *stepstest.Harness) {
	t.Helper()
	testutil.Exec(t, h.DB,
		`INSERT INTO feature_group_commit (feature_group_id, commit_id) VALUES (11, 1000), (11, 900)`,
		`INSERT INTO feature_group_statistics (id, feature_group_id, window_end_commit_id) VALUES (1, 11, 2000)`,
		`INSERT INTO feature_descriptive_statistics (id, feature_name, feature_type, count, num_non_null_values, num_null_values, extended_statistics_path)
			VALUES (1, 'for-migration', 'FEATURE_GROUP', 11, 1500, 2000, '`+fgDir+`/1500.json')`,
		`INSERT INTO feature_descriptive_statistics (id, feature_name, feature_type, count, num_non_null_values, num_null_values, extended_statistics_path)
			VALUES (2, 'for-migration', 'TRAINING_DATASET', 21, 3000, 0, '`+tdDir+`')`,
		`INSERT INTO feature_descriptive_statistics (id, feature_name, feature_type, count, num_non_null_values, extended_statistics_path)
			VALUES (3, 'to-be-deleted', 'FEATURE_GROUP', 11, 100, '`+fgDir+`/100.json')`,
	)
	h.FS.MkdirAll(fgDir, "demo__alice", "demo", 0o750)
	h.FS.MkdirAll(tdDir, "demo__alice", "demo", 0o750)
	for path, content := range map[string]string{
		fgDir + "/1500.json":       legacyFG,
		fgDir + "/100.json":        legacyFG,
		tdDir + "/train_3000.json": legacySplit,
		tdDir + "/test_3000.json":  legacySplit,
	} {
		h.FS.WriteFile(path, []byte(content))
		n := h.FS.Node(path)
		n.Owner, n.Group, n.Perm = "demo__alice", "demo", 0o640
	}
}

func TestMigrate(t *testing.T) {
	h := stepstest.New(t)
	seed(t, h)

	h.Migrate(t, New(), false)

	// placeholders are gone, per-feature rows took their place
	assert.Zero(t, testutil.Count(t, h.DB, "feature_descriptive_statistics", "feature_name IN ('for-migration', 'to-be-deleted')"))
	assert.Equal(t, 2, testutil.Count(t, h.DB, "feature_group_descriptive_statistics", "feature_group_statistics_id = 1"))
	assert.Equal(t, 1, testutil.Count(t, h.DB, "training_dataset_descriptive_statistics", "training_dataset_statistics_id = 2"))
	assert.Equal(t, 1, testutil.Count(t, h.DB, "test_dataset_descriptive_statistics", "training_dataset_statistics_id = 2"))
	assert.Zero(t, testutil.Count(t, h.DB, "val_dataset_descriptive_statistics", ""))

	assert.Equal(t, "900", testutil.QueryString(t, h.DB, "SELECT window_start_commit_id FROM feature_group_statistics WHERE id = 1"))
	assert.Equal(t, "40.5", testutil.QueryString(t, h.DB, "SELECT mean FROM feature_descriptive_statistics WHERE feature_name = 'age'"))

	// extended statistics land next to the legacy file, named by the window
	ext := fgDir + "/900_2000_age.json"
	assert.Equal(t, ext, testutil.QueryString(t, h.DB, "SELECT extended_statistics_path FROM feature_descriptive_statistics WHERE feature_name = 'age'"))
	n := h.FS.Node(ext)
	require.NotNil(t, n)
	assert.Equal(t, "demo__alice", n.Owner)
	assert.EqualValues(t, 0o640, n.Perm)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(n.Data, &doc))
	assert.Contains(t, doc, "histogram")
	assert.False(t, h.FS.Exists(fgDir+"/900_2000_name.json"), "features without extended statistics get no file")

	assert.True(t, h.FS.Exists(tdDir+"/3000_train_label.json"))
	assert.True(t, h.FS.Exists(tdDir+"/3000_test_label.json"))

	// legacy files are removed, the split directory stays
	assert.False(t, h.FS.Exists(fgDir+"/1500.json"))
	assert.False(t, h.FS.Exists(fgDir+"/100.json"))
	assert.False(t, h.FS.Exists(tdDir+"/train_3000.json"))
	assert.True(t, h.FS.Exists(tdDir))

	assert.Empty(t, h.Migrate(t, New(), false))
}

func TestMigrateResumesAfterCommit(t *testing.T) {
	h := stepstest.New(t)
	seed(t, h)
	// a previous run committed row 1 but stopped before removing its file
	testutil.Exec(t, h.DB, `UPDATE feature_descriptive_statistics SET feature_name = 'to-be-deleted' WHERE id = 1`)

	h.Migrate(t, New(), false)

	assert.False(t, h.FS.Exists(fgDir+"/1500.json"))
	assert.Zero(t, testutil.Count(t, h.DB, "feature_group_descriptive_statistics", ""))
	assert.Zero(t, testutil.Count(t, h.DB, "feature_descriptive_statistics", "id = 1"))
}

func TestMigrateWithoutCommitsUsesCommitTime(t *testing.T) {
	h := stepstest.New(t)
	testutil.Exec(t, h.DB,
		`INSERT INTO feature_group_statistics (id, feature_group_id) VALUES (5, 12)`,
		`INSERT INTO feature_descriptive_statistics (id, feature_name, feature_type, count, num_non_null_values, num_null_values, extended_statistics_path)
			VALUES (5, 'for-migration', 'FEATURE_GROUP', 12, 1500, 0, '`+fgDir+`/1500.json')`,
	)
	h.FS.MkdirAll(fgDir, "demo__alice", "demo", 0o750)
	h.FS.WriteFile(fgDir+"/1500.json", []byte(legacyFG))

	h.Migrate(t, New(), false)

	assert.True(t, h.FS.Exists(fgDir+"/1500_age.json"))
	assert.Equal(t, "", testutil.QueryString(t, h.DB, "SELECT COALESCE(window_start_commit_id, '') FROM feature_group_statistics WHERE id = 5"))
}

func TestMigrateTransformationFunctions(t *testing.T) {
	h := stepstest.New(t)
	path := tdDir + "/transformation_fn/3000.json"
	testutil.Exec(t, h.DB,
		`INSERT INTO feature_descriptive_statistics (id, feature_name, feature_type, count, num_non_null_values, extended_statistics_path)
			VALUES (7, 'for-migration', 'TRAINING_DATASET', 21, 3000, '`+path+`')`,
	)
	h.FS.MkdirAll(tdDir+"/transformation_fn", "demo__alice", "demo", 0o750)
	h.FS.WriteFile(path, []byte(legacySplit))

	h.Migrate(t, New(), false)

	assert.True(t, h.FS.Exists(tdDir+"/transformation_fn/transformation_fn_3000_label.json"))
	assert.Equal(t, 1, testutil.Count(t, h.DB, "training_dataset_descriptive_statistics", "training_dataset_statistics_id = 7"))
}

func TestMigrateMissingTrainingDataset(t *testing.T) {
	h := stepstest.New(t)
	testutil.Exec(t, h.DB,
		`INSERT INTO feature_descriptive_statistics (id, feature_name, feature_type, count, num_non_null_values, extended_statistics_path)
			VALUES (8, 'for-migration', 'TRAINING_DATASET', 21, 3000, '/Projects/demo/gone')`,
	)

	h.Migrate(t, New(), false)

	assert.Zero(t, testutil.Count(t, h.DB, "feature_descriptive_statistics", ""))
}

func TestMigrateUnknownEntityType(t *testing.T) {
	h := stepstest.New(t)
	seed(t, h)
	testutil.Exec(t, h.DB,
		`INSERT INTO feature_descriptive_statistics (id, feature_name, feature_type, count) VALUES (9, 'for-migration', 'MODEL', 1)`,
	)

	err := New().Migrate(context.Background(), h.Env(false))
	require.Error(t, err)
	assert.True(t, fault.DataShape.Has(err))
	assert.Empty(t, testutil.Mutations(h.Logs), "nothing is touched before the entity types are checked")
}

func TestDryRunMatchesRealRun(t *testing.T) {
	dry, live := stepstest.New(t), stepstest.New(t)
	seed(t, dry)
	seed(t, live)

	dryMuts := dry.Migrate(t, New(), true)
	liveMuts := live.Migrate(t, New(), false)

	require.NotEmpty(t, liveMuts)
	require.Len(t, dryMuts, len(liveMuts))
	for i := range liveMuts {
		assert.Equal(t, liveMuts[i].System, dryMuts[i].System)
		assert.Equal(t, liveMuts[i].Op, dryMuts[i].Op)
		assert.Equal(t, liveMuts[i].Target, dryMuts[i].Target)
	}
	assert.Equal(t, 3, testutil.Count(t, dry.DB, "feature_descriptive_statistics", ""))
	assert.True(t, dry.FS.Exists(fgDir+"/1500.json"))
}

func TestRollbackIsNoop(t *testing.T) {
	h := stepstest.New(t)
	err := New().Rollback(context.Background(), h.Env(false))
	reason, ok := migration.IsNoop(err)
	assert.True(t, ok)
	assert.NotEmpty(t, reason)
}
