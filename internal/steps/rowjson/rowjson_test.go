package rowjson

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKeepsNumbers(t *testing.T) {
	obj, err := Decode(`{"a":12345678901234567890,"b":1.50}`)
	require.NoError(t, err)
	out, err := Encode(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":12345678901234567890,"b":1.50}`, out)
}

func TestDecodeRejectsNonObjects(t *testing.T) {
	for _, doc := range []string{`[1,2]`, `"s"`, `a=b;c=d`, ``} {
		_, err := Decode(doc)
		require.Error(t, err, doc)
		assert.True(t, fault.DataShape.Has(err), doc)
	}
}

func TestEncodeDoesNotEscapeHTML(t *testing.T) {
	out, err := Encode(map[string]any{"q": "a<b&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b&c"}`, out)
}

func TestDiff(t *testing.T) {
	d := Diff(`{"A":1,"b":2}`, `{"a":1,"b":2}`)
	assert.Contains(t, d, `-  "A": 1,`)
	assert.Contains(t, d, `+  "a": 1,`)
	assert.Empty(t, Diff(`{"a":1}`, `{"a":1}`))
}

func TestApply(t *testing.T) {
	database := testutil.PlatformDB(t)
	testutil.Exec(t, database,
		`INSERT INTO jobs (id, name, json_config) VALUES (1, 'a', '{"x":1}')`,
		`INSERT INTO jobs (id, name, json_config) VALUES (2, 'b', '{"y":1}')`,
		`INSERT INTO jobs (id, name, json_config) VALUES (3, 'c', 'oops')`,
		`INSERT INTO jobs (id, name, json_config) VALUES (4, 'd', NULL)`,
	)
	ctx := context.Background()
	rows, err := Load(ctx, database, "SELECT id, json_config FROM jobs ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 4)

	rename := func(obj Object) (Object, error) {
		v, ok := obj["x"]
		if !ok {
			return nil, ErrUnchanged
		}
		delete(obj, "x")
		obj["z"] = v
		return obj, nil
	}

	gate, logs := testutil.ObservedGate(false)
	rw := Rewrite{Table: "jobs", Column: "json_config", Entity: "job"}

	_, err = rw.Apply(ctx, database, gate, rows, rename)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job 3")
	assert.Equal(t, `{"x":1}`, testutil.QueryString(t, database, "SELECT json_config FROM jobs WHERE id = 1"))
	assert.Empty(t, testutil.Mutations(logs))

	rw.SkipBadRows = true
	st, err := rw.Apply(ctx, database, gate, rows, rename)
	require.NoError(t, err)
	assert.Equal(t, Stats{Seen: 4, Rewritten: 1, Unchanged: 1, Skipped: 2}, st)
	assert.Equal(t, `{"z":1}`, testutil.QueryString(t, database, "SELECT json_config FROM jobs WHERE id = 1"))
}

func TestApplyTextStoresNull(t *testing.T) {
	database := testutil.PlatformDB(t)
	testutil.Exec(t, database, `INSERT INTO feature_store_snowflake_connector (id, arguments) VALUES (1, '[]')`)
	rows := []Row{{ID: 1, Value: sql.NullString{String: "[]", Valid: true}}}

	gate, _ := testutil.ObservedGate(false)
	rw := Rewrite{Table: "feature_store_snowflake_connector", Column: "arguments", Entity: "connector"}
	_, err := rw.ApplyText(context.Background(), database, gate, rows, func(string) (string, error) { return "", nil })
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.Count(t, database, "feature_store_snowflake_connector", "arguments IS NULL"))
}

func TestApplyBatchFailureNamesEntities(t *testing.T) {
	database := testutil.PlatformDB(t)
	rows := []Row{{ID: 1, Value: sql.NullString{String: `{"x":1}`, Valid: true}}}
	gate, _ := testutil.ObservedGate(false)
	rw := Rewrite{Table: "no_such_table", Column: "doc", Entity: "thing"}

	_, err := rw.Apply(context.Background(), database, gate, rows, func(o Object) (Object, error) { return o, nil })
	require.Error(t, err)
	assert.True(t, fault.PartialBatch.Has(err))
	var be *fault.BatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, []string{"thing 1"}, be.Entities)
	assert.True(t, strings.Contains(err.Error(), "no_such_table"))
}
