package dryrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestApplyRunsAndLogsInRealMode(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	g := New(false, zap.New(core))

	called := false
	err := g.Apply(context.Background(), Mutation{System: Namespace, Op: "mkdirs", Target: "/Projects/p"},
		func(context.Context) error {
			called = true
			return nil
		})
	require.NoError(t, err)
	assert.True(t, called)

	entries := logs.FilterMessage(MsgApply).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/Projects/p", entries[0].ContextMap()["target"])
	assert.Equal(t, false, entries[0].ContextMap()["dry_run"])
}

func TestApplySkipsInDryRun(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	g := New(true, zap.New(core))

	err := g.Apply(context.Background(), Mutation{System: Relational, Op: "update", Target: "jobs 1"},
		func(context.Context) error {
			t.Fatal("mutation must not run in dry-run mode")
			return nil
		}, zap.String("query", "UPDATE jobs SET json_config = ? WHERE id = ?"))
	require.NoError(t, err)

	entries := logs.FilterMessage(MsgSkipped).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "UPDATE jobs SET json_config = ? WHERE id = ?", entries[0].ContextMap()["query"])
	assert.True(t, g.DryRun())
}

func TestSyntheticIDsAreNegativeAndShared(t *testing.T) {
	g := New(true, nil)
	child := g.With(zap.NewNop())

	assert.Equal(t, int64(-1), g.SyntheticID())
	assert.Equal(t, int64(-2), child.SyntheticID())
	assert.Equal(t, int64(-3), g.SyntheticID())
}
