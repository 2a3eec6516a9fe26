package steps

import (
	"testing"

	"github.com/hopsworks/expat/internal/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryOrder(t *testing.T) {
	var names []string
	for _, e := range Registry().Entries() {
		names = append(names, e.Name)
		assert.NotEmpty(t, e.Description, e.Name)
		assert.NotEmpty(t, e.Rollback, e.Name)
		assert.Equal(t, e.Name, e.New().Name())
	}
	assert.Equal(t, []string{
		"jobs-config",
		"docker-resources",
		"storage-connectors",
		"statistics",
		"airflow-dags",
		"featuregroup-xattrs",
		"models-to-db",
		"epipe-reindex",
		"project-cert-secrets",
	}, names)
}

func TestSelectAllBackwardIsReversed(t *testing.T) {
	steps, err := Registry().Select(migration.Backward)
	require.NoError(t, err)
	require.Len(t, steps, 9)
	assert.Equal(t, "project-cert-secrets", steps[0].Name())
	assert.Equal(t, "jobs-config", steps[8].Name())
}

func TestSelectUnknown(t *testing.T) {
	_, err := Registry().Select(migration.Forward, "statistics", "nope")
	assert.ErrorContains(t, err, "nope")
}
