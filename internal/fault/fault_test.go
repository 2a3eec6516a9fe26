package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfFollowsWrappedChain(t *testing.T) {
	err := fmt.Errorf("failed to open database: %w", Connectivity.New("dial tcp: refused"))
	assert.Equal(t, "ConnectivityError", KindOf(err))
	assert.Equal(t, "ConfigurationError", KindOf(MissingKey("database.url")))
	assert.Equal(t, "", KindOf(errors.New("plain")))
	assert.Equal(t, "", KindOf(nil))
}

func TestKindOfPrefersOutermostKind(t *testing.T) {
	err := NewBatchError([]string{"job 1"}, Connectivity.New("connection reset"))
	assert.Equal(t, "PartialBatchError", KindOf(err))
	assert.True(t, Connectivity.Has(err))

	wrapped := fmt.Errorf("jobs-config: %w", err)
	assert.Equal(t, "PartialBatchError", KindOf(wrapped))

	inner := Configuration.Wrap(DataShape.New("unexpected shape"))
	assert.Equal(t, "ConfigurationError", KindOf(inner))
}

func TestBatchErrorKeepsEntitiesAndCause(t *testing.T) {
	cause := errors.New("duplicate entry")
	err := NewBatchError([]string{"job 1", "job 2"}, cause)

	require.True(t, PartialBatch.Has(err))
	require.ErrorIs(t, err, cause)

	var be *BatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, []string{"job 1", "job 2"}, be.Entities)
	assert.Contains(t, err.Error(), "job 1, job 2")
}

func TestProcessErrorMessage(t *testing.T) {
	err := NewProcessError(&ProcessError{Command: "dags_migrate.sh", TimedOut: true})
	assert.Equal(t, "ExternalProcessError", KindOf(err))
	assert.Contains(t, err.Error(), "timed out")

	var pe *ProcessError
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.TimedOut)
}
