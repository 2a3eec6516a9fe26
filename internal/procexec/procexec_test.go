package procexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSRunCapturesOutputAndEnv(t *testing.T) {
	res, err := OS{}.Run(context.Background(), Command{
		Path: "/bin/sh",
		Args: []string{"-c", `echo "lib=$LD_LIBRARY_PATH"; echo oops >&2`},
		Env:  []string{"LD_LIBRARY_PATH=/srv/hops/mysql/lib"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "lib=/srv/hops/mysql/lib")
	assert.Contains(t, res.Output, "oops")
	assert.NoError(t, res.Err(Command{Path: "/bin/sh"}))
}

func TestOSRunNonZeroExitIsAResult(t *testing.T) {
	c := Command{Path: "/bin/sh", Args: []string{"-c", "echo no dags; exit 2"}}
	res, err := OS{}.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)

	perr := res.Err(c)
	require.Error(t, perr)
	assert.Equal(t, "ExternalProcessError", fault.KindOf(perr))
	var pe *fault.ProcessError
	require.True(t, errors.As(perr, &pe))
	assert.Equal(t, 2, pe.ExitCode)
	assert.Contains(t, pe.Output, "no dags")
}

func TestOSRunTimeout(t *testing.T) {
	start := time.Now()
	_, err := OS{}.Run(context.Background(), Command{Path: "/bin/sh", Args: []string{"-c", "exec sleep 5"}, Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)

	var pe *fault.ProcessError
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.TimedOut)
	assert.True(t, fault.ExternalProcess.Has(err))
}

func TestOSRunMissingBinary(t *testing.T) {
	_, err := OS{}.Run(context.Background(), Command{Path: "/nonexistent/dags_migrate.sh"})
	require.Error(t, err)
	assert.True(t, fault.ExternalProcess.Has(err))
}

func TestGatedDryRunDoesNotStart(t *testing.T) {
	gate, logs := testutil.ObservedGate(true)
	res, err := Gated(OS{}, gate).Run(context.Background(), Command{Path: "/bin/sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []testutil.Mutation{{System: "process", Op: "exec", Target: "/bin/sh"}}, testutil.Mutations(logs))
}
