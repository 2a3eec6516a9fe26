// Package procexec runs external tools with a bounded wait.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hopsworks/expat/internal/dryrun"
	"github.com/hopsworks/expat/internal/fault"
	"go.uber.org/zap"
)

// DefaultTimeout applies when a Command has none.
const DefaultTimeout = 10 * time.Minute

// Command describes one invocation.
type Command struct {
	Path string
	Args []string
	// Env entries (KEY=value) are added to the current environment.
	Env     []string
	Dir     string
	Timeout time.Duration
}

// String renders the command line.
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	ExitCode int
	Output   string
}

// Err returns a fault.ExternalProcess error for non-zero exits.
func (r Result) Err(c Command) error {
	if r.ExitCode == 0 {
		return nil
	}
	return fault.NewProcessError(&fault.ProcessError{Command: c.String(), ExitCode: r.ExitCode, Output: r.Output})
}

// Runner runs commands. A non-zero exit is reported in Result, not as an
// error; errors mean the process could not be started or timed out.
type Runner interface {
	Run(ctx context.Context, c Command) (Result, error)
}

// OS runs commands on the local host.
type OS struct{}

// Run implements Runner. Stdout and stderr are captured together.
func (OS) Run(ctx context.Context, c Command) (Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	res := Result{Output: out.String()}
	if err != nil && ctx.Err() != nil {
		return res, fault.NewProcessError(&fault.ProcessError{
			Command:  c.String(),
			ExitCode: -1,
			TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
			Output:   res.Output,
		})
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		return res, fault.ExternalProcess.New("failed to start %s: %v", c.Path, err)
	}
}

// Gated routes every command through gate. In dry-run mode commands are not
// started and report exit code 0.
func Gated(r Runner, gate *dryrun.Gate) Runner {
	return &gated{r: r, gate: gate}
}

type gated struct {
	r    Runner
	gate *dryrun.Gate
}

func (g *gated) Run(ctx context.Context, c Command) (Result, error) {
	var res Result
	err := g.gate.Apply(ctx, dryrun.Mutation{System: dryrun.Process, Op: "exec", Target: c.Path},
		func(ctx context.Context) error {
			var err error
			res, err = g.r.Run(ctx, c)
			return err
		},
		zap.Strings("args", c.Args), zap.Duration("timeout", c.Timeout))
	return res, err
}
