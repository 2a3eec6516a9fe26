// Package procexectest provides a scripted procexec.Runner.
package procexectest

import (
	"context"
	"sync"

	"github.com/hopsworks/expat/internal/procexec"
)

// Fake records commands and answers with a scripted result.
type Fake struct {
	mu       sync.Mutex
	Commands []procexec.Command
	// Respond decides the outcome of a command. Nil means exit 0.
	Respond func(c procexec.Command) (procexec.Result, error)
}

var _ procexec.Runner = (*Fake)(nil)

// Run implements procexec.Runner.
func (f *Fake) Run(_ context.Context, c procexec.Command) (procexec.Result, error) {
	f.mu.Lock()
	f.Commands = append(f.Commands, c)
	respond := f.Respond
	f.mu.Unlock()
	if respond == nil {
		return procexec.Result{}, nil
	}
	return respond(c)
}
