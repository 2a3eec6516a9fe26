package migration

import (
	"context"
	"errors"

	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/dfs"
	"github.com/hopsworks/expat/internal/dryrun"
	"github.com/hopsworks/expat/internal/namespace"
	"github.com/hopsworks/expat/internal/procexec"
	"github.com/hopsworks/expat/internal/search"
	"github.com/hopsworks/expat/internal/secrets"
	"go.uber.org/zap"
)

// Env carries the handles of one step run. Handles are opened for the step
// and released when it finishes; they are never shared between steps.
// Mutating handles are already routed through Gate.
type Env struct {
	DB       *db.DB
	FS       dfs.Client
	Resolver *namespace.Resolver
	Search   search.Client
	Secrets  secrets.Client
	Exec     procexec.Runner

	Config *config.Config
	Log    *zap.Logger
	Gate   *dryrun.Gate
	DryRun bool

	releases []func() error
}

// OnRelease registers fn to run when the step finishes. Functions run in
// reverse registration order.
func (e *Env) OnRelease(fn func() error) {
	e.releases = append(e.releases, fn)
}

// Release runs every registered release function once.
func (e *Env) Release() error {
	var errs []error
	for i := len(e.releases) - 1; i >= 0; i-- {
		if err := e.releases[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.releases = nil
	return errors.Join(errs...)
}

// Provider opens the handles a step needs into env. Anything opened must be
// registered with env.OnRelease, including on error.
type Provider interface {
	Open(ctx context.Context, step string, need Handles, env *Env) error
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, step string, need Handles, env *Env) error

// Open implements Provider.
func (f ProviderFunc) Open(ctx context.Context, step string, need Handles, env *Env) error {
	return f(ctx, step, need, env)
}
