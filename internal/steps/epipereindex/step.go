// Package epipereindex rebuilds search indices by replaying the metadata log
// through epipe in reindex mode.
//
// The epipe service is stopped, the selected indices are recreated, the
// reindex configuration enables exactly the selected targets, epipe runs once
// in the foreground and the service is restarted.
package epipereindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/dryrun"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/procexec"
	"github.com/hopsworks/expat/internal/search"
	"go.uber.org/zap"
)

// Name identifies the step.
const Name = "epipe-reindex"

const (
	// DefaultLibraries is prepended to LD_LIBRARY_PATH when epipe.ld_library_path is unset.
	DefaultLibraries = "/srv/hops/mysql/lib"
	// DefaultTimeout bounds the epipe run when epipe.timeout is unset.
	DefaultTimeout = 2 * time.Hour

	service = "epipe"
)

// Target is one reindex target of epipe.
type Target struct {
	Name  string
	Index string
	// Line enables the target in config-reindex.ini.
	Line string
}

// Targets are the reindex targets epipe knows.
var Targets = map[string]Target{
	"projects":       {Name: "projects", Index: "projects", Line: "index = projects"},
	"featurestore":   {Name: "featurestore", Index: "featurestore", Line: "featurestore_index = featurestore"},
	"app_provenance": {Name: "app_provenance", Index: "appprovenance", Line: "app_provenance_index = appprovenance"},
}

// Select resolves target names, failing on unknown ones.
func Select(names []string) ([]Target, error) {
	var out, unknown []string
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		if _, ok := Targets[n]; !ok {
			unknown = append(unknown, n)
			continue
		}
		out = append(out, n)
	}
	if len(unknown) > 0 {
		return nil, fault.Configuration.New("unknown reindex target(s): %s", strings.Join(unknown, ", "))
	}
	if len(out) == 0 {
		return nil, fault.MissingKey(config.KeyEpipeReindex)
	}
	sort.Strings(out)
	targets := make([]Target, len(out))
	for i, n := range out {
		targets[i] = Targets[n]
	}
	return targets, nil
}

// RewriteConfig enables the lines of the selected targets and comments out
// the lines of every other target. Only the leading '#' changes; the rest of
// each line, including line endings and trailing comments, is kept.
func RewriteConfig(content string, selected []Target) string {
	on := map[string]bool{}
	for _, t := range selected {
		on[t.Name] = true
	}
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		body := strings.TrimLeft(l, " \t")
		indent := l[:len(l)-len(body)]
		for _, t := range Targets {
			switch {
			case strings.HasPrefix(body, t.Line) && !on[t.Name]:
				lines[i] = indent + "#" + body
			case strings.HasPrefix(body, "#"+t.Line) && on[t.Name]:
				lines[i] = indent + body[1:]
			}
		}
	}
	return strings.Join(lines, "\n")
}

// Step implements migration.Step.
type Step struct{}

// New returns the step.
func New() migration.Step { return Step{} }

// Name implements migration.Step.
func (Step) Name() string { return Name }

// Needs implements migration.Needs.
func (Step) Needs() migration.Handles { return migration.NeedSearch | migration.NeedExec }

// Migrate implements migration.Step.
func (Step) Migrate(ctx context.Context, env *migration.Env) error {
	cfg := env.Config
	if err := cfg.RequireAll(config.KeyEpipePath, config.KeyEpipeReindex); err != nil {
		return err
	}
	targets, err := Select(cfg.Strings(config.KeyEpipeReindex))
	if err != nil {
		return err
	}
	home := cfg.String(config.KeyEpipePath)
	ini := filepath.Join(home, "conf", "config-reindex.ini")
	raw, err := os.ReadFile(ini)
	if err != nil {
		return fault.Configuration.New("failed to read epipe reindex configuration: %v", err)
	}

	if err := systemctl(ctx, env.Exec, "stop"); err != nil {
		return err
	}
	reindexErr := reindex(ctx, env, home, ini, string(raw), targets)
	if reindexErr != nil {
		env.Log.Error("reindex failed, restarting epipe", zap.Error(reindexErr))
	}
	restartErr := systemctl(ctx, env.Exec, "restart")
	if reindexErr != nil {
		if restartErr != nil {
			env.Log.Error("failed to restart epipe", zap.Error(restartErr))
		}
		return reindexErr
	}
	return restartErr
}

// Rollback implements migration.Step.
func (Step) Rollback(context.Context, *migration.Env) error {
	return migration.NoopRollback("a reindex has no inverse")
}

func reindex(ctx context.Context, env *migration.Env, home, ini, raw string, targets []Target) error {
	for _, t := range targets {
		err := env.Search.DeleteIndex(ctx, t.Index)
		if err != nil && !errors.Is(err, search.ErrIndexNotFound) {
			return err
		}
	}
	for _, t := range targets {
		if err := env.Search.CreateIndex(ctx, t.Index); err != nil {
			return err
		}
	}

	if updated := RewriteConfig(raw, targets); updated != raw {
		if err := writeLocal(ctx, env.Gate, ini, []byte(updated)); err != nil {
			return err
		}
	}

	libs := env.Config.StringOr(config.KeyEpipeLibraries, DefaultLibraries)
	cmd := procexec.Command{
		Path:    filepath.Join(home, "bin", "epipe"),
		Args:    []string{"-c", ini},
		Env:     []string{"LD_LIBRARY_PATH=" + libraryPath(libs, os.Getenv("LD_LIBRARY_PATH"))},
		Timeout: env.Config.Duration(config.KeyEpipeTimeout, DefaultTimeout),
	}
	env.Log.Info("running epipe reindex", zap.String("config", ini))
	res, err := env.Exec.Run(ctx, cmd)
	if res.Output != "" {
		if werr := writeLocal(ctx, env.Gate, filepath.Join(home, "epipe-reindex.log"), []byte(res.Output)); werr != nil {
			env.Log.Warn("failed to write epipe output", zap.Error(werr))
		}
	}
	if err != nil {
		return err
	}
	return res.Err(cmd)
}

// libraryPath prepends libs to the inherited LD_LIBRARY_PATH. An empty entry
// would make the loader search the working directory.
func libraryPath(libs, inherited string) string {
	if inherited == "" {
		return libs
	}
	return libs + ":" + inherited
}

func systemctl(ctx context.Context, r procexec.Runner, action string) error {
	cmd := procexec.Command{Path: "systemctl", Args: []string{action, service}, Timeout: time.Minute}
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", action, service, err)
	}
	if err := res.Err(cmd); err != nil {
		return fmt.Errorf("failed to %s %s: %w", action, service, err)
	}
	return nil
}

// writeLocal replaces a file on the local host, keeping its mode.
func writeLocal(ctx context.Context, gate *dryrun.Gate, path string, data []byte) error {
	return gate.Apply(ctx, dryrun.Mutation{System: dryrun.Local, Op: "write", Target: path}, func(context.Context) error {
		mode := os.FileMode(0o644)
		if info, err := os.Stat(path); err == nil {
			mode = info.Mode().Perm()
		}
		return os.WriteFile(path, data, mode)
	}, zap.Int("bytes", len(data)))
}
