// Package dryrun provides the Gate every mutating boundary calls through.
//
// A Gate logs each mutation with the same structured fields whether or not it
// is applied, so a dry run and a real run over the same data produce the same
// mutation log and differ only in whether the write happened.
package dryrun

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Systems that mutations are attributed to.
const (
	Relational = "relational"
	Namespace  = "namespace"
	Search     = "search"
	Secrets    = "secrets"
	Process    = "process"
	Local      = "local"
)

// Log messages used for mutations.
const (
	MsgApply   = "apply"
	MsgSkipped = "dry-run: skipped"
)

// Mutation identifies one intended write.
type Mutation struct {
	System string
	Op     string
	Target string
}

// Gate decides whether mutations are applied.
type Gate struct {
	dryRun bool
	log    *zap.Logger
	ids    *atomic.Int64
}

// New returns a Gate. A nil logger is replaced with a no-op logger.
func New(dryRun bool, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{dryRun: dryRun, log: log, ids: new(atomic.Int64)}
}

// DryRun reports whether mutations are suppressed.
func (g *Gate) DryRun() bool { return g.dryRun }

// Logger returns the logger mutations are written to.
func (g *Gate) Logger() *zap.Logger { return g.log }

// With returns a Gate logging through a derived logger.
func (g *Gate) With(log *zap.Logger) *Gate {
	return &Gate{dryRun: g.dryRun, log: log, ids: g.ids}
}

// SyntheticID returns a fresh negative id standing in for a generated key
// that a skipped insert would have produced.
func (g *Gate) SyntheticID() int64 {
	return -g.ids.Add(1)
}

// Apply logs m and runs fn unless the gate is in dry-run mode.
func (g *Gate) Apply(ctx context.Context, m Mutation, fn func(context.Context) error, fields ...zap.Field) error {
	fs := make([]zap.Field, 0, len(fields)+4)
	fs = append(fs,
		zap.String("system", m.System),
		zap.String("op", m.Op),
		zap.String("target", m.Target),
		zap.Bool("dry_run", g.dryRun),
	)
	fs = append(fs, fields...)

	if g.dryRun {
		g.log.Info(MsgSkipped, fs...)
		return nil
	}
	g.log.Info(MsgApply, fs...)
	return fn(ctx)
}
