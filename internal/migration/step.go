// Package migration defines the contract every migration step implements
// and the runner that sequences steps.
package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeebo/errs"
)

// Direction selects Migrate or Rollback.
type Direction string

// Directions.
const (
	Forward  Direction = "migrate"
	Backward Direction = "rollback"
)

// Handles is the set of external systems a step needs.
type Handles uint8

// Handle flags.
const (
	NeedDB Handles = 1 << iota
	NeedNamespace
	NeedSearch
	NeedSecrets
	NeedExec
)

// Has reports whether h includes every flag of o.
func (h Handles) Has(o Handles) bool { return h&o == o }

// String lists the flags, e.g. "db,namespace".
func (h Handles) String() string {
	names := []string{"db", "namespace", "search", "secrets", "exec"}
	s := ""
	for i, n := range names {
		if h&(1<<i) != 0 {
			if s != "" {
				s += ","
			}
			s += n
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// Step is one independently pluggable state transformation. A step is
// stateless between runs; everything it touches comes from the Env it is
// handed.
//
// Migrate must be safe to run on data already in the target shape. Rollback
// either restores the previous shape or returns NoopRollback.
type Step interface {
	Name() string
	Migrate(ctx context.Context, env *Env) error
	Rollback(ctx context.Context, env *Env) error
}

// Needs is implemented by steps that use more than the relational store.
type Needs interface {
	Needs() Handles
}

// HandlesOf returns the handles s declares, NeedDB when it declares none.
func HandlesOf(s Step) Handles {
	if n, ok := s.(Needs); ok {
		return n.Needs()
	}
	return NeedDB
}

var (
	// ErrMigration wraps failures of Migrate.
	ErrMigration = errs.Class("migration")
	// ErrRollback wraps failures of Rollback.
	ErrRollback = errs.Class("rollback")
)

func classFor(d Direction) *errs.Class {
	if d == Backward {
		return &ErrRollback
	}
	return &ErrMigration
}

// NoopError is returned by rollbacks that are declared not to do anything.
type NoopError struct {
	Reason string
}

func (e *NoopError) Error() string { return "rollback is a no-op: " + e.Reason }

// NoopRollback declares that a step has no inverse.
func NoopRollback(reason string) error {
	return &NoopError{Reason: reason}
}

// IsNoop returns the reason of a declared no-op.
func IsNoop(err error) (string, bool) {
	var ne *NoopError
	if errors.As(err, &ne) {
		return ne.Reason, true
	}
	return "", false
}

// panicError carries a recovered panic.
type panicError struct {
	value any
}

func (e panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }
