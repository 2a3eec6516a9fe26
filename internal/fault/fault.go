// Package fault defines the closed set of failure kinds a migration step can
// report. Every kind is an errs.Class so callers can wrap a cause while keeping
// the chain intact for errors.Is and errors.As.
package fault

import (
	"fmt"
	"strings"

	"github.com/zeebo/errs"
)

var (
	// Configuration is a missing or malformed setting. Always discovered before
	// any mutation.
	Configuration = errs.Class("configuration")
	// Connectivity means a backing system could not be reached. Safe to retry.
	Connectivity = errs.Class("connectivity")
	// DataShape is a row or document matching neither source nor target shape.
	DataShape = errs.Class("data shape")
	// PartialBatch is a batch that failed and was rolled back as a whole.
	PartialBatch = errs.Class("partial batch")
	// ExternalProcess is a spawned process that failed or timed out.
	ExternalProcess = errs.Class("external process")
)

var kinds = []struct {
	name  string
	class *errs.Class
}{
	{"ConfigurationError", &Configuration},
	{"ConnectivityError", &Connectivity},
	{"DataShapeError", &DataShape},
	{"PartialBatchError", &PartialBatch},
	{"ExternalProcessError", &ExternalProcess},
}

// KindOf names the outermost failure kind in err's chain, or "" when the
// error carries none.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errs.Classes(err) {
		for _, k := range kinds {
			if k.class == c {
				return k.name
			}
		}
	}
	// errs.Classes stops at joined errors; fall back to a membership test.
	for _, k := range kinds {
		if k.class.Has(err) {
			return k.name
		}
	}
	return ""
}

// MissingKey reports a required configuration key that has no value.
func MissingKey(key string) error {
	return Configuration.New("%s cannot be empty", key)
}

// BatchError lists the logical entities that were part of a rolled back batch.
type BatchError struct {
	Entities []string
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch of %d statement(s) rolled back [%s]: %v",
		len(e.Entities), strings.Join(e.Entities, ", "), e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// NewBatchError wraps cause as a PartialBatch failure naming the entities.
func NewBatchError(entities []string, cause error) error {
	return PartialBatch.Wrap(&BatchError{Entities: append([]string(nil), entities...), Err: cause})
}

// ProcessError describes a process that exited non-zero or timed out.
type ProcessError struct {
	Command  string
	ExitCode int
	TimedOut bool
	Output   string
}

func (e *ProcessError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: timed out", e.Command)
	}
	return fmt.Sprintf("%s: exit code %d", e.Command, e.ExitCode)
}

// NewProcessError wraps a ProcessError in the ExternalProcess class.
func NewProcessError(pe *ProcessError) error {
	return ExternalProcess.Wrap(pe)
}
