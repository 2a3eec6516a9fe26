package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/dryrun"
	"github.com/hopsworks/expat/internal/fault"
	"go.uber.org/zap"
)

// State is the lifecycle position of a step within a run.
type State string

// States.
const (
	NotStarted State = "not-started"
	Running    State = "running"
	Completed  State = "completed"
	Failed     State = "failed"
)

// Outcomes reported for finished steps.
const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
	OutcomeFailed  = "failed"
)

// Result is the report line of one step.
type Result struct {
	Step      string
	Direction Direction
	State     State
	Outcome   string
	Note      string
	Err       error
	Started   time.Time
	Finished  time.Time
}

// Kind names the failure kind of the result's error, if any.
func (r Result) Kind() string { return fault.KindOf(r.Err) }

// Report is the aggregate result of one run.
type Report struct {
	RunID     string
	Direction Direction
	DryRun    bool
	Results   []Result
}

// Err returns the first failure.
func (r *Report) Err() error {
	for _, res := range r.Results {
		if res.State == Failed {
			return res.Err
		}
	}
	return nil
}

// Ledger records finished steps. Recording is best effort.
type Ledger interface {
	RecordStepRun(ctx context.Context, run db.StepRun) error
}

// Runner executes steps strictly in order, one at a time. It never retries;
// a failed step stops the run and the remaining steps are reported as not
// started.
type Runner struct {
	Provider Provider
	Config   *config.Config
	Log      *zap.Logger
	DryRun   bool
	// Ledger is optional and never written in dry-run mode.
	Ledger Ledger

	now   func() time.Time
	newID func() string
}

// NewRunner returns a Runner.
func NewRunner(p Provider, cfg *config.Config, log *zap.Logger, dryRun bool) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{Provider: p, Config: cfg, Log: log, DryRun: dryRun, now: time.Now, newID: uuid.NewString}
}

// Run executes steps in direction and returns the report. The returned error
// is the first step failure, wrapped in ErrMigration or ErrRollback.
func (r *Runner) Run(ctx context.Context, steps []Step, dir Direction) (*Report, error) {
	rep := &Report{RunID: r.newID(), Direction: dir, DryRun: r.DryRun}
	log := r.Log.With(zap.String("run_id", rep.RunID), zap.String("direction", string(dir)), zap.Bool("dry_run", r.DryRun))
	gate := dryrun.New(r.DryRun, log)

	for i, s := range steps {
		res := r.runStep(ctx, rep.RunID, s, dir, gate, log)
		rep.Results = append(rep.Results, res)
		if res.State == Failed {
			for _, rest := range steps[i+1:] {
				rep.Results = append(rep.Results, Result{Step: rest.Name(), Direction: dir, State: NotStarted})
			}
			log.Error("run aborted", zap.String("step", s.Name()), zap.Error(res.Err))
			return rep, res.Err
		}
	}
	log.Info("run finished", zap.Int("steps", len(steps)))
	return rep, nil
}

func (r *Runner) runStep(ctx context.Context, runID string, s Step, dir Direction, gate *dryrun.Gate, runLog *zap.Logger) Result {
	name := s.Name()
	log := runLog.Named(name)
	res := Result{Step: name, Direction: dir, State: Running, Started: r.now()}
	log.Info("step started", zap.Stringer("needs", HandlesOf(s)))

	env := &Env{Config: r.Config, Log: log, Gate: gate.With(log), DryRun: r.DryRun}
	err := r.execute(ctx, s, dir, env)
	if rerr := env.Release(); rerr != nil {
		log.Warn("failed to release handles", zap.Error(rerr))
	}
	res.Finished = r.now()

	if reason, ok := IsNoop(err); ok {
		res.State, res.Outcome, res.Note = Completed, OutcomeNoop, reason
		log.Info("step finished", zap.String("outcome", OutcomeNoop), zap.String("reason", reason))
	} else if err != nil {
		res.State, res.Outcome = Failed, OutcomeFailed
		res.Err = classFor(dir).Wrap(fmt.Errorf("%s: %w", name, err))
		res.Note = fault.KindOf(err)
		log.Error("step failed", zap.Error(err), zap.String("kind", res.Note))
	} else {
		res.State, res.Outcome = Completed, OutcomeApplied
		log.Info("step finished", zap.String("outcome", OutcomeApplied), zap.Duration("took", res.Finished.Sub(res.Started)))
	}

	r.record(ctx, runID, res, log)
	return res
}

// execute opens the step's handles and runs one direction, converting
// panics into errors so handles are still released.
func (r *Runner) execute(ctx context.Context, s Step, dir Direction, env *Env) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError{value: p}
		}
	}()

	if err := r.Provider.Open(ctx, s.Name(), HandlesOf(s), env); err != nil {
		return err
	}
	if dir == Backward {
		return s.Rollback(ctx, env)
	}
	return s.Migrate(ctx, env)
}

func (r *Runner) record(ctx context.Context, runID string, res Result, log *zap.Logger) {
	if r.Ledger == nil || r.DryRun {
		return
	}
	detail := res.Note
	if res.Err != nil {
		detail = res.Err.Error()
	}
	err := r.Ledger.RecordStepRun(ctx, db.StepRun{
		RunID:      runID,
		Step:       res.Step,
		Direction:  string(res.Direction),
		DryRun:     r.DryRun,
		Outcome:    res.Outcome,
		Detail:     detail,
		StartedAt:  res.Started,
		FinishedAt: res.Finished,
	})
	if err != nil {
		log.Warn("failed to record step run", zap.Error(err))
	}
}
