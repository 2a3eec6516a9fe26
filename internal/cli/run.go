package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/hopsworks/expat/internal/cli/appctx"
	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/platform"
	"github.com/hopsworks/expat/internal/render"
	"github.com/hopsworks/expat/internal/steps"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// stepView is the rendered form of one report line.
type stepView struct {
	Step      string `json:"step" yaml:"step"`
	Direction string `json:"direction" yaml:"direction"`
	State     string `json:"state" yaml:"state"`
	Outcome   string `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Kind      string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Note      string `json:"note,omitempty" yaml:"note,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	Duration  string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

type reportView struct {
	RunID     string     `json:"run_id" yaml:"run_id"`
	Direction string     `json:"direction" yaml:"direction"`
	DryRun    bool       `json:"dry_run" yaml:"dry_run"`
	Steps     []stepView `json:"steps" yaml:"steps"`
}

func viewReport(rep *migration.Report) reportView {
	v := reportView{RunID: rep.RunID, Direction: string(rep.Direction), DryRun: rep.DryRun}
	for _, r := range rep.Results {
		sv := stepView{
			Step:      r.Step,
			Direction: string(r.Direction),
			State:     string(r.State),
			Outcome:   r.Outcome,
			Kind:      r.Kind(),
		}
		if r.Err != nil {
			sv.Error = r.Err.Error()
		} else {
			sv.Note = r.Note
		}
		if !r.Finished.IsZero() {
			sv.Duration = r.Finished.Sub(r.Started).Round(time.Millisecond).String()
		}
		v.Steps = append(v.Steps, sv)
	}
	return v
}

func reportTable(v reportView) render.Table {
	t := render.Table{Headers: []string{"STEP", "DIRECTION", "STATE", "OUTCOME", "KIND", "NOTE"}}
	for _, s := range v.Steps {
		note := s.Note
		if s.Error != "" {
			note = s.Error
		}
		t.Rows = append(t.Rows, []string{s.Step, s.Direction, s.State, dash(s.Outcome), dash(s.Kind), note})
	}
	return t
}

func printReport(w io.Writer, format render.Format, rep *migration.Report) error {
	v := viewReport(rep)
	if format == render.FormatTable {
		mode := ""
		if v.DryRun {
			mode = " (dry run)"
		}
		fmt.Fprintf(w, "run %s: %s%s\n", v.RunID, v.Direction, mode)
	}
	return render.NewRenderer(w, format).Render(v, reportTable(v))
}

// runSteps is shared by migrate and rollback.
func runSteps(app *appctx.App, cmd *cobra.Command, args []string, dir migration.Direction, all bool, output string) error {
	format, err := render.ParseFormat(output)
	if err != nil {
		return err
	}
	if len(args) == 0 && !all {
		return fault.Configuration.New("name the steps to %s or pass --all", dir)
	}
	if len(args) > 0 && all {
		return fault.Configuration.New("--all cannot be combined with step names")
	}

	selected, err := steps.Registry().Select(dir, args...)
	if err != nil {
		return fault.Configuration.Wrap(err)
	}

	runner := migration.NewRunner(platform.New(app.Config), app.Config, app.Log, app.DryRun)
	if !app.DryRun && app.Config.IsSet(config.KeyDBURL) {
		database, err := platform.OpenLedger(cmd.Context(), app.Config, app.Log)
		if err != nil {
			app.Log.Warn("run ledger unavailable", zap.Error(err))
		} else {
			defer database.Close()
			runner.Ledger = database
		}
	}

	rep, runErr := runner.Run(cmd.Context(), selected, dir)
	if err := printReport(cmd.OutOrStdout(), format, rep); err != nil {
		return err
	}
	return runErr
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
