package cli

import (
	"fmt"
	"time"

	"github.com/hopsworks/expat/internal/cli/appctx"
	"github.com/hopsworks/expat/internal/render"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded step runs",
	Long: `Prints the run ledger, newest first. The ledger is informational: steps
decide what is left to do from the data they own, so a missing or partial
ledger never changes what a run does. Dry runs are not recorded.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.WithLedger(), runHistory),
}

var (
	historyLimit  int
	historyStep   string
	historyOutput string
)

type runInfo struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	Step      string    `json:"step" yaml:"step"`
	Direction string    `json:"direction" yaml:"direction"`
	Outcome   string    `json:"outcome" yaml:"outcome"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	Started   time.Time `json:"started_at" yaml:"started_at"`
	Finished  time.Time `json:"finished_at" yaml:"finished_at"`
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of rows (0 for all)")
	historyCmd.Flags().StringVar(&historyStep, "step", "", "Only show runs of this step")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "table", "Output format: table, json or yaml")
}

func runHistory(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := render.ParseFormat(historyOutput)
	if err != nil {
		return err
	}

	runs, err := app.DB.StepRuns(cmd.Context(), historyStep, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 && format == render.FormatTable {
		fmt.Fprintln(cmd.OutOrStdout(), "no recorded runs")
		return nil
	}

	infos := make([]runInfo, 0, len(runs))
	table := render.Table{Headers: []string{"STARTED", "RUN", "STEP", "DIRECTION", "OUTCOME", "DETAIL"}}
	for _, r := range runs {
		infos = append(infos, runInfo{
			RunID:     r.RunID,
			Step:      r.Step,
			Direction: r.Direction,
			Outcome:   r.Outcome,
			Detail:    r.Detail,
			Started:   r.StartedAt,
			Finished:  r.FinishedAt,
		})
		table.Rows = append(table.Rows, []string{
			r.StartedAt.Local().Format(time.DateTime), r.RunID, r.Step, r.Direction, r.Outcome, r.Detail,
		})
	}
	return render.NewRenderer(cmd.OutOrStdout(), format).Render(infos, table)
}
