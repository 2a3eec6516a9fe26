package cli

import (
	"github.com/hopsworks/expat/internal/cli/appctx"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [step...]",
	Short: "Run steps backward",
	Long: `Rolls back the named steps in the order given, or every registered step in
reverse registry order with --all. Steps without an inverse report a noop
outcome with the reason.`,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runRollback),
}

var (
	rollbackAll    bool
	rollbackOutput string
)

func init() {
	rootCmd.AddCommand(rollbackCmd)
	rollbackCmd.Flags().BoolVar(&rollbackAll, "all", false, "Roll back every registered step")
	rollbackCmd.Flags().StringVarP(&rollbackOutput, "output", "o", "table", "Report format: table, json or yaml")
}

func runRollback(app *appctx.App, cmd *cobra.Command, args []string) error {
	return runSteps(app, cmd, args, migration.Backward, rollbackAll, rollbackOutput)
}
