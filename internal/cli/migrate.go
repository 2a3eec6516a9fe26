package cli

import (
	"github.com/hopsworks/expat/internal/cli/appctx"
	"github.com/hopsworks/expat/internal/migration"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [step...]",
	Short: "Run steps forward",
	Long: `Runs the named steps forward in the order given, or every registered step
in registry order with --all. The run stops at the first failing step.

--diff previews the run: it implies --dry-run and logs a unified diff of
every rewritten JSON document.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if !migrateDiff {
			return nil
		}
		if err := cmd.Flags().Set(appctx.FlagDryRun, "true"); err != nil {
			return err
		}
		return cmd.Flags().Set(appctx.FlagLogLevel, "debug")
	},
	RunE: appctx.WithApp(appctx.DefaultOptions(), runMigrate),
}

var (
	migrateAll    bool
	migrateDiff   bool
	migrateOutput string
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateAll, "all", false, "Run every registered step")
	migrateCmd.Flags().BoolVar(&migrateDiff, "diff", false, "Dry run with document diffs")
	migrateCmd.Flags().StringVarP(&migrateOutput, "output", "o", "table", "Report format: table, json or yaml")
}

func runMigrate(app *appctx.App, cmd *cobra.Command, args []string) error {
	return runSteps(app, cmd, args, migration.Forward, migrateAll, migrateOutput)
}
