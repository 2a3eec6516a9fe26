// Package cli implements the expat command line.
package cli

import (
	"context"

	"github.com/hopsworks/expat/internal/cli/appctx"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "expat",
	Short: "Run Hopsworks platform upgrade migrations",
	Long: `expat runs the migration steps that carry a Hopsworks installation from
one release to the next. Steps touch the relational store, the HopsFS
namespace, the search indices and the Kubernetes secret store, and every
step can be run again safely. Use --dry-run to see what would change.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the root command with ctx. Steps stop at their next
// blocking call when ctx is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(appctx.FlagConfig, "", "Path to the YAML configuration file (overrides EXPAT_CONFIG)")
	flags.Bool(appctx.FlagDryRun, false, "Log every mutation instead of applying it")
	flags.String(appctx.FlagLogLevel, "", "Log level: debug, info, warn or error")
	flags.String(appctx.FlagLogFormat, "", "Log format: console or json")
}
