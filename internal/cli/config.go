package cli

import (
	"fmt"

	"github.com/hopsworks/expat/internal/cli/appctx"
	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/render"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration",
	Long: `Prints every configuration key with its effective value after environment,
.env.local, the YAML file and command line flags are applied. Passwords
are masked.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runConfig),
}

var configOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().StringVarP(&configOutput, "output", "o", "table", "Output format: table, json or yaml")
}

func runConfig(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := render.ParseFormat(configOutput)
	if err != nil {
		return err
	}

	values := make(map[string]string)
	table := render.Table{Headers: []string{"KEY", "VALUE", "ENV"}}
	for _, kv := range app.Config.Settings() {
		values[kv[0]] = kv[1]
		table.Rows = append(table.Rows, []string{kv[0], dash(kv[1]), config.EnvName(kv[0])})
	}
	if format == render.FormatTable && app.Config.File() != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "file: %s\n", app.Config.File())
	}
	return render.NewRenderer(cmd.OutOrStdout(), format).Render(values, table)
}
