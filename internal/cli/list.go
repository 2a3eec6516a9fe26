package cli

import (
	"github.com/hopsworks/expat/internal/migration"
	"github.com/hopsworks/expat/internal/render"
	"github.com/hopsworks/expat/internal/steps"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered steps",
	Long:  `Lists every registered step in the order "migrate --all" runs them.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var listOutput string

type stepInfo struct {
	Name        string `json:"name" yaml:"name"`
	Needs       string `json:"needs" yaml:"needs"`
	Rollback    string `json:"rollback" yaml:"rollback"`
	Description string `json:"description" yaml:"description"`
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format: table, json or yaml")
}

func listSteps(reg *migration.Registry) []stepInfo {
	var out []stepInfo
	for _, e := range reg.Entries() {
		out = append(out, stepInfo{
			Name:        e.Name,
			Needs:       migration.HandlesOf(e.New()).String(),
			Rollback:    e.Rollback,
			Description: e.Description,
		})
	}
	return out
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := render.ParseFormat(listOutput)
	if err != nil {
		return err
	}

	infos := listSteps(steps.Registry())
	table := render.Table{Headers: []string{"STEP", "NEEDS", "ROLLBACK", "DESCRIPTION"}}
	for _, s := range infos {
		table.Rows = append(table.Rows, []string{s.Name, s.Needs, s.Rollback, s.Description})
	}
	return render.NewRenderer(cmd.OutOrStdout(), format).Render(infos, table)
}
