package cli

import (
	"fmt"
	"strconv"

	"github.com/hopsworks/expat/internal/cli/appctx"
	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/namespace"
	"github.com/hopsworks/expat/internal/render"
	"github.com/spf13/cobra"
)

var inodeCmd = &cobra.Command{
	Use:   "inode",
	Short: "Look up HopsFS namespace entries",
	Long:  `Resolves paths and inode ids against the inode table of the relational store.`,
}

var inodeResolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Print the entry a path resolves to",
	Args:  cobra.ExactArgs(1),
	RunE:  appctx.WithApp(appctx.WithDB(), runInodeResolve),
}

var inodePathCmd = &cobra.Command{
	Use:   "path <id>",
	Short: "Print the absolute path of an inode id",
	Args:  cobra.ExactArgs(1),
	RunE:  appctx.WithApp(appctx.WithDB(), runInodePath),
}

var inodeOutput string

type entryInfo struct {
	ID          int64  `json:"id" yaml:"id"`
	ParentID    int64  `json:"parent_id" yaml:"parent_id"`
	Name        string `json:"name" yaml:"name"`
	PartitionID int64  `json:"partition_id" yaml:"partition_id"`
	Dir         bool   `json:"dir" yaml:"dir"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
}

func init() {
	rootCmd.AddCommand(inodeCmd)
	inodeCmd.AddCommand(inodeResolveCmd, inodePathCmd)
	inodeCmd.PersistentFlags().StringVarP(&inodeOutput, "output", "o", "table", "Output format: table, json or yaml")
}

func newResolver(app *appctx.App) (*namespace.Resolver, error) {
	part := namespace.HopsPartitioner{RandomLevel: namespace.DefaultRandomLevel}
	rows, err := namespace.NewSQLRows(app.DB, app.Config.String(config.KeyInodesTable), part)
	if err != nil {
		return nil, err
	}
	return namespace.NewResolver(rows, part), nil
}

func runInodeResolve(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := render.ParseFormat(inodeOutput)
	if err != nil {
		return err
	}
	resolver, err := newResolver(app)
	if err != nil {
		return err
	}

	entry, err := resolver.Resolve(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", args[0], err)
	}
	return printEntry(cmd, format, entry, args[0])
}

func runInodePath(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := render.ParseFormat(inodeOutput)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fault.Configuration.New("invalid inode id %q", args[0])
	}
	resolver, err := newResolver(app)
	if err != nil {
		return err
	}

	entry, err := resolver.FindByID(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("failed to find inode %d: %w", id, err)
	}
	p, err := resolver.PathOf(cmd.Context(), entry)
	if err != nil {
		return fmt.Errorf("failed to build path of inode %d: %w", id, err)
	}
	if format == render.FormatTable {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), p)
		return err
	}
	return printEntry(cmd, format, entry, p)
}

func printEntry(cmd *cobra.Command, format render.Format, e *namespace.Entry, p string) error {
	info := entryInfo{ID: e.ID, ParentID: e.ParentID, Name: e.Name, PartitionID: e.PartitionID, Dir: e.IsDir, Path: p}
	table := render.Table{
		Headers: []string{"ID", "PARENT", "PARTITION", "DIR", "PATH"},
		Rows: [][]string{{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.ParentID, 10),
			strconv.FormatInt(e.PartitionID, 10),
			strconv.FormatBool(e.IsDir),
			p,
		}},
	}
	return render.NewRenderer(cmd.OutOrStdout(), format).Render(info, table)
}
