package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/trly/msirepo/internal/importer"
)

// RemoveCommand represents the remove command.
type RemoveCommand struct {
	types []string
	match string
	all   bool
}

// GetCobraCommand returns the cobra command for removing units from a
// repository.
func (c *RemoveCommand) GetCobraCommand() *cobra.Command {
	removeCmd := &cobra.Command{
		Use:   "remove REPO",
		Short: "Remove packages from a repository",
		Long: `Remove packages from a repository.

Stored content is kept, since other repositories may hold the same packages.
The change is visible to clients after the next publish.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)

			if c.match == "" && !c.all {
				return errors.New("pass --match to select packages, or --all to remove every package")
			}

			types, err := parseTypes(c.types)
			if err != nil {
				return err
			}

			r := app.Importer.Remove(cmd.Context(), args[0], importer.RemoveOptions{
				Types: types,
				Match: c.match,
			})
			if err := printReport(cmd.OutOrStdout(), app.OutputFormat, "remove", r); err != nil {
				return err
			}
			return r.Err()
		},
	}

	removeCmd.Flags().StringSliceVarP(&c.types, "type", "t", nil, "Package types to remove (msi, msm)")
	removeCmd.Flags().StringVarP(&c.match, "match", "m", "", "Remove only packages whose name contains this")
	removeCmd.Flags().BoolVar(&c.all, "all", false, "Remove every package of the selected types")

	return removeCmd
}
