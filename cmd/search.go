package cmd

import (
	"github.com/spf13/cobra"

	"github.com/trly/msirepo/internal/unit"
)

// SearchCommand represents the search command.
type SearchCommand struct{}

// GetCobraCommand returns the cobra command for listing a repository's units.
func (c *SearchCommand) GetCobraCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search TYPE REPO [PATTERN]",
		Short: "List the packages of a repository",
		Long: `List the packages of a repository.

TYPE is msi or msm. PATTERN, when given, keeps only packages whose name
contains it.`,
		Example: `  msirepo search msi windows-stable
  msirepo search msm windows-stable VCRedist`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)

			t, err := unit.ParseType(args[0])
			if err != nil {
				return err
			}
			if _, err := app.repository(cmd.Context(), args[1]); err != nil {
				return err
			}
			var pattern string
			if len(args) == 3 {
				pattern = args[2]
			}

			units, err := app.Store.Search(cmd.Context(), args[1], t, pattern)
			if err != nil {
				return err
			}

			if structured(app.OutputFormat) {
				return PrintOutput(cmd.OutOrStdout(), app.OutputFormat, units)
			}

			d, _ := unit.Lookup(t)
			headers := make([]any, len(d.DisplayFields))
			for i, f := range d.DisplayFields {
				headers[i] = columnTitle(f)
			}

			tbl := newTable(cmd.OutOrStdout(), headers...)
			for _, u := range units {
				row := make([]any, len(d.DisplayFields))
				for i, f := range d.DisplayFields {
					row[i] = u.Field(f)
				}
				tbl.AddRow(row...)
			}
			tbl.Print()
			return nil
		},
	}
}
