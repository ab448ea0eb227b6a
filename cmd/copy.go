package cmd

import (
	"github.com/spf13/cobra"

	"github.com/trly/msirepo/internal/importer"
)

// CopyCommand represents the copy command.
type CopyCommand struct {
	types     []string
	match     string
	recursive bool
}

// GetCobraCommand returns the cobra command for copying units between
// repositories.
func (c *CopyCommand) GetCobraCommand() *cobra.Command {
	copyCmd := &cobra.Command{
		Use:   "copy SOURCE DEST",
		Short: "Copy packages from one repository to another",
		Long: `Copy packages from one repository to another.

Only associations are created; stored content is shared between the two
repositories. With --recursive, the merge modules embedded by each copied
installer are copied too when the source repository holds them.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)

			types, err := parseTypes(c.types)
			if err != nil {
				return err
			}

			r := app.Importer.Copy(cmd.Context(), args[0], args[1], importer.CopyOptions{
				Types:     types,
				Match:     c.match,
				Recursive: c.recursive,
			})
			if err := printReport(cmd.OutOrStdout(), app.OutputFormat, "copy", r); err != nil {
				return err
			}
			return r.Err()
		},
	}

	copyCmd.Flags().StringSliceVarP(&c.types, "type", "t", nil, "Package types to copy (msi, msm)")
	copyCmd.Flags().StringVarP(&c.match, "match", "m", "", "Copy only packages whose name contains this")
	copyCmd.Flags().BoolVarP(&c.recursive, "recursive", "r", false, "Also copy embedded merge modules")

	return copyCmd
}
