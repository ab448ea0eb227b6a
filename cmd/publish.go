package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trly/msirepo/internal/db"
)

// PublishCommand represents the publish command.
type PublishCommand struct {
	all bool
}

// GetCobraCommand returns the cobra command for publishing repositories.
func (c *PublishCommand) GetCobraCommand() *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish [REPO...]",
		Short: "Publish repositories as static trees",
		Long: `Publish repositories as static trees.

A new tree holding primary.xml, repomd.xml and a link to every package is
built in the working directory, then swapped in under each enabled protocol
root in a single rename. Readers see either the previous tree or the new one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)

			if len(args) == 0 && !c.all {
				return errors.New("name at least one repository or pass --all")
			}

			var repos []db.Repository
			if c.all {
				all, err := app.Store.ListRepositories(cmd.Context())
				if err != nil {
					return err
				}
				repos = all
			} else {
				for _, id := range args {
					repo, err := app.repository(cmd.Context(), id)
					if err != nil {
						return err
					}
					repos = append(repos, *repo)
				}
			}

			failed := 0
			for i := range repos {
				r := app.Publisher.Publish(cmd.Context(), &repos[i])
				if err := printReport(cmd.OutOrStdout(), app.OutputFormat, "publish "+repos[i].ID, r); err != nil {
					return err
				}
				if !r.Success {
					failed++
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d repositories failed to publish", failed, len(repos))
			}
			return nil
		},
	}

	publishCmd.Flags().BoolVarP(&c.all, "all", "a", false, "Publish every repository")

	return publishCmd
}
