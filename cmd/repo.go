package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trly/msirepo/internal/db"
	"github.com/trly/msirepo/internal/distributor"
	"github.com/trly/msirepo/internal/state"
)

// RepoCommand represents the repo command group.
type RepoCommand struct{}

// GetCobraCommand returns the cobra command for repository management.
func (c *RepoCommand) GetCobraCommand() *cobra.Command {
	repoCmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage repositories",
	}

	repoCmd.AddCommand(
		(&RepoCreateCommand{}).GetCobraCommand(),
		(&RepoUpdateCommand{}).GetCobraCommand(),
		(&RepoListCommand{}).GetCobraCommand(),
		(&RepoDeleteCommand{}).GetCobraCommand(),
	)
	return repoCmd
}

// repoFlags are the settings shared by repo create and repo update.
type repoFlags struct {
	displayName       string
	feeds             []string
	relativeURL       string
	http              bool
	https             bool
	httpPublishDir    string
	httpsPublishDir   string
	distributorConfig string
}

func (f *repoFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.displayName, "display-name", "", "Human readable name")
	cmd.Flags().StringArrayVar(&f.feeds, "feed", nil, "Upstream mirror URL, tried in the order given (repeatable)")
	cmd.Flags().StringVar(&f.relativeURL, "relative-url", "", "Path the repository is published under (defaults to its id)")
	cmd.Flags().BoolVar(&f.http, "serve-http", false, "Publish under the HTTP root")
	cmd.Flags().BoolVar(&f.https, "serve-https", true, "Publish under the HTTPS root")
	cmd.Flags().StringVar(&f.httpPublishDir, "http-publish-dir", "", "Override the HTTP root for this repository")
	cmd.Flags().StringVar(&f.httpsPublishDir, "https-publish-dir", "", "Override the HTTPS root for this repository")
	cmd.Flags().StringVar(&f.distributorConfig, "distributor-config", "", "INI file holding the publish settings")
}

// apply merges the flags the user set into repo and returns the flattened
// distributor configuration to validate.
func (f *repoFlags) apply(cmd *cobra.Command, app *App, repo *db.Repository) map[string]any {
	changed := cmd.Flags().Changed

	if changed("display-name") {
		repo.DisplayName = f.displayName
	}
	if changed("feed") {
		repo.Feeds = f.feeds
	}

	if f.distributorConfig != "" {
		return distributor.LoadConfigFile(f.distributorConfig, app.Logger)
	}

	d := &repo.Distributor
	if changed("relative-url") {
		d.RelativeURL = f.relativeURL
	}
	if changed("serve-http") || repo.CreatedAt.IsZero() {
		d.HTTP = f.http
	}
	if changed("serve-https") || repo.CreatedAt.IsZero() {
		d.HTTPS = f.https
	}
	if changed("http-publish-dir") {
		d.HTTPPublishDir = f.httpPublishDir
	}
	if changed("https-publish-dir") {
		d.HTTPSPublishDir = f.httpsPublishDir
	}
	return distributor.Flatten(*d)
}

// validated checks the distributor configuration of repo and stores it on
// success.
func validated(cmd *cobra.Command, app *App, repo *db.Repository, flat map[string]any) error {
	if ok, msg := app.ConfigValidator.Validate(cmd.Context(), repo.ID, flat); !ok {
		return fmt.Errorf("invalid distributor configuration:\n%s", msg)
	}
	repo.Distributor = distributor.Parse(flat)
	return nil
}

// RepoCreateCommand represents the repo create command.
type RepoCreateCommand struct {
	flags repoFlags
}

// GetCobraCommand returns the cobra command for creating a repository.
func (c *RepoCreateCommand) GetCobraCommand() *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create ID",
		Short: "Create a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)

			repo := &db.Repository{ID: args[0]}
			flat := c.flags.apply(cmd, app, repo)
			if err := validated(cmd, app, repo, flat); err != nil {
				return err
			}

			if err := app.Store.CreateRepository(cmd.Context(), repo); err != nil {
				if errors.Is(err, db.ErrAlreadyExists) {
					return fmt.Errorf("repository %s already exists", repo.ID)
				}
				return err
			}

			app.Logger.Info("Created repository", "repo", repo.ID)
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Repository %s created\n", repo.ID)
			return err
		},
	}
	c.flags.register(createCmd)
	return createCmd
}

// RepoUpdateCommand represents the repo update command.
type RepoUpdateCommand struct {
	flags repoFlags
}

// GetCobraCommand returns the cobra command for updating a repository.
func (c *RepoUpdateCommand) GetCobraCommand() *cobra.Command {
	updateCmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a repository's feeds or publish settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)

			repo, err := app.repository(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			flat := c.flags.apply(cmd, app, repo)
			if err := validated(cmd, app, repo, flat); err != nil {
				return err
			}

			if err := app.Store.UpdateRepository(cmd.Context(), repo); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Repository %s updated\n", repo.ID)
			return err
		},
	}
	c.flags.register(updateCmd)
	return updateCmd
}

// RepoListCommand represents the repo list command.
type RepoListCommand struct{}

// GetCobraCommand returns the cobra command for listing repositories.
func (c *RepoListCommand) GetCobraCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := getApp(cmd)

			repos, err := app.Store.ListRepositories(cmd.Context())
			if err != nil {
				return err
			}

			if structured(app.OutputFormat) {
				return PrintOutput(cmd.OutOrStdout(), app.OutputFormat, repos)
			}

			tbl := newTable(cmd.OutOrStdout(), "ID", "Display Name", "Path", "HTTP", "HTTPS", "Feeds")
			for _, repo := range repos {
				tbl.AddRow(repo.ID, repo.DisplayName, repo.RelativePath(),
					repo.Distributor.HTTP, repo.Distributor.HTTPS, strings.Join(repo.Feeds, ", "))
			}
			tbl.Print()
			return nil
		},
	}
}

// RepoDeleteCommand represents the repo delete command.
type RepoDeleteCommand struct{}

// GetCobraCommand returns the cobra command for deleting a repository.
func (c *RepoDeleteCommand) GetCobraCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a repository and unpublish it",
		Long: `Delete a repository and unpublish it.

The repository's published trees are removed. Stored units are kept, since
other repositories may hold them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)

			repo, err := app.repository(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if err := app.Publisher.Remove(repo); err != nil {
				return fmt.Errorf("unpublishing %s: %w", repo.ID, err)
			}
			if err := app.Store.DeleteRepository(cmd.Context(), repo.ID); err != nil {
				return err
			}
			if err := state.Update(app.Config.StateFile, func(s *state.State) { s.Remove(repo.ID) }); err != nil {
				app.Logger.Warn("Could not clear repository state", "repo", repo.ID, "error", err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Repository %s deleted\n", repo.ID)
			return err
		},
	}
}
