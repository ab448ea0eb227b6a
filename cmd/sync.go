package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trly/msirepo/internal/db"
	"github.com/trly/msirepo/internal/importer"
)

// SyncCommand represents the sync command for msirepo CLI.
type SyncCommand struct {
	feeds     []string
	forceFull bool
	publish   bool
}

// GetCobraCommand returns the cobra command for sync operations.
func (c *SyncCommand) GetCobraCommand() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync [REPO...]",
		Short: "Mirror upstream feeds into repositories",
		Long: `Mirror upstream feeds into repositories.

Each repository's feeds are tried in order until one succeeds. Packages not
yet in the content store are downloaded and verified; packages already stored
are only associated. With no arguments every repository with a feed is synced.

Interrupting the command stops new downloads and fails the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)

			if err := app.Validator.SystemRequirements(cmd.Context()); err != nil {
				return fmt.Errorf("system requirements not met: %w", err)
			}
			if err := app.Validator.Directories(app.Config.StorageDir, app.Config.WorkingDir); err != nil {
				return err
			}

			repos, err := c.targets(cmd.Context(), app, args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			failed := 0
			for i := range repos {
				if !c.syncOne(ctx, cmd, app, &repos[i]) {
					failed++
				}
				if ctx.Err() != nil {
					break
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d repositories failed to sync", failed, len(repos))
			}
			return nil
		},
	}

	syncCmd.Flags().StringArrayVar(&c.feeds, "feed", nil, "Use this feed instead of the repository's (repeatable)")
	syncCmd.Flags().BoolVarP(&c.forceFull, "force-full", "f", false, "Process content even when the upstream revision is unchanged")
	syncCmd.Flags().BoolVarP(&c.publish, "publish", "p", false, "Publish each repository after a successful sync")

	return syncCmd
}

// targets resolves the repositories named on the command line, or every
// repository with a feed when none is named.
func (c *SyncCommand) targets(ctx context.Context, app *App, args []string) ([]db.Repository, error) {
	if len(args) == 0 {
		all, err := app.Store.ListRepositories(ctx)
		if err != nil {
			return nil, err
		}
		var repos []db.Repository
		for _, repo := range all {
			if len(repo.Feeds) > 0 || len(c.feeds) > 0 {
				repos = append(repos, repo)
			} else {
				app.Logger.Debug("Skipping repository without feeds", "repo", repo.ID)
			}
		}
		return repos, nil
	}

	repos := make([]db.Repository, 0, len(args))
	for _, id := range args {
		repo, err := app.repository(ctx, id)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *repo)
	}
	return repos, nil
}

// syncOne runs one sync, optionally publishes, and prints the reports. It
// reports whether everything succeeded.
func (c *SyncCommand) syncOne(ctx context.Context, cmd *cobra.Command, app *App, repo *db.Repository) bool {
	app.Logger.Info("Syncing repository", "repo", repo.ID)

	r := app.Importer.NewSync(repo, importer.SyncOptions{
		Feeds:     c.feeds,
		ForceFull: c.forceFull,
	}).Run(ctx)
	if err := printReport(cmd.OutOrStdout(), app.OutputFormat, "sync "+repo.ID, r); err != nil {
		app.Logger.Error("Failed to print report", "error", err)
	}
	if !r.Success {
		return false
	}

	if !c.publish {
		return true
	}
	pr := app.Publisher.Publish(ctx, repo)
	if err := printReport(cmd.OutOrStdout(), app.OutputFormat, "publish "+repo.ID, pr); err != nil {
		app.Logger.Error("Failed to print report", "error", err)
	}
	return pr.Success
}
