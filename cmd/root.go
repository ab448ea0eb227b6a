package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trly/msirepo/internal/config"
	"github.com/trly/msirepo/internal/log"
)

// annotationNoApp marks commands that run without opening the database.
const annotationNoApp = "msirepo/no-app"

// RootCommand represents the root command for msirepo CLI.
type RootCommand struct {
	configFilePath string
	dbPath         string
	storageDir     string
	publishDir     string
	output         string
	verbose        bool

	// provider and newApp are replaced in tests.
	provider config.Provider
	newApp   func(context.Context, log.Logger, config.Provider) (*App, error)
}

// NewRootCommand creates a RootCommand with the production wiring.
func NewRootCommand() *RootCommand {
	return &RootCommand{
		provider: config.NewDefaultConfigProvider(),
		newApp:   NewApp,
	}
}

// GetCobraCommand returns the cobra root command for msirepo CLI.
func (c *RootCommand) GetCobraCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "msirepo",
		Short: "msirepo mirrors Windows installer catalogs and publishes them as browsable repositories.",
		Long: `msirepo mirrors remote catalogs of MSI and MSM packages into a local
content-addressable store and republishes them as checksum-indexed
repository trees that any static web server can serve.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[annotationNoApp] == "true" {
				return nil
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if app, ok := ctx.Value(appContextKey).(*App); ok {
				if c.output != "" {
					app.OutputFormat = c.output
				}
				return nil
			}

			if c.configFilePath != "" {
				c.provider.SetConfigFilePath(c.configFilePath)
			}
			cfg, err := c.provider.InitConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			c.applyOverrides(cfg)

			logger := log.NewLogger(cfg.Verbose)
			if cfg.Verbose {
				logger.Debug("Using configuration", "file", config.ConfigFileUsed(c.provider))
			}

			app, err := c.newApp(ctx, logger, c.provider)
			if err != nil {
				return err
			}
			if c.output != "" {
				app.OutputFormat = c.output
			}

			cmd.SetContext(context.WithValue(ctx, appContextKey, app))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Context() == nil {
				return nil
			}
			if app, ok := cmd.Context().Value(appContextKey).(*App); ok {
				return app.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&c.configFilePath, "config", "", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&c.dbPath, "db-path", "", "Path to the database file")
	rootCmd.PersistentFlags().StringVar(&c.storageDir, "storage-dir", "", "Path to the content store")
	rootCmd.PersistentFlags().StringVar(&c.publishDir, "publish-dir", "", "Root of the published trees")
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "", "Output format (table, json, yaml)")

	rootCmd.AddCommand(
		(&RepoCommand{}).GetCobraCommand(),
		(&UploadCommand{}).GetCobraCommand(),
		(&SyncCommand{}).GetCobraCommand(),
		(&PublishCommand{}).GetCobraCommand(),
		(&SearchCommand{}).GetCobraCommand(),
		(&CopyCommand{}).GetCobraCommand(),
		(&RemoveCommand{}).GetCobraCommand(),
		(&DoctorCommand{}).GetCobraCommand(),
		(&VersionCommand{}).GetCobraCommand(),
	)

	return rootCmd
}

func (c *RootCommand) applyOverrides(cfg *config.Settings) {
	if c.verbose {
		cfg.Verbose = true
	}
	if c.dbPath != "" {
		cfg.DBPath = c.dbPath
	}
	if c.storageDir != "" {
		cfg.StorageDir = c.storageDir
	}
	if c.publishDir != "" {
		cfg.PublishDir = c.publishDir
	}
}
