// Package cmd provides the command line interface for msirepo
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/trly/msirepo/internal/config"
	"github.com/trly/msirepo/internal/contentstore"
	"github.com/trly/msirepo/internal/db"
	"github.com/trly/msirepo/internal/distributor"
	"github.com/trly/msirepo/internal/execx"
	"github.com/trly/msirepo/internal/importer"
	"github.com/trly/msirepo/internal/log"
	"github.com/trly/msirepo/internal/msiinfo"
	"github.com/trly/msirepo/internal/transport"
	"github.com/trly/msirepo/internal/unit"
	"github.com/trly/msirepo/internal/validate"
)

type contextKey string

const appContextKey contextKey = "app"

// App holds the application dependencies for command line interface.
type App struct {
	Logger          log.Logger
	Config          *config.Settings
	ConfigProvider  config.Provider
	Store           db.Store
	Importer        *importer.Importer
	Publisher       *distributor.Publisher
	ConfigValidator *distributor.Validator
	Validator       SystemValidator
	OutputFormat    string

	closers []func() error
}

// Deps are the collaborators that differ between production and tests.
type Deps struct {
	Store     db.Store
	Extractor unit.Extractor
	Client    *http.Client
}

// NewApp opens the database and wires every component.
func NewApp(ctx context.Context, logger log.Logger, configProv config.Provider) (*App, error) {
	cfg := configProv.GetConfig()

	sqlDB, err := db.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	store := db.NewStore(sqlDB)

	extractor := msiinfo.New(execx.NewRealRunner(), cfg.MsiinfoPath, logger)
	app := NewAppWithDeps(logger, configProv, Deps{Store: store, Extractor: extractor})
	app.Validator = validate.NewValidator(logger, extractor)
	app.closers = append(app.closers, sqlDB.Close)

	if err := app.registerConfiguredRepositories(ctx, store); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

// NewAppWithDeps wires an App around the given collaborators.
func NewAppWithDeps(logger log.Logger, configProv config.Provider, deps Deps) *App {
	cfg := configProv.GetConfig()

	content := contentstore.New(cfg.StorageDir, logger)
	downloader := transport.NewHTTPDownloader(transport.Config{
		Concurrency: cfg.NumThreads,
		Timeout:     cfg.DownloadTimeout,
		Client:      deps.Client,
	}, logger)

	imp := importer.New(deps.Store, content, deps.Extractor, downloader, importer.Options{
		WorkingDir:   cfg.WorkingDir,
		StateFile:    cfg.StateFile,
		ChecksumType: cfg.ChecksumType,
	}, logger)

	publisher := distributor.NewPublisher(deps.Store, distributor.Options{
		WorkingDir:   cfg.WorkingDir,
		MasterDir:    cfg.GetMasterDir(),
		HTTPDir:      cfg.GetHTTPPublishDir(),
		HTTPSDir:     cfg.GetHTTPSPublishDir(),
		StateFile:    cfg.StateFile,
		ChecksumType: cfg.ChecksumType,
	}, logger)

	return &App{
		Logger:          logger,
		Config:          cfg,
		ConfigProvider:  configProv,
		Store:           deps.Store,
		Importer:        imp,
		Publisher:       publisher,
		ConfigValidator: distributor.NewValidator(deps.Store, logger),
		OutputFormat:    "table",
	}
}

// registerConfiguredRepositories validates the repositories declared in the
// configuration file and records them in the registry.
func (a *App) registerConfiguredRepositories(ctx context.Context, store *db.SQLStore) error {
	for _, rc := range a.Config.Repositories {
		repo := db.FromConfig(rc)
		if ok, msg := a.ConfigValidator.Validate(ctx, repo.ID, distributor.Flatten(repo.Distributor)); !ok {
			return fmt.Errorf("repository %s in configuration file: %s", repo.ID, msg)
		}
	}
	if err := store.SyncFromConfig(ctx, a.Config.Repositories); err != nil {
		return fmt.Errorf("registering configured repositories: %w", err)
	}
	return nil
}

// Close releases resources held by the App.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// repository loads a repository record by id.
func (a *App) repository(ctx context.Context, id string) (*db.Repository, error) {
	repo, err := a.Store.GetRepository(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("repository %s does not exist", id)
	}
	return repo, err
}

// getApp retrieves the App from the command context.
func getApp(cmd *cobra.Command) *App {
	return cmd.Context().Value(appContextKey).(*App)
}
