package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/trly/msirepo/internal/config"
	"github.com/trly/msirepo/internal/distributor"
)

// CheckResult represents the result of a diagnostic check.
type CheckResult struct {
	Name        string   `json:"name" yaml:"name"`
	Passed      bool     `json:"passed" yaml:"passed"`
	Message     string   `json:"message" yaml:"message"`
	Suggestions []string `json:"suggestions,omitempty" yaml:"suggestions,omitempty"`
}

// HealthCheckOutput is the structured form of a doctor run.
type HealthCheckOutput struct {
	Overall string         `json:"overall" yaml:"overall"`
	Checks  []CheckResult  `json:"checks" yaml:"checks"`
	Summary map[string]int `json:"summary" yaml:"summary"`
}

// DoctorCommand represents the doctor command for msirepo CLI.
type DoctorCommand struct {
	// configFileUsed is replaced in tests.
	configFileUsed func(config.Provider) string
}

// GetCobraCommand returns the cobra command for doctor operations.
func (c *DoctorCommand) GetCobraCommand() *cobra.Command {
	if c.configFileUsed == nil {
		c.configFileUsed = config.ConfigFileUsed
	}

	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system health and configuration",
		Long: `Check system health and configuration for msirepo.

The doctor command checks that msitools is installed, that the storage,
working and publish directories are usable, and that every repository has
a valid publish configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Run(cmd.Context(), cmd.OutOrStdout(), getApp(cmd))
		},
		SilenceErrors: true,
	}
}

// Run executes every check and prints the results.
func (c *DoctorCommand) Run(ctx context.Context, w io.Writer, app *App) error {
	var results []CheckResult
	results = append(results, c.checkSystemRequirements(ctx, app))
	results = append(results, c.checkConfiguration(app))
	results = append(results, c.checkDirectories(app)...)
	results = append(results, c.checkRepositories(ctx, app)...)

	failed := 0
	for _, r := range results {
		if !r.Passed {
			failed++
		}
	}

	if structured(app.OutputFormat) {
		overall := "passed"
		if failed > 0 {
			overall = "failed"
		}
		if err := PrintOutput(w, app.OutputFormat, HealthCheckOutput{
			Overall: overall,
			Checks:  results,
			Summary: map[string]int{
				"total":  len(results),
				"passed": len(results) - failed,
				"failed": failed,
			},
		}); err != nil {
			return err
		}
	} else {
		displayResults(w, results, app.Config.Verbose)
	}

	if failed > 0 {
		return fmt.Errorf("doctor found %d issues", failed)
	}
	return nil
}

func (c *DoctorCommand) checkSystemRequirements(ctx context.Context, app *App) CheckResult {
	if err := app.Validator.SystemRequirements(ctx); err != nil {
		return CheckResult{
			Name:    "System Requirements",
			Message: err.Error(),
			Suggestions: []string{
				"Install msitools (apt install msitools, dnf install msitools or brew install msitools)",
				"Set msiinfoPath in the configuration file if msiinfo is not on your PATH",
			},
		}
	}
	return CheckResult{Name: "System Requirements", Passed: true, Message: "msiinfo is available"}
}

func (c *DoctorCommand) checkConfiguration(app *App) CheckResult {
	file := c.configFileUsed(app.ConfigProvider)
	if file == "" {
		return CheckResult{
			Name:    "Configuration File",
			Passed:  true,
			Message: "No configuration file found, using defaults",
		}
	}
	return CheckResult{
		Name:    "Configuration File",
		Passed:  true,
		Message: fmt.Sprintf("Configuration loaded from %s", file),
	}
}

func (c *DoctorCommand) checkDirectories(app *App) []CheckResult {
	dirs := []struct{ name, path string }{
		{"Storage Directory", app.Config.StorageDir},
		{"Working Directory", app.Config.WorkingDir},
		{"Master Directory", app.Config.GetMasterDir()},
		{"HTTP Publish Directory", app.Config.GetHTTPPublishDir()},
		{"HTTPS Publish Directory", app.Config.GetHTTPSPublishDir()},
	}

	results := make([]CheckResult, 0, len(dirs))
	for _, d := range dirs {
		if err := app.Validator.Directories(d.path); err != nil {
			results = append(results, CheckResult{
				Name:    d.name,
				Message: err.Error(),
				Suggestions: []string{
					"Check permissions on " + d.path,
					"Override the location with the matching setting in the configuration file",
				},
			})
			continue
		}
		results = append(results, CheckResult{Name: d.name, Passed: true, Message: d.path})
	}
	return results
}

func (c *DoctorCommand) checkRepositories(ctx context.Context, app *App) []CheckResult {
	repos, err := app.Store.ListRepositories(ctx)
	if err != nil {
		return []CheckResult{{Name: "Repositories", Message: err.Error()}}
	}
	if len(repos) == 0 {
		return []CheckResult{{
			Name:        "Repositories",
			Passed:      true,
			Message:     "No repositories defined",
			Suggestions: []string{"Create one with 'msirepo repo create'"},
		}}
	}

	results := make([]CheckResult, 0, len(repos))
	for _, repo := range repos {
		name := "Repository " + repo.ID
		if ok, msg := app.ConfigValidator.Validate(ctx, repo.ID, distributor.Flatten(repo.Distributor)); !ok {
			results = append(results, CheckResult{
				Name:        name,
				Message:     strings.ReplaceAll(msg, "\n", "; "),
				Suggestions: []string{fmt.Sprintf("Fix it with 'msirepo repo update %s'", repo.ID)},
			})
			continue
		}

		msg := fmt.Sprintf("published under /%s", repo.RelativePath())
		if len(repo.Feeds) == 0 {
			msg += ", no feed configured"
		}
		results = append(results, CheckResult{Name: name, Passed: true, Message: msg})
	}
	return results
}

// displayResults prints every check when verbose, otherwise only failures.
func displayResults(w io.Writer, results []CheckResult, verbose bool) {
	pass := color.GreenString("✓")
	fail := color.RedString("✗")

	failed := 0
	for _, r := range results {
		if r.Passed {
			if verbose {
				_, _ = fmt.Fprintf(w, "%s %s: %s\n", pass, r.Name, r.Message)
			}
			continue
		}

		failed++
		_, _ = fmt.Fprintf(w, "%s %s: %s\n", fail, r.Name, r.Message)
		if verbose {
			for _, s := range r.Suggestions {
				_, _ = fmt.Fprintf(w, "    - %s\n", s)
			}
		}
	}

	switch {
	case failed > 0 && !verbose:
		_, _ = fmt.Fprintf(w, "\n%d checks failed. Run with --verbose for details.\n", failed)
	case failed == 0:
		_, _ = fmt.Fprintln(w, "All checks passed")
	}
}
