package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/trly/msirepo/internal/db/memstore"
	"github.com/trly/msirepo/internal/testutil"
	"github.com/trly/msirepo/internal/testutil/fakeextractor"
)

// ExecuteCommandWithCapture executes a cobra command and returns what it
// wrote to its output and error streams.
func ExecuteCommandWithCapture(t *testing.T, cmd *cobra.Command, args []string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

// SetupCommandContext creates a command with app context for testing.
func SetupCommandContext(cmd *cobra.Command, app *App) {
	ctx := context.WithValue(context.Background(), appContextKey, app)
	cmd.SetContext(ctx)
}

// MockValidator implements SystemValidator for testing.
type MockValidator struct {
	SystemRequirementsFunc func(context.Context) error
	DirectoriesFunc        func(dirs ...string) error
}

func (m *MockValidator) SystemRequirements(ctx context.Context) error {
	if m.SystemRequirementsFunc != nil {
		return m.SystemRequirementsFunc(ctx)
	}
	return nil
}

func (m *MockValidator) Directories(dirs ...string) error {
	if m.DirectoriesFunc != nil {
		return m.DirectoriesFunc(dirs...)
	}
	return nil
}

// AppBuilder provides a fluent interface for building test Apps.
type AppBuilder struct {
	validator SystemValidator
	opts      []testutil.ConfigOption
}

// NewAppBuilder creates a new AppBuilder with sensible defaults.
func NewAppBuilder() *AppBuilder {
	return &AppBuilder{validator: &MockValidator{}}
}

func (b *AppBuilder) WithValidator(v SystemValidator) *AppBuilder {
	b.validator = v
	return b
}

func (b *AppBuilder) WithConfig(opts ...testutil.ConfigOption) *AppBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build wires an App around an in-memory store and the fake extractor.
func (b *AppBuilder) Build(t *testing.T) *App {
	t.Helper()

	provider := testutil.NewMockConfig(t, b.opts...)
	app := NewAppWithDeps(testutil.NewTestLogger(t), provider, Deps{
		Store:     memstore.New(),
		Extractor: fakeextractor.New(),
	})
	app.Validator = b.validator
	return app
}

// runCLI executes the root command against app.
func runCLI(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand().GetCobraCommand()
	SetupCommandContext(root, app)
	return ExecuteCommandWithCapture(t, root, args)
}

// writeInstaller writes a fake installer into a temp dir.
func writeInstaller(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}
