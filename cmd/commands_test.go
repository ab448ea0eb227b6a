package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trly/msirepo/internal/repodata"
	"github.com/trly/msirepo/internal/testutil/fakeextractor"
	"github.com/trly/msirepo/internal/unit"
)

// seeded returns an App holding repository "win" with one uploaded MSI and
// one uploaded MSM.
func seeded(t *testing.T) *App {
	t.Helper()

	app := NewAppBuilder().Build(t)
	_, err := runCLI(t, app, "repo", "create", "win", "--relative-url", "windows/stable")
	require.NoError(t, err)

	msi := writeInstaller(t, "widget.msi", fakeextractor.MSI("Widget", "1.2.0", "prop Manufacturer=Acme"))
	msm := writeInstaller(t, "runtime.MSM", fakeextractor.MSM("Runtime", "{0A1B2C3D-0000-4000-8000-000000000001}", "14.0"))
	_, err = runCLI(t, app, "upload", "win", msi, msm)
	require.NoError(t, err)
	return app
}

func TestUpload(t *testing.T) {
	app := seeded(t)

	for _, tt := range []struct {
		typ  unit.Type
		name string
	}{
		{unit.TypeMSI, "Widget"},
		{unit.TypeMSM, "Runtime"},
	} {
		units, err := app.Store.Search(context.Background(), "win", tt.typ, "")
		require.NoError(t, err)
		require.Len(t, units, 1)
		assert.Equal(t, tt.name, units[0].Name)
	}
}

func TestUploadFailures(t *testing.T) {
	app := NewAppBuilder().Build(t)
	_, err := runCLI(t, app, "repo", "create", "win")
	require.NoError(t, err)

	t.Run("unknown extension", func(t *testing.T) {
		path := writeInstaller(t, "widget.exe", fakeextractor.MSI("Widget", "1.0"))
		out, err := runCLI(t, app, "upload", "win", path)
		require.EqualError(t, err, "1 of 1 uploads failed")
		assert.Contains(t, out, "Unsupported unit type exe")
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		path := writeInstaller(t, "widget.msi", fakeextractor.MSI("Widget", "1.0"))
		out, err := runCLI(t, app, "upload", "win", path, "--checksum", "00ff")
		require.Error(t, err)
		assert.Contains(t, out, "Checksum mismatch")
	})

	t.Run("checksum with several files", func(t *testing.T) {
		a := writeInstaller(t, "a.msi", fakeextractor.MSI("A", "1.0"))
		b := writeInstaller(t, "b.msi", fakeextractor.MSI("B", "1.0"))
		_, err := runCLI(t, app, "upload", "win", a, b, "--checksum", "00ff")
		assert.EqualError(t, err, "--checksum applies to a single file")
	})

	t.Run("unusable storage", func(t *testing.T) {
		broken := NewAppBuilder().WithValidator(&MockValidator{
			DirectoriesFunc: func(...string) error { return errors.New("storage is not writable") },
		}).Build(t)
		path := writeInstaller(t, "widget.msi", fakeextractor.MSI("Widget", "1.0"))
		_, err := runCLI(t, broken, "upload", "win", path)
		assert.EqualError(t, err, "storage is not writable")
	})
}

func TestTypeFromExtension(t *testing.T) {
	assert.Equal(t, "msi", typeFromExtension("/tmp/Setup.MSI"))
	assert.Equal(t, "msm", typeFromExtension("runtime.msm"))
	assert.Equal(t, "", typeFromExtension("README"))
}

func TestSearch(t *testing.T) {
	app := seeded(t)

	out, err := runCLI(t, app, "search", "msi", "win")
	require.NoError(t, err)
	assert.Contains(t, out, "Product Code")
	assert.Contains(t, out, "Widget")
	assert.Contains(t, out, "Acme")

	out, err = runCLI(t, app, "search", "msm", "win", "Run")
	require.NoError(t, err)
	assert.Contains(t, out, "GUID")
	assert.Contains(t, out, "Runtime")

	out, err = runCLI(t, app, "search", "msi", "win", "nothing-matches")
	require.NoError(t, err)
	assert.NotContains(t, out, "Widget")
}

func TestSearchErrors(t *testing.T) {
	app := seeded(t)

	_, err := runCLI(t, app, "search", "rpm", "win")
	assert.Error(t, err)

	_, err = runCLI(t, app, "search", "msi", "nope")
	assert.EqualError(t, err, "repository nope does not exist")
}

func TestPublish(t *testing.T) {
	app := seeded(t)

	out, err := runCLI(t, app, "publish", "win")
	require.NoError(t, err)
	assert.Contains(t, out, "publish win")
	assert.Contains(t, out, "units_processed")

	tree := filepath.Join(app.Config.GetHTTPSPublishDir(), "windows", "stable")
	assert.FileExists(t, filepath.Join(tree, repodata.RepomdLocation))
	assert.FileExists(t, filepath.Join(tree, repodata.PrimaryLocation))

	_, err = os.Lstat(filepath.Join(app.Config.GetHTTPPublishDir(), "windows", "stable"))
	assert.ErrorIs(t, err, os.ErrNotExist, "http is not enabled")
}

func TestPublishRequiresTarget(t *testing.T) {
	app := seeded(t)

	_, err := runCLI(t, app, "publish")

	assert.EqualError(t, err, "name at least one repository or pass --all")
}

func TestCopy(t *testing.T) {
	app := seeded(t)
	_, err := runCLI(t, app, "repo", "create", "win-testing")
	require.NoError(t, err)

	out, err := runCLI(t, app, "copy", "win", "win-testing", "--type", "msm")
	require.NoError(t, err)
	assert.Contains(t, out, "units_copied")

	msms, err := app.Store.Search(context.Background(), "win-testing", unit.TypeMSM, "")
	require.NoError(t, err)
	assert.Len(t, msms, 1)

	msis, err := app.Store.Search(context.Background(), "win-testing", unit.TypeMSI, "")
	require.NoError(t, err)
	assert.Empty(t, msis)
}

func TestCopyUnknownType(t *testing.T) {
	app := seeded(t)

	_, err := runCLI(t, app, "copy", "win", "win", "--type", "deb")

	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	app := seeded(t)

	_, err := runCLI(t, app, "remove", "win")
	assert.EqualError(t, err, "pass --match to select packages, or --all to remove every package")

	out, err := runCLI(t, app, "remove", "win", "--match", "Wid")
	require.NoError(t, err)
	assert.Contains(t, out, "units_removed")

	msis, err := app.Store.Search(context.Background(), "win", unit.TypeMSI, "")
	require.NoError(t, err)
	assert.Empty(t, msis)

	msms, err := app.Store.Search(context.Background(), "win", unit.TypeMSM, "")
	require.NoError(t, err)
	assert.Len(t, msms, 1)
}

func TestSync(t *testing.T) {
	t.Run("system requirements", func(t *testing.T) {
		app := NewAppBuilder().WithValidator(&MockValidator{
			SystemRequirementsFunc: func(context.Context) error { return errors.New("msiinfo not found") },
		}).Build(t)

		_, err := runCLI(t, app, "sync")
		assert.EqualError(t, err, "system requirements not met: msiinfo not found")
	})

	t.Run("unknown repository", func(t *testing.T) {
		app := NewAppBuilder().Build(t)

		_, err := runCLI(t, app, "sync", "nope")
		assert.EqualError(t, err, "repository nope does not exist")
	})

	t.Run("nothing to sync", func(t *testing.T) {
		app := NewAppBuilder().Build(t)
		_, err := runCLI(t, app, "repo", "create", "local-only")
		require.NoError(t, err)

		_, err = runCLI(t, app, "sync")
		assert.NoError(t, err)
	})

	t.Run("repository without feed", func(t *testing.T) {
		app := NewAppBuilder().Build(t)
		_, err := runCLI(t, app, "repo", "create", "local-only")
		require.NoError(t, err)

		out, err := runCLI(t, app, "sync", "local-only")
		assert.EqualError(t, err, "1 of 1 repositories failed to sync")
		assert.Contains(t, out, "no feed configured")
	})
}
