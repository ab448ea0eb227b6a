package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trly/msirepo/internal/config"
	"github.com/trly/msirepo/internal/db"
)

func TestDoctorAllChecksPass(t *testing.T) {
	app := NewAppBuilder().Build(t)
	_, err := runCLI(t, app, "repo", "create", "win", "--feed", "https://mirror.example.com/win")
	require.NoError(t, err)

	out, err := runCLI(t, app, "doctor")

	require.NoError(t, err)
	assert.Contains(t, out, "All checks passed")
}

func TestDoctorReportsFailures(t *testing.T) {
	app := NewAppBuilder().WithValidator(&MockValidator{
		SystemRequirementsFunc: func(context.Context) error { return errors.New("msiinfo not found (install msitools)") },
	}).Build(t)

	out, err := runCLI(t, app, "doctor")

	require.EqualError(t, err, "doctor found 1 issues")
	assert.Contains(t, out, "System Requirements: msiinfo not found (install msitools)")
	assert.Contains(t, out, "1 checks failed")
}

func TestDoctorFlagsInvalidRepository(t *testing.T) {
	app := NewAppBuilder().Build(t)
	require.NoError(t, app.Store.CreateRepository(context.Background(), &db.Repository{ID: "dark"}))

	out, err := runCLI(t, app, "-o", "json", "doctor")
	require.EqualError(t, err, "doctor found 1 issues")

	var got HealthCheckOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "failed", got.Overall)
	assert.Equal(t, 1, got.Summary["failed"])

	var repoCheck CheckResult
	for _, c := range got.Checks {
		if c.Name == "Repository dark" {
			repoCheck = c
		}
	}
	assert.False(t, repoCheck.Passed)
	assert.Contains(t, repoCheck.Message, "both set to false")
}

func TestDoctorConfigurationFile(t *testing.T) {
	app := NewAppBuilder().Build(t)
	c := &DoctorCommand{configFileUsed: func(config.Provider) string { return "/etc/msirepo/config.yaml" }}

	result := c.checkConfiguration(app)

	assert.True(t, result.Passed)
	assert.Equal(t, "Configuration loaded from /etc/msirepo/config.yaml", result.Message)
}
