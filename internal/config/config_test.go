package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Analysis.ErrorThreshold)
	assert.Equal(t, 5, cfg.Analysis.CommandThreshold)
	assert.InDelta(t, 0.7, cfg.Analysis.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 0.9, cfg.Approval.AutoApproveThreshold, 1e-9)
	assert.Equal(t, 90, cfg.Storage.RetentionDays)
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }},
		{"zero retention", func(c *Config) { c.Storage.RetentionDays = 0 }},
		{"zero queue size", func(c *Config) { c.Ingest.QueueSize = 0 }},
		{"negative submit timeout", func(c *Config) { c.Ingest.SubmitTimeout = -time.Second }},
		{"zero analysis frequency", func(c *Config) { c.Analysis.PatternAnalysisFrequency = 0 }},
		{"zero error threshold", func(c *Config) { c.Analysis.ErrorThreshold = 0 }},
		{"confidence above one", func(c *Config) { c.Analysis.ConfidenceThreshold = 1.5 }},
		{"confidence below zero", func(c *Config) { c.Analysis.ConfidenceThreshold = -0.1 }},
		{"auto approve above one", func(c *Config) { c.Approval.AutoApproveThreshold = 2 }},
		{"zero max pending", func(c *Config) { c.Approval.MaxPendingRules = 0 }},
		{"negative cooldown", func(c *Config) { c.Approval.CooldownDays = -1 }},
		{"empty project doc", func(c *Config) { c.Documents.ProjectDoc = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "shout" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Analysis.ErrorThreshold, cfg.Analysis.ErrorThreshold)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
analysis:
  error_threshold: 7
  confidence_threshold: 0.5
  category_enabled:
    debugging: false
approval:
  auto_approve_threshold: 0.95
storage:
  path: /tmp/rc.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Analysis.ErrorThreshold)
	assert.InDelta(t, 0.5, cfg.Analysis.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 0.95, cfg.Approval.AutoApproveThreshold, 1e-9)
	assert.Equal(t, "/tmp/rc.db", cfg.Storage.Path)

	// Defaults survive for untouched sections.
	assert.Equal(t, 5, cfg.Analysis.CommandThreshold)

	assert.False(t, cfg.Analysis.CategoryIsEnabled("debugging"))
	assert.True(t, cfg.Analysis.CategoryIsEnabled("testing"))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RULECRAFTER_ANALYSIS_ERROR_THRESHOLD", "9")
	t.Setenv("RULECRAFTER_APPROVAL_COOLDOWN_DAYS", "30")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Analysis.ErrorThreshold)
	assert.Equal(t, 30, cfg.Approval.CooldownDays)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("RULECRAFTER_ANALYSIS_CONFIDENCE_THRESHOLD", "3.0")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analysis: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
