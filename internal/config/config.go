// Package config provides configuration loading for rulecrafter.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RULECRAFTER_ANALYSIS_ERROR_THRESHOLD, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// All threshold and frequency values are range-checked at load time; an
// out-of-range value fails fast rather than being silently coerced.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
)

// Config holds the complete rulecrafter configuration.
type Config struct {
	Storage   StorageConfig   `koanf:"storage"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Analysis  AnalysisConfig  `koanf:"analysis"`
	Approval  ApprovalConfig  `koanf:"approval"`
	Documents DocumentsConfig `koanf:"documents"`
	Logging   logging.Config  `koanf:"logging"`
}

// StorageConfig locates the durable pattern/rule store.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path string `koanf:"path"`

	// RetentionDays is how long an untouched pattern aggregate survives
	// before the periodic sweep prunes it.
	RetentionDays int `koanf:"retention_days"`
}

// IngestConfig controls the event ingestion queue.
type IngestConfig struct {
	// QueueSize is the capacity of the in-process event queue.
	QueueSize int `koanf:"queue_size"`

	// SubmitTimeout is the longest a Submit call may wait for queue space
	// before the event is dropped. Ingestion must never block the host.
	SubmitTimeout time.Duration `koanf:"submit_timeout"`
}

// AnalysisConfig controls pattern thresholds and batch scheduling.
type AnalysisConfig struct {
	// PatternAnalysisFrequency is the number of ingested events between
	// periodic batch runs.
	PatternAnalysisFrequency int `koanf:"pattern_analysis_frequency"`

	// ErrorThreshold is the occurrence count at which an error-category
	// pattern becomes eligible for a rule candidate.
	ErrorThreshold int `koanf:"error_threshold"`

	// CommandThreshold is the occurrence count for workflow patterns.
	CommandThreshold int `koanf:"command_threshold"`

	// SequenceThreshold is the occurrence count at which a cross-session
	// tool sequence becomes eligible for a command candidate.
	SequenceThreshold int `koanf:"sequence_threshold"`

	// ConfidenceThreshold is the minimum pattern confidence for any
	// candidate generation.
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`

	// BatchTimeBudget bounds a session-end batch run. On expiry the current
	// step aborts; partial results already persisted are kept.
	BatchTimeBudget time.Duration `koanf:"batch_time_budget"`

	// ExcludePatterns are gitignore-style globs; matching file paths are
	// never folded into aggregates.
	ExcludePatterns []string `koanf:"exclude_patterns"`

	// CategoryEnabled toggles candidate generation per category. A missing
	// entry means enabled.
	CategoryEnabled map[string]bool `koanf:"category_enabled"`
}

// ApprovalConfig controls the rule governance lifecycle.
type ApprovalConfig struct {
	// AutoApproveThreshold is the confidence at which a team-scope pending
	// item is approved without an explicit action.
	AutoApproveThreshold float64 `koanf:"auto_approve_threshold"`

	// MaxPendingRules caps the pending rule queue.
	MaxPendingRules int `koanf:"max_pending_rules"`

	// MaxAutoCommands caps pending command candidates.
	MaxAutoCommands int `koanf:"max_auto_commands"`

	// CooldownDays is how long a rejected candidate suppresses regeneration.
	CooldownDays int `koanf:"cooldown_days"`
}

// DocumentsConfig locates the managed memory documents.
type DocumentsConfig struct {
	// ProjectDoc is the team-scope document (project memory).
	ProjectDoc string `koanf:"project_doc"`

	// UserDoc is the personal-scope document.
	UserDoc string `koanf:"user_doc"`

	// CommandsDir receives generated command files.
	CommandsDir string `koanf:"commands_dir"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Path:          filepath.Join(".rulecrafter", "rulecrafter.db"),
			RetentionDays: 90,
		},
		Ingest: IngestConfig{
			QueueSize:     256,
			SubmitTimeout: 50 * time.Millisecond,
		},
		Analysis: AnalysisConfig{
			PatternAnalysisFrequency: 10,
			ErrorThreshold:           3,
			CommandThreshold:         5,
			SequenceThreshold:        10,
			ConfidenceThreshold:      0.7,
			BatchTimeBudget:          30 * time.Second,
		},
		Approval: ApprovalConfig{
			AutoApproveThreshold: 0.9,
			MaxPendingRules:      50,
			MaxAutoCommands:      10,
			CooldownDays:         14,
		},
		Documents: DocumentsConfig{
			ProjectDoc:  "CLAUDE.md",
			UserDoc:     filepath.Join("~", ".claude", "CLAUDE.md"),
			CommandsDir: filepath.Join(".claude", "commands", "auto-generated"),
		},
		Logging: logging.DefaultConfig(),
	}
}

// Validate checks all values are in range. Called after load; callers must
// not use a Config that failed validation.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if c.Storage.RetentionDays < 1 {
		return fmt.Errorf("storage.retention_days must be >= 1, got %d", c.Storage.RetentionDays)
	}
	if c.Ingest.QueueSize < 1 {
		return fmt.Errorf("ingest.queue_size must be >= 1, got %d", c.Ingest.QueueSize)
	}
	if c.Ingest.SubmitTimeout <= 0 {
		return fmt.Errorf("ingest.submit_timeout must be positive, got %s", c.Ingest.SubmitTimeout)
	}
	if c.Analysis.PatternAnalysisFrequency < 1 {
		return fmt.Errorf("analysis.pattern_analysis_frequency must be >= 1, got %d", c.Analysis.PatternAnalysisFrequency)
	}
	if c.Analysis.ErrorThreshold < 1 {
		return fmt.Errorf("analysis.error_threshold must be >= 1, got %d", c.Analysis.ErrorThreshold)
	}
	if c.Analysis.CommandThreshold < 1 {
		return fmt.Errorf("analysis.command_threshold must be >= 1, got %d", c.Analysis.CommandThreshold)
	}
	if c.Analysis.SequenceThreshold < 1 {
		return fmt.Errorf("analysis.sequence_threshold must be >= 1, got %d", c.Analysis.SequenceThreshold)
	}
	if c.Analysis.ConfidenceThreshold < 0 || c.Analysis.ConfidenceThreshold > 1 {
		return fmt.Errorf("analysis.confidence_threshold must be in [0,1], got %g", c.Analysis.ConfidenceThreshold)
	}
	if c.Analysis.BatchTimeBudget <= 0 {
		return fmt.Errorf("analysis.batch_time_budget must be positive, got %s", c.Analysis.BatchTimeBudget)
	}
	if c.Approval.AutoApproveThreshold < 0 || c.Approval.AutoApproveThreshold > 1 {
		return fmt.Errorf("approval.auto_approve_threshold must be in [0,1], got %g", c.Approval.AutoApproveThreshold)
	}
	if c.Approval.MaxPendingRules < 1 {
		return fmt.Errorf("approval.max_pending_rules must be >= 1, got %d", c.Approval.MaxPendingRules)
	}
	if c.Approval.MaxAutoCommands < 1 {
		return fmt.Errorf("approval.max_auto_commands must be >= 1, got %d", c.Approval.MaxAutoCommands)
	}
	if c.Approval.CooldownDays < 0 {
		return fmt.Errorf("approval.cooldown_days must be >= 0, got %d", c.Approval.CooldownDays)
	}
	if c.Documents.ProjectDoc == "" {
		return fmt.Errorf("documents.project_doc must not be empty")
	}
	if c.Documents.UserDoc == "" {
		return fmt.Errorf("documents.user_doc must not be empty")
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}

// CategoryIsEnabled reports whether candidate generation is enabled for the
// given category name. Unknown categories default to enabled.
func (c *AnalysisConfig) CategoryIsEnabled(category string) bool {
	if c.CategoryEnabled == nil {
		return true
	}
	enabled, ok := c.CategoryEnabled[category]
	if !ok {
		return true
	}
	return enabled
}
