package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is where Load looks for the config file when no path is
// given on the command line.
const DefaultPath = ".rulecrafter/config.yaml"

const (
	// envPrefix namespaces rulecrafter environment variables.
	envPrefix = "RULECRAFTER_"

	// maxConfigFileSize rejects runaway config files.
	maxConfigFileSize = 1024 * 1024
)

// Load reads configuration from an optional YAML file, applies RULECRAFTER_*
// environment overrides, and validates the result.
//
// Environment variables map section_field to dotted keys:
//
//	RULECRAFTER_ANALYSIS_ERROR_THRESHOLD    -> analysis.error_threshold
//	RULECRAFTER_APPROVAL_COOLDOWN_DAYS      -> approval.cooldown_days
//	RULECRAFTER_STORAGE_PATH                -> storage.path
//
// A missing config file is not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envTransform maps RULECRAFTER_SECTION_FIELD_NAME to section.field_name.
// The first underscore separates the section; the rest stay in the field.
func envTransform(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile returns the file contents, or nil if the file does not
// exist. Oversized files are rejected.
func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}
