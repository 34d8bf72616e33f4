// Package main implements the rulecraft CLI: ingestion, analysis, and
// rule governance for learned project memory.
package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rulecrafter/internal/config"
	"github.com/fyrsmithlabs/rulecrafter/internal/engine"
	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
	"github.com/fyrsmithlabs/rulecrafter/internal/store"
)

// Exit codes for the analyze surface. Callers distinguish a clean run from
// one with nothing to do and from missing data.
const (
	exitOK               = 0
	exitFailure          = 1
	exitZeroNewPatterns  = 2
	exitInsufficientData = 3
)

var (
	configPath string
	version    = "dev"

	// exitCode carries a non-default code out of RunE handlers.
	exitCode = exitOK
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitFailure)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:   "rulecraft",
	Short: "Pattern mining and rule governance for coding-assistant sessions",
	Long: `rulecraft observes tool invocations, errors, and file changes from
coding-assistant sessions, aggregates them into patterns, and governs the
resulting rule and command candidates through an approval lifecycle.
Approved content is merged into the managed block of the project and user
memory documents.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default .rulecrafter/config.yaml)")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(statusCmd)
}

// app bundles the shared process state behind every command.
type app struct {
	cfg    *config.Config
	log    *logging.Logger
	db     *sql.DB
	engine *engine.Engine
}

func openApp() (*app, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &app{
		cfg:    cfg,
		log:    log,
		db:     db,
		engine: engine.New(db, log, *cfg),
	}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
	_ = a.db.Close()
}
