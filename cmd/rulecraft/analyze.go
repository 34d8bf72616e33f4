package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var batchApprove bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Force an analysis batch run now",
	Long: `Run the full analysis pipeline immediately: snapshot patterns,
generate candidates, apply governance decisions, and merge approved
content into the memory documents.

Exit codes:
  0  ran and found new patterns
  2  ran with zero new patterns
  3  insufficient data (empty pattern store)
  1  failed to run`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&batchApprove, "approve-all", false,
		"approve every pending candidate regardless of confidence and scope")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	sum, err := a.engine.RunBatch(cmd.Context(), "force", batchApprove)
	if err != nil {
		return err
	}

	fmt.Printf("patterns: %d (%d new)\n", sum.Patterns, sum.NewPatterns)
	fmt.Printf("generated: %d rules, %d commands (%d suppressed, %d failed)\n",
		sum.GeneratedRules, sum.GeneratedCommands, sum.Suppressed, sum.FailedCandidates)
	fmt.Printf("approved: %d rules, %d commands; %d superseded, %d evicted\n",
		sum.ApprovedRules, sum.ApprovedCommands, sum.Superseded, sum.Evicted)
	fmt.Printf("command files created: %d\n", sum.CreatedCommands)
	if sum.PrunedPatterns > 0 {
		fmt.Printf("pruned stale patterns: %d\n", sum.PrunedPatterns)
	}
	reportConflicts(sum.Conflicts)
	for _, e := range sum.Errors {
		fmt.Println("error:", e)
	}

	switch {
	case len(sum.Errors) > 0:
		exitCode = exitFailure
	case sum.Patterns == 0:
		exitCode = exitInsufficientData
	case sum.NewPatterns == 0:
		exitCode = exitZeroNewPatterns
	}
	return nil
}
