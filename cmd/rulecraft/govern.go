package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List rule and command candidates awaiting a decision",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending rule or command candidate",
	Long: `Approve a pending candidate by id. Approved rules are merged into
their scope's memory document on the next analysis run; approved commands
materialize as files under the auto-generated commands directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending rule or command candidate",
	Long: `Reject a pending candidate by id. Rejected ids are kept as a
negative cache: the generator will not re-propose them until the cooldown
elapses.`,
	Args: cobra.ExactArgs(1),
	RunE: runReject,
}

func runPending(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	rules, cmds, err := a.engine.Pending(cmd.Context())
	if err != nil {
		return err
	}

	if len(rules) == 0 && len(cmds) == 0 {
		fmt.Println("nothing pending")
		return nil
	}

	if len(rules) > 0 {
		fmt.Printf("Pending rules (%d):\n", len(rules))
		for _, r := range rules {
			fmt.Printf("  %s  conf=%.2f  scope=%-8s  [%s]  %s\n",
				r.ID, r.Confidence, r.Scope, r.Category, r.Text)
		}
	}
	if len(cmds) > 0 {
		fmt.Printf("Pending commands (%d):\n", len(cmds))
		for _, c := range cmds {
			fmt.Printf("  %s  conf=%.2f  scope=%-8s  /%s\n",
				c.ID, c.Confidence, c.Scope, c.CommandName)
		}
	}
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	itemType, err := a.engine.Workflow().Approve(cmd.Context(), args[0], time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Printf("approved %s %s\n", itemType, args[0])

	// Persist the approval into documents right away.
	sum, err := a.engine.RunBatch(cmd.Context(), "approve", false)
	if err != nil {
		return err
	}
	reportConflicts(sum.Conflicts)
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	itemType, err := a.engine.Workflow().Reject(cmd.Context(), args[0], time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Printf("rejected %s %s (suppressed for %d days)\n",
		itemType, args[0], a.cfg.Approval.CooldownDays)
	return nil
}

func reportConflicts(conflicts []string) {
	for _, c := range conflicts {
		fmt.Println("warning:", c)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store and governance counters",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	snapshot, err := a.engine.Patterns().Snapshot(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("store: %s\n", a.cfg.Storage.Path)
	fmt.Printf("patterns: %d\n", len(snapshot))
	for _, status := range []domain.Status{
		domain.StatusPending, domain.StatusApproved,
		domain.StatusRejected, domain.StatusSuperseded,
	} {
		rules, err := a.engine.Workflow().CountRules(ctx, status)
		if err != nil {
			return err
		}
		cmds, err := a.engine.Workflow().CountCommands(ctx, status)
		if err != nil {
			return err
		}
		fmt.Printf("%-10s rules=%-4d commands=%d\n", status, rules, cmds)
	}
	return nil
}
