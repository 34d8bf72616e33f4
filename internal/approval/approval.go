// Package approval governs the candidate lifecycle: pending items are
// auto-approved, explicitly decided, superseded, or evicted under caps.
// Every decision lands in the audit log.
package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
	"github.com/fyrsmithlabs/rulecrafter/internal/store"
)

// ErrInvalidTransition is returned when a requested status change is not in
// the lifecycle table.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrNotFound is returned when an id matches neither a rule nor a command.
var ErrNotFound = errors.New("no pending item with that id")

// Item type labels used in the audit log and command surface output.
const (
	ItemRule    = "rule"
	ItemCommand = "command"
)

// legalTransitions is the lifecycle table. Approved and rejected items can
// only move to superseded; superseded is final.
var legalTransitions = map[domain.Status][]domain.Status{
	domain.StatusCandidate: {domain.StatusPending},
	domain.StatusPending:   {domain.StatusApproved, domain.StatusRejected},
	domain.StatusApproved:  {domain.StatusSuperseded},
	domain.StatusRejected:  {domain.StatusSuperseded},
}

func canTransition(from, to domain.Status) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Config carries the governance thresholds and caps.
type Config struct {
	AutoApproveThreshold float64
	MaxPendingRules      int
	MaxAutoCommands      int
}

// Result summarizes one auto-decision pass.
type Result struct {
	ApprovedRules    []domain.Rule
	ApprovedCommands []domain.CommandCandidate
	Superseded       int
	Evicted          int
}

// Workflow applies governance decisions over the persisted candidates.
type Workflow struct {
	db       *sql.DB
	rules    *store.RuleRepo
	commands *store.CommandRepo
	audit    *store.AuditRepo
	log      *logging.Logger
	cfg      Config
}

func New(db *sql.DB, log *logging.Logger, cfg Config) *Workflow {
	return &Workflow{
		db:       db,
		rules:    &store.RuleRepo{},
		commands: &store.CommandRepo{},
		audit:    &store.AuditRepo{},
		log:      log.Named("approval"),
		cfg:      cfg,
	}
}

// AutoDecide runs the unattended governance pass: supersede stale
// decisions whose provenance now backs different text, auto-approve
// eligible pending items, then enforce the pending caps. batchApprove
// approves every pending item regardless of confidence and scope.
func (w *Workflow) AutoDecide(ctx context.Context, now time.Time, batchApprove bool) (*Result, error) {
	res := &Result{}

	if err := w.supersedePass(ctx, now, res); err != nil {
		return res, err
	}
	if err := w.approvePass(ctx, now, batchApprove, res); err != nil {
		return res, err
	}
	if err := w.enforceCaps(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

// autoApprovable reports whether an item may be approved without a human.
// Personal-scope items always wait for an explicit decision.
func (w *Workflow) autoApprovable(confidence float64, scope domain.Scope, batchApprove bool) bool {
	if batchApprove {
		return true
	}
	return confidence >= w.cfg.AutoApproveThreshold && scope == domain.ScopeTeam
}

func (w *Workflow) approvePass(ctx context.Context, now time.Time, batchApprove bool, res *Result) error {
	rules, err := w.rules.ListByStatus(ctx, w.db, domain.StatusPending)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if !w.autoApprovable(rule.Confidence, rule.Scope, batchApprove) {
			continue
		}
		if err := w.decideRule(ctx, rule.ID, domain.StatusApproved, now, "auto-approved"); err != nil {
			return err
		}
		rule.Status = domain.StatusApproved
		decided := now
		rule.DecidedAt = &decided
		res.ApprovedRules = append(res.ApprovedRules, rule)
	}

	cmds, err := w.commands.ListByStatus(ctx, w.db, domain.StatusPending)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if !w.autoApprovable(cmd.Confidence, cmd.Scope, batchApprove) {
			continue
		}
		if err := w.decideCommand(ctx, cmd.ID, domain.StatusApproved, now, "auto-approved"); err != nil {
			return err
		}
		cmd.Status = domain.StatusApproved
		decided := now
		cmd.DecidedAt = &decided
		res.ApprovedCommands = append(res.ApprovedCommands, cmd)
	}
	return nil
}

// supersedePass retires decided rules and commands whose provenance
// overlaps a pending candidate with materially different content. The old
// decision is kept as superseded, never deleted.
func (w *Workflow) supersedePass(ctx context.Context, now time.Time, res *Result) error {
	if err := w.supersedeRules(ctx, now, res); err != nil {
		return err
	}
	return w.supersedeCommands(ctx, now, res)
}

func (w *Workflow) supersedeRules(ctx context.Context, now time.Time, res *Result) error {
	all, err := w.rules.ListAll(ctx, w.db)
	if err != nil {
		return err
	}

	var pending, decided []domain.Rule
	for _, r := range all {
		switch r.Status {
		case domain.StatusPending:
			pending = append(pending, r)
		case domain.StatusApproved, domain.StatusRejected:
			decided = append(decided, r)
		}
	}

	for _, old := range decided {
		for _, newer := range pending {
			if !overlaps(old.SourcePatternIDs, newer.SourcePatternIDs) {
				continue
			}
			if !materiallyDifferent(old.Text, newer.Text) {
				continue
			}
			if err := w.decideRule(ctx, old.ID, domain.StatusSuperseded, now, "superseded by "+newer.ID); err != nil {
				return err
			}
			res.Superseded++
			w.log.Info("rule superseded",
				zap.String("old", old.ID),
				zap.String("new", newer.ID))
			break
		}
	}
	return nil
}

func (w *Workflow) supersedeCommands(ctx context.Context, now time.Time, res *Result) error {
	all, err := w.commands.ListAll(ctx, w.db)
	if err != nil {
		return err
	}

	var pending, decided []domain.CommandCandidate
	for _, c := range all {
		switch c.Status {
		case domain.StatusPending:
			pending = append(pending, c)
		case domain.StatusApproved, domain.StatusRejected:
			decided = append(decided, c)
		}
	}

	for _, old := range decided {
		for _, newer := range pending {
			if old.ID == newer.ID {
				continue
			}
			if !overlaps(old.SourcePatternIDs, newer.SourcePatternIDs) {
				continue
			}
			if !materiallyDifferent(old.Body, newer.Body) {
				continue
			}
			if err := w.decideCommand(ctx, old.ID, domain.StatusSuperseded, now, "superseded by "+newer.ID); err != nil {
				return err
			}
			res.Superseded++
			w.log.Info("command superseded",
				zap.String("old", old.ID),
				zap.String("new", newer.ID))
			break
		}
	}
	return nil
}

// enforceCaps evicts lowest-confidence pending items, oldest first on
// ties, until the pending counts fit the configured caps.
func (w *Workflow) enforceCaps(ctx context.Context, res *Result) error {
	rules, err := w.rules.ListByStatus(ctx, w.db, domain.StatusPending)
	if err != nil {
		return err
	}
	for _, rule := range evictionOrder(len(rules), w.cfg.MaxPendingRules, rules, func(r domain.Rule) (float64, time.Time) {
		return r.Confidence, r.CreatedAt
	}) {
		if err := w.rules.Delete(ctx, w.db, rule.ID); err != nil {
			return err
		}
		if err := w.audit.Append(ctx, w.db, rule.ID, ItemRule, "evicted", "pending cap exceeded"); err != nil {
			return err
		}
		res.Evicted++
	}

	cmds, err := w.commands.ListByStatus(ctx, w.db, domain.StatusPending)
	if err != nil {
		return err
	}
	for _, cmd := range evictionOrder(len(cmds), w.cfg.MaxAutoCommands, cmds, func(c domain.CommandCandidate) (float64, time.Time) {
		return c.Confidence, c.CreatedAt
	}) {
		if err := w.commands.Delete(ctx, w.db, cmd.ID); err != nil {
			return err
		}
		if err := w.audit.Append(ctx, w.db, cmd.ID, ItemCommand, "evicted", "pending cap exceeded"); err != nil {
			return err
		}
		res.Evicted++
	}
	return nil
}

// evictionOrder returns the items to drop so that at most cap remain,
// lowest confidence first, oldest CreatedAt breaking ties.
func evictionOrder[T any](n, limit int, items []T, key func(T) (float64, time.Time)) []T {
	if limit <= 0 || n <= limit {
		return nil
	}
	sorted := append([]T(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, ti := key(sorted[i])
		cj, tj := key(sorted[j])
		if ci != cj {
			return ci < cj
		}
		return ti.Before(tj)
	})
	return sorted[:n-limit]
}

// Approve applies an explicit approval to the rule or command with the
// given id. Returns the item type that was decided.
func (w *Workflow) Approve(ctx context.Context, id string, now time.Time) (string, error) {
	return w.decide(ctx, id, domain.StatusApproved, now, "approved by operator")
}

// Reject applies an explicit rejection. The item is kept as a negative
// cache so the generator will not re-propose it during the cooldown.
func (w *Workflow) Reject(ctx context.Context, id string, now time.Time) (string, error) {
	return w.decide(ctx, id, domain.StatusRejected, now, "rejected by operator")
}

func (w *Workflow) decide(ctx context.Context, id string, to domain.Status, now time.Time, detail string) (string, error) {
	if _, err := w.rules.Get(ctx, w.db, id); err == nil {
		return ItemRule, w.decideRule(ctx, id, to, now, detail)
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if _, err := w.commands.Get(ctx, w.db, id); err == nil {
		return ItemCommand, w.decideCommand(ctx, id, to, now, detail)
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (w *Workflow) decideRule(ctx context.Context, id string, to domain.Status, now time.Time, detail string) error {
	rule, err := w.rules.Get(ctx, w.db, id)
	if err != nil {
		return err
	}
	if !canTransition(rule.Status, to) {
		return fmt.Errorf("%w: rule %s is %s, cannot become %s", ErrInvalidTransition, id, rule.Status, to)
	}
	if err := w.rules.UpdateStatus(ctx, w.db, id, to, now); err != nil {
		return err
	}
	return w.audit.Append(ctx, w.db, id, ItemRule, string(to), detail)
}

func (w *Workflow) decideCommand(ctx context.Context, id string, to domain.Status, now time.Time, detail string) error {
	cmd, err := w.commands.Get(ctx, w.db, id)
	if err != nil {
		return err
	}
	if !canTransition(cmd.Status, to) {
		return fmt.Errorf("%w: command %s is %s, cannot become %s", ErrInvalidTransition, id, cmd.Status, to)
	}
	if err := w.commands.UpdateStatus(ctx, w.db, id, to, now); err != nil {
		return err
	}
	return w.audit.Append(ctx, w.db, id, ItemCommand, string(to), detail)
}

// PendingRules lists the rules awaiting a decision, stable order.
func (w *Workflow) PendingRules(ctx context.Context) ([]domain.Rule, error) {
	return w.rules.ListByStatus(ctx, w.db, domain.StatusPending)
}

// PendingCommands lists the command candidates awaiting a decision.
func (w *Workflow) PendingCommands(ctx context.Context) ([]domain.CommandCandidate, error) {
	return w.commands.ListByStatus(ctx, w.db, domain.StatusPending)
}

// ApprovedRules lists the rules eligible for document merge.
func (w *Workflow) ApprovedRules(ctx context.Context) ([]domain.Rule, error) {
	return w.rules.ListByStatus(ctx, w.db, domain.StatusApproved)
}

// ApprovedCommands lists the commands eligible for materialization.
func (w *Workflow) ApprovedCommands(ctx context.Context) ([]domain.CommandCandidate, error) {
	return w.commands.ListByStatus(ctx, w.db, domain.StatusApproved)
}

// CountRules returns the number of rules in the given status.
func (w *Workflow) CountRules(ctx context.Context, status domain.Status) (int, error) {
	return w.rules.CountByStatus(ctx, w.db, status)
}

// CountCommands returns the number of command candidates in the given
// status.
func (w *Workflow) CountCommands(ctx context.Context, status domain.Status) (int, error) {
	return w.commands.CountByStatus(ctx, w.db, status)
}

// AuditTrail returns the decision history for one item.
func (w *Workflow) AuditTrail(ctx context.Context, id string) ([]domain.AuditRecord, error) {
	return w.audit.ListByItem(ctx, w.db, id)
}

func overlaps(a, b []string) bool {
	set := map[string]bool{}
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if set[id] {
			return true
		}
	}
	return false
}

// materiallyDifferent compares normalized text so whitespace or casing
// changes never trigger a supersede.
func materiallyDifferent(a, b string) bool {
	return domain.NormalizeText(a) != domain.NormalizeText(b)
}
