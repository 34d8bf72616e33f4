// Package generate derives rule and command candidates from pattern
// aggregates that cross the configured thresholds.
package generate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulecrafter/internal/classify"
	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
	"github.com/fyrsmithlabs/rulecrafter/internal/store"
)

// ErrGeneration marks a per-candidate synthesis failure. The failing
// candidate is skipped and counted; the batch continues.
var ErrGeneration = errors.New("candidate generation failed")

// minSequenceSessions is the distinct-session floor for command mining.
const minSequenceSessions = 2

// dominantShare is the fraction of file-change activity one language must
// hold before a technology rule is proposed.
const dominantShare = 0.3

// Config carries the generation thresholds.
type Config struct {
	ErrorThreshold      int
	CommandThreshold    int
	SequenceThreshold   int
	ConfidenceThreshold float64
	Cooldown            time.Duration

	// CategoryEnabled gates generation per category. Nil enables all.
	CategoryEnabled func(domain.Category) bool
}

// Result is the outcome of one generation pass.
type Result struct {
	Rules    []domain.Rule
	Commands []domain.CommandCandidate

	// Suppressed counts candidates withheld by the rejected-cooldown cache.
	Suppressed int

	// Failed counts per-candidate errors that were skipped.
	Failed int
}

// Generator turns a pattern snapshot into persisted pending candidates.
type Generator struct {
	db       *sql.DB
	rules    *store.RuleRepo
	commands *store.CommandRepo
	log      *logging.Logger
	cfg      Config
}

func New(db *sql.DB, log *logging.Logger, cfg Config) *Generator {
	return &Generator{
		db:       db,
		rules:    &store.RuleRepo{},
		commands: &store.CommandRepo{},
		log:      log.Named("generate"),
		cfg:      cfg,
	}
}

// Generate walks the snapshot and emits rule and command candidates,
// persisting each as pending (or refreshing the stored copy). Candidates
// whose id is rejected within the cooldown window are suppressed. A failure
// on one candidate never aborts the pass.
func (g *Generator) Generate(ctx context.Context, snapshot []domain.PatternRecord, now time.Time) (*Result, error) {
	res := &Result{}
	fileTotal := 0
	for i := range snapshot {
		if snapshot[i].Class == domain.ClassFile {
			fileTotal += snapshot[i].OccurrenceCount
		}
	}

	for i := range snapshot {
		rec := &snapshot[i]
		if err := ctx.Err(); err != nil {
			return res, err
		}

		decision := classify.Classify(rec)
		if g.cfg.CategoryEnabled != nil && !g.cfg.CategoryEnabled(decision.Category) {
			continue
		}

		var err error
		switch rec.Class {
		case domain.ClassSequence:
			err = g.emitCommand(ctx, rec, decision, now, res)
		default:
			err = g.emitRule(ctx, rec, decision, fileTotal, now, res)
		}
		if err != nil {
			res.Failed++
			g.log.Warn("skipping candidate",
				zap.String("pattern", rec.ID()),
				zap.Error(fmt.Errorf("%w: %v", ErrGeneration, err)))
		}
	}
	return res, nil
}

func (g *Generator) emitRule(ctx context.Context, rec *domain.PatternRecord, decision classify.Decision, fileTotal int, now time.Time, res *Result) error {
	text, ok := g.ruleText(rec, fileTotal)
	if !ok {
		return nil
	}

	rule := domain.Rule{
		ID:               domain.RuleID(text, decision.Scope),
		Text:             text,
		Scope:            decision.Scope,
		Category:         decision.Category,
		SourcePatternIDs: []string{rec.ID()},
		Confidence:       rec.Confidence,
		Status:           domain.StatusPending,
		CreatedAt:        now,
	}

	existing, err := g.rules.Get(ctx, g.db, rule.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if existing != nil {
		if g.suppressed(existing.Status, existing.DecidedAt, now) {
			res.Suppressed++
			return nil
		}
		refreshRule(&rule, existing)
	}
	if err := g.rules.Upsert(ctx, g.db, rule); err != nil {
		return err
	}
	res.Rules = append(res.Rules, rule)
	return nil
}

// ruleText picks the template for a rule-bearing aggregate. A false return
// means the aggregate is below threshold or has no template; that is not an
// error.
func (g *Generator) ruleText(rec *domain.PatternRecord, fileTotal int) (string, bool) {
	switch rec.Class {
	case domain.ClassError:
		if rec.OccurrenceCount < g.cfg.ErrorThreshold || rec.Confidence < g.cfg.ConfidenceThreshold {
			return "", false
		}
		text := errorRuleText(rec.Identity)
		return text, text != ""

	case domain.ClassSlashCommand:
		if rec.OccurrenceCount < g.cfg.CommandThreshold || rec.Confidence < g.cfg.ConfidenceThreshold {
			return "", false
		}
		text := workflowRules[rec.Identity]
		return text, text != ""

	case domain.ClassFile:
		if fileTotal < g.cfg.CommandThreshold {
			return "", false
		}
		if float64(rec.OccurrenceCount)/float64(fileTotal) <= dominantShare {
			return "", false
		}
		text := techRules[languageForExt(rec.Identity)]
		return text, text != ""

	case domain.ClassVCS:
		if rec.OccurrenceCount < g.cfg.CommandThreshold || rec.Confidence < g.cfg.ConfidenceThreshold {
			return "", false
		}
		text := vcsRuleText(rec.Identity)
		return text, text != ""
	}
	return "", false
}

func (g *Generator) emitCommand(ctx context.Context, rec *domain.PatternRecord, decision classify.Decision, now time.Time, res *Result) error {
	if rec.SessionsSeen < minSequenceSessions ||
		rec.OccurrenceCount < g.cfg.SequenceThreshold ||
		rec.Confidence < g.cfg.ConfidenceThreshold {
		return nil
	}
	if len(rec.Examples) == 0 {
		return fmt.Errorf("sequence %s has no recorded steps", rec.Identity)
	}

	var steps []string
	if err := json.Unmarshal([]byte(rec.Examples[len(rec.Examples)-1]), &steps); err != nil {
		return fmt.Errorf("decode sequence steps: %w", err)
	}
	name := commandName(steps)
	if name == "" {
		return fmt.Errorf("sequence %s yields no usable command name", rec.Identity)
	}

	name, err := g.resolveNameCollision(ctx, name, rec.Identity)
	if err != nil {
		return err
	}

	cmd := domain.CommandCandidate{
		ID:               rec.Identity,
		CommandName:      name,
		Body:             commandBody(name, steps, decision.Category),
		Scope:            decision.Scope,
		Category:         decision.Category,
		SourcePatternIDs: []string{rec.ID()},
		Confidence:       rec.Confidence,
		Status:           domain.StatusPending,
		CreatedAt:        now,
	}

	existing, err := g.commands.Get(ctx, g.db, cmd.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if existing != nil {
		if g.suppressed(existing.Status, existing.DecidedAt, now) {
			res.Suppressed++
			return nil
		}
		refreshCommand(&cmd, existing)
	}
	if err := g.commands.Upsert(ctx, g.db, cmd); err != nil {
		return err
	}
	res.Commands = append(res.Commands, cmd)
	return nil
}

// resolveNameCollision keeps command names unique: when a different
// sequence already owns the name, a short piece of the sequence id is
// appended.
func (g *Generator) resolveNameCollision(ctx context.Context, name, id string) (string, error) {
	existing, err := g.commands.GetByName(ctx, g.db, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return name, nil
		}
		return "", err
	}
	if existing.ID == id {
		return name, nil
	}
	suffix := id
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return name + "_" + suffix, nil
}

// suppressed reports whether an existing decision blocks regeneration.
// Rejected ids stay suppressed for the cooldown window, measured from the
// decision time.
func (g *Generator) suppressed(status domain.Status, decidedAt *time.Time, now time.Time) bool {
	if status != domain.StatusRejected {
		return false
	}
	if decidedAt == nil {
		return true
	}
	return now.Sub(*decidedAt) < g.cfg.Cooldown
}

// refreshRule carries forward the identity of the stored copy so a refresh
// updates confidence and provenance without resetting lifecycle state.
// A rejected rule past its cooldown re-enters the queue as pending.
func refreshRule(rule *domain.Rule, existing *domain.Rule) {
	rule.CreatedAt = existing.CreatedAt
	rule.SourcePatternIDs = mergeProvenance(existing.SourcePatternIDs, rule.SourcePatternIDs)
	if existing.Status != domain.StatusRejected {
		rule.Status = existing.Status
		rule.DecidedAt = existing.DecidedAt
	}
}

func refreshCommand(cmd *domain.CommandCandidate, existing *domain.CommandCandidate) {
	cmd.CreatedAt = existing.CreatedAt
	cmd.SourcePatternIDs = mergeProvenance(existing.SourcePatternIDs, cmd.SourcePatternIDs)
	if existing.Status != domain.StatusRejected {
		cmd.Status = existing.Status
		cmd.DecidedAt = existing.DecidedAt
	}
}

func mergeProvenance(a, b []string) []string {
	set := map[string]bool{}
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		set[id] = true
	}
	merged := make([]string, 0, len(set))
	for id := range set {
		merged = append(merged, id)
	}
	sort.Strings(merged)
	return merged
}

func languageForExt(ext string) string {
	switch ext {
	case "ts", "tsx":
		return "typescript"
	case "js", "jsx":
		return "javascript"
	case "py":
		return "python"
	case "go":
		return "go"
	}
	return ""
}
