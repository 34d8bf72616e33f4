// Package engine orchestrates the batch pipeline: pattern snapshot,
// candidate generation, governance decisions, and document merges.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/rulecrafter/internal/approval"
	"github.com/fyrsmithlabs/rulecrafter/internal/config"
	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
	"github.com/fyrsmithlabs/rulecrafter/internal/event"
	"github.com/fyrsmithlabs/rulecrafter/internal/generate"
	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
	"github.com/fyrsmithlabs/rulecrafter/internal/memdoc"
	"github.com/fyrsmithlabs/rulecrafter/internal/pattern"
	"github.com/fyrsmithlabs/rulecrafter/internal/store"
)

// Summary reports one batch run. Best effort, partial success: every
// skipped or failed item shows up in a count or message here.
type Summary struct {
	Trigger string

	// Patterns is the snapshot size; NewPatterns counts aggregates touched
	// since the previous batch run.
	Patterns    int
	NewPatterns int

	GeneratedRules    int
	GeneratedCommands int
	ApprovedRules     int
	ApprovedCommands  int
	CreatedCommands   int
	Superseded        int
	Evicted           int
	Suppressed        int
	FailedCandidates  int
	PrunedPatterns    int64

	// Conflicts lists managed-block lines kept against human edits.
	Conflicts []string

	// Errors lists per-step failures that did not abort the run.
	Errors []string

	DroppedEvents uint64
}

// ingestCounterName keys the persistent events-since-batch counter.
const ingestCounterName = "events_since_batch"

// Engine wires the pipeline components over one shared store.
type Engine struct {
	db       *sql.DB
	log      *logging.Logger
	cfg      config.Config
	rules    *store.RuleRepo
	counters *store.CounterRepo

	patterns  *pattern.Store
	generator *generate.Generator
	workflow  *approval.Workflow
	merger    *memdoc.Merger
	router    *memdoc.Router
	cmdWriter *memdoc.CommandWriter

	// Per-document merge locks. Weighted semaphores rather than plain
	// mutexes so a waiting batch still honors its time budget; the waiter
	// re-reads the approved set once it holds the lock.
	lockMu sync.Mutex
	locks  map[string]*semaphore.Weighted

	// statsFn reports ingestion stats into the summary when set.
	statsFn func() event.Stats

	mu      sync.Mutex
	lastRun time.Time
}

// New builds an engine over an open database.
func New(db *sql.DB, log *logging.Logger, cfg config.Config) *Engine {
	return &Engine{
		db:        db,
		log:       log.Named("engine"),
		cfg:       cfg,
		rules:     &store.RuleRepo{},
		counters:  &store.CounterRepo{},
		locks:     make(map[string]*semaphore.Weighted),
		patterns:  pattern.NewStore(db, log, cfg.Storage.RetentionDays),
		generator: generate.New(db, log, generatorConfig(cfg)),
		workflow: approval.New(db, log, approval.Config{
			AutoApproveThreshold: cfg.Approval.AutoApproveThreshold,
			MaxPendingRules:      cfg.Approval.MaxPendingRules,
			MaxAutoCommands:      cfg.Approval.MaxAutoCommands,
		}),
		merger:    memdoc.NewMerger(log),
		router:    memdoc.NewRouter(cfg.Documents.ProjectDoc, cfg.Documents.UserDoc),
		cmdWriter: memdoc.NewCommandWriter(cfg.Documents.CommandsDir, log),
	}
}

func generatorConfig(cfg config.Config) generate.Config {
	return generate.Config{
		ErrorThreshold:      cfg.Analysis.ErrorThreshold,
		CommandThreshold:    cfg.Analysis.CommandThreshold,
		SequenceThreshold:   cfg.Analysis.SequenceThreshold,
		ConfidenceThreshold: cfg.Analysis.ConfidenceThreshold,
		Cooldown: time.Duration(cfg.Approval.CooldownDays) * 24 * time.Hour,
		CategoryEnabled: func(c domain.Category) bool {
			return cfg.Analysis.CategoryIsEnabled(string(c))
		},
	}
}

// Patterns exposes the pattern store as the ingestion fold target.
func (e *Engine) Patterns() *pattern.Store {
	return e.patterns
}

// Workflow exposes the governance surface for the CLI.
func (e *Engine) Workflow() *approval.Workflow {
	return e.workflow
}

// SetStatsSource wires the ingestor's counters into batch summaries.
func (e *Engine) SetStatsSource(fn func() event.Stats) {
	e.statsFn = fn
}

// NoteIngested bumps the persistent events-since-batch counter and reports
// whether the periodic trigger is due. The counter lives in the store so
// the every-N schedule holds across short-lived hook invocations that each
// see only a few events.
func (e *Engine) NoteIngested(ctx context.Context) (bool, error) {
	n, err := e.counters.Increment(ctx, e.db, ingestCounterName)
	if err != nil {
		return false, err
	}
	return n >= int64(e.cfg.Analysis.PatternAnalysisFrequency), nil
}

// RunBatch executes one analysis pass. batchApprove approves every pending
// item regardless of confidence; the force-analyze surface uses it.
// A per-step failure is recorded and the pass continues; only a snapshot
// failure aborts.
func (e *Engine) RunBatch(ctx context.Context, trigger string, batchApprove bool) (*Summary, error) {
	if e.cfg.Analysis.BatchTimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Analysis.BatchTimeBudget)
		defer cancel()
	}

	now := time.Now().UTC()
	sum := &Summary{Trigger: trigger}

	e.mu.Lock()
	since := e.lastRun
	e.lastRun = now
	e.mu.Unlock()

	// Any batch restarts the every-N schedule.
	if err := e.counters.Reset(ctx, e.db, ingestCounterName); err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("reset ingest counter: %v", err))
	}

	snapshot, err := e.patterns.Snapshot(ctx)
	if err != nil {
		return sum, fmt.Errorf("pattern snapshot: %w", err)
	}
	sum.Patterns = len(snapshot)
	for i := range snapshot {
		if since.IsZero() || snapshot[i].LastSeen.After(since) {
			sum.NewPatterns++
		}
	}

	genRes, err := e.generator.Generate(ctx, snapshot, now)
	if genRes != nil {
		sum.GeneratedRules = len(genRes.Rules)
		sum.GeneratedCommands = len(genRes.Commands)
		sum.Suppressed = genRes.Suppressed
		sum.FailedCandidates = genRes.Failed
	}
	if err != nil {
		// Generated candidates up to this point are already persisted.
		sum.Errors = append(sum.Errors, fmt.Sprintf("generation aborted: %v", err))
		e.finish(sum)
		return sum, nil
	}

	appRes, err := e.workflow.AutoDecide(ctx, now, batchApprove)
	if appRes != nil {
		sum.ApprovedRules = len(appRes.ApprovedRules)
		sum.ApprovedCommands = len(appRes.ApprovedCommands)
		sum.Superseded = appRes.Superseded
		sum.Evicted = appRes.Evicted
	}
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("approval aborted: %v", err))
		e.finish(sum)
		return sum, nil
	}

	e.mergeDocuments(ctx, sum)
	e.writeCommands(ctx, sum)

	if pruned, err := e.patterns.Sweep(ctx, now); err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("retention sweep: %v", err))
	} else {
		sum.PrunedPatterns = pruned
	}

	e.finish(sum)
	e.log.Info("batch run complete",
		zap.String("trigger", trigger),
		zap.Int("patterns", sum.Patterns),
		zap.Int("generated_rules", sum.GeneratedRules),
		zap.Int("approved_rules", sum.ApprovedRules),
		zap.Int("created_commands", sum.CreatedCommands),
		zap.Int("errors", len(sum.Errors)))
	return sum, nil
}

// mergeDocuments routes the full approved set into the project and user
// documents. Each document merge runs under a per-path lock and fails
// independently of the other.
func (e *Engine) mergeDocuments(ctx context.Context, sum *Summary) {
	for _, path := range e.router.Targets() {
		warnings, err := e.mergeOne(ctx, path)
		if err != nil {
			sum.Errors = append(sum.Errors, err.Error())
			continue
		}
		for _, warn := range warnings {
			sum.Conflicts = append(sum.Conflicts,
				fmt.Sprintf("%s: line %s no longer matches an approved rule", path, warn.ID))
		}
	}
}

// mergeOne merges the approved rules routed to one document. The approved
// set and the canonical texts are read inside the lock, so a run that
// waited behind another always applies the latest decisions, including its
// own.
func (e *Engine) mergeOne(ctx context.Context, path string) ([]memdoc.Warning, error) {
	lock := e.pathLock(path)
	if err := lock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("merge %s: %w", path, err)
	}
	defer lock.Release(1)

	approvedRules, err := e.workflow.ApprovedRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list approved rules: %w", err)
	}
	var items []memdoc.Item
	for _, rule := range approvedRules {
		if e.router.Route(rule.Scope) != path {
			continue
		}
		items = append(items, memdoc.Item{
			ID:       rule.ID,
			Text:     rule.Text,
			Category: rule.Category,
		})
	}

	knownText, err := e.knownRuleText(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rule texts: %w", err)
	}
	return e.merger.MergeFile(path, items, knownText)
}

func (e *Engine) pathLock(path string) *semaphore.Weighted {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	l, ok := e.locks[path]
	if !ok {
		l = semaphore.NewWeighted(1)
		e.locks[path] = l
	}
	return l
}

// writeCommands materializes every approved command candidate as a file.
func (e *Engine) writeCommands(ctx context.Context, sum *Summary) {
	cmds, err := e.workflow.ApprovedCommands(ctx)
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("list approved commands: %v", err))
		return
	}
	created, err := e.cmdWriter.Write(cmds)
	sum.CreatedCommands = created
	if err != nil {
		sum.Errors = append(sum.Errors, err.Error())
	}
}

// knownRuleText maps every stored rule id to its canonical text so the
// merger can tell machine-written lines from human edits.
func (e *Engine) knownRuleText(ctx context.Context) (map[string]string, error) {
	all, err := e.rules.ListAll(ctx, e.db)
	if err != nil {
		return nil, err
	}
	known := make(map[string]string, len(all))
	for _, rule := range all {
		known[rule.ID] = rule.Text
	}
	return known, nil
}

func (e *Engine) finish(sum *Summary) {
	if e.statsFn != nil {
		sum.DroppedEvents = e.statsFn().Dropped
	}
}

// Pending returns the items awaiting an explicit decision, for the
// command surface.
func (e *Engine) Pending(ctx context.Context) ([]domain.Rule, []domain.CommandCandidate, error) {
	rules, err := e.workflow.PendingRules(ctx)
	if err != nil {
		return nil, nil, err
	}
	cmds, err := e.workflow.PendingCommands(ctx)
	if err != nil {
		return nil, nil, err
	}
	return rules, cmds, nil
}
