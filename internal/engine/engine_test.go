package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rulecrafter/internal/config"
	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
	"github.com/fyrsmithlabs/rulecrafter/internal/event"
	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
	"github.com/fyrsmithlabs/rulecrafter/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "rulecrafter.db")
	cfg.Documents.ProjectDoc = filepath.Join(dir, "CLAUDE.md")
	cfg.Documents.UserDoc = filepath.Join(dir, "user", "CLAUDE.md")
	cfg.Documents.CommandsDir = filepath.Join(dir, "commands")
	cfg.Analysis.SequenceThreshold = 2

	db, err := store.Open(cfg.Storage.Path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, logging.NewNop(), cfg), cfg
}

func foldErrors(t *testing.T, e *Engine, signature string, events, sessions int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < events; i++ {
		require.NoError(t, e.Patterns().Fold(ctx, event.Event{
			Kind:      event.KindErrorRaised,
			Timestamp: now,
			SessionID: fmt.Sprintf("s%d", i%sessions),
			Payload: event.Payload{
				ErrorSignature: signature,
				ErrorMessage:   "boom",
			},
		}))
	}
}

func TestRunBatchGeneratesPendingRule(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// 12 identical errors across 4 sessions clears errorThreshold=3 and
	// confidenceThreshold=0.7.
	foldErrors(t, e, "module_not_found:cannot find module 'x'", 12, 4)

	sum, err := e.RunBatch(ctx, "periodic", false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.GeneratedRules)
	assert.Equal(t, 1, sum.Patterns)
	assert.Equal(t, 1, sum.NewPatterns)
	assert.Empty(t, sum.Errors)

	rules, _, err := e.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, domain.StatusPending, rules[0].Status)
	assert.Equal(t, []string{"error:module_not_found:cannot find module 'x'"}, rules[0].SourcePatternIDs)
}

func TestRunBatchAutoApprovesAndMerges(t *testing.T) {
	e, cfg := newTestEngine(t)
	ctx := context.Background()

	// Enough volume to push confidence past the 0.9 auto-approve bar; the
	// signature classifies as team scope.
	foldErrors(t, e, "module_not_found:cannot find module 'y'", 30, 5)

	sum, err := e.RunBatch(ctx, "session_end", false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ApprovedRules)

	data, err := os.ReadFile(cfg.Documents.ProjectDoc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Verify import paths are correct")

	_, err = os.Stat(cfg.Documents.UserDoc)
	assert.True(t, os.IsNotExist(err), "personal document untouched")
}

func TestRunBatchIdempotentMerge(t *testing.T) {
	e, cfg := newTestEngine(t)
	ctx := context.Background()
	foldErrors(t, e, "module_not_found:cannot find module 'z'", 30, 5)

	_, err := e.RunBatch(ctx, "periodic", false)
	require.NoError(t, err)
	first, err := os.ReadFile(cfg.Documents.ProjectDoc)
	require.NoError(t, err)

	_, err = e.RunBatch(ctx, "periodic", false)
	require.NoError(t, err)
	second, err := os.ReadFile(cfg.Documents.ProjectDoc)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestRunBatchNewPatternsResetBetweenRuns(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	foldErrors(t, e, "type_error:something", 4, 2)

	sum, err := e.RunBatch(ctx, "periodic", false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.NewPatterns)

	sum, err = e.RunBatch(ctx, "periodic", false)
	require.NoError(t, err)
	assert.Zero(t, sum.NewPatterns, "no events since the previous run")
	assert.Equal(t, 1, sum.Patterns)
}

func TestRunBatchWritesCommandFiles(t *testing.T) {
	e, cfg := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tools := []string{"edit", "build", "test"}
	for s := 0; s < 3; s++ {
		session := fmt.Sprintf("s%d", s)
		for round := 0; round < 4; round++ {
			for i, tool := range tools {
				require.NoError(t, e.Patterns().Fold(ctx, event.Event{
					Kind:      event.KindToolInvoked,
					Timestamp: now.Add(time.Duration(i) * time.Second),
					SessionID: session,
					Payload:   event.Payload{ToolName: tool},
				}))
			}
		}
	}

	sum, err := e.RunBatch(ctx, "session_end", true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sum.GeneratedCommands, 1)
	assert.GreaterOrEqual(t, sum.CreatedCommands, 1)

	entries, err := os.ReadDir(cfg.Documents.CommandsDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestRunBatchPersonalScopeRoutesToUserDoc(t *testing.T) {
	e, cfg := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// A frequent /lint habit is personal scope; batch approval persists it
	// into the user document only.
	for s := 0; s < 4; s++ {
		for i := 0; i < 3; i++ {
			require.NoError(t, e.Patterns().Fold(ctx, event.Event{
				Kind:      event.KindSessionEnded,
				Timestamp: now,
				SessionID: fmt.Sprintf("s%d-%d", s, i),
				Payload:   event.Payload{Summary: "ran /lint before committing"},
			}))
		}
	}

	sum, err := e.RunBatch(ctx, "session_end", true)
	require.NoError(t, err)
	require.GreaterOrEqual(t, sum.ApprovedRules, 1)

	data, err := os.ReadFile(cfg.Documents.UserDoc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "linting before committing")

	if project, err := os.ReadFile(cfg.Documents.ProjectDoc); err == nil {
		assert.NotContains(t, string(project), "linting before committing")
	}
}

func TestRunBatchConflictSurfacesInSummary(t *testing.T) {
	e, cfg := newTestEngine(t)
	ctx := context.Background()
	foldErrors(t, e, "module_not_found:cannot find module 'w'", 30, 5)

	_, err := e.RunBatch(ctx, "periodic", false)
	require.NoError(t, err)

	// Orphan a human-edited managed line by pointing its id at nothing.
	data, err := os.ReadFile(cfg.Documents.ProjectDoc)
	require.NoError(t, err)
	edited := string(data) + ""
	edited = edited[:len(edited)-len("<!-- rulecrafter:end -->\n")] +
		"- my own note <!-- rc:id:ffffffffffffffff -->\n<!-- rulecrafter:end -->\n"
	require.NoError(t, os.WriteFile(cfg.Documents.ProjectDoc, []byte(edited), 0o644))

	sum, err := e.RunBatch(ctx, "periodic", false)
	require.NoError(t, err)
	require.Len(t, sum.Conflicts, 1)
	assert.Contains(t, sum.Conflicts[0], "ffffffffffffffff")

	after, err := os.ReadFile(cfg.Documents.ProjectDoc)
	require.NoError(t, err)
	assert.Contains(t, string(after), "my own note", "human line never deleted")
}

func TestRunBatchEmptyStore(t *testing.T) {
	e, _ := newTestEngine(t)
	sum, err := e.RunBatch(context.Background(), "periodic", false)
	require.NoError(t, err)
	assert.Zero(t, sum.Patterns)
	assert.Zero(t, sum.GeneratedRules)
	assert.Empty(t, sum.Errors)
}

func TestPeriodicScheduleSpansInvocations(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "rulecrafter.db")
	cfg.Documents.ProjectDoc = filepath.Join(dir, "CLAUDE.md")
	cfg.Documents.UserDoc = filepath.Join(dir, "user", "CLAUDE.md")
	cfg.Documents.CommandsDir = filepath.Join(dir, "commands")
	cfg.Analysis.PatternAnalysisFrequency = 3

	db, err := store.Open(cfg.Storage.Path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	// Two events through one short-lived process.
	first := New(db, logging.NewNop(), cfg)
	due, err := first.NoteIngested(ctx)
	require.NoError(t, err)
	assert.False(t, due)
	due, err = first.NoteIngested(ctx)
	require.NoError(t, err)
	assert.False(t, due)

	// A fresh process over the same store continues the count.
	second := New(db, logging.NewNop(), cfg)
	due, err = second.NoteIngested(ctx)
	require.NoError(t, err)
	assert.True(t, due, "third event crosses the frequency")

	_, err = second.RunBatch(ctx, string(event.TriggerPeriodic), false)
	require.NoError(t, err)

	due, err = second.NoteIngested(ctx)
	require.NoError(t, err)
	assert.False(t, due, "batch run restarts the schedule")
}

func TestWaitingMergeAppliesLatestApprovals(t *testing.T) {
	e, cfg := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	repo := &store.RuleRepo{}

	decided := now
	seed := func(text string) {
		rule := domain.Rule{
			ID:               domain.RuleID(text, domain.ScopeTeam),
			Text:             text,
			Scope:            domain.ScopeTeam,
			Category:         domain.CategoryOther,
			SourcePatternIDs: []string{"error:" + text},
			Confidence:       0.95,
			Status:           domain.StatusApproved,
			CreatedAt:        now,
			DecidedAt:        &decided,
		}
		require.NoError(t, repo.Upsert(ctx, e.db, rule))
	}
	seed("rule approved before the merge started")

	// Hold the document lock so the merge has to wait.
	lock := e.pathLock(cfg.Documents.ProjectDoc)
	require.NoError(t, lock.Acquire(ctx, 1))

	done := make(chan error, 1)
	go func() {
		_, err := e.mergeOne(ctx, cfg.Documents.ProjectDoc)
		done <- err
	}()

	// Approve another rule while the merge is blocked, then let it run.
	time.Sleep(50 * time.Millisecond)
	seed("rule approved while the merge was waiting")
	lock.Release(1)
	require.NoError(t, <-done)

	data, err := os.ReadFile(cfg.Documents.ProjectDoc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rule approved before the merge started")
	assert.Contains(t, string(data), "rule approved while the merge was waiting",
		"waiter reads the approved set after acquiring the lock")
}
