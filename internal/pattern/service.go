// Package pattern implements the durable pattern store: events fold into
// aggregated statistics with confidence scoring.
package pattern

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
	"github.com/fyrsmithlabs/rulecrafter/internal/event"
	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
	"github.com/fyrsmithlabs/rulecrafter/internal/store"
)

// ErrContention indicates a merge lost the optimistic-concurrency race
// more than maxMergeRetries times. The event is dropped, not retried
// forever: ingestion must never block the host.
var ErrContention = errors.New("store contention: merge retries exhausted")

const (
	// maxMergeRetries bounds optimistic read-modify-write retries.
	maxMergeRetries = 3

	// sequenceLength is the window of consecutive tool steps hashed into
	// one sequence identity.
	sequenceLength = 3

	// maxSessionSteps bounds the per-session step log.
	maxSessionSteps = 200
)

// Store is the pattern aggregate service. It owns PatternRecords
// exclusively; downstream components receive snapshots and hold pattern
// IDs, never live records.
type Store struct {
	db        *sql.DB
	patterns  *store.PatternRepo
	log       *logging.Logger
	retention time.Duration

	// Per-session ordered tool steps for sequence mining. In-memory only:
	// sequences matter within a session, and a crash merely loses the
	// partial window.
	mu    sync.Mutex
	steps map[string][]string
}

// NewStore creates a pattern store over an open database.
func NewStore(db *sql.DB, log *logging.Logger, retentionDays int) *Store {
	return &Store{
		db:        db,
		patterns:  &store.PatternRepo{},
		log:       log.Named("pattern"),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		steps:     make(map[string][]string),
	}
}

// Fold folds one normalized event into the matching aggregate(s),
// creating them if absent. Implements event.Folder.
func (s *Store) Fold(ctx context.Context, ev event.Event) error {
	switch ev.Kind {
	case event.KindToolInvoked, event.KindToolSucceeded:
		example := ev.Payload.ToolName
		if ev.Payload.ArgsDigest != "" {
			example += ":" + ev.Payload.ArgsDigest
		}
		if _, err := s.Merge(ctx, domain.ClassTool, ev.Payload.ToolName, ev.SessionID, ev.Timestamp, example); err != nil {
			return err
		}
		return s.foldStep(ctx, ev, example)

	case event.KindErrorRaised:
		_, err := s.Merge(ctx, domain.ClassError, ev.Payload.ErrorSignature, ev.SessionID, ev.Timestamp, ev.Payload.ErrorMessage)
		return err

	case event.KindFileChanged:
		ext := ev.Payload.FileExt
		if ext == "" {
			ext = "noext"
		}
		_, err := s.Merge(ctx, domain.ClassFile, ext, ev.SessionID, ev.Timestamp, ev.Payload.FilePath)
		return err

	case event.KindGitCommitObserved:
		identity := commitIdentity(ev.Payload.DiffSummary)
		_, err := s.Merge(ctx, domain.ClassVCS, identity, ev.SessionID, ev.Timestamp, ev.Payload.DiffSummary)
		return err

	case event.KindSessionStarted:
		return nil

	case event.KindSessionEnded:
		return s.foldSessionEnd(ctx, ev)
	}
	return nil
}

// foldStep appends a tool step to the session log and, once the window is
// full, folds a sequence aggregate keyed by the ordered step hash.
func (s *Store) foldStep(ctx context.Context, ev event.Event, step string) error {
	s.mu.Lock()
	log := append(s.steps[ev.SessionID], step)
	if len(log) > maxSessionSteps {
		log = log[len(log)-maxSessionSteps:]
	}
	s.steps[ev.SessionID] = log

	var window []string
	if len(log) >= sequenceLength {
		window = append([]string(nil), log[len(log)-sequenceLength:]...)
	}
	s.mu.Unlock()

	if window == nil {
		return nil
	}

	stepsJSON, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("marshal sequence steps: %w", err)
	}
	_, err = s.Merge(ctx, domain.ClassSequence, domain.SequenceID(window), ev.SessionID, ev.Timestamp, string(stepsJSON))
	return err
}

// foldSessionEnd folds slash commands found in the conversation summary and
// clears the session's sequence state.
func (s *Store) foldSessionEnd(ctx context.Context, ev event.Event) error {
	s.mu.Lock()
	delete(s.steps, ev.SessionID)
	s.mu.Unlock()

	var firstErr error
	for _, cmd := range event.ExtractSlashCommands(ev.Payload.Summary) {
		if _, err := s.Merge(ctx, domain.ClassSlashCommand, cmd, ev.SessionID, ev.Timestamp, cmd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Merge folds one occurrence into the (class, identity) aggregate with
// optimistic concurrency, persisting before return. On version conflict it
// reloads and retries up to maxMergeRetries times, then drops the event
// with ErrContention.
func (s *Store) Merge(ctx context.Context, class domain.Class, identity, sessionID string, ts time.Time, example string) (*domain.PatternRecord, error) {
	var lastErr error
	for attempt := 0; attempt < maxMergeRetries; attempt++ {
		rec, err := s.mergeOnce(ctx, class, identity, sessionID, ts, example)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		s.log.Debug("merge conflict, retrying",
			zap.String("class", string(class)),
			zap.String("identity", identity),
			zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("%w: %v", ErrContention, lastErr)
}

func (s *Store) mergeOnce(ctx context.Context, class domain.Class, identity, sessionID string, ts time.Time, example string) (*domain.PatternRecord, error) {
	existing, err := s.patterns.Get(ctx, s.db, class, identity)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	newSession, err := s.patterns.MarkSessionTx(ctx, tx, class, identity, sessionID)
	if err != nil {
		return nil, err
	}

	ts = ts.UTC().Truncate(time.Second)

	var rec domain.PatternRecord
	if existing == nil {
		rec = domain.PatternRecord{
			Class:           class,
			Identity:        identity,
			OccurrenceCount: 1,
			SessionsSeen:    1,
			FirstSeen:       ts,
			LastSeen:        ts,
			Examples:        appendExample(nil, example),
			Version:         1,
		}
		if err := s.patterns.CreateTx(ctx, tx, rec); err != nil {
			return nil, err
		}
	} else {
		rec = *existing
		rec.OccurrenceCount++
		if newSession {
			rec.SessionsSeen++
		}
		if ts.After(rec.LastSeen) {
			rec.LastSeen = ts
		}
		rec.Examples = appendExample(rec.Examples, example)
		if err := s.patterns.UpdateTx(ctx, tx, rec); err != nil {
			return nil, err
		}
		rec.Version++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}

	rec.Confidence = Confidence(&rec)
	return &rec, nil
}

// Snapshot returns all aggregates with derived confidence, sorted by
// confidence descending, then occurrence count descending, then identity
// ascending for a fully deterministic order.
func (s *Store) Snapshot(ctx context.Context) ([]domain.PatternRecord, error) {
	recs, err := s.patterns.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Confidence = Confidence(&recs[i])
	}
	sortSnapshot(recs)
	return recs, nil
}

// Sweep prunes aggregates untouched for longer than the retention window.
// Runs on the batch schedule, never inside a merge.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.patterns.DeleteOlderThan(ctx, s.db, now.Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	if n > 0 {
		s.log.Info("pruned stale patterns", zap.Int64("count", n))
	}
	return n, nil
}

// appendExample keeps at most MaxPatternExamples examples, dropping the
// oldest. Empty and duplicate examples are skipped.
func appendExample(examples []string, example string) []string {
	if example == "" {
		return examples
	}
	for _, e := range examples {
		if e == example {
			return examples
		}
	}
	examples = append(examples, example)
	if len(examples) > domain.MaxPatternExamples {
		examples = examples[len(examples)-domain.MaxPatternExamples:]
	}
	return examples
}

// commitIdentity derives a vcs pattern identity from a commit summary. A
// conventional-commit prefix ("feat: ...") aggregates by convention;
// anything else aggregates as a plain commit observation.
func commitIdentity(summary string) string {
	head, _, ok := strings.Cut(summary, ":")
	if ok {
		head = strings.TrimSpace(strings.ToLower(head))
		// Strip an optional scope like feat(parser).
		if i := strings.IndexByte(head, '('); i > 0 {
			head = head[:i]
		}
		switch head {
		case "feat", "fix", "docs", "style", "refactor", "test", "chore", "build", "ci", "perf":
			return "convention:" + head
		}
	}
	return "commit"
}
