package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulecrafter/internal/event"
	"github.com/fyrsmithlabs/rulecrafter/internal/ignore"
	"github.com/fyrsmithlabs/rulecrafter/internal/watch"
)

// rawEventJSON is the wire form accepted on stdin, one JSON object per
// line.
type rawEventJSON struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Tool      string    `json:"tool,omitempty"`
	Args      []string  `json:"args,omitempty"`
	Output    string    `json:"output,omitempty"`
	Path      string    `json:"path,omitempty"`
	Diff      string    `json:"diff,omitempty"`
	Commit    string    `json:"commit,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

func (r rawEventJSON) raw() event.RawEvent {
	return event.RawEvent{
		Kind:      r.Kind,
		SessionID: r.SessionID,
		Timestamp: r.Timestamp,
		Tool:      r.Tool,
		Args:      r.Args,
		Output:    r.Output,
		Path:      r.Path,
		Diff:      r.Diff,
		Commit:    r.Commit,
		Summary:   r.Summary,
	}
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fold events from stdin into the pattern store",
	Long: `Read JSON events from stdin, one object per line, and fold them
into the pattern store. Periodic analysis fires after every configured
number of events, counted across invocations, and a session_ended event
triggers a consolidation batch run before exit. Intended to be wired into
assistant lifecycle hooks.

Malformed events are dropped and counted; this command never fails the
calling hook because of bad input.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the ingestion worker for a whole session",
	Long: `Long-running ingestion: reads JSON events from stdin until EOF
while watching the repository for new commits. Periodic analysis runs
after every configured number of events, plus a final consolidation run
at session end.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("repo", ".", "repository to watch for commits")
	watchCmd.Flags().String("session", "", "session id for watcher-emitted events")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	matcher := ignore.NewMatcher(a.cfg.Analysis.ExcludePatterns)
	folder := a.engine.Patterns()

	sessionEnded := false
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw rawEventJSON
		if err := json.Unmarshal(line, &raw); err != nil {
			a.log.Warn("dropping undecodable event", zap.Error(err))
			continue
		}
		ev, err := event.Normalize(raw.raw())
		if err != nil {
			a.log.Warn("dropping malformed event", zap.Error(err))
			continue
		}
		if ev.Kind == event.KindFileChanged && matcher.Matches(ev.Payload.FilePath) {
			continue
		}
		if err := folder.Fold(ctx, ev); err != nil {
			a.log.Warn("fold failed, event dropped", zap.Error(err))
			continue
		}
		if ev.Kind == event.KindSessionEnded {
			sessionEnded = true
			continue
		}

		// The every-N schedule spans hook invocations: the counter is
		// persisted, and any batch run resets it.
		due, err := a.engine.NoteIngested(ctx)
		if err != nil {
			a.log.Warn("ingest counter update failed", zap.Error(err))
			continue
		}
		if due {
			sum, err := a.engine.RunBatch(ctx, string(event.TriggerPeriodic), false)
			if err != nil {
				a.log.Warn("periodic batch failed", zap.Error(err))
				continue
			}
			reportConflicts(sum.Conflicts)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	if sessionEnded {
		sum, err := a.engine.RunBatch(ctx, string(event.TriggerSessionEnd), false)
		if err != nil {
			return err
		}
		reportConflicts(sum.Conflicts)
	}
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	repo, _ := cmd.Flags().GetString("repo")
	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		sessionID = fmt.Sprintf("watch-%d", os.Getpid())
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	matcher := ignore.NewMatcher(a.cfg.Analysis.ExcludePatterns)
	ing := event.NewIngestor(a.engine.Patterns(), a.log, event.IngestorOptions{
		QueueSize:     a.cfg.Ingest.QueueSize,
		SubmitTimeout: a.cfg.Ingest.SubmitTimeout,
		Frequency:     a.cfg.Analysis.PatternAnalysisFrequency,
		Exclude:       matcher.Matches,
		OnTrigger: func(trigger event.Trigger, _, _ string) {
			if _, err := a.engine.RunBatch(ctx, string(trigger), false); err != nil {
				a.log.Warn("batch run failed", zap.Error(err))
			}
		},
	})
	a.engine.SetStatsSource(ing.Stats)
	ing.Start(ctx)
	defer ing.Close()

	if gw, err := watch.NewGitWatcher(repo, sessionID, ing, a.log); err != nil {
		a.log.Warn("git watching disabled", zap.Error(err))
	} else if err := gw.Start(ctx); err != nil {
		a.log.Warn("git watching disabled", zap.Error(err))
		gw.Stop()
	} else {
		defer gw.Stop()
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw rawEventJSON
		if err := json.Unmarshal(line, &raw); err != nil {
			a.log.Warn("dropping undecodable event", zap.Error(err))
			continue
		}
		ing.Submit(ctx, raw.raw())
	}
	if err := scanner.Err(); err != nil {
		a.log.Warn("stdin closed with error", zap.Error(err))
	}

	// Drain, then run a final consolidation pass.
	ing.Close()
	sum, err := a.engine.RunBatch(context.WithoutCancel(ctx), string(event.TriggerSessionEnd), false)
	if err != nil {
		return err
	}
	reportConflicts(sum.Conflicts)

	stats := ing.Stats()
	a.log.Info("session ingestion finished",
		zap.Uint64("ingested", stats.Ingested),
		zap.Uint64("malformed", stats.Malformed),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("excluded", stats.Excluded))
	return nil
}
