// Package watch observes the project's git directory and turns new
// commits into ingestion events.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulecrafter/internal/event"
	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
)

var (
	// ErrNotGitRepo indicates the directory is not a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrWatcherFailed indicates the filesystem watcher could not start.
	ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")
)

// Submitter receives raw commit observations. Satisfied by the ingestor.
type Submitter interface {
	Submit(ctx context.Context, raw event.RawEvent)
}

// GitWatcher watches logs/HEAD and submits a git_commit_observed event per
// new commit, carrying the commit hash and subject line.
type GitWatcher struct {
	gitDir     string
	sessionID  string
	watcher    *fsnotify.Watcher
	sink       Submitter
	log        *logging.Logger
	stop       chan struct{}
	lastCommit string
}

// NewGitWatcher creates a watcher for the repository at projectPath.
// Worktrees are supported through their .git file indirection.
func NewGitWatcher(projectPath, sessionID string, sink Submitter, log *logging.Logger) (*GitWatcher, error) {
	gitDir, err := detectGitDir(projectPath)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &GitWatcher{
		gitDir:    gitDir,
		sessionID: sessionID,
		watcher:   watcher,
		sink:      sink,
		log:       log.Named("watch"),
		stop:      make(chan struct{}),
	}, nil
}

// Start begins watching. The current tip is recorded first so only commits
// made after Start are reported.
func (w *GitWatcher) Start(ctx context.Context) error {
	if hash, _ := readLastCommit(w.gitDir); hash != "" {
		w.lastCommit = hash
	}

	logsHead := filepath.Join(w.gitDir, "logs", "HEAD")
	if _, err := os.Stat(logsHead); err == nil {
		if err := w.watcher.Add(logsHead); err != nil {
			return fmt.Errorf("watching logs/HEAD: %w", err)
		}
	} else {
		// No reflog yet. Watch the logs directory so the first commit is
		// still observed.
		logsDir := filepath.Dir(logsHead)
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return fmt.Errorf("preparing logs dir: %w", err)
		}
		if err := w.watcher.Add(logsDir); err != nil {
			return fmt.Errorf("watching logs dir: %w", err)
		}
	}

	go w.run(ctx)
	return nil
}

// Stop releases the watcher. Safe to call more than once.
func (w *GitWatcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

func (w *GitWatcher) run(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Base(ev.Name) != "HEAD" {
				continue
			}
			w.checkForCommit(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("git watcher error", zap.Error(err))
		}
	}
}

func (w *GitWatcher) checkForCommit(ctx context.Context) {
	hash, subject := readLastCommit(w.gitDir)
	if hash == "" || hash == w.lastCommit {
		return
	}
	w.lastCommit = hash

	w.log.Debug("commit observed", zap.String("commit", hash))
	w.sink.Submit(ctx, event.RawEvent{
		Kind:      string(event.KindGitCommitObserved),
		SessionID: w.sessionID,
		Timestamp: time.Now().UTC(),
		Commit:    hash,
		Diff:      subject,
	})
}

// readLastCommit parses the final reflog line into the new tip hash and
// the commit subject.
func readLastCommit(gitDir string) (hash, subject string) {
	content, err := os.ReadFile(filepath.Join(gitDir, "logs", "HEAD"))
	if err != nil {
		return "", ""
	}
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return "", ""
	}
	lines := strings.Split(trimmed, "\n")
	last := lines[len(lines)-1]

	meta, message, _ := strings.Cut(last, "\t")
	fields := strings.Fields(meta)
	if len(fields) < 2 {
		return "", ""
	}
	hash = fields[1]

	// Reflog messages look like "commit: subject" or "commit (amend): subject".
	if _, rest, ok := strings.Cut(message, ": "); ok {
		subject = strings.TrimSpace(rest)
	}
	return hash, subject
}

// detectGitDir resolves the git directory for a project, following the
// .git file indirection used by worktrees.
func detectGitDir(projectPath string) (string, error) {
	gitPath := filepath.Join(projectPath, ".git")

	info, err := os.Stat(gitPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotGitRepo, projectPath)
		}
		return "", fmt.Errorf("stat .git: %w", err)
	}
	if info.IsDir() {
		return gitPath, nil
	}

	content, err := os.ReadFile(gitPath)
	if err != nil {
		return "", fmt.Errorf("reading .git file: %w", err)
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(string(content)), "gitdir:")
	dir := strings.TrimSpace(rest)
	if !ok || dir == "" {
		return "", fmt.Errorf("%w: invalid .git file format", ErrNotGitRepo)
	}
	return dir, nil
}
