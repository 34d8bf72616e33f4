package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rulecrafter/internal/event"
	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
)

type captureSink struct {
	events chan event.RawEvent
}

func (c *captureSink) Submit(_ context.Context, raw event.RawEvent) {
	c.events <- raw
}

func initFakeRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	return root
}

func appendReflog(t *testing.T, root, oldHash, newHash, message string) {
	t.Helper()
	path := filepath.Join(root, ".git", "logs", "HEAD")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	line := oldHash + " " + newHash + " Dev <dev@example.com> 1700000000 +0000\tcommit: " + message + "\n"
	_, err = f.WriteString(line)
	require.NoError(t, err)
}

func TestDetectGitDir(t *testing.T) {
	root := initFakeRepo(t)
	dir, err := detectGitDir(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".git"), dir)

	_, err = detectGitDir(t.TempDir())
	assert.ErrorIs(t, err, ErrNotGitRepo)
}

func TestDetectGitDirWorktree(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "main", ".git", "worktrees", "feature")
	worktree := filepath.Join(root, "wt")
	require.NoError(t, os.MkdirAll(worktree, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(worktree, ".git"), []byte("gitdir: "+target+"\n"), 0o644))

	dir, err := detectGitDir(worktree)
	require.NoError(t, err)
	assert.Equal(t, target, dir)

	require.NoError(t, os.WriteFile(filepath.Join(worktree, ".git"), []byte("bogus\n"), 0o644))
	_, err = detectGitDir(worktree)
	assert.ErrorIs(t, err, ErrNotGitRepo)
}

func TestReadLastCommit(t *testing.T) {
	root := initFakeRepo(t)
	appendReflog(t, root, "0000", "aaaa", "feat: first")
	appendReflog(t, root, "aaaa", "bbbb", "fix: second")

	hash, subject := readLastCommit(filepath.Join(root, ".git"))
	assert.Equal(t, "bbbb", hash)
	assert.Equal(t, "fix: second", subject)
}

func TestReadLastCommitEmpty(t *testing.T) {
	root := initFakeRepo(t)
	hash, subject := readLastCommit(filepath.Join(root, ".git"))
	assert.Empty(t, hash)
	assert.Empty(t, subject)
}

func TestGitWatcherEmitsNewCommits(t *testing.T) {
	root := initFakeRepo(t)
	appendReflog(t, root, "0000", "aaaa", "feat: preexisting")

	sink := &captureSink{events: make(chan event.RawEvent, 4)}
	w, err := NewGitWatcher(root, "session-1", sink, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))

	appendReflog(t, root, "aaaa", "bbbb", "fix: race in watcher")

	select {
	case raw := <-sink.events:
		assert.Equal(t, string(event.KindGitCommitObserved), raw.Kind)
		assert.Equal(t, "session-1", raw.SessionID)
		assert.Equal(t, "bbbb", raw.Commit)
		assert.Equal(t, "fix: race in watcher", raw.Diff)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for commit event")
	}

	// The preexisting tip is never re-reported.
	select {
	case raw := <-sink.events:
		t.Fatalf("unexpected extra event for commit %s", raw.Commit)
	case <-time.After(200 * time.Millisecond):
	}
}
