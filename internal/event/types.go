// Package event defines the normalized behavioral event model and the
// asynchronous ingestion boundary.
//
// Raw host lifecycle triggers are normalized into immutable Events, queued,
// and folded into pattern aggregates by a single worker. Ingestion is
// near-fire-and-forget: a Submit call never blocks the host beyond a short
// bounded wait, and failures are logged rather than propagated.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of behavioral event.
type Kind string

const (
	KindToolInvoked       Kind = "tool_invoked"
	KindToolSucceeded     Kind = "tool_succeeded"
	KindErrorRaised       Kind = "error_raised"
	KindFileChanged       Kind = "file_changed"
	KindGitCommitObserved Kind = "git_commit_observed"
	KindSessionStarted    Kind = "session_started"
	KindSessionEnded      Kind = "session_ended"
)

// ErrMalformedEvent indicates a raw event that could not be normalized.
// Malformed events are dropped and counted, never fatal.
var ErrMalformedEvent = errors.New("malformed event")

// Event is an immutable, normalized behavioral fact.
type Event struct {
	ID        string
	Kind      Kind
	Timestamp time.Time
	SessionID string
	Payload   Payload
}

// Payload carries the kind-specific fields of an event. Only the fields
// relevant to the event's Kind are populated.
type Payload struct {
	// ToolName and ArgsDigest describe tool invocations.
	ToolName   string
	ArgsDigest string

	// ErrorSignature is the normalized "type:message" signature of an
	// error; ErrorMessage keeps the truncated original text as an example.
	ErrorSignature string
	ErrorMessage   string

	// FilePath and FileExt describe file touches.
	FilePath string
	FileExt  string

	// DiffSummary and CommitHash describe observed commits.
	DiffSummary string
	CommitHash  string

	// Summary is the end-of-session conversation summary, present only on
	// SessionEnded events.
	Summary string
}

// RawEvent is the loosely-typed input accepted at the ingestion boundary.
type RawEvent struct {
	Kind      string
	SessionID string
	Timestamp time.Time
	Tool      string
	Args      []string
	Output    string
	Path      string
	Diff      string
	Commit    string
	Summary   string
}

var validKinds = map[Kind]bool{
	KindToolInvoked:       true,
	KindToolSucceeded:     true,
	KindErrorRaised:       true,
	KindFileChanged:       true,
	KindGitCommitObserved: true,
	KindSessionStarted:    true,
	KindSessionEnded:      true,
}

// Normalize validates a raw event and produces the typed record.
func Normalize(raw RawEvent) (Event, error) {
	kind := Kind(raw.Kind)
	if !validKinds[kind] {
		return Event{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, raw.Kind)
	}
	if raw.SessionID == "" {
		return Event{}, fmt.Errorf("%w: missing session id", ErrMalformedEvent)
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: ts,
		SessionID: raw.SessionID,
	}

	switch kind {
	case KindToolInvoked, KindToolSucceeded:
		if raw.Tool == "" {
			return Event{}, fmt.Errorf("%w: %s requires a tool name", ErrMalformedEvent, kind)
		}
		ev.Payload.ToolName = raw.Tool
		ev.Payload.ArgsDigest = digestArgs(raw.Args)
	case KindErrorRaised:
		sig, msg := ExtractErrorSignature(raw.Output)
		if sig == "" {
			return Event{}, fmt.Errorf("%w: no recognizable error in output", ErrMalformedEvent)
		}
		ev.Payload.ErrorSignature = sig
		ev.Payload.ErrorMessage = msg
		ev.Payload.ToolName = raw.Tool
	case KindFileChanged:
		if raw.Path == "" {
			return Event{}, fmt.Errorf("%w: file_changed requires a path", ErrMalformedEvent)
		}
		ev.Payload.FilePath = raw.Path
		ev.Payload.FileExt = strings.TrimPrefix(strings.ToLower(filepath.Ext(raw.Path)), ".")
	case KindGitCommitObserved:
		if raw.Commit == "" {
			return Event{}, fmt.Errorf("%w: git_commit_observed requires a commit hash", ErrMalformedEvent)
		}
		ev.Payload.CommitHash = raw.Commit
		ev.Payload.DiffSummary = raw.Diff
	case KindSessionEnded:
		ev.Payload.Summary = raw.Summary
	case KindSessionStarted:
		// No payload.
	}

	return ev, nil
}

// digestArgs produces a short stable digest of tool arguments so that
// identical invocations aggregate without retaining argument content.
func digestArgs(args []string) string {
	if len(args) == 0 {
		return ""
	}
	h := sha256.Sum256([]byte(strings.Join(args, "\x00")))
	return hex.EncodeToString(h[:8])
}
