// Package domain defines the shared model of the pattern mining and rule
// governance engine: pattern aggregates, rule and command candidates, and
// the approval lifecycle they move through.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Scope controls which memory document an approved item is routed to.
type Scope string

const (
	// ScopeTeam content is shared through the project document.
	ScopeTeam Scope = "team"

	// ScopePersonal content stays in the user document. Ambiguous patterns
	// default here so individual habits never leak into shared documents.
	ScopePersonal Scope = "personal"
)

// Category is the closed classification enumeration.
type Category string

const (
	CategoryTesting     Category = "testing"
	CategoryDebugging   Category = "debugging"
	CategoryRefactoring Category = "refactoring"
	CategoryVCS         Category = "vcs"
	CategoryOther       Category = "other"
)

// LanguageCategory returns the language-specific category for an id such as
// "go" or "typescript".
func LanguageCategory(id string) Category {
	return Category("language:" + id)
}

// Class is the aggregation dimension of a pattern: what sort of identity the
// aggregate is keyed by.
type Class string

const (
	// ClassTool aggregates tool invocations by tool name.
	ClassTool Class = "tool"

	// ClassError aggregates by normalized error signature.
	ClassError Class = "error"

	// ClassFile aggregates file touches by extension class.
	ClassFile Class = "file"

	// ClassSlashCommand aggregates slash-command usage.
	ClassSlashCommand Class = "slash_command"

	// ClassSequence aggregates cross-session tool sequences by the ordered
	// hash of their step signatures.
	ClassSequence Class = "sequence"

	// ClassVCS aggregates version-control observations such as
	// commit-message conventions.
	ClassVCS Class = "vcs"
)

// MaxPatternExamples bounds the example ring buffer per aggregate.
const MaxPatternExamples = 5

// PatternRecord is the durable aggregate for one (class, identity) pair.
// Mutated only by the pattern store's merge operation.
type PatternRecord struct {
	Class    Class
	Identity string

	// OccurrenceCount is the number of matching events folded in.
	// Invariant: OccurrenceCount >= SessionsSeen >= 1.
	OccurrenceCount int

	// SessionsSeen is the number of distinct sessions among those events,
	// so one noisy session cannot dominate confidence.
	SessionsSeen int

	FirstSeen time.Time
	LastSeen  time.Time

	// Examples is a bounded ring of representative payloads.
	Examples []string

	// Confidence is derived at snapshot time, in [0,1].
	Confidence float64

	// Version supports optimistic concurrency on merge.
	Version int
}

// ID returns the stable pattern identifier used for provenance references.
func (p *PatternRecord) ID() string {
	return string(p.Class) + ":" + p.Identity
}

// Status is the approval lifecycle state of a rule or command candidate.
type Status string

const (
	StatusCandidate  Status = "candidate"
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusSuperseded Status = "superseded"
)

// Terminal reports whether the status ends the normal lifecycle. Approved
// and rejected items can still be superseded.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusSuperseded
}

// Rule is a governed guidance unit: one line of generated project memory.
type Rule struct {
	// ID is the stable hash of the normalized text plus scope.
	ID string

	Text     string
	Scope    Scope
	Category Category

	// SourcePatternIDs is non-empty provenance; patterns are referenced,
	// never owned, so deleting a pattern does not cascade here.
	SourcePatternIDs []string

	Confidence float64
	Status     Status
	CreatedAt  time.Time
	DecidedAt  *time.Time
}

// CommandCandidate is the command analogue of a Rule: a named, templated
// command body derived from a recurring tool sequence.
type CommandCandidate struct {
	// ID is the normalized trigger-sequence hash.
	ID string

	// CommandName must be a valid identifier and is collision-checked
	// against existing commands before approval.
	CommandName string

	Body     string
	Scope    Scope
	Category Category

	SourcePatternIDs []string

	Confidence float64
	Status     Status
	CreatedAt  time.Time
	DecidedAt  *time.Time
}

// AuditRecord is one entry in the rejected/superseded/decision audit log.
type AuditRecord struct {
	ID        string
	ItemID    string
	ItemType  string // "rule" or "command"
	Action    string
	Detail    string
	CreatedAt time.Time
}

// RuleID derives the stable rule identifier from text and scope. The same
// text in different scopes yields different ids; re-deriving an existing
// rule is a no-op upstream.
func RuleID(text string, scope Scope) string {
	return contentHash(NormalizeText(text) + "\x00" + string(scope))
}

// SequenceID derives the identity of an ordered step sequence. Reordered
// steps hash differently: no cross-order merging.
func SequenceID(steps []string) string {
	return contentHash(strings.Join(steps, "\n"))
}

// NormalizeText lowercases and collapses whitespace so trivially different
// renderings of the same guidance hash identically.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func contentHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:8])
}
