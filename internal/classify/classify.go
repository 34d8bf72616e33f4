// Package classify assigns scope and category to pattern aggregates.
// Classification is rule-based and deterministic: the same record always
// yields the same decision, so repeated batch runs stay idempotent.
package classify

import (
	"strings"

	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
)

// Decision is the classifier output for one aggregate.
type Decision struct {
	Scope    domain.Scope
	Category domain.Category
}

// languageByExt maps file extension classes to language categories.
var languageByExt = map[string]string{
	"ts":   "typescript",
	"tsx":  "typescript",
	"js":   "javascript",
	"jsx":  "javascript",
	"py":   "python",
	"go":   "go",
	"rs":   "rust",
	"rb":   "ruby",
	"java": "java",
}

// languageBySignature maps error signature types to the language whose
// toolchain raised them.
var languageBySignature = map[string]string{
	"typescript_error": "typescript",
	"eslint_error":     "javascript",
	"npm_error":        "javascript",
}

var (
	testingWords     = []string{"test", "pytest", "jest", "vitest", "spec", "coverage", "assert"}
	debuggingWords   = []string{"debug", "breakpoint", "trace", "inspect"}
	vcsWords         = []string{"git", "commit", "rebase", "merge", "branch"}
	refactoringWords = []string{"refactor", "rename", "extract", "restructure", "format", "lint"}

	personalWords = []string{"alias", "prefer", "style", "dotfile"}
	teamTools     = []string{"build", "make", "npm", "cargo", "gradle", "bazel", "docker"}
)

// Classify decides scope and category for a pattern aggregate. Category is
// first match in priority order: testing, debugging, vcs, refactoring,
// language, other. Ambiguous scope defaults to personal so individual
// habits never leak into the shared document.
func Classify(rec *domain.PatternRecord) Decision {
	return Decision{
		Scope:    classifyScope(rec),
		Category: classifyCategory(rec),
	}
}

func classifyCategory(rec *domain.PatternRecord) domain.Category {
	identity := strings.ToLower(rec.Identity)

	if containsAny(identity, testingWords) {
		return domain.CategoryTesting
	}
	if rec.Class == domain.ClassError && strings.HasPrefix(identity, "test_failure") {
		return domain.CategoryTesting
	}
	if containsAny(identity, debuggingWords) {
		return domain.CategoryDebugging
	}
	if rec.Class == domain.ClassVCS || containsAny(identity, vcsWords) {
		return domain.CategoryVCS
	}
	if containsAny(identity, refactoringWords) {
		return domain.CategoryRefactoring
	}
	if lang := languageOf(rec, identity); lang != "" {
		return domain.LanguageCategory(lang)
	}
	return domain.CategoryOther
}

func languageOf(rec *domain.PatternRecord, identity string) string {
	switch rec.Class {
	case domain.ClassFile:
		return languageByExt[identity]
	case domain.ClassError:
		sigType, _, _ := strings.Cut(identity, ":")
		if lang, ok := languageBySignature[sigType]; ok {
			return lang
		}
		// Generic toolchain errors still carry a language hint when the
		// message names a source file.
		for ext, lang := range languageByExt {
			if strings.Contains(identity, "."+ext) {
				return lang
			}
		}
	}
	return ""
}

func classifyScope(rec *domain.PatternRecord) domain.Scope {
	identity := strings.ToLower(rec.Identity)

	// Personal signals win over team signals.
	if containsAny(identity, personalWords) {
		return domain.ScopePersonal
	}
	if strings.HasPrefix(identity, ".") || pathOutsideRepo(identity) || anyExample(rec.Examples, pathOutsideRepo) {
		return domain.ScopePersonal
	}

	switch rec.Class {
	case domain.ClassError:
		// Toolchain errors reproduce on any machine.
		return domain.ScopeTeam
	case domain.ClassVCS:
		if strings.HasPrefix(identity, "convention:") {
			return domain.ScopeTeam
		}
	case domain.ClassTool:
		if containsAny(identity, testingWords) || containsAny(identity, teamTools) {
			return domain.ScopeTeam
		}
	}
	return domain.ScopePersonal
}

// pathOutsideRepo reports whether s looks like an absolute or home path,
// which marks a machine-local habit.
func pathOutsideRepo(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "~") ||
		strings.Contains(s, "/home/") || strings.Contains(s, "/users/")
}

func anyExample(examples []string, pred func(string) bool) bool {
	for _, e := range examples {
		if pred(strings.ToLower(e)) {
			return true
		}
	}
	return false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
