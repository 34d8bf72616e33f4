package generate

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
)

// tsCodeRules maps TypeScript compiler error codes to targeted guidance.
var tsCodeRules = map[string]string{
	"TS2322": "Always provide explicit type annotations when TypeScript cannot infer types correctly.",
	"TS2345": "Ensure function arguments match the expected parameter types exactly.",
	"TS2339": "Verify property names and consider using optional chaining (?.) for potentially undefined objects.",
	"TS2304": "Import all required types and modules before using them.",
	"TS2571": "Use type assertions (as Type) only when you're certain about the type.",
}

// errorDefaults maps error signature types to their fallback guidance.
var errorDefaults = map[string]string{
	"typescript_error": "Resolve TypeScript compiler errors before moving on; do not suppress them with ts-ignore.",
	"syntax_error":     "Review syntax carefully and use proper linting tools to catch errors early.",
	"type_error":       "Add type checking and validation for function parameters and return values.",
	"eslint_error":     "Follow ESLint rules consistently and configure auto-fix for common issues.",
	"npm_error":        "Clear npm cache and node_modules when encountering persistent package issues.",
	"test_failure":     "Review test assertions and ensure test data matches expected formats.",
	"module_not_found": "Verify import paths are correct and all dependencies are installed.",
	"permission_error": "Check file permissions and ensure the user has appropriate access rights.",
}

// workflowRules maps frequently used slash commands to process guidance.
var workflowRules = map[string]string{
	"test":     "Run tests frequently during development to catch issues early.",
	"review":   "Use code review commands to maintain quality standards.",
	"build":    "Build the project after significant changes to verify compilation.",
	"lint":     "Run linting before committing code to maintain consistency.",
	"format":   "Apply consistent formatting across the codebase.",
	"docs":     "Keep documentation updated alongside code changes.",
	"deploy":   "Follow deployment procedures and verify in staging first.",
	"debug":    "Use systematic debugging approaches to isolate issues.",
	"optimize": "Profile before optimizing to identify actual bottlenecks.",
	"refactor": "Refactor in small, testable increments.",
}

// techRules maps a dominant source language to technology guidance.
var techRules = map[string]string{
	"typescript": "Use strict TypeScript configuration and enable all recommended compiler options.",
	"python":     "Follow PEP 8 style guidelines and use type hints for better code clarity.",
	"javascript": "Use ESLint and Prettier for consistent code formatting and quality.",
	"go":         "Run gofmt and go vet before committing changes.",
}

// errorRuleText synthesizes guidance for an error signature identity of the
// form "type:message". TypeScript signatures get code-specific guidance when
// the code is known.
func errorRuleText(identity string) string {
	sigType, message, _ := strings.Cut(identity, ":")
	if sigType == "typescript_error" {
		if code, ok := tsCode(message); ok {
			if text, ok := tsCodeRules[code]; ok {
				return text
			}
		}
	}
	return errorDefaults[sigType]
}

func tsCode(message string) (string, bool) {
	i := strings.Index(message, "TS")
	if i < 0 {
		return "", false
	}
	j := i + 2
	for j < len(message) && message[j] >= '0' && message[j] <= '9' {
		j++
	}
	if j == i+2 {
		return "", false
	}
	return message[i:j], true
}

// vcsRuleText synthesizes guidance for a commit-convention aggregate.
func vcsRuleText(identity string) string {
	prefix, ok := strings.CutPrefix(identity, "convention:")
	if !ok {
		return ""
	}
	return fmt.Sprintf("Write commit messages with the %q conventional prefix for related changes.", prefix+":")
}

// commandBody renders the markdown body for a generated command, listing
// the recurring steps it replays.
func commandBody(name string, steps []string, category domain.Category) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", name)
	fmt.Fprintf(&b, "Replay a recurring %s workflow observed across sessions.\n\n", category)
	fmt.Fprintf(&b, "**Usage:** `/%s`\n\n", name)
	b.WriteString("**What this command does:**\n")
	for i, step := range steps {
		tool, _, _ := strings.Cut(step, ":")
		fmt.Fprintf(&b, "%d. Run the `%s` tool as in the recorded workflow\n", i+1, tool)
	}
	return b.String()
}

// commandName derives a valid identifier from the ordered tool steps,
// joining the distinct tool names in order.
func commandName(steps []string) string {
	var parts []string
	seen := map[string]bool{}
	for _, step := range steps {
		tool, _, _ := strings.Cut(step, ":")
		tool = sanitizeIdentifier(tool)
		if tool == "" || seen[tool] {
			continue
		}
		seen[tool] = true
		parts = append(parts, tool)
	}
	name := strings.Join(parts, "_")
	if name == "" {
		return ""
	}
	const maxNameLen = 48
	if len(name) > maxNameLen {
		name = strings.TrimRight(name[:maxNameLen], "_")
	}
	return name
}

// sanitizeIdentifier lowercases and strips anything outside [a-z0-9_],
// ensuring the result starts with a letter.
func sanitizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if b.Len() > 0 {
				b.WriteRune(r)
			}
		case r == '-' || r == ' ':
			if b.Len() > 0 {
				b.WriteByte('_')
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
