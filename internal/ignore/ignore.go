// Package ignore provides gitignore-style exclude matching for event paths.
//
// The configured exclude_patterns keep noisy or private paths (vendored
// code, build output, files outside the repo) from ever reaching the
// pattern aggregates.
package ignore

import (
	"path/filepath"
	"strings"
)

// Matcher matches file paths against a fixed set of gitignore-style
// patterns. Negation patterns are not supported.
type Matcher struct {
	patterns []string
}

// NewMatcher compiles the given patterns. Comment lines, blank lines, and
// negations are skipped; the rest are normalized to glob form.
func NewMatcher(patterns []string) *Matcher {
	normalized := make([]string, 0, len(patterns))
	for _, p := range patterns {
		g := parseLine(p)
		if g != "" {
			normalized = append(normalized, g)
		}
	}
	return &Matcher{patterns: deduplicate(normalized)}
}

// Matches reports whether path matches any exclude pattern. Paths are
// normalized to forward slashes before matching.
func (m *Matcher) Matches(path string) bool {
	path = filepath.ToSlash(strings.TrimPrefix(path, "./"))
	for _, pattern := range m.patterns {
		if matchGlob(pattern, path) {
			return true
		}
	}
	return false
}

// parseLine normalizes a single gitignore-style pattern to glob form.
// Returns empty string for comments and blank lines.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}
	return toGlobPattern(line)
}

// toGlobPattern converts a gitignore pattern to a glob pattern.
func toGlobPattern(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")

	// Trailing slash means a directory: match everything under it.
	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}

	// A bare name can match at any depth.
	if !strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "*") {
		pattern = "**/" + pattern
	}

	// A bare directory name also matches everything inside it.
	if !strings.HasSuffix(pattern, "/**") && !strings.HasSuffix(pattern, "/*") && !strings.Contains(pattern, ".") && !strings.ContainsAny(pattern, "*?[") {
		pattern += "/**"
	}

	return pattern
}

// matchGlob matches a slash-separated glob supporting ** across segments.
func matchGlob(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		// ** matches zero or more path segments.
		if matchSegments(pat[1:], segs) {
			return true
		}
		if len(segs) == 0 {
			return false
		}
		return matchSegments(pat, segs[1:])
	}
	if len(segs) == 0 {
		return false
	}
	ok, err := filepath.Match(pat[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}
