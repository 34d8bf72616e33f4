package event

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// errorPattern pairs a detection regex with a stable error type name.
type errorPattern struct {
	re        *regexp.Regexp
	errorType string
}

// Ordered: more specific patterns first so that, e.g., a TypeScript error is
// not swallowed by the generic "Error:" match.
var errorPatterns = []errorPattern{
	{regexp.MustCompile(`(?im)^.*TS\d+: (.+)$`), "typescript_error"},
	{regexp.MustCompile(`(?im)TypeError: (.+)`), "type_error"},
	{regexp.MustCompile(`(?im)SyntaxError: (.+)`), "syntax_error"},
	{regexp.MustCompile(`(?im)ESLint: (.+)`), "eslint_error"},
	{regexp.MustCompile(`(?im)npm ERR! (.+)`), "npm_error"},
	{regexp.MustCompile(`(?im)Cannot find module (.+)`), "module_not_found"},
	{regexp.MustCompile(`(?im)Permission denied[:\s]*(.*)`), "permission_error"},
	{regexp.MustCompile(`(?im)^FAIL[:\s]+(.+)$`), "test_failure"},
	{regexp.MustCompile(`(?im)Error: (.+)`), "generic_error"},
}

// maxSignatureMessage bounds the message portion of a signature so volatile
// suffixes (paths, counters) do not split one logical error into many
// aggregates.
const maxSignatureMessage = 50

// maxExampleMessage bounds the example text stored alongside a pattern.
const maxExampleMessage = 200

// ExtractErrorSignature scans tool output for the first recognizable error
// and returns its normalized signature ("type:truncated message") plus the
// truncated message itself for use as an example. Returns empty strings when
// no error is recognized.
func ExtractErrorSignature(output string) (signature, message string) {
	for _, p := range errorPatterns {
		m := p.re.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		msg := strings.TrimSpace(m[1])
		return p.errorType + ":" + truncate(msg, maxSignatureMessage), truncate(msg, maxExampleMessage)
	}
	return "", ""
}

// ExtractSlashCommands returns the names of the slash commands found in
// text, in order of appearance. The leading "/" is stripped so the name
// keys pattern aggregates and rule templates directly.
var slashCommandRe = regexp.MustCompile(`(?:^|\s)/([a-zA-Z][a-zA-Z0-9_-]*)`)

func ExtractSlashCommands(text string) []string {
	matches := slashCommandRe.FindAllStringSubmatch(text, -1)
	cmds := make([]string, 0, len(matches))
	for _, m := range matches {
		cmds = append(cmds, m[1])
	}
	return cmds
}

// truncate bounds s to at most n bytes, backing off to a rune boundary so
// a multibyte character is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
