// Package memdoc maintains the managed block inside memory documents and
// routes approved content to the project or user document. Everything
// outside the block is preserved byte-for-byte.
package memdoc

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
)

const (
	beginMarker = "<!-- rulecrafter:begin -->"
	endMarker   = "<!-- rulecrafter:end -->"

	headerComment = "<!-- Learned rules maintained automatically. Edit any line freely; the trailing id comment keys it. -->"
	blockTitle    = "## Learned Rules"
)

var idLineRe = regexp.MustCompile(`^- (.*?)\s*<!-- rc:id:([0-9a-f]+) -->\s*$`)

// Item is one line of approved content destined for the managed block.
type Item struct {
	ID       string
	Text     string
	Category domain.Category
}

// Warning flags a managed-block line that references an id no longer in
// the approved set but carries human-edited text. The line is kept.
type Warning struct {
	ID   string
	Text string
}

// line is one entry of a parsed section. Lines without an id are human
// content inside the block and pass through verbatim.
type line struct {
	id   string
	text string
	raw  string
}

type section struct {
	heading string
	lines   []line
}

// document is the structured form: byte-exact prefix and suffix around a
// parsed managed block.
type document struct {
	prefix   string
	suffix   string
	hasBlock bool
	sections []section
}

// parse splits content around the managed block. Content without a block
// is all prefix.
func parse(content string) *document {
	begin := strings.Index(content, beginMarker)
	if begin < 0 {
		return &document{prefix: content}
	}
	rest := content[begin+len(beginMarker):]
	end := strings.Index(rest, endMarker)
	if end < 0 {
		// Unterminated block: treat the whole file as untouchable.
		return &document{prefix: content}
	}

	doc := &document{
		prefix:   content[:begin],
		suffix:   rest[end+len(endMarker):],
		hasBlock: true,
	}

	cur := section{}
	flush := func() {
		if cur.heading != "" || len(cur.lines) > 0 {
			doc.sections = append(doc.sections, cur)
		}
		cur = section{}
	}
	for _, raw := range strings.Split(rest[:end], "\n") {
		trimmed := strings.TrimSpace(raw)
		switch {
		case trimmed == "" || trimmed == headerComment || trimmed == blockTitle:
			continue
		case strings.HasPrefix(trimmed, "### "):
			flush()
			cur.heading = strings.TrimPrefix(trimmed, "### ")
		default:
			if m := idLineRe.FindStringSubmatch(trimmed); m != nil {
				cur.lines = append(cur.lines, line{id: m[2], text: m[1], raw: raw})
			} else {
				cur.lines = append(cur.lines, line{raw: raw})
			}
		}
	}
	flush()
	return doc
}

// upsert rebuilds the managed block from the approved items, honoring
// human edits. knownText maps ids to the text this system last rendered;
// an orphan line matching its known text was machine-written and is
// dropped, anything else inside the block is kept.
func upsert(content string, items []Item, knownText map[string]string) (string, []Warning) {
	doc := parse(content)

	approved := make(map[string]Item, len(items))
	for _, it := range items {
		approved[it.ID] = it
	}

	// Existing id lines: human text wins for still-approved ids.
	existingText := map[string]string{}
	var warnings []Warning
	out := map[string]*section{}

	ensure := func(heading string) *section {
		if s, ok := out[heading]; ok {
			return s
		}
		s := &section{heading: heading}
		out[heading] = s
		return s
	}

	for _, sec := range doc.sections {
		for _, ln := range sec.lines {
			switch {
			case ln.id == "":
				// Free-form human content stays in its section.
				s := ensure(sec.heading)
				s.lines = append(s.lines, ln)
			case approved[ln.id].ID != "":
				existingText[ln.id] = ln.text
			case ln.text == knownText[ln.id]:
				// Machine-written line for a no-longer-approved id: removed.
			default:
				// Orphan with human edits: kept where it was, flagged.
				s := ensure(sec.heading)
				s.lines = append(s.lines, ln)
				warnings = append(warnings, Warning{ID: ln.id, Text: ln.text})
			}
		}
	}

	for _, it := range items {
		text := it.Text
		if edited, ok := existingText[it.ID]; ok {
			text = edited
		}
		sec := ensure(categoryHeading(it.Category))
		sec.lines = append(sec.lines, line{id: it.ID, text: text})
	}

	if len(out) == 0 && !doc.hasBlock {
		// Nothing to manage and no block to maintain: leave the document
		// alone.
		return content, warnings
	}
	if !doc.hasBlock {
		// First append goes at the end of the document.
		sep := ""
		if doc.prefix != "" && !strings.HasSuffix(doc.prefix, "\n") {
			sep = "\n"
		}
		return doc.prefix + sep + renderBlock(out) + "\n", warnings
	}
	return doc.prefix + renderBlock(out) + doc.suffix, warnings
}

// renderBlock serializes sections sorted by heading, lines sorted by id
// with human free-form lines first in parse order.
func renderBlock(sections map[string]*section) string {
	headings := make([]string, 0, len(sections))
	for h := range sections {
		headings = append(headings, h)
	}
	sort.Strings(headings)

	var b strings.Builder
	b.WriteString(beginMarker + "\n")
	b.WriteString(headerComment + "\n")
	b.WriteString(blockTitle + "\n")
	for _, h := range headings {
		sec := sections[h]
		if h == "" {
			b.WriteString("\n")
		} else {
			b.WriteString("\n### " + h + "\n")
		}

		var free, keyed []line
		for _, ln := range sec.lines {
			if ln.id == "" {
				free = append(free, ln)
			} else {
				keyed = append(keyed, ln)
			}
		}
		sort.SliceStable(keyed, func(i, j int) bool { return keyed[i].id < keyed[j].id })

		for _, ln := range free {
			b.WriteString(ln.raw + "\n")
		}
		for _, ln := range keyed {
			fmt.Fprintf(&b, "- %s <!-- rc:id:%s -->\n", ln.text, ln.id)
		}
	}
	b.WriteString(endMarker)
	return b.String()
}

// categoryHeading renders a category as a section heading. Sections sort
// by this string, so the heading is also the ordering key.
func categoryHeading(c domain.Category) string {
	if c == domain.CategoryVCS {
		return "Version Control"
	}
	parts := strings.SplitN(string(c), ":", 2)
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ": ")
}
