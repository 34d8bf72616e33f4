package memdoc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
)

var testItems = []Item{
	{ID: "aaaa000011112222", Text: "Run tests frequently during development.", Category: domain.CategoryTesting},
	{ID: "bbbb000011112222", Text: "Verify import paths are correct.", Category: domain.CategoryDebugging},
	{ID: "cccc000011112222", Text: "Review test assertions carefully.", Category: domain.CategoryTesting},
}

func knownTextOf(items []Item) map[string]string {
	m := map[string]string{}
	for _, it := range items {
		m[it.ID] = it.Text
	}
	return m
}

func TestUpsertAppendsBlockToDocument(t *testing.T) {
	content := "# My Project\n\nSome notes.\n"
	got, warnings := upsert(content, testItems, nil)

	assert.Empty(t, warnings)
	assert.True(t, strings.HasPrefix(got, content), "original content preserved as prefix")
	assert.Contains(t, got, beginMarker)
	assert.Contains(t, got, endMarker)
	assert.Contains(t, got, "### Testing")
	assert.Contains(t, got, "### Debugging")
	assert.Contains(t, got, "- Run tests frequently during development. <!-- rc:id:aaaa000011112222 -->")
}

func TestUpsertIdempotent(t *testing.T) {
	once, _ := upsert("# Doc\n", testItems, nil)
	twice, _ := upsert(once, testItems, nil)
	assert.Equal(t, once, twice, "same approved set yields byte-identical output")

	thrice, _ := upsert(twice, testItems, nil)
	assert.Equal(t, twice, thrice)
}

func TestUpsertPreservesOutsideBytes(t *testing.T) {
	prefix := "# Doc\n\nweird   spacing\t\nno trailing newline here"
	got, _ := upsert(prefix, testItems, nil)
	require.True(t, strings.HasPrefix(got, prefix+"\n"))

	// A later edit outside the block survives further merges untouched.
	edited := "NEW TOP LINE\n" + got + "\ntrailing user notes\n"
	again, _ := upsert(edited, testItems, nil)
	assert.True(t, strings.HasPrefix(again, "NEW TOP LINE\n"))
	assert.True(t, strings.HasSuffix(again, "\ntrailing user notes\n"))
}

func TestUpsertRemovesUnapprovedMachineLine(t *testing.T) {
	known := knownTextOf(testItems)
	all, _ := upsert("", testItems, known)

	remaining := testItems[:2]
	got, warnings := upsert(all, remaining, known)
	assert.Empty(t, warnings)
	assert.NotContains(t, got, "cccc000011112222", "removed item loses exactly its line")
	assert.Contains(t, got, "aaaa000011112222")
	assert.Contains(t, got, "bbbb000011112222")
}

func TestUpsertHumanEditAuthoritative(t *testing.T) {
	known := knownTextOf(testItems)
	got, _ := upsert("", testItems, known)

	edited := strings.Replace(got,
		"- Run tests frequently during development. <!-- rc:id:aaaa000011112222 -->",
		"- Run tests, with coverage, before every push. <!-- rc:id:aaaa000011112222 -->", 1)

	merged, warnings := upsert(edited, testItems, known)
	assert.Empty(t, warnings)
	assert.Contains(t, merged, "- Run tests, with coverage, before every push. <!-- rc:id:aaaa000011112222 -->")
	assert.NotContains(t, merged, "Run tests frequently during development.")

	// The edit sticks across further merges.
	again, _ := upsert(merged, testItems, known)
	assert.Equal(t, merged, again)
}

func TestUpsertOrphanHumanEditKeptAndFlagged(t *testing.T) {
	known := knownTextOf(testItems)
	got, _ := upsert("", testItems, known)
	edited := strings.Replace(got,
		"- Review test assertions carefully. <!-- rc:id:cccc000011112222 -->",
		"- My own wording of this advice. <!-- rc:id:cccc000011112222 -->", 1)

	// The item behind cccc is no longer approved, but the human rewrote it.
	merged, warnings := upsert(edited, testItems[:2], known)
	require.Len(t, warnings, 1)
	assert.Equal(t, "cccc000011112222", warnings[0].ID)
	assert.Contains(t, merged, "- My own wording of this advice. <!-- rc:id:cccc000011112222 -->")
}

func TestUpsertKeepsFreeFormHumanLines(t *testing.T) {
	got, _ := upsert("", testItems, nil)
	withNote := strings.Replace(got, "### Testing\n", "### Testing\nkeep this manual note\n", 1)

	merged, _ := upsert(withNote, testItems, nil)
	assert.Contains(t, merged, "keep this manual note")

	again, _ := upsert(merged, testItems, nil)
	assert.Equal(t, merged, again)
}

func TestUpsertEmptySetLeavesPlainDocumentAlone(t *testing.T) {
	content := "# Doc with no managed block\n"
	got, warnings := upsert(content, nil, nil)
	assert.Equal(t, content, got)
	assert.Empty(t, warnings)
}

func TestUpsertStableCategoryAndIDOrder(t *testing.T) {
	got, _ := upsert("", testItems, nil)
	debugIdx := strings.Index(got, "### Debugging")
	testIdx := strings.Index(got, "### Testing")
	require.True(t, debugIdx >= 0 && testIdx >= 0)
	assert.Less(t, debugIdx, testIdx, "sections sorted by heading")

	aIdx := strings.Index(got, "rc:id:aaaa")
	cIdx := strings.Index(got, "rc:id:cccc")
	assert.Less(t, aIdx, cIdx, "lines sorted by id within a section")
}

func TestCategoryHeading(t *testing.T) {
	assert.Equal(t, "Testing", categoryHeading(domain.CategoryTesting))
	assert.Equal(t, "Version Control", categoryHeading(domain.CategoryVCS))
	assert.Equal(t, "Language: Typescript", categoryHeading(domain.LanguageCategory("typescript")))
}

func TestMergeFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "CLAUDE.md")
	require.NoError(t, os.WriteFile(path, []byte("# Project\n"), 0o644))

	m := NewMerger(logging.NewNop())
	warnings, err := m.MergeFile(path, testItems, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), beginMarker)

	// No content change means no rewrite.
	before, err := os.Stat(path)
	require.NoError(t, err)
	_, err = m.MergeFile(path, testItems, nil)
	require.NoError(t, err)
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestMergeFileCreatesMissingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "CLAUDE.md")
	m := NewMerger(logging.NewNop())
	_, err := m.MergeFile(path, testItems[:1], nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rc:id:aaaa000011112222")
}

func TestRouterScopeIsolation(t *testing.T) {
	r := NewRouter("/repo/CLAUDE.md", "/home/dev/.claude/CLAUDE.md")
	assert.Equal(t, "/repo/CLAUDE.md", r.Route(domain.ScopeTeam))
	assert.Equal(t, "/home/dev/.claude/CLAUDE.md", r.Route(domain.ScopePersonal))
	assert.Len(t, r.Targets(), 2)
}

func TestCommandWriterSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	w := NewCommandWriter(dir, logging.NewNop())

	cmds := []domain.CommandCandidate{
		{CommandName: "edit_build_test", Body: "## edit_build_test\n"},
		{CommandName: "fix_deps", Body: "## fix_deps\n"},
	}
	created, err := w.Write(cmds)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	// Human edits an existing file; a rerun must not clobber it.
	path := filepath.Join(dir, "fix_deps.md")
	require.NoError(t, os.WriteFile(path, []byte("customized"), 0o644))
	created, err = w.Write(cmds)
	require.NoError(t, err)
	assert.Zero(t, created)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "customized", string(data))
}
