package memdoc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
)

// ErrDocumentIO marks a failed read or write of one memory document.
// Fatal for that document only; other documents proceed independently.
var ErrDocumentIO = errors.New("document io failed")

// Merger applies managed-block upserts to documents on disk.
type Merger struct {
	log *logging.Logger
}

func NewMerger(log *logging.Logger) *Merger {
	return &Merger{log: log.Named("memdoc")}
}

// MergeFile upserts the approved items into the document at path. A
// missing document is created when there is content to write. The write is
// atomic: temp file in the same directory, then rename. Returns the
// conflict warnings for the caller's summary.
func (m *Merger) MergeFile(path string, items []Item, knownText map[string]string) ([]Warning, error) {
	content, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: read %s: %v", ErrDocumentIO, path, err)
	}

	updated, warnings := upsert(string(content), items, knownText)
	for _, warn := range warnings {
		m.log.Warn("managed line no longer matches an approved item, left in place",
			zap.String("document", path),
			zap.String("id", warn.ID))
	}
	if updated == string(content) {
		return warnings, nil
	}

	if err := writeAtomic(path, []byte(updated)); err != nil {
		return warnings, fmt.Errorf("%w: write %s: %v", ErrDocumentIO, path, err)
	}
	m.log.Info("document updated",
		zap.String("document", path),
		zap.Int("items", len(items)))
	return warnings, nil
}

// writeAtomic replaces path contents all-or-nothing so a crash never
// leaves a half-written document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".memdoc-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
