package memdoc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
)

// CommandWriter materializes approved command candidates as one markdown
// file per command under the auto-generated commands directory.
type CommandWriter struct {
	dir string
	log *logging.Logger
}

func NewCommandWriter(dir string, log *logging.Logger) *CommandWriter {
	return &CommandWriter{dir: expandHome(dir), log: log.Named("memdoc")}
}

// Write creates the missing command files and returns how many were
// created. Existing files are never overwritten: a command file on disk
// may carry human edits.
func (w *CommandWriter) Write(cmds []domain.CommandCandidate) (int, error) {
	if len(cmds) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: create %s: %v", ErrDocumentIO, w.dir, err)
	}

	created := 0
	for _, cmd := range cmds {
		path := filepath.Join(w.dir, cmd.CommandName+".md")
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return created, fmt.Errorf("%w: stat %s: %v", ErrDocumentIO, path, err)
		}
		if err := writeAtomic(path, []byte(cmd.Body)); err != nil {
			return created, fmt.Errorf("%w: write %s: %v", ErrDocumentIO, path, err)
		}
		created++
		w.log.Info("command file created",
			zap.String("command", cmd.CommandName),
			zap.String("path", path))
	}
	return created, nil
}
