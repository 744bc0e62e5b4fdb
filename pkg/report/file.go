package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bountyscan/bountyscan/pkg/finding"
	"github.com/bountyscan/bountyscan/pkg/storage"
)

// FileReporter writes both report formats under a base directory,
// one subdirectory per run.
type FileReporter struct {
	dir      string
	markdown *MarkdownWriter
}

// NewFileReporter creates a reporter rooted at dir.
func NewFileReporter(dir string) (*FileReporter, error) {
	md, err := NewMarkdownWriter()
	if err != nil {
		return nil, err
	}
	return &FileReporter{dir: dir, markdown: md}, nil
}

// Write renders the markdown report and PDF summary for a run and
// returns the markdown report's path.
func (r *FileReporter) Write(run *storage.RunRecord, records []*finding.Record) (string, error) {
	data := Build(run, records)

	runDir := filepath.Join(r.dir, run.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	mdPath := filepath.Join(runDir, "report.md")
	f, err := os.Create(mdPath)
	if err != nil {
		return "", err
	}
	if err := r.markdown.Write(f, data); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	if err := WritePDF(filepath.Join(runDir, "report.pdf"), data); err != nil {
		return "", fmt.Errorf("markdown written, pdf failed: %w", err)
	}
	return mdPath, nil
}
