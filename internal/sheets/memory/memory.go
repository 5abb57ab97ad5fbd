package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tutorledger/internal/core"
	ports "tutorledger/internal/sheets"
)

// Exporter keeps exported tabs in memory. Used when no spreadsheet is
// configured and in tests.
type Exporter struct {
	mu   sync.Mutex
	tabs map[string][][]any
	fail error
}

var _ ports.ArchiveExporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{tabs: make(map[string][][]any)}
}

// FailWith makes every following call return err. Pass nil to recover.
func (e *Exporter) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = err
}

// ExportArchive stores the archive rows under its tab name.
func (e *Exporter) ExportArchive(_ context.Context, a core.Archive) (string, error) {
	if a.UserID == "" {
		return "", errors.New("archive has no owner")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		return "", e.fail
	}
	title := ports.TabName(a.UserID, a.Key())
	e.tabs[title] = ports.BuildRows(a)
	return fmt.Sprintf("mem:%s", title), nil
}

// RemoveArchive drops the tab if present.
func (e *Exporter) RemoveArchive(_ context.Context, userID string, key core.MonthKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		return e.fail
	}
	delete(e.tabs, ports.TabName(userID, key))
	return nil
}

// Tab returns a copy of the rows written under title.
func (e *Exporter) Tab(title string) ([][]any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows, ok := e.tabs[title]
	if !ok {
		return nil, false
	}
	return append([][]any(nil), rows...), true
}

// Len reports the number of tabs.
func (e *Exporter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tabs)
}
