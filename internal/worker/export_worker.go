package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tutorledger/internal/amqp"
	"tutorledger/internal/core"
	"tutorledger/internal/metrics"
	"tutorledger/internal/ports"
	"tutorledger/internal/sheets"
)

const (
	opExport = "export"
	opRemove = "remove"
)

// ExportWorker pushes archives to the spreadsheet and removes deleted ones.
type ExportWorker struct {
	archives  ports.ArchiveStore
	exporter  sheets.ArchiveExporter
	metrics   *metrics.Metrics
	batchSize int
	now       func() time.Time
}

func NewExportWorker(archives ports.ArchiveStore, exporter sheets.ArchiveExporter, m *metrics.Metrics, batchSize int) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &ExportWorker{
		archives:  archives,
		exporter:  exporter,
		metrics:   m,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// HandleEvent processes a single archive event from AMQP. A returned error
// requeues the message.
func (w *ExportWorker) HandleEvent(ctx context.Context, msg *amqp.ArchiveEventMessage) error {
	slog.InfoContext(ctx, "Processing archive event",
		"type", msg.Type,
		"archive_id", msg.ArchiveID,
		"user_id", msg.UserID)

	switch msg.Type {
	case amqp.ArchiveCreated:
		a, err := w.archives.GetArchive(ctx, msg.UserID, msg.ArchiveID)
		if errors.Is(err, core.ErrArchiveNotFound) {
			// deleted before we got to it; the delete event cleans up
			slog.WarnContext(ctx, "Archive vanished before export", "archive_id", msg.ArchiveID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("get archive from storage: %w", err)
		}
		if a.Exported() {
			slog.DebugContext(ctx, "Archive already exported", "archive_id", a.ID)
			return nil
		}
		return w.export(ctx, a)

	case amqp.ArchiveDeleted:
		err := w.exporter.RemoveArchive(ctx, msg.UserID, msg.Key())
		w.metrics.Export(opRemove, err)
		if err != nil {
			return fmt.Errorf("remove archive tab: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown event type %q", msg.Type)
}

// ExportPending exports archives still marked unexported. It is the backup
// path for lost messages and returns how many were exported.
func (w *ExportWorker) ExportPending(ctx context.Context) (int, error) {
	pending, err := w.archives.ListUnexported(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unexported archives: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Exporting pending archives", "count", len(pending))

	exported := 0
	for _, a := range pending {
		if ctx.Err() != nil {
			return exported, ctx.Err()
		}
		// ListUnexported may omit the snapshot rows.
		if len(a.Records) == 0 {
			full, err := w.archives.GetArchive(ctx, a.UserID, a.ID)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to load archive", "archive_id", a.ID, "error", err)
				w.markFailed(ctx, a.ID)
				continue
			}
			a = full
		}
		if err := w.export(ctx, a); err != nil {
			slog.ErrorContext(ctx, "Failed to export archive", "archive_id", a.ID, "error", err)
			continue
		}
		exported++
	}

	slog.InfoContext(ctx, "Pending export completed",
		"total", len(pending),
		"exported", exported,
		"errors", len(pending)-exported)

	return exported, nil
}

func (w *ExportWorker) export(ctx context.Context, a core.Archive) error {
	ref, err := w.exporter.ExportArchive(ctx, a)
	w.metrics.Export(opExport, err)
	if err != nil {
		w.markFailed(ctx, a.ID)
		return fmt.Errorf("export archive: %w", err)
	}

	// The tab is written; a failed mark only means a later re-export.
	if err := w.archives.MarkExported(ctx, a.ID, w.now()); err != nil {
		slog.ErrorContext(ctx, "Failed to mark archive as exported", "archive_id", a.ID, "error", err)
	}

	slog.InfoContext(ctx, "Archive exported",
		"archive_id", a.ID,
		"user_id", a.UserID,
		"year", a.Year,
		"month", a.Month,
		"sheets_ref", ref)
	return nil
}

// markFailed pushes the archive behind the rest of the backlog so one
// broken archive cannot hold the head of every sweep.
func (w *ExportWorker) markFailed(ctx context.Context, id string) {
	if err := w.archives.MarkExportFailed(ctx, id, w.now()); err != nil {
		slog.ErrorContext(ctx, "Failed to record export attempt", "archive_id", id, "error", err)
	}
}
