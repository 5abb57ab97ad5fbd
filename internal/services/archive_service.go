package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tutorledger/internal/amqp"
	"tutorledger/internal/core"
	applog "tutorledger/internal/log"
	"tutorledger/internal/metrics"
	"tutorledger/internal/ports"
)

// PurgePolicy selects which live records are removed once a month is archived.
type PurgePolicy string

const (
	// PurgeAll removes every record of the owner.
	PurgeAll PurgePolicy = "all"
	// PurgeMonth removes only the records that went into the snapshot.
	PurgeMonth PurgePolicy = "month"
)

// ParsePurgePolicy accepts "all" or "month".
func ParsePurgePolicy(s string) (PurgePolicy, error) {
	switch PurgePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PurgeAll:
		return PurgeAll, nil
	case PurgeMonth:
		return PurgeMonth, nil
	}
	return "", fmt.Errorf("unknown purge policy %q", s)
}

const (
	entryCurrent = "current"
	entryBatch   = "batch"
)

// EventPublisher receives archive lifecycle events. *amqp.Client implements it.
type EventPublisher interface {
	PublishArchiveEvent(ctx context.Context, msg *amqp.ArchiveEventMessage) error
}

// SummaryInvalidator drops cached summaries after records change.
type SummaryInvalidator interface {
	InvalidateSummaries(userID string)
}

// ArchiveOutcome is the result of archiving one month.
type ArchiveOutcome struct {
	Archive core.Archive
	Purged  int64
}

// KeyStatus classifies the result of one month in a batch.
type KeyStatus string

const (
	StatusArchived KeyStatus = "archived"
	StatusSkipped  KeyStatus = "skipped"
	StatusFailed   KeyStatus = "failed"
	StatusPartial  KeyStatus = "partial"
)

// KeyOutcome reports what happened to one month of a batch.
type KeyOutcome struct {
	Month   core.MonthKey
	Status  KeyStatus
	Reason  string
	Err     error
	Archive *core.Archive
	Purged  int64
}

// BatchResult aggregates a batch run. Archived counts months whose snapshot was
// written, including partial ones.
type BatchResult struct {
	Archived int
	Outcomes []KeyOutcome
}

// ArchiveService moves months of records into immutable archives.
type ArchiveService struct {
	records      ports.RecordStore
	archives     ports.ArchiveStore
	publisher    EventPublisher
	summaries    SummaryInvalidator
	metrics      *metrics.Metrics
	currentPurge PurgePolicy
}

// NewArchiveService builds the service. publisher, summaries and m may be nil.
func NewArchiveService(records ports.RecordStore, archives ports.ArchiveStore, publisher EventPublisher,
	summaries SummaryInvalidator, m *metrics.Metrics, currentPurge PurgePolicy) *ArchiveService {
	if currentPurge == "" {
		currentPurge = PurgeAll
	}
	return &ArchiveService{
		records:      records,
		archives:     archives,
		publisher:    publisher,
		summaries:    summaries,
		metrics:      m,
		currentPurge: currentPurge,
	}
}

// ArchiveCurrentMonth archives the calendar month containing now.
func (s *ArchiveService) ArchiveCurrentMonth(ctx context.Context, userID string, now time.Time) (ArchiveOutcome, error) {
	if strings.TrimSpace(userID) == "" {
		return ArchiveOutcome{}, core.ErrAuthRequired
	}
	key := core.MonthOf(now)

	records, err := s.records.ListRecords(ctx, userID)
	if err != nil {
		s.metrics.ArchiveOutcome(entryCurrent, metrics.OutcomeFailed)
		return ArchiveOutcome{}, fmt.Errorf("list records: %w", err)
	}

	out, err := s.archiveMonth(ctx, userID, key, core.SelectMonth(records, key), s.currentPurge)
	s.metrics.ArchiveOutcome(entryCurrent, outcomeLabel(err))
	return out, err
}

// ArchiveMonths archives each selected month independently. A failure on one
// month never stops the others. Only records of the archived month are purged.
func (s *ArchiveService) ArchiveMonths(ctx context.Context, userID string, keys []core.MonthKey) (BatchResult, error) {
	if strings.TrimSpace(userID) == "" {
		return BatchResult{}, core.ErrAuthRequired
	}
	if len(keys) == 0 {
		return BatchResult{}, ErrNoMonthsSelected
	}

	records, err := s.records.ListRecords(ctx, userID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list records: %w", err)
	}

	var result BatchResult
	seen := make(map[core.MonthKey]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true

		var (
			out ArchiveOutcome
			err error
		)
		if err = key.Validate(); err == nil {
			out, err = s.archiveMonth(ctx, userID, key, core.SelectMonth(records, key), PurgeMonth)
		}
		s.metrics.ArchiveOutcome(entryBatch, outcomeLabel(err))

		ko := keyOutcome(key, out, err)
		if ko.Archive != nil {
			result.Archived++
		}
		result.Outcomes = append(result.Outcomes, ko)
	}

	slog.InfoContext(ctx, "Batch archive finished",
		"user_id", userID,
		"requested", len(keys),
		"archived", result.Archived)

	return result, nil
}

// archiveMonth runs check, snapshot and purge in that order. Each step only
// runs when the previous one succeeded.
func (s *ArchiveService) archiveMonth(ctx context.Context, userID string, key core.MonthKey, selection []core.Record, policy PurgePolicy) (ArchiveOutcome, error) {
	_, exists, err := s.archives.FindArchive(ctx, userID, key)
	if err != nil {
		return ArchiveOutcome{}, fmt.Errorf("check existing archive: %w", err)
	}
	if exists {
		return ArchiveOutcome{}, core.ErrAlreadyArchived
	}
	if len(selection) == 0 {
		return ArchiveOutcome{}, core.ErrNothingToArchive
	}

	archive, err := s.archives.CreateArchive(ctx, core.NewArchive(userID, key, selection))
	if err != nil {
		if errors.Is(err, core.ErrAlreadyArchived) {
			return ArchiveOutcome{}, err
		}
		return ArchiveOutcome{}, fmt.Errorf("create archive: %w", err)
	}

	logger := applog.NewStructuredLogger(applog.FromContext(ctx))
	logger.LogArchiveCreated(ctx, userID, archive.ID, key.Year, key.Month, len(selection), archive.TotalIncome.String())

	s.publish(ctx, amqp.NewArchiveEvent(amqp.ArchiveCreated, archive))

	purged, err := s.purge(ctx, userID, selection, policy)
	if s.summaries != nil {
		s.summaries.InvalidateSummaries(userID)
	}
	if err != nil {
		logger.LogError(ctx, "Month archived but records were not purged", err,
			applog.ComponentArchive, applog.OpArchive,
			applog.NewFields().WithUser(userID).WithArchive(archive.ID, key.Year, key.Month).WithErrorType(applog.ErrorTypePartial))
		return ArchiveOutcome{Archive: archive}, &PurgeError{Archive: archive, Err: err}
	}
	s.metrics.RecordsPurged(purged)

	return ArchiveOutcome{Archive: archive, Purged: purged}, nil
}

func (s *ArchiveService) purge(ctx context.Context, userID string, selection []core.Record, policy PurgePolicy) (int64, error) {
	if policy == PurgeAll {
		return s.records.DeleteAllRecords(ctx, userID)
	}
	ids := make([]string, 0, len(selection))
	for _, r := range selection {
		ids = append(ids, r.ID)
	}
	return s.records.DeleteRecords(ctx, userID, ids)
}

// Candidates groups the user's live records by month, newest first, flagging
// months that already have an archive.
func (s *ArchiveService) Candidates(ctx context.Context, userID string) ([]core.MonthGroup, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, core.ErrAuthRequired
	}
	records, err := s.records.ListRecords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	archives, err := s.archives.ListArchives(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	archived := make(map[core.MonthKey]bool, len(archives))
	for _, a := range archives {
		archived[a.Key()] = true
	}
	return core.GroupByMonth(records, archived), nil
}

// ListArchives returns the user's archives, year desc, month desc.
func (s *ArchiveService) ListArchives(ctx context.Context, userID string) ([]core.Archive, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, core.ErrAuthRequired
	}
	archives, err := s.archives.ListArchives(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	core.SortArchives(archives)
	return archives, nil
}

func (s *ArchiveService) GetArchive(ctx context.Context, userID, id string) (core.Archive, error) {
	if strings.TrimSpace(userID) == "" {
		return core.Archive{}, core.ErrAuthRequired
	}
	a, err := s.archives.GetArchive(ctx, userID, id)
	if err != nil && !errors.Is(err, core.ErrArchiveNotFound) {
		return core.Archive{}, fmt.Errorf("get archive: %w", err)
	}
	return a, err
}

// DeleteArchive removes an archive for good. The month does not become
// archivable again from the original records, which no longer exist.
func (s *ArchiveService) DeleteArchive(ctx context.Context, userID, id string) error {
	if strings.TrimSpace(userID) == "" {
		return core.ErrAuthRequired
	}
	a, err := s.archives.GetArchive(ctx, userID, id)
	if err != nil {
		if errors.Is(err, core.ErrArchiveNotFound) {
			return err
		}
		return fmt.Errorf("get archive: %w", err)
	}
	if err := s.archives.DeleteArchive(ctx, userID, id); err != nil {
		if errors.Is(err, core.ErrArchiveNotFound) {
			return err
		}
		return fmt.Errorf("delete archive: %w", err)
	}
	s.metrics.ArchiveDeleted()

	slog.InfoContext(ctx, "Archive deleted",
		"user_id", userID,
		"archive_id", id,
		"year", a.Year,
		"month", a.Month)

	s.publish(ctx, amqp.NewArchiveEvent(amqp.ArchiveDeleted, a))
	return nil
}

// publish is best effort: the archive is already stored, so failures are logged.
func (s *ArchiveService) publish(ctx context.Context, msg *amqp.ArchiveEventMessage) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping archive event", "type", msg.Type)
		return
	}
	err := s.publisher.PublishArchiveEvent(ctx, msg)
	s.metrics.EventPublished(err)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to publish archive event",
			"type", msg.Type,
			"archive_id", msg.ArchiveID,
			"error", err)
	}
}

func keyOutcome(key core.MonthKey, out ArchiveOutcome, err error) KeyOutcome {
	ko := KeyOutcome{Month: key, Err: err, Purged: out.Purged}
	switch {
	case err == nil:
		a := out.Archive
		ko.Status, ko.Archive = StatusArchived, &a
	case errors.Is(err, ErrPurgeFailed):
		a := out.Archive
		ko.Status, ko.Archive, ko.Reason = StatusPartial, &a, err.Error()
	case errors.Is(err, core.ErrAlreadyArchived), errors.Is(err, core.ErrNothingToArchive):
		ko.Status, ko.Reason = StatusSkipped, err.Error()
	default:
		ko.Status, ko.Reason = StatusFailed, err.Error()
	}
	return ko
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeArchived
	case errors.Is(err, ErrPurgeFailed):
		return metrics.OutcomePartial
	case errors.Is(err, core.ErrAlreadyArchived):
		return metrics.OutcomeAlreadyArchived
	case errors.Is(err, core.ErrNothingToArchive):
		return metrics.OutcomeNothing
	case core.IsValidation(err):
		return metrics.OutcomeInvalid
	}
	return metrics.OutcomeFailed
}
