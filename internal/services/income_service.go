package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tutorledger/internal/cache"
	"tutorledger/internal/core"
	applog "tutorledger/internal/log"
	"tutorledger/internal/metrics"
	"tutorledger/internal/ports"
)

// TodayView is the record list of one day with its totals.
type TodayView struct {
	Date    core.Date
	Records []core.Record
	Totals  core.Totals
}

// IncomeService handles record ingestion and the monthly summary.
type IncomeService struct {
	records   ports.RecordStore
	summaries cache.Cache[core.MonthlySummary]
	metrics   *metrics.Metrics
}

// NewIncomeService builds the service. summaries and m may be nil.
func NewIncomeService(records ports.RecordStore, summaries cache.Cache[core.MonthlySummary], m *metrics.Metrics) *IncomeService {
	return &IncomeService{
		records:   records,
		summaries: summaries,
		metrics:   m,
	}
}

// AddRecord validates the input, derives the profit split and persists a new
// record owned by userID.
func (s *IncomeService) AddRecord(ctx context.Context, userID string, in core.RecordInput) (core.Record, error) {
	rec, err := core.NewRecord(userID, in)
	if err != nil {
		return core.Record{}, err
	}

	rec, err = s.records.CreateRecord(ctx, rec)
	if err != nil {
		return core.Record{}, fmt.Errorf("save record: %w", err)
	}

	s.InvalidateSummaries(userID)
	s.metrics.RecordCreated()

	applog.NewStructuredLogger(applog.FromContext(ctx)).
		LogRecordCreated(ctx, userID, rec.ID, rec.Date.String(), rec.StudentsCount, rec.Total.String())

	return rec, nil
}

// ListRecords returns every live record of the user, newest date first.
func (s *IncomeService) ListRecords(ctx context.Context, userID string) ([]core.Record, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, core.ErrAuthRequired
	}
	records, err := s.records.ListRecords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// Today returns the records dated on now's calendar day.
func (s *IncomeService) Today(ctx context.Context, userID string, now time.Time) (TodayView, error) {
	records, err := s.ListRecords(ctx, userID)
	if err != nil {
		return TodayView{}, err
	}
	day := core.DateOf(now)
	sel := core.SelectDay(records, day)
	return TodayView{Date: day, Records: sel, Totals: core.Summarize(sel)}, nil
}

// MonthlySummary aggregates one calendar month of the user's live records.
// Results are cached until the user's records change.
func (s *IncomeService) MonthlySummary(ctx context.Context, userID string, key core.MonthKey) (core.MonthlySummary, error) {
	if strings.TrimSpace(userID) == "" {
		return core.MonthlySummary{}, core.ErrAuthRequired
	}
	if err := key.Validate(); err != nil {
		return core.MonthlySummary{}, err
	}

	cacheKey := summaryKey(userID, key)
	if s.summaries != nil {
		if cached, ok := s.summaries.Get(cacheKey); ok {
			s.metrics.CacheLookup(true)
			return cached, nil
		}
		s.metrics.CacheLookup(false)
	}

	records, err := s.records.ListRecords(ctx, userID)
	if err != nil {
		return core.MonthlySummary{}, fmt.Errorf("list records: %w", err)
	}
	summary := core.SummarizeMonth(records, key)

	if s.summaries != nil {
		s.summaries.Set(cacheKey, summary)
	}
	return summary, nil
}

// InvalidateSummaries drops every cached summary of the user.
func (s *IncomeService) InvalidateSummaries(userID string) {
	if s == nil || s.summaries == nil {
		return
	}
	s.summaries.DeletePrefix(userID + "|")
}

func summaryKey(userID string, key core.MonthKey) string {
	return userID + "|" + key.String()
}
