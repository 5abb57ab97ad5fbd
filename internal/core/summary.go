package core

import (
	"sort"
	"time"
)

// Totals are the four sums reported for any set of records.
type Totals struct {
	Students      int
	TeacherProfit Money
	SchoolProfit  Money
	Total         Money
}

// ChartPoint is one date of the profit chart. Records sharing a date are merged.
type ChartPoint struct {
	Date          Date
	TeacherProfit Money
	SchoolProfit  Money
}

// MonthlySummary is the running view of one calendar month.
type MonthlySummary struct {
	Month   MonthKey
	Totals  Totals
	Series  []ChartPoint
	Records int
}

// HasChart reports whether there is anything to plot.
func (s MonthlySummary) HasChart() bool {
	return len(s.Series) > 0
}

// MonthGroup is the set of a user's records falling in one month, with the
// flag telling whether that month already has an archive.
type MonthGroup struct {
	Month    MonthKey
	Records  []Record
	Totals   Totals
	Archived bool
}

// SelectMonth returns every record dated inside the given month, preserving order.
func SelectMonth(records []Record, key MonthKey) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if key.Contains(r.Date) {
			out = append(out, r)
		}
	}
	return out
}

// SelectDay returns the records dated on d.
func SelectDay(records []Record, d Date) []Record {
	out := make([]Record, 0)
	for _, r := range records {
		if r.Date.String() == d.String() {
			out = append(out, r)
		}
	}
	return out
}

// Summarize sums students, profits and totals. Empty input yields zeros.
func Summarize(records []Record) Totals {
	var t Totals
	for _, r := range records {
		t.Students += r.StudentsCount
		t.TeacherProfit = t.TeacherProfit.Add(r.TeacherProfit)
		t.SchoolProfit = t.SchoolProfit.Add(r.SchoolProfit)
		t.Total = t.Total.Add(r.Total)
	}
	return t
}

// ChartSeries merges records by exact date and orders the points ascending.
func ChartSeries(records []Record) []ChartPoint {
	byDate := make(map[string]*ChartPoint, len(records))
	for _, r := range records {
		day := r.Date.String()
		p, ok := byDate[day]
		if !ok {
			p = &ChartPoint{Date: r.Date}
			byDate[day] = p
		}
		p.TeacherProfit = p.TeacherProfit.Add(r.TeacherProfit)
		p.SchoolProfit = p.SchoolProfit.Add(r.SchoolProfit)
	}
	series := make([]ChartPoint, 0, len(byDate))
	for _, p := range byDate {
		series = append(series, *p)
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].Date.Before(series[j].Date.Time)
	})
	return series
}

// BuildMonthlySummary selects the month containing ref and aggregates it.
func BuildMonthlySummary(records []Record, ref time.Time) MonthlySummary {
	return SummarizeMonth(records, MonthOf(ref))
}

// SummarizeMonth aggregates the records of an explicit month.
func SummarizeMonth(records []Record, key MonthKey) MonthlySummary {
	sel := SelectMonth(records, key)
	return MonthlySummary{
		Month:   key,
		Totals:  Summarize(sel),
		Series:  ChartSeries(sel),
		Records: len(sel),
	}
}

// GroupByMonth buckets records by calendar month, newest month first.
// archived marks months that already have an archive.
func GroupByMonth(records []Record, archived map[MonthKey]bool) []MonthGroup {
	idx := make(map[MonthKey]int)
	var groups []MonthGroup
	for _, r := range records {
		k := r.Date.Key()
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, MonthGroup{Month: k, Archived: archived[k]})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	for i := range groups {
		groups[i].Totals = Summarize(groups[i].Records)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[j].Month.Before(groups[i].Month)
	})
	return groups
}

// SortArchives orders archives year desc, month desc.
func SortArchives(archives []Archive) {
	sort.SliceStable(archives, func(i, j int) bool {
		return archives[j].Key().Before(archives[i].Key())
	})
}

// NewArchive snapshots records of one month into an archive value.
func NewArchive(userID string, key MonthKey, records []Record) Archive {
	t := Summarize(records)
	snapshot := make([]Record, len(records))
	copy(snapshot, records)
	return Archive{
		UserID:             userID,
		Month:              key.Month,
		Year:               key.Year,
		TotalStudents:      t.Students,
		TotalTeacherProfit: t.TeacherProfit,
		TotalSchoolProfit:  t.SchoolProfit,
		TotalIncome:        t.Total,
		Records:            snapshot,
	}
}
