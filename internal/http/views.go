package http

import (
	"time"

	"tutorledger/internal/core"
	"tutorledger/internal/services"
)

// Amounts are rendered as fixed two-decimal strings to keep cents exact.

type recordView struct {
	ID              string    `json:"id"`
	Date            string    `json:"date"`
	StudentsCount   int       `json:"students_count"`
	PricePerStudent string    `json:"price_per_student"`
	TeacherProfit   string    `json:"teacher_profit"`
	SchoolProfit    string    `json:"school_profit"`
	Total           string    `json:"total"`
	CreatedAt       time.Time `json:"created_at"`
}

type totalsView struct {
	Students      int    `json:"students"`
	TeacherProfit string `json:"teacher_profit"`
	SchoolProfit  string `json:"school_profit"`
	Total         string `json:"total"`
}

type chartPointView struct {
	Date          string `json:"date"`
	TeacherProfit string `json:"teacher_profit"`
	SchoolProfit  string `json:"school_profit"`
}

type summaryView struct {
	Year     int              `json:"year"`
	Month    int              `json:"month"`
	Totals   totalsView       `json:"totals"`
	Series   []chartPointView `json:"series"`
	Records  int              `json:"records"`
	HasChart bool             `json:"has_chart"`
}

type todayView struct {
	Date    string       `json:"date"`
	Records []recordView `json:"records"`
	Totals  totalsView   `json:"totals"`
}

type archiveView struct {
	ID                 string       `json:"id"`
	Year               int          `json:"year"`
	Month              int          `json:"month"`
	TotalStudents      int          `json:"total_students"`
	TotalTeacherProfit string       `json:"total_teacher_profit"`
	TotalSchoolProfit  string       `json:"total_school_profit"`
	TotalIncome        string       `json:"total_income"`
	RecordCount        int          `json:"record_count"`
	CreatedAt          time.Time    `json:"created_at"`
	ExportedAt         *time.Time   `json:"exported_at,omitempty"`
	Records            []recordView `json:"records,omitempty"`
}

type archiveResultView struct {
	Archive archiveView `json:"archive"`
	Purged  int64       `json:"purged"`
}

type monthGroupView struct {
	Year     int        `json:"year"`
	Month    int        `json:"month"`
	Records  int        `json:"records"`
	Totals   totalsView `json:"totals"`
	Archived bool       `json:"archived"`
}

type keyOutcomeView struct {
	Month     string `json:"month"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ArchiveID string `json:"archive_id,omitempty"`
	Purged    int64  `json:"purged"`
}

type batchView struct {
	Archived int              `json:"archived"`
	Outcomes []keyOutcomeView `json:"outcomes"`
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type sessionView struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userView  `json:"user"`
}

func newRecordView(r core.Record) recordView {
	return recordView{
		ID:              r.ID,
		Date:            r.Date.String(),
		StudentsCount:   r.StudentsCount,
		PricePerStudent: r.PricePerStudent.String(),
		TeacherProfit:   r.TeacherProfit.String(),
		SchoolProfit:    r.SchoolProfit.String(),
		Total:           r.Total.String(),
		CreatedAt:       r.CreatedAt,
	}
}

func newRecordViews(records []core.Record) []recordView {
	out := make([]recordView, 0, len(records))
	for _, r := range records {
		out = append(out, newRecordView(r))
	}
	return out
}

func newTotalsView(t core.Totals) totalsView {
	return totalsView{
		Students:      t.Students,
		TeacherProfit: t.TeacherProfit.String(),
		SchoolProfit:  t.SchoolProfit.String(),
		Total:         t.Total.String(),
	}
}

func newSummaryView(s core.MonthlySummary) summaryView {
	series := make([]chartPointView, 0, len(s.Series))
	for _, p := range s.Series {
		series = append(series, chartPointView{
			Date:          p.Date.String(),
			TeacherProfit: p.TeacherProfit.String(),
			SchoolProfit:  p.SchoolProfit.String(),
		})
	}
	return summaryView{
		Year:     s.Month.Year,
		Month:    s.Month.Month,
		Totals:   newTotalsView(s.Totals),
		Series:   series,
		Records:  s.Records,
		HasChart: s.HasChart(),
	}
}

func newTodayView(t services.TodayView) todayView {
	return todayView{
		Date:    t.Date.String(),
		Records: newRecordViews(t.Records),
		Totals:  newTotalsView(t.Totals),
	}
}

func newArchiveView(a core.Archive, withRecords bool) archiveView {
	v := archiveView{
		ID:                 a.ID,
		Year:               a.Year,
		Month:              a.Month,
		TotalStudents:      a.TotalStudents,
		TotalTeacherProfit: a.TotalTeacherProfit.String(),
		TotalSchoolProfit:  a.TotalSchoolProfit.String(),
		TotalIncome:        a.TotalIncome.String(),
		RecordCount:        len(a.Records),
		CreatedAt:          a.CreatedAt,
		ExportedAt:         a.ExportedAt,
	}
	if withRecords {
		v.Records = newRecordViews(a.Records)
	}
	return v
}

func newMonthGroupView(g core.MonthGroup) monthGroupView {
	return monthGroupView{
		Year:     g.Month.Year,
		Month:    g.Month.Month,
		Records:  len(g.Records),
		Totals:   newTotalsView(g.Totals),
		Archived: g.Archived,
	}
}

func newBatchView(res services.BatchResult) batchView {
	v := batchView{Archived: res.Archived, Outcomes: make([]keyOutcomeView, 0, len(res.Outcomes))}
	for _, o := range res.Outcomes {
		kv := keyOutcomeView{
			Month:  o.Month.String(),
			Status: string(o.Status),
			Reason: o.Reason,
			Purged: o.Purged,
		}
		if o.Archive != nil {
			kv.ArchiveID = o.Archive.ID
		}
		v.Outcomes = append(v.Outcomes, kv)
	}
	return v
}

func newUserView(u core.User) userView {
	return userView{ID: u.ID, Email: u.Email}
}
