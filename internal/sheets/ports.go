package sheets

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tutorledger/internal/core"
)

// Ports for outbound adapters.
type (
	// ArchiveExporter writes archive snapshots to an external spreadsheet.
	// Exporting the same archive twice overwrites its tab.
	ArchiveExporter interface {
		ExportArchive(ctx context.Context, a core.Archive) (ref string, err error)
		// RemoveArchive drops the tab of a deleted archive. A missing tab is not an error.
		RemoveArchive(ctx context.Context, userID string, key core.MonthKey) error
	}
)

const userPrefixLen = 8

// TabName returns the tab title of an archive: "YYYY-MM <user prefix>".
func TabName(userID string, key core.MonthKey) string {
	prefix := strings.ReplaceAll(strings.TrimSpace(userID), "-", "")
	if len(prefix) > userPrefixLen {
		prefix = prefix[:userPrefixLen]
	}
	if prefix == "" {
		return key.String()
	}
	return fmt.Sprintf("%s %s", key.String(), prefix)
}

// Header is the column layout of the per-record section.
var Header = []any{"Date", "Students", "Price per student", "Teacher profit", "School profit", "Total"}

// BuildRows lays out an archive as a values matrix: a summary block, a blank
// row, then the header and one row per record in ascending date order.
// Amounts are plain decimal strings so the sheet never reformats them.
func BuildRows(a core.Archive) [][]any {
	rows := [][]any{
		{"Month", a.Key().String()},
		{"Total students", a.TotalStudents},
		{"Teacher profit", a.TotalTeacherProfit.String()},
		{"School profit", a.TotalSchoolProfit.String()},
		{"Total income", a.TotalIncome.String()},
		{},
		Header,
	}

	records := make([]core.Record, len(a.Records))
	copy(records, a.Records)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date.Time)
	})
	for _, r := range records {
		rows = append(rows, []any{
			r.Date.String(),
			r.StudentsCount,
			r.PricePerStudent.String(),
			r.TeacherProfit.String(),
			r.SchoolProfit.String(),
			r.Total.String(),
		})
	}
	return rows
}
