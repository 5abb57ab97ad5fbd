package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fixed per-student split. Business rules, not configuration.
const (
	TeacherRateCents int64 = 1250
	SchoolRateCents  int64 = 250
)

// Input bounds. They keep every derived amount, and the sum of a few million
// records, far inside int64 cents.
const (
	MaxStudentsCount   = 100_000
	MaxPricePerStudent = 100_000_000 // 1,000,000.00
)

type (
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// MonthKey identifies one calendar month.
	MonthKey struct {
		Year  int
		Month int // 1-12
	}

	// RecordInput is what a caller submits for one day of lessons.
	RecordInput struct {
		Date            Date
		StudentsCount   int
		PricePerStudent Money
	}

	Record struct {
		ID              string
		UserID          string
		Date            Date
		StudentsCount   int
		PricePerStudent Money
		TeacherProfit   Money
		SchoolProfit    Money
		Total           Money
		CreatedAt       time.Time
	}

	// Archive is an immutable monthly snapshot. Records is a copy taken at
	// archive time and is independent of the live record set afterwards.
	Archive struct {
		ID                 string
		UserID             string
		Month              int
		Year               int
		TotalStudents      int
		TotalTeacherProfit Money
		TotalSchoolProfit  Money
		TotalIncome        Money
		Records            []Record
		CreatedAt          time.Time
		ExportedAt         *time.Time
	}
)

var (
	ErrAuthRequired     = errors.New("authentication required")
	ErrMissingDate      = errors.New("date is required")
	ErrMissingStudents  = errors.New("students count is required")
	ErrMissingPrice     = errors.New("price per student is required")
	ErrInvalidStudents  = errors.New("students count must be a non-negative integer")
	ErrInvalidPrice     = errors.New("price per student must be a non-negative amount")
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidYear      = errors.New("invalid year")
	ErrAlreadyArchived  = errors.New("month already archived")
	ErrNothingToArchive = errors.New("no records to archive for this month")
	ErrArchiveNotFound  = errors.New("archive not found")
)

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrMissingDate, ErrMissingStudents, ErrMissingPrice,
		ErrInvalidStudents, ErrInvalidPrice,
		ErrInvalidDay, ErrInvalidMonth, ErrInvalidYear,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrMissingDate
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// Key returns the calendar month the date belongs to.
func (d Date) Key() MonthKey {
	return MonthKey{Year: d.Year(), Month: d.Month()}
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(time.DateOnly)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrMissingDate
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDay, s)
	}
	return Date{Time: t}, nil
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidPrice
	}
	return nil
}

// ValidatePrice checks a per-student price against both bounds.
func ValidatePrice(m Money) error {
	if m.Cents < 0 || m.Cents > MaxPricePerStudent {
		return fmt.Errorf("%w: got %s", ErrInvalidPrice, m)
	}
	return nil
}

// ValidateStudents checks a students count against both bounds.
func ValidateStudents(n int) error {
	if n < 0 || n > MaxStudentsCount {
		return fmt.Errorf("%w: got %d, max %d", ErrInvalidStudents, n, MaxStudentsCount)
	}
	return nil
}

// Times multiplies the amount by a count.
func (m Money) Times(n int) Money {
	return Money{Cents: m.Cents * int64(n)}
}

// Add returns the sum of two amounts.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

func (k MonthKey) Validate() error {
	if k.Month < 1 || k.Month > 12 {
		return ErrInvalidMonth
	}
	if k.Year < 1 || k.Year > 9999 {
		return ErrInvalidYear
	}
	return nil
}

// Contains reports whether d falls inside the month, first and last day inclusive.
func (k MonthKey) Contains(d Date) bool {
	return d.Year() == k.Year && d.Month() == k.Month
}

// Before orders keys chronologically.
func (k MonthKey) Before(o MonthKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Month < o.Month
}

func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, k.Month)
}

// MonthOf returns the calendar month containing t.
func MonthOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: int(t.Month())}
}

// ParseMonthKey parses "YYYY-MM".
func ParseMonthKey(s string) (MonthKey, error) {
	y, m, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return MonthKey{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	year, err := strconv.Atoi(y)
	if err != nil {
		return MonthKey{}, fmt.Errorf("%w: %q", ErrInvalidYear, s)
	}
	month, err := strconv.Atoi(m)
	if err != nil {
		return MonthKey{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	k := MonthKey{Year: year, Month: month}
	if err := k.Validate(); err != nil {
		return MonthKey{}, err
	}
	return k, nil
}

func (in RecordInput) Validate() error {
	if err := in.Date.Validate(); err != nil {
		return err
	}
	if err := ValidateStudents(in.StudentsCount); err != nil {
		return err
	}
	return ValidatePrice(in.PricePerStudent)
}

// NewRecord derives the profit split and total for a validated input.
func NewRecord(userID string, in RecordInput) (Record, error) {
	if strings.TrimSpace(userID) == "" {
		return Record{}, ErrAuthRequired
	}
	if err := in.Validate(); err != nil {
		return Record{}, err
	}
	return Record{
		UserID:          userID,
		Date:            in.Date,
		StudentsCount:   in.StudentsCount,
		PricePerStudent: in.PricePerStudent,
		TeacherProfit:   TeacherProfitFor(in.StudentsCount),
		SchoolProfit:    SchoolProfitFor(in.StudentsCount),
		Total:           in.PricePerStudent.Times(in.StudentsCount),
	}, nil
}

// TeacherProfitFor returns the teacher's share for a number of students.
func TeacherProfitFor(students int) Money {
	return Money{Cents: TeacherRateCents * int64(students)}
}

// SchoolProfitFor returns the school's share for a number of students.
func SchoolProfitFor(students int) Money {
	return Money{Cents: SchoolRateCents * int64(students)}
}

// Key returns the archived month.
func (a Archive) Key() MonthKey {
	return MonthKey{Year: a.Year, Month: a.Month}
}

// Exported reports whether the archive has been pushed to the spreadsheet.
func (a Archive) Exported() bool {
	return a.ExportedAt != nil
}
