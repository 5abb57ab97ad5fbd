package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tutorledger/internal/core"
	"tutorledger/internal/ports"
)

var _ ports.Store = (*SQLiteRepository)(nil)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer keeps sqlite from returning SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateRecord implements ports.RecordStore
func (r *SQLiteRepository) CreateRecord(ctx context.Context, rec core.Record) (core.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO records (id, user_id, date, students_count, price_per_student_cents,
			teacher_profit_cents, school_profit_cents, total_cents, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Date.String(), rec.StudentsCount, rec.PricePerStudent.Cents,
		rec.TeacherProfit.Cents, rec.SchoolProfit.Cents, rec.Total.Cents,
		rec.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return core.Record{}, fmt.Errorf("create record: %w", err)
	}

	slog.DebugContext(ctx, "Record saved to SQLite",
		"id", rec.ID,
		"user_id", rec.UserID,
		"date", rec.Date.String(),
		"students", rec.StudentsCount)

	return rec, nil
}

// ListRecords implements ports.RecordStore
func (r *SQLiteRepository) ListRecords(ctx context.Context, userID string) ([]core.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, date, students_count, price_per_student_cents,
			teacher_profit_cents, school_profit_cents, total_cents, created_at
		FROM records
		WHERE user_id = ?
		ORDER BY date DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		var (
			rec              core.Record
			day, createdAt   string
			price, tp, sp, t int64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &day, &rec.StudentsCount, &price, &tp, &sp, &t, &createdAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if rec.Date, err = core.ParseDate(day); err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("record %s created_at: %w", rec.ID, err)
		}
		rec.PricePerStudent = core.Money{Cents: price}
		rec.TeacherProfit = core.Money{Cents: tp}
		rec.SchoolProfit = core.Money{Cents: sp}
		rec.Total = core.Money{Cents: t}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// DeleteRecords implements ports.RecordStore
func (r *SQLiteRepository) DeleteRecords(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `DELETE FROM records WHERE user_id = ? AND id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete records: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete records: %w", err)
	}
	return n, nil
}

// DeleteAllRecords implements ports.RecordStore
func (r *SQLiteRepository) DeleteAllRecords(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete all records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete all records: %w", err)
	}
	return n, nil
}

// archivedRecord is the JSON shape of one record inside records_data.
type archivedRecord struct {
	ID                   string `json:"id"`
	UserID               string `json:"user_id"`
	Date                 string `json:"date"`
	StudentsCount        int    `json:"students_count"`
	PricePerStudentCents int64  `json:"price_per_student_cents"`
	TeacherProfitCents   int64  `json:"teacher_profit_cents"`
	SchoolProfitCents    int64  `json:"school_profit_cents"`
	TotalCents           int64  `json:"total_cents"`
	CreatedAt            string `json:"created_at"`
}

// EncodeRecords serializes an archive snapshot for records_data.
func EncodeRecords(records []core.Record) ([]byte, error) {
	out := make([]archivedRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, archivedRecord{
			ID:                   rec.ID,
			UserID:               rec.UserID,
			Date:                 rec.Date.String(),
			StudentsCount:        rec.StudentsCount,
			PricePerStudentCents: rec.PricePerStudent.Cents,
			TeacherProfitCents:   rec.TeacherProfit.Cents,
			SchoolProfitCents:    rec.SchoolProfit.Cents,
			TotalCents:           rec.Total.Cents,
			CreatedAt:            rec.CreatedAt.UTC().Format(timeLayout),
		})
	}
	return json.Marshal(out)
}

// DecodeRecords is the inverse of EncodeRecords.
func DecodeRecords(data []byte) ([]core.Record, error) {
	var in []archivedRecord
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode records_data: %w", err)
	}
	out := make([]core.Record, 0, len(in))
	for _, a := range in {
		d, err := core.ParseDate(a.Date)
		if err != nil {
			return nil, fmt.Errorf("decode records_data: %w", err)
		}
		created, err := time.Parse(timeLayout, a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("decode records_data: created_at of %s: %w", a.ID, err)
		}
		out = append(out, core.Record{
			ID:              a.ID,
			UserID:          a.UserID,
			Date:            d,
			StudentsCount:   a.StudentsCount,
			PricePerStudent: core.Money{Cents: a.PricePerStudentCents},
			TeacherProfit:   core.Money{Cents: a.TeacherProfitCents},
			SchoolProfit:    core.Money{Cents: a.SchoolProfitCents},
			Total:           core.Money{Cents: a.TotalCents},
			CreatedAt:       created,
		})
	}
	return out, nil
}

// CreateArchive implements ports.ArchiveStore. The UNIQUE(user_id, year, month)
// constraint makes the insert a conditional write.
func (r *SQLiteRepository) CreateArchive(ctx context.Context, a core.Archive) (core.Archive, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now().UTC()
	}
	data, err := EncodeRecords(a.Records)
	if err != nil {
		return core.Archive{}, fmt.Errorf("encode archive records: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO archives (id, user_id, month, year, total_students, total_teacher_profit_cents,
			total_school_profit_cents, total_income_cents, records_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Month, a.Year, a.TotalStudents, a.TotalTeacherProfit.Cents,
		a.TotalSchoolProfit.Cents, a.TotalIncome.Cents, string(data), a.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Archive{}, core.ErrAlreadyArchived
		}
		return core.Archive{}, fmt.Errorf("create archive: %w", err)
	}
	return a, nil
}

const archiveColumns = `id, user_id, month, year, total_students, total_teacher_profit_cents,
	total_school_profit_cents, total_income_cents, records_data, created_at, exported_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArchive(s rowScanner) (core.Archive, error) {
	var (
		a               core.Archive
		tp, sp, income  int64
		data, createdAt string
		exportedAt      sql.NullString
	)
	if err := s.Scan(&a.ID, &a.UserID, &a.Month, &a.Year, &a.TotalStudents, &tp, &sp, &income,
		&data, &createdAt, &exportedAt); err != nil {
		return core.Archive{}, err
	}
	records, err := DecodeRecords([]byte(data))
	if err != nil {
		return core.Archive{}, fmt.Errorf("archive %s: %w", a.ID, err)
	}
	a.Records = records
	a.TotalTeacherProfit = core.Money{Cents: tp}
	a.TotalSchoolProfit = core.Money{Cents: sp}
	a.TotalIncome = core.Money{Cents: income}
	if a.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return core.Archive{}, fmt.Errorf("archive %s created_at: %w", a.ID, err)
	}
	if exportedAt.Valid {
		t, err := time.Parse(timeLayout, exportedAt.String)
		if err != nil {
			return core.Archive{}, fmt.Errorf("archive %s exported_at: %w", a.ID, err)
		}
		a.ExportedAt = &t
	}
	return a, nil
}

// FindArchive implements ports.ArchiveStore
func (r *SQLiteRepository) FindArchive(ctx context.Context, userID string, key core.MonthKey) (core.Archive, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+archiveColumns+` FROM archives WHERE user_id = ? AND year = ? AND month = ?`,
		userID, key.Year, key.Month)
	a, err := scanArchive(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Archive{}, false, nil
	}
	if err != nil {
		return core.Archive{}, false, fmt.Errorf("find archive %s: %w", key, err)
	}
	return a, true, nil
}

func (r *SQLiteRepository) queryArchives(ctx context.Context, query string, args ...any) ([]core.Archive, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListArchives implements ports.ArchiveStore
func (r *SQLiteRepository) ListArchives(ctx context.Context, userID string) ([]core.Archive, error) {
	out, err := r.queryArchives(ctx,
		`SELECT `+archiveColumns+` FROM archives WHERE user_id = ? ORDER BY year DESC, month DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	return out, nil
}

// GetArchive implements ports.ArchiveStore
func (r *SQLiteRepository) GetArchive(ctx context.Context, userID, id string) (core.Archive, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+archiveColumns+` FROM archives WHERE id = ? AND user_id = ?`, id, userID)
	a, err := scanArchive(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Archive{}, core.ErrArchiveNotFound
	}
	if err != nil {
		return core.Archive{}, fmt.Errorf("get archive %s: %w", id, err)
	}
	return a, nil
}

// DeleteArchive implements ports.ArchiveStore
func (r *SQLiteRepository) DeleteArchive(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM archives WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete archive %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete archive %s: %w", id, err)
	}
	if n == 0 {
		return core.ErrArchiveNotFound
	}
	return nil
}

// ListUnexported implements ports.ArchiveStore
func (r *SQLiteRepository) ListUnexported(ctx context.Context, limit int) ([]core.Archive, error) {
	out, err := r.queryArchives(ctx,
		`SELECT `+archiveColumns+` FROM archives WHERE exported_at IS NULL
		 ORDER BY last_export_attempt_at IS NOT NULL, last_export_attempt_at ASC, created_at ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unexported archives: %w", err)
	}
	return out, nil
}

// MarkExported implements ports.ArchiveStore
func (r *SQLiteRepository) MarkExported(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE archives SET exported_at = ? WHERE id = ?`, at.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("mark archive %s exported: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrArchiveNotFound
	}
	return nil
}

// MarkExportFailed implements ports.ArchiveStore
func (r *SQLiteRepository) MarkExportFailed(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE archives SET last_export_attempt_at = ?, export_attempts = export_attempts + 1 WHERE id = ?`,
		at.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("mark archive %s export failed: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrArchiveNotFound
	}
	return nil
}

// CreateUser implements ports.UserStore
func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = r.now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt.Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return core.User{}, core.ErrEmailTaken
		}
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// FindUserByEmail implements ports.UserStore
func (r *SQLiteRepository) FindUserByEmail(ctx context.Context, email string) (core.User, error) {
	var (
		u         core.User
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("find user: %w", err)
	}
	if u.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return core.User{}, fmt.Errorf("find user: parse created_at: %w", err)
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
