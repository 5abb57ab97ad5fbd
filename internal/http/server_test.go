package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tutorledger/internal/auth"
	"tutorledger/internal/cache"
	"tutorledger/internal/core"
	applog "tutorledger/internal/log"
	"tutorledger/internal/metrics"
	"tutorledger/internal/ports"
	"tutorledger/internal/services"
	"tutorledger/internal/storage/memory"
)

var fixedNow = time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	t       *testing.T
	srv     *Server
	store   *memory.Store
	jwt     *auth.JWTManager
	metrics *metrics.Metrics
}

type envOption func(*Deps, *memory.Store)

func withRecordStore(wrap func(*memory.Store) ports.RecordStore) envOption {
	return func(d *Deps, s *memory.Store) {
		income := services.NewIncomeService(s, nil, nil)
		d.Archives = services.NewArchiveService(wrap(s), s, nil, income, nil, services.PurgeAll)
	}
}

func withRateLimit(n int) envOption {
	return func(d *Deps, _ *memory.Store) { d.RateLimitPerMinute = n }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	store := memory.New()
	m := metrics.New()
	summaries := cache.NewLRUCache[core.MonthlySummary](100, time.Minute)
	income := services.NewIncomeService(store, summaries, m)
	jwt := auth.NewJWTManager("test-secret-0123456789", time.Hour)

	deps := Deps{
		Income:             income,
		Archives:           services.NewArchiveService(store, store, nil, income, m, services.PurgeAll),
		Accounts:           auth.NewPasswordAuthenticator(store, bcrypt.MinCost),
		JWT:                jwt,
		Metrics:            m,
		Logger:             applog.New(applog.Config{Output: io.Discard}),
		Ready:              store.Ping,
		RateLimitPerMinute: 1000,
	}
	for _, opt := range opts {
		opt(&deps, store)
	}

	srv := NewServer(":0", deps)
	srv.now = func() time.Time { return fixedNow }
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{t: t, srv: srv, store: store, jwt: jwt, metrics: m}
}

func (e *testEnv) token(userID string) string {
	e.t.Helper()
	tok, _, err := e.jwt.Generate(core.User{ID: userID, Email: userID + "@example.com"})
	if err != nil {
		e.t.Fatalf("token: %v", err)
	}
	return tok
}

func (e *testEnv) do(method, path, body, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	} else if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(userID string, d core.Date, students int, priceCents int64) core.Record {
	e.t.Helper()
	r, err := core.NewRecord(userID, core.RecordInput{Date: d, StudentsCount: students, PricePerStudent: core.Money{Cents: priceCents}})
	if err != nil {
		e.t.Fatalf("record: %v", err)
	}
	r, err = e.store.CreateRecord(context.Background(), r)
	if err != nil {
		e.t.Fatalf("create: %v", err)
	}
	return r
}

type response struct {
	Data         json.RawMessage `json:"data"`
	Error        *APIError       `json:"error"`
	Notification *Notification   `json:"notification"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) response {
	t.Helper()
	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	if data != nil {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			t.Fatalf("decode data %s: %v", resp.Data, err)
		}
	}
	return resp
}

func TestHealthReadyAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := env.do(http.MethodGet, path, "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rec.Code)
		}
	}
	rec := env.do(http.MethodGet, "/healthz", "", "")
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id missing")
	}
}

func TestReadyReportsStoreFailure(t *testing.T) {
	srv := NewServer(":0", Deps{
		Logger: applog.New(applog.Config{Output: io.Discard}),
		Ready:  func(context.Context) error { return errors.New("db down") },
	})
	defer srv.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestCreateRecordAndSummary(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token("u1")

	rec := env.do(http.MethodPost, "/api/records", `{"date":"2024-05-20","students_count":15,"price_per_student":"15"}`, tok)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body)
	}
	var created recordView
	resp := decode(t, rec, &created)
	if created.TeacherProfit != "187.50" || created.SchoolProfit != "37.50" || created.Total != "225.00" {
		t.Fatalf("unexpected split %+v", created)
	}
	if resp.Notification == nil || resp.Notification.Type != NotificationSuccess {
		t.Fatalf("expected success notification, got %+v", resp.Notification)
	}

	// form bodies are accepted too, comma decimals included
	rec = env.do(http.MethodPost, "/api/records", "date=2024-05-21&students_count=2&price_per_student=10,50", tok)
	if rec.Code != http.StatusCreated {
		t.Fatalf("form create status=%d body=%s", rec.Code, rec.Body)
	}

	rec = env.do(http.MethodGet, "/api/summary?year=2024&month=5", "", tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status=%d", rec.Code)
	}
	var sum summaryView
	decode(t, rec, &sum)
	if sum.Totals.Students != 17 || sum.Totals.TeacherProfit != "212.50" || sum.Totals.Total != "246.00" {
		t.Fatalf("unexpected totals %+v", sum.Totals)
	}
	if len(sum.Series) != 2 || sum.Series[0].Date != "2024-05-20" || sum.Series[1].Date != "2024-05-21" {
		t.Fatalf("series must be ascending by date: %+v", sum.Series)
	}
	if !sum.HasChart {
		t.Fatal("expected chart")
	}

	// default month comes from the server clock
	rec = env.do(http.MethodGet, "/api/summary", "", tok)
	decode(t, rec, &sum)
	if sum.Year != 2024 || sum.Month != 5 || sum.Records != 2 {
		t.Fatalf("unexpected default summary %+v", sum)
	}

	rec = env.do(http.MethodGet, "/api/records/today", "", tok)
	var today todayView
	decode(t, rec, &today)
	if today.Date != "2024-05-20" || len(today.Records) != 1 || today.Totals.Students != 15 {
		t.Fatalf("unexpected today view %+v", today)
	}

	rec = env.do(http.MethodGet, "/api/records", "", tok)
	var list []recordView
	decode(t, rec, &list)
	if len(list) != 2 || list[0].Date != "2024-05-21" {
		t.Fatalf("records must be newest first: %+v", list)
	}
}

func TestCreateRecordRejections(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token("u1")

	tests := []struct {
		name   string
		body   string
		token  string
		status int
		code   string
	}{
		{"anonymous", `{"date":"2024-05-20","students_count":1,"price_per_student":"1"}`, "", http.StatusUnauthorized, "auth_required"},
		{"bad token", `{"date":"2024-05-20","students_count":1,"price_per_student":"1"}`, "garbage", http.StatusUnauthorized, "auth_required"},
		{"missing date", `{"students_count":1,"price_per_student":"1"}`, tok, http.StatusUnprocessableEntity, "validation"},
		{"missing students", `{"date":"2024-05-20","price_per_student":"1"}`, tok, http.StatusUnprocessableEntity, "validation"},
		{"missing price", `{"date":"2024-05-20","students_count":1}`, tok, http.StatusUnprocessableEntity, "validation"},
		{"negative students", `{"date":"2024-05-20","students_count":-1,"price_per_student":"1"}`, tok, http.StatusUnprocessableEntity, "validation"},
		{"fractional students", `{"date":"2024-05-20","students_count":1.5,"price_per_student":"1"}`, tok, http.StatusUnprocessableEntity, "validation"},
		{"negative price", `{"date":"2024-05-20","students_count":1,"price_per_student":"-3"}`, tok, http.StatusUnprocessableEntity, "validation"},
		{"impossible date", `{"date":"2024-02-30","students_count":1,"price_per_student":"1"}`, tok, http.StatusUnprocessableEntity, "validation"},
		{"broken json", `{"date":`, tok, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/records", tt.body, tt.token)
			if rec.Code != tt.status {
				t.Fatalf("status=%d want %d body=%s", rec.Code, tt.status, rec.Body)
			}
			resp := decode(t, rec, nil)
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Fatalf("error=%+v want code %s", resp.Error, tt.code)
			}
			if resp.Notification == nil || resp.Notification.Type != NotificationError {
				t.Fatalf("expected error notification, got %+v", resp.Notification)
			}
		})
	}

	records, _ := env.store.ListRecords(context.Background(), "u1")
	if len(records) != 0 {
		t.Fatalf("rejected requests must not write, found %d records", len(records))
	}
}

func TestSummaryRejectsBadMonth(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token("u1")
	for _, q := range []string{"?month=13", "?year=abc", "?month=x"} {
		if rec := env.do(http.MethodGet, "/api/summary"+q, "", tok); rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s status=%d", q, rec.Code)
		}
	}
	if rec := env.do(http.MethodGet, "/api/summary", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous summary status=%d", rec.Code)
	}
}

func TestArchiveCurrentMonth(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token("u1")

	rec := env.do(http.MethodPost, "/api/archives/current", "", tok)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty month status=%d", rec.Code)
	}
	if resp := decode(t, rec, nil); resp.Error.Code != "nothing_to_archive" {
		t.Fatalf("unexpected error %+v", resp.Error)
	}

	env.seed("u1", core.NewDate(2024, 5, 1), 10, 2000)
	env.seed("u1", core.NewDate(2024, 5, 15), 5, 2000)
	env.seed("u2", core.NewDate(2024, 5, 15), 5, 2000)

	rec = env.do(http.MethodPost, "/api/archives/current", "", tok)
	if rec.Code != http.StatusCreated {
		t.Fatalf("archive status=%d body=%s", rec.Code, rec.Body)
	}
	var out archiveResultView
	decode(t, rec, &out)
	if out.Archive.Year != 2024 || out.Archive.Month != 5 || out.Archive.TotalStudents != 15 ||
		out.Archive.TotalIncome != "300.00" || out.Purged != 2 {
		t.Fatalf("unexpected archive %+v", out)
	}
	if rec.Header().Get("Location") != "/api/archives/"+out.Archive.ID {
		t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
	}

	left, _ := env.store.ListRecords(context.Background(), "u1")
	if len(left) != 0 {
		t.Fatalf("expected purge, %d records left", len(left))
	}
	other, _ := env.store.ListRecords(context.Background(), "u2")
	if len(other) != 1 {
		t.Fatal("other users' records must survive")
	}

	env.seed("u1", core.NewDate(2024, 5, 16), 1, 100)
	rec = env.do(http.MethodPost, "/api/archives/current", "", tok)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second archive status=%d", rec.Code)
	}
	if resp := decode(t, rec, nil); resp.Error.Code != "already_archived" {
		t.Fatalf("unexpected error %+v", resp.Error)
	}

	if rec := env.do(http.MethodPost, "/api/archives/current", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous archive status=%d", rec.Code)
	}
}

type purgeFailStore struct{ *memory.Store }

func (purgeFailStore) DeleteAllRecords(context.Context, string) (int64, error) {
	return 0, errors.New("disk full")
}

func TestArchiveCurrentMonthPartialFailure(t *testing.T) {
	env := newTestEnv(t, withRecordStore(func(s *memory.Store) ports.RecordStore { return purgeFailStore{s} }))
	env.seed("u1", core.NewDate(2024, 5, 1), 3, 1000)

	rec := env.do(http.MethodPost, "/api/archives/current", "", env.token("u1"))
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	var out archiveResultView
	resp := decode(t, rec, &out)
	if resp.Notification == nil || resp.Notification.Type != NotificationWarning {
		t.Fatalf("expected warning notification, got %+v", resp.Notification)
	}
	if out.Archive.ID == "" {
		t.Fatal("partial response must carry the stored archive")
	}
	if _, found, _ := env.store.FindArchive(context.Background(), "u1", core.MonthKey{Year: 2024, Month: 5}); !found {
		t.Fatal("archive must exist after a partial failure")
	}
}

func TestArchiveBatch(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token("u1")

	env.seed("u1", core.NewDate(2024, 4, 2), 4, 1000)
	env.seed("u1", core.NewDate(2024, 3, 2), 2, 1000)
	keep := env.seed("u1", core.NewDate(2024, 5, 2), 1, 1000)

	// March is archived up front so the batch finds it taken.
	if rec := env.do(http.MethodPost, "/api/archives/batch", `{"months":["2024-03"]}`, tok); rec.Code != http.StatusOK {
		t.Fatalf("setup status=%d", rec.Code)
	}
	env.seed("u1", core.NewDate(2024, 3, 9), 1, 1000)

	rec := env.do(http.MethodPost, "/api/archives/batch",
		`{"months":["2024-04",{"year":2024,"month":3},"2024-01","2024-13"]}`, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch status=%d body=%s", rec.Code, rec.Body)
	}
	var out batchView
	resp := decode(t, rec, &out)
	if out.Archived != 1 || len(out.Outcomes) != 4 {
		t.Fatalf("unexpected batch result %+v", out)
	}
	want := map[string]string{
		"2024-04": "archived",
		"2024-03": "skipped",
		"2024-01": "skipped",
		"2024-13": "failed",
	}
	for _, o := range out.Outcomes {
		if want[o.Month] != o.Status {
			t.Errorf("%s: status %s want %s (%s)", o.Month, o.Status, want[o.Month], o.Reason)
		}
		if o.Status != "archived" && o.Reason == "" {
			t.Errorf("%s: missing reason", o.Month)
		}
	}
	if resp.Notification == nil || resp.Notification.Type != NotificationWarning {
		t.Fatalf("mixed outcome should warn, got %+v", resp.Notification)
	}

	left, _ := env.store.ListRecords(context.Background(), "u1")
	ids := map[string]bool{}
	for _, r := range left {
		ids[r.ID] = true
		if r.Date.Month() == 4 {
			t.Fatal("April records must be purged")
		}
	}
	if !ids[keep.ID] {
		t.Fatal("batch purge must not touch other months")
	}

	rec = env.do(http.MethodPost, "/api/archives/batch", `{"months":[]}`, tok)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty batch status=%d", rec.Code)
	}
	rec = env.do(http.MethodPost, "/api/archives/batch", "months=2024-05", tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("form batch status=%d", rec.Code)
	}
}

func TestCandidatesAndArchiveLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token("u1")

	env.seed("u1", core.NewDate(2024, 4, 2), 4, 1000)
	env.seed("u1", core.NewDate(2024, 5, 2), 1, 1000)

	rec := env.do(http.MethodGet, "/api/archives/candidates", "", tok)
	var groups []monthGroupView
	decode(t, rec, &groups)
	if len(groups) != 2 || groups[0].Month != 5 || groups[1].Month != 4 || groups[0].Archived {
		t.Fatalf("unexpected candidates %+v", groups)
	}

	rec = env.do(http.MethodPost, "/api/archives/batch", `{"months":["2024-04"]}`, tok)
	var batch batchView
	decode(t, rec, &batch)
	id := batch.Outcomes[0].ArchiveID

	rec = env.do(http.MethodGet, "/api/archives", "", tok)
	var list []archiveView
	decode(t, rec, &list)
	if len(list) != 1 || list[0].ID != id || list[0].Records != nil {
		t.Fatalf("unexpected list %+v", list)
	}

	rec = env.do(http.MethodGet, "/api/archives/"+id, "", tok)
	var detail archiveView
	decode(t, rec, &detail)
	if len(detail.Records) != 1 || detail.Records[0].TeacherProfit != "50.00" {
		t.Fatalf("unexpected detail %+v", detail)
	}

	// other users cannot see or delete it
	other := env.token("u2")
	if rec := env.do(http.MethodGet, "/api/archives/"+id, "", other); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign get status=%d", rec.Code)
	}
	if rec := env.do(http.MethodDelete, "/api/archives/"+id, "", other); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign delete status=%d", rec.Code)
	}

	if rec := env.do(http.MethodDelete, "/api/archives/"+id, "", tok); rec.Code != http.StatusOK {
		t.Fatalf("delete status=%d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/archives/"+id, "", tok); rec.Code != http.StatusNotFound {
		t.Fatalf("deleted archive status=%d", rec.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/auth/register", `{"email":"Ann@Example.com","password":"correct horse"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status=%d body=%s", rec.Code, rec.Body)
	}
	var session sessionView
	decode(t, rec, &session)
	if session.Token == "" || session.User.Email != "ann@example.com" {
		t.Fatalf("unexpected session %+v", session)
	}

	if rec := env.do(http.MethodPost, "/api/auth/register", `{"email":"ann@example.com","password":"another pass"}`, ""); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register status=%d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/auth/register", `{"email":"bob@example.com","password":"short"}`, ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("weak password status=%d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/auth/login", `{"email":"ann@example.com","password":"wrong password"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status=%d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/api/auth/login", "email=ann%40example.com&password=correct+horse", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", rec.Code, rec.Body)
	}
	decode(t, rec, &session)

	rec = env.do(http.MethodPost, "/api/records", `{"date":"2024-05-20","students_count":1,"price_per_student":"5"}`, session.Token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create with issued token status=%d", rec.Code)
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	env := newTestEnv(t, withRateLimit(1))
	tok := env.token("u1")
	body := `{"date":"2024-05-20","students_count":1,"price_per_student":"5"}`

	if rec := env.do(http.MethodPost, "/api/records", body, tok); rec.Code != http.StatusCreated {
		t.Fatalf("first status=%d", rec.Code)
	}
	rec := env.do(http.MethodPost, "/api/records", body, tok)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status=%d", rec.Code)
	}
	if resp := decode(t, rec, nil); resp.Error == nil || resp.Error.Code != "rate_limited" {
		t.Fatalf("unexpected body %s", rec.Body)
	}
	if rec := env.do(http.MethodGet, "/api/records", "", tok); rec.Code != http.StatusOK {
		t.Fatalf("reads are not limited, status=%d", rec.Code)
	}
}
