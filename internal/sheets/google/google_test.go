package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"tutorledger/internal/core"
)

// fakeSheets is a minimal in-process Sheets API covering the calls the
// exporter makes.
type fakeSheets struct {
	mu     sync.Mutex
	nextID int64
	tabs   map[string]int64
	values map[string][][]any
	calls  []string
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{tabs: map[string]int64{}, values: map[string][][]any{}}
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/v4/spreadsheets/"):
		f.calls = append(f.calls, "get")
		var ss gsheet.Spreadsheet
		for title, id := range f.tabs {
			ss.Sheets = append(ss.Sheets, &gsheet.Sheet{Properties: &gsheet.SheetProperties{SheetId: id, Title: title}})
		}
		_ = json.NewEncoder(w).Encode(ss)

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, rq := range req.Requests {
			switch {
			case rq.AddSheet != nil:
				f.calls = append(f.calls, "add")
				f.nextID++
				f.tabs[rq.AddSheet.Properties.Title] = f.nextID
			case rq.DeleteSheet != nil:
				f.calls = append(f.calls, "delete")
				for title, id := range f.tabs {
					if id == rq.DeleteSheet.SheetId {
						delete(f.tabs, title)
						delete(f.values, title)
					}
				}
			}
		}
		_, _ = w.Write([]byte(`{"spreadsheetId":"sid"}`))

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		f.calls = append(f.calls, "clear")
		delete(f.values, tabOf(path))
		_, _ = w.Write([]byte(`{}`))

	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		f.calls = append(f.calls, "update")
		if r.URL.Query().Get("valueInputOption") != "RAW" {
			http.Error(w, "expected RAW", http.StatusBadRequest)
			return
		}
		var vr gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.values[tabOf(path)] = vr.Values
		_, _ = w.Write([]byte(`{}`))

	default:
		http.Error(w, "unexpected call "+r.Method+" "+path, http.StatusNotImplemented)
	}
}

// tabOf extracts the quoted tab title from a values path.
func tabOf(path string) string {
	_, rng, _ := strings.Cut(path, "/values/")
	rng = strings.TrimSuffix(rng, ":clear")
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		rng = rng[:i]
	}
	return strings.ReplaceAll(strings.Trim(rng, "'"), "''", "'")
}

func newTestClient(t *testing.T) (*Client, *fakeSheets) {
	t.Helper()
	fake := newFakeSheets()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewWithOptions(context.Background(), "sid",
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	return c, fake
}

func testArchive(t *testing.T) core.Archive {
	t.Helper()
	r, err := core.NewRecord("3f2a9c1e-7b44", core.RecordInput{
		Date:            core.NewDate(2024, 5, 20),
		StudentsCount:   15,
		PricePerStudent: core.Money{Cents: 1500},
	})
	if err != nil {
		t.Fatal(err)
	}
	a := core.NewArchive("3f2a9c1e-7b44", core.MonthKey{Year: 2024, Month: 5}, []core.Record{r})
	a.ID = "a1"
	return a
}

func TestClient_ExportArchive(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	a := testArchive(t)

	ref, err := c.ExportArchive(ctx, a)
	if err != nil {
		t.Fatalf("ExportArchive: %v", err)
	}
	if ref != "'2024-05 3f2a9c1e'!A1:F8" {
		t.Errorf("ref = %q", ref)
	}

	rows := fake.values["2024-05 3f2a9c1e"]
	if len(rows) != 8 {
		t.Fatalf("written rows = %d, want 8", len(rows))
	}
	if rows[4][1] != "225.00" {
		t.Errorf("total income cell = %v", rows[4][1])
	}
	if strings.Join(fake.calls, ",") != "get,add,update" {
		t.Errorf("calls = %v", fake.calls)
	}

	// Re-export clears the existing tab instead of adding a second one.
	fake.calls = nil
	if _, err := c.ExportArchive(ctx, a); err != nil {
		t.Fatalf("re-export: %v", err)
	}
	if strings.Join(fake.calls, ",") != "get,clear,update" {
		t.Errorf("calls = %v", fake.calls)
	}
	if len(fake.tabs) != 1 {
		t.Errorf("tabs = %v", fake.tabs)
	}
}

func TestClient_RemoveArchive(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	a := testArchive(t)

	if _, err := c.ExportArchive(ctx, a); err != nil {
		t.Fatalf("ExportArchive: %v", err)
	}
	if err := c.RemoveArchive(ctx, a.UserID, a.Key()); err != nil {
		t.Fatalf("RemoveArchive: %v", err)
	}
	if len(fake.tabs) != 0 {
		t.Fatalf("tab not removed: %v", fake.tabs)
	}

	// Missing tab is a no-op.
	fake.calls = nil
	if err := c.RemoveArchive(ctx, a.UserID, a.Key()); err != nil {
		t.Fatalf("RemoveArchive on missing tab: %v", err)
	}
	if strings.Join(fake.calls, ",") != "get" {
		t.Errorf("calls = %v", fake.calls)
	}
}

func TestClient_NotInitialized(t *testing.T) {
	c := &Client{spreadsheetID: "sid"}
	if _, err := c.ExportArchive(context.Background(), core.Archive{}); err == nil {
		t.Fatal("expected error without service")
	}
	if err := c.RemoveArchive(context.Background(), "u", core.MonthKey{Year: 2024, Month: 1}); err == nil {
		t.Fatal("expected error without service")
	}
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, " ", Credentials{ServiceAccountJSON: "{}"}); err == nil {
		t.Error("expected error for missing spreadsheet id")
	}
	if _, err := New(ctx, "sid", Credentials{}); err == nil || !strings.Contains(err.Error(), "missing service account") {
		t.Errorf("expected missing credentials error, got %v", err)
	}
	if _, err := New(ctx, "sid", Credentials{ServiceAccountFile: t.TempDir() + "/nope.json"}); err == nil ||
		!strings.Contains(err.Error(), "read service account file") {
		t.Errorf("expected file error, got %v", err)
	}
}

func TestQuoteTab(t *testing.T) {
	if got := quoteTab("2024-05 o'neil"); got != "'2024-05 o''neil'" {
		t.Errorf("quoteTab = %q", got)
	}
}
