package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"tutorledger/internal/core"
	ports "tutorledger/internal/sheets"
)

// Client exports archives to one spreadsheet, one tab per archive.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
}

// Ensure interface conformance
var _ ports.ArchiveExporter = (*Client)(nil)

// Credentials selects the service account used to reach the Sheets API.
// Inline JSON wins over the file.
type Credentials struct {
	ServiceAccountJSON string
	ServiceAccountFile string
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, spreadsheetID string, creds Credentials) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}

	credentialsJSON, err := readCredentials(ctx, creds)
	if err != nil {
		return nil, err
	}

	return NewWithOptions(ctx, spreadsheetID,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
}

// NewWithOptions creates a client from raw client options, e.g. a custom
// endpoint.
func NewWithOptions(ctx context.Context, spreadsheetID string, opts ...goption.ClientOption) (*Client, error) {
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", spreadsheetID)
	return &Client{svc: svc, spreadsheetID: spreadsheetID}, nil
}

func readCredentials(ctx context.Context, creds Credentials) ([]byte, error) {
	inline := strings.TrimSpace(creds.ServiceAccountJSON)
	file := strings.TrimSpace(creds.ServiceAccountFile)

	switch {
	case inline != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		return []byte(inline), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		slog.InfoContext(ctx, "Read credentials file", "path", file, "size", len(data))
		return data, nil
	}
	return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
}

// ExportArchive creates the archive's tab if needed and overwrites its content.
func (c *Client) ExportArchive(ctx context.Context, a core.Archive) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	title := ports.TabName(a.UserID, a.Key())

	_, found, err := c.findTab(ctx, title)
	if err != nil {
		return "", err
	}
	if !found {
		req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}}}
		if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("add tab %s: %w", title, err)
		}
	} else {
		_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, quoteTab(title), &gsheet.ClearValuesRequest{}).
			Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("clear tab %s: %w", title, err)
		}
	}

	rows := ports.BuildRows(a)
	rng := fmt.Sprintf("%s!A1", quoteTab(title))
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("write tab %s: %w", title, err)
	}

	slog.InfoContext(ctx, "Archive exported to sheet",
		"archive_id", a.ID,
		"tab", title,
		"rows", len(rows))

	return fmt.Sprintf("%s!A1:F%d", quoteTab(title), len(rows)), nil
}

// RemoveArchive deletes the tab of an archive.
func (c *Client) RemoveArchive(ctx context.Context, userID string, key core.MonthKey) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	title := ports.TabName(userID, key)

	sheetID, found, err := c.findTab(ctx, title)
	if err != nil {
		return err
	}
	if !found {
		slog.DebugContext(ctx, "Tab already gone", "tab", title)
		return nil
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		DeleteSheet: &gsheet.DeleteSheetRequest{SheetId: sheetID},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete tab %s: %w", title, err)
	}
	slog.InfoContext(ctx, "Archive tab removed", "tab", title)
	return nil
}

func (c *Client) findTab(ctx context.Context, title string) (int64, bool, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, false, fmt.Errorf("read spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return sh.Properties.SheetId, true, nil
		}
	}
	return 0, false, nil
}

// quoteTab wraps a tab title for A1 notation.
func quoteTab(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
