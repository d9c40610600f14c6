package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"budget/internal/core"
	applog "budget/internal/log"
	ports "budget/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Config selects the spreadsheet and the credentials.
type Config struct {
	SpreadsheetID      string
	IncomeSheet        string
	ExpenseSheet       string
	ServiceAccountJSON string
	ServiceAccountFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetNames    map[core.Kind]string
}

// Ensure interface conformance
var _ ports.Exporter = (*Client)(nil)

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	credentialsJSON, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created",
		applog.FieldComponent, applog.ComponentSheets,
		"spreadsheet_id", spreadsheetID)

	return newClient(svc, spreadsheetID, cfg.IncomeSheet, cfg.ExpenseSheet), nil
}

func newClient(svc *gsheet.Service, spreadsheetID, incomeSheet, expenseSheet string) *Client {
	incomeSheet = strings.TrimSpace(incomeSheet)
	if incomeSheet == "" {
		incomeSheet = "Incomes"
	}
	expenseSheet = strings.TrimSpace(expenseSheet)
	if expenseSheet == "" {
		expenseSheet = "Expenses"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetNames: map[core.Kind]string{
			core.Income:  incomeSheet,
			core.Expense: expenseSheet,
		},
	}
}

// loadCredentials prefers inline JSON over a key file.
func loadCredentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.ServiceAccountJSON) != "":
		return []byte(cfg.ServiceAccountJSON), nil
	case strings.TrimSpace(cfg.ServiceAccountFile) != "":
		b, err := os.ReadFile(strings.TrimSpace(cfg.ServiceAccountFile))
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

func (c *Client) sheetFor(kind core.Kind) (string, error) {
	name, ok := c.sheetNames[kind]
	if !ok {
		return "", fmt.Errorf("no sheet for kind %q: %w", kind, core.ErrInvalidKind)
	}
	return name, nil
}

// Append adds t as a new row at the bottom of its kind's sheet, unless a row
// with t.ID is already there.
func (c *Client) Append(ctx context.Context, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	sheet, err := c.sheetFor(t.Kind)
	if err != nil {
		return "", err
	}

	ids, err := c.readIDs(ctx, sheet)
	if err != nil {
		return "", err
	}
	if row := findRow(ids, t.ID); row >= 0 {
		return rowRef(sheet, row), nil
	}

	rng := columnsRange(sheet)
	vr := &gsheet.ValueRange{Values: [][]any{ports.Row(t)}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}

// Remove deletes the row whose ID column equals id.
func (c *Client) Remove(ctx context.Context, kind core.Kind, id string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	sheet, err := c.sheetFor(kind)
	if err != nil {
		return err
	}

	ids, err := c.readIDs(ctx, sheet)
	if err != nil {
		return err
	}
	row := findRow(ids, id)
	if row < 0 {
		return fmt.Errorf("remove %s from %s: %w", id, sheet, ports.ErrRowNotFound)
	}

	meta, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet metadata: %w", err)
	}
	sheetID, ok := sheetIDByTitle(meta.Sheets, sheet)
	if !ok {
		return fmt.Errorf("sheet %q not found in spreadsheet", sheet)
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(row),
					EndIndex:   int64(row + 1),
				},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d of %s: %w", row+1, sheet, err)
	}
	return nil
}

// readIDs fetches the ID column of sheet.
func (c *Client) readIDs(ctx context.Context, sheet string) ([][]any, error) {
	idCol := columnLetter(ports.ColID)
	rng := fmt.Sprintf("%s!%s:%s", quoteSheet(sheet), idCol, idCol)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

// rowRef is the A1 range of the zero-based row of sheet.
func rowRef(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", quoteSheet(sheet), row+1, columnLetter(ports.NumColumns-1), row+1)
}

// findRow returns the zero-based index of the first row whose first cell is
// id, or -1.
func findRow(values [][]any, id string) int {
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == id {
			return i
		}
	}
	return -1
}

func sheetIDByTitle(sheets []*gsheet.Sheet, title string) (int64, bool) {
	for _, s := range sheets {
		if s == nil || s.Properties == nil {
			continue
		}
		if s.Properties.Title == title {
			return s.Properties.SheetId, true
		}
	}
	return 0, false
}

// columnsRange is the A1 range spanning every export column of sheet.
func columnsRange(sheet string) string {
	return fmt.Sprintf("%s!A:%s", quoteSheet(sheet), columnLetter(ports.NumColumns-1))
}

// columnLetter maps a zero-based column index below 26 to its A1 letter.
func columnLetter(i int) string {
	return string(rune('A' + i))
}

// quoteSheet quotes sheet names that contain anything but letters and digits.
func quoteSheet(name string) string {
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return "'" + strings.ReplaceAll(name, "'", "''") + "'"
		}
	}
	return name
}
