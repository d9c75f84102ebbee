// Package export appends comparison reports to a Google Sheet so analysts
// can work on the rows outside the dashboard.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ledgerdiff/internal/core"
	"ledgerdiff/internal/diff"
)

type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// NewFromEnv creates an exporter using environment variables and service
// account credentials.
// Required: GOOGLE_SPREADSHEET_ID.
// Optional: EXPORT_SHEET_NAME (default "Reports"); auth via
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Exporter, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	sheetName := strings.TrimSpace(os.Getenv("EXPORT_SHEET_NAME"))
	if sheetName == "" {
		sheetName = "Reports"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Exporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// ExportReport appends the report's change rows, preceded by a pair header,
// and returns the updated range.
func (e *Exporter) ExportReport(ctx context.Context, key core.ComparisonKey, rep *diff.Report) (string, error) {
	if e.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	values := make([][]any, 0, len(rep.DailyReport)+2)
	values = append(values, []any{
		fmt.Sprintf("Comparison %s vs %s", key.Old, key.New),
		"", "", "", "", "", "", "", "",
	})
	values = append(values, []any{
		"Type", "Project Code", "Project", "Sector", "Department",
		"Period", "Amount Before", "Amount After", "Diff", "Probability",
	})
	for _, r := range rep.DailyReport {
		values = append(values, changeRowValues(r))
	}

	rng := fmt.Sprintf("%s!A:J", e.sheetName)
	vr := &gsheet.ValueRange{Values: values}

	resp, err := e.svc.Spreadsheets.Values.Append(e.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append report to sheet %s: %w", e.sheetName, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}

	slog.InfoContext(ctx, "Report exported to Google Sheets",
		"date_old", key.Old.String(),
		"date_new", key.New.String(),
		"rows", len(rep.DailyReport),
		"range", ref)
	return ref, nil
}

func changeRowValues(r core.ChangeRow) []any {
	prob := any("")
	if r.Probability != nil {
		prob = *r.Probability
	}
	diffVal, _ := r.AmountDiff.Float64()
	beforeVal, _ := r.AmountBefore.Float64()
	afterVal, _ := r.AmountAfter.Float64()
	return []any{
		string(r.Type), r.ProjectCode, r.ProjectName, r.SectorName,
		r.DepartmentName, r.Period, beforeVal, afterVal, diffVal, prob,
	}
}
