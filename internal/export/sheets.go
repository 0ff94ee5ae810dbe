package export

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

// SheetsWriter implements Writer using the Google Sheets API.
type SheetsWriter struct {
	spreadsheetID string
	svc           *sheets.Service
}

// NewSheetsWriter creates a SheetsWriter authenticated with a service account JSON.
func NewSheetsWriter(ctx context.Context, spreadsheetID, credentialsJSON string) (*SheetsWriter, error) {
	creds, err := google.CredentialsFromJSON(
		ctx,
		[]byte(credentialsJSON),
		sheets.SpreadsheetsScope,
	)
	if err != nil {
		return nil, fmt.Errorf("parsing google credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	return &SheetsWriter{spreadsheetID: spreadsheetID, svc: svc}, nil
}

// Name identifies the writer in logs.
func (w *SheetsWriter) Name() string { return "sheets" }

// Write ensures the report sheets exist, clears and rewrites them, then
// appends one row to HISTORY.
func (w *SheetsWriter) Write(ctx context.Context, r Report) error {
	tables := Tables(r)
	names := make([]string, 0, len(tables)+1)
	ranges := make([]string, 0, len(tables))
	data := make([]*sheets.ValueRange, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name)
		ranges = append(ranges, t.Name+"!A:Z")
		data = append(data, &sheets.ValueRange{Range: t.Name + "!A1", Values: t.Rows})
	}
	names = append(names, SheetHistory)

	ids, err := w.ensureSheets(ctx, names...)
	if err != nil {
		return err
	}

	_, err = w.svc.Spreadsheets.Values.BatchClear(
		w.spreadsheetID,
		&sheets.BatchClearValuesRequest{Ranges: ranges},
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clearing sheets: %w", err)
	}

	_, err = w.svc.Spreadsheets.Values.BatchUpdate(
		w.spreadsheetID,
		&sheets.BatchUpdateValuesRequest{
			ValueInputOption: "USER_ENTERED",
			Data:             data,
		},
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("writing sheets: %w", err)
	}

	if err := w.appendHistory(ctx, r); err != nil {
		return err
	}

	return w.freezeHeaders(ctx, ids)
}

// appendHistory writes the header if HISTORY is empty, then appends the
// current totals.
func (w *SheetsWriter) appendHistory(ctx context.Context, r Report) error {
	existing, err := w.svc.Spreadsheets.Values.Get(w.spreadsheetID, SheetHistory+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading HISTORY header: %w", err)
	}
	if len(existing.Values) == 0 {
		_, err = w.svc.Spreadsheets.Values.Update(
			w.spreadsheetID,
			SheetHistory+"!A1",
			&sheets.ValueRange{Values: [][]any{historyHeader}},
		).ValueInputOption("USER_ENTERED").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("writing HISTORY header: %w", err)
		}
	}

	_, err = w.svc.Spreadsheets.Values.Append(
		w.spreadsheetID,
		SheetHistory+"!A:D",
		&sheets.ValueRange{Values: [][]any{historyRow(r.Snapshot)}},
	).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("appending HISTORY row: %w", err)
	}
	return nil
}

// freezeHeaders pins the first row of every report sheet and bolds it.
func (w *SheetsWriter) freezeHeaders(ctx context.Context, ids map[string]int64) error {
	var reqs []*sheets.Request
	for _, id := range ids {
		reqs = append(reqs,
			&sheets.Request{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId:        id,
						GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
			&sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{SheetId: id, StartRowIndex: 0, EndRowIndex: 1},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{TextFormat: &sheets.TextFormat{Bold: true}},
					},
					Fields: "userEnteredFormat.textFormat.bold",
				},
			},
		)
	}
	if len(reqs) == 0 {
		return nil
	}

	_, err := w.svc.Spreadsheets.BatchUpdate(
		w.spreadsheetID,
		&sheets.BatchUpdateSpreadsheetRequest{Requests: reqs},
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("formatting sheets: %w", err)
	}
	return nil
}

// ensureSheets creates any of the named sheets that do not already exist and
// returns the sheet id of each.
func (w *SheetsWriter) ensureSheets(ctx context.Context, names ...string) (map[string]int64, error) {
	spreadsheet, err := w.svc.Spreadsheets.Get(w.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("getting spreadsheet metadata: %w", err)
	}

	ids := make(map[string]int64, len(names))
	existing := make(map[string]int64, len(spreadsheet.Sheets))
	for _, s := range spreadsheet.Sheets {
		existing[s.Properties.Title] = s.Properties.SheetId
	}

	var requests []*sheets.Request
	for _, name := range names {
		if id, ok := existing[name]; ok {
			ids[name] = id
			continue
		}
		requests = append(requests, &sheets.Request{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: name},
			},
		})
	}

	if len(requests) == 0 {
		return ids, nil
	}

	resp, err := w.svc.Spreadsheets.BatchUpdate(
		w.spreadsheetID,
		&sheets.BatchUpdateSpreadsheetRequest{Requests: requests},
	).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("creating sheets: %w", err)
	}
	for _, reply := range resp.Replies {
		if reply.AddSheet != nil && reply.AddSheet.Properties != nil {
			ids[reply.AddSheet.Properties.Title] = reply.AddSheet.Properties.SheetId
		}
	}

	return ids, nil
}
