package sync

import (
	"fmt"
	"log/slog"

	"github.com/pocketbase/pocketbase/core"
	"google.golang.org/api/sheets/v4"
)

// historyExportLimit caps how many runs one export writes.
const historyExportLimit = 200

// historySheetRange is the tab and range the export rewrites.
const (
	historySheetClearRange = "SyncRuns!A:J"
	historySheetStartCell  = "SyncRuns!A1"
)

// ExportRunHistory rewrites the SyncRuns tab of the configured spreadsheet
// with the most recent runs, newest first. Returns the number of runs
// exported.
func ExportRunHistory(app core.App, srv *sheets.Service, spreadsheetID string) (int, error) {
	records, err := app.FindRecordsByFilter(CollectionRuns, "", "-created", historyExportLimit, 0)
	if err != nil {
		return 0, fmt.Errorf("loading run history: %w", err)
	}

	rows := [][]interface{}{
		{"Run ID", "Kind", "Status", "Trigger", "Started", "Completed",
			"Total", "Created", "Updated", "Unchanged"},
	}
	for _, record := range records {
		run := recordToRun(record)
		rows = append(rows, []interface{}{
			run.ID, run.Kind, run.Status, run.Trigger, run.Started, run.Completed,
			run.Stats.Total, run.Stats.Created, run.Stats.Updated, run.Stats.Unchanged,
		})
	}

	_, err = srv.Spreadsheets.Values.
		Clear(spreadsheetID, historySheetClearRange, &sheets.ClearValuesRequest{}).
		Do()
	if err != nil {
		return 0, fmt.Errorf("clearing history sheet: %w", err)
	}

	_, err = srv.Spreadsheets.Values.
		Update(spreadsheetID, historySheetStartCell, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		Do()
	if err != nil {
		return 0, fmt.Errorf("writing history sheet: %w", err)
	}

	slog.Info("Run history exported", "runs", len(records), "spreadsheet", spreadsheetID)
	return len(records), nil
}
