package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"github.com/opsboard/reportsync/google"
)

// defaultHistoryLimit bounds the history endpoint's page size.
const defaultHistoryLimit = 50

// requireAuth wraps a handler function to require authentication.
func requireAuth(handler func(*core.RequestEvent) error) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if e.Auth == nil {
			return apis.NewUnauthorizedError("Authentication required", nil)
		}
		return handler(e)
	}
}

// InitializeSyncService starts the scheduler and registers the sync API
// endpoints on the app router.
func InitializeSyncService(app *pocketbase.PocketBase, e *core.ServeEvent) error {
	scheduler := GetScheduler(app)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("starting sync scheduler: %w", err)
	}

	e.Router.POST("/api/custom/sync/run", requireAuth(func(e *core.RequestEvent) error {
		return handleRunSync(e, scheduler)
	}))
	e.Router.GET("/api/custom/sync/status", requireAuth(func(e *core.RequestEvent) error {
		return handleSyncStatus(e, scheduler)
	}))
	e.Router.GET("/api/custom/sync/history", requireAuth(handleSyncHistory))
	e.Router.GET("/api/custom/sync/changes", requireAuth(handleSyncChanges))
	e.Router.DELETE("/api/custom/sync/running", requireAuth(func(e *core.RequestEvent) error {
		return handleCancelSync(e, scheduler)
	}))
	e.Router.POST("/api/custom/sync/export-history", requireAuth(handleExportHistory))

	return nil
}

// handleRunSync requests a sync for one kind, or for all kinds.
func handleRunSync(e *core.RequestEvent, scheduler *Scheduler) error {
	kind := e.Request.URL.Query().Get("kind")
	if kind == "" {
		kind = KindAll
	}
	if kind != KindAll && !isConcreteKind(kind) {
		return apis.NewBadRequestError(fmt.Sprintf("unknown kind %q", kind), nil)
	}

	runIDs, err := scheduler.Orchestrator().RequestSync(kind, "api")
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return apis.NewApiError(http.StatusConflict, conflict.Error(), nil)
		}
		return apis.NewApiError(http.StatusInternalServerError, err.Error(), nil)
	}

	return e.JSON(http.StatusAccepted, map[string]interface{}{
		"run_ids": runIDs,
	})
}

// handleSyncStatus returns the latest run per kind.
func handleSyncStatus(e *core.RequestEvent, scheduler *Scheduler) error {
	kind := e.Request.URL.Query().Get("kind")

	kinds := ConcreteKinds
	if kind != "" {
		if !isConcreteKind(kind) {
			return apis.NewBadRequestError(fmt.Sprintf("unknown kind %q", kind), nil)
		}
		kinds = []string{kind}
	}

	statuses := map[string]*Run{}
	for _, k := range kinds {
		run, err := scheduler.Orchestrator().Status(k)
		if err != nil {
			return apis.NewApiError(http.StatusInternalServerError, err.Error(), nil)
		}
		statuses[k] = run // nil when the kind has never synced
	}
	return e.JSON(http.StatusOK, statuses)
}

// handleSyncHistory lists recent runs, newest first.
func handleSyncHistory(e *core.RequestEvent) error {
	kind := e.Request.URL.Query().Get("kind")
	limit := defaultHistoryLimit
	if v := e.Request.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	filter := ""
	if kind != "" {
		if !isConcreteKind(kind) {
			return apis.NewBadRequestError(fmt.Sprintf("unknown kind %q", kind), nil)
		}
		filter = fmt.Sprintf("kind = '%s'", kind)
	}

	records, err := e.App.FindRecordsByFilter(CollectionRuns, filter, "-created", limit, 0)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, err.Error(), nil)
	}
	runs := make([]*Run, len(records))
	for i, record := range records {
		runs[i] = recordToRun(record)
	}
	return e.JSON(http.StatusOK, runs)
}

// handleSyncChanges lists the field-level change entries for one run.
func handleSyncChanges(e *core.RequestEvent) error {
	runID := e.Request.URL.Query().Get("run")
	if runID == "" {
		return apis.NewBadRequestError("run parameter is required", nil)
	}

	records, err := e.App.FindRecordsByFilter(
		CollectionChanges,
		fmt.Sprintf("run = '%s'", sanitizeID(runID)),
		"created", 0, 0,
	)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, err.Error(), nil)
	}

	changes := make([]map[string]interface{}, len(records))
	for i, record := range records {
		changes[i] = map[string]interface{}{
			"entity_type": record.GetString("entity_type"),
			"entity_id":   record.GetString("entity_id"),
			"external_id": record.GetString("external_id"),
			"change_type": record.GetString("change_type"),
			"field":       record.GetString("field"),
			"old_value":   record.GetString("old_value"),
			"new_value":   record.GetString("new_value"),
		}
	}
	return e.JSON(http.StatusOK, changes)
}

// handleCancelSync marks an in-flight run for a kind as cancelled.
func handleCancelSync(e *core.RequestEvent, scheduler *Scheduler) error {
	kind := e.Request.URL.Query().Get("kind")
	if !isConcreteKind(kind) {
		return apis.NewBadRequestError("kind parameter is required", nil)
	}

	run, err := scheduler.Orchestrator().Cancel(kind)
	if err != nil {
		return apis.NewBadRequestError(err.Error(), nil)
	}
	return e.JSON(http.StatusOK, run)
}

// handleExportHistory pushes the run history to the configured spreadsheet.
func handleExportHistory(e *core.RequestEvent) error {
	if !google.IsEnabled() {
		return apis.NewBadRequestError("Google Sheets export is not enabled", nil)
	}
	spreadsheetID := google.GetSpreadsheetID()
	if spreadsheetID == "" {
		return apis.NewBadRequestError("no spreadsheet configured", nil)
	}

	srv, err := google.NewSheetsClient(context.Background())
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, err.Error(), nil)
	}

	exported, err := ExportRunHistory(e.App, srv, spreadsheetID)
	if err != nil {
		slog.Error("Run history export failed", "error", err)
		return apis.NewApiError(http.StatusInternalServerError, err.Error(), nil)
	}
	return e.JSON(http.StatusOK, map[string]interface{}{"exported": exported})
}

// sanitizeID strips characters that could break out of a filter literal.
// Record ids are alphanumeric; anything else is dropped.
func sanitizeID(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		}
	}
	return string(out)
}
