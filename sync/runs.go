package sync

import (
	"fmt"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

// Run is one sync execution for one record kind.
type Run struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Trigger   string `json:"trigger"`
	Error     string `json:"error,omitempty"`
	Started   string `json:"started,omitempty"`
	Completed string `json:"completed,omitempty"`
	Stats     Stats  `json:"stats"`
}

// Terminal reports whether the run is in an immutable end state.
func (r *Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// RunStore persists sync run lifecycle state. The single-flight invariant is
// enforced here, atomically against the store, not in application logic.
type RunStore interface {
	// CreateRun records a new pending run. Returns *ConflictError when a run
	// for the kind is already pending or running.
	CreateRun(kind, trigger string) (*Run, error)
	MarkRunning(runID string) error
	MarkCompleted(runID string, stats Stats) error
	MarkFailed(runID, message string) error
	GetRun(runID string) (*Run, error)
	// ActiveRuns returns every run still in pending or running state.
	ActiveRuns() ([]*Run, error)
	ActiveRunForKind(kind string) (*Run, error)
	LatestRun(kind string) (*Run, error)
}

const activeStatusFilter = "(status = '" + StatusPending + "' || status = '" + StatusRunning + "')"

// pbRunStore stores runs in the sync_runs collection.
type pbRunStore struct {
	app core.App
}

// NewRunStore creates the store-backed run store.
func NewRunStore(app core.App) RunStore {
	return &pbRunStore{app: app}
}

func (s *pbRunStore) CreateRun(kind, trigger string) (*Run, error) {
	if !isConcreteKind(kind) {
		return nil, fmt.Errorf("cannot create run for kind %q", kind)
	}

	var created *core.Record
	// Check-and-insert inside one transaction so two near-simultaneous
	// requests for the same kind cannot both pass the check.
	err := s.app.RunInTransaction(func(txApp core.App) error {
		existing, err := txApp.FindRecordsByFilter(
			CollectionRuns,
			fmt.Sprintf("kind = '%s' && %s", kind, activeStatusFilter),
			"", 1, 0,
		)
		if err != nil {
			return fmt.Errorf("checking in-flight runs: %w", err)
		}
		if len(existing) > 0 {
			return &ConflictError{Kind: kind}
		}

		col, err := txApp.FindCollectionByNameOrId(CollectionRuns)
		if err != nil {
			return fmt.Errorf("finding runs collection: %w", err)
		}
		record := core.NewRecord(col)
		record.Set("kind", kind)
		record.Set("status", StatusPending)
		record.Set("trigger", trigger)
		if err := txApp.Save(record); err != nil {
			return fmt.Errorf("creating run: %w", err)
		}
		created = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recordToRun(created), nil
}

func (s *pbRunStore) MarkRunning(runID string) error {
	return s.transition(runID, func(record *core.Record) error {
		if status := record.GetString("status"); status != StatusPending {
			return fmt.Errorf("run %s cannot start from status %s", runID, status)
		}
		record.Set("status", StatusRunning)
		record.Set("started", types.NowDateTime())
		return nil
	})
}

func (s *pbRunStore) MarkCompleted(runID string, stats Stats) error {
	return s.transition(runID, func(record *core.Record) error {
		if status := record.GetString("status"); status != StatusRunning {
			return fmt.Errorf("run %s cannot complete from status %s", runID, status)
		}
		record.Set("status", StatusCompleted)
		record.Set("completed", types.NowDateTime())
		setStatsFields(record, stats)
		return nil
	})
}

func (s *pbRunStore) MarkFailed(runID, message string) error {
	return s.transition(runID, func(record *core.Record) error {
		status := record.GetString("status")
		if status == StatusCompleted || status == StatusFailed {
			return fmt.Errorf("run %s already terminal (%s)", runID, status)
		}
		record.Set("status", StatusFailed)
		record.Set("completed", types.NowDateTime())
		record.Set("error", message)
		return nil
	})
}

func (s *pbRunStore) transition(runID string, mutate func(*core.Record) error) error {
	record, err := s.app.FindRecordById(CollectionRuns, runID)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", runID, err)
	}
	if err := mutate(record); err != nil {
		return err
	}
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("saving run %s: %w", runID, err)
	}
	return nil
}

func (s *pbRunStore) GetRun(runID string) (*Run, error) {
	record, err := s.app.FindRecordById(CollectionRuns, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return recordToRun(record), nil
}

func (s *pbRunStore) ActiveRuns() ([]*Run, error) {
	records, err := s.app.FindRecordsByFilter(CollectionRuns, activeStatusFilter, "-created", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("listing active runs: %w", err)
	}
	runs := make([]*Run, len(records))
	for i, record := range records {
		runs[i] = recordToRun(record)
	}
	return runs, nil
}

func (s *pbRunStore) ActiveRunForKind(kind string) (*Run, error) {
	records, err := s.app.FindRecordsByFilter(
		CollectionRuns,
		fmt.Sprintf("kind = '%s' && %s", kind, activeStatusFilter),
		"-created", 1, 0,
	)
	if err != nil {
		return nil, fmt.Errorf("finding active run for %s: %w", kind, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return recordToRun(records[0]), nil
}

func (s *pbRunStore) LatestRun(kind string) (*Run, error) {
	records, err := s.app.FindRecordsByFilter(
		CollectionRuns,
		fmt.Sprintf("kind = '%s'", kind),
		"-created", 1, 0,
	)
	if err != nil {
		return nil, fmt.Errorf("finding latest run for %s: %w", kind, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return recordToRun(records[0]), nil
}

func setStatsFields(record *core.Record, stats Stats) {
	record.Set("total", stats.Total)
	record.Set("created_count", stats.Created)
	record.Set("updated_count", stats.Updated)
	record.Set("unchanged_count", stats.Unchanged)
	record.Set("error_count", stats.Errors)
	record.Set("duration", stats.Duration)
}

func recordToRun(record *core.Record) *Run {
	return &Run{
		ID:        record.Id,
		Kind:      record.GetString("kind"),
		Status:    record.GetString("status"),
		Trigger:   record.GetString("trigger"),
		Error:     record.GetString("error"),
		Started:   record.GetString("started"),
		Completed: record.GetString("completed"),
		Stats: Stats{
			Total:     record.GetInt("total"),
			Created:   record.GetInt("created_count"),
			Updated:   record.GetInt("updated_count"),
			Unchanged: record.GetInt("unchanged_count"),
			Errors:    record.GetInt("error_count"),
			Duration:  record.GetInt("duration"),
		},
	}
}
