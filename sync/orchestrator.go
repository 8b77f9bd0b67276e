package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// runTimeout bounds one run's execution. Generous: a full project sync with
// detail enrichment issues hundreds of paced fetches.
const runTimeout = 30 * time.Minute

// ErrRunCancelled is returned by a pipeline that noticed its run was
// cancelled at a checkpoint. The run record already carries the cancellation
// message; the orchestrator must not overwrite it.
var ErrRunCancelled = errors.New("run cancelled")

// Service is one record kind's sync pipeline.
type Service interface {
	Sync(ctx context.Context, runID string) error
	Name() string
	GetStats() Stats
}

// Event is a run lifecycle notification for external observers (the UI
// layer).
type Event struct {
	RunID  string `json:"run_id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Stats  Stats  `json:"stats"`
}

// EventHandler consumes lifecycle events.
type EventHandler func(Event)

// Orchestrator sequences sync runs: it guards the single-flight invariant
// through the run store, schedules execution, and reports lifecycle events.
// All run state lives in the store; the orchestrator itself holds no status
// cache.
type Orchestrator struct {
	store RunStore

	mu        sync.RWMutex
	factories map[string]func() Service
	handlers  []EventHandler
}

// NewOrchestrator creates an orchestrator over the given run store.
func NewOrchestrator(store RunStore) *Orchestrator {
	return &Orchestrator{
		store:     store,
		factories: make(map[string]func() Service),
	}
}

// RegisterService registers a factory for one kind's sync service. A fresh
// service instance is built per run so counters never leak between runs.
func (o *Orchestrator) RegisterService(kind string, factory func() Service) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.factories[kind] = factory
	slog.Info("Registered sync service", "kind", kind)
}

// Subscribe adds a lifecycle event handler.
func (o *Orchestrator) Subscribe(handler EventHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers = append(o.handlers, handler)
}

func (o *Orchestrator) notify(event Event) {
	o.mu.RLock()
	handlers := make([]EventHandler, len(o.handlers))
	copy(handlers, o.handlers)
	o.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// RequestSync creates pending runs for the requested kind and schedules
// their execution. KindAll expands to one run per concrete kind. The request
// fails synchronously with *ConflictError when any requested kind already
// has an in-flight run.
func (o *Orchestrator) RequestSync(kind, trigger string) ([]string, error) {
	kinds := []string{kind}
	if kind == KindAll {
		kinds = ConcreteKinds
	}

	for _, k := range kinds {
		o.mu.RLock()
		_, registered := o.factories[k]
		o.mu.RUnlock()
		if !registered {
			return nil, fmt.Errorf("unknown sync kind: %s", k)
		}
		active, err := o.store.ActiveRunForKind(k)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, &ConflictError{Kind: k}
		}
	}

	var runIDs []string
	for _, k := range kinds {
		run, err := o.store.CreateRun(k, trigger)
		if err != nil {
			// A conflicting request slipped in between the pre-check and
			// this create; fail the runs created so far and surface the
			// conflict.
			for _, id := range runIDs {
				if markErr := o.store.MarkFailed(id, err.Error()); markErr != nil {
					slog.Error("Failed to abort sibling run", "runId", id, "error", markErr)
				}
			}
			return nil, err
		}
		runIDs = append(runIDs, run.ID)
	}

	for i, k := range kinds {
		go o.execute(runIDs[i], k)
	}
	return runIDs, nil
}

// execute drives one run through its lifecycle.
func (o *Orchestrator) execute(runID, kind string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Sync panicked", "kind", kind, "runId", runID, "panic", r)
			msg := fmt.Sprintf("panic: %v", r)
			if err := o.store.MarkFailed(runID, msg); err != nil {
				slog.Error("Failed to mark panicked run", "runId", runID, "error", err)
			}
			o.notify(Event{RunID: runID, Kind: kind, Status: StatusFailed, Error: msg})
		}
	}()

	if err := o.store.MarkRunning(runID); err != nil {
		// Usually: cancelled while still pending.
		slog.Warn("Run did not start", "kind", kind, "runId", runID, "error", err)
		return
	}
	o.notify(Event{RunID: runID, Kind: kind, Status: StatusRunning})

	o.mu.RLock()
	factory := o.factories[kind]
	o.mu.RUnlock()
	service := factory()

	// Independent context: run lifetime must not depend on the HTTP request
	// that triggered it.
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	started := time.Now()
	err := service.Sync(ctx, runID)
	stats := service.GetStats()
	stats.Duration = int(time.Since(started).Seconds())

	if err != nil {
		o.finishFailed(runID, kind, stats, err)
		return
	}

	if markErr := o.store.MarkCompleted(runID, stats); markErr != nil {
		// The run reached a terminal state underneath us (cancellation);
		// report what the store says.
		slog.Warn("Run completed but could not be marked", "runId", runID, "error", markErr)
		o.notifyStored(runID, kind, stats)
		return
	}
	slog.Info("Sync run completed", "kind", kind, "runId", runID,
		"total", stats.Total, "created", stats.Created,
		"updated", stats.Updated, "unchanged", stats.Unchanged)
	o.notify(Event{RunID: runID, Kind: kind, Status: StatusCompleted, Stats: stats})
}

func (o *Orchestrator) finishFailed(runID, kind string, stats Stats, err error) {
	if errors.Is(err, ErrRunCancelled) {
		// Already failed with the cancellation message.
		o.notifyStored(runID, kind, stats)
		return
	}
	slog.Error("Sync run failed", "kind", kind, "runId", runID, "error", err)
	if markErr := o.store.MarkFailed(runID, err.Error()); markErr != nil {
		slog.Error("Failed to mark failed run", "runId", runID, "error", markErr)
	}
	o.notify(Event{RunID: runID, Kind: kind, Status: StatusFailed, Error: err.Error(), Stats: stats})
}

// notifyStored emits an event reflecting the run's stored terminal state.
func (o *Orchestrator) notifyStored(runID, kind string, stats Stats) {
	run, err := o.store.GetRun(runID)
	if err != nil {
		slog.Error("Failed to load run for event", "runId", runID, "error", err)
		return
	}
	o.notify(Event{RunID: runID, Kind: kind, Status: run.Status, Error: run.Error, Stats: stats})
}

// Cancel marks an in-flight run for the kind as failed with the fixed
// cancellation message. It does not interrupt in-flight network calls; the
// pipeline stops at its next checkpoint.
func (o *Orchestrator) Cancel(kind string) (*Run, error) {
	active, err := o.store.ActiveRunForKind(kind)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, fmt.Errorf("no in-flight run for kind %s", kind)
	}
	if err := o.store.MarkFailed(active.ID, cancelledMessage); err != nil {
		return nil, err
	}
	slog.Info("Sync run cancelled", "kind", kind, "runId", active.ID)
	o.notify(Event{RunID: active.ID, Kind: kind, Status: StatusFailed, Error: cancelledMessage})
	return o.store.GetRun(active.ID)
}

// RecoverInterruptedRuns fails any run left pending or running by a previous
// process lifetime. Called at startup before any new run may begin.
func (o *Orchestrator) RecoverInterruptedRuns() (int, error) {
	active, err := o.store.ActiveRuns()
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, run := range active {
		if err := o.store.MarkFailed(run.ID, interruptedMessage); err != nil {
			slog.Error("Failed to recover interrupted run", "runId", run.ID, "error", err)
			continue
		}
		slog.Warn("Recovered interrupted run", "kind", run.Kind, "runId", run.ID)
		recovered++
	}
	return recovered, nil
}

// Status returns the most recent run for a kind, or nil when the kind has
// never synced.
func (o *Orchestrator) Status(kind string) (*Run, error) {
	return o.store.LatestRun(kind)
}
