package sync

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pocketbase/pocketbase/core"
	"github.com/robfig/cron/v3"

	"github.com/opsboard/reportsync/ratelimit"
	"github.com/opsboard/reportsync/reportserver"
)

// nightlySchedule is when the full sync of all record kinds runs.
const nightlySchedule = "0 3 * * *"

// Scheduler owns the orchestrator and drives scheduled syncs.
type Scheduler struct {
	app          core.App
	cron         *cron.Cron
	orchestrator *Orchestrator
	mu           sync.Mutex
	running      bool
}

var (
	schedulerOnce     sync.Once
	schedulerInstance *Scheduler
)

// GetScheduler returns the process-wide scheduler, creating it on first use.
func GetScheduler(app core.App) *Scheduler {
	schedulerOnce.Do(func() {
		schedulerInstance = NewScheduler(app)
	})
	return schedulerInstance
}

// NewScheduler creates a scheduler over a fresh orchestrator and run store.
func NewScheduler(app core.App) *Scheduler {
	return &Scheduler{
		app:          app,
		cron:         cron.New(),
		orchestrator: NewOrchestrator(NewRunStore(app)),
	}
}

// Orchestrator exposes the owned orchestrator to the API layer.
func (s *Scheduler) Orchestrator() *Orchestrator {
	return s.orchestrator
}

// Start registers the sync services, recovers runs interrupted by the last
// shutdown, and begins the nightly schedule.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	limiter := ratelimit.New(nil)
	client := reportserver.NewClient(reportserver.ConfigFromEnv(), limiter)
	store := NewRunStore(s.app)

	s.orchestrator.RegisterService(KindProjects, func() Service {
		return NewProjectsSync(s.app, client, store)
	})
	s.orchestrator.RegisterService(KindOpportunities, func() Service {
		return NewOpportunitiesSync(s.app, client, store)
	})
	s.orchestrator.RegisterService(KindServiceTickets, func() Service {
		return NewServiceTicketsSync(s.app, client, store)
	})

	recovered, err := s.orchestrator.RecoverInterruptedRuns()
	if err != nil {
		return fmt.Errorf("recovering interrupted runs: %w", err)
	}
	if recovered > 0 {
		slog.Warn("Failed runs left by previous process lifetime", "count", recovered)
	}

	if _, err := s.cron.AddFunc(nightlySchedule, s.runNightlySync); err != nil {
		return fmt.Errorf("adding nightly schedule: %w", err)
	}
	s.cron.Start()
	s.running = true

	slog.Info("Sync scheduler started", "schedule", nightlySchedule)
	return nil
}

// Stop gracefully stops the scheduler. In-flight runs keep going; their
// state machine does not depend on the cron loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	slog.Info("Sync scheduler stopped")
}

func (s *Scheduler) runNightlySync() {
	slog.Info("Starting scheduled nightly sync")
	runIDs, err := s.orchestrator.RequestSync(KindAll, "scheduled")
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			slog.Warn("Nightly sync skipped, run already in flight", "kind", conflict.Kind)
			return
		}
		slog.Error("Nightly sync request failed", "error", err)
		return
	}
	slog.Info("Nightly sync scheduled", "runs", len(runIDs))
}
