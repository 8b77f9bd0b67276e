package sync

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/opsboard/reportsync/reportserver"
)

// Record kinds. The concrete kinds each own a canonical collection; the
// detail kind only exists as a feed classification and never syncs on its
// own.
const (
	KindProjects       = reportserver.KindProjects
	KindOpportunities  = reportserver.KindOpportunities
	KindServiceTickets = reportserver.KindServiceTickets
	KindProjectDetail  = reportserver.KindProjectDetail
	KindAll            = "all"
)

// ConcreteKinds lists the kinds that have their own canonical collection and
// sync service, in the order KindAll expands them.
var ConcreteKinds = []string{KindProjects, KindOpportunities, KindServiceTickets}

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Fixed failure messages for the two forced run terminations.
const (
	cancelledMessage   = "cancelled by user"
	interruptedMessage = "interrupted by restart"
)

// Change entry types.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
)

// Collection names.
const (
	CollectionFeeds          = "feeds"
	CollectionProjects       = "projects"
	CollectionOpportunities  = "opportunities"
	CollectionServiceTickets = "service_tickets"
	CollectionRuns           = "sync_runs"
	CollectionChanges        = "sync_changes"
)

func isConcreteKind(kind string) bool {
	for _, k := range ConcreteKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func collectionForKind(kind string) string {
	switch kind {
	case KindProjects:
		return CollectionProjects
	case KindOpportunities:
		return CollectionOpportunities
	case KindServiceTickets:
		return CollectionServiceTickets
	default:
		return ""
	}
}

// Stats holds the per-run counters.
type Stats struct {
	Total     int `json:"total"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
	Duration  int `json:"duration"`
}

// ConfigError indicates a kind has no active feed configured; the run fails
// immediately without touching the network.
type ConfigError struct {
	Kind string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("no active feed configured for kind %s", e.Kind)
}

// ConflictError indicates a duplicate in-flight run for a kind. Surfaced
// synchronously at request time; runs are never queued.
type ConflictError struct {
	Kind string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync already in flight for kind %s", e.Kind)
}

// Settings are the sync tunables read from the environment on each run, so
// changes apply without a restart.
type Settings struct {
	LookbackDays    int
	AdaptiveEnabled bool
	Locations       []string
}

// LoadSettings reads SYNC_LOOKBACK_DAYS, SYNC_ADAPTIVE_ENABLED and
// SYNC_LOCATIONS, applying defaults of 90 days, adaptive on, no location
// filter.
func LoadSettings() Settings {
	settings := Settings{
		LookbackDays:    90,
		AdaptiveEnabled: true,
	}

	if v := os.Getenv("SYNC_LOOKBACK_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			settings.LookbackDays = days
		}
	}
	if v := os.Getenv("SYNC_ADAPTIVE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			settings.AdaptiveEnabled = enabled
		}
	}
	if v := os.Getenv("SYNC_LOCATIONS"); v != "" {
		for _, loc := range strings.Split(v, ",") {
			if loc = strings.TrimSpace(loc); loc != "" {
				settings.Locations = append(settings.Locations, loc)
			}
		}
	}
	return settings
}
