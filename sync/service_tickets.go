package sync

import (
	"github.com/pocketbase/pocketbase/core"
)

// ServiceTicketsSync syncs the service ticket feeds.
type ServiceTicketsSync struct {
	feedPipeline
}

// NewServiceTicketsSync creates the service tickets sync service.
func NewServiceTicketsSync(app core.App, client FeedFetcher, store RunStore) *ServiceTicketsSync {
	return &ServiceTicketsSync{feedPipeline{
		BaseSyncService: NewBaseSyncService(app, client),
		runStore:        store,
		kind:            KindServiceTickets,
		collection:      CollectionServiceTickets,
		mapEntry:        mapServiceTicket,
		compareFields:   ticketCompareFields,
	}}
}
