package sync

import (
	"github.com/pocketbase/pocketbase/core"
)

// OpportunitiesSync syncs the sales opportunity feeds.
type OpportunitiesSync struct {
	feedPipeline
}

// NewOpportunitiesSync creates the opportunities sync service.
func NewOpportunitiesSync(app core.App, client FeedFetcher, store RunStore) *OpportunitiesSync {
	return &OpportunitiesSync{feedPipeline{
		BaseSyncService: NewBaseSyncService(app, client),
		runStore:        store,
		kind:            KindOpportunities,
		collection:      CollectionOpportunities,
		mapEntry:        mapOpportunity,
		compareFields:   opportunityCompareFields,
	}}
}
