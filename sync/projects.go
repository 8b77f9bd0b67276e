package sync

import (
	"github.com/pocketbase/pocketbase/core"
)

// ProjectsSync syncs the project summary feeds. Projects are the only kind
// with adaptive detail enrichment: when a summary feed is paired with an
// active detail feed, each project's sub-regions are fetched and their
// status/hours override the summary's own derivations.
type ProjectsSync struct {
	feedPipeline
}

// NewProjectsSync creates the projects sync service.
func NewProjectsSync(app core.App, client FeedFetcher, store RunStore) *ProjectsSync {
	return &ProjectsSync{feedPipeline{
		BaseSyncService: NewBaseSyncService(app, client),
		runStore:        store,
		kind:            KindProjects,
		collection:      CollectionProjects,
		mapEntry:        mapProject,
		compareFields:   projectCompareFields,
		enricher:        NewDetailEnricher(client),
	}}
}
