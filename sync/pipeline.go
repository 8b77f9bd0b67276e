package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"

	"github.com/opsboard/reportsync/reportserver"
)

// cancelCheckInterval is how many entries are processed between cancellation
// checkpoints. Cancellation is record-based, so checkpoints are the only
// place a cancelled run actually stops.
const cancelCheckInterval = 25

// feedPipeline runs the full ingestion pipeline for one record kind:
// template, fetch, parse, map, optionally enrich, then change-detected
// upsert. The per-kind services embed it.
type feedPipeline struct {
	BaseSyncService
	runStore      RunStore
	kind          string
	collection    string
	mapEntry      func(reportserver.Entry) (map[string]interface{}, error)
	compareFields []string
	enricher      *DetailEnricher
}

// Name returns the pipeline's record kind.
func (p *feedPipeline) Name() string {
	return p.kind
}

// Sync executes the pipeline across every active feed of the kind,
// aggregating counters. Any unrecovered error aborts the run; per-entry
// mapping or save failures are logged and skipped.
func (p *feedPipeline) Sync(ctx context.Context, runID string) error {
	settings := LoadSettings()

	feeds, err := p.App.FindRecordsByFilter(
		CollectionFeeds,
		fmt.Sprintf("kind = '%s' && active = true", p.kind),
		"-created", 0, 0,
	)
	if err != nil {
		return fmt.Errorf("loading feeds for %s: %w", p.kind, err)
	}
	if len(feeds) == 0 {
		return &ConfigError{Kind: p.kind}
	}

	p.LogSyncStart(p.kind)
	p.Stats = Stats{}

	existing, err := p.PreloadRecords(p.collection)
	if err != nil {
		return err
	}

	for _, feed := range feeds {
		if p.cancelled(runID) {
			return ErrRunCancelled
		}
		if err := p.syncFeed(ctx, runID, feed, settings, existing); err != nil {
			return err
		}
		// Stamp only the feed that just succeeded; a later feed's failure
		// must not roll this back.
		feed.Set("last_sync", types.NowDateTime())
		if err := p.App.Save(feed); err != nil {
			slog.Warn("Failed to stamp feed last_sync", "feed", feed.Id, "error", err)
		}
	}

	p.LogSyncComplete(p.kind)
	return nil
}

func (p *feedPipeline) syncFeed(
	ctx context.Context,
	runID string,
	feed *core.Record,
	settings Settings,
	existing map[string]StoredRecord,
) error {
	// Cleaning a stored template is idempotent; doing it here guards against
	// templates imported before the cleaner learned a parameter.
	url := reportserver.CleanTemplate(feed.GetString("url_template"), false).URL
	url = reportserver.ApplyDynamicDates(url, settings.LookbackDays)
	url = reportserver.InjectLocationFilter(url, settings.Locations)

	body, err := p.Client.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("fetching feed %s: %w", feed.Id, err)
	}
	entries, err := reportserver.ParseEntries(body)
	if err != nil {
		return fmt.Errorf("parsing feed %s: %w", feed.Id, err)
	}
	slog.Info("Feed parsed", "kind", p.kind, "feed", feed.Id, "entries", len(entries))

	detailTemplate := p.detailTemplate(feed, settings)

	for i, entry := range entries {
		if i > 0 && i%cancelCheckInterval == 0 && p.cancelled(runID) {
			return ErrRunCancelled
		}

		data, err := p.mapEntry(entry)
		if err != nil {
			slog.Warn("Skipping unmappable entry", "kind", p.kind, "error", err)
			p.Stats.Errors++
			continue
		}

		if detailTemplate != "" {
			externalID, _ := data["external_id"].(string)
			merged, err := p.enricher.Enrich(ctx, detailTemplate, externalID)
			if err != nil {
				slog.Warn("Detail enrichment unavailable, keeping summary data",
					"externalId", externalID, "error", err)
			} else {
				applyDetailOverrides(data, merged)
			}
		}

		if err := p.ProcessRecord(runID, p.kind, p.collection, data, existing, p.compareFields); err != nil {
			slog.Error("Skipping entry after store error", "kind", p.kind, "error", err)
			p.Stats.Errors++
			continue
		}
	}
	return nil
}

// detailTemplate resolves the adaptively paired detail feed's template, or
// empty when adaptive sync does not apply to this feed.
func (p *feedPipeline) detailTemplate(feed *core.Record, settings Settings) string {
	if p.enricher == nil || !settings.AdaptiveEnabled {
		return ""
	}
	detailID := feed.GetString("detail_feed")
	if detailID == "" {
		return ""
	}
	detail, err := p.App.FindRecordById(CollectionFeeds, detailID)
	if err != nil {
		slog.Warn("Paired detail feed not found", "feed", feed.Id, "detail", detailID)
		return ""
	}
	if !detail.GetBool("active") || detail.GetString("kind") != KindProjectDetail {
		return ""
	}
	return detail.GetString("url_template")
}

func (p *feedPipeline) cancelled(runID string) bool {
	if p.runStore == nil {
		return false
	}
	run, err := p.runStore.GetRun(runID)
	if err != nil {
		return false
	}
	return run.Terminal()
}
