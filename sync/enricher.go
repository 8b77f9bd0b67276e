package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"

	"github.com/opsboard/reportsync/reportserver"
)

// detailRegions is the fixed, ordered list of report sub-regions fetched per
// project during adaptive sync.
var detailRegions = []string{"Summary", "Schedule", "Budget", "Hours", "Status", "Team"}

// commonDetailKeys are merged without a region prefix in addition to their
// prefixed copies, since downstream overrides read them by bare name.
var commonDetailKeys = map[string]bool{
	"Status":          true,
	"EstimatedHours":  true,
	"ActualHours":     true,
	"RemainingHours":  true,
	"PercentComplete": true,
}

// ErrNoDetailData indicates that no configured report region produced any
// entries; the caller keeps summary-only data.
var ErrNoDetailData = errors.New("no detail region produced entries")

// DetailEnricher performs per-project detail lookups against a paired detail
// feed template and merges the regions' fields.
type DetailEnricher struct {
	fetch func(ctx context.Context, url string) ([]byte, error)
	parse func(data []byte) ([]reportserver.Entry, error)
}

// NewDetailEnricher creates an enricher over the given fetcher.
func NewDetailEnricher(client FeedFetcher) *DetailEnricher {
	return &DetailEnricher{
		fetch: client.Fetch,
		parse: reportserver.ParseEntries,
	}
}

// Enrich fetches every detail region for one project and merges the first
// entry of each region that returned data. Keys are prefixed "Region.Name"
// for traceability; common keys are also kept unprefixed, first non-empty
// value winning. Regions that error or return nothing are skipped; the
// enrichment fails only when every region came back empty.
func (e *DetailEnricher) Enrich(ctx context.Context, templateURL, externalID string) (map[string]string, error) {
	merged := map[string]string{}
	regionsWithData := 0
	firstStatus := ""

	for _, region := range detailRegions {
		url := reportserver.CreateDetailURL(templateURL, externalID, region)

		body, err := e.fetch(ctx, url)
		if err != nil {
			slog.Warn("Detail region fetch failed, skipping", "region", region, "error", err)
			continue
		}
		entries, err := e.parse(body)
		if err != nil {
			slog.Warn("Detail region parse failed, skipping", "region", region, "error", err)
			continue
		}
		if len(entries) == 0 {
			continue
		}

		// Rows past the first in a region are usually totals-adjacent noise.
		first := entries[0]
		regionsWithData++

		for key, value := range first {
			merged[region+"."+key] = value
			if commonDetailKeys[key] && strings.TrimSpace(merged[key]) == "" {
				merged[key] = value
			}
			if firstStatus == "" && isStatusKey(key) && strings.TrimSpace(value) != "" {
				firstStatus = value
			}
		}
	}

	if regionsWithData == 0 {
		return nil, ErrNoDetailData
	}
	if strings.TrimSpace(merged["Status"]) == "" && firstStatus != "" {
		merged["Status"] = firstStatus
	}
	slog.Debug("Detail enrichment merged", "externalId", externalID,
		"regions", regionsWithData, "fields", len(merged))
	return merged, nil
}

func isStatusKey(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "status") || strings.Contains(lower, "state")
}

// applyDetailOverrides folds a merged detail map into a mapped project
// record. Detail-derived status and hours take precedence over the summary
// mapping's own derivations; this ordering is intentional.
func applyDetailOverrides(data map[string]interface{}, merged map[string]string) {
	if status := stripEntities(merged["Status"]); status != "" {
		data["status_text"] = status
		data["is_active"] = !isTerminalStatus(status)
	}

	estimated, hasEstimated := parseNumber(merged["EstimatedHours"])
	if hasEstimated {
		data["estimated_hours"] = estimated
	}
	actual, hasActual := parseNumber(merged["ActualHours"])
	if hasActual {
		data["actual_hours"] = actual
	}
	if remaining, ok := parseNumber(merged["RemainingHours"]); ok {
		data["remaining_hours"] = remaining
	} else if hasEstimated && hasActual {
		data["remaining_hours"] = math.Max(0, round2(estimated-actual))
	}

	if b, err := json.Marshal(merged); err == nil {
		data["detail_data"] = string(b)
	}
}
