package sync

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opsboard/reportsync/reportserver"
)

// stubEnricher builds a DetailEnricher whose regions resolve from a canned
// map instead of the network. Keys are region names; a missing region
// returns no entries.
func stubEnricher(regions map[string][]reportserver.Entry) *DetailEnricher {
	return &DetailEnricher{
		fetch: func(ctx context.Context, url string) ([]byte, error) {
			return []byte(url), nil
		},
		parse: func(data []byte) ([]reportserver.Entry, error) {
			for name, entries := range regions {
				if strings.Contains(string(data), "Tablix="+name) {
					return entries, nil
				}
			}
			return nil, nil
		},
	}
}

func TestEnrich_PartialRegions(t *testing.T) {
	// 2 of 6 regions return entries; enrichment must still succeed.
	enricher := stubEnricher(map[string][]reportserver.Entry{
		"Budget": {{"EstimatedHours": "120", "BudgetAmount": "18000"}},
		"Hours":  {{"ActualHours": "45.5"}},
	})

	merged, err := enricher.Enrich(context.Background(), "http://srv/report?ProjectID=1", "P-1")
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}

	if merged["Budget.EstimatedHours"] != "120" {
		t.Errorf("prefixed key Budget.EstimatedHours = %q, want 120", merged["Budget.EstimatedHours"])
	}
	if merged["Hours.ActualHours"] != "45.5" {
		t.Errorf("prefixed key Hours.ActualHours = %q, want 45.5", merged["Hours.ActualHours"])
	}
	// Common keys also appear unprefixed.
	if merged["EstimatedHours"] != "120" {
		t.Errorf("unprefixed EstimatedHours = %q, want 120", merged["EstimatedHours"])
	}
	if merged["ActualHours"] != "45.5" {
		t.Errorf("unprefixed ActualHours = %q, want 45.5", merged["ActualHours"])
	}
	// Non-common keys stay prefixed only.
	if _, ok := merged["BudgetAmount"]; ok {
		t.Error("BudgetAmount should only appear region-prefixed")
	}
}

func TestEnrich_NoRegionsProduceData(t *testing.T) {
	enricher := stubEnricher(nil)

	_, err := enricher.Enrich(context.Background(), "http://srv/report?ProjectID=1", "P-1")
	if !errors.Is(err, ErrNoDetailData) {
		t.Errorf("Enrich() error = %v, want ErrNoDetailData", err)
	}
}

func TestEnrich_RegionErrorsAreSkipped(t *testing.T) {
	calls := 0
	enricher := &DetailEnricher{
		fetch: func(ctx context.Context, url string) ([]byte, error) {
			calls++
			if strings.Contains(url, "Tablix=Summary") {
				return nil, errors.New("render timeout")
			}
			return []byte(url), nil
		},
		parse: func(data []byte) ([]reportserver.Entry, error) {
			if strings.Contains(string(data), "Tablix=Status") {
				return []reportserver.Entry{{"ProjectState": "On Hold"}}, nil
			}
			return nil, nil
		},
	}

	merged, err := enricher.Enrich(context.Background(), "http://srv/report?ProjectID=1", "P-1")
	if err != nil {
		t.Fatalf("Enrich() error = %v, one region had data", err)
	}
	if calls != len(detailRegions) {
		t.Errorf("fetch calls = %d, want every region tried (%d)", calls, len(detailRegions))
	}
	// No literal Status column anywhere, but a status-like key was seen.
	if merged["Status"] != "On Hold" {
		t.Errorf("Status fallback = %q, want first status-like value", merged["Status"])
	}
}

func TestEnrich_FirstEntryOnly(t *testing.T) {
	enricher := stubEnricher(map[string][]reportserver.Entry{
		"Hours": {
			{"ActualHours": "45.5"},
			{"ActualHours": "999"}, // totals row noise
		},
	})

	merged, err := enricher.Enrich(context.Background(), "http://srv/report?ProjectID=1", "P-1")
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if merged["Hours.ActualHours"] != "45.5" {
		t.Errorf("Hours.ActualHours = %q, want first row only", merged["Hours.ActualHours"])
	}
}

func TestEnrich_CommonKeyFirstValueWins(t *testing.T) {
	enricher := stubEnricher(map[string][]reportserver.Entry{
		"Summary": {{"Status": "Active"}},
		"Status":  {{"Status": "Completed"}},
	})

	merged, err := enricher.Enrich(context.Background(), "http://srv/report?ProjectID=1", "P-1")
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	// Summary precedes Status in the region order.
	if merged["Status"] != "Active" {
		t.Errorf("Status = %q, want the first region's value", merged["Status"])
	}
	if merged["Summary.Status"] != "Active" || merged["Status.Status"] != "Completed" {
		t.Error("both regions' prefixed copies should be retained")
	}
}

func TestApplyDetailOverrides(t *testing.T) {
	data := map[string]interface{}{
		"external_id":     "P-1",
		"status_text":     "In Progress",
		"is_active":       true,
		"estimated_hours": 100.0,
	}

	applyDetailOverrides(data, map[string]string{
		"Status":         "Completed",
		"EstimatedHours": "120",
		"ActualHours":    "130",
	})

	if data["status_text"] != "Completed" {
		t.Errorf("status_text = %v, detail status should override summary", data["status_text"])
	}
	if active, _ := data["is_active"].(bool); active {
		t.Error("is_active should reclassify from the detail status")
	}
	if data["estimated_hours"] != 120.0 {
		t.Errorf("estimated_hours = %v, want 120", data["estimated_hours"])
	}
	if data["actual_hours"] != 130.0 {
		t.Errorf("actual_hours = %v, want 130", data["actual_hours"])
	}
	// Remaining derived from the detail pair, clamped at zero.
	if data["remaining_hours"] != 0.0 {
		t.Errorf("remaining_hours = %v, want 0", data["remaining_hours"])
	}
	if _, ok := data["detail_data"].(string); !ok {
		t.Error("detail_data payload missing")
	}
}

func TestApplyDetailOverrides_EmptyDetailKeepsSummary(t *testing.T) {
	data := map[string]interface{}{
		"status_text": "In Progress",
		"is_active":   true,
	}

	applyDetailOverrides(data, map[string]string{"Schedule.Milestone": "Fit-out"})

	if data["status_text"] != "In Progress" {
		t.Errorf("status_text = %v, want summary value retained", data["status_text"])
	}
	if active, _ := data["is_active"].(bool); !active {
		t.Error("is_active should be untouched without a detail status")
	}
}
