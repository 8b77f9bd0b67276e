package sync

import (
	"strings"
	"testing"

	"github.com/opsboard/reportsync/reportserver"
)

func TestMapProject_CandidateColumnVariants(t *testing.T) {
	tests := []struct {
		name  string
		entry reportserver.Entry
		field string
		want  string
	}{
		{
			name:  "canonical column names",
			entry: reportserver.Entry{"ProjectID": "P-100", "ProjectName": "Depot Refit"},
			field: "project_name",
			want:  "Depot Refit",
		},
		{
			name:  "legacy job columns",
			entry: reportserver.Entry{"JobNo": "J-7", "JobName": "Warehouse Doors"},
			field: "project_name",
			want:  "Warehouse Doors",
		},
		{
			name:  "case and underscore insensitive",
			entry: reportserver.Entry{"project_id": "1", "PROJECT_NAME": "Shouty Export"},
			field: "project_name",
			want:  "Shouty Export",
		},
		{
			name:  "first non-empty candidate wins",
			entry: reportserver.Entry{"ProjectID": "1", "ProjectName": "", "Title": "Fallback Title"},
			field: "project_name",
			want:  "Fallback Title",
		},
		{
			name:  "html entities stripped",
			entry: reportserver.Entry{"ProjectID": "1", "ProjectName": "Smith &amp; Sons"},
			field: "project_name",
			want:  "Smith & Sons",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := mapProject(tt.entry)
			if err != nil {
				t.Fatalf("mapProject() error = %v", err)
			}
			if got, _ := data[tt.field].(string); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.field, got, tt.want)
			}
		})
	}
}

func TestMapProject_ExternalID(t *testing.T) {
	data, err := mapProject(reportserver.Entry{"ProjectNumber": "PN-42", "ProjectName": "X"})
	if err != nil {
		t.Fatalf("mapProject() error = %v", err)
	}
	if got := data["external_id"]; got != "PN-42" {
		t.Errorf("external_id = %v, want PN-42", got)
	}
}

func TestMapProject_ActiveClassification(t *testing.T) {
	tests := []struct {
		status string
		active bool
	}{
		{"In Progress", true},
		{"On Hold", true},
		{"Completed", false},
		{"CANCELLED", false},
		{"Closed - Invoiced", false},
		{"", true},
	}

	for _, tt := range tests {
		t.Run("status "+tt.status, func(t *testing.T) {
			data, err := mapProject(reportserver.Entry{"ProjectID": "1", "Status": tt.status})
			if err != nil {
				t.Fatalf("mapProject() error = %v", err)
			}
			if got, _ := data["is_active"].(bool); got != tt.active {
				t.Errorf("is_active = %v, want %v", got, tt.active)
			}
		})
	}
}

func TestMapProject_HoursDerivation(t *testing.T) {
	t.Run("hours from budget", func(t *testing.T) {
		data, err := mapProject(reportserver.Entry{"ProjectID": "1", "Budget": "$15,000.00"})
		if err != nil {
			t.Fatalf("mapProject() error = %v", err)
		}
		if got, _ := data["estimated_hours"].(float64); got != 100.0 {
			t.Errorf("estimated_hours = %v, want 100", got)
		}
	})

	t.Run("explicit hours beat budget derivation", func(t *testing.T) {
		data, err := mapProject(reportserver.Entry{
			"ProjectID": "1", "Budget": "15000", "EstimatedHours": "80",
		})
		if err != nil {
			t.Fatalf("mapProject() error = %v", err)
		}
		if got, _ := data["estimated_hours"].(float64); got != 80.0 {
			t.Errorf("estimated_hours = %v, want 80", got)
		}
	})

	t.Run("remaining derived as estimate minus actual", func(t *testing.T) {
		data, err := mapProject(reportserver.Entry{
			"ProjectID": "1", "EstimatedHours": "100", "ActualHours": "37.5",
		})
		if err != nil {
			t.Fatalf("mapProject() error = %v", err)
		}
		if got, _ := data["remaining_hours"].(float64); got != 62.5 {
			t.Errorf("remaining_hours = %v, want 62.5", got)
		}
	})

	t.Run("remaining clamps at zero on overrun", func(t *testing.T) {
		data, err := mapProject(reportserver.Entry{
			"ProjectID": "1", "EstimatedHours": "40", "ActualHours": "55",
		})
		if err != nil {
			t.Fatalf("mapProject() error = %v", err)
		}
		if got, _ := data["remaining_hours"].(float64); got != 0.0 {
			t.Errorf("remaining_hours = %v, want 0", got)
		}
	})

	t.Run("supplied remaining wins over derivation", func(t *testing.T) {
		data, err := mapProject(reportserver.Entry{
			"ProjectID": "1", "EstimatedHours": "100", "ActualHours": "30", "RemainingHours": "50",
		})
		if err != nil {
			t.Fatalf("mapProject() error = %v", err)
		}
		if got, _ := data["remaining_hours"].(float64); got != 50.0 {
			t.Errorf("remaining_hours = %v, want 50", got)
		}
	})
}

func TestMapOpportunity_ProbabilityNormalization(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"0.75", 75},
		{"75", 75},
		{"75%", 75},
		{"1", 100},
		{"0", 0},
		{"150", 100},
		{"-10", 0},
	}

	for _, tt := range tests {
		t.Run("raw "+tt.raw, func(t *testing.T) {
			data, err := mapOpportunity(reportserver.Entry{"OpportunityID": "1", "Probability": tt.raw})
			if err != nil {
				t.Fatalf("mapOpportunity() error = %v", err)
			}
			if got, _ := data["probability"].(int); got != tt.want {
				t.Errorf("probability = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestMapOpportunity_CommaGuard(t *testing.T) {
	data, err := mapOpportunity(reportserver.Entry{
		"OpportunityID": "1",
		"SalesRep":      "North, South, East",
		"Owner":         "Pat Reyes",
		"Stage":         "Quoting, Won, Lost",
		"Phase":         "Quoting",
	})
	if err != nil {
		t.Fatalf("mapOpportunity() error = %v", err)
	}
	if got, _ := data["sales_rep"].(string); got != "Pat Reyes" {
		t.Errorf("sales_rep = %q, want the comma-free candidate", got)
	}
	if got, _ := data["stage"].(string); got != "Quoting" {
		t.Errorf("stage = %q, want the comma-free candidate", got)
	}
}

func TestMapOpportunity_Amount(t *testing.T) {
	data, err := mapOpportunity(reportserver.Entry{"QuoteID": "Q-9", "QuoteValue": "£4,250.50"})
	if err != nil {
		t.Fatalf("mapOpportunity() error = %v", err)
	}
	if got, _ := data["amount"].(float64); got != 4250.50 {
		t.Errorf("amount = %v, want 4250.50", got)
	}
	if got := data["external_id"]; got != "Q-9" {
		t.Errorf("external_id = %v, want Q-9", got)
	}
}

func TestMapServiceTicket(t *testing.T) {
	data, err := mapServiceTicket(reportserver.Entry{
		"TicketNumber": "T-3301",
		"Subject":      "Roller door jammed",
		"CallStatus":   "Closed",
		"Technician":   "Sam Kerr",
		"DateOpened":   "15/03/2026",
	})
	if err != nil {
		t.Fatalf("mapServiceTicket() error = %v", err)
	}
	if got := data["external_id"]; got != "T-3301" {
		t.Errorf("external_id = %v, want T-3301", got)
	}
	if got, _ := data["is_active"].(bool); got {
		t.Error("closed ticket should be inactive")
	}
	if got, _ := data["assigned_to"].(string); got != "Sam Kerr" {
		t.Errorf("assigned_to = %q, want Sam Kerr", got)
	}
	if got, _ := data["opened_date"].(string); got != "2026-03-15 00:00:00Z" {
		t.Errorf("opened_date = %q, want normalized datetime", got)
	}
}

func TestFallbackExternalID_Deterministic(t *testing.T) {
	entry := reportserver.Entry{"ProjectName": "Unnumbered Job", "ClientName": "Acme"}

	first, err := mapProject(entry)
	if err != nil {
		t.Fatalf("mapProject() error = %v", err)
	}
	second, err := mapProject(reportserver.Entry{"ProjectName": "Unnumbered Job", "ClientName": "Acme"})
	if err != nil {
		t.Fatalf("mapProject() error = %v", err)
	}

	id, _ := first["external_id"].(string)
	if !strings.HasPrefix(id, "gen-") {
		t.Errorf("synthetic external_id = %q, want gen- prefix", id)
	}
	if second["external_id"] != id {
		t.Errorf("synthetic id not deterministic: %v vs %v", id, second["external_id"])
	}

	other, err := mapProject(reportserver.Entry{"ProjectName": "Different Job", "ClientName": "Acme"})
	if err != nil {
		t.Fatalf("mapProject() error = %v", err)
	}
	if other["external_id"] == id {
		t.Error("different entries produced the same synthetic id")
	}
}

func TestFallbackExternalID_WholeEntryHash(t *testing.T) {
	// No identity fields at all: the whole entry hashes in sorted key order.
	a := fallbackExternalID(reportserver.Entry{"ColA": "1", "ColB": "2"})
	b := fallbackExternalID(reportserver.Entry{"ColB": "2", "ColA": "1"})
	if a != b {
		t.Errorf("hash depends on map iteration order: %s vs %s", a, b)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12500", 12500, true},
		{"$12,500.00", 12500, true},
		{"€1,234.50", 1234.50, true},
		{"75 %", 75, true},
		{"", 0, false},
		{"n/a", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseNumber(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("parseNumber(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2026-03-15T00:00:00", "2026-03-15 00:00:00Z"},
		{"15/03/2026", "2026-03-15 00:00:00Z"},
		{"2026-03-15", "2026-03-15 00:00:00Z"},
		{"", ""},
		{"sometime soon", "sometime soon"},
	}

	for _, tt := range tests {
		if got := parseDate(tt.in); got != tt.want {
			t.Errorf("parseDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMapProject_RawDataPayload(t *testing.T) {
	data, err := mapProject(reportserver.Entry{"ProjectID": "1", "Obscure_Column": "kept"})
	if err != nil {
		t.Fatalf("mapProject() error = %v", err)
	}
	raw, _ := data["raw_data"].(string)
	if !strings.Contains(raw, "Obscure_Column") || !strings.Contains(raw, "kept") {
		t.Errorf("raw_data payload missing original columns: %s", raw)
	}
}
