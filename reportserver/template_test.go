package reportserver

import (
	"strings"
	"testing"
	"time"
)

const listTemplate = "http://srv/ReportServer?%2FReports%2FProjectList&rs:Format=XML&rc:Toolbar=false&ProjectID=123&Status=Open"

func TestCleanTemplateStripsIdentifiers(t *testing.T) {
	res := CleanTemplate(listTemplate, false)

	want := "http://srv/ReportServer?%2FReports%2FProjectList&rs:Format=XML&rc:Toolbar=false&Status=Open"
	if res.URL != want {
		t.Errorf("CleanTemplate URL = %q, want %q", res.URL, want)
	}
	if len(res.Removed) != 1 || res.Removed[0] != "ProjectID" {
		t.Errorf("Removed = %v, want [ProjectID]", res.Removed)
	}
	if len(res.Kept) != 3 {
		t.Errorf("Kept = %v, want 3 keys", res.Kept)
	}
}

func TestCleanTemplateMultiValue(t *testing.T) {
	var parts []string
	parts = append(parts, "http://srv/ReportServer?%2FReports%2FList", "rs:Format=XML")
	for i := 0; i < 6; i++ {
		parts = append(parts, "Dept=D"+strings.Repeat("x", i+1))
	}
	raw := strings.Join(parts, "&")

	tests := []struct {
		name         string
		preserve     bool
		wantDeptKept bool
	}{
		{name: "select-all artifact removed", preserve: false, wantDeptKept: false},
		{name: "preserved on request", preserve: true, wantDeptKept: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := CleanTemplate(raw, tt.preserve)
			got := strings.Contains(res.URL, "Dept=")
			if got != tt.wantDeptKept {
				t.Errorf("Dept kept = %v, want %v (url %q)", got, tt.wantDeptKept, res.URL)
			}
		})
	}
}

func TestCleanTemplateIdempotent(t *testing.T) {
	first := CleanTemplate(listTemplate, false)
	second := CleanTemplate(first.URL, false)

	if second.URL != first.URL {
		t.Errorf("re-cleaning changed the URL: %q -> %q", first.URL, second.URL)
	}
	if len(second.Removed) != 0 {
		t.Errorf("re-cleaning removed keys: %v", second.Removed)
	}
}

func TestCleanTemplateKeepsRenderControlRepetition(t *testing.T) {
	// Rendering-control keys stay even when heavily repeated.
	var parts []string
	parts = append(parts, "http://srv/ReportServer?%2FR%2FL")
	for i := 0; i < 7; i++ {
		parts = append(parts, "rc:Section=1")
	}
	res := CleanTemplate(strings.Join(parts, "&"), false)

	if !strings.Contains(res.URL, "rc:Section=1") {
		t.Errorf("render-control key was removed: %q", res.URL)
	}
}

func TestApplyDynamicDates(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	raw := "http://srv/ReportServer?%2FR%2FL&StartDate=01%2F01%2F2020&EndDate=31%2F12%2F2020&Status=Open"

	got := applyDynamicDatesAt(raw, 30, now)

	if !strings.Contains(got, "StartDate=02%2F08%2F2026") {
		t.Errorf("start date not rewritten: %q", got)
	}
	if !strings.Contains(got, "EndDate=01%2F09%2F2026") {
		t.Errorf("end date not rewritten: %q", got)
	}
	if !strings.Contains(got, "Status=Open") {
		t.Errorf("unrelated parameter touched: %q", got)
	}
}

func TestInjectLocationFilter(t *testing.T) {
	raw := "http://srv/ReportServer?%2FR%2FL&Location=Old&Status=Open"

	got := InjectLocationFilter(raw, []string{"North", "South"})
	if strings.Contains(got, "Location=Old") {
		t.Errorf("existing location filter not replaced: %q", got)
	}
	if !strings.Contains(got, "Location=North") || !strings.Contains(got, "Location=South") {
		t.Errorf("new locations missing: %q", got)
	}

	if noop := InjectLocationFilter(raw, nil); noop != raw {
		t.Errorf("empty set should be a no-op, got %q", noop)
	}
}

func TestCreateDetailURL(t *testing.T) {
	tmpl := "http://srv/ReportServer?%2FR%2FProjDetail&rs:Format=XML&ProjectID=XXX&Tablix=Summary"

	tests := []struct {
		name    string
		region  string
		want    []string
		wantNot []string
	}{
		{
			name:    "all regions",
			region:  "",
			want:    []string{"ProjectID=501"},
			wantNot: []string{"Tablix="},
		},
		{
			name:   "specific region",
			region: "Budget",
			want:   []string{"ProjectID=501", "Tablix=Budget"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CreateDetailURL(tmpl, "501", tt.region)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("missing %q in %q", w, got)
				}
			}
			for _, w := range tt.wantNot {
				if strings.Contains(got, w) {
					t.Errorf("unexpected %q in %q", w, got)
				}
			}
		})
	}
}

func TestCreateDetailURLAppendsSelectorWhenAbsent(t *testing.T) {
	tmpl := "http://srv/ReportServer?%2FR%2FProjDetail&ProjectNumber=XXX"

	got := CreateDetailURL(tmpl, "77", "Hours")
	if !strings.Contains(got, "ProjectNumber=77") {
		t.Errorf("identifier not substituted: %q", got)
	}
	if !strings.Contains(got, "Tablix=Hours") {
		t.Errorf("selector not appended: %q", got)
	}
}

func TestDetectKind(t *testing.T) {
	manyIDs := "http://srv/ReportServer?%2FR%2FProjectList" + strings.Repeat("&ProjectID=1", 8)

	tests := []struct {
		name  string
		url   string
		title string
		want  string
	}{
		{
			name: "single identifier is a detail template",
			url:  "http://srv/ReportServer?%2FR%2FProjDetail&ProjectID=123",
			want: KindProjectDetail,
		},
		{
			name: "repeated identifiers mark a summary list",
			url:  manyIDs,
			want: KindProjects,
		},
		{
			name:  "opportunity keyword in title",
			url:   "http://srv/ReportServer?%2FR%2FList&Status=Open",
			title: "Sales Opportunities",
			want:  KindOpportunities,
		},
		{
			name: "ticket keyword in url",
			url:  "http://srv/ReportServer?%2FR%2FServiceTicketList&Status=Open",
			want: KindServiceTickets,
		},
		{
			name:  "detail keyword without identifiers",
			url:   "http://srv/ReportServer?%2FR%2FList",
			title: "Project Detail",
			want:  KindProjectDetail,
		},
		{
			name: "default is projects",
			url:  "http://srv/ReportServer?%2FR%2FSomeReport",
			want: KindProjects,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectKind(tt.url, tt.title); got != tt.want {
				t.Errorf("DetectKind = %q, want %q", got, tt.want)
			}
		})
	}
}
