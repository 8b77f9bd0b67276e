package sync

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"html"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opsboard/reportsync/reportserver"
)

// costPerHour converts a monetary budget into estimated hours when the feed
// supplies money but no hours.
const costPerHour = 150.0

// terminalStatusKeywords classify a status text as inactive by substring
// match.
var terminalStatusKeywords = []string{"completed", "cancelled", "closed"}

func isTerminalStatus(status string) bool {
	lower := strings.ToLower(status)
	for _, keyword := range terminalStatusKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// fieldCandidates lists the historically observed column-name variants for
// one canonical field, in preference order.
type fieldCandidates struct {
	field      string
	candidates []string
}

var projectFields = []fieldCandidates{
	{"external_id", []string{"ProjectID", "ProjectNumber", "ProjectNo", "JobID", "JobNo", "ID"}},
	{"project_name", []string{"ProjectName", "ProjectTitle", "JobName", "Description", "Title", "Name"}},
	{"client", []string{"ClientName", "Client", "CustomerName", "Customer", "Company"}},
	{"status_text", []string{"Status", "ProjectStatus", "JobStatus", "State"}},
	{"start_date", []string{"StartDate", "ProjectStart", "DateStarted", "Start"}},
	{"end_date", []string{"EndDate", "ProjectEnd", "CompletionDate", "DateDue", "End"}},
	{"budget", []string{"Budget", "BudgetAmount", "ContractValue", "TotalCost", "Cost"}},
	{"estimated_hours", []string{"EstimatedHours", "EstHours", "BudgetHours", "PlannedHours"}},
	{"actual_hours", []string{"ActualHours", "HoursUsed", "HoursToDate", "WorkedHours"}},
	{"remaining_hours", []string{"RemainingHours", "HoursRemaining", "HoursLeft"}},
	{"percent_complete", []string{"PercentComplete", "PctComplete", "Progress", "Completion"}},
}

var opportunityFields = []fieldCandidates{
	{"external_id", []string{"OpportunityID", "OppID", "QuoteID", "QuoteNumber", "ID"}},
	{"name", []string{"OpportunityName", "OppName", "QuoteName", "Description", "Title", "Name"}},
	{"client", []string{"ClientName", "Client", "CustomerName", "Customer", "Company"}},
	{"stage", []string{"Stage", "SalesStage", "PipelineStage", "Phase"}},
	{"sales_rep", []string{"SalesRep", "Salesperson", "AccountManager", "Owner", "Rep"}},
	{"amount", []string{"Amount", "Value", "QuoteValue", "EstimatedValue", "Total"}},
	{"probability", []string{"Probability", "WinProbability", "CloseProbability", "Likelihood"}},
	{"close_date", []string{"CloseDate", "ExpectedClose", "DecisionDate", "DueDate"}},
}

var ticketFields = []fieldCandidates{
	{"external_id", []string{"TicketID", "TicketNumber", "CallID", "CallNumber", "IncidentID", "ID"}},
	{"subject", []string{"Subject", "Summary", "Description", "Title", "Issue"}},
	{"client", []string{"ClientName", "Client", "CustomerName", "Customer", "Company"}},
	{"site", []string{"Site", "SiteName", "Location", "Branch"}},
	{"status_text", []string{"Status", "TicketStatus", "CallStatus", "State"}},
	{"priority", []string{"Priority", "Severity", "Urgency"}},
	{"assigned_to", []string{"AssignedTo", "Assignee", "Technician", "Engineer", "Owner"}},
	{"opened_date", []string{"OpenedDate", "DateOpened", "CreatedDate", "DateLogged", "Opened"}},
	{"due_date", []string{"DueDate", "DateDue", "TargetDate", "SLADue"}},
}

// Compare-field lists for change detection. raw_data and detail_data are
// excluded: the serialized payloads churn on column reordering without any
// canonical field changing.
var projectCompareFields = []string{
	"project_name", "client", "status_text", "is_active", "start_date", "end_date",
	"budget", "estimated_hours", "actual_hours", "remaining_hours", "percent_complete",
}

var opportunityCompareFields = []string{
	"name", "client", "stage", "sales_rep", "amount", "probability", "close_date",
}

var ticketCompareFields = []string{
	"subject", "client", "site", "status_text", "is_active", "priority",
	"assigned_to", "opened_date", "due_date",
}

// entryMatcher resolves candidate column names against one entry with
// normalized (case/underscore/space/hyphen insensitive) key matching.
type entryMatcher struct {
	normalized map[string]string
}

func newEntryMatcher(entry reportserver.Entry) entryMatcher {
	normalized := make(map[string]string, len(entry))
	for key, value := range entry {
		norm := normalizeColumnName(key)
		if _, taken := normalized[norm]; !taken {
			normalized[norm] = value
		}
	}
	return entryMatcher{normalized: normalized}
}

func normalizeColumnName(name string) string {
	lower := strings.ToLower(name)
	replacer := strings.NewReplacer("_", "", " ", "", "-", "")
	return replacer.Replace(lower)
}

// first returns the first candidate with a non-empty value.
func (m entryMatcher) first(candidates []string) string {
	for _, candidate := range candidates {
		if value := strings.TrimSpace(m.normalized[normalizeColumnName(candidate)]); value != "" {
			return value
		}
	}
	return ""
}

// firstValid is first with an extra per-value acceptance check; used where a
// candidate column can accidentally be a multi-value list.
func (m entryMatcher) firstValid(candidates []string, valid func(string) bool) string {
	for _, candidate := range candidates {
		value := strings.TrimSpace(m.normalized[normalizeColumnName(candidate)])
		if value != "" && valid(value) {
			return value
		}
	}
	return ""
}

// noComma guards against a "sales rep" or "stage" candidate resolving to an
// exhaustive comma-joined list column.
func noComma(value string) bool {
	return !strings.Contains(value, ",")
}

// mapProject maps one feed entry onto the projects collection shape.
func mapProject(entry reportserver.Entry) (map[string]interface{}, error) {
	m := newEntryMatcher(entry)
	data := map[string]interface{}{}

	for _, fc := range projectFields {
		switch fc.field {
		case "external_id", "budget", "estimated_hours", "actual_hours",
			"remaining_hours", "percent_complete":
			// handled below
		case "start_date", "end_date":
			setDate(data, fc.field, m.first(fc.candidates))
		default:
			setText(data, fc.field, m.first(fc.candidates))
		}
	}

	status, _ := data["status_text"].(string)
	data["is_active"] = !isTerminalStatus(status)

	if budget, ok := parseNumber(m.first(fieldByName(projectFields, "budget"))); ok {
		data["budget"] = budget
	}
	if pct, ok := parseNumber(m.first(fieldByName(projectFields, "percent_complete"))); ok {
		data["percent_complete"] = pct
	}

	estimated, hasEstimated := parseNumber(m.first(fieldByName(projectFields, "estimated_hours")))
	actual, hasActual := parseNumber(m.first(fieldByName(projectFields, "actual_hours")))
	if !hasEstimated {
		// Derive hours from money when the feed only reports a budget.
		if budget, ok := data["budget"].(float64); ok && budget > 0 {
			estimated = round2(budget / costPerHour)
			hasEstimated = true
		}
	}
	if hasEstimated {
		data["estimated_hours"] = estimated
	}
	if hasActual {
		data["actual_hours"] = actual
	}
	if remaining, ok := parseNumber(m.first(fieldByName(projectFields, "remaining_hours"))); ok {
		data["remaining_hours"] = remaining
	} else if hasEstimated && hasActual {
		data["remaining_hours"] = math.Max(0, round2(estimated-actual))
	}

	externalID := m.first(fieldByName(projectFields, "external_id"))
	if externalID == "" {
		name, _ := data["project_name"].(string)
		client, _ := data["client"].(string)
		start, _ := data["start_date"].(string)
		externalID = fallbackExternalID(entry, name, client, start)
	}
	data["external_id"] = externalID

	data["raw_data"] = serializeEntry(entry)
	return data, nil
}

// mapOpportunity maps one feed entry onto the opportunities collection shape.
func mapOpportunity(entry reportserver.Entry) (map[string]interface{}, error) {
	m := newEntryMatcher(entry)
	data := map[string]interface{}{}

	setText(data, "name", m.first(fieldByName(opportunityFields, "name")))
	setText(data, "client", m.first(fieldByName(opportunityFields, "client")))
	setText(data, "stage", m.firstValid(fieldByName(opportunityFields, "stage"), noComma))
	setText(data, "sales_rep", m.firstValid(fieldByName(opportunityFields, "sales_rep"), noComma))
	setDate(data, "close_date", m.first(fieldByName(opportunityFields, "close_date")))

	if amount, ok := parseNumber(m.first(fieldByName(opportunityFields, "amount"))); ok {
		data["amount"] = amount
	}
	if raw, ok := parseNumber(m.first(fieldByName(opportunityFields, "probability"))); ok {
		data["probability"] = normalizeProbability(raw)
	}

	externalID := m.first(fieldByName(opportunityFields, "external_id"))
	if externalID == "" {
		name, _ := data["name"].(string)
		client, _ := data["client"].(string)
		externalID = fallbackExternalID(entry, name, client)
	}
	data["external_id"] = externalID

	data["raw_data"] = serializeEntry(entry)
	return data, nil
}

// mapServiceTicket maps one feed entry onto the service tickets collection
// shape.
func mapServiceTicket(entry reportserver.Entry) (map[string]interface{}, error) {
	m := newEntryMatcher(entry)
	data := map[string]interface{}{}

	for _, fc := range ticketFields {
		switch fc.field {
		case "external_id":
		case "opened_date", "due_date":
			setDate(data, fc.field, m.first(fc.candidates))
		default:
			setText(data, fc.field, m.first(fc.candidates))
		}
	}

	status, _ := data["status_text"].(string)
	data["is_active"] = !isTerminalStatus(status)

	externalID := m.first(fieldByName(ticketFields, "external_id"))
	if externalID == "" {
		subject, _ := data["subject"].(string)
		client, _ := data["client"].(string)
		opened, _ := data["opened_date"].(string)
		externalID = fallbackExternalID(entry, subject, client, opened)
	}
	data["external_id"] = externalID

	data["raw_data"] = serializeEntry(entry)
	return data, nil
}

func fieldByName(table []fieldCandidates, field string) []string {
	for _, fc := range table {
		if fc.field == field {
			return fc.candidates
		}
	}
	return nil
}

// normalizeProbability maps a probability expressed as either a fraction
// (0.75) or a percentage (75) onto a 0-100 integer.
func normalizeProbability(raw float64) int {
	if raw <= 1.0 {
		raw *= 100
	}
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	return int(math.Round(raw))
}

// fallbackExternalID synthesizes a deterministic identifier for an entry
// that carries no recognized id column. Prefers the identity parts when any
// is non-empty; otherwise hashes the whole entry in sorted key order so the
// same row always maps to the same record.
func fallbackExternalID(entry reportserver.Entry, identityParts ...string) string {
	h := fnv.New64a()

	hasIdentity := false
	for _, part := range identityParts {
		if strings.TrimSpace(part) != "" {
			hasIdentity = true
			break
		}
	}

	if hasIdentity {
		for _, part := range identityParts {
			h.Write([]byte(part))
			h.Write([]byte{'|'})
		}
	} else {
		keys := make([]string, 0, len(entry))
		for key := range entry {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			h.Write([]byte(key))
			h.Write([]byte{'='})
			h.Write([]byte(entry[key]))
			h.Write([]byte{'|'})
		}
	}

	return fmt.Sprintf("gen-%016x", h.Sum64())
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// parseDate normalizes the feed's assorted date renderings to the store's
// datetime format. Unparseable input is passed through trimmed rather than
// dropped.
func parseDate(value string) string {
	value = strings.TrimSpace(stripEntities(value))
	if value == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format("2006-01-02 15:04:05Z")
		}
	}
	return value
}

// parseNumber extracts a float from feed values like "$12,500.00" or "75 %".
func parseNumber(value string) (float64, bool) {
	value = strings.TrimSpace(stripEntities(value))
	if value == "" {
		return 0, false
	}
	replacer := strings.NewReplacer("$", "", "£", "", "€", "", ",", "", " ", "")
	value = replacer.Replace(value)
	value = strings.TrimSuffix(value, "%")
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// stripEntities decodes HTML entities the report renderer leaves in text
// cells.
func stripEntities(value string) string {
	return html.UnescapeString(value)
}

func setText(data map[string]interface{}, field, value string) {
	if value = strings.TrimSpace(stripEntities(value)); value != "" {
		data[field] = value
	}
}

func setDate(data map[string]interface{}, field, value string) {
	if parsed := parseDate(value); parsed != "" {
		data[field] = parsed
	}
}

// serializeEntry renders the original entry as a JSON payload stored
// alongside the canonical fields.
func serializeEntry(entry reportserver.Entry) string {
	b, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	return string(b)
}
