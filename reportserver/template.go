package reportserver

import (
	"net/url"
	"sort"
	"strings"
	"time"
)

// Feed kinds. These classify both stored feed configurations and detected
// templates.
const (
	KindProjects       = "projects"
	KindOpportunities  = "opportunities"
	KindServiceTickets = "service_tickets"
	KindProjectDetail  = "project_detail"
)

// multiValueThreshold is the repetition count above which a parameter key is
// treated as an exhaustive "select all" artifact and stripped from the
// template.
const multiValueThreshold = 5

// renderControlPrefixes mark rendering-control parameters assigned by the
// report server itself. They are always preserved.
var renderControlPrefixes = []string{"rs:", "rc:"}

// identifierParams are parameter keys that pin the template to one specific
// record. A usable template must not carry them.
var identifierParams = map[string]bool{
	"projectid":     true,
	"projectnumber": true,
	"projectno":     true,
	"jobid":         true,
	"jobno":         true,
	"opportunityid": true,
	"ticketid":      true,
	"recordid":      true,
}

// projectIdentifierParams are the subset substituted when building a detail
// URL for one project.
var projectIdentifierParams = map[string]bool{
	"projectid":     true,
	"projectnumber": true,
	"projectno":     true,
	"jobid":         true,
	"jobno":         true,
}

// regionSelectorParams select a single report sub-region (tablix). Removing
// them makes the server return every region.
var regionSelectorParams = map[string]bool{
	"tablix":     true,
	"tablixname": true,
	"region":     true,
}

// regionSelectorKey is the canonical key written when a specific region is
// requested.
const regionSelectorKey = "Tablix"

var startDateParams = map[string]bool{
	"startdate": true,
	"datefrom":  true,
	"fromdate":  true,
	"dtfrom":    true,
}

var endDateParams = map[string]bool{
	"enddate": true,
	"dateto":  true,
	"todate":  true,
	"dtto":    true,
}

// feedDateFormat is the day-month-year text format the report server accepts
// for date parameters.
const feedDateFormat = "02/01/2006"

// locationParam is the parameter key used for location filtering.
const locationParam = "Location"

// CleanResult reports what CleanTemplate did to a URL.
type CleanResult struct {
	URL     string
	Removed []string
	Kept    []string
}

// token is one &-separated piece of the feed URL's query section. Report
// render URLs place the escaped report path as the first token, before any
// key=value pair, so the query cannot be handed to url.ParseQuery wholesale.
type token struct {
	raw   string
	key   string
	value string
	hasEq bool
}

func (t token) lowerKey() string {
	return strings.ToLower(t.key)
}

func splitFeedURL(rawURL string) (base string, tokens []token) {
	base = rawURL
	query := ""
	if idx := strings.Index(rawURL, "?"); idx >= 0 {
		base = rawURL[:idx]
		query = rawURL[idx+1:]
	}
	if query == "" {
		return base, nil
	}
	for _, part := range strings.Split(query, "&") {
		tk := token{raw: part}
		if eq := strings.Index(part, "="); eq >= 0 {
			tk.hasEq = true
			tk.key = part[:eq]
			tk.value = part[eq+1:]
		} else {
			tk.key = part
		}
		tokens = append(tokens, tk)
	}
	return base, tokens
}

func joinFeedURL(base string, tokens []token) string {
	if len(tokens) == 0 {
		return base
	}
	parts := make([]string, len(tokens))
	for i, tk := range tokens {
		parts[i] = tk.raw
	}
	return base + "?" + strings.Join(parts, "&")
}

func isRenderControl(key string) bool {
	lower := strings.ToLower(key)
	for _, prefix := range renderControlPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// CleanTemplate rewrites a captured feed URL into a reusable template. Record
// identifier parameters are always stripped. A key repeated more than
// multiValueThreshold times is treated as a "select all" export artifact and
// stripped too, unless preserveMultiValue is set. Rendering-control keys are
// always kept. Re-cleaning an already-cleaned URL removes nothing further.
func CleanTemplate(rawURL string, preserveMultiValue bool) CleanResult {
	base, tokens := splitFeedURL(rawURL)

	counts := map[string]int{}
	for _, tk := range tokens {
		if tk.hasEq {
			counts[tk.lowerKey()]++
		}
	}

	removedSet := map[string]bool{}
	keptSet := map[string]bool{}
	var kept []token
	for _, tk := range tokens {
		if !tk.hasEq {
			// Report path or bare flag token; pass through untouched.
			kept = append(kept, tk)
			continue
		}
		lower := tk.lowerKey()
		switch {
		case isRenderControl(tk.key):
			kept = append(kept, tk)
			keptSet[tk.key] = true
		case identifierParams[lower]:
			removedSet[tk.key] = true
		case counts[lower] > multiValueThreshold && !preserveMultiValue:
			removedSet[tk.key] = true
		default:
			kept = append(kept, tk)
			keptSet[tk.key] = true
		}
	}

	return CleanResult{
		URL:     joinFeedURL(base, kept),
		Removed: sortedKeys(removedSet),
		Kept:    sortedKeys(keptSet),
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyDynamicDates replaces recognized end-date parameters with today and
// start-date parameters with today minus lookbackDays. All other parameters
// pass through unchanged.
func ApplyDynamicDates(rawURL string, lookbackDays int) string {
	return applyDynamicDatesAt(rawURL, lookbackDays, time.Now())
}

func applyDynamicDatesAt(rawURL string, lookbackDays int, now time.Time) string {
	base, tokens := splitFeedURL(rawURL)
	endVal := url.QueryEscape(now.Format(feedDateFormat))
	startVal := url.QueryEscape(now.AddDate(0, 0, -lookbackDays).Format(feedDateFormat))

	for i, tk := range tokens {
		if !tk.hasEq {
			continue
		}
		switch {
		case startDateParams[tk.lowerKey()]:
			tokens[i] = makeToken(tk.key, startVal)
		case endDateParams[tk.lowerKey()]:
			tokens[i] = makeToken(tk.key, endVal)
		}
	}
	return joinFeedURL(base, tokens)
}

func makeToken(key, escapedValue string) token {
	return token{
		raw:   key + "=" + escapedValue,
		key:   key,
		value: escapedValue,
		hasEq: true,
	}
}

// InjectLocationFilter adds or replaces the location filter parameter with the
// supplied values. An empty value set is a no-op.
func InjectLocationFilter(rawURL string, locations []string) string {
	if len(locations) == 0 {
		return rawURL
	}
	base, tokens := splitFeedURL(rawURL)

	var kept []token
	for _, tk := range tokens {
		if tk.hasEq && strings.EqualFold(tk.key, locationParam) {
			continue
		}
		kept = append(kept, tk)
	}
	for _, loc := range locations {
		kept = append(kept, makeToken(locationParam, url.QueryEscape(loc)))
	}
	return joinFeedURL(base, kept)
}

// CreateDetailURL builds a per-project detail fetch URL from a detail
// template. Every recognized project identifier parameter gets the project's
// id substituted. When region is empty any region-selector parameter is
// removed so the server returns all regions; otherwise the selector is set to
// the requested region.
func CreateDetailURL(templateURL, entityID, region string) string {
	base, tokens := splitFeedURL(templateURL)
	escapedID := url.QueryEscape(entityID)

	var kept []token
	hasSelector := false
	for _, tk := range tokens {
		if !tk.hasEq {
			kept = append(kept, tk)
			continue
		}
		lower := tk.lowerKey()
		switch {
		case projectIdentifierParams[lower]:
			kept = append(kept, makeToken(tk.key, escapedID))
		case regionSelectorParams[lower]:
			if region == "" {
				continue // drop: default is the union of all regions
			}
			if !hasSelector {
				kept = append(kept, makeToken(regionSelectorKey, url.QueryEscape(region)))
				hasSelector = true
			}
		default:
			kept = append(kept, tk)
		}
	}
	if region != "" && !hasSelector {
		kept = append(kept, makeToken(regionSelectorKey, url.QueryEscape(region)))
	}
	return joinFeedURL(base, kept)
}

var opportunityKeywords = []string{"opportunit", "pipeline", "sales"}
var ticketKeywords = []string{"ticket", "service call", "incident", "helpdesk"}
var detailKeywords = []string{"detail", "single project"}

// DetectKind classifies a captured feed definition. A template carrying
// exactly one identifier parameter and no list-style identifier repetition is
// a detail template; heavy identifier repetition marks a summary list. URL and
// title keywords are layered on top. Projects is the default when no rule
// matches.
func DetectKind(rawURL, title string) string {
	_, tokens := splitFeedURL(rawURL)

	idCounts := map[string]int{}
	for _, tk := range tokens {
		if tk.hasEq && identifierParams[tk.lowerKey()] {
			idCounts[tk.lowerKey()]++
		}
	}
	totalIDs := 0
	repeated := false
	for _, n := range idCounts {
		totalIDs += n
		if n > 1 {
			repeated = true
		}
	}

	if totalIDs == 1 && !repeated {
		return KindProjectDetail
	}

	text := strings.ToLower(rawURL + " " + title)
	for _, kw := range opportunityKeywords {
		if strings.Contains(text, kw) {
			return KindOpportunities
		}
	}
	for _, kw := range ticketKeywords {
		if strings.Contains(text, kw) {
			return KindServiceTickets
		}
	}
	if !repeated {
		for _, kw := range detailKeywords {
			if strings.Contains(text, kw) {
				return KindProjectDetail
			}
		}
	}
	return KindProjects
}
