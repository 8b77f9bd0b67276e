package sync

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/pocketbase/pocketbase/core"
)

// numericTolerance is the absolute difference below which two numeric field
// values are considered equal. Report renderers round inconsistently between
// runs; without the tolerance every run would rewrite every money field.
const numericTolerance = 0.01

// FeedFetcher fetches one templated feed URL. Implemented by
// reportserver.Client; tests substitute stubs.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// StoredRecord is the stored-record surface the upsert engine reads and
// writes.
type StoredRecord interface {
	ID() string
	Get(key string) any
	Set(key string, value any)
}

// RecordStore persists canonical records and their audit rows. Backed by the
// app's collections in production; tests use an in-memory fake.
type RecordStore interface {
	// LoadAll returns a collection's records keyed by external_id.
	LoadAll(collection string) (map[string]StoredRecord, error)
	New(collection string) (StoredRecord, error)
	Save(record StoredRecord) error
	AppendChange(runID, entityType, entityID, externalID, changeType, field, oldValue, newValue string) error
}

// BaseSyncService provides the change-detection and upsert engine shared by
// the per-kind sync services.
type BaseSyncService struct {
	App    core.App
	Client FeedFetcher
	Store  RecordStore
	Stats  Stats
}

// NewBaseSyncService creates a base service over the app's record store.
func NewBaseSyncService(app core.App, client FeedFetcher) BaseSyncService {
	return BaseSyncService{App: app, Client: client, Store: &pbRecordStore{app: app}}
}

// LogSyncStart logs the start of a sync.
func (b *BaseSyncService) LogSyncStart(kind string) {
	slog.Info("Starting sync", "kind", kind)
}

// LogSyncComplete logs completion with the standardized counter format.
func (b *BaseSyncService) LogSyncComplete(kind string) {
	slog.Info("Sync complete", "kind", kind,
		"stats", fmt.Sprintf("total=%d, created=%d, updated=%d, unchanged=%d, errors=%d",
			b.Stats.Total, b.Stats.Created, b.Stats.Updated, b.Stats.Unchanged, b.Stats.Errors))
}

// GetStats returns the current run counters.
func (b *BaseSyncService) GetStats() Stats {
	return b.Stats
}

// PreloadRecords loads the collection's records into a map keyed by
// external_id so per-entry comparison needs no store round trip.
func (b *BaseSyncService) PreloadRecords(collection string) (map[string]StoredRecord, error) {
	existing, err := b.Store.LoadAll(collection)
	if err != nil {
		slog.Warn("Error loading existing records", "collection", collection, "error", err)
		// An empty map degrades to create-only behavior instead of failing
		// the run.
		return map[string]StoredRecord{}, nil
	}
	slog.Info("Loaded existing records", "collection", collection, "count", len(existing))
	return existing, nil
}

// ProcessRecord upserts one mapped record and emits change entries against
// the given run. Absent records are inserted with a created marker; present
// records are compared over compareFields and rewritten only when at least
// one field differs, with one updated entry per differing field.
func (b *BaseSyncService) ProcessRecord(
	runID string,
	kind string,
	collection string,
	recordData map[string]interface{},
	existing map[string]StoredRecord,
	compareFields []string,
) error {
	b.Stats.Total++

	externalID, _ := recordData["external_id"].(string)
	if externalID == "" {
		return fmt.Errorf("record data missing external_id")
	}

	record := existing[externalID]
	if record == nil {
		created, err := b.Store.New(collection)
		if err != nil {
			return err
		}
		for field, value := range recordData {
			created.Set(field, value)
		}
		if err := b.Store.Save(created); err != nil {
			return fmt.Errorf("creating record %s: %w", externalID, err)
		}
		existing[externalID] = created
		b.Stats.Created++
		b.appendChange(runID, kind, created.ID(), externalID, ChangeCreated, "", "", "")
		return nil
	}

	var changedFields []string
	for _, field := range compareFields {
		newValue, has := recordData[field]
		if !has {
			// Absent in this feed's mapping; null and empty compare equal,
			// so only flag when the stored value is non-empty.
			newValue = nil
		}
		if !FieldEquals(record.Get(field), newValue) {
			changedFields = append(changedFields, field)
		}
	}

	if len(changedFields) == 0 {
		b.Stats.Unchanged++
		return nil
	}

	for _, field := range changedFields {
		b.appendChange(runID, kind, record.ID(), externalID, ChangeUpdated, field,
			changeValue(record.Get(field)), changeValue(recordData[field]))
	}
	for field, value := range recordData {
		record.Set(field, value)
	}
	// A changed field missing from recordData was cleared upstream; the data
	// loop above never touches it, so clear it here or the stale value would
	// be re-flagged on every following run.
	for _, field := range changedFields {
		if _, has := recordData[field]; !has {
			record.Set(field, nil)
		}
	}
	if err := b.Store.Save(record); err != nil {
		return fmt.Errorf("updating record %s: %w", externalID, err)
	}
	b.Stats.Updated++
	return nil
}

// appendChange writes one audit row. An audit write failure is logged but
// never fails the record upsert it describes.
func (b *BaseSyncService) appendChange(
	runID, entityType, entityID, externalID, changeType, field, oldValue, newValue string,
) {
	err := b.Store.AppendChange(runID, entityType, entityID, externalID, changeType, field, oldValue, newValue)
	if err != nil {
		slog.Error("Failed to write change entry", "externalId", externalID, "error", err)
	}
}

// pbRecordStore backs RecordStore with the app's collections.
type pbRecordStore struct {
	app core.App
}

func (s *pbRecordStore) LoadAll(collection string) (map[string]StoredRecord, error) {
	records, err := s.app.FindRecordsByFilter(collection, "", "", 0, 0)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]StoredRecord, len(records))
	for _, record := range records {
		if id := record.GetString("external_id"); id != "" {
			existing[id] = &pbStoredRecord{record: record}
		}
	}
	return existing, nil
}

func (s *pbRecordStore) New(collection string) (StoredRecord, error) {
	col, err := s.app.FindCollectionByNameOrId(collection)
	if err != nil {
		return nil, fmt.Errorf("finding collection %s: %w", collection, err)
	}
	return &pbStoredRecord{record: core.NewRecord(col)}, nil
}

func (s *pbRecordStore) Save(record StoredRecord) error {
	pb, ok := record.(*pbStoredRecord)
	if !ok {
		return fmt.Errorf("unexpected record type %T", record)
	}
	return s.app.Save(pb.record)
}

func (s *pbRecordStore) AppendChange(
	runID, entityType, entityID, externalID, changeType, field, oldValue, newValue string,
) error {
	col, err := s.app.FindCollectionByNameOrId(CollectionChanges)
	if err != nil {
		return fmt.Errorf("finding change log collection: %w", err)
	}
	change := core.NewRecord(col)
	change.Set("run", runID)
	change.Set("entity_type", entityType)
	change.Set("entity_id", entityID)
	change.Set("external_id", externalID)
	change.Set("change_type", changeType)
	change.Set("field", field)
	change.Set("old_value", oldValue)
	change.Set("new_value", newValue)
	return s.app.Save(change)
}

// pbStoredRecord adapts *core.Record to StoredRecord.
type pbStoredRecord struct {
	record *core.Record
}

func (r *pbStoredRecord) ID() string            { return r.record.Id }
func (r *pbStoredRecord) Get(key string) any    { return r.record.Get(key) }
func (r *pbStoredRecord) Set(key string, v any) { r.record.Set(key, v) }

// FieldEquals compares a stored field value with a freshly mapped one.
// Values numeric on either side compare with an absolute tolerance of 0.01;
// everything else compares as normalized strings, with nil treated as empty.
func FieldEquals(existingValue, newValue interface{}) bool {
	ef, eNum := toFloat(existingValue)
	nf, nNum := toFloat(newValue)
	if eNum && nNum {
		return math.Abs(ef-nf) <= numericTolerance
	}
	if eNum != nNum {
		// One side numeric, the other not parseable as a number: equal only
		// when the non-numeric side normalizes to the numeric side's text.
		return normalizeFieldString(existingValue) == normalizeFieldString(newValue)
	}
	return normalizeFieldString(existingValue) == normalizeFieldString(newValue)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func normalizeFieldString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case bool:
		if s {
			return "true"
		}
		return "false"
	case fmt.Stringer:
		return strings.TrimSpace(s.String())
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// changeValue renders a field value for the audit trail.
func changeValue(v interface{}) string {
	if v == nil {
		return ""
	}
	if f, ok := toFloat(v); ok {
		if _, isStr := v.(string); !isStr {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	return normalizeFieldString(v)
}
