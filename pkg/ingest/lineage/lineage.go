// Package lineage implements the LineageRecorder §4.8 describes:
// batched per-record event emission plus a lifecycle rollup, with
// first-write-wins semantics for a record's creation and last-write-
// wins for its most recent modification.
package lineage

import (
	"context"
	"time"

	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/errs"
	"github.com/litp/platform/pkg/ingest/upsert"
)

// EventsCollection is the fixed append-only event log.
const EventsCollection = "record_lineage_events"

// RollupCollection is the fixed per-(collection,recordId) lifecycle summary.
const RollupCollection = "record_lineage"

// Recorder writes lineage events and rollups for one dataset collection.
type Recorder struct {
	store docstore.Store
	// Now returns the event timestamp; overridable in tests.
	Now func() time.Time
}

// New builds a Recorder writing through store.
func New(store docstore.Store) *Recorder {
	return &Recorder{store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// Record persists one lineage event plus a rollup update per changed
// row in events, attributing them to collection/importID/fileKey.
func (r *Recorder) Record(ctx context.Context, collection string, events []upsert.Event, importID, fileKey string) error {
	if len(events) == 0 {
		return nil
	}

	now := r.Now()
	var eventOps []docstore.WriteOp

	for _, ev := range events {
		changeType := ev.ChangeType
		eventDateKey := now.Format(time.RFC3339Nano)

		eventDoc := map[string]any{
			"_id":             eventDedupKey(collection, ev.RecordID, eventDateKey, importID),
			"collection":      collection,
			"record_id":       ev.RecordID,
			"event_type":      string(ev.EventType),
			"import_id":       importID,
			"file_key":        fileKey,
			"event_date":      now,
			"change_type":     string(changeType),
			"previous_values": ev.PreviousValues,
			"new_values":      ev.NewValues,
		}
		eventOps = append(eventOps, docstore.WriteOp{
			Filter: docstore.Filter{"_id": eventDoc["_id"]},
			Update: eventDoc,
			Upsert: true,
		})

		if err := r.applyRollup(ctx, collection, ev, importID, now); err != nil {
			return err
		}
	}

	if len(eventOps) > 0 {
		if _, err := r.store.BulkWrite(ctx, EventsCollection, eventOps); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) applyRollup(ctx context.Context, collection string, ev upsert.Event, importID string, now time.Time) error {
	rollupID := collection + "/" + ev.RecordID

	existing, err := r.store.FindOne(ctx, RollupCollection, docstore.Filter{"_id": rollupID})
	had := err == nil
	if err != nil && !errs.Is(err, errs.NotFound) {
		return err
	}

	status := domain.LineageActive
	if ev.EventType == domain.EventDeleted {
		status = domain.LineageDeleted
	}

	createdByImport := importID
	createdAt := now
	if had {
		if v, ok := existing["created_by_import"].(string); ok {
			createdByImport = v
		}
		if v, ok := existing["created_at"].(time.Time); ok {
			createdAt = v
		}
	}

	doc := map[string]any{
		"_id":                   rollupID,
		"record_id":             ev.RecordID,
		"collection":            collection,
		"current_status":        string(status),
		"created_by_import":     createdByImport,
		"created_at":            createdAt,
		"last_modified_by_import": importID,
		"last_modified_at":      now,
	}
	return r.store.Upsert(ctx, RollupCollection, docstore.Filter{"_id": rollupID}, doc)
}

func eventDedupKey(collection, recordID, eventDateKey, importID string) string {
	return collection + "\x1f" + recordID + "\x1f" + eventDateKey + "\x1f" + importID
}
