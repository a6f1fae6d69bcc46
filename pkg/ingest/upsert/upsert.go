// Package upsert implements the Insert/Update/Delete state machine
// §4.7 describes for applying one CSV batch to a dataset collection:
// soft-delete/undelete transitions, CreatedAtUtc preservation, and
// set-union accumulator columns, applied as a single bulk write per
// batch.
package upsert

import (
	"context"
	"reflect"
	"time"

	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
)

// Field names used on stored documents, beyond the verbatim CSV columns.
const (
	FieldID        = "_id"
	FieldCreatedAt = "CreatedAtUtc"
	FieldUpdatedAt = "UpdatedAtUtc"
	FieldIsDeleted = "IsDeleted"
	FieldDeletedAt = "DeletedAtUtc"
)

// Row is one parsed CSV row, ready for the engine.
type Row struct {
	RecordID   string
	Columns    map[string]string
	ChangeType domain.ChangeType
}

// Event captures one actually-applied row change, in the shape the
// LineageRecorder needs to emit its own events without re-deriving them.
type Event struct {
	RecordID       string
	EventType      domain.LineageEventType
	ChangeType     domain.ChangeType
	PreviousValues map[string]any
	NewValues      map[string]any
}

// Result summarises one Apply call.
type Result struct {
	Created   int
	Updated   int
	Deleted   int
	Undeleted int
	Events    []Event
}

// Engine applies batches of rows to a dataset collection.
type Engine struct {
	store docstore.Store
	// Now returns the current time; overridable in tests for
	// deterministic CreatedAtUtc/UpdatedAtUtc assertions.
	Now func() time.Time
}

// New builds an Engine writing through store.
func New(store docstore.Store) *Engine {
	return &Engine{store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// Apply applies rows, in order, to collection as a single bulk write,
// using accumulatorColumns to determine which columns are merged as
// sets rather than replaced.
func (e *Engine) Apply(ctx context.Context, collection string, rows []Row, importID, fileKey string, accumulatorColumns []string) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}

	ids := make([]any, len(rows))
	for i, r := range rows {
		ids[i] = r.RecordID
	}
	existingDocs, err := e.store.Find(ctx, collection, docstore.Filter{FieldID: map[string]any{"$in": ids}}, nil, 0, 0)
	if err != nil {
		return Result{}, err
	}
	existing := make(map[string]map[string]any, len(existingDocs))
	for _, d := range existingDocs {
		if id, ok := d[FieldID].(string); ok {
			existing[id] = d
		}
	}

	now := e.Now()
	var res Result
	var ops []docstore.WriteOp

	for _, row := range rows {
		prior, had := existing[row.RecordID]
		doc, eventType, changed := transition(prior, had, row, now, accumulatorColumns)
		if !changed {
			continue
		}

		ops = append(ops, docstore.WriteOp{
			Filter: docstore.Filter{FieldID: row.RecordID},
			Update: doc,
			Upsert: true,
		})

		switch eventType {
		case domain.EventCreated:
			res.Created++
		case domain.EventUpdated:
			res.Updated++
		case domain.EventDeleted:
			res.Deleted++
		case domain.EventUndeleted:
			res.Undeleted++
		}

		res.Events = append(res.Events, Event{
			RecordID:       row.RecordID,
			EventType:      eventType,
			ChangeType:     row.ChangeType,
			PreviousValues: previousValues(prior, doc),
			NewValues:      newValuesFor(eventType, doc),
		})

		// Feed this row's effect back into `existing` so a second row
		// for the same recordId later in the same batch sees it.
		existing[row.RecordID] = doc
	}

	if len(ops) == 0 {
		return res, nil
	}
	_, err = e.store.BulkWrite(ctx, collection, ops)
	return res, err
}

// transition applies the §4.7 state table to one row against its
// prior document (if any), returning the new document to persist, the
// lineage event type it produced, and whether anything changed at all
// (a no-op transition returns changed=false and doc=nil).
func transition(prior map[string]any, had bool, row Row, now time.Time, accumulatorColumns []string) (map[string]any, domain.LineageEventType, bool) {
	isDeleted := had && asBool(prior[FieldIsDeleted])

	switch {
	case !had:
		if row.ChangeType == domain.ChangeDelete {
			return nil, "", false // Absent + D: no-op
		}
		doc := baseColumns(row)
		doc[FieldID] = row.RecordID
		doc[FieldCreatedAt] = now
		doc[FieldUpdatedAt] = now
		doc[FieldIsDeleted] = false
		applyAccumulators(doc, nil, accumulatorColumns)
		return doc, domain.EventCreated, true

	case had && !isDeleted:
		if row.ChangeType == domain.ChangeDelete {
			doc := cloneDoc(prior)
			doc[FieldIsDeleted] = true
			doc[FieldDeletedAt] = now
			doc[FieldUpdatedAt] = now
			return doc, domain.EventDeleted, true
		}
		doc := baseColumns(row)
		doc[FieldID] = row.RecordID
		doc[FieldCreatedAt] = prior[FieldCreatedAt]
		doc[FieldUpdatedAt] = now
		doc[FieldIsDeleted] = false
		applyAccumulators(doc, prior, accumulatorColumns)
		return doc, domain.EventUpdated, true

	default: // had && isDeleted
		if row.ChangeType != domain.ChangeUpdate {
			return nil, "", false // Deleted + I or D: no-op
		}
		doc := baseColumns(row)
		doc[FieldID] = row.RecordID
		doc[FieldCreatedAt] = prior[FieldCreatedAt]
		doc[FieldUpdatedAt] = now
		doc[FieldIsDeleted] = false
		// DeletedAtUtc is left unset rather than assigned nil, so the
		// undeleted document has no key for it at all.
		applyAccumulators(doc, prior, accumulatorColumns)
		return doc, domain.EventUndeleted, true
	}
}

func baseColumns(row Row) map[string]any {
	doc := make(map[string]any, len(row.Columns)+4)
	for k, v := range row.Columns {
		doc[k] = v
	}
	return doc
}

func applyAccumulators(doc map[string]any, prior map[string]any, accumulatorColumns []string) {
	for _, col := range accumulatorColumns {
		incoming, _ := doc[col].(string)

		var existing []string
		if prior != nil {
			existing = toStringSlice(prior[col])
		}

		merged := existing
		if incoming != "" && !containsString(merged, incoming) {
			merged = append(append([]string{}, merged...), incoming)
		}
		doc[col] = merged
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func cloneDoc(d map[string]any) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// previousValues returns the pre-image of fields that changed between
// prior and doc (fields present in doc), per §4.8's "changed fields
// only" contract.
func previousValues(prior, doc map[string]any) map[string]any {
	if prior == nil {
		return nil
	}
	out := make(map[string]any)
	for k, newVal := range doc {
		oldVal, existed := prior[k]
		if !existed || !equalValue(oldVal, newVal) {
			out[k] = oldVal
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func newValuesFor(eventType domain.LineageEventType, doc map[string]any) map[string]any {
	if eventType == domain.EventDeleted {
		return nil
	}
	return doc
}

func equalValue(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		return at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}
