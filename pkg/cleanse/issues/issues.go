// Package issues implements the IssueRepository §4.11/§6 describes: a
// deterministically-keyed store of data-quality findings with
// insert-if-absent / activate-if-inactive / touch-if-active upsert
// semantics, bulk deactivation of stale findings, and an assignment
// command pair. Grounded on `pkg/ingest/lineage`'s read-modify-write
// rollup pattern, applied here to an Issue row instead of a lineage
// rollup, and on `pkg/ingest/recordid` for the deterministic id.
package issues

import (
	"context"
	"time"

	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/errs"
	"github.com/litp/platform/pkg/ingest/recordid"
)

// Collection holds one document per Issue.
const Collection = "cleanse_report"

// HistoryCollection holds the append-only IssueHistoryEntry log,
// keyed by issue id, entry timestamp and action.
const HistoryCollection = "cleanse_issue_history"

// Effect reports what Upsert actually did.
type Effect string

const (
	EffectInserted    Effect = "Inserted"
	EffectReactivated Effect = "Reactivated"
	EffectTouched     Effect = "Touched"
)

// Repository is the IssueRepository, backed by a DocumentStore.
type Repository struct {
	store docstore.Store
	// Now returns the current time; overridable in tests.
	Now func() time.Time
}

// New builds a Repository writing through store.
func New(store docstore.Store) *Repository {
	return &Repository{store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// ID computes the deterministic issue id for (code, ctsLidFullIdentifier).
func ID(code, ctsLidFullIdentifier string) (string, error) {
	return recordid.Generate(code, ctsLidFullIdentifier)
}

// Upsert performs insert-if-absent / activate-if-inactive /
// touch-if-active for the finding identified by (code,
// ctsLidFullIdentifier). contextData is stored on the Issue document
// (outside the domain.Issue struct proper, available to reporting)
// and recorded in the history entry for Inserted/Reactivated effects
// only — a Touched effect updates LastUpdatedAt without appending to
// history, so a recurring-but-never-resolved issue doesn't grow an
// unbounded history of identical "touched" entries.
func (r *Repository) Upsert(ctx context.Context, code, ruleCode, errorCode, ctsLidFullIdentifier, cph string, contextData map[string]any, now time.Time) (domain.Issue, Effect, error) {
	id, err := ID(code, ctsLidFullIdentifier)
	if err != nil {
		return domain.Issue{}, "", err
	}

	existing, err := r.store.FindOne(ctx, Collection, docstore.Filter{"_id": id})
	had := err == nil
	if err != nil && !errs.Is(err, errs.NotFound) {
		return domain.Issue{}, "", err
	}

	var issue domain.Issue
	var effect Effect
	var historyAction string

	switch {
	case !had:
		issue = domain.Issue{
			ID:                   id,
			Code:                 code,
			RuleCode:             ruleCode,
			ErrorCode:            errorCode,
			CTSLIDFullIdentifier: ctsLidFullIdentifier,
			CPH:                  cph,
			CreatedAt:            now,
			LastUpdatedAt:        now,
			IsActive:             true,
			IsIgnored:            false,
			ResolutionStatus:     domain.ResolutionNone,
		}
		effect = EffectInserted
		historyAction = "created"
	case !toBool(existing["is_active"]):
		issue = fromDoc(existing)
		issue.IsActive = true
		issue.LastUpdatedAt = now
		effect = EffectReactivated
		historyAction = "reactivated"
	default:
		issue = fromDoc(existing)
		issue.LastUpdatedAt = now
		effect = EffectTouched
	}

	if historyAction != "" {
		issue.History = append(issue.History, domain.IssueHistoryEntry{
			Timestamp: now,
			Actor:     "system",
			Action:    historyAction,
			After:     contextData,
		})
		if err := r.appendHistory(ctx, id, issue.History[len(issue.History)-1]); err != nil {
			return domain.Issue{}, "", err
		}
	}

	doc := toDoc(issue)
	doc["context_data"] = contextData
	if err := r.store.Upsert(ctx, Collection, docstore.Filter{"_id": id}, doc); err != nil {
		return domain.Issue{}, "", err
	}
	return issue, effect, nil
}

// DeactivateAllActiveExcept deactivates every active Issue of the
// given code whose CTSLIDFullIdentifier is not in stillSeen, and
// returns the number deactivated.
func (r *Repository) DeactivateAllActiveExcept(ctx context.Context, code string, stillSeen []string) (int, error) {
	seen := make(map[string]struct{}, len(stillSeen))
	for _, s := range stillSeen {
		seen[s] = struct{}{}
	}

	docs, err := r.store.Find(ctx, Collection, docstore.Filter{
		"code":      docstore.Filter{"$eq": code},
		"is_active": docstore.Filter{"$eq": true},
	}, nil, 0, 0)
	if err != nil {
		return 0, err
	}

	now := r.Now()
	var ops []docstore.WriteOp
	deactivated := 0
	for _, d := range docs {
		ctsLid, _ := d["cts_lid_full_identifier"].(string)
		if _, ok := seen[ctsLid]; ok {
			continue
		}
		issue := fromDoc(d)
		issue.IsActive = false
		issue.LastUpdatedAt = now
		issue.History = append(issue.History, domain.IssueHistoryEntry{
			Timestamp: now,
			Actor:     "system",
			Action:    "deactivated",
		})
		if err := r.appendHistory(ctx, issue.ID, issue.History[len(issue.History)-1]); err != nil {
			return deactivated, err
		}
		doc := toDoc(issue)
		doc["context_data"] = d["context_data"]
		ops = append(ops, docstore.WriteOp{
			Filter: docstore.Filter{"_id": issue.ID},
			Update: doc,
			Upsert: false,
		})
		deactivated++
	}
	if len(ops) > 0 {
		if _, err := r.store.BulkWrite(ctx, Collection, ops); err != nil {
			return deactivated, err
		}
	}
	return deactivated, nil
}

// Assign sets an Issue's AssignedTo and appends an "assigned" history
// entry attributed to actor.
func (r *Repository) Assign(ctx context.Context, issueID, assignedTo, actor string) (domain.Issue, error) {
	return r.reassign(ctx, issueID, assignedTo, "assigned", actor)
}

// Unassign clears an Issue's AssignedTo and appends an "unassigned"
// history entry attributed to actor.
func (r *Repository) Unassign(ctx context.Context, issueID, actor string) (domain.Issue, error) {
	return r.reassign(ctx, issueID, "", "unassigned", actor)
}

func (r *Repository) reassign(ctx context.Context, issueID, assignedTo, action, actor string) (domain.Issue, error) {
	existing, err := r.store.FindOne(ctx, Collection, docstore.Filter{"_id": issueID})
	if err != nil {
		return domain.Issue{}, err
	}
	issue := fromDoc(existing)

	now := r.Now()
	entry := domain.IssueHistoryEntry{
		Timestamp: now,
		Actor:     actor,
		Action:    action,
		Before:    map[string]any{"assignedTo": issue.AssignedTo},
		After:     map[string]any{"assignedTo": assignedTo},
	}
	issue.AssignedTo = assignedTo
	issue.LastUpdatedAt = now
	issue.History = append(issue.History, entry)

	if err := r.appendHistory(ctx, issueID, entry); err != nil {
		return domain.Issue{}, err
	}
	doc := toDoc(issue)
	doc["context_data"] = existing["context_data"]
	if err := r.store.Upsert(ctx, Collection, docstore.Filter{"_id": issueID}, doc); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

func (r *Repository) appendHistory(ctx context.Context, issueID string, entry domain.IssueHistoryEntry) error {
	id := issueID + "/" + entry.Timestamp.Format(time.RFC3339Nano) + "/" + entry.Action
	return r.store.Upsert(ctx, HistoryCollection, docstore.Filter{"_id": id}, map[string]any{
		"_id":      id,
		"issue_id": issueID,
		"ts":       entry.Timestamp,
		"actor":    entry.Actor,
		"action":   entry.Action,
		"before":   entry.Before,
		"after":    entry.After,
	})
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toDoc(issue domain.Issue) map[string]any {
	return map[string]any{
		"_id":                     issue.ID,
		"code":                    issue.Code,
		"rule_code":               issue.RuleCode,
		"error_code":              issue.ErrorCode,
		"cts_lid_full_identifier": issue.CTSLIDFullIdentifier,
		"cph":                     issue.CPH,
		"created_at":              issue.CreatedAt,
		"last_updated_at":         issue.LastUpdatedAt,
		"is_active":               issue.IsActive,
		"is_ignored":              issue.IsIgnored,
		"resolution_status":       string(issue.ResolutionStatus),
		"assigned_to":             issue.AssignedTo,
	}
}

func fromDoc(d map[string]any) domain.Issue {
	issue := domain.Issue{
		ID:                   str(d["_id"]),
		Code:                 str(d["code"]),
		RuleCode:             str(d["rule_code"]),
		ErrorCode:            str(d["error_code"]),
		CTSLIDFullIdentifier: str(d["cts_lid_full_identifier"]),
		CPH:                  str(d["cph"]),
		IsActive:             toBool(d["is_active"]),
		IsIgnored:            toBool(d["is_ignored"]),
		ResolutionStatus:     domain.ResolutionStatus(str(d["resolution_status"])),
		AssignedTo:           str(d["assigned_to"]),
	}
	if t, ok := d["created_at"].(time.Time); ok {
		issue.CreatedAt = t
	}
	if t, ok := d["last_updated_at"].(time.Time); ok {
		issue.LastUpdatedAt = t
	}
	return issue
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
