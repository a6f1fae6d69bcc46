package issues

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
)

func TestUpsertInsertsOnFirstOccurrence(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	r := New(store)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	issue, effect, err := r.Upsert(ctx, "MISSING_SAM", "R1", "E1", "12/345/0001", "12/345", map[string]any{"x": 1}, now)
	require.NoError(t, err)
	assert.Equal(t, EffectInserted, effect)
	assert.True(t, issue.IsActive)
	assert.Equal(t, domain.ResolutionNone, issue.ResolutionStatus)
	assert.Len(t, issue.History, 1)
	assert.Equal(t, "created", issue.History[0].Action)

	id, err := ID("MISSING_SAM", "12/345/0001")
	require.NoError(t, err)
	assert.Equal(t, id, issue.ID)
}

func TestUpsertSameOccurrenceUpdatesSameRowNotDuplicate(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	r := New(store)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)

	first, _, err := r.Upsert(ctx, "MISSING_SAM", "R1", "E1", "12/345/0001", "12/345", nil, now)
	require.NoError(t, err)

	second, effect, err := r.Upsert(ctx, "MISSING_SAM", "R1", "E1", "12/345/0001", "12/345", nil, later)
	require.NoError(t, err)

	assert.Equal(t, EffectTouched, effect)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, later, second.LastUpdatedAt)
	assert.Len(t, second.History, 0, "a Touched effect must not produce a history entry")

	n, err := store.Count(ctx, Collection, docstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDeactivateAllActiveExceptThenReactivate(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	r := New(store)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := r.Upsert(ctx, "MISSING_SAM", "R1", "E1", "12/345/0001", "12/345", nil, now)
	require.NoError(t, err)
	_, _, err = r.Upsert(ctx, "MISSING_SAM", "R1", "E1", "12/345/0003", "12/345", nil, now)
	require.NoError(t, err)

	// next analysis: only 0001 still has the issue, so 0003 resolves.
	n, err := r.DeactivateAllActiveExcept(ctx, "MISSING_SAM", []string{"12/345/0001"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	id3, err := ID("MISSING_SAM", "12/345/0003")
	require.NoError(t, err)
	doc, err := store.FindOne(ctx, Collection, docstore.Filter{"_id": id3})
	require.NoError(t, err)
	assert.False(t, toBool(doc["is_active"]))

	// issue reappears for 0003: same issue id reactivates, not a new row.
	later := now.Add(24 * time.Hour)
	reissue, effect, err := r.Upsert(ctx, "MISSING_SAM", "R1", "E1", "12/345/0003", "12/345", nil, later)
	require.NoError(t, err)
	assert.Equal(t, EffectReactivated, effect)
	assert.Equal(t, id3, reissue.ID)
	assert.True(t, reissue.IsActive)

	total, err := store.Count(ctx, Collection, docstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total, "reactivation must not create a duplicate row")
}

func TestAssignThenUnassignRecordsHistory(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	r := New(store)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	issue, _, err := r.Upsert(ctx, "MISSING_SAM", "R1", "E1", "12/345/0001", "12/345", nil, now)
	require.NoError(t, err)

	assigned, err := r.Assign(ctx, issue.ID, "alice", "operator-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", assigned.AssignedTo)
	assert.Equal(t, "assigned", assigned.History[len(assigned.History)-1].Action)

	unassigned, err := r.Unassign(ctx, issue.ID, "operator-1")
	require.NoError(t, err)
	assert.Equal(t, "", unassigned.AssignedTo)
	assert.Equal(t, "unassigned", unassigned.History[len(unassigned.History)-1].Action)
}
