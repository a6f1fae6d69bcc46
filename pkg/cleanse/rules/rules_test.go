package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litp/platform/pkg/cleanse/issues"
	"github.com/litp/platform/pkg/cleanse/strategy"
	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/query"
	corerules "github.com/litp/platform/pkg/rules"
)

func newFixture(t *testing.T, lids ...string) (docstore.Store, *strategy.Strategy[*CTSRecord], func() *query.Context) {
	t.Helper()
	store := docstore.NewMemory()
	ctx := context.Background()
	for _, lid := range lids {
		require.NoError(t, store.Upsert(ctx, CTSCollection, docstore.Filter{"_id": lid}, map[string]any{"_id": lid}))
	}

	cfg := strategy.Config[*CTSRecord]{
		OuterCollection: CTSCollection,
		Pipeline:        corerules.NewPipeline[*CTSRecord]().Add(NewMissingSAMRule(), corerules.ContinueAlways),
		Build:           BuildCTSRecord,
		PageSize:        500,
	}
	repo := issues.New(store)
	s := strategy.New(cfg, repo)

	svc := query.NewService(store)
	seq := 0
	newQC := func() *query.Context {
		seq++
		return query.NewContext("cleanse-run-"+string(rune('0'+seq)), svc)
	}
	return store, s, newQC
}

func putSAM(t *testing.T, store docstore.Store, lid string) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), SAMCollection, docstore.Filter{"_id": lid}, map[string]any{
		"_id": lid, "herd": "herd-a", "party": "party-a", "email": "a@example.com",
	}))
}

func TestMissingSAMRuleRaisesIssueForAbsentRow(t *testing.T) {
	ctx := context.Background()
	store, s, newQC := newFixture(t, "AH-12/345/0001", "AH-12/345/0002", "AH-12/345/0003")
	putSAM(t, store, "AH-12/345/0001")
	putSAM(t, store, "AH-12/345/0003")

	res, err := s.Run(ctx, newQC())
	require.NoError(t, err)
	assert.Equal(t, 3, res.RecordsAnalyzed)
	assert.Equal(t, 1, res.IssuesFound)
	assert.Equal(t, 0, res.IssuesResolved)
}

func TestMissingSAMRuleRaisesIssueForIncompleteRow(t *testing.T) {
	ctx := context.Background()
	store, s, newQC := newFixture(t, "AH-12/345/0001")
	require.NoError(t, store.Upsert(ctx, SAMCollection, docstore.Filter{"_id": "AH-12/345/0001"}, map[string]any{
		"_id": "AH-12/345/0001", "herd": "herd-a", "party": "", "email": "a@example.com",
	}))

	res, err := s.Run(ctx, newQC())
	require.NoError(t, err)
	assert.Equal(t, 1, res.IssuesFound)
}

func TestMissingSAMRuleResolvesOnceSupportingDataAdded(t *testing.T) {
	ctx := context.Background()
	store, s, newQC := newFixture(t, "AH-12/345/0001", "AH-12/345/0002", "AH-12/345/0003")
	putSAM(t, store, "AH-12/345/0001")
	putSAM(t, store, "AH-12/345/0003")

	_, err := s.Run(ctx, newQC())
	require.NoError(t, err)

	putSAM(t, store, "AH-12/345/0002")
	s.Now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	res, err := s.Run(ctx, newQC())
	require.NoError(t, err)

	assert.Equal(t, 0, res.IssuesFound)
	assert.Equal(t, 1, res.IssuesResolved)

	id, err := issues.ID(MissingSAMCode, "AH-12/345/0002")
	require.NoError(t, err)
	doc, err := store.FindOne(ctx, issues.Collection, docstore.Filter{"_id": id})
	require.NoError(t, err)
	assert.False(t, doc["is_active"].(bool))
}

func TestMissingSAMRuleReactivatesSameIssueIdWhenCauseReturns(t *testing.T) {
	ctx := context.Background()
	store, s, newQC := newFixture(t, "AH-12/345/0001", "AH-12/345/0002")
	putSAM(t, store, "AH-12/345/0001")

	_, err := s.Run(ctx, newQC())
	require.NoError(t, err)

	idBefore, err := issues.ID(MissingSAMCode, "AH-12/345/0002")
	require.NoError(t, err)

	_, err = store.DeleteMany(ctx, SAMCollection, docstore.Filter{"_id": "AH-12/345/0002"})
	require.NoError(t, err)
	putSAM(t, store, "AH-12/345/0002")
	s.Now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	_, err = s.Run(ctx, newQC())
	require.NoError(t, err)

	_, err = store.DeleteMany(ctx, SAMCollection, docstore.Filter{"_id": "AH-12/345/0002"})
	require.NoError(t, err)
	s.Now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	res, err := s.Run(ctx, newQC())
	require.NoError(t, err)

	assert.Equal(t, 1, res.IssuesFound)
	idAfter, err := issues.ID(MissingSAMCode, "AH-12/345/0002")
	require.NoError(t, err)
	assert.Equal(t, idBefore, idAfter)
}

func TestCphFromLIDStripsRegionPrefix(t *testing.T) {
	assert.Equal(t, "12/345/0001", cphFromLID("AH-12/345/0001"))
	assert.Equal(t, "noregionmarker", cphFromLID("noregionmarker"))
}
