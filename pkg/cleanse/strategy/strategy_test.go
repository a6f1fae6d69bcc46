package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litp/platform/pkg/cleanse/issues"
	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/query"
	"github.com/litp/platform/pkg/rules"
)

const missingSAM = "MISSING_SAM"

type ctsInput struct {
	ctsLid string
	cph    string
}

func (c *ctsInput) CTSLID() string { return c.ctsLid }
func (c *ctsInput) CPH() string    { return c.cph }

func missingSAMRule(store docstore.Store) rules.Rule[*ctsInput] {
	return rules.NewRuleFunc[*ctsInput](missingSAM, func(in *ctsInput, rc rules.Context) rules.RuleResult {
		_, err := store.FindOne(rc.Ctx, "sam_rows", docstore.Filter{"_id": in.ctsLid})
		if err != nil {
			return rules.RaiseIssue(missingSAM, map[string]any{"ctsLid": in.ctsLid})
		}
		return rules.NoIssue()
	})
}

func newFixture(t *testing.T, ctsLids ...string) (docstore.Store, *Strategy[*ctsInput], func() *query.Context) {
	t.Helper()
	store := docstore.NewMemory()
	ctx := context.Background()
	for _, id := range ctsLids {
		require.NoError(t, store.Upsert(ctx, "cts_rows", docstore.Filter{"_id": id}, map[string]any{
			"_id": id, "cph": "12/345",
		}))
	}

	pipeline := rules.NewPipeline[*ctsInput]().Add(missingSAMRule(store), rules.ContinueAlways)
	cfg := Config[*ctsInput]{
		OuterCollection: "cts_rows",
		Pipeline:        pipeline,
		Build: func(record map[string]any) (*ctsInput, error) {
			id, _ := record["_id"].(string)
			cph, _ := record["cph"].(string)
			return &ctsInput{ctsLid: id, cph: cph}, nil
		},
		PageSize: 500,
	}
	repo := issues.New(store)
	s := New(cfg, repo)
	svc := query.NewService(store)
	seq := 0
	newQC := func() *query.Context {
		seq++
		return query.NewContext("cleanse-run-"+string(rune('0'+seq)), svc)
	}
	return store, s, newQC
}

func putSAM(t *testing.T, store docstore.Store, id string) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), "sam_rows", docstore.Filter{"_id": id}, map[string]any{"_id": id}))
}

func TestStrategyFindsMissingSAMIssue(t *testing.T) {
	ctx := context.Background()
	store, s, newQC := newFixture(t, "12/345/0001", "12/345/0002", "12/345/0003")
	putSAM(t, store, "12/345/0001")
	putSAM(t, store, "12/345/0003")

	res, err := s.Run(ctx, newQC())
	require.NoError(t, err)
	assert.Equal(t, 3, res.RecordsAnalyzed)
	assert.Equal(t, 1, res.IssuesFound)
	assert.Equal(t, 0, res.IssuesResolved)
}

func TestStrategyResolvesIssueOnceCauseIsFixed(t *testing.T) {
	ctx := context.Background()
	store, s, newQC := newFixture(t, "12/345/0001", "12/345/0002", "12/345/0003")
	putSAM(t, store, "12/345/0001")
	putSAM(t, store, "12/345/0003")

	_, err := s.Run(ctx, newQC())
	require.NoError(t, err)

	putSAM(t, store, "12/345/0002")
	s.Now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	res, err := s.Run(ctx, newQC())
	require.NoError(t, err)

	assert.Equal(t, 0, res.IssuesFound)
	assert.Equal(t, 1, res.IssuesResolved)

	id, err := issues.ID(missingSAM, "12/345/0002")
	require.NoError(t, err)
	doc, err := store.FindOne(ctx, issues.Collection, docstore.Filter{"_id": id})
	require.NoError(t, err)
	assert.False(t, doc["is_active"].(bool))
}

func TestStrategyReactivatesSameIssueIdWhenCauseReturns(t *testing.T) {
	ctx := context.Background()
	store, s, newQC := newFixture(t, "12/345/0001", "12/345/0002", "12/345/0003")
	putSAM(t, store, "12/345/0001")
	putSAM(t, store, "12/345/0003")

	_, err := s.Run(ctx, newQC())
	require.NoError(t, err)

	putSAM(t, store, "12/345/0002")
	s.Now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	_, err = s.Run(ctx, newQC())
	require.NoError(t, err)

	_, err = store.DeleteMany(ctx, "sam_rows", docstore.Filter{"_id": "12/345/0002"})
	require.NoError(t, err)
	s.Now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	res, err := s.Run(ctx, newQC())
	require.NoError(t, err)

	assert.Equal(t, 1, res.IssuesFound)

	id, err := issues.ID(missingSAM, "12/345/0002")
	require.NoError(t, err)
	total, err := store.Count(ctx, issues.Collection, docstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "reactivation must not create a second row for the same id")

	doc, err := store.FindOne(ctx, issues.Collection, docstore.Filter{"_id": id})
	require.NoError(t, err)
	assert.True(t, doc["is_active"].(bool))
}
