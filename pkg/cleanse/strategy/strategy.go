// Package strategy implements the AnalysisStrategy §4.11 describes: a
// named outer collection/filter scanned page-by-page through
// QueryService under a context cache, a Pipeline run per record, and
// a mapping from its results to IssueRepository calls. Grounded on
// `pkg/reconciler/reconciler.go`'s outer-scan-then-repair loop shape,
// applied here to a paginated document scan instead of an in-memory
// node/container list.
package strategy

import (
	"context"
	"time"

	"github.com/litp/platform/pkg/cleanse/issues"
	"github.com/litp/platform/pkg/query"
	"github.com/litp/platform/pkg/rules"
)

// DefaultPageSize matches spec.md's named page size for outer scans.
const DefaultPageSize = 500

// Identifiable is what a strategy's input carrier must expose so its
// pipeline results can be attributed to an Issue.
type Identifiable interface {
	CTSLID() string
	CPH() string
}

// Build constructs one pipeline input carrier from one outer record.
type Build[I Identifiable] func(record map[string]any) (I, error)

// OnProgress is invoked every ProgressEvery records with a running
// tally; also invoked once at the end of a run with final totals.
type OnProgress func(analyzed, total, found, resolved int)

// Config names the pieces of one AnalysisStrategy.
type Config[I Identifiable] struct {
	OuterCollection string
	OuterFilter     query.FilterNode
	OuterOrderBy    []query.OrderSpec
	Pipeline        *rules.Pipeline[I]
	Build           Build[I]
	PageSize        int64
	ProgressEvery   int
	OnProgress      OnProgress
}

// Strategy runs one Config's scan-pipeline-reconcile cycle.
type Strategy[I Identifiable] struct {
	cfg    Config[I]
	issues *issues.Repository
	// Now returns the upsert/deactivation timestamp; overridable in tests.
	Now func() time.Time
}

// New builds a Strategy. PageSize defaults to DefaultPageSize.
func New[I Identifiable](cfg Config[I], repo *issues.Repository) *Strategy[I] {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Strategy[I]{cfg: cfg, issues: repo, Now: func() time.Time { return time.Now().UTC() }}
}

// Result is one strategy run's summary.
type Result struct {
	RecordsAnalyzed int
	IssuesFound     int
	IssuesResolved  int
}

// Run pages through OuterCollection under qc's cache, executes the
// pipeline per record, upserts raised issues, and at the end
// deactivates every active issue of each pipeline code whose
// identifier did not reoccur in this pass.
func (s *Strategy[I]) Run(ctx context.Context, qc *query.Context) (Result, error) {
	now := s.Now()
	causingByCode := make(map[string][]string, len(s.cfg.Pipeline.Codes()))
	for _, code := range s.cfg.Pipeline.Codes() {
		causingByCode[code] = nil
	}

	var result Result
	var skip int64
	for {
		page, err := qc.Query(ctx, query.Parameters{
			Collection: s.cfg.OuterCollection,
			Filter:     s.cfg.OuterFilter,
			OrderBy:    s.cfg.OuterOrderBy,
			Skip:       skip,
			Top:        s.cfg.PageSize,
		})
		if err != nil {
			return result, err
		}
		if len(page.Data) == 0 {
			break
		}

		for _, record := range page.Data {
			input, err := s.cfg.Build(record)
			if err != nil {
				return result, err
			}

			steps := s.cfg.Pipeline.Execute(input, rules.Context{Ctx: ctx, Query: qc})
			for _, st := range steps {
				if !st.Result.HasIssue {
					continue
				}
				code := string(st.Result.IssueCode)
				if code == "" {
					code = st.RuleCode
				}
				_, effect, err := s.issues.Upsert(ctx, code, st.RuleCode, code, input.CTSLID(), input.CPH(), st.Result.ContextData, now)
				if err != nil {
					return result, err
				}
				if effect == issues.EffectInserted || effect == issues.EffectReactivated {
					result.IssuesFound++
				}
				causingByCode[st.RuleCode] = append(causingByCode[st.RuleCode], input.CTSLID())
			}

			result.RecordsAnalyzed++
			if s.cfg.ProgressEvery > 0 && s.cfg.OnProgress != nil && result.RecordsAnalyzed%s.cfg.ProgressEvery == 0 {
				s.cfg.OnProgress(result.RecordsAnalyzed, int(page.TotalCount), result.IssuesFound, result.IssuesResolved)
			}
		}

		skip += int64(len(page.Data))
		if skip >= page.TotalCount {
			break
		}
	}

	for code, stillCausing := range causingByCode {
		n, err := s.issues.DeactivateAllActiveExcept(ctx, code, stillCausing)
		if err != nil {
			return result, err
		}
		result.IssuesResolved += n
	}

	if s.cfg.OnProgress != nil {
		s.cfg.OnProgress(result.RecordsAnalyzed, result.RecordsAnalyzed, result.IssuesFound, result.IssuesResolved)
	}
	return result, nil
}
