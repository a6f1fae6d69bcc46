// Package rules holds the concrete Rule<I> implementations the
// cleanse analysis pipeline runs against each CTS record: the
// worked §8.5 missing/resolve scenario made real. Grounded on
// `pkg/cleanse/strategy`'s own test rule, lifted from a direct
// docstore.Store.FindOne call onto the real collaborator,
// QueryService's memoised AnalysisContext — the rule this package
// exists to demonstrate is exactly the enrichment-via-shared-carrier
// pattern spec.md §9's design notes call out.
package rules

import (
	"strings"

	"github.com/litp/platform/pkg/query"
	corerules "github.com/litp/platform/pkg/rules"
)

// CTSCollection and SAMCollection are the two outer dataset
// collections the missing-SAM rule reads.
const (
	CTSCollection = "CTS"
	SAMCollection = "SAM"
)

// MissingSAMCode is the issue code raised when a CTS record has no
// corresponding SAM row carrying herd, party, and email details.
const MissingSAMCode = "MISSING_SAM"

// CTSRecord is the shared carrier AnalysisStrategy builds one of per
// outer CTS row and threads through the pipeline. SAM is nil until a
// rule fetches and attaches it; later rules check its presence instead
// of re-querying.
type CTSRecord struct {
	LID string // LID full identifier, e.g. "AH-12/345/0001"
	Cph string

	SAM map[string]any
}

// CTSLID implements strategy.Identifiable.
func (r *CTSRecord) CTSLID() string { return r.LID }

// CPH implements strategy.Identifiable.
func (r *CTSRecord) CPH() string { return r.Cph }

// cphFromLID strips the "<region>-" prefix from a LID full identifier,
// per the GLOSSARY's "<region>-<cph>" format.
func cphFromLID(lid string) string {
	if idx := strings.IndexByte(lid, '-'); idx >= 0 {
		return lid[idx+1:]
	}
	return lid
}

// BuildCTSRecord is the strategy.Build func for CTSRecord: every CTS
// outer collection document carries at least its own "_id" (the LID
// full identifier).
func BuildCTSRecord(record map[string]any) (*CTSRecord, error) {
	lid, _ := record["_id"].(string)
	return &CTSRecord{LID: lid, Cph: cphFromLID(lid)}, nil
}

// NewMissingSAMRule fetches the SAM row keyed by the CTS record's LID
// and raises MissingSAMCode unless it exists with non-blank herd,
// party, and email fields. A found row is attached to the carrier so
// any later rule in the pipeline can use it without re-querying.
func NewMissingSAMRule() corerules.Rule[*CTSRecord] {
	return corerules.NewRuleFunc[*CTSRecord](MissingSAMCode, func(in *CTSRecord, rc corerules.Context) corerules.RuleResult {
		if in.SAM != nil {
			return corerules.NoIssue()
		}

		doc, found, err := rc.Query.QuerySingle(rc.Ctx, query.Parameters{
			Collection: SAMCollection,
			Filter:     query.FilterNode{Op: query.OpEq, Field: "_id", Value: in.LID},
		})
		if err != nil {
			return corerules.RaiseIssue(MissingSAMCode, map[string]any{"ctsLid": in.LID, "error": err.Error()})
		}
		if !found || !hasSupportingData(doc) {
			return corerules.RaiseIssue(MissingSAMCode, map[string]any{"ctsLid": in.LID, "cph": in.Cph})
		}

		in.SAM = doc
		return corerules.NoIssue()
	})
}

// NewPipeline builds the CTS record pipeline: currently just the
// missing-SAM check, in its own function so a composition root adds
// future CTS rules in one place rather than at each call site.
func NewPipeline() *corerules.Pipeline[*CTSRecord] {
	return corerules.NewPipeline[*CTSRecord]().Add(NewMissingSAMRule(), corerules.ContinueAlways)
}

func hasSupportingData(doc map[string]any) bool {
	return nonBlank(doc["herd"]) && nonBlank(doc["party"]) && nonBlank(doc["email"])
}

func nonBlank(v any) bool {
	s, _ := v.(string)
	return strings.TrimSpace(s) != ""
}
