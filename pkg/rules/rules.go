// Package rules implements the RuleEngine: a declarative, ordered
// pipeline of named checks run against a shared input carrier. Rules
// enrich the carrier as they go so downstream rules can skip
// re-fetching what an earlier rule already attached. Grounded on the
// teacher's reconciler loop body (`pkg/reconciler/reconciler.go`'s
// "run a named check, log and continue on error" shape), generalized
// from inlined `if err := r.reconcileX(); err != nil { ... }` calls
// into a typed, declared sequence of named rules.
package rules

import (
	"context"
	"fmt"

	"github.com/litp/platform/pkg/query"
)

// IssueCode identifies the kind of data-quality issue a rule raises.
type IssueCode string

// RuleResult is what one rule's Execute returns.
type RuleResult struct {
	HasIssue    bool
	IssueCode   IssueCode
	ContextData map[string]any
	Failed      bool
	Err         error
}

// NoIssue reports that the rule found nothing wrong (or could not yet
// form an opinion, e.g. a not-yet-present enrichment).
func NoIssue() RuleResult {
	return RuleResult{}
}

// RaiseIssue reports a finding of the given code, with optional
// supporting context data to carry into the IssueRepository.
func RaiseIssue(code IssueCode, contextData map[string]any) RuleResult {
	return RuleResult{HasIssue: true, IssueCode: code, ContextData: contextData}
}

// failedResult wraps a rule error (including a recovered panic) as a
// non-issue result that carries the failure for observability.
func failedResult(err error) RuleResult {
	return RuleResult{Failed: true, Err: err}
}

// Context is what a Rule's Execute receives alongside its input: the
// request-scoped context.Context plus the AnalysisContext a rule may
// use to run cached QueryService reads.
type Context struct {
	Ctx   context.Context
	Query *query.Context
}

// Rule is one named check over an input carrier of type I. Execute
// must not panic in the ordinary course of business — a panic is
// caught by the pipeline and turned into a Failed result, but a rule
// author should prefer returning NoIssue when an enrichment it needs
// is not yet present.
type Rule[I any] interface {
	Code() string
	Execute(input I, rc Context) RuleResult
}

// RuleFunc adapts a plain function to the Rule interface.
type RuleFunc[I any] struct {
	code string
	fn   func(input I, rc Context) RuleResult
}

// NewRuleFunc builds a Rule from a code and a function, for rules
// with no state of their own.
func NewRuleFunc[I any](code string, fn func(input I, rc Context) RuleResult) RuleFunc[I] {
	return RuleFunc[I]{code: code, fn: fn}
}

func (r RuleFunc[I]) Code() string { return r.code }

func (r RuleFunc[I]) Execute(input I, rc Context) RuleResult { return r.fn(input, rc) }

// Continuation decides, after a rule has run, whether the pipeline
// should stop.
type Continuation func(RuleResult) bool

// StopOnIssue halts the pipeline as soon as a rule raises an issue or
// fails.
func StopOnIssue(r RuleResult) bool {
	return r.HasIssue || r.Failed
}

// ContinueAlways never halts the pipeline.
func ContinueAlways(r RuleResult) bool {
	return false
}

// StopWhen halts the pipeline the first time pred returns true for a
// rule's result.
func StopWhen(pred func(RuleResult) bool) Continuation {
	return pred
}

// StepResult is one pipeline step's outcome, in execution order.
type StepResult struct {
	RuleCode       string
	Result         RuleResult
	StopProcessing bool
}

type step[I any] struct {
	rule         Rule[I]
	continuation Continuation
}

// Pipeline is an ordered list of (rule, continuation) pairs run in
// sequence against one input carrier.
type Pipeline[I any] struct {
	steps []step[I]
}

// NewPipeline builds an empty Pipeline. An empty pipeline's Execute
// returns an empty slice.
func NewPipeline[I any]() *Pipeline[I] {
	return &Pipeline[I]{}
}

// Add appends a rule and its continuation policy, returning the
// Pipeline so calls can be chained.
func (p *Pipeline[I]) Add(rule Rule[I], continuation Continuation) *Pipeline[I] {
	p.steps = append(p.steps, step[I]{rule: rule, continuation: continuation})
	return p
}

// Codes returns the rule codes in pipeline order, for callers that
// need to know the full set of checks a pipeline performs (e.g. an
// AnalysisStrategy deciding which issue codes to reconcile at the end
// of a scan).
func (p *Pipeline[I]) Codes() []string {
	out := make([]string, len(p.steps))
	for i, st := range p.steps {
		out[i] = st.rule.Code()
	}
	return out
}

// Execute runs every step against input in order, stopping early
// when a step's continuation reports true.
func (p *Pipeline[I]) Execute(input I, rc Context) []StepResult {
	out := make([]StepResult, 0, len(p.steps))
	for _, st := range p.steps {
		result := runRule(st.rule, input, rc)
		stop := st.continuation(result)
		out = append(out, StepResult{RuleCode: st.rule.Code(), Result: result, StopProcessing: stop})
		if stop {
			break
		}
	}
	return out
}

// runRule executes rule, converting a panic into a Failed result so
// one misbehaving rule never aborts the pipeline outright.
func runRule[I any](rule Rule[I], input I, rc Context) (result RuleResult) {
	defer func() {
		if r := recover(); r != nil {
			result = failedResult(fmt.Errorf("rule %s panicked: %v", rule.Code(), r))
		}
	}()
	return rule.Execute(input, rc)
}
