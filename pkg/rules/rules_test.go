package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type widgetInput struct {
	Size     int
	Fetched  bool
	FetchLog []string
}

func sizeRule(threshold int) Rule[*widgetInput] {
	return NewRuleFunc[*widgetInput]("SIZE_TOO_BIG", func(in *widgetInput, rc Context) RuleResult {
		if in.Size > threshold {
			return RaiseIssue("SIZE_TOO_BIG", map[string]any{"size": in.Size})
		}
		return NoIssue()
	})
}

func fetchOnceRule() Rule[*widgetInput] {
	return NewRuleFunc[*widgetInput]("FETCH", func(in *widgetInput, rc Context) RuleResult {
		in.Fetched = true
		in.FetchLog = append(in.FetchLog, "fetched")
		return NoIssue()
	})
}

func skipIfNotFetchedRule() Rule[*widgetInput] {
	return NewRuleFunc[*widgetInput]("NEEDS_FETCH", func(in *widgetInput, rc Context) RuleResult {
		if !in.Fetched {
			return NoIssue()
		}
		return RaiseIssue("NEEDS_FETCH", nil)
	})
}

func panickyRule() Rule[*widgetInput] {
	return NewRuleFunc[*widgetInput]("BOOM", func(in *widgetInput, rc Context) RuleResult {
		panic("kaboom")
	})
}

func TestEmptyPipelineReturnsEmptySlice(t *testing.T) {
	p := NewPipeline[*widgetInput]()
	out := p.Execute(&widgetInput{}, Context{Ctx: context.Background()})
	assert.Empty(t, out)
}

func TestContinueAlwaysRunsEveryStep(t *testing.T) {
	p := NewPipeline[*widgetInput]().
		Add(sizeRule(10), ContinueAlways).
		Add(fetchOnceRule(), ContinueAlways).
		Add(skipIfNotFetchedRule(), ContinueAlways)

	in := &widgetInput{Size: 20}
	out := p.Execute(in, Context{Ctx: context.Background()})

	assert.Len(t, out, 3)
	assert.True(t, out[0].Result.HasIssue)
	assert.Equal(t, IssueCode("SIZE_TOO_BIG"), out[0].Result.IssueCode)
	assert.False(t, out[0].StopProcessing)
	assert.True(t, in.Fetched, "fetchOnceRule must run and enrich the shared carrier")
	assert.True(t, out[2].Result.HasIssue, "downstream rule must observe the earlier enrichment")
}

func TestStopOnIssueHaltsAfterFirstIssue(t *testing.T) {
	p := NewPipeline[*widgetInput]().
		Add(sizeRule(10), StopOnIssue).
		Add(fetchOnceRule(), ContinueAlways)

	in := &widgetInput{Size: 20}
	out := p.Execute(in, Context{Ctx: context.Background()})

	assert.Len(t, out, 1, "pipeline must stop after the first issue under StopOnIssue")
	assert.True(t, out[0].StopProcessing)
	assert.False(t, in.Fetched, "second rule must never run")
}

func TestStopOnIssueDoesNotHaltWhenNoIssue(t *testing.T) {
	p := NewPipeline[*widgetInput]().
		Add(sizeRule(10), StopOnIssue).
		Add(fetchOnceRule(), ContinueAlways)

	in := &widgetInput{Size: 1}
	out := p.Execute(in, Context{Ctx: context.Background()})

	assert.Len(t, out, 2)
	assert.True(t, in.Fetched)
}

func TestStopWhenCustomPredicate(t *testing.T) {
	calls := 0
	countingRule := NewRuleFunc[*widgetInput]("COUNTER", func(in *widgetInput, rc Context) RuleResult {
		calls++
		return NoIssue()
	})
	stopAfterTwo := StopWhen(func(RuleResult) bool { return calls >= 2 })

	p := NewPipeline[*widgetInput]().
		Add(countingRule, stopAfterTwo).
		Add(countingRule, stopAfterTwo).
		Add(countingRule, stopAfterTwo)

	out := p.Execute(&widgetInput{}, Context{Ctx: context.Background()})

	assert.Len(t, out, 2)
	assert.True(t, out[1].StopProcessing)
}

func TestPanicIsWrappedAsFailedAndDoesNotStopUnderContinueAlways(t *testing.T) {
	p := NewPipeline[*widgetInput]().
		Add(panickyRule(), ContinueAlways).
		Add(fetchOnceRule(), ContinueAlways)

	in := &widgetInput{}
	out := p.Execute(in, Context{Ctx: context.Background()})

	assert.Len(t, out, 2, "a Failed result must not stop the pipeline under ContinueAlways")
	assert.True(t, out[0].Result.Failed)
	assert.Error(t, out[0].Result.Err)
	assert.False(t, out[0].Result.HasIssue)
	assert.True(t, in.Fetched, "pipeline must continue past the failed rule")
}

func TestPanicStopsPipelineUnderStopOnIssue(t *testing.T) {
	p := NewPipeline[*widgetInput]().
		Add(panickyRule(), StopOnIssue).
		Add(fetchOnceRule(), ContinueAlways)

	in := &widgetInput{}
	out := p.Execute(in, Context{Ctx: context.Background()})

	assert.Len(t, out, 1, "a Failed result must halt the pipeline under StopOnIssue")
	assert.True(t, out[0].StopProcessing)
	assert.False(t, in.Fetched)
}
