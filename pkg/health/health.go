package health

import (
	"context"
	"time"
)

// Result represents the outcome of one named check.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface every readiness dependency implements.
type Checker interface {
	// Check performs the check and returns its result.
	Check(ctx context.Context) Result

	// Name identifies this checker in an Aggregator's Report.
	Name() string
}

// Report is the outcome of running every registered Checker once.
type Report struct {
	Ready   bool
	Results map[string]Result
}

// Aggregator runs a fixed set of Checkers and reports overall
// readiness. Unlike the teacher's polling container healthchecks
// (Interval/Retries/StartPeriod against a long-lived task), this
// platform's dependencies are checked synchronously, on demand, the
// way an HTTP /readyz handler or `litpctl health` would call it — there
// is no long-running task whose lifecycle a consecutive-failure
// threshold needs to track.
type Aggregator struct {
	checkers []Checker
}

// NewAggregator builds an Aggregator over the given checkers.
func NewAggregator(checkers ...Checker) *Aggregator {
	return &Aggregator{checkers: checkers}
}

// Run executes every checker and returns the combined Report. Ready is
// true only if every checker reports Healthy.
func (a *Aggregator) Run(ctx context.Context) Report {
	report := Report{Ready: true, Results: make(map[string]Result, len(a.checkers))}
	for _, c := range a.checkers {
		result := c.Check(ctx)
		report.Results[c.Name()] = result
		if !result.Healthy {
			report.Ready = false
		}
	}
	return report
}
