/*
Package health implements the readiness aggregate the platform
exposes for the (external) HTTP layer and `litpctl health` to call:
object stores reachable, the document store reachable, and no import
or cleanse analysis stuck Running/Started past a configured age.

Grounded on the teacher's pkg/health checker-registry design — a small
Checker interface (Check(ctx) Result) that any dependency can satisfy,
run by a lightweight aggregator — generalized from polling container
healthchecks (HTTP/TCP/exec probes against a long-lived task, tracked
with consecutive-failure counters and a startup grace period) to
synchronous, on-demand checks against this platform's own dependencies:

	Aggregator.Run(ctx)
	    ├─ ObjectStoreChecker  (internal target store reachable)
	    ├─ ObjectStoreChecker  (external source store reachable)
	    ├─ DocStoreChecker     (document store reachable)
	    └─ StaleOperationsChecker (no Running/Started operation stuck
	                               past its threshold)

There is no replacement for HTTPChecker/TCPChecker/ExecChecker: this
platform has no containers or sibling processes to probe over a
socket or exec handle, so those three checkers were dropped rather
than adapted (see DESIGN.md).
*/
package health
