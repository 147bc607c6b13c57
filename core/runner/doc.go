// Package runner is the run orchestrator: it validates and scopes the graph,
// bootstraps the run record, executes nodes level by level with intra-level
// parallelism, and finalizes the aggregate outcome. Per-node failures are
// captured into node run rows and never abort the run; only pre-flight
// failures surface to the caller.
package runner
