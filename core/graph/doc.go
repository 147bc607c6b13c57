// Package graph defines the workflow graph model — node kinds, typed
// input/output handles, nodes and edges — together with the structural
// algorithms the execution core relies on: edge validation against the handle
// registry, cycle detection, layered topological partitioning, and scope
// reduction via transitive upstream closure.
//
// The handle registry is the single source of truth for which connections are
// legal: every (kind, handle) pair resolves to a data type (text, image or
// video) and matching is strict by type with no implicit coercion. Validating
// a graph at save time against the registry is what lets the orchestrator
// trust edge semantics at execution time without re-checking.
//
// All operations in this package are pure: they never mutate their inputs and
// are deterministic given input ordering (nodes within a topological level are
// sorted by id so callers and tests can pin output).
package graph
