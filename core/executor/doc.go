// Package executor runs a single workflow node: built-in passthrough kinds
// execute locally, compute kinds dispatch to the remote task service, and
// media-producing kinds hand their results to the asset persister. When no
// task client is configured the compute kinds substitute deterministic local
// fallbacks so the pipeline stays testable without external services.
package executor
