// Package storage defines the persistence model of the execution core —
// workflows, immutable workflow versions, workflow runs, per-node runs and
// durable assets — together with the Store interface the orchestrator and the
// HTTP layer consume.
//
// Two implementations ship with the engine: memstore (mutex-guarded, used by
// tests and local development) and pgstore (PostgreSQL via pgx). The run
// bootstrap (counter increment plus run and node-run creation) is the only
// operation that must be transactional; all later per-node updates are
// independent row writes that may interleave across goroutines.
package storage
