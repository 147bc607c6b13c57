// Package assets persists generated and exported media into the durable
// asset store and resolves Transloadit-style assembly results into usable
// files. Persistence is idempotent: assets are upserted by (provider, url),
// so re-running a workflow never duplicates rows.
package assets
