// Package utils provides small shared helpers: JSON-over-HTTP request
// functions with observability hooks, a bounded-retry variant for flaky
// upstreams, pointer constructors, and string truncation.
package utils
