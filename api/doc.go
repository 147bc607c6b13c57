// Package api exposes the engine over HTTP: workflow management, execution,
// run history and assembly resolution. Callers authenticate with the
// X-User-ID header set by the fronting gateway; every handler scopes its
// reads and writes to that owner. Errors are rendered as a stable
// {error:{code,message}} envelope with the status carried by the coded error.
package api
