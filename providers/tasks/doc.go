// Package tasks is the remote task client: a Runner abstraction over the
// trigger service plus a Client that drives trigger-and-poll with a per-task
// budget. The executor dispatches every compute kind through it when remote
// dispatch is enabled; tests and the local fallback mode substitute their own
// Runner implementations.
package tasks
