// Package parse decodes loosely-typed values coming back from remote task
// runners and user-authored node data. Remote media/LLM workers are not
// guaranteed to emit strictly valid JSON (in particular LLM-produced
// payloads), so object decoding falls back to jsonrepair before giving up.
// The coercion helpers turn node-data values of uncertain dynamic type
// (float64 from JSON, string from the editor, int from tests) into the shapes
// the input resolver and node executor need.
package parse
