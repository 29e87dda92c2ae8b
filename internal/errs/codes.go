// Package errs provides structured error handling for the retrieval core.
//
// Error codes follow the closed set mandated by the specification (§7):
// INVALID_INPUT, QUERY_FAILED, VEC_SEARCH_UNAVAILABLE, INTERNAL. Optional
// pipeline stages never surface these - they degrade silently and the
// degradation shows up in SearchResults.Meta instead.
package errs

// Code is one of the four error codes the core is allowed to return.
type Code string

const (
	// InvalidInput marks a malformed query or FTS syntax error on the
	// primary (non-variant) query.
	InvalidInput Code = "INVALID_INPUT"
	// QueryFailed marks a store or vector-index failure not otherwise
	// classified.
	QueryFailed Code = "QUERY_FAILED"
	// VecSearchUnavailable marks an explicitly unsupported vector path.
	VecSearchUnavailable Code = "VEC_SEARCH_UNAVAILABLE"
	// Internal marks an unexpected exception.
	Internal Code = "INTERNAL"
)

// Severity mirrors the category of response the caller should give this
// error: degrade-and-continue is handled entirely inside the optional
// stages, so everything that reaches Code is already "must surface."
type Severity string

const (
	SeverityError Severity = "ERROR"
	SeverityFatal Severity = "FATAL"
)

func severityForCode(code Code) Severity {
	if code == Internal {
		return SeverityFatal
	}
	return SeverityError
}
