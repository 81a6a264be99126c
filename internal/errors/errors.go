package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes a failure for propagation policy decisions.
type ErrorType int

const (
	// Ingestion errors - malformed or unrecognized payload; batch rejected
	ErrorTypeIngestion ErrorType = iota
	// Identity errors - ambiguous identity merge; candidates retained
	ErrorTypeIdentity
	// Store errors - graph store unavailable after retries
	ErrorTypeStore
	// IndexStale errors - embedding version mismatch; node excluded
	ErrorTypeIndexStale
	// Retrieval errors - no context above similarity floor
	ErrorTypeRetrieval
	// Generation errors - timeout or rate limit from the LLM backend
	ErrorTypeGeneration
	// Config errors - missing or invalid configuration
	ErrorTypeConfig
	// Internal errors - unexpected internal state
	ErrorTypeInternal
)

// Severity represents how critical an error is.
type Severity int

const (
	// SeverityLow - can continue with degraded functionality
	SeverityLow Severity = iota
	// SeverityMedium - should be addressed but not fatal
	SeverityMedium
	// SeverityHigh - significant issue, may impact functionality
	SeverityHigh
	// SeverityCritical - must be addressed, stops execution
	SeverityCritical
)

// Error is a structured error carrying a category, severity and context.
type Error struct {
	Type     ErrorType
	Severity Severity
	Message  string
	Cause    error
	Context  map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds a key/value pair to the error context.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Is matches on error category, so errors.Is(err, &Error{Type: X}) and
// the Is* helpers below work across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// DetailedString renders the error with its context, for logs.
func (e *Error) DetailedString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", typeString(e.Type), e.Message))
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}
	for k, v := range e.Context {
		sb.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	return sb.String()
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeIngestion:
		return "INGESTION"
	case ErrorTypeIdentity:
		return "IDENTITY_CONFLICT"
	case ErrorTypeStore:
		return "STORE_UNAVAILABLE"
	case ErrorTypeIndexStale:
		return "INDEX_STALE"
	case ErrorTypeRetrieval:
		return "RETRIEVAL_EMPTY"
	case ErrorTypeGeneration:
		return "GENERATION"
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// New creates a new structured error.
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{Type: errType, Severity: severity, Message: message}
}

// Wrap wraps an existing error with category and severity.
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: errType, Severity: severity, Message: message, Cause: err}
}

// IngestionError marks a malformed or unrecognized payload.
func IngestionError(err error, format string, args ...any) *Error {
	return Wrap(err, ErrorTypeIngestion, SeverityHigh, fmt.Sprintf(format, args...))
}

// IdentityConflict marks an ambiguous identity merge. Both candidate
// Person IDs are retained in the error context for manual resolution.
func IdentityConflict(key string, personA, personB string) *Error {
	e := New(ErrorTypeIdentity, SeverityMedium,
		fmt.Sprintf("identity key %s claimed by two canonical persons", key))
	return e.WithContext("key", key).WithContext("person_a", personA).WithContext("person_b", personB)
}

// StoreUnavailable marks graph store failure after exhausting retries.
func StoreUnavailable(err error, attempts int) *Error {
	e := Wrap(err, ErrorTypeStore, SeverityHigh, "graph store unavailable")
	return e.WithContext("attempts", attempts)
}

// IndexStale marks a node embedded under a stale model version.
func IndexStale(nodeID, haveVersion, wantVersion string) *Error {
	e := New(ErrorTypeIndexStale, SeverityLow, "embedding version mismatch")
	return e.WithContext("node_id", nodeID).WithContext("have", haveVersion).WithContext("want", wantVersion)
}

// RetrievalEmpty signals no context above the similarity floor. Callers
// treat this as an explicit signal, not a fault.
func RetrievalEmpty(query string) *Error {
	e := New(ErrorTypeRetrieval, SeverityLow, "no relevant context above similarity floor")
	return e.WithContext("query", query)
}

// GenerationError marks a generation backend failure.
func GenerationError(err error, format string, args ...any) *Error {
	return Wrap(err, ErrorTypeGeneration, SeverityMedium, fmt.Sprintf(format, args...))
}

// ConfigError marks missing or invalid configuration.
func ConfigError(format string, args ...any) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// InternalError marks unexpected internal state.
func InternalError(format string, args ...any) *Error {
	return New(ErrorTypeInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

// IsType reports whether err belongs to the given category.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// IsIdentityConflict reports whether err is an ambiguous-merge error.
func IsIdentityConflict(err error) bool { return IsType(err, ErrorTypeIdentity) }

// IsStoreUnavailable reports whether err is a store availability error.
func IsStoreUnavailable(err error) bool { return IsType(err, ErrorTypeStore) }

// IsRetrievalEmpty reports whether err is the empty-context signal.
func IsRetrievalEmpty(err error) bool { return IsType(err, ErrorTypeRetrieval) }

// IsGeneration reports whether err came from the generation backend.
func IsGeneration(err error) bool { return IsType(err, ErrorTypeGeneration) }
