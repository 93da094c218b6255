// Package exception defines the failure model shared by the whole service.
//
// Every expected business failure is an *Exception tagged with a *Kind. Kinds
// form explicit ancestry chains (a kind lists its parent and the parent's
// ancestors), which is what the dispatch registry scans to find the most
// specific handler for a failure.
//
// Exceptions are plain structs and callers are free to mutate them after
// construction. Code that reads an exception must therefore treat every field
// as possibly zero (nil Kind, nil Metadata, zero StatusCode).
package exception

import (
	"errors"
	"net/http"
	"time"
)

// MetaTimestamp is the metadata key holding the creation time of an exception.
const MetaTimestamp = "timestamp"

// MetaDomain is the metadata key naming the business domain of an exception.
const MetaDomain = "domain"

// Exception is the base failure type. All domain failures are exceptions with
// a distinct Kind.
type Exception struct {
	// Kind identifies the variant. Dispatch keys on it, never on ErrorCode.
	Kind *Kind
	// Message is a human-readable description.
	Message string
	// StatusCode is the HTTP status for the failure.
	StatusCode int
	// ErrorCode is an optional machine-readable identifier.
	ErrorCode string
	// IsOperational is true for expected business failures and false for
	// unexpected system faults.
	IsOperational bool
	// CorrelationID ties the failure to a request across logs.
	CorrelationID string
	// Data describes the failure (offending fields, resource ids, ...).
	Data any
	// Metadata always carries a creation timestamp plus caller fields.
	Metadata map[string]any

	cause error
}

// Option customizes an Exception at construction time.
type Option func(*Exception)

// WithStatus sets the HTTP status code.
func WithStatus(status int) Option {
	return func(e *Exception) { e.StatusCode = status }
}

// WithCode sets the machine-readable error code.
func WithCode(code string) Option {
	return func(e *Exception) { e.ErrorCode = code }
}

// WithData attaches a structured payload.
func WithData(data any) Option {
	return func(e *Exception) { e.Data = data }
}

// WithMetadata merges fields into the metadata bag. A "timestamp" key
// supplied here replaces the generated one.
func WithMetadata(fields map[string]any) Option {
	return func(e *Exception) {
		for k, v := range fields {
			e.Metadata[k] = v
		}
	}
}

// WithCorrelationID sets the correlation id.
func WithCorrelationID(id string) Option {
	return func(e *Exception) { e.CorrelationID = id }
}

// WithCause records the underlying error, exposed through Unwrap.
func WithCause(err error) Option {
	return func(e *Exception) { e.cause = err }
}

// NonOperational marks the exception as an unexpected system failure.
func NonOperational() Option {
	return func(e *Exception) { e.IsOperational = false }
}

// now is swapped in tests.
var now = time.Now

// New builds an exception of the given kind. The status defaults to 500 and
// the exception is operational unless an option says otherwise.
func New(kind *Kind, message string, opts ...Option) *Exception {
	e := &Exception{
		Kind:          kind,
		Message:       message,
		StatusCode:    http.StatusInternalServerError,
		IsOperational: true,
		Metadata: map[string]any{
			MetaTimestamp: now().UTC().Format(time.RFC3339Nano),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.StatusCode == 0 {
		e.StatusCode = http.StatusInternalServerError
	}
	return e
}

// Error implements the error interface.
func (e *Exception) Error() string {
	if e == nil {
		return "<nil exception>"
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Name()
}

// Unwrap returns the wrapped cause, if any.
func (e *Exception) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Name returns the kind name, or the base name when the kind was cleared.
func (e *Exception) Name() string {
	if e == nil || e.Kind == nil {
		return Base.Name()
	}
	return e.Kind.Name()
}

// Status returns the status code, falling back to def when unset.
func (e *Exception) Status(def int) int {
	if e == nil || e.StatusCode == 0 {
		return def
	}
	return e.StatusCode
}

// Domain returns metadata["domain"] when it is a non-empty string.
func (e *Exception) Domain() (string, bool) {
	if e == nil || e.Metadata == nil {
		return "", false
	}
	d, ok := e.Metadata[MetaDomain].(string)
	return d, ok && d != ""
}

// As reports whether err (or anything it wraps) is a non-nil *Exception.
func As(err error) (*Exception, bool) {
	var ex *Exception
	if errors.As(err, &ex) && ex != nil {
		return ex, true
	}
	return nil, false
}
