package exception

import (
	"net/http"
	"strings"
)

// Base is the root of every exception kind.
var Base = NewKind("AppException", nil)

// Built-in kinds.
var (
	Validation       = NewKind("ValidationException", Base)
	Unauthorized     = NewKind("UnauthorizedException", Base)
	Forbidden        = NewKind("ForbiddenException", Base)
	NotFound         = NewKind("NotFoundException", Base)
	Conflict         = NewKind("ConflictException", Base)
	MethodNotAllowed = NewKind("MethodNotAllowedException", Base)
	RateLimited      = NewKind("RateLimitException", Base)
	Database         = NewKind("DatabaseException", Base)
	ExternalService  = NewKind("ExternalServiceException", Base)
)

// Error codes carried by the built-in kinds.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeDatabase         = "DATABASE_ERROR"
	CodeExternalService  = "EXTERNAL_SERVICE_ERROR"
)

// FieldError names one invalid input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Value  any    `json:"value,omitempty"`
}

// NewValidation reports invalid input. Field errors become the data payload.
func NewValidation(message string, fields []FieldError, opts ...Option) *Exception {
	base := []Option{
		WithStatus(http.StatusBadRequest),
		WithCode(CodeValidation),
		WithMetadata(map[string]any{"validationType": "input"}),
	}
	if len(fields) > 0 {
		base = append(base, WithData(map[string]any{"fields": fields}))
	}
	return New(Validation, message, append(base, opts...)...)
}

// NewUnauthorized reports missing or invalid credentials.
func NewUnauthorized(message string, opts ...Option) *Exception {
	base := []Option{
		WithStatus(http.StatusUnauthorized),
		WithCode(CodeUnauthorized),
		WithMetadata(map[string]any{MetaDomain: "security", "securityEvent": true}),
	}
	return New(Unauthorized, message, append(base, opts...)...)
}

// NewForbidden reports an authenticated caller lacking permission.
func NewForbidden(message string, opts ...Option) *Exception {
	base := []Option{
		WithStatus(http.StatusForbidden),
		WithCode(CodeForbidden),
		WithMetadata(map[string]any{MetaDomain: "security", "securityEvent": true}),
	}
	return New(Forbidden, message, append(base, opts...)...)
}

// NewNotFound reports a missing resource identified by id.
func NewNotFound(resource, id string, opts ...Option) *Exception {
	msg := resource + " not found"
	if id != "" {
		msg = resource + " with id " + id + " not found"
	}
	base := []Option{
		WithStatus(http.StatusNotFound),
		WithCode(CodeNotFound),
		WithData(map[string]any{"resource": resource, "id": id}),
		WithMetadata(map[string]any{MetaDomain: strings.ToLower(resource)}),
	}
	return New(NotFound, msg, append(base, opts...)...)
}

// NewConflict reports a state conflict on a resource.
func NewConflict(message string, opts ...Option) *Exception {
	base := []Option{
		WithStatus(http.StatusConflict),
		WithCode(CodeConflict),
	}
	return New(Conflict, message, append(base, opts...)...)
}

// NewMethodNotAllowed reports an unsupported method on a known route.
func NewMethodNotAllowed(method, path string, opts ...Option) *Exception {
	base := []Option{
		WithStatus(http.StatusMethodNotAllowed),
		WithCode(CodeMethodNotAllowed),
		WithData(map[string]any{"method": method, "path": path}),
	}
	return New(MethodNotAllowed, "method not allowed", append(base, opts...)...)
}

// NewRateLimited reports an exhausted request budget for key.
func NewRateLimited(key string, opts ...Option) *Exception {
	base := []Option{
		WithStatus(http.StatusTooManyRequests),
		WithCode(CodeRateLimited),
		WithData(map[string]any{"key": key}),
		WithMetadata(map[string]any{MetaDomain: "traffic"}),
	}
	return New(RateLimited, "rate limit exceeded", append(base, opts...)...)
}

// NewDatabase wraps a storage failure. It is never operational.
func NewDatabase(op string, cause error, opts ...Option) *Exception {
	base := []Option{
		WithStatus(http.StatusInternalServerError),
		WithCode(CodeDatabase),
		WithCause(cause),
		WithMetadata(map[string]any{MetaDomain: "storage", "operation": op}),
		NonOperational(),
	}
	return New(Database, "database operation failed: "+op, append(base, opts...)...)
}

// NewExternalService wraps a failed call to a downstream dependency.
func NewExternalService(service string, cause error, opts ...Option) *Exception {
	base := []Option{
		WithStatus(http.StatusBadGateway),
		WithCode(CodeExternalService),
		WithCause(cause),
		WithData(map[string]any{"service": service}),
		WithMetadata(map[string]any{MetaDomain: "integration"}),
		NonOperational(),
	}
	return New(ExternalService, service+" is unavailable", append(base, opts...)...)
}
