// Package response builds the normalized envelope returned by every endpoint.
//
// Success and failure share one shape so clients can branch on `success`
// without inspecting the HTTP status:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "success": false,
//	  "message": "User with id 42 not found",
//	  "statusCode": 404,
//	  "error": { "resource": "User", "id": "42" },
//	  "meta": { "errorCode": "NOT_FOUND", "correlationId": "..." }
//	}
//
// Whether `statusCode` is mirrored into the body, and whether the HTTP status
// is forced to a fixed value, are read-only settings supplied through Options.
package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope sent to clients. It also implements error so a
// fully built response can travel through gin's error list unchanged.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// StatusCode mirrors Status in the body when IncludeStatusCode is set.
	StatusCode int `json:"statusCode,omitempty"`
	// Data is only set on success.
	Data any `json:"data,omitempty"`
	// Failure is only set on failure and is serialized as "error".
	Failure any            `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`

	// Status is the HTTP status the response was built for.
	Status int `json:"-"`
}

// Error implements the error interface.
func (r *Response) Error() string {
	if r == nil {
		return "<nil response>"
	}
	return r.Message
}

// Await returns r itself; an immediate response is already resolved.
func (r *Response) Await(context.Context) (*Response, error) { return r, nil }

// As reports whether err (or anything it wraps) is a non-nil *Response.
func As(err error) (*Response, bool) {
	var r *Response
	if errors.As(err, &r) && r != nil {
		return r, true
	}
	return nil, false
}

// Options are the read-only body/status settings.
type Options struct {
	// IncludeStatusCode mirrors the status into the body as statusCode.
	IncludeStatusCode bool
	// UseDefaultStatusCode sends DefaultStatusCode on the wire for every
	// response while the body keeps the real status.
	UseDefaultStatusCode bool
	// DefaultStatusCode is the fixed wire status (e.g. 200).
	DefaultStatusCode int
}

// Builder constructs envelopes according to Options.
type Builder struct {
	opts Options
}

// NewBuilder returns a Builder. A forced default status of 0 becomes 200.
func NewBuilder(opts Options) *Builder {
	if opts.UseDefaultStatusCode && opts.DefaultStatusCode == 0 {
		opts.DefaultStatusCode = http.StatusOK
	}
	return &Builder{opts: opts}
}

// Options returns the settings the builder was created with.
func (b *Builder) Options() Options { return b.opts }

// Success builds a success envelope.
func (b *Builder) Success(message string, status int, data any, meta map[string]any) *Response {
	if status == 0 {
		status = http.StatusOK
	}
	r := &Response{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
		Status:  status,
	}
	b.mirror(r)
	return r
}

// Fail builds a failure envelope. payload is exposed under "error".
func (b *Builder) Fail(message string, status int, payload any, meta map[string]any) *Response {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	r := &Response{
		Success: false,
		Message: message,
		Failure: payload,
		Meta:    meta,
		Status:  status,
	}
	b.mirror(r)
	return r
}

func (b *Builder) mirror(r *Response) {
	if b.opts.IncludeStatusCode {
		r.StatusCode = r.Status
	}
}

// WireStatus returns the HTTP status to send for r.
func (b *Builder) WireStatus(r *Response) int {
	if b.opts.UseDefaultStatusCode {
		return b.opts.DefaultStatusCode
	}
	if r == nil || r.Status == 0 {
		return http.StatusInternalServerError
	}
	return r.Status
}

// Send writes r as JSON and aborts the remaining handler chain.
func (b *Builder) Send(c *gin.Context, r *Response) {
	if r == nil {
		r = b.Fail(http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError, nil, nil)
	}
	c.AbortWithStatusJSON(b.WireStatus(r), r)
}

// OK writes a success envelope.
func (b *Builder) OK(c *gin.Context, status int, message string, data any) {
	b.Send(c, b.Success(message, status, data, nil))
}
