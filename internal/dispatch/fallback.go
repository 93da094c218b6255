package dispatch

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-error-dispatch/internal/exception"
	"github.com/tbourn/go-error-dispatch/internal/response"
)

// CodeHandlerFailed marks responses produced because a handler failed.
const CodeHandlerFailed = "HANDLER_EXECUTION_FAILED"

// nonRetryable lists client errors that a retry cannot fix. Every other
// status, including unlisted 4xx codes, is retryable.
var nonRetryable = map[int]struct{}{
	http.StatusBadRequest:   {},
	http.StatusUnauthorized: {},
	http.StatusForbidden:    {},
	http.StatusNotFound:     {},
	http.StatusConflict:     {},
}

// IsRetryable classifies a status for the fallback "retryable" flag.
func IsRetryable(status int) bool {
	_, deny := nonRetryable[status]
	return !deny
}

// SafeMessage returns a client-safe message for status. It never echoes
// anything from the failed handler.
func SafeMessage(status int) string {
	switch status {
	case http.StatusNotFound:
		return "Requested resource not found"
	case http.StatusBadRequest:
		return "Invalid request data"
	case http.StatusForbidden:
		return "Access denied"
	case http.StatusConflict:
		return "Resource conflict occurred"
	default:
		return "Service temporarily unavailable"
	}
}

// Fallback builds the response used when a handler fails.
type Fallback struct {
	builder *response.Builder
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// NewFallback returns a Fallback that logs to lg and builds bodies with b.
func NewFallback(b *response.Builder, lg zerolog.Logger) *Fallback {
	if b == nil {
		b = response.NewBuilder(response.Options{})
	}
	return &Fallback{
		builder: b,
		log:     lg,
		now:     time.Now,
		newID:   func() string { return "fallback-" + uuid.NewString() },
	}
}

// Build logs the double failure and returns a non-leaking response that keeps
// the original status, correlation id and domain.
func (f *Fallback) Build(c *gin.Context, original *exception.Exception, handlerErr error) *response.Response {
	now := f.now().UTC()
	status := original.Status(http.StatusInternalServerError)

	f.logFailure(c, original, handlerErr, now)

	meta := map[string]any{
		"errorCode":     CodeHandlerFailed,
		"correlationId": f.newID(),
		"timestamp":     now.Format(time.RFC3339Nano),
		"retryable":     IsRetryable(status),
	}
	if original != nil {
		if original.ErrorCode != "" {
			meta["originalErrorCode"] = original.ErrorCode
		}
		if original.CorrelationID != "" {
			meta["correlationId"] = original.CorrelationID
		}
		if d, ok := original.Domain(); ok {
			meta["domain"] = d
		}
	}

	return f.builder.Fail(SafeMessage(status), status, nil, meta)
}

func (f *Fallback) logFailure(c *gin.Context, original *exception.Exception, handlerErr error, now time.Time) {
	ev := f.log.Warn()
	if original != nil && !original.IsOperational {
		ev = f.log.Error()
	}

	orig := zerolog.Dict().
		Str("name", original.Name()).
		Str("message", original.Error()).
		Int("statusCode", original.Status(0))
	if original != nil {
		orig = orig.Str("errorCode", original.ErrorCode).Bool("isOperational", original.IsOperational)
	}

	herr := zerolog.Dict().
		Str("name", fmt.Sprintf("%T", handlerErr)).
		Str("message", errString(handlerErr)).
		Str("stack", firstStackLine(handlerErr))

	req := zerolog.Dict()
	if c != nil && c.Request != nil {
		req = req.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent())
	}

	ev.Dict("original_error", orig).
		Dict("handler_error", herr).
		Dict("request", req).
		Time("timestamp", now).
		Msg("error handler failed; serving fallback response")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// firstStackLine returns the first frame of a recovered panic stack that is
// not the goroutine header or runtime machinery.
func firstStackLine(err error) string {
	pe, ok := err.(*PanicError)
	if !ok || len(pe.Stack) == 0 {
		return ""
	}
	for _, line := range bytes.Split(pe.Stack, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 ||
			bytes.HasPrefix(line, []byte("goroutine ")) ||
			bytes.HasPrefix(line, []byte("runtime")) ||
			bytes.HasPrefix(line, []byte("panic(")) {
			continue
		}
		return string(line)
	}
	return ""
}
