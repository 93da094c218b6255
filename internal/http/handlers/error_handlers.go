// Business error handlers.
//
// RegisterErrorHandlers installs the responses this API gives for its known
// exception kinds. The terminal error middleware consults the registry before
// falling back to the generic rendering of an exception, so these handlers
// only add what a generic envelope cannot: hints, retry information and the
// async status lookup for failed downstream services.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-error-dispatch/internal/dispatch"
	"github.com/tbourn/go-error-dispatch/internal/exception"
	"github.com/tbourn/go-error-dispatch/internal/response"
	"github.com/tbourn/go-error-dispatch/internal/services"
)

// StatusLookup reports how long a downstream service is expected to stay
// unavailable.
type StatusLookup func(ctx context.Context, service string) (time.Duration, error)

// knownOutages backs the default lookup.
var knownOutages = map[string]time.Duration{
	"billing":   30 * time.Second,
	"inventory": 2 * time.Minute,
	"mailer":    10 * time.Second,
}

// defaultLookup simulates a status-page lookup. Unknown services fail, which
// makes the async handler reject.
func defaultLookup(ctx context.Context, service string) (time.Duration, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	d, ok := knownOutages[service]
	if !ok {
		return 0, fmt.Errorf("no status available for service %q", service)
	}
	return d, nil
}

// RegisterErrorHandlers registers the API's exception handlers on reg.
func RegisterErrorHandlers(reg *dispatch.Registry, b *response.Builder) error {
	return registerErrorHandlers(reg, b, defaultLookup)
}

func registerErrorHandlers(reg *dispatch.Registry, b *response.Builder, lookup StatusLookup) error {
	if b == nil {
		b = response.NewBuilder(response.Options{})
	}
	entries := []struct {
		kind *exception.Kind
		h    dispatch.Handler
	}{
		{exception.NotFound, notFoundHandler(b)},
		{exception.Validation, validationHandler(b)},
		{exception.Conflict, conflictHandler(b)},
		{services.DuplicateEmail, duplicateEmailHandler(b)},
		{exception.RateLimited, rateLimitedHandler(b)},
		{exception.ExternalService, externalServiceHandler(b, lookup)},
		{BrokenHandler, brokenHandler},
	}
	for _, e := range entries {
		if err := reg.Register(e.kind, e.h); err != nil {
			return err
		}
	}
	return nil
}

// exceptionMeta returns the meta every handled exception carries, merged
// with extra.
func exceptionMeta(ex *exception.Exception, extra map[string]any) map[string]any {
	m := make(map[string]any, len(extra)+3)
	if ex.ErrorCode != "" {
		m["errorCode"] = ex.ErrorCode
	}
	if ex.CorrelationID != "" {
		m["correlationId"] = ex.CorrelationID
	}
	if d, ok := ex.Domain(); ok {
		m["domain"] = d
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func notFoundHandler(b *response.Builder) dispatch.Handler {
	return func(_ *gin.Context, ex *exception.Exception) (dispatch.Reply, error) {
		return b.Fail(ex.Message, ex.Status(http.StatusNotFound), ex.Data, exceptionMeta(ex, map[string]any{
			"hint": "verify the identifier and try again",
		})), nil
	}
}

func validationHandler(b *response.Builder) dispatch.Handler {
	return func(_ *gin.Context, ex *exception.Exception) (dispatch.Reply, error) {
		return b.Fail(ex.Message, ex.Status(http.StatusBadRequest), ex.Data, exceptionMeta(ex, nil)), nil
	}
}

func conflictHandler(b *response.Builder) dispatch.Handler {
	return func(_ *gin.Context, ex *exception.Exception) (dispatch.Reply, error) {
		return b.Fail(ex.Message, ex.Status(http.StatusConflict), ex.Data, exceptionMeta(ex, nil)), nil
	}
}

func duplicateEmailHandler(b *response.Builder) dispatch.Handler {
	return func(_ *gin.Context, ex *exception.Exception) (dispatch.Reply, error) {
		payload := map[string]any{
			"field":      "email",
			"suggestion": "sign in or register with a different address",
		}
		return b.Fail(ex.Message, ex.Status(http.StatusConflict), payload, exceptionMeta(ex, nil)), nil
	}
}

func rateLimitedHandler(b *response.Builder) dispatch.Handler {
	return func(c *gin.Context, ex *exception.Exception) (dispatch.Reply, error) {
		extra := map[string]any{}
		if c != nil {
			if s, err := strconv.Atoi(c.Writer.Header().Get("Retry-After")); err == nil {
				extra["retryAfter"] = s
			}
		}
		return b.Fail("too many requests, slow down", ex.Status(http.StatusTooManyRequests), nil, exceptionMeta(ex, extra)), nil
	}
}

// externalServiceHandler looks up the downstream status asynchronously and
// answers 503 with a retry hint. A failed lookup rejects the task.
func externalServiceHandler(b *response.Builder, lookup StatusLookup) dispatch.Handler {
	return func(c *gin.Context, ex *exception.Exception) (dispatch.Reply, error) {
		ctx := context.Background()
		if c != nil && c.Request != nil {
			ctx = c.Request.Context()
		}
		service, _ := dataString(ex.Data, "service")

		return dispatch.Go(func() (*response.Response, error) {
			eta, err := lookup(ctx, service)
			if err != nil {
				return nil, err
			}
			return b.Fail(ex.Message, http.StatusServiceUnavailable, map[string]any{"service": service},
				exceptionMeta(ex, map[string]any{
					"retryable":  true,
					"retryAfter": int(eta.Seconds()),
				})), nil
		}), nil
	}
}

func dataString(data any, key string) (string, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}
