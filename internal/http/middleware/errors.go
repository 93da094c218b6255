// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the terminal error middleware: the backstop that turns
// whatever failure a request produced into one normalized response. Handlers
// and middleware never write error bodies themselves; they call Raise (or
// c.Error followed by c.Abort) and let the terminal decide, in order:
//
//  1. forwarded:  the response is already on the wire, leave it alone
//  2. prebuilt:   the error is a *response.Response, send it as is
//  3. registry:   a registered handler answers (failures are contained)
//  4. default:    an *exception.Exception is answered from its own fields
//  5. unknown:    anything else becomes a 500 (detail hidden in production)
//
// Install Terminal.Middleware() right after Logger() so that it wraps every
// handler and sees every error the chain collects.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-error-dispatch/internal/dispatch"
	"github.com/tbourn/go-error-dispatch/internal/exception"
	"github.com/tbourn/go-error-dispatch/internal/observability"
	"github.com/tbourn/go-error-dispatch/internal/response"
)

const (
	// ctxKeyForwarded marks a request whose error was forwarded past the
	// terminal because a response had already been written.
	ctxKeyForwarded = "error_forwarded"

	tierForwarded = "forwarded"
	tierPrebuilt  = "prebuilt"
	tierRegistry  = "registry"
	tierDefault   = "default"
	tierUnknown   = "unknown"

	// genericMessage replaces raw error text for unknown failures in production.
	genericMessage = "Internal Server Error"
)

// TerminalOptions configures the terminal middleware.
type TerminalOptions struct {
	// Production hides the text of unknown errors from clients.
	Production bool
}

// Terminal is the last-resort consumer of request errors.
type Terminal struct {
	dispatcher *dispatch.Dispatcher
	builder    *response.Builder
	opts       TerminalOptions
}

// NewTerminal returns a Terminal. A nil dispatcher or builder gets a default.
func NewTerminal(d *dispatch.Dispatcher, b *response.Builder, opts TerminalOptions) *Terminal {
	if d == nil {
		d = dispatch.New(nil, nil)
	}
	if b == nil {
		b = response.NewBuilder(response.Options{})
	}
	return &Terminal{dispatcher: d, builder: b, opts: opts}
}

// Raise records err on the context and stops the handler chain without
// writing anything, leaving the response to the terminal middleware.
func Raise(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// Middleware runs the rest of the chain and then handles the last error it
// collected. Errors forwarded because the response was already written stay in
// c.Errors and are marked so the access log reports them.
func (t *Terminal) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}
		t.Handle(c, last.Err, func(error) {
			c.Set(ctxKeyForwarded, true)
		})
	}
}

// Handle answers err through the first tier that applies. next is called only
// when the response has already been written.
func (t *Terminal) Handle(c *gin.Context, err error, next func(error)) {
	if c.Writer.Written() {
		observeTier(tierForwarded, kindLabel(err))
		observability.RecordDispatch(c.Request.Context(), err, tierForwarded, kindLabel(err), true)
		if next != nil {
			next(err)
		}
		return
	}

	if resp, ok := response.As(err); ok {
		t.send(c, err, tierPrebuilt, resp)
		return
	}

	ex, isException := exception.As(err)
	if isException && ex.CorrelationID == "" {
		ex.CorrelationID = c.GetString(requestIDKey)
	}

	if resp := t.dispatch(c, err); resp != nil {
		t.send(c, err, tierRegistry, resp)
		return
	}

	if isException {
		t.send(c, err, tierDefault, t.fromException(ex))
		return
	}

	LoggerFrom(c).Error().Err(err).Msg("unhandled error")
	msg := err.Error()
	if t.opts.Production {
		msg = genericMessage
	}
	t.send(c, err, tierUnknown, t.builder.Fail(msg, http.StatusInternalServerError, nil, nil))
}

// dispatch runs the registry and waits for the reply on the request context.
// A missing reply, a nil response or a cancelled wait yields nil.
func (t *Terminal) dispatch(c *gin.Context, err error) *response.Response {
	reply, derr := t.dispatcher.Dispatch(c, err)
	if derr != nil || reply == nil {
		return nil
	}
	resp, werr := reply.Await(c.Request.Context())
	if werr != nil {
		LoggerFrom(c).Warn().Err(werr).Str("original_error", err.Error()).Msg("error handler reply abandoned")
		return nil
	}
	if resp != nil && resp.Meta != nil && resp.Meta["errorCode"] == dispatch.CodeHandlerFailed {
		handlerFailures.WithLabelValues(kindLabel(err)).Inc()
	}
	return resp
}

// fromException builds the default response for an exception without a
// registered handler.
func (t *Terminal) fromException(ex *exception.Exception) *response.Response {
	status := ex.Status(http.StatusBadRequest)

	meta := map[string]any{"isOperational": ex.IsOperational}
	if d, ok := ex.Domain(); ok {
		meta["domain"] = d
	}
	if ex.ErrorCode != "" {
		meta["errorCode"] = ex.ErrorCode
	}
	if ex.CorrelationID != "" {
		meta["correlationId"] = ex.CorrelationID
	}
	return t.builder.Fail(ex.Message, status, ex.Data, meta)
}

func (t *Terminal) send(c *gin.Context, err error, tier string, resp *response.Response) {
	kind := kindLabel(err)
	observeTier(tier, kind)
	observability.RecordDispatch(c.Request.Context(), err, tier, kind, resp.Status >= http.StatusInternalServerError)
	if !resp.Success {
		noStore(c.Writer.Header())
	}
	t.builder.Send(c, resp)
}

// kindLabel names err for metric labels: the exception kind, or "unknown".
func kindLabel(err error) string {
	if ex, ok := exception.As(err); ok {
		return ex.Name()
	}
	if _, ok := response.As(err); ok {
		return "response"
	}
	return tierUnknown
}
