// Demo HTTP handlers.
//
// These endpoints exist to show each path through the error pipeline:
//   - GET /demo/errors/{kind}     raise a built-in exception kind (or a plain error)
//   - GET /demo/handler-failure   a registered handler that panics
//   - GET /demo/async             an exception answered by an async handler
//   - GET /demo/panic             a panic caught by Recovery
//   - GET /demo/prebuilt          a ready-made response raised as an error
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-error-dispatch/internal/dispatch"
	"github.com/tbourn/go-error-dispatch/internal/exception"
	"github.com/tbourn/go-error-dispatch/internal/services"
)

// BrokenHandler is the kind raised by /demo/handler-failure. Its registered
// handler reads metadata the exception does not carry and panics.
var BrokenHandler = exception.NewKind("BrokenHandlerException", exception.Base)

// CodeBrokenHandler is the error code of BrokenHandler exceptions.
const CodeBrokenHandler = "DEMO_BROKEN_HANDLER"

func brokenHandler(_ *gin.Context, ex *exception.Exception) (dispatch.Reply, error) {
	tenant := ex.Metadata["tenant"].(string)
	return nil, errors.New("unreachable for tenant " + tenant)
}

// demoErrors builds the error raised for each /demo/errors/{kind} value.
var demoErrors = map[string]func() error{
	"validation": func() error {
		return exception.NewValidation("invalid demo input", []exception.FieldError{
			{Field: "age", Reason: "must be positive", Value: -1},
		})
	},
	"unauthorized":     func() error { return exception.NewUnauthorized("authentication required") },
	"forbidden":        func() error { return exception.NewForbidden("admin role required") },
	"not-found":        func() error { return exception.NewNotFound("Widget", "w-42") },
	"conflict":         func() error { return exception.NewConflict("widget is locked by another editor") },
	"duplicate-email":  func() error { return services.NewDuplicateEmail("ada@example.com") },
	"rate-limited":     func() error { return exception.NewRateLimited("demo") },
	"database":         func() error { return exception.NewDatabase("demo query", errors.New("connection reset")) },
	"external-service": func() error { return exception.NewExternalService("billing", errors.New("timeout")) },
	"plain":            func() error { return errors.New("plain error without a kind") },
}

// DemoError godoc
// @ID          demoError
// @Summary     Raise an error of the given kind
// @Tags        Demo
// @Produce     json
// @Param       kind  path  string  true  "validation, unauthorized, forbidden, not-found, conflict, duplicate-email, rate-limited, database, external-service or plain"
// @Failure     default  {object}  handlers.Envelope
// @Router      /demo/errors/{kind} [get]
func (h *Handlers) DemoError(c *gin.Context) {
	kind := c.Param("kind")
	build, ok := demoErrors[kind]
	if !ok {
		raise(c, exception.NewNotFound("DemoError", kind))
		return
	}
	raise(c, build())
}

// DemoHandlerFailure godoc
// @ID          demoHandlerFailure
// @Summary     Raise an exception whose registered handler fails
// @Tags        Demo
// @Produce     json
// @Failure     409  {object}  handlers.Envelope  "Fallback response"
// @Router      /demo/handler-failure [get]
func (h *Handlers) DemoHandlerFailure(c *gin.Context) {
	ex := exception.New(BrokenHandler, "ledger row 42 is locked by txn 9f2",
		exception.WithStatus(http.StatusConflict),
		exception.WithCode(CodeBrokenHandler),
	)
	raise(c, ex)
}

// DemoAsync godoc
// @ID          demoAsync
// @Summary     Raise an external-service failure handled asynchronously
// @Tags        Demo
// @Produce     json
// @Param       service  query  string  false  "Downstream service name"  default(billing)
// @Failure     503  {object}  handlers.Envelope  "Handled by the async handler"
// @Failure     502  {object}  handlers.Envelope  "Async handler rejected; fallback"
// @Router      /demo/async [get]
func (h *Handlers) DemoAsync(c *gin.Context) {
	service := c.DefaultQuery("service", "billing")
	raise(c, exception.NewExternalService(service, errors.New("connection refused")))
}

// DemoPanic godoc
// @ID          demoPanic
// @Summary     Panic inside a handler
// @Tags        Demo
// @Produce     json
// @Failure     500  {object}  handlers.Envelope
// @Router      /demo/panic [get]
func (h *Handlers) DemoPanic(c *gin.Context) {
	panic("demo panic")
}

// DemoPrebuilt godoc
// @ID          demoPrebuilt
// @Summary     Raise a ready-made response
// @Tags        Demo
// @Produce     json
// @Failure     402  {object}  handlers.Envelope
// @Router      /demo/prebuilt [get]
func (h *Handlers) DemoPrebuilt(c *gin.Context) {
	raise(c, h.builder.Fail("payment required", http.StatusPaymentRequired,
		map[string]any{"plan": "free"},
		map[string]any{"upgradeUrl": "/billing/upgrade"},
	))
}
