package dispatch

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-error-dispatch/internal/exception"
	"github.com/tbourn/go-error-dispatch/internal/response"
)

// errNilTask is reported when a handler returns a nil *Task as its reply.
var errNilTask = errors.New("handler returned a nil task")

// Safe wraps h so that none of its failures reach the caller.
//
// A returned error or a panic is logged under name and replaced by the
// fallback response. A *Task reply gets a failure continuation attached (the
// call does not wait for it) so that a failed task resolves to the fallback
// too. The continuation works on a copy of c taken before Safe returns, since
// gin recycles the live context once the request ends. Successful replies,
// including a nil reply, pass through untouched.
// The returned handler's error is always nil.
func Safe(h Handler, name string, fb *Fallback) Handler {
	return func(c *gin.Context, ex *exception.Exception) (reply Reply, _ error) {
		recoverWith := func(herr error) *response.Response {
			return fb.safeBuild(c, ex, herr, name)
		}

		defer func() {
			if rec := recover(); rec != nil {
				reply = recoverWith(&PanicError{Value: rec, Stack: debug.Stack()})
			}
		}()

		out, err := h(c, ex)
		if err != nil {
			return recoverWith(err), nil
		}
		if t, ok := out.(*Task); ok {
			if t == nil {
				return recoverWith(errNilTask), nil
			}
			cc := c
			if c != nil {
				cc = c.Copy()
			}
			return t.Recover(func(herr error) *response.Response {
				return fb.safeBuild(cc, ex, herr, name)
			}), nil
		}
		return out, nil
	}
}

// safeBuild logs the failure record for handler name and builds the fallback.
// If building itself panics, a static 500 envelope is returned instead.
func (f *Fallback) safeBuild(c *gin.Context, ex *exception.Exception, herr error, name string) (resp *response.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = &response.Response{
				Success: false,
				Message: SafeMessage(http.StatusInternalServerError),
				Status:  http.StatusInternalServerError,
				Meta:    map[string]any{"errorCode": CodeHandlerFailed, "retryable": true},
			}
		}
	}()

	ev := f.log.Error().Str("handler", name)
	if ex != nil {
		ev = ev.Str("original_error", ex.Error()).Str("kind", ex.Name())
	}
	ev.Err(herr).Dict("request_context", requestDict(c)).Msg("error handler execution failed")

	return f.Build(c, ex, herr)
}

func requestDict(c *gin.Context) *zerolog.Event {
	d := zerolog.Dict()
	if c == nil || c.Request == nil {
		return d
	}
	return d.Str("method", c.Request.Method).Str("path", c.Request.URL.Path)
}
