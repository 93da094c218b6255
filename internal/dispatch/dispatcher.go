package dispatch

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-error-dispatch/internal/exception"
	"github.com/tbourn/go-error-dispatch/internal/response"
)

// Dispatcher resolves handlers from a Registry and runs them.
type Dispatcher struct {
	registry *Registry
	fallback *Fallback
}

// New returns a Dispatcher over reg. A nil fallback gets a default one that
// logs nowhere.
func New(reg *Registry, fb *Fallback) *Dispatcher {
	if reg == nil {
		reg = NewRegistry()
	}
	if fb == nil {
		fb = NewFallback(response.NewBuilder(response.Options{}), zerolog.Nop())
	}
	return &Dispatcher{registry: reg, fallback: fb}
}

// Registry returns the registry the dispatcher reads from.
func (d *Dispatcher) Registry() *Registry { return d.registry }

type dispatchOptions struct {
	direct bool
}

// Option tunes a single Dispatch call.
type Option func(*dispatchOptions)

// WithoutSafeWrapper invokes the handler directly, so its errors and panics
// reach the caller. Meant for tests that exercise handlers in isolation.
func WithoutSafeWrapper() Option {
	return func(o *dispatchOptions) { o.direct = true }
}

// Dispatch finds the handler for err and runs it. It returns (nil, nil) when
// no handler is registered for err. In the default mode the error is always
// nil and the reply may be a pending *Task.
func (d *Dispatcher) Dispatch(c *gin.Context, err error, opts ...Option) (Reply, error) {
	var o dispatchOptions
	for _, opt := range opts {
		opt(&o)
	}

	reg, ok := d.registry.find(err)
	if !ok {
		return nil, nil
	}
	ex, _ := exception.As(err)

	h := reg.Handler
	if !o.direct {
		h = Safe(h, reg.Kind.Name(), d.fallback)
	}
	return h(c, ex)
}
