// Package dispatch routes exceptions to kind-specific handlers.
//
// A Registry maps exception kinds to handlers. A Dispatcher resolves the most
// specific handler for a failure and runs it behind Safe, which turns any
// handler failure (returned error, panic, or failed Task) into a fallback
// response built by Fallback. Nothing in this package lets a handler's own
// failure escape to the caller in the default mode.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-error-dispatch/internal/exception"
	"github.com/tbourn/go-error-dispatch/internal/response"
)

// ErrInvalidRegistration is returned by Register for a nil kind or handler.
var ErrInvalidRegistration = errors.New("invalid error handler registration")

// Reply is what a handler produces: either an immediate *response.Response
// or a deferred *Task.
type Reply interface {
	Await(ctx context.Context) (*response.Response, error)
}

// Handler turns one exception into a reply. Returning an error or panicking
// counts as a handler failure.
type Handler func(c *gin.Context, ex *exception.Exception) (Reply, error)

// Registration is one entry of a registry snapshot.
type Registration struct {
	Kind    *exception.Kind
	Handler Handler
}

// Registry holds kind → handler entries in insertion order.
//
// Lookups read an immutable snapshot through an atomic pointer and never
// block. Writers copy the slice under mu and publish the new snapshot.
type Registry struct {
	mu      sync.Mutex
	entries atomic.Pointer[[]Registration]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.entries.Store(&[]Registration{})
	return r
}

func (r *Registry) load() []Registration {
	if p := r.entries.Load(); p != nil {
		return *p
	}
	return nil
}

// Register binds h to kind. Registering a kind again replaces its handler
// and keeps the original position.
func (r *Registry) Register(kind *exception.Kind, h Handler) error {
	if kind == nil {
		return fmt.Errorf("%w: kind must not be nil", ErrInvalidRegistration)
	}
	if h == nil {
		return fmt.Errorf("%w: handler for %s must not be nil", ErrInvalidRegistration, kind.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	next := make([]Registration, len(cur), len(cur)+1)
	copy(next, cur)
	for i := range next {
		if next[i].Kind == kind {
			next[i].Handler = h
			r.entries.Store(&next)
			return nil
		}
	}
	next = append(next, Registration{Kind: kind, Handler: h})
	r.entries.Store(&next)
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *Registry) MustRegister(kind *exception.Kind, h Handler) {
	if err := r.Register(kind, h); err != nil {
		panic(err)
	}
}

// Find returns the handler for err, or nil when none applies.
//
// An exact kind match anywhere in the registry wins over an ancestor match.
// Among ancestor matches the first registered wins.
func (r *Registry) Find(err error) Handler {
	reg, ok := r.find(err)
	if !ok {
		return nil
	}
	return reg.Handler
}

func (r *Registry) find(err error) (Registration, bool) {
	ex, ok := exception.As(err)
	if !ok || ex.Kind == nil {
		return Registration{}, false
	}
	entries := r.load()

	for _, e := range entries {
		if e.Kind == ex.Kind {
			return e, true
		}
	}
	for _, e := range entries {
		if ex.Kind.Is(e.Kind) {
			return e, true
		}
	}
	return Registration{}, false
}

// Handlers returns a copy of the entries in insertion order.
func (r *Registry) Handlers() []Registration {
	cur := r.load()
	out := make([]Registration, len(cur))
	copy(out, cur)
	return out
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int { return len(r.load()) }

// Clear drops every entry. Tests only.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Store(&[]Registration{})
}
