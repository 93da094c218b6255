package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/tbourn/go-error-dispatch/internal/response"
)

// PanicError is the error a recovered panic turns into.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Task is a deferred reply. It resolves exactly once, to a response or an
// error.
type Task struct {
	done chan struct{}
	resp *response.Response
	err  error
}

// Go runs fn on its own goroutine and returns the pending Task. A panic in fn
// resolves the task with a *PanicError.
//
// fn must not use a *gin.Context after the request returns; pass c.Copy().
func Go(fn func() (*response.Response, error)) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if rec := recover(); rec != nil {
				t.resp, t.err = nil, &PanicError{Value: rec, Stack: debug.Stack()}
			}
		}()
		t.resp, t.err = fn()
	}()
	return t
}

// Resolved returns a Task that has already finished with resp and err.
func Resolved(resp *response.Response, err error) *Task {
	t := &Task{done: make(chan struct{}), resp: resp, err: err}
	close(t.done)
	return t
}

// Done is closed once the task has resolved.
func (t *Task) Done() <-chan struct{} { return t.done }

// Await blocks until the task resolves or ctx ends.
func (t *Task) Await(ctx context.Context) (*response.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-t.done:
		return t.resp, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Recover attaches a failure continuation and returns immediately. The
// returned task resolves to t's response when t succeeds, and to onFail(err)
// when t fails. A panic inside onFail is converted like any other.
func (t *Task) Recover(onFail func(error) *response.Response) *Task {
	return Go(func() (*response.Response, error) {
		<-t.done
		if t.err == nil {
			return t.resp, nil
		}
		return onFail(t.err), nil
	})
}
