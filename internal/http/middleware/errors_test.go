package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-error-dispatch/internal/dispatch"
	"github.com/tbourn/go-error-dispatch/internal/exception"
	"github.com/tbourn/go-error-dispatch/internal/response"
)

var testBuilder = response.NewBuilder(response.Options{IncludeStatusCode: true})

type envelope struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	StatusCode int            `json:"statusCode"`
	Error      any            `json:"error"`
	Meta       map[string]any `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid json body %q: %v", w.Body.String(), err)
	}
	return env
}

// serve runs a single request through RequestID, the terminal and a handler
// that raises err.
func serve(t *testing.T, term *Terminal, err error) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	_ = captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(term.Middleware())
	r.GET("/x", func(c *gin.Context) { Raise(c, err) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "rid-test")
	r.ServeHTTP(w, req)
	return w
}

func TestTerminal_UnknownError_NonProduction(t *testing.T) {
	before := testutil.ToFloat64(errorsDispatched.WithLabelValues(tierUnknown, tierUnknown))

	w := serve(t, NewTerminal(nil, testBuilder, TerminalOptions{}), errors.New("boom"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	env := decode(t, w)
	if env.Success || env.Message != "boom" || env.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected body: %+v", env)
	}
	if got := testutil.ToFloat64(errorsDispatched.WithLabelValues(tierUnknown, tierUnknown)); got != before+1 {
		t.Fatalf("unknown tier counter = %v; want %v", got, before+1)
	}
}

func TestTerminal_UnknownError_Production(t *testing.T) {
	w := serve(t, NewTerminal(nil, testBuilder, TerminalOptions{Production: true}), errors.New("boom"))

	env := decode(t, w)
	if w.Code != http.StatusInternalServerError || env.Message != genericMessage {
		t.Fatalf("unexpected: %d %+v", w.Code, env)
	}
}

func TestTerminal_AlreadyWritten_Forwards(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
	c.String(http.StatusOK, "sent")

	boom := errors.New("boom")
	var forwarded error
	NewTerminal(nil, testBuilder, TerminalOptions{}).Handle(c, boom, func(err error) { forwarded = err })

	if forwarded != boom {
		t.Fatalf("error must be forwarded unchanged, got %v", forwarded)
	}
	if w.Body.String() != "sent" {
		t.Fatalf("terminal wrote a second body: %q", w.Body.String())
	}
}

func TestTerminal_PrebuiltResponse(t *testing.T) {
	pre := testBuilder.Fail("payment required", http.StatusPaymentRequired, map[string]any{"plan": "free"}, nil)
	w := serve(t, NewTerminal(nil, testBuilder, TerminalOptions{}), pre)

	env := decode(t, w)
	if w.Code != http.StatusPaymentRequired || env.Message != "payment required" {
		t.Fatalf("unexpected: %d %+v", w.Code, env)
	}
}

func TestTerminal_RegistryHandled(t *testing.T) {
	reg := dispatch.NewRegistry()
	reg.MustRegister(exception.NotFound, func(_ *gin.Context, ex *exception.Exception) (dispatch.Reply, error) {
		return testBuilder.Fail("nothing here: "+ex.Message, http.StatusNotFound, nil, map[string]any{"handled": true}), nil
	})
	term := NewTerminal(dispatch.New(reg, nil), testBuilder, TerminalOptions{})

	w := serve(t, term, exception.NewNotFound("User", "user123"))

	env := decode(t, w)
	if w.Code != http.StatusNotFound || env.Message != "nothing here: User with id user123 not found" || env.Meta["handled"] != true {
		t.Fatalf("unexpected: %d %+v", w.Code, env)
	}
}

func TestTerminal_RegistryAsyncHandled(t *testing.T) {
	reg := dispatch.NewRegistry()
	reg.MustRegister(exception.ExternalService, func(*gin.Context, *exception.Exception) (dispatch.Reply, error) {
		return dispatch.Go(func() (*response.Response, error) {
			return testBuilder.Fail("upstream down", http.StatusServiceUnavailable, nil, nil), nil
		}), nil
	})
	term := NewTerminal(dispatch.New(reg, nil), testBuilder, TerminalOptions{})

	w := serve(t, term, exception.NewExternalService("billing", nil))
	if w.Code != http.StatusServiceUnavailable || decode(t, w).Message != "upstream down" {
		t.Fatalf("unexpected: %d %s", w.Code, w.Body.String())
	}
}

// lockedBuffer is a log sink shared with handler goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// blockedRegistry answers ExternalService with a task that fails once release
// is closed.
func blockedRegistry(release <-chan struct{}) *dispatch.Registry {
	reg := dispatch.NewRegistry()
	reg.MustRegister(exception.ExternalService, func(*gin.Context, *exception.Exception) (dispatch.Reply, error) {
		return dispatch.Go(func() (*response.Response, error) {
			<-release
			return nil, errors.New("late failure")
		}), nil
	})
	return reg
}

func TestTerminal_AbandonedReplyLogsOriginalError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	term := NewTerminal(dispatch.New(blockedRegistry(release), nil), testBuilder, TerminalOptions{})
	r := gin.New()
	r.Use(term.Middleware())
	r.GET("/x", func(c *gin.Context) { Raise(c, exception.NewExternalService("billing", nil)) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil).WithContext(ctx))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("abandoned reply must fall through to the default tier, got %d", w.Code)
	}
	var line map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if json.Unmarshal([]byte(raw), &m) == nil && m["message"] == "error handler reply abandoned" {
			line = m
		}
	}
	if line == nil {
		t.Fatalf("abandoned reply not logged: %s", buf.String())
	}
	if line["error"] != context.DeadlineExceeded.Error() {
		t.Fatalf("error = %v; want the wait error", line["error"])
	}
	if !strings.Contains(asString(line["original_error"]), "billing") {
		t.Fatalf("original_error = %v", line["original_error"])
	}
}

func TestTerminal_LateHandlerFailureKeepsItsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_ = captureLogger(t)
	var logs lockedBuffer
	release := make(chan struct{})

	fb := dispatch.NewFallback(testBuilder, zerolog.New(&logs))
	term := NewTerminal(dispatch.New(blockedRegistry(release), fb), testBuilder, TerminalOptions{})
	r := gin.New()
	r.Use(term.Middleware())
	r.GET("/first", func(c *gin.Context) { Raise(c, exception.NewExternalService("billing", nil)) })
	r.GET("/second", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/first", nil).WithContext(ctx))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("GET /first -> %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/second", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /second -> %d", w.Code)
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for !strings.Contains(logs.String(), "late failure") {
		if time.Now().After(deadline) {
			t.Fatalf("late failure never logged: %s", logs.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	out := logs.String()
	if !strings.Contains(out, `"path":"/first"`) {
		t.Fatalf("late failure must carry the first request: %s", out)
	}
	if strings.Contains(out, "/second") {
		t.Fatalf("late failure logged under the next request: %s", out)
	}
}

func TestTerminal_HandlerFailureUsesFallback(t *testing.T) {
	reg := dispatch.NewRegistry()
	reg.MustRegister(exception.Conflict, func(*gin.Context, *exception.Exception) (dispatch.Reply, error) {
		return nil, errors.New("handler bug")
	})
	term := NewTerminal(dispatch.New(reg, nil), testBuilder, TerminalOptions{})
	before := testutil.ToFloat64(handlerFailures.WithLabelValues("ConflictException"))

	w := serve(t, term, exception.NewConflict("email taken"))

	env := decode(t, w)
	if w.Code != http.StatusConflict || env.Message != "Resource conflict occurred" {
		t.Fatalf("unexpected: %d %+v", w.Code, env)
	}
	if env.Meta["errorCode"] != dispatch.CodeHandlerFailed || env.Meta["retryable"] != false {
		t.Fatalf("unexpected meta: %v", env.Meta)
	}
	if env.Meta["correlationId"] != "rid-test" {
		t.Fatalf("request id should become the correlation id, got %v", env.Meta["correlationId"])
	}
	if got := testutil.ToFloat64(handlerFailures.WithLabelValues("ConflictException")); got != before+1 {
		t.Fatalf("handler failure counter = %v; want %v", got, before+1)
	}
}

func TestTerminal_ExceptionDefault(t *testing.T) {
	ex := exception.NewValidation("invalid input", []exception.FieldError{{Field: "email", Reason: "required"}},
		exception.WithCorrelationID("corr-1"))
	w := serve(t, NewTerminal(nil, testBuilder, TerminalOptions{}), ex)

	env := decode(t, w)
	if w.Code != http.StatusBadRequest || env.Message != "invalid input" {
		t.Fatalf("unexpected: %d %+v", w.Code, env)
	}
	if env.Error == nil {
		t.Fatalf("exception data must be exposed as error payload")
	}
	if env.Meta["errorCode"] != exception.CodeValidation || env.Meta["isOperational"] != true || env.Meta["correlationId"] != "corr-1" {
		t.Fatalf("unexpected meta: %v", env.Meta)
	}
}

func TestTerminal_ExceptionDefault_ZeroStatusAndNilMetadata(t *testing.T) {
	ex := exception.New(exception.Base, "mutated")
	ex.StatusCode = 0
	ex.Metadata = nil

	w := serve(t, NewTerminal(nil, testBuilder, TerminalOptions{}), ex)

	env := decode(t, w)
	if w.Code != http.StatusBadRequest || env.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero status must default to 400, got %d %+v", w.Code, env)
	}
	if _, has := env.Meta["domain"]; has {
		t.Fatalf("domain must be absent: %v", env.Meta)
	}
}

func TestTerminal_DefaultStatusCodeFlag(t *testing.T) {
	b := response.NewBuilder(response.Options{IncludeStatusCode: true, UseDefaultStatusCode: true, DefaultStatusCode: http.StatusOK})
	w := serve(t, NewTerminal(nil, b, TerminalOptions{}), exception.NewForbidden("no access"))

	env := decode(t, w)
	if w.Code != http.StatusOK || env.StatusCode != http.StatusForbidden || env.Success {
		t.Fatalf("wire status must be forced while body keeps the real one: %d %+v", w.Code, env)
	}
}

func TestTerminal_NoErrorsNoop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewTerminal(nil, testBuilder, TerminalOptions{}).Middleware())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "fine") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusOK || w.Body.String() != "fine" {
		t.Fatalf("unexpected: %d %q", w.Code, w.Body.String())
	}
}

func TestKindLabel(t *testing.T) {
	if got := kindLabel(exception.NewNotFound("User", "1")); got != "NotFoundException" {
		t.Fatalf("got %q", got)
	}
	if got := kindLabel(testBuilder.Fail("x", 400, nil, nil)); got != "response" {
		t.Fatalf("got %q", got)
	}
	if got := kindLabel(errors.New("x")); got != tierUnknown {
		t.Fatalf("got %q", got)
	}
}

func TestTerminal_ErrorResponsesAreNotCached(t *testing.T) {
	w := serve(t, NewTerminal(nil, testBuilder, TerminalOptions{}), exception.NewConflict("c"))
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("error envelopes must be no-store, got %#v", w.Header())
	}
}
