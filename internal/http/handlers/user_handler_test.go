package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-error-dispatch/internal/dispatch"
	"github.com/tbourn/go-error-dispatch/internal/domain"
	"github.com/tbourn/go-error-dispatch/internal/exception"
	"github.com/tbourn/go-error-dispatch/internal/http/middleware"
	"github.com/tbourn/go-error-dispatch/internal/repo"
	"github.com/tbourn/go-error-dispatch/internal/response"
	"github.com/tbourn/go-error-dispatch/internal/services"
)

// ---------- test DB + repo shim ----------

func newUserDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:user_handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Minimal shim implementing services.UserRepo using the repo package (like router.go)
type testUserRepo struct{}

func (testUserRepo) CreateUser(ctx context.Context, db *gorm.DB, name, email string) (*domain.User, error) {
	return repo.CreateUser(ctx, db, name, email)
}

func (testUserRepo) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

func (testUserRepo) EmailExists(ctx context.Context, db *gorm.DB, email string) (bool, error) {
	return repo.EmailExists(ctx, db, email)
}

func (testUserRepo) CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountUsers(ctx, db)
}

func (testUserRepo) ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error) {
	return repo.ListUsersPage(ctx, db, offset, limit)
}

func (testUserRepo) DeleteUser(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteUser(ctx, db, id)
}

// ---------- router under test ----------

var testBuilder = response.NewBuilder(response.Options{IncludeStatusCode: true})

// newTestRouter wires the handlers behind RequestID, the terminal error
// middleware (with the business handlers registered) and Recovery.
func newTestRouter(t *testing.T, svc UserService, lookup StatusLookup) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := dispatch.NewRegistry()
	if lookup == nil {
		lookup = defaultLookup
	}
	if err := registerErrorHandlers(reg, testBuilder, lookup); err != nil {
		t.Fatalf("register: %v", err)
	}
	term := middleware.NewTerminal(dispatch.New(reg, nil), testBuilder, middleware.TerminalOptions{})

	r := gin.New()
	r.Use(middleware.RequestID(), term.Middleware(), middleware.Recovery())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))

	h := New(svc, testBuilder)
	r.POST("/users", h.CreateUser)
	r.GET("/users", h.ListUsers)
	r.GET("/users/:id", h.GetUser)
	r.DELETE("/users/:id", h.DeleteUser)
	r.GET("/demo/errors/:kind", h.DemoError)
	r.GET("/demo/handler-failure", h.DemoHandlerFailure)
	r.GET("/demo/async", h.DemoAsync)
	r.GET("/demo/panic", h.DemoPanic)
	r.GET("/demo/prebuilt", h.DemoPrebuilt)
	return r
}

func newUserRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return newTestRouter(t, services.NewUserService(newUserDB(t), testUserRepo{}), nil)
}

type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Error      json.RawMessage `json:"error"`
	Meta       map[string]any  `json:"meta"`
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "rid-h")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("invalid json %q: %v", w.Body.String(), err)
		}
	}
	return w, env
}

// ---------- tests ----------

func TestCreateUser_Success(t *testing.T) {
	r := newUserRouter(t)

	w, env := do(t, r, http.MethodPost, "/users", CreateUserRequest{Name: "ada lovelace", Email: "Ada@Example.com"})
	if w.Code != http.StatusCreated || !env.Success || env.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected: %d %s", w.Code, w.Body.String())
	}
	var u domain.User
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatalf("data: %v", err)
	}
	if u.Name != "Ada Lovelace" || u.Email != "ada@example.com" || u.ID == "" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestCreateUser_BindingValidation(t *testing.T) {
	r := newUserRouter(t)

	w, env := do(t, r, http.MethodPost, "/users", map[string]string{"name": "Ada", "email": "nope"})
	if w.Code != http.StatusBadRequest || env.Success {
		t.Fatalf("unexpected: %d %s", w.Code, w.Body.String())
	}
	if env.Meta["errorCode"] != "VALIDATION_ERROR" || env.Meta["correlationId"] != "rid-h" {
		t.Fatalf("unexpected meta: %v", env.Meta)
	}
	var payload struct {
		Fields []struct {
			Field  string `json:"field"`
			Reason string `json:"reason"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(env.Error, &payload); err != nil || len(payload.Fields) != 1 {
		t.Fatalf("fields: %s (%v)", env.Error, err)
	}
	if payload.Fields[0].Field != "email" || payload.Fields[0].Reason != "email" {
		t.Fatalf("unexpected field error: %+v", payload.Fields[0])
	}
}

func TestCreateUser_InvalidJSON(t *testing.T) {
	r := newUserRouter(t)
	w, env := do(t, r, http.MethodPost, "/users", "{not json")
	if w.Code != http.StatusBadRequest || env.Meta["errorCode"] != ErrCodeInvalidJSON {
		t.Fatalf("unexpected: %d %s", w.Code, w.Body.String())
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	r := newUserRouter(t)
	body := CreateUserRequest{Name: "Ada", Email: "ada@example.com"}

	if w, _ := do(t, r, http.MethodPost, "/users", body); w.Code != http.StatusCreated {
		t.Fatalf("seed: %d", w.Code)
	}
	w, env := do(t, r, http.MethodPost, "/users", body)
	if w.Code != http.StatusConflict || env.Meta["errorCode"] != services.CodeDuplicateEmail {
		t.Fatalf("unexpected: %d %s", w.Code, w.Body.String())
	}
	var payload map[string]string
	_ = json.Unmarshal(env.Error, &payload)
	if payload["field"] != "email" || payload["suggestion"] == "" {
		t.Fatalf("duplicate handler payload missing: %s", env.Error)
	}
}

func postWithKey(t *testing.T, r http.Handler, key string, body CreateUserRequest) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderIdempotencyKey, key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid json body %q: %v", w.Body.String(), err)
	}
	return w, env
}

func TestCreateUser_IdempotentReplay(t *testing.T) {
	r := newUserRouter(t)
	body := CreateUserRequest{Name: "Ada", Email: "ada@example.com"}

	w1, env1 := postWithKey(t, r, "key-1", body)
	if w1.Code != http.StatusCreated || w1.Header().Get(HeaderIdempotencyReplayed) != "" {
		t.Fatalf("first create: %d %s", w1.Code, w1.Body.String())
	}

	// Same key: stored user, original status, no duplicate-email conflict.
	w2, env2 := postWithKey(t, r, "key-1", body)
	if w2.Code != http.StatusCreated || w2.Header().Get(HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay: %d %s", w2.Code, w2.Body.String())
	}
	var u1, u2 domain.User
	_ = json.Unmarshal(env1.Data, &u1)
	_ = json.Unmarshal(env2.Data, &u2)
	if u1.ID == "" || u1.ID != u2.ID {
		t.Fatalf("replay returned a different user: %q vs %q", u1.ID, u2.ID)
	}

	// A new key is a new attempt and hits the duplicate check.
	w3, env3 := postWithKey(t, r, "key-2", body)
	if w3.Code != http.StatusConflict || env3.Meta["errorCode"] != "DUPLICATE_EMAIL" {
		t.Fatalf("new key: %d %s", w3.Code, w3.Body.String())
	}
}

func TestCreateUser_InvalidIdempotencyKey(t *testing.T) {
	r := newUserRouter(t)
	w, env := postWithKey(t, r, "not a key!", CreateUserRequest{Name: "Ada", Email: "ada@example.com"})
	if w.Code != http.StatusBadRequest || env.Meta["errorCode"] != middleware.ErrCodeBadIdempotencyKey {
		t.Fatalf("unexpected: %d %s", w.Code, w.Body.String())
	}
}

func TestGetUser_FoundNotFoundInvalid(t *testing.T) {
	r := newUserRouter(t)

	_, created := do(t, r, http.MethodPost, "/users", CreateUserRequest{Name: "Ada", Email: "ada@example.com"})
	var u domain.User
	_ = json.Unmarshal(created.Data, &u)

	w, env := do(t, r, http.MethodGet, "/users/"+u.ID, nil)
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("get: %d %s", w.Code, w.Body.String())
	}

	missing := uuid.NewString()
	w, env = do(t, r, http.MethodGet, "/users/"+missing, nil)
	if w.Code != http.StatusNotFound || env.Message != "User with id "+missing+" not found" {
		t.Fatalf("not found: %d %s", w.Code, w.Body.String())
	}
	if env.Meta["hint"] == nil || env.Meta["domain"] != "user" {
		t.Fatalf("not-found handler meta missing: %v", env.Meta)
	}

	w, _ = do(t, r, http.MethodGet, "/users/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid id: %d", w.Code)
	}
}

func TestListUsers_Pagination(t *testing.T) {
	r := newUserRouter(t)
	for i := 0; i < 3; i++ {
		do(t, r, http.MethodPost, "/users", CreateUserRequest{Name: "User", Email: fmt.Sprintf("u%d@example.com", i)})
	}

	w, env := do(t, r, http.MethodGet, "/users?page=1&page_size=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	var out ListUsersResponse
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("data: %v", err)
	}
	if len(out.Users) != 2 || out.Pagination.Total != 3 || out.Pagination.TotalPages != 2 || !out.Pagination.HasNext {
		t.Fatalf("unexpected page: %+v", out)
	}
}

func TestListUsers_ETag304(t *testing.T) {
	r := newUserRouter(t)
	do(t, r, http.MethodPost, "/users", CreateUserRequest{Name: "Ada", Email: "ada@example.com"})

	w, _ := do(t, r, http.MethodGet, "/users?page=1&page_size=10", nil)
	etag := w.Header().Get("ETag")
	if w.Code != http.StatusOK || etag == "" {
		t.Fatalf("first list: %d etag=%q", w.Code, etag)
	}

	req := httptest.NewRequest(http.MethodGet, "/users?page=1&page_size=10", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Fatalf("expected 304 with empty body, got %d %q", w.Code, w.Body.String())
	}

	// A different page is a different representation.
	req = httptest.NewRequest(http.MethodGet, "/users?page=2&page_size=10", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("page 2 must not match page 1 tag: %d", w.Code)
	}

	// Writes change the tag.
	do(t, r, http.MethodPost, "/users", CreateUserRequest{Name: "Grace", Email: "grace@example.com"})
	w, _ = do(t, r, http.MethodGet, "/users?page=1&page_size=10", nil)
	if w.Header().Get("ETag") == etag {
		t.Fatalf("etag unchanged after insert")
	}
}

func TestListUsers_EmptyState_ETagZero(t *testing.T) {
	r := newUserRouter(t)
	w, _ := do(t, r, http.MethodGet, "/users", nil)
	if et := w.Header().Get("ETag"); et != `W/"users:0:0:1:20"` {
		t.Fatalf(`expected ETag W/"users:0:0:1:20", got %q`, et)
	}
}

func TestListUsers_NoETagWithoutStore(t *testing.T) {
	r := newTestRouter(t, failingUsers{err: errors.New("unused")}, nil)
	w, _ := do(t, r, http.MethodGet, "/users", nil)
	if w.Header().Get("ETag") != "" {
		t.Fatalf("stub service has no DB; ETag pre-check must be skipped")
	}
}

func TestDeleteUser(t *testing.T) {
	r := newUserRouter(t)
	_, created := do(t, r, http.MethodPost, "/users", CreateUserRequest{Name: "Ada", Email: "ada@example.com"})
	var u domain.User
	_ = json.Unmarshal(created.Data, &u)

	w, _ := do(t, r, http.MethodDelete, "/users/"+u.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	w, _ = do(t, r, http.MethodDelete, "/users/"+u.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", w.Code)
	}
}

// ---------- service failures ----------

type failingUsers struct{ err error }

func (f failingUsers) Create(context.Context, string, string) (*domain.User, error) {
	return nil, f.err
}
func (f failingUsers) Get(context.Context, string) (*domain.User, error) { return nil, f.err }
func (f failingUsers) ListPage(context.Context, int, int) ([]domain.User, int64, error) {
	return nil, 0, f.err
}
func (f failingUsers) Delete(context.Context, string) error { return f.err }

func TestListUsers_DatabaseFailureUsesDefaultRendering(t *testing.T) {
	r := newTestRouter(t, failingUsers{err: exception.NewDatabase("list users", errors.New("disk I/O error"))}, nil)
	w, env := do(t, r, http.MethodGet, "/users", nil)
	if w.Code != http.StatusInternalServerError || env.Meta["errorCode"] != "DATABASE_ERROR" {
		t.Fatalf("unexpected: %d %s", w.Code, w.Body.String())
	}
	if env.Meta["isOperational"] != false {
		t.Fatalf("database failures are not operational: %v", env.Meta)
	}
}
