// User HTTP handlers.
//
// This file exposes REST endpoints for user resources:
//   - POST   /users        (create, Idempotency-Key support)
//   - GET    /users        (list, paginated, ETag support)
//   - GET    /users/{id}   (fetch)
//   - DELETE /users/{id}   (soft delete)
//
// Handlers are transport-thin: they bind input, call the service and raise
// whatever error it returns. The error middleware renders failures.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous create with
// the same key succeeded, CreateUser returns the stored user with the original
// status and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-error-dispatch/internal/domain"
	"github.com/tbourn/go-error-dispatch/internal/http/middleware"
	"github.com/tbourn/go-error-dispatch/internal/repo"
	"github.com/tbourn/go-error-dispatch/internal/response"
	"github.com/tbourn/go-error-dispatch/internal/services"
	"github.com/tbourn/go-error-dispatch/internal/utils"
)

//
// Service contracts (context-aware)
//

// UserService defines user operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use, must honor the provided
// context, and should return *exception.Exception values for failures.
type UserService interface {
	Create(ctx context.Context, name, email string) (*domain.User, error)
	Get(ctx context.Context, id string) (*domain.User, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.User, int64, error)
	Delete(ctx context.Context, id string) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the demo application.
type Handlers struct {
	users   UserService
	builder *response.Builder
}

// New constructs Handlers bound to the given service and response builder.
func New(users UserService, b *response.Builder) *Handlers {
	if b == nil {
		b = response.NewBuilder(response.Options{})
	}
	return &Handlers{users: users, builder: b}
}

// HeaderIdempotencyReplayed marks a response served from a stored result.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// IdempotencyTTL is how long a completed create can be replayed.
const IdempotencyTTL = 24 * time.Hour

//
// DTOs
//

// CreateUserRequest is the JSON payload for creating a user.
type CreateUserRequest struct {
	Name  string `json:"name"  binding:"required,max=120" example:"Ada Lovelace"`
	Email string `json:"email" binding:"required,email"   example:"ada@example.com"`
}

// ListUsersResponse wraps a page of users and pagination information.
type ListUsersResponse struct {
	Users      []domain.User    `json:"users"`
	Pagination utils.Pagination `json:"pagination"`
}

//
// Handlers
//

// CreateUser godoc
// @ID          createUser
// @Summary     Create a user
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Users
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries (UUID recommended)"
// @Param       body  body      handlers.CreateUserRequest  true  "User payload"
// @Success     201   {object}  handlers.Envelope
// @Failure     400   {object}  handlers.Envelope  "Validation failed"
// @Failure     409   {object}  handlers.Envelope  "Email already registered"
// @Failure     500   {object}  handlers.Envelope  "Internal error"
// @Router      /users [post]
func (h *Handlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		raise(c, bindError(err))
		return
	}
	ctx := c.Request.Context()
	db := h.userDB()
	scope := middleware.IdempotencyScope(c)

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && db != nil {
		if rec, err := repo.GetIdempotency(ctx, db, scope, idemKey, time.Now().UTC()); err == nil {
			if prev, err := h.users.Get(ctx, rec.ResourceID); err == nil {
				c.Header(HeaderIdempotencyReplayed, "true")
				h.ok(c, rec.Status, "user created", prev)
				return
			}
		}
	}

	u, err := h.users.Create(ctx, req.Name, req.Email)
	if err != nil {
		raise(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && db != nil {
		if _, err := repo.CreateIdempotency(ctx, db, scope, idemKey, u.ID, http.StatusCreated, IdempotencyTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("key", idemKey).Msg("idempotency record not stored")
		}
	}
	h.ok(c, http.StatusCreated, "user created", u)
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List users (paginated)
// @Description Returns a page of users. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Users
// @Produce     json
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.Envelope
// @Success     304  {string}  string             "Not Modified"
// @Header      200  {string}  ETag               "Weak ETag for current result"
// @Failure     500  {object}  handlers.Envelope  "Internal error"
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := utils.ClampPagination(c.Query("page"), c.Query("page_size"))

	// ETag pre-check (best effort).
	if db := h.userDB(); db != nil {
		count, maxTS, err := repo.UsersStats(ctx, db)
		if err == nil {
			etag := usersETag(count, maxTS, page, pageSize)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.users.ListPage(ctx, page, pageSize)
	if err != nil {
		raise(c, err)
		return
	}
	h.ok(c, http.StatusOK, "users listed", ListUsersResponse{
		Users:      items,
		Pagination: utils.NewPagination(page, pageSize, total),
	})
}

// GetUser godoc
// @ID          getUser
// @Summary     Fetch a user
// @Tags        Users
// @Produce     json
// @Param       id   path      string  true  "User ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.Envelope
// @Failure     400  {object}  handlers.Envelope  "Invalid id"
// @Failure     404  {object}  handlers.Envelope  "User not found"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		raise(c, err)
		return
	}
	h.ok(c, http.StatusOK, "user found", u)
}

// DeleteUser godoc
// @ID          deleteUser
// @Summary     Delete a user
// @Tags        Users
// @Param       id   path      string  true  "User ID (UUID)"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.Envelope  "Invalid id"
// @Failure     404  {object}  handlers.Envelope  "User not found"
// @Router      /users/{id} [delete]
func (h *Handlers) DeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		raise(c, err)
		return
	}
	noContent(c)
}

// userDB returns the store behind the user service when it is the concrete
// *services.UserService, or nil for any other implementation.
func (h *Handlers) userDB() *gorm.DB {
	if svc, ok := h.users.(*services.UserService); ok {
		return svc.DB
	}
	return nil
}

// usersETag identifies one page of the user list at a given table state.
func usersETag(count int64, maxTS *time.Time, page, pageSize int) string {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"users:%d:%d:%d:%d"`, count, ts, page, pageSize)
}
