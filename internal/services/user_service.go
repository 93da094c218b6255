// Package services – UserService
//
// This file implements the UserService, which manages user accounts. It
// validates and normalizes input, detects duplicate emails, and coordinates
// repository calls. Every failure it returns is an *exception.Exception:
// invalid input is a Validation, a missing user is a NotFound, a taken email
// is a DuplicateEmail and any storage fault is a Database exception.
package services

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-error-dispatch/internal/domain"
	"github.com/tbourn/go-error-dispatch/internal/exception"
	"github.com/tbourn/go-error-dispatch/internal/repo"
)

// UserRepo defines the repository contract required by UserService.
type UserRepo interface {
	// CreateUser inserts a new user row.
	CreateUser(ctx context.Context, db *gorm.DB, name, email string) (*domain.User, error)

	// GetUser fetches a user by ID.
	GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)

	// EmailExists reports whether email is already stored.
	EmailExists(ctx context.Context, db *gorm.DB, email string) (bool, error)

	// CountUsers returns the total number of users for pagination.
	CountUsers(ctx context.Context, db *gorm.DB) (int64, error)

	// ListUsersPage returns a page of users, newest first.
	ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error)

	// DeleteUser soft-deletes a user.
	DeleteUser(ctx context.Context, db *gorm.DB, id string) error
}

// UserService provides user operations.
type UserService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the user repository used by this service.
	Repo UserRepo

	// NameMaxLen caps display names by rune length.
	NameMaxLen int
	// MaxPageSize caps the page size accepted by ListPage.
	MaxPageSize int
	// NameLocale drives display-name casing.
	NameLocale language.Tag
}

// NewUserService constructs a UserService with default limits.
func NewUserService(db *gorm.DB, r UserRepo) *UserService {
	return &UserService{
		DB:          db,
		Repo:        r,
		NameMaxLen:  120,
		MaxPageSize: 100,
		NameLocale:  language.English,
	}
}

// Create registers a user after validating name and email.
func (s *UserService) Create(ctx context.Context, name, email string) (*domain.User, error) {
	name = s.normalizeName(name)
	email = strings.ToLower(strings.TrimSpace(email))

	var fields []exception.FieldError
	switch {
	case name == "":
		fields = append(fields, exception.FieldError{Field: "name", Reason: "required"})
	case s.NameMaxLen > 0 && utf8.RuneCountInString(name) > s.NameMaxLen:
		fields = append(fields, exception.FieldError{Field: "name", Reason: "too long"})
	}
	switch {
	case email == "":
		fields = append(fields, exception.FieldError{Field: "email", Reason: "required"})
	case !validEmail(email):
		fields = append(fields, exception.FieldError{Field: "email", Reason: "invalid format", Value: email})
	}
	if len(fields) > 0 {
		return nil, exception.NewValidation("invalid user", fields)
	}

	taken, err := s.Repo.EmailExists(ctx, s.DB, email)
	if err != nil {
		return nil, exception.NewDatabase("check email", err)
	}
	if taken {
		return nil, NewDuplicateEmail(email)
	}

	u, err := s.Repo.CreateUser(ctx, s.DB, name, email)
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost a race with a concurrent insert.
		return nil, NewDuplicateEmail(email)
	}
	if err != nil {
		return nil, exception.NewDatabase("create user", err)
	}
	return u, nil
}

// Get returns the user with the given id.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	u, err := s.Repo.GetUser(ctx, s.DB, id)
	if err != nil {
		return nil, storeError("get user", "User", id, err)
	}
	return u, nil
}

// ListPage returns a page of users and the total count. Invalid page or
// pageSize values fall back to defaults; pageSize is capped at MaxPageSize.
func (s *UserService) ListPage(ctx context.Context, page, pageSize int) ([]domain.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if s.MaxPageSize > 0 && pageSize > s.MaxPageSize {
		pageSize = s.MaxPageSize
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountUsers(ctx, s.DB)
	if err != nil {
		return nil, 0, exception.NewDatabase("count users", err)
	}
	if total == 0 {
		return []domain.User{}, 0, nil
	}

	items, err := s.Repo.ListUsersPage(ctx, s.DB, offset, pageSize)
	if err != nil {
		return nil, 0, exception.NewDatabase("list users", err)
	}
	return items, total, nil
}

// Delete removes the user with the given id.
func (s *UserService) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := s.Repo.DeleteUser(ctx, s.DB, id); err != nil {
		return storeError("delete user", "User", id, err)
	}
	return nil
}

// normalizeName trims, collapses whitespace and title-cases a display name.
func (s *UserService) normalizeName(name string) string {
	name = whitespaceRE.ReplaceAllString(strings.TrimSpace(name), " ")
	if name == "" {
		return ""
	}
	loc := s.NameLocale
	if loc == language.Und {
		loc = language.English
	}
	return cases.Title(loc).String(name)
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return exception.NewValidation("invalid user id", []exception.FieldError{
			{Field: "id", Reason: "must be a UUID", Value: id},
		})
	}
	return nil
}

// validEmail accepts a bare address (no display name).
func validEmail(s string) bool {
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
