// Package services defines the business logic of the demo application.
// This file declares the service-specific exception kinds and the helpers that
// turn repository failures into exceptions, so handlers can simply raise what
// a service returns and let the error middleware answer it.
package services

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/tbourn/go-error-dispatch/internal/exception"
)

// DuplicateEmail is raised when an email is already registered. It is a
// Conflict, so a handler registered for Conflict also serves it.
var DuplicateEmail = exception.NewKind("DuplicateEmailException", exception.Conflict)

// CodeDuplicateEmail is the error code carried by DuplicateEmail exceptions.
const CodeDuplicateEmail = "DUPLICATE_EMAIL"

// NewDuplicateEmail reports that email is taken.
func NewDuplicateEmail(email string, opts ...exception.Option) *exception.Exception {
	base := []exception.Option{
		exception.WithStatus(http.StatusConflict),
		exception.WithCode(CodeDuplicateEmail),
		exception.WithData(map[string]any{"email": email}),
		exception.WithMetadata(map[string]any{exception.MetaDomain: "user"}),
	}
	return exception.New(DuplicateEmail, "email already registered", append(base, opts...)...)
}

// storeError maps a repository error for resource/id to an exception:
// a missing row becomes NotFound, anything else a Database failure.
func storeError(op, resource, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return exception.NewNotFound(resource, id)
	}
	return exception.NewDatabase(op, err)
}
