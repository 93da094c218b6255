// Package handlers converts transport-level input failures into exceptions.
//
// Binding and decoding errors never reach the client raw: bindError turns
// validator failures into a ValidationException carrying one FieldError per
// offending field, an oversized body into a 413, and anything else into a
// generic "invalid JSON body" validation failure.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-error-dispatch/internal/exception"
)

// Transport-level error codes. Domain codes live with their kinds.
const (
	ErrCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	ErrCodeInvalidJSON     = "INVALID_JSON"
)

// bindError maps a ShouldBind* error to an exception.
func bindError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make([]exception.FieldError, 0, len(ve))
		for _, fe := range ve {
			fields = append(fields, exception.FieldError{
				Field:  strings.ToLower(fe.Field()),
				Reason: fe.Tag(),
			})
		}
		return exception.NewValidation("invalid request body", fields)
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return exception.NewValidation("request body too large", nil,
			exception.WithStatus(http.StatusRequestEntityTooLarge),
			exception.WithCode(ErrCodePayloadTooLarge),
			exception.WithData(map[string]any{"limit": tooLarge.Limit}),
		)
	}

	return exception.NewValidation("invalid JSON body", nil,
		exception.WithCode(ErrCodeInvalidJSON),
		exception.WithCause(err),
	)
}
