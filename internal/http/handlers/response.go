// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all endpoints. Success
// bodies go through the response builder so every reply has the same
// envelope. Failures are never written here: handlers raise the error and the
// terminal error middleware answers it, through a registered error handler
// when one matches.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "success": false,
//	  "message": "User with id 7f1c... not found",
//	  "statusCode": 404,
//	  "error": {"resource": "User", "id": "7f1c..."},
//	  "meta": {"errorCode": "NOT_FOUND", "correlationId": "123e4567-..."}
//	}
//
// Example success response:
//
//	HTTP/1.1 201 Created
//	{ "success": true, "message": "user created", "statusCode": 201, "data": {...} }
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-error-dispatch/internal/http/middleware"
)

// Envelope documents the JSON shape of every response for OpenAPI.
type Envelope struct {
	Success    bool           `json:"success" example:"false"`
	Message    string         `json:"message" example:"User with id 7f1c1f0e-2f0a-4b7e-9a53-1b2c3d4e5f60 not found"`
	StatusCode int            `json:"statusCode,omitempty" example:"404"`
	Data       any            `json:"data,omitempty"`
	Error      any            `json:"error,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// raise hands err to the error middleware and stops the chain.
func raise(c *gin.Context, err error) { middleware.Raise(c, err) }

// ok writes a success envelope with the given status.
func (h *Handlers) ok(c *gin.Context, status int, message string, data any) {
	h.builder.OK(c, status, message, data)
}

// noContent writes an HTTP 204 No Content response.
//
// Used when the operation succeeds but there is no response body.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
