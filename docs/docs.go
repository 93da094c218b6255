// Package docs holds the OpenAPI description served by the Swagger UI.
// Regenerate with: swag init -g cmd/server/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/users": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "List users (paginated)",
                "description": "Returns a page of users. Supports weak ETag via If-None-Match and may return 304.",
                "operationId": "listUsers",
                "parameters": [
                    {"type": "integer", "default": 1, "minimum": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "maximum": 100, "minimum": 1, "description": "Items per page", "name": "page_size", "in": "query"},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}, "headers": {"ETag": {"type": "string", "description": "Weak ETag for current result"}}},
                    "304": {"description": "Not Modified", "schema": {"type": "string"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Create a user",
                "description": "Supports idempotency via the Idempotency-Key header (same key → same result).",
                "operationId": "createUser",
                "parameters": [
                    {"type": "string", "description": "Idempotency key for safe retries (UUID recommended)", "name": "Idempotency-Key", "in": "header"},
                    {"description": "User payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateUserRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "409": {"description": "Email already registered", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/users/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Fetch a user",
                "operationId": "getUser",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "User ID (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "400": {"description": "Invalid id", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            },
            "delete": {
                "tags": ["Users"],
                "summary": "Delete a user",
                "operationId": "deleteUser",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "User ID (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content", "schema": {"type": "string"}},
                    "400": {"description": "Invalid id", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/demo/errors/{kind}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Demo"],
                "summary": "Raise an error of the given kind",
                "operationId": "demoError",
                "parameters": [
                    {"type": "string", "description": "validation, unauthorized, forbidden, not-found, conflict, duplicate-email, rate-limited, database, external-service or plain", "name": "kind", "in": "path", "required": true}
                ],
                "responses": {
                    "default": {"description": "", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/demo/handler-failure": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Demo"],
                "summary": "Raise an exception whose registered handler fails",
                "operationId": "demoHandlerFailure",
                "responses": {
                    "409": {"description": "Fallback response", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/demo/async": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Demo"],
                "summary": "Raise an external-service failure handled asynchronously",
                "operationId": "demoAsync",
                "parameters": [
                    {"type": "string", "default": "billing", "description": "Downstream service name", "name": "service", "in": "query"}
                ],
                "responses": {
                    "502": {"description": "Async handler rejected; fallback", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "503": {"description": "Handled by the async handler", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/demo/panic": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Demo"],
                "summary": "Panic inside a handler",
                "operationId": "demoPanic",
                "responses": {
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/demo/prebuilt": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Demo"],
                "summary": "Raise a ready-made response",
                "operationId": "demoPrebuilt",
                "responses": {
                    "402": {"description": "Payment Required", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.CreateUserRequest": {
            "type": "object",
            "required": ["email", "name"],
            "properties": {
                "email": {"type": "string", "example": "ada@example.com"},
                "name": {"type": "string", "maxLength": 120, "example": "Ada Lovelace"}
            }
        },
        "handlers.Envelope": {
            "type": "object",
            "properties": {
                "data": {},
                "error": {},
                "message": {"type": "string", "example": "User with id 7f1c1f0e-2f0a-4b7e-9a53-1b2c3d4e5f60 not found"},
                "meta": {"type": "object", "additionalProperties": true},
                "statusCode": {"type": "integer", "example": 404},
                "success": {"type": "boolean", "example": false}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "go-error-dispatch API",
	Description:      "Demo API whose failures all flow through a registry-driven error dispatch pipeline.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
