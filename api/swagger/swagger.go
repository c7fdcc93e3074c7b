package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "PASI Sync API",
        "description": "Roster reconciliation service for PASI CSV uploads",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and token management"},
        {"name": "Sync", "description": "Roster reconciliation runs and reports"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RefreshTokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Revoke refresh token",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RefreshTokenRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Get current user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pasi/sync": {
            "post": {
                "tags": ["Sync"],
                "summary": "Run a roster reconciliation synchronously",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "school_year", "in": "formData", "required": true, "type": "string", "description": "School year, e.g. 23/24 or 23_24"},
                    {"name": "file", "in": "formData", "required": true, "type": "file", "description": "Roster CSV"}
                ],
                "responses": {
                    "200": {"description": "Completed run with report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid roster or school year", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "A sync is already running for this school year", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pasi/sync/async": {
            "post": {
                "tags": ["Sync"],
                "summary": "Queue a roster reconciliation",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "school_year", "in": "formData", "required": true, "type": "string"},
                    {"name": "file", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "202": {"description": "Run queued, poll using the returned id", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid roster or school year", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pasi/sync/runs": {
            "get": {
                "tags": ["Sync"],
                "summary": "List reconciliation runs",
                "parameters": [
                    {"name": "school_year", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pasi/sync/runs/{id}": {
            "get": {
                "tags": ["Sync"],
                "summary": "Get a reconciliation run with its report",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pasi/sync/runs/{id}/export": {
            "get": {
                "tags": ["Sync"],
                "summary": "Export a run report as CSV or PDF",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "description": "csv or pdf (default csv)"}
                ],
                "responses": {
                    "200": {"description": "Signed download URL", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pasi/exports/{token}": {
            "get": {
                "tags": ["Sync"],
                "summary": "Download a generated export via signed token",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "401": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "RefreshTokenRequest": {
            "type": "object",
            "properties": {
                "refresh_token": {"type": "string"}
            },
            "required": ["refresh_token"]
        },
        "SyncRun": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "school_year": {"type": "string"},
                "initiated_by": {"type": "string"},
                "status": {"type": "string", "enum": ["RUNNING", "COMPLETED", "FAILED"]},
                "started_at": {"type": "string"},
                "completed_at": {"type": "string"},
                "error": {"type": "string"},
                "report": {"$ref": "#/definitions/SyncReport"}
            }
        },
        "SyncReport": {
            "type": "object",
            "properties": {
                "school_year": {"type": "string"},
                "total_records": {"type": "integer"},
                "new_records": {"type": "integer"},
                "updated_records": {"type": "integer"},
                "unchanged_records": {"type": "integer"},
                "removed_records": {"type": "integer"},
                "duplicates_removed": {"type": "integer"},
                "links_created": {"type": "integer"},
                "links_removed": {"type": "integer"},
                "missing_emails": {"type": "array", "items": {"type": "string"}},
                "status_mismatches": {"type": "array", "items": {"type": "object"}}
            }
        },
        "ExportResult": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "url": {"type": "string"},
                "format": {"type": "string"},
                "expires_at": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
