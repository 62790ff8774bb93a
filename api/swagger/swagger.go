package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Revision Engine API",
        "description": "Append-only revision ledger with history, diff, revert and publish.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Revisions", "description": "Revision history, diff, revert and publish"},
        {"name": "Pages", "description": "Revisionable CMS pages"},
        {"name": "Settings", "description": "Revisionable key/value settings"}
    ],
    "paths": {
        "/revisions/{type}/{id}": {
            "get": {
                "tags": ["Revisions"],
                "summary": "List revisions of an entity, newest first",
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "action", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/revisions/{type}/{id}/latest": {
            "get": {
                "tags": ["Revisions"],
                "summary": "Head revision of an entity",
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/RevisionEnvelope"}},
                    "404": {"description": "No revisions", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/revisions/{type}/{id}/published": {
            "get": {
                "tags": ["Revisions"],
                "summary": "Latest published revision of an entity",
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/RevisionEnvelope"}},
                    "404": {"description": "Never published", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/revisions/{type}/{id}/verify": {
            "get": {
                "tags": ["Revisions"],
                "summary": "Verify ordering, gaps and stored diffs of an entity chain",
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/revisions/{type}/{id}/export": {
            "get": {
                "tags": ["Revisions"],
                "summary": "Export revision history as CSV or PDF",
                "produces": ["text/csv", "application/pdf", "application/json"],
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "delivery", "in": "query", "type": "string", "enum": ["inline", "link"]}
                ],
                "responses": {
                    "200": {"description": "Rendered file"},
                    "201": {"description": "Signed download link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/revisions/{type}/{id}/manual": {
            "post": {
                "tags": ["Revisions"],
                "summary": "Record a manual revision",
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ManualRevisionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/RevisionEnvelope"}}
                }
            }
        },
        "/revisions/{type}/{id}/publish": {
            "post": {
                "tags": ["Revisions"],
                "summary": "Publish the current state of an entity",
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/PublishRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/RevisionEnvelope"}}
                }
            }
        },
        "/revisions/{type}/{id}/revert": {
            "post": {
                "tags": ["Revisions"],
                "summary": "Revert an entity to a recorded revision",
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RevertRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/RevisionEnvelope"}},
                    "404": {"description": "Unknown revision", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Revision belongs to another entity", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/revision-ids/{revisionId}": {
            "get": {
                "tags": ["Revisions"],
                "summary": "Get a revision by id",
                "parameters": [
                    {"name": "revisionId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/RevisionEnvelope"}}
                }
            }
        },
        "/revisions/compare": {
            "get": {
                "tags": ["Revisions"],
                "summary": "Compare two revisions of the same entity",
                "parameters": [
                    {"name": "from", "in": "query", "required": true, "type": "string"},
                    {"name": "to", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/{token}": {
            "get": {
                "tags": ["Revisions"],
                "summary": "Download a stored export through its signed token",
                "security": [],
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Rendered file"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        },
        "/pages": {
            "get": {
                "tags": ["Pages"],
                "summary": "List pages",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Pages"],
                "summary": "Create a page",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreatePageRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pages/{id}": {
            "get": {
                "tags": ["Pages"],
                "summary": "Get a page",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "put": {
                "tags": ["Pages"],
                "summary": "Update a page",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreatePageRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "delete": {
                "tags": ["Pages"],
                "summary": "Delete a page",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"204": {"description": "Deleted"}}
            }
        },
        "/settings": {
            "get": {
                "tags": ["Settings"],
                "summary": "List settings",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/settings/{key}": {
            "get": {
                "tags": ["Settings"],
                "summary": "Get a setting",
                "parameters": [{"name": "key", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "put": {
                "tags": ["Settings"],
                "summary": "Create or replace a setting",
                "parameters": [
                    {"name": "key", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PutSettingRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "delete": {
                "tags": ["Settings"],
                "summary": "Delete a setting",
                "parameters": [{"name": "key", "in": "path", "required": true, "type": "string"}],
                "responses": {"204": {"description": "Deleted"}}
            }
        }
    },
    "definitions": {
        "Revision": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "entityType": {"type": "string"},
                "entityId": {"type": "string"},
                "actorId": {"type": "string"},
                "action": {"type": "string"},
                "version": {"type": "integer"},
                "data": {"type": "object"},
                "changes": {"type": "object"},
                "metadata": {"type": "object"},
                "description": {"type": "string"},
                "isPublished": {"type": "boolean"},
                "publishedAt": {"type": "string", "format": "date-time"},
                "createdAt": {"type": "string", "format": "date-time"}
            }
        },
        "ManualRevisionRequest": {
            "type": "object",
            "required": ["action"],
            "properties": {
                "action": {"type": "string"},
                "description": {"type": "string"},
                "metadata": {"type": "object"},
                "isPublished": {"type": "boolean"}
            }
        },
        "PublishRequest": {
            "type": "object",
            "properties": {
                "description": {"type": "string"}
            }
        },
        "RevertRequest": {
            "type": "object",
            "required": ["revisionId"],
            "properties": {
                "revisionId": {"type": "string"},
                "description": {"type": "string"},
                "publish": {"type": "boolean"}
            }
        },
        "CreatePageRequest": {
            "type": "object",
            "properties": {
                "slug": {"type": "string"},
                "title": {"type": "string"},
                "body": {"type": "string"},
                "blocks": {"type": "array", "items": {"type": "object"}},
                "meta": {"type": "object"}
            }
        },
        "PutSettingRequest": {
            "type": "object",
            "required": ["value"],
            "properties": {
                "value": {"type": "object"},
                "description": {"type": "string"}
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
        },
        "RevisionEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/Revision"},
                "error": {"$ref": "#/definitions/APIError"}
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
