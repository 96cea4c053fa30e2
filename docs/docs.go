// Package docs registers the OpenAPI document served under /swagger.
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
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/api/v1/uploads": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Stores every file part and creates one PENDING job per file in a single transaction.",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["uploads"],
                "summary": "Upload a batch of documents",
                "parameters": [
                    {"type": "string", "description": "purchase-order | goods-receipt", "name": "category", "in": "query", "required": true},
                    {"type": "file", "description": "one or more files", "name": "files", "in": "formData", "required": true}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/service.UploadResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/v1/jobs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List jobs",
                "parameters": [
                    {"type": "string", "description": "PENDING | CLAIMED | PROCESSED | FAILED", "name": "status", "in": "query"},
                    {"type": "string", "description": "purchase-order | goods-receipt", "name": "category", "in": "query"},
                    {"type": "string", "description": "upload batch id", "name": "batch_id", "in": "query"},
                    {"type": "integer", "description": "page size (max 500, default 50)", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "offset", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.listJobsResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/v1/jobs/export": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
                "tags": ["jobs"],
                "summary": "Export jobs as an XLSX workbook",
                "parameters": [
                    {"type": "string", "description": "PENDING | CLAIMED | PROCESSED | FAILED", "name": "status", "in": "query"},
                    {"type": "string", "description": "purchase-order | goods-receipt", "name": "category", "in": "query"},
                    {"type": "string", "description": "upload batch id", "name": "batch_id", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/v1/jobs/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get job by id",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.jobResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/v1/jobs/{id}/result": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get the entity a processed job materialized",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/v1/statuses": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["statuses"],
                "summary": "List status reference rows",
                "parameters": [
                    {"type": "string", "description": "purchase-order | goods-receipt", "name": "category", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/entity.Status"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/v1/audit/{table}/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["audit"],
                "summary": "Audit trail of a record, newest first",
                "parameters": [
                    {"type": "string", "description": "ingest_jobs | upload_batches", "name": "table", "in": "path", "required": true},
                    {"type": "string", "description": "record id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/entity.AuditEntry"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        }
    },
    "definitions": {
        "entity.AuditEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "table_name": {"type": "string"},
                "record_id": {"type": "string"},
                "action": {"type": "string"},
                "user_id": {"type": "string"},
                "details": {"type": "object"},
                "created_at": {"type": "string"}
            }
        },
        "entity.Status": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "category": {"type": "string"},
                "display_name": {"type": "string"}
            }
        },
        "httptransport.apiError": {
            "type": "object",
            "properties": {
                "message": {"type": "string"}
            }
        },
        "httptransport.jobResp": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "batch_id": {"type": "string"},
                "filename": {"type": "string"},
                "mime_type": {"type": "string"},
                "size_bytes": {"type": "integer"},
                "category": {"type": "string"},
                "status": {"type": "string"},
                "status_name": {"type": "string"},
                "failure_reason": {"type": "string"},
                "last_error": {"type": "string"},
                "attempts": {"type": "integer"},
                "max_attempts": {"type": "integer"},
                "entity_id": {"type": "string"},
                "uploaded_by": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "finished_at": {"type": "string"}
            }
        },
        "httptransport.listJobsResp": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/httptransport.jobResp"}},
                "limit": {"type": "integer"},
                "offset": {"type": "integer"}
            }
        },
        "service.JobSummary": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "filename": {"type": "string"},
                "mime_type": {"type": "string"},
                "size_bytes": {"type": "integer"}
            }
        },
        "service.UploadResult": {
            "type": "object",
            "properties": {
                "batch_id": {"type": "string"},
                "count": {"type": "integer"},
                "jobs": {"type": "array", "items": {"$ref": "#/definitions/service.JobSummary"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Document ingest service API",
	Description:      "Bulk upload of purchase orders and goods receipts with asynchronous extraction.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
