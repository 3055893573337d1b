package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "description": "Single-document state store for the workspace sync client",
        "title": "Workspace State API",
        "version": "1.0"
    },
    "host": "localhost:8080",
    "basePath": "/",
    "schemes": ["http"],
    "paths": {
        "/health": {
            "get": {
                "tags": ["health"],
                "summary": "Liveness probe",
                "produces": ["application/json"],
                "responses": {
                    "200": {
                        "description": "Server is running",
                        "schema": {"$ref": "#/definitions/HealthResponse"}
                    }
                }
            }
        },
        "/state": {
            "get": {
                "tags": ["state"],
                "summary": "Get the workspace document",
                "description": "Returns the caller's document, or the most recently written document when the caller has none. Also served under /api/v1.",
                "produces": ["application/json"],
                "security": [{"ApiKeyAuth": []}],
                "responses": {
                    "200": {
                        "description": "Stored document",
                        "schema": {"$ref": "#/definitions/GetStateResponse"}
                    },
                    "401": {
                        "description": "Missing or wrong API key",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    },
                    "404": {
                        "description": "Nothing stored yet (error: empty)",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    },
                    "500": {
                        "description": "Storage failure (db_error) or a stored value that is not an object (invalid_state)",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    }
                }
            },
            "put": {
                "tags": ["state"],
                "summary": "Replace the workspace document",
                "description": "Rejected with 409 when the stored document is newer than baseUpdatedAt. Omitting baseUpdatedAt overwrites unconditionally.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "security": [{"ApiKeyAuth": []}],
                "parameters": [
                    {
                        "in": "body",
                        "name": "request",
                        "required": true,
                        "schema": {"$ref": "#/definitions/PutStateRequest"}
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Stored",
                        "schema": {"$ref": "#/definitions/PutStateResponse"}
                    },
                    "400": {
                        "description": "Body is not {state: object}",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    },
                    "401": {
                        "description": "Missing or wrong API key",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    },
                    "409": {
                        "description": "Stored document is newer than the base",
                        "schema": {"$ref": "#/definitions/ConflictResponse"}
                    },
                    "500": {
                        "description": "Storage failure",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    }
                }
            }
        }
    },
    "definitions": {
        "HealthResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean", "example": true}
            }
        },
        "GetStateResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "object"},
                "updatedAt": {"type": "integer", "format": "int64", "description": "Server clock in epoch milliseconds"}
            }
        },
        "PutStateRequest": {
            "type": "object",
            "required": ["state"],
            "properties": {
                "state": {"type": "object"},
                "baseUpdatedAt": {"type": "integer", "format": "int64", "description": "updatedAt of the copy the edit was based on"}
            }
        },
        "PutStateResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean", "example": true},
                "updatedAt": {"type": "integer", "format": "int64"}
            }
        },
        "ConflictResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "conflict"},
                "state": {"type": "object"},
                "updatedAt": {"type": "integer", "format": "int64"}
            }
        },
        "ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "unauthorized"}
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "X-API-Key",
            "in": "header"
        }
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "Workspace State API",
	Description:      "Single-document state store for the workspace sync client",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
