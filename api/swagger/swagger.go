package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Studio Ledger API",
        "description": "Attendance-to-ledger engine for the studio admin console",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Attendance", "description": "Daily attendance sheet"},
        {"name": "Students", "description": "Balances and holiday credits"},
        {"name": "Holidays", "description": "Holiday declaration and reconciliation"},
        {"name": "Reports", "description": "Asynchronous CSV/PDF exports"}
    ],
    "paths": {
        "/attendance/{date}": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Daily summary joined with the eligible roster",
                "parameters": [
                    {"name": "date", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/{date}/bulk": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Apply the same attendance to many students",
                "parameters": [
                    {"name": "date", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkAttendanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/{date}/{studentId}": {
            "put": {
                "tags": ["Attendance"],
                "summary": "Set a student's attendance",
                "parameters": [
                    {"name": "date", "in": "path", "required": true, "type": "string"},
                    {"name": "studentId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetAttendanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Attendance"],
                "summary": "Remove a student's attendance record",
                "parameters": [
                    {"name": "date", "in": "path", "required": true, "type": "string"},
                    {"name": "studentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List attendance-eligible students",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/balance": {
            "get": {
                "tags": ["Students"],
                "summary": "Current balance",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/credits": {
            "get": {
                "tags": ["Students"],
                "summary": "Holiday credit log",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/credits/consume": {
            "post": {
                "tags": ["Students"],
                "summary": "Mark holiday credit as consumed, oldest first",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ConsumeCreditsRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/holidays": {
            "post": {
                "tags": ["Holidays"],
                "summary": "Declare a holiday and reconcile both ledgers",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DeclareHolidayRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/holidays/impact": {
            "post": {
                "tags": ["Holidays"],
                "summary": "Preview the effect of declaring a holiday",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/HolidayImpactRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/generate": {
            "post": {
                "tags": ["Reports"],
                "summary": "Queue an export job",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/status/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Export job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a finished export via signed token",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    },
    "definitions": {
        "SetAttendanceRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["present", "absent", "medicalAbsence", "holiday"]},
                "attributes": {
                    "type": "array",
                    "items": {"type": "string", "enum": ["late", "noShoes", "notInUniform"]}
                }
            },
            "required": ["status"]
        },
        "BulkAttendanceRequest": {
            "type": "object",
            "properties": {
                "studentIds": {"type": "array", "items": {"type": "string"}},
                "status": {"type": "string"},
                "attributes": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["studentIds", "status"]
        },
        "DeclareHolidayRequest": {
            "type": "object",
            "properties": {
                "date": {"type": "string"},
                "name": {"type": "string"},
                "confirmed": {"type": "boolean"}
            },
            "required": ["date", "name"]
        },
        "HolidayImpactRequest": {
            "type": "object",
            "properties": {
                "date": {"type": "string"},
                "name": {"type": "string"}
            },
            "required": ["date"]
        },
        "ConsumeCreditsRequest": {
            "type": "object",
            "properties": {
                "amount": {"type": "integer"}
            },
            "required": ["amount"]
        },
        "ReportRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["daySummary", "reconciliation", "statement"]},
                "date": {"type": "string"},
                "studentId": {"type": "string"},
                "format": {"type": "string", "enum": ["csv", "pdf"]}
            },
            "required": ["type", "format"]
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
