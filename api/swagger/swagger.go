package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Tutor Scheduling API",
        "description": "Availability resolution, booking, credits and vacations for tutors",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Availability",
            "description": "Teacher rules, exceptions and resolved slots"
        },
        {
            "name": "Classes",
            "description": "Booking and class lifecycle"
        },
        {
            "name": "Credits",
            "description": "Student credit ledger"
        },
        {
            "name": "Vacations",
            "description": "Teacher vacation blocks"
        },
        {
            "name": "Metrics",
            "description": "Operational counters"
        }
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {
                        "description": "Ready"
                    },
                    "503": {
                        "description": "Dependency unavailable",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/metrics": {
            "get": {
                "summary": "Prometheus metrics",
                "produces": [
                    "text/plain"
                ],
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": [
                    "Metrics"
                ],
                "summary": "Scheduling counters snapshot",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/teachers/{teacherId}/availability": {
            "get": {
                "tags": [
                    "Availability"
                ],
                "summary": "Resolve teacher availability",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "teacherId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "from",
                        "in": "query",
                        "required": true,
                        "type": "string",
                        "format": "date"
                    },
                    {
                        "name": "to",
                        "in": "query",
                        "required": true,
                        "type": "string",
                        "format": "date"
                    },
                    {
                        "name": "include_excepted",
                        "in": "query",
                        "type": "boolean"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Invalid window",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/teachers/{teacherId}/availability/export": {
            "get": {
                "tags": [
                    "Availability"
                ],
                "summary": "Export teacher calendar",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "teacherId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "from",
                        "in": "query",
                        "required": true,
                        "type": "string",
                        "format": "date"
                    },
                    {
                        "name": "to",
                        "in": "query",
                        "required": true,
                        "type": "string",
                        "format": "date"
                    },
                    {
                        "name": "format",
                        "in": "query",
                        "type": "string",
                        "enum": [
                            "csv",
                            "pdf"
                        ]
                    }
                ],
                "produces": [
                    "text/csv",
                    "application/pdf"
                ],
                "responses": {
                    "200": {
                        "description": "File"
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/teachers/{teacherId}/availability/rules": {
            "post": {
                "tags": [
                    "Availability"
                ],
                "summary": "Create an availability rule",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "teacherId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateAvailabilityRuleRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/availability/rules/{ruleId}": {
            "delete": {
                "tags": [
                    "Availability"
                ],
                "summary": "Delete an availability rule",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "ruleId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/availability/rules/{ruleId}/exceptions": {
            "post": {
                "tags": [
                    "Availability"
                ],
                "summary": "Exclude one occurrence",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "ruleId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/AvailabilityExceptionRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/availability/rules/{ruleId}/exceptions/{date}": {
            "delete": {
                "tags": [
                    "Availability"
                ],
                "summary": "Restore one occurrence",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "ruleId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "date",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes": {
            "post": {
                "tags": [
                    "Classes"
                ],
                "summary": "Book a class",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/BookClassRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "402": {
                        "description": "Insufficient credit",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Slot unavailable",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "422": {
                        "description": "Policy violation",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/with-credit": {
            "post": {
                "tags": [
                    "Classes"
                ],
                "summary": "Create a class funded by a credit (staff)",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateClassWithCreditRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/overdue-sweep": {
            "post": {
                "tags": [
                    "Classes"
                ],
                "summary": "Run the overdue sweep now (staff)",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/{id}/reschedule": {
            "post": {
                "tags": [
                    "Classes"
                ],
                "summary": "Reschedule a class",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/RescheduleClassRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Slot unavailable",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/{id}/cancel": {
            "post": {
                "tags": [
                    "Classes"
                ],
                "summary": "Cancel own class (student)",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": false,
                        "schema": {
                            "$ref": "#/definitions/CancelClassRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/{id}/teacher-cancel": {
            "post": {
                "tags": [
                    "Classes"
                ],
                "summary": "Cancel a class (teacher)",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": false,
                        "schema": {
                            "$ref": "#/definitions/CancelClassRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/{id}/convert-to-slot": {
            "post": {
                "tags": [
                    "Classes"
                ],
                "summary": "Re-offer the time of a canceled class",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/{id}/complete": {
            "post": {
                "tags": [
                    "Classes"
                ],
                "summary": "Mark a class completed",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": false,
                        "schema": {
                            "$ref": "#/definitions/CompleteClassRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/{id}/no-show": {
            "post": {
                "tags": [
                    "Classes"
                ],
                "summary": "Mark a class as student no-show",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/students/{studentId}/credits": {
            "get": {
                "tags": [
                    "Credits"
                ],
                "summary": "Get student credits",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/students/{studentId}/credits/regular": {
            "post": {
                "tags": [
                    "Credits"
                ],
                "summary": "Grant a typed credit",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/GrantRegularCreditRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/students/{studentId}/credits/class": {
            "post": {
                "tags": [
                    "Credits"
                ],
                "summary": "Add class credits after payment",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/AddClassCreditsRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/teachers/{teacherId}/vacations": {
            "post": {
                "tags": [
                    "Vacations"
                ],
                "summary": "Request a vacation",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "teacherId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/RequestVacationRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Overlapping vacation",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "422": {
                        "description": "Allowance exhausted",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/vacations/{id}": {
            "delete": {
                "tags": [
                    "Vacations"
                ],
                "summary": "Delete a vacation and restore its classes",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "RepeatingRequest": {
            "type": "object",
            "required": [
                "cadence"
            ],
            "properties": {
                "cadence": {
                    "type": "string",
                    "enum": [
                        "weekly",
                        "bi-weekly",
                        "monthly"
                    ]
                },
                "interval": {
                    "type": "integer"
                },
                "endDate": {
                    "type": "string",
                    "format": "date"
                }
            }
        },
        "CreateAvailabilityRuleRequest": {
            "type": "object",
            "required": [
                "kind",
                "startDate",
                "startTime",
                "endTime"
            ],
            "properties": {
                "kind": {
                    "type": "string",
                    "enum": [
                        "regular",
                        "occasional",
                        "makeup"
                    ]
                },
                "startDate": {
                    "type": "string",
                    "format": "date"
                },
                "startTime": {
                    "type": "string",
                    "example": "09:00"
                },
                "endTime": {
                    "type": "string",
                    "example": "10:00"
                },
                "title": {
                    "type": "string"
                },
                "color": {
                    "type": "string"
                },
                "label": {
                    "type": "string"
                },
                "repeating": {
                    "$ref": "#/definitions/RepeatingRequest"
                }
            }
        },
        "AvailabilityExceptionRequest": {
            "type": "object",
            "required": [
                "date"
            ],
            "properties": {
                "date": {
                    "type": "string",
                    "format": "date"
                }
            }
        },
        "BookClassRequest": {
            "type": "object",
            "required": [
                "studentId",
                "teacherId",
                "startAt",
                "durationMinutes"
            ],
            "properties": {
                "studentId": {
                    "type": "string"
                },
                "teacherId": {
                    "type": "string"
                },
                "startAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "durationMinutes": {
                    "type": "integer"
                },
                "topic": {
                    "type": "string"
                },
                "creditSource": {
                    "type": "string",
                    "enum": [
                        "none",
                        "class_credits",
                        "regular_credit"
                    ]
                },
                "creditType": {
                    "type": "string",
                    "enum": [
                        "bonus",
                        "late-students"
                    ]
                }
            }
        },
        "CreateClassWithCreditRequest": {
            "type": "object",
            "required": [
                "studentId",
                "teacherId",
                "startAt",
                "durationMinutes",
                "creditSource"
            ],
            "properties": {
                "studentId": {
                    "type": "string"
                },
                "teacherId": {
                    "type": "string"
                },
                "startAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "durationMinutes": {
                    "type": "integer"
                },
                "topic": {
                    "type": "string"
                },
                "creditSource": {
                    "type": "string",
                    "enum": [
                        "class_credits",
                        "regular_credit"
                    ]
                },
                "creditType": {
                    "type": "string",
                    "enum": [
                        "bonus",
                        "late-students"
                    ]
                }
            }
        },
        "RescheduleClassRequest": {
            "type": "object",
            "required": [
                "newStartAt"
            ],
            "properties": {
                "newStartAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "reason": {
                    "type": "string"
                }
            }
        },
        "CancelClassRequest": {
            "type": "object",
            "properties": {
                "reason": {
                    "type": "string"
                }
            }
        },
        "CompleteClassRequest": {
            "type": "object",
            "properties": {
                "feedback": {
                    "type": "string"
                },
                "notes": {
                    "type": "string"
                }
            }
        },
        "GrantRegularCreditRequest": {
            "type": "object",
            "required": [
                "type",
                "amount",
                "expiresAt"
            ],
            "properties": {
                "type": {
                    "type": "string",
                    "enum": [
                        "bonus",
                        "late-students"
                    ]
                },
                "amount": {
                    "type": "integer"
                },
                "expiresAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "reason": {
                    "type": "string"
                }
            }
        },
        "AddClassCreditsRequest": {
            "type": "object",
            "required": [
                "amount"
            ],
            "properties": {
                "amount": {
                    "type": "integer"
                },
                "reference": {
                    "type": "string"
                }
            }
        },
        "RequestVacationRequest": {
            "type": "object",
            "required": [
                "startDate",
                "endDate"
            ],
            "properties": {
                "startDate": {
                    "type": "string",
                    "format": "date"
                },
                "endDate": {
                    "type": "string",
                    "format": "date"
                }
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {
                    "type": "integer"
                },
                "page_size": {
                    "type": "integer"
                },
                "total_count": {
                    "type": "integer"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "pagination": {
                    "$ref": "#/definitions/Pagination"
                },
                "meta": {
                    "type": "object"
                }
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
