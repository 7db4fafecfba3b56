package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "LMS API",
        "description": "Learning management backend: courses, enrollments, grades, exports",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login, tokens and password management"},
        {"name": "TwoFactor", "description": "TOTP enrollment for the current user"},
        {"name": "Users", "description": "User administration and data-subject requests"},
        {"name": "Courses", "description": "Course authoring lifecycle, methods and groups"},
        {"name": "Assignments", "description": "Gradable items and grade categories"},
        {"name": "Enrollments", "description": "Enrollment orchestration and request review"},
        {"name": "Submissions", "description": "Student submissions and grading"},
        {"name": "Grades", "description": "Grade aggregation"},
        {"name": "Exports", "description": "Async file exports with signed downloads"},
        {"name": "Audit", "description": "Audit trail"},
        {"name": "Metrics", "description": "Operational counters"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized"}
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
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Logout current session",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/auth/change-password": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Change password",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Get current user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/2fa": {
            "get": {
                "tags": ["TwoFactor"],
                "summary": "Two-factor status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["TwoFactor"],
                "summary": "Disable two-factor",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/auth/2fa/setup": {
            "post": {
                "tags": ["TwoFactor"],
                "summary": "Begin two-factor setup",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/2fa/confirm": {
            "post": {
                "tags": ["TwoFactor"],
                "summary": "Confirm two-factor setup",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users": {
            "get": {
                "tags": ["Users"],
                "summary": "List users",
                "parameters": [
                    {"name": "role", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Users"],
                "summary": "Create user",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{id}": {
            "get": {
                "tags": ["Users"],
                "summary": "Get user",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Users"],
                "summary": "Update user",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Users"],
                "summary": "Erase account",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/users/{id}/export": {
            "get": {
                "tags": ["Users"],
                "summary": "Export account data",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses": {
            "get": {
                "tags": ["Courses"],
                "summary": "List courses",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Courses"],
                "summary": "Create draft course",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{id}": {
            "get": {
                "tags": ["Courses"],
                "summary": "Get course",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Courses"],
                "summary": "Update course",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{id}/submit": {
            "post": {
                "tags": ["Courses"],
                "summary": "Submit course for approval",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/courses/{id}/approve": {
            "post": {
                "tags": ["Courses"],
                "summary": "Approve pending course",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/courses/{id}/reject": {
            "post": {
                "tags": ["Courses"],
                "summary": "Reject pending course",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/courses/{id}/publish": {
            "post": {
                "tags": ["Courses"],
                "summary": "Publish approved course",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/courses/{id}/archive": {
            "post": {
                "tags": ["Courses"],
                "summary": "Archive course",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/courses/{id}/methods": {
            "get": {
                "tags": ["Courses"],
                "summary": "List enrollment methods",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Courses"],
                "summary": "Add enrollment method",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{id}/methods/{methodId}": {
            "delete": {
                "tags": ["Courses"],
                "summary": "Remove enrollment method",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "methodId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/courses/{id}/groups": {
            "get": {
                "tags": ["Courses"],
                "summary": "List course groups",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Courses"],
                "summary": "Create course group",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{id}/repair-counters": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Recompute denormalized counters",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/courses/{id}/assignments": {
            "get": {
                "tags": ["Assignments"],
                "summary": "List assignments",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Assignments"],
                "summary": "Create assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{id}/categories": {
            "get": {
                "tags": ["Assignments"],
                "summary": "List grade categories",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Assignments"],
                "summary": "Create grade category",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/{id}": {
            "get": {
                "tags": ["Assignments"],
                "summary": "Get assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Assignments"],
                "summary": "Update assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Assignments"],
                "summary": "Delete assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/courses/{id}/gradebook": {
            "get": {
                "tags": ["Grades"],
                "summary": "Course gradebook",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{id}/grades/{studentId}": {
            "get": {
                "tags": ["Grades"],
                "summary": "Student grade summary",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "studentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List enrollments",
                "parameters": [
                    {"name": "course_id", "in": "query", "type": "string"},
                    {"name": "user_id", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Enrollments"],
                "summary": "Enroll into a course",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/manual": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Enroll a user manually",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/bulk": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Enroll many users",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}": {
            "delete": {
                "tags": ["Enrollments"],
                "summary": "Remove enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/enrollment-requests": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List enrollment requests",
                "parameters": [
                    {"name": "course_id", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollment-requests/{id}": {
            "delete": {
                "tags": ["Enrollments"],
                "summary": "Cancel own enrollment request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/enrollment-requests/{id}/approve": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Approve enrollment request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollment-requests/{id}/reject": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Reject enrollment request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/submissions": {
            "get": {
                "tags": ["Submissions"],
                "summary": "List submissions",
                "parameters": [
                    {"name": "assignment_id", "in": "query", "type": "string"},
                    {"name": "student_id", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Submissions"],
                "summary": "Submit work",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/submissions/{id}/grade": {
            "post": {
                "tags": ["Submissions"],
                "summary": "Grade submission",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/submissions/{id}/return": {
            "post": {
                "tags": ["Submissions"],
                "summary": "Return graded submission",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Precondition Failed"}
                }
            }
        },
        "/assignments/{id}/submissions/latest": {
            "get": {
                "tags": ["Submissions"],
                "summary": "Latest graded attempt on an assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "student_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/exports": {
            "post": {
                "tags": ["Exports"],
                "summary": "Request an export",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/{id}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Get export job",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/download": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download export file",
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "401": {"description": "Unauthorized"}
                }
            }
        },
        "/audit-logs": {
            "get": {
                "tags": ["Audit"],
                "summary": "List audit entries",
                "parameters": [
                    {"name": "user_id", "in": "query", "type": "string"},
                    {"name": "action", "in": "query", "type": "string"},
                    {"name": "resource", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Metrics"],
                "summary": "System metrics snapshot",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "otp_code": {"type": "string"}
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
