package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/tobilg/caddyserver-sqlgateway-module/formats"
)

// OpenAPIHandler serves the OpenAPI specification.
type OpenAPIHandler struct {
	basePath      string
	schemes       []string
	defaultFormat formats.Format
}

// NewOpenAPIHandler creates a new OpenAPI handler. schemes lists the
// database URI schemes the gateway accepts.
func NewOpenAPIHandler(basePath string, schemes []string, defaultFormat formats.Format) *OpenAPIHandler {
	return &OpenAPIHandler{
		basePath:      basePath,
		schemes:       schemes,
		defaultFormat: defaultFormat,
	}
}

// ServeHTTP handles HTTP requests for the OpenAPI specification.
func (h *OpenAPIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		SendError(w, "Only GET method is allowed for OpenAPI specification", http.StatusMethodNotAllowed)
		return
	}

	spec := h.generateOpenAPISpec()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(spec)
}

// generateOpenAPISpec generates the OpenAPI 3.0 specification.
func (h *OpenAPIHandler) generateOpenAPISpec() map[string]interface{} {
	serverURL := h.basePath
	if serverURL == "" {
		serverURL = "/"
	}
	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "SQL Gateway API",
			"description": "Runs ad-hoc SQL against PostgreSQL, MySQL, DuckDB and SQLite databases and returns the result as JSON.",
			"version":     "1.0.0",
			"contact": map[string]interface{}{
				"name": "GitHub Repository",
				"url":  "https://github.com/tobilg/caddyserver-sqlgateway-module",
			},
			"license": map[string]interface{}{
				"name": "MIT",
				"url":  "https://opensource.org/licenses/MIT",
			},
		},
		"servers": []map[string]interface{}{
			{
				"url":         serverURL,
				"description": "SQL gateway base path",
			},
		},
		"tags": []map[string]interface{}{
			{
				"name":        "Query",
				"description": "SQL query execution",
			},
			{
				"name":        "Health",
				"description": "Liveness probe",
			},
			{
				"name":        "OpenAPI",
				"description": "API documentation",
			},
		},
		"paths":      h.generatePaths(),
		"components": h.generateComponents(),
	}
}

// generatePaths generates the paths section of the OpenAPI spec.
func (h *OpenAPIHandler) generatePaths() map[string]interface{} {
	return map[string]interface{}{
		"/openapi.json": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"OpenAPI"},
				"summary":     "Get OpenAPI specification",
				"description": "Returns the OpenAPI 3.0 specification for this API",
				"operationId": "getOpenAPISpec",
				"responses": map[string]interface{}{
					"200": jsonResponse("OpenAPI specification", map[string]interface{}{"type": "object"}),
				},
			},
		},
		"/health": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"Health"},
				"summary":     "Health check",
				"operationId": "getHealth",
				"responses": map[string]interface{}{
					"200": jsonResponse("Gateway is up", map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"status": map[string]interface{}{"type": "string", "example": "ok"},
						},
					}),
				},
			},
		},
		"/query": map[string]interface{}{
			"get":  h.generateQueryGetOperation(),
			"post": h.generateQueryPostOperation(),
		},
	}
}

func jsonResponse(description string, schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": schema,
			},
		},
	}
}

func errorResponse(description string) map[string]interface{} {
	return jsonResponse(description, map[string]interface{}{
		"$ref": "#/components/schemas/ErrorResponse",
	})
}

// queryResponses are shared by both query operations.
func (h *OpenAPIHandler) queryResponses() map[string]interface{} {
	return map[string]interface{}{
		"200": jsonResponse(
			"Encoded result set. The body shape depends on the format: json is an array of row objects, json-lines one object per line, json-columns an array of value arrays, json-column-lines the column names followed by one value array per line.",
			map[string]interface{}{"$ref": "#/components/schemas/QueryResult"},
		),
		"400": errorResponse("Invalid request, unsupported database scheme or sslmode, or an error reported by the database"),
		"405": errorResponse("Method not allowed"),
		"422": errorResponse("The result contains a column type that cannot be converted to JSON"),
		"500": errorResponse("Internal error"),
		"502": errorResponse("The database could not be reached or rejected the connection"),
	}
}

// generateQueryPostOperation generates the POST /query operation spec.
func (h *OpenAPIHandler) generateQueryPostOperation() map[string]interface{} {
	return map[string]interface{}{
		"tags":        []string{"Query"},
		"summary":     "Execute SQL query",
		"description": "Executes a SQL query against the database named by the db URI, with optional positional or named arguments.",
		"operationId": "executeQuery",
		"parameters": []map[string]interface{}{
			h.formatParameter(),
		},
		"requestBody": map[string]interface{}{
			"required":    true,
			"description": "SQL query, database URI and optional arguments",
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]interface{}{
						"$ref": "#/components/schemas/QueryRequest",
					},
				},
			},
		},
		"responses": h.queryResponses(),
	}
}

// generateQueryGetOperation generates the GET /query operation spec.
func (h *OpenAPIHandler) generateQueryGetOperation() map[string]interface{} {
	return map[string]interface{}{
		"tags":        []string{"Query"},
		"summary":     "Execute SQL query via URL",
		"description": "Executes a SQL query passed in the query string. Useful for bookmarkable queries and data exports.",
		"operationId": "executeQueryGet",
		"parameters": []map[string]interface{}{
			{
				"name":        "query",
				"in":          "query",
				"required":    true,
				"description": "SQL statement",
				"schema":      map[string]interface{}{"type": "string"},
			},
			{
				"name":        "db",
				"in":          "query",
				"required":    true,
				"description": "Database URI",
				"schema":      map[string]interface{}{"type": "string"},
			},
			{
				"name":        "args",
				"in":          "query",
				"required":    false,
				"description": "Positional arguments as JSON array text",
				"schema":      map[string]interface{}{"type": "string"},
				"example":     `[18, "active"]`,
			},
			{
				"name":        "kw_args",
				"in":          "query",
				"required":    false,
				"description": "Named arguments as JSON object text",
				"schema":      map[string]interface{}{"type": "string"},
				"example":     `{"min_age": 18}`,
			},
			h.formatParameter(),
		},
		"responses": h.queryResponses(),
	}
}

func (h *OpenAPIHandler) formatParameter() map[string]interface{} {
	return map[string]interface{}{
		"name":        "format",
		"in":          "query",
		"required":    false,
		"description": "Output format. Snake_case spellings are accepted too.",
		"schema": map[string]interface{}{
			"type":    "string",
			"enum":    formats.FormatNames(),
			"default": h.defaultFormat.String(),
		},
	}
}

// generateComponents generates the components section of the OpenAPI spec.
func (h *OpenAPIHandler) generateComponents() map[string]interface{} {
	jsonValue := map[string]interface{}{
		"nullable":    true,
		"description": "Any JSON value",
	}
	return map[string]interface{}{
		"schemas": map[string]interface{}{
			"ErrorResponse": map[string]interface{}{
				"type":     "object",
				"required": []string{"error", "code"},
				"properties": map[string]interface{}{
					"error": map[string]interface{}{
						"type":        "string",
						"description": "HTTP status text",
						"example":     "Bad Request",
					},
					"message": map[string]interface{}{
						"type":        "string",
						"description": "Detailed error message",
						"example":     "unsupported sslmode 'sometimes'",
					},
					"code": map[string]interface{}{
						"type":        "integer",
						"description": "HTTP status code",
						"example":     400,
					},
				},
			},
			"QueryRequest": map[string]interface{}{
				"type":     "object",
				"required": []string{"query", "db"},
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "SQL statement",
						"example":     "SELECT id, name FROM users WHERE age > :min_age",
					},
					"db": map[string]interface{}{
						"type":        "string",
						"description": "Database URI. The scheme selects the backend, the sslmode parameter the transport security.",
						"example":     "postgres://reader@db.internal:5432/app?sslmode=verify-full",
						"x-schemes":   h.schemes,
					},
					"args": map[string]interface{}{
						"type":        "array",
						"description": "Positional arguments ($1.. for PostgreSQL, ? elsewhere). Cannot be combined with kw_args.",
						"items":       jsonValue,
					},
					"kw_args": map[string]interface{}{
						"type":                 "object",
						"description":          "Named arguments bound to :name placeholders. Cannot be combined with args.",
						"additionalProperties": jsonValue,
					},
					"format": map[string]interface{}{
						"type": "string",
						"enum": formats.FormatNames(),
					},
				},
			},
			"QueryResult": map[string]interface{}{
				"oneOf": []map[string]interface{}{
					{
						"type":  "array",
						"items": map[string]interface{}{"type": "object", "additionalProperties": true},
					},
					{
						"type":  "array",
						"items": map[string]interface{}{"type": "array", "items": jsonValue},
					},
				},
			},
		},
		"headers": map[string]interface{}{
			"X-Request-ID": map[string]interface{}{
				"description": "Unique request identifier for tracing. If provided in request, will be echoed back. Otherwise, a UUID is generated.",
				"schema": map[string]interface{}{
					"type": "string",
				},
			},
		},
	}
}
