package handlers

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/tobilg/caddyserver-sqlgateway-module/database"
	"github.com/tobilg/caddyserver-sqlgateway-module/formats"
	"github.com/tobilg/caddyserver-sqlgateway-module/gateway"
)

// setupQueryHandler creates a QueryHandler over the embedded backends and a
// SQLite file with test data. It returns the handler and the database URI.
func setupQueryHandler(t *testing.T) (*QueryHandler, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE test_query (
			id INTEGER PRIMARY KEY,
			name VARCHAR(32),
			value DOUBLE
		);
		INSERT INTO test_query VALUES
			(1, 'Alice', 100.5),
			(2, 'Bob', 200.75),
			(3, 'Charlie', 300.25);
	`)
	if err != nil {
		t.Fatalf("Failed to create test data: %v", err)
	}

	registry, err := database.NewDefaultRegistry(database.Options{
		Logger:   zap.NewNop(),
		Backends: []string{database.BackendDuckDB, database.BackendSQLite},
	})
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	handler := NewQueryHandler(gateway.New(registry, zap.NewNop()), formats.FormatJSON, zap.NewNop())
	return handler, "sqlite://" + path
}

func postQuery(t *testing.T, handler http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to encode body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/sql/query", strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(SetRequestID(req.Context(), "test-request-id"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse error response %q: %v", rec.Body.String(), err)
	}
	if resp.Code != rec.Code {
		t.Errorf("Expected code %d in body, got %d", rec.Code, resp.Code)
	}
	if resp.Error != http.StatusText(rec.Code) {
		t.Errorf("Expected error '%s', got '%s'", http.StatusText(rec.Code), resp.Error)
	}
	return resp
}

func TestQueryHandler_POST_SelectQuery(t *testing.T) {
	handler, db := setupQueryHandler(t)

	rec := postQuery(t, handler, map[string]any{
		"query": "SELECT id, name FROM test_query ORDER BY id",
		"db":    db,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", ct)
	}
	want := `[{"id":1,"name":"Alice"},{"id":2,"name":"Bob"},{"id":3,"name":"Charlie"}]`
	if rec.Body.String() != want {
		t.Errorf("Unexpected body:\n got: %s\nwant: %s", rec.Body.String(), want)
	}
}

func TestQueryHandler_POST_SelectWithArgs(t *testing.T) {
	handler, db := setupQueryHandler(t)

	rec := postQuery(t, handler, map[string]any{
		"query": "SELECT name FROM test_query WHERE value > ? ORDER BY id",
		"args":  []any{150},
		"db":    db,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `[{"name":"Bob"},{"name":"Charlie"}]` {
		t.Errorf("Unexpected body: %s", rec.Body.String())
	}
}

func TestQueryHandler_POST_SelectWithKwArgs(t *testing.T) {
	handler, db := setupQueryHandler(t)

	rec := postQuery(t, handler, map[string]any{
		"query":   "SELECT id FROM test_query WHERE name = :name OR id = :id ORDER BY id",
		"kw_args": map[string]any{"name": "Alice", "id": 3},
		"db":      db,
		"format":  "json-columns",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `[[1],[3]]` {
		t.Errorf("Unexpected body: %s", rec.Body.String())
	}
}

func TestQueryHandler_Formats(t *testing.T) {
	handler, _ := setupQueryHandler(t)

	tests := []struct {
		format string
		want   string
	}{
		{"json", `[{"v":1}]`},
		{"json-lines", "{\"v\":1}\n"},
		{"json_columns", `[[1]]`},
		{"json-column-lines", "[\"v\"]\n[1]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			rec := postQuery(t, handler, map[string]any{
				"query":  "SELECT 1 AS v",
				"db":     "duckdb://",
				"format": tt.format,
			})
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if rec.Body.String() != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, rec.Body.String())
			}
		})
	}
}

func TestQueryHandler_GET_SelectQuery(t *testing.T) {
	handler, db := setupQueryHandler(t)

	values := url.Values{}
	values.Set("query", "SELECT name FROM test_query WHERE id = :id")
	values.Set("kw_args", `{"id": 2}`)
	values.Set("db", db)
	values.Set("format", "json_lines")

	req := httptest.NewRequest(http.MethodGet, "/sql/query?"+values.Encode(), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "{\"name\":\"Bob\"}\n" {
		t.Errorf("Unexpected body: %q", rec.Body.String())
	}
}

func TestQueryHandler_AcceptHeader_NDJSON(t *testing.T) {
	handler, db := setupQueryHandler(t)

	values := url.Values{}
	values.Set("query", "SELECT id FROM test_query ORDER BY id LIMIT 2")
	values.Set("db", db)
	req := httptest.NewRequest(http.MethodGet, "/sql/query?"+values.Encode(), nil)
	req.Header.Set("Accept", "application/x-ndjson")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Body.String() != "{\"id\":1}\n{\"id\":2}\n" {
		t.Errorf("Unexpected body: %q", rec.Body.String())
	}
}

func TestQueryHandler_EmptyResult(t *testing.T) {
	handler, db := setupQueryHandler(t)

	rec := postQuery(t, handler, map[string]any{
		"query": "SELECT id FROM test_query WHERE id < 0",
		"db":    db,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "[]" {
		t.Errorf("Expected [], got %q", rec.Body.String())
	}
}

func TestQueryHandler_Errors(t *testing.T) {
	handler, db := setupQueryHandler(t)

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"missing query", map[string]any{"db": db}, http.StatusBadRequest},
		{"missing db", map[string]any{"query": "SELECT 1"}, http.StatusBadRequest},
		{"unknown scheme", map[string]any{"query": "SELECT 1", "db": "oracle://h/db"}, http.StatusBadRequest},
		{"unknown format", map[string]any{"query": "SELECT 1", "db": db, "format": "csv"}, http.StatusBadRequest},
		{"unknown sslmode", map[string]any{"query": "SELECT 1", "db": db + "?sslmode=sometimes"}, http.StatusBadRequest},
		{"args and kw_args", map[string]any{"query": "SELECT ?", "db": db, "args": []any{1}, "kw_args": map[string]any{"a": 1}}, http.StatusBadRequest},
		{"statement error", map[string]any{"query": "SELECT * FROM missing_table", "db": db}, http.StatusBadRequest},
		{"unsupported type", map[string]any{"query": "SELECT DATE '2024-01-01' AS d", "db": "duckdb://"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postQuery(t, handler, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			resp := decodeError(t, rec)
			if resp.Message == "" {
				t.Error("Expected error message")
			}
		})
	}
}

func TestQueryHandler_FailureAfterOutputAbortsResponse(t *testing.T) {
	handler, db := setupQueryHandler(t)

	// Rows 1 and 2 encode; row 3 holds a BLOB and fails conversion
	body, err := json.Marshal(map[string]any{
		"query":  "SELECT CASE WHEN id = 3 THEN x'00' ELSE id END AS v FROM test_query ORDER BY id",
		"db":     db,
		"format": "json-lines",
	})
	if err != nil {
		t.Fatalf("Failed to encode body: %v", err)
	}

	t.Run("handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sql/query", strings.NewReader(string(body)))
		rec := httptest.NewRecorder()
		defer func() {
			if r := recover(); r != http.ErrAbortHandler {
				t.Fatalf("Expected panic with http.ErrAbortHandler, got %v", r)
			}
			if !strings.HasPrefix(rec.Body.String(), "{\"v\":1}\n") {
				t.Errorf("Expected the first row before the abort, got %q", rec.Body.String())
			}
		}()
		handler.ServeHTTP(rec, req)
	})

	t.Run("client", func(t *testing.T) {
		server := httptest.NewServer(handler)
		defer server.Close()

		resp, err := http.Post(server.URL+"/sql/query", "application/json", strings.NewReader(string(body)))
		if err != nil {
			// Connection dropped before the status line was flushed
			return
		}
		defer resp.Body.Close()

		got, err := io.ReadAll(resp.Body)
		if err == nil {
			t.Fatalf("Expected an incomplete response, got status %d with body %q", resp.StatusCode, got)
		}
	})
}

func TestQueryHandler_POST_InvalidJSON(t *testing.T) {
	handler, _ := setupQueryHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/sql/query", strings.NewReader(`{"query": `))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
	decodeError(t, rec)
}

func TestQueryHandler_MethodNotAllowed(t *testing.T) {
	handler, _ := setupQueryHandler(t)

	for _, method := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch} {
		req := httptest.NewRequest(method, "/sql/query", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected status 405 for %s, got %d", method, rec.Code)
		}
		if allow := rec.Header().Get("Allow"); allow != "GET, POST" {
			t.Errorf("Expected Allow header 'GET, POST', got '%s'", allow)
		}
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&database.UnsupportedDatabaseError{Scheme: "x"}, http.StatusBadRequest},
		{&database.UnsupportedSSLModeError{Mode: "x"}, http.StatusBadRequest},
		{&database.InvalidArgumentError{Message: "bad"}, http.StatusBadRequest},
		{&database.QueryError{Backend: "postgres", Err: &database.ConnectionError{Err: http.ErrServerClosed}}, http.StatusBadGateway},
		{http.ErrHandlerTimeout, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusForError(tt.err); got != tt.want {
			t.Errorf("StatusForError(%v): expected %d, got %d", tt.err, tt.want, got)
		}
	}
}
