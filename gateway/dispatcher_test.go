package gateway

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/tobilg/caddyserver-sqlgateway-module/database"
	"github.com/tobilg/caddyserver-sqlgateway-module/formats"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	registry, err := database.NewDefaultRegistry(database.Options{
		Logger:   zap.NewNop(),
		Backends: []string{database.BackendDuckDB, database.BackendSQLite},
	})
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	return New(registry, zap.NewNop())
}

func TestDispatch_SelectOne(t *testing.T) {
	d := newTestDispatcher(t)
	q := database.Query{Query: "SELECT 1 AS v", DB: "duckdb://"}

	tests := []struct {
		format formats.Format
		want   string
	}{
		{formats.FormatJSON, `[{"v":1}]`},
		{formats.FormatJSONLines, "{\"v\":1}\n"},
		{formats.FormatJSONColumns, `[[1]]`},
		{formats.FormatJSONColumnLines, "[\"v\"]\n[1]\n"},
	}
	for _, tt := range tests {
		out, contentType, err := d.Dispatch(context.Background(), q, tt.format)
		if err != nil {
			t.Fatalf("%s: Dispatch failed: %v", tt.format, err)
		}
		if string(out) != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.format, tt.want, out)
		}
		if contentType != "application/json" {
			t.Errorf("%s: expected application/json, got %s", tt.format, contentType)
		}

		var buf bytes.Buffer
		rows, err := d.DispatchTo(context.Background(), &buf, q, tt.format)
		if err != nil {
			t.Fatalf("%s: DispatchTo failed: %v", tt.format, err)
		}
		if rows != 1 {
			t.Errorf("%s: expected 1 row, got %d", tt.format, rows)
		}
		if buf.String() != tt.want {
			t.Errorf("%s: streaming output %q differs from buffered %q", tt.format, buf.String(), tt.want)
		}
	}
}

func TestDispatch_EmptyResult(t *testing.T) {
	d := newTestDispatcher(t)
	q := database.Query{Query: "SELECT 1 AS v WHERE 1 = 0", DB: "sqlite://"}

	out, _, err := d.Dispatch(context.Background(), q, formats.FormatJSONColumnLines)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if string(out) != "[]\n" {
		t.Errorf("Expected empty names header, got %q", out)
	}

	out, _, err = d.Dispatch(context.Background(), q, formats.FormatJSON)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if string(out) != "[]" {
		t.Errorf("Expected [], got %q", out)
	}
}

func TestDispatch_UnknownScheme(t *testing.T) {
	d := newTestDispatcher(t)

	_, _, err := d.Dispatch(context.Background(), database.Query{Query: "SELECT 1", DB: "oracle://scott@db/orcl"}, formats.FormatJSON)
	var dbErr *database.UnsupportedDatabaseError
	if !errors.As(err, &dbErr) {
		t.Fatalf("Expected UnsupportedDatabaseError, got %v", err)
	}
	if dbErr.Scheme != "oracle" {
		t.Errorf("Expected scheme 'oracle', got '%s'", dbErr.Scheme)
	}

	// Postgres is not registered in this dispatcher
	var buf bytes.Buffer
	_, err = d.DispatchTo(context.Background(), &buf, database.Query{Query: "SELECT 1", DB: "postgres://localhost/db"}, formats.FormatJSON)
	if database.KindOf(err) != database.KindUnsupportedDatabase {
		t.Errorf("Expected unsupported database, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no output, got %q", buf.String())
	}
}

func TestDispatchTo_ErrorBeforeFirstRowWritesNothing(t *testing.T) {
	d := newTestDispatcher(t)

	var buf bytes.Buffer
	_, err := d.DispatchTo(context.Background(), &buf, database.Query{Query: "SELECT DATE '2024-01-01' AS d", DB: "duckdb://"}, formats.FormatJSON)
	if database.KindOf(err) != database.KindUnsupportedType {
		t.Fatalf("Expected unsupported type, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no output, got %q", buf.String())
	}
}

func TestDispatch_DefaultRegistryRejectsEmbedded(t *testing.T) {
	registry, err := database.NewDefaultRegistry(database.Options{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	d := New(registry, zap.NewNop())

	path := filepath.Join(t.TempDir(), "created-by-client.db")
	for _, db := range []string{"sqlite://" + path, "duckdb://", "duckdb://" + path} {
		_, _, err := d.Dispatch(context.Background(), database.Query{Query: "CREATE TABLE t(x INTEGER)", DB: db}, formats.FormatJSON)
		if database.KindOf(err) != database.KindUnsupportedDatabase {
			t.Errorf("%s: expected unsupported database, got %v", db, err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected %s not to be created, stat returned %v", path, err)
	}
}
