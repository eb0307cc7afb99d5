package database

import (
	"context"
	"net/url"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/tobilg/caddyserver-sqlgateway-module/convert"
)

func init() {
	// Both drivers take ? placeholders
	sqlx.BindDriver("duckdb", sqlx.QUESTION)
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// NewDuckDBBackend creates the backend for duckdb:// URIs. The path after the
// scheme is the database file; an empty path or :memory: opens an in-memory
// database.
func NewDuckDBBackend(logger *zap.Logger) *SQLBackend {
	return newEmbeddedBackend(BackendDuckDB, "duckdb", convert.DialectDuckDB, logger)
}

// NewSQLiteBackend creates the backend for sqlite:// URIs, with the same path
// rules as DuckDB.
func NewSQLiteBackend(logger *zap.Logger) *SQLBackend {
	return newEmbeddedBackend(BackendSQLite, "sqlite", convert.DialectSQLite, logger)
}

func newEmbeddedBackend(name, driverName string, dialect convert.Dialect, logger *zap.Logger) *SQLBackend {
	open := func(ctx context.Context, uri string) (*Session, error) {
		dsn, err := embeddedDSN(uri)
		if err != nil {
			return nil, err
		}
		db, err := sqlx.Open(driverName, dsn)
		if err != nil {
			return nil, &ConnectionError{Err: err}
		}
		session, err := OpenSession(ctx, db)
		if err != nil {
			return nil, &ConnectionError{Err: err}
		}
		return session, nil
	}
	return NewSQLBackend(name, dialect, sqlx.BindType(driverName), open, logger)
}

// embeddedDSN turns scheme://path?params into a driver DSN. sslmode is
// validated and dropped since there is no transport to secure.
func embeddedDSN(uri string) (string, error) {
	_, rest, _ := strings.Cut(uri, "://")
	path, rawQuery, _ := strings.Cut(rest, "?")

	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", &InvalidArgumentError{Message: "invalid database URI parameters", Err: err}
	}
	if _, err := ParseSSLMode(params.Get("sslmode")); err != nil {
		return "", err
	}
	params.Del("sslmode")

	if path == "" {
		path = ":memory:"
	}
	if len(params) == 0 {
		return path, nil
	}
	return path + "?" + params.Encode(), nil
}
