package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/tobilg/caddyserver-sqlgateway-module/convert"
)

// Session is one checked-out database/sql connection together with the
// handle that owns it. Closing the session closes both.
type Session struct {
	DB   *sqlx.DB
	Conn *sqlx.Conn
}

// OpenSession limits db to a single connection and checks it out, which
// forces the physical connect to happen now.
func OpenSession(ctx context.Context, db *sqlx.DB) (*Session, error) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Connx(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Session{DB: db, Conn: conn}, nil
}

// Close releases the connection and closes the handle.
func (s *Session) Close() error {
	connErr := s.Conn.Close()
	dbErr := s.DB.Close()
	if connErr != nil {
		return connErr
	}
	return dbErr
}

// SessionFunc opens a session for a database URI.
type SessionFunc func(ctx context.Context, uri string) (*Session, error)

// SQLBackend executes queries over a database/sql driver through sqlx.
type SQLBackend struct {
	name     string
	dialect  convert.Dialect
	bindType int
	open     SessionFunc
	logger   *zap.Logger
}

// NewSQLBackend creates a backend around open. bindType is the sqlx bind
// type used to compile named arguments.
func NewSQLBackend(name string, dialect convert.Dialect, bindType int, open SessionFunc, logger *zap.Logger) *SQLBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLBackend{
		name:     name,
		dialect:  dialect,
		bindType: bindType,
		open:     open,
		logger:   logger,
	}
}

// Name implements Backend.
func (b *SQLBackend) Name() string {
	return b.name
}

// Stream implements Backend.
func (b *SQLBackend) Stream(ctx context.Context, q Query, fn RowFunc) error {
	if err := b.stream(ctx, q, fn); err != nil {
		return &QueryError{Backend: b.name, Err: err}
	}
	return nil
}

func (b *SQLBackend) stream(ctx context.Context, q Query, fn RowFunc) error {
	stmt, args, err := q.Bind(b.bindType)
	if err != nil {
		return err
	}

	session, err := b.open(ctx, q.DB)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			b.logger.Warn("Failed to close session", zap.Error(err))
		}
	}()

	rows, err := session.Conn.QueryxContext(ctx, stmt, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	var (
		columns []convert.Column
		names   []string
	)
	for rows.Next() {
		if columns == nil {
			columns, err = b.resolveColumns(rows)
			if err != nil {
				return err
			}
			names = convert.Names(columns)
		}

		values, err := rows.SliceScan()
		if err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		if err := convert.ConvertRow(columns, values); err != nil {
			return err
		}
		if err := fn(names, values); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

func (b *SQLBackend) resolveColumns(rows *sqlx.Rows) ([]convert.Column, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}
	columns := make([]convert.Column, len(types))
	for i, ct := range types {
		col, err := convert.SQLColumn(b.dialect, ct.Name(), ct.DatabaseTypeName())
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}
	return columns, nil
}
