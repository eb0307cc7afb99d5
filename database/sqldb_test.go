package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tobilg/caddyserver-sqlgateway-module/convert"
)

func newMockBackend(t *testing.T) (*SQLBackend, sqlmock.Sqlmock, *int) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	opened := 0
	open := func(ctx context.Context, uri string) (*Session, error) {
		opened++
		return OpenSession(ctx, sqlx.NewDb(db, "sqlmock"))
	}
	return NewSQLBackend(BackendMySQL, convert.DialectMySQL, sqlx.QUESTION, open, zap.NewNop()), mock, &opened
}

func TestSQLBackend_Stream(t *testing.T) {
	backend, mock, opened := newMockBackend(t)

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
		sqlmock.NewColumn("name").OfType("VARCHAR", ""),
		sqlmock.NewColumn("meta").OfType("JSON", []byte(nil)),
	).
		AddRow(int64(1), []byte("alice"), []byte(`{"admin":true}`)).
		AddRow(int64(2), nil, nil)
	mock.ExpectQuery("SELECT id, name, meta FROM users WHERE id > ?").WithArgs(int64(0)).WillReturnRows(rows)
	mock.ExpectClose()

	objects, err := ExecuteRowObjects(context.Background(), backend, Query{
		Query:  "SELECT id, name, meta FROM users WHERE id > :min",
		KwArgs: map[string]any{"min": 0},
		DB:     "mysql://localhost/app",
	})
	require.NoError(t, err)
	require.Len(t, objects, 2)

	b, err := objects[0].MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"alice","meta":{"admin":true}}`, string(b))
	assert.Equal(t, []string{"id", "name", "meta"}, objects[1].Keys)
	assert.Equal(t, []any{int64(2), nil, nil}, objects[1].Values)

	assert.Equal(t, 1, *opened)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_EmptyResult(t *testing.T) {
	backend, mock, _ := newMockBackend(t)

	rows := sqlmock.NewRowsWithColumnDefinition(sqlmock.NewColumn("shape").OfType("GEOMETRY", []byte(nil)))
	mock.ExpectQuery("SELECT shape FROM t").WillReturnRows(rows)
	mock.ExpectClose()

	names, values, err := ExecuteColumnArrays(context.Background(), backend, Query{Query: "SELECT shape FROM t", DB: "mysql://h/db"})
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.NotNil(t, names)
	assert.Empty(t, values)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_UnsupportedTypeClosesSession(t *testing.T) {
	backend, mock, _ := newMockBackend(t)

	rows := sqlmock.NewRowsWithColumnDefinition(sqlmock.NewColumn("shape").OfType("GEOMETRY", []byte(nil))).
		AddRow([]byte{0x01})
	mock.ExpectQuery("SELECT shape FROM t").WillReturnRows(rows)
	mock.ExpectClose()

	_, err := ExecuteRowObjects(context.Background(), backend, Query{Query: "SELECT shape FROM t", DB: "mysql://h/db"})
	require.Error(t, err)

	var typeErr *convert.UnsupportedTypeError
	require.True(t, errors.As(err, &typeErr))
	assert.Equal(t, "shape", typeErr.Column)
	assert.Equal(t, KindUnsupportedType, KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_StatementError(t *testing.T) {
	backend, mock, _ := newMockBackend(t)

	mock.ExpectQuery("SELEC 1").WillReturnError(&mysql.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax"})
	mock.ExpectClose()

	_, err := ExecuteRowObjects(context.Background(), backend, Query{Query: "SELEC 1", DB: "mysql://h/db"})
	require.Error(t, err)

	var queryErr *QueryError
	require.True(t, errors.As(err, &queryErr))
	assert.Equal(t, BackendMySQL, queryErr.Backend)
	assert.Equal(t, KindStatement, KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_RowFuncErrorStopsStream(t *testing.T) {
	backend, mock, _ := newMockBackend(t)

	rows := sqlmock.NewRowsWithColumnDefinition(sqlmock.NewColumn("v").OfType("INT", int64(0))).
		AddRow(int64(1)).
		AddRow(int64(2))
	mock.ExpectQuery("SELECT v FROM t").WillReturnRows(rows)
	mock.ExpectClose()

	stop := errors.New("client went away")
	calls := 0
	err := backend.Stream(context.Background(), Query{Query: "SELECT v FROM t", DB: "mysql://h/db"}, func(names []string, values []any) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_BindErrorDoesNotConnect(t *testing.T) {
	backend, _, opened := newMockBackend(t)

	_, err := ExecuteRowObjects(context.Background(), backend, Query{
		Query:  "SELECT :a",
		Args:   []any{1},
		KwArgs: map[string]any{"a": 1},
		DB:     "mysql://h/db",
	})
	assert.Equal(t, KindInvalidArgument, KindOf(err))
	assert.Equal(t, 0, *opened)
}
