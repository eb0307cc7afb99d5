package database

import (
	"errors"
	"fmt"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/go-sql-driver/mysql"

	"github.com/tobilg/caddyserver-sqlgateway-module/convert"
)

// UnsupportedDatabaseError is returned when no backend is registered for the
// scheme of a database URI.
type UnsupportedDatabaseError struct {
	Scheme string
}

func (e *UnsupportedDatabaseError) Error() string {
	if e.Scheme == "" {
		return "unsupported database: missing URI scheme"
	}
	return fmt.Sprintf("unsupported database: no backend for scheme '%s'", e.Scheme)
}

// UnsupportedSSLModeError is returned for an sslmode outside the recognized set.
type UnsupportedSSLModeError struct {
	Mode string
}

func (e *UnsupportedSSLModeError) Error() string {
	return fmt.Sprintf("unsupported sslmode '%s'", e.Mode)
}

// ConnectionError wraps a transport, TLS or authentication failure.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// InvalidArgumentError reports a malformed database URI or query argument.
type InvalidArgumentError struct {
	Message string
	Err     error
}

func (e *InvalidArgumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *InvalidArgumentError) Unwrap() error {
	return e.Err
}

// QueryError is the terminal error of a backend invocation. The cause stays
// reachable through errors.As.
type QueryError struct {
	Backend string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query failed: %v", e.Backend, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies errors for the transport layer.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindUnsupportedDatabase
	KindUnsupportedSSLMode
	KindInvalidArgument
	KindConnection
	KindUnsupportedType
	// KindStatement is an error raised by the database engine itself, e.g.
	// a syntax or permission error.
	KindStatement
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnsupportedDatabase:
		return "unsupported_database"
	case KindUnsupportedSSLMode:
		return "unsupported_sslmode"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConnection:
		return "connection"
	case KindUnsupportedType:
		return "unsupported_type"
	case KindStatement:
		return "statement"
	default:
		return "internal"
	}
}

// sqlStateError is implemented by pgconn.PgError.
type sqlStateError interface {
	SQLState() string
}

// errorCoder is implemented by modernc.org/sqlite errors.
type errorCoder interface {
	Code() int
}

// KindOf returns the most specific kind found in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}

	var (
		dbErr    *UnsupportedDatabaseError
		modeErr  *UnsupportedSSLModeError
		argErr   *InvalidArgumentError
		typeErr  *convert.UnsupportedTypeError
		connErr  *ConnectionError
		mysqlErr *mysql.MySQLError
		duckErr  *duckdb.Error
	)
	switch {
	case errors.As(err, &dbErr):
		return KindUnsupportedDatabase
	case errors.As(err, &modeErr):
		return KindUnsupportedSSLMode
	case errors.As(err, &argErr):
		return KindInvalidArgument
	case errors.As(err, &typeErr):
		return KindUnsupportedType
	case errors.As(err, &connErr):
		return KindConnection
	case errors.As(err, &mysqlErr), errors.As(err, &duckErr):
		return KindStatement
	}

	if e, ok := asError[sqlStateError](err); ok && e.SQLState() != "" {
		return KindStatement
	}
	if _, ok := asError[errorCoder](err); ok {
		return KindStatement
	}
	return KindInternal
}

func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}
