package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tobilg/caddyserver-sqlgateway-module/convert"
)

// RowFunc receives each converted row in result order. names is the same
// slice for every row of a result set; values belongs to the callee.
type RowFunc func(names []string, values []any) error

// Backend executes SQL against one family of database engines.
//
// Every call opens a fresh connection, streams the converted rows to fn and
// closes the connection before returning, on success and failure alike.
// Failures are returned as *QueryError.
type Backend interface {
	Name() string
	Stream(ctx context.Context, q Query, fn RowFunc) error
}

// ExecuteRowObjects runs q and returns one object per row, keys in column
// order.
func ExecuteRowObjects(ctx context.Context, b Backend, q Query) ([]convert.Object, error) {
	objects := make([]convert.Object, 0)
	err := b.Stream(ctx, q, func(names []string, values []any) error {
		objects = append(objects, convert.ObjectFromRow(names, values))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// ExecuteColumnArrays runs q and returns the column names and one value
// slice per row. Names come from the first row, so an empty result yields
// empty names.
func ExecuteColumnArrays(ctx context.Context, b Backend, q Query) ([]string, [][]any, error) {
	names := make([]string, 0)
	rows := make([][]any, 0)
	err := b.Stream(ctx, q, func(rowNames []string, values []any) error {
		if len(rows) == 0 {
			names = append(names, rowNames...)
		}
		rows = append(rows, values)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return names, rows, nil
}

// Registry maps URI schemes to backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register binds b to each scheme, replacing earlier registrations.
func (r *Registry) Register(b Backend, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range schemes {
		r.backends[scheme] = b
	}
}

// Lookup selects the backend for a database URI without connecting.
func (r *Registry) Lookup(uri string) (Backend, error) {
	scheme := Query{DB: uri}.Scheme()

	r.mu.RLock()
	b, ok := r.backends[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedDatabaseError{Scheme: scheme}
	}
	return b, nil
}

// Schemes returns the registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.backends))
	for scheme := range r.backends {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// Backend names accepted by Options.Backends.
const (
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendDuckDB   = "duckdb"
	BackendSQLite   = "sqlite"
)

// AllBackends lists the built-in backends.
var AllBackends = []string{BackendPostgres, BackendMySQL, BackendDuckDB, BackendSQLite}

// DefaultBackends are the network backends registered when none are
// selected. DuckDB and SQLite open files on the local host with the
// process's permissions, so they must be selected explicitly.
var DefaultBackends = []string{BackendPostgres, BackendMySQL}

// Options configures the built-in backends.
type Options struct {
	Logger *zap.Logger
	TLS    *TLSOptions

	// Backends selects which built-in backends are registered. Empty means
	// DefaultBackends. Listing duckdb or sqlite lets any caller read and
	// write files the process can reach.
	Backends []string
}

// NewDefaultRegistry registers the built-in backends selected by opts.
func NewDefaultRegistry(opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TLS == nil {
		opts.TLS = &TLSOptions{}
	}
	names := opts.Backends
	if len(names) == 0 {
		names = DefaultBackends
	}

	r := NewRegistry()
	for _, name := range names {
		logger := opts.Logger.With(zap.String("backend", name))
		switch name {
		case BackendPostgres:
			r.Register(NewPostgresBackend(opts.TLS, logger), "postgres", "postgresql")
		case BackendMySQL:
			r.Register(NewMySQLBackend(opts.TLS, logger), "mysql")
		case BackendDuckDB:
			r.Register(NewDuckDBBackend(logger), "duckdb")
		case BackendSQLite:
			r.Register(NewSQLiteBackend(logger), "sqlite")
		default:
			return nil, fmt.Errorf("unknown backend: %s", name)
		}
	}
	return r, nil
}
