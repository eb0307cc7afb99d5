package database

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Query is a single SQL statement addressed to a database URI.
type Query struct {
	// Query is the SQL text.
	Query string `json:"query"`

	// Args are bound positionally ($1.. for PostgreSQL, ? elsewhere).
	Args []any `json:"args,omitempty"`

	// KwArgs are bound by name through :name placeholders.
	KwArgs map[string]any `json:"kw_args,omitempty"`

	// DB is the connection URI. Its scheme selects the backend.
	DB string `json:"db"`
}

// Scheme returns the lower-cased URI scheme of q.DB, or "" when it has none.
func (q Query) Scheme() string {
	scheme, _, ok := strings.Cut(q.DB, "://")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

// Bind compiles the statement and its arguments for a driver using the given
// sqlx bind type.
func (q Query) Bind(bindType int) (string, []any, error) {
	if len(q.Args) > 0 && len(q.KwArgs) > 0 {
		return "", nil, &InvalidArgumentError{Message: "args and kw_args cannot be combined"}
	}

	if len(q.KwArgs) > 0 {
		named := make(map[string]any, len(q.KwArgs))
		for name, v := range q.KwArgs {
			arg, err := normalizeArg(v)
			if err != nil {
				return "", nil, &InvalidArgumentError{Message: fmt.Sprintf("invalid kw_arg '%s'", name), Err: err}
			}
			named[name] = arg
		}
		stmt, args, err := sqlx.BindNamed(bindType, q.Query, named)
		if err != nil {
			return "", nil, &InvalidArgumentError{Message: "failed to bind kw_args", Err: err}
		}
		return stmt, args, nil
	}

	args := make([]any, len(q.Args))
	for i, v := range q.Args {
		arg, err := normalizeArg(v)
		if err != nil {
			return "", nil, &InvalidArgumentError{Message: fmt.Sprintf("invalid arg %d", i+1), Err: err}
		}
		args[i] = arg
	}
	return q.Query, args, nil
}

// normalizeArg turns a decoded JSON value into a driver argument. Integral
// numbers become int64, other numbers float64, and arrays or objects their
// JSON text.
func normalizeArg(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int64:
		return x, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return x.Float64()
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
			return int64(x), nil
		}
		return x, nil
	case int:
		return int64(x), nil
	case []any, map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return nil, fmt.Errorf("unsupported argument type %T", v)
}

// parseURI parses a database URI and extracts its sslmode.
func parseURI(uri string) (*url.URL, SSLMode, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, "", &InvalidArgumentError{Message: "invalid database URI", Err: redactURLError(err)}
	}
	mode, err := ParseSSLMode(u.Query().Get("sslmode"))
	if err != nil {
		return nil, "", err
	}
	return u, mode, nil
}

// redactURLError drops the URI from url.Error, which would otherwise echo
// credentials back to the client.
func redactURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}

// stripParam removes a query parameter from u and returns the remaining URI.
func stripParam(u *url.URL, name string) *url.URL {
	clone := *u
	values := clone.Query()
	values.Del(name)
	clone.RawQuery = values.Encode()
	return &clone
}
