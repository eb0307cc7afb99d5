package sqlgateway

import (
	"fmt"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/tobilg/caddyserver-sqlgateway-module/database"
	"github.com/tobilg/caddyserver-sqlgateway-module/formats"
	"github.com/tobilg/caddyserver-sqlgateway-module/gateway"
	"github.com/tobilg/caddyserver-sqlgateway-module/handlers"
)

const (
	// DefaultRoutePrefix is where the endpoints are mounted unless configured
	// otherwise.
	DefaultRoutePrefix = "/sql"

	// RoutePrefixEnv overrides the configured route prefix.
	RoutePrefixEnv = "SQLGW_ROUTE_PREFIX"
)

// Config holds the settings shared by the Caddy module and the standalone
// sqlgw server.
type Config struct {
	// RoutePrefix is the path below which the gateway endpoints are served.
	// Default is /sql. The SQLGW_ROUTE_PREFIX environment variable takes
	// precedence.
	RoutePrefix string `json:"route_prefix,omitempty" mapstructure:"route_prefix"`

	// DefaultFormat is the output format used when a request names none.
	// One of json, json-lines, json-columns, json-column-lines.
	// Default is json.
	DefaultFormat string `json:"default_format,omitempty" mapstructure:"default_format"`

	// InsecureSkipVerify disables certificate validation for every sslmode
	// except verify-ca and verify-full.
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty" mapstructure:"insecure_skip_verify"`

	// RootCertCacheSize is the number of sslrootcert bundles kept parsed in
	// memory. Default is 64.
	RootCertCacheSize int `json:"root_cert_cache_size,omitempty" mapstructure:"root_cert_cache_size"`

	// Backends selects the registered backends. Empty enables postgres and
	// mysql. duckdb and sqlite are opt-in: with either enabled, any client
	// of the gateway can open, create and (through DuckDB) read or copy to
	// files on the gateway host.
	Backends []string `json:"backends,omitempty" mapstructure:"backends"`
}

// SetDefaults fills unset fields and applies the route prefix override
// from the environment.
func (c *Config) SetDefaults() {
	if envPrefix := os.Getenv(RoutePrefixEnv); envPrefix != "" {
		c.RoutePrefix = envPrefix
	}
	if c.RoutePrefix == "" {
		c.RoutePrefix = DefaultRoutePrefix
	}
	c.RoutePrefix = handlers.NormalizeRoutePrefix(c.RoutePrefix)

	if c.DefaultFormat == "" {
		c.DefaultFormat = formats.FormatJSON.String()
	}
	if c.RootCertCacheSize == 0 {
		c.RootCertCacheSize = database.DefaultRootCertCacheSize
	}
}

// Validate checks the configuration without opening anything.
func (c *Config) Validate() error {
	if _, err := formats.ParseFormat(c.DefaultFormat); err != nil {
		return fmt.Errorf("invalid default_format: %w", err)
	}
	if c.RootCertCacheSize < 0 {
		return fmt.Errorf("root_cert_cache_size must be >= 0")
	}
	for _, name := range c.Backends {
		if !slices.Contains(database.AllBackends, name) {
			return fmt.Errorf("unknown backend: %s (must be one of %v)", name, database.AllBackends)
		}
	}
	return nil
}

// Gateway is the assembled handler stack.
type Gateway struct {
	Router     *handlers.Router
	Dispatcher *gateway.Dispatcher
	RootCerts  *database.RootCertCache
	Format     formats.Format
}

// Build wires the backends, dispatcher and HTTP handlers for c. SetDefaults
// must have been called.
func (c *Config) Build(logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	format, err := formats.ParseFormat(c.DefaultFormat)
	if err != nil {
		return nil, err
	}

	rootCerts, err := database.NewRootCertCache(c.RootCertCacheSize)
	if err != nil {
		return nil, err
	}

	registry, err := database.NewDefaultRegistry(database.Options{
		Logger: logger,
		TLS: &database.TLSOptions{
			InsecureSkipVerify: c.InsecureSkipVerify,
			RootCerts:          rootCerts,
		},
		Backends: c.Backends,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register backends: %w", err)
	}

	if c.InsecureSkipVerify {
		logger.Warn("TLS certificate verification disabled for non-verifying sslmodes")
	}

	dispatcher := gateway.New(registry, logger)
	queryHandler := handlers.NewQueryHandler(dispatcher, format, logger)
	openAPIHandler := handlers.NewOpenAPIHandler(c.RoutePrefix, registry.Schemes(), format)

	return &Gateway{
		Router:     handlers.NewRouter(c.RoutePrefix, queryHandler, openAPIHandler),
		Dispatcher: dispatcher,
		RootCerts:  rootCerts,
		Format:     format,
	}, nil
}
