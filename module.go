// Package sqlgateway is a Caddy module that runs ad-hoc SQL against
// PostgreSQL, MySQL, DuckDB and SQLite databases named in the request and
// returns the result as JSON.
package sqlgateway

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"go.uber.org/zap"

	"github.com/tobilg/caddyserver-sqlgateway-module/handlers"
)

func init() {
	caddy.RegisterModule(SQLGateway{})
	httpcaddyfile.RegisterHandlerDirective("sql_gateway", parseCaddyfile)
}

// SQLGateway is a Caddy module that exposes a SQL query endpoint over HTTP.
type SQLGateway struct {
	Config

	logger  *zap.Logger
	gateway *Gateway
	router  *handlers.Router
}

// CaddyModule returns the Caddy module information.
func (SQLGateway) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.sql_gateway",
		New: func() caddy.Module { return new(SQLGateway) },
	}
}

// Provision sets up the SQL gateway module.
func (g *SQLGateway) Provision(ctx caddy.Context) error {
	return g.provision(ctx.Logger(g))
}

func (g *SQLGateway) provision(logger *zap.Logger) error {
	g.logger = logger
	g.SetDefaults()

	gw, err := g.Build(g.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize SQL gateway: %w", err)
	}
	g.gateway = gw
	g.router = gw.Router

	g.logger.Info("SQL gateway provisioned",
		zap.String("route_prefix", gw.Router.Prefix()),
		zap.String("default_format", gw.Format.String()),
		zap.Strings("schemes", gw.Dispatcher.Registry().Schemes()),
		zap.Bool("insecure_skip_verify", g.InsecureSkipVerify),
		zap.Int("root_cert_cache_size", g.RootCertCacheSize),
	)

	return nil
}

// Validate ensures the module configuration is valid.
func (g *SQLGateway) Validate() error {
	return g.Config.Validate()
}

// ServeHTTP implements the caddyhttp.MiddlewareHandler interface.
func (g *SQLGateway) ServeHTTP(w http.ResponseWriter, r *http.Request, next caddyhttp.Handler) error {
	if g.router == nil || !g.router.Matches(r.URL.Path) {
		return next.ServeHTTP(w, r)
	}
	g.router.ServeHTTP(w, r)
	return nil
}

// Cleanup performs cleanup when the module is unloaded.
func (g *SQLGateway) Cleanup() error {
	if g.gateway != nil && g.gateway.RootCerts != nil {
		g.gateway.RootCerts.Purge()
	}
	return nil
}

// UnmarshalCaddyfile implements caddyfile.Unmarshaler.
//
//	sql_gateway {
//	    route_prefix /sql
//	    default_format json-lines
//	    insecure_skip_verify
//	    root_cert_cache_size 128
//	    backends postgres mysql
//	}
//
// backends defaults to postgres and mysql. Adding duckdb or sqlite exposes
// the host filesystem to every caller of the route.
func (g *SQLGateway) UnmarshalCaddyfile(dispenser *caddyfile.Dispenser) error {
	for dispenser.Next() {
		for dispenser.NextBlock(0) {
			switch dispenser.Val() {
			case "route_prefix":
				if !dispenser.Args(&g.RoutePrefix) {
					return dispenser.ArgErr()
				}
			case "default_format":
				if !dispenser.Args(&g.DefaultFormat) {
					return dispenser.ArgErr()
				}
			case "insecure_skip_verify":
				args := dispenser.RemainingArgs()
				switch len(args) {
				case 0:
					g.InsecureSkipVerify = true
				case 1:
					enabled := strings.ToLower(args[0])
					g.InsecureSkipVerify = enabled == "true" || enabled == "yes" || enabled == "1"
				default:
					return dispenser.ArgErr()
				}
			case "root_cert_cache_size":
				var sizeStr string
				if !dispenser.Args(&sizeStr) {
					return dispenser.ArgErr()
				}
				size, err := strconv.Atoi(sizeStr)
				if err != nil {
					return dispenser.Errf("invalid root_cert_cache_size: %v", err)
				}
				g.RootCertCacheSize = size
			case "backends":
				backends := dispenser.RemainingArgs()
				if len(backends) == 0 {
					return dispenser.ArgErr()
				}
				g.Backends = append(g.Backends, backends...)
			default:
				return dispenser.Errf("unknown subdirective: %s", dispenser.Val())
			}
		}
	}
	return nil
}

// parseCaddyfile unmarshals tokens from h into a new Middleware.
func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	var g SQLGateway
	err := g.UnmarshalCaddyfile(h.Dispenser)
	return &g, err
}

// Interface guards
var (
	_ caddy.Module                = (*SQLGateway)(nil)
	_ caddy.Provisioner           = (*SQLGateway)(nil)
	_ caddy.Validator             = (*SQLGateway)(nil)
	_ caddy.CleanerUpper          = (*SQLGateway)(nil)
	_ caddyhttp.MiddlewareHandler = (*SQLGateway)(nil)
	_ caddyfile.Unmarshaler       = (*SQLGateway)(nil)
)
