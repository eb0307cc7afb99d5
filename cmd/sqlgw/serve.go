package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	sqlgateway "github.com/tobilg/caddyserver-sqlgateway-module"
	"github.com/tobilg/caddyserver-sqlgateway-module/handlers"
)

const shutdownTimeout = 10 * time.Second

// serveCmd creates the serve subcommand
func serveCmd(v *viper.Viper) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway without Caddy",
		Long: `Serve the query, health and OpenAPI endpoints on a plain HTTP listener.

Settings are read from the YAML file given with --config, from SQLGW_*
environment variables (a .env file in the working directory is loaded too)
and from flags. Keys: listen, route_prefix, default_format,
insecure_skip_verify, root_cert_cache_size, backends, log_level.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, configPath)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			gw, err := cfg.Build(logger)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
			}
			logger.Info("SQL gateway listening",
				zap.String("address", ln.Addr().String()),
				zap.String("route_prefix", gw.Router.Prefix()),
				zap.String("default_format", gw.Format.String()),
				zap.Strings("schemes", gw.Dispatcher.Registry().Schemes()),
			)

			return runServer(cmd.Context(), ln, gw, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().String("listen", DefaultListen, "Listen address")
	v.BindPFlag("listen", cmd.Flags().Lookup("listen"))

	return cmd
}

// newServerHandler serves the gateway router and answers every other path
// with a JSON 404.
func newServerHandler(gw *sqlgateway.Gateway) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !gw.Router.Matches(r.URL.Path) {
			handlers.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlers.SendError(w, "Not found", http.StatusNotFound)
			})).ServeHTTP(w, r)
			return
		}
		gw.Router.ServeHTTP(w, r)
	})
}

// runServer serves on ln until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, ln net.Listener, gw *sqlgateway.Gateway, logger *zap.Logger) error {
	server := &http.Server{
		Handler:           newServerHandler(gw),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(logger),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down SQL gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
