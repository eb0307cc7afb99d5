package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	sqlgateway "github.com/tobilg/caddyserver-sqlgateway-module"
	"github.com/tobilg/caddyserver-sqlgateway-module/database"
)

// DefaultListen is the address serve binds to unless configured otherwise.
const DefaultListen = "[::]:9627"

// envPrefix namespaces the environment overrides, e.g. SQLGW_LISTEN.
const envPrefix = "SQLGW"

// serverConfig is the sqlgw configuration: the gateway settings plus the
// options only the standalone server has.
type serverConfig struct {
	sqlgateway.Config `mapstructure:",squash"`

	Listen   string `mapstructure:"listen"`
	LogLevel string `mapstructure:"log_level"`
}

// loadConfig reads the configuration from defaults, the optional YAML file
// at path, .env files, SQLGW_* environment variables and bound flags, in
// increasing order of precedence.
func loadConfig(v *viper.Viper, path string) (*serverConfig, error) {
	loadDotEnv()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Keys need defaults so Unmarshal sees their environment overrides
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("route_prefix", sqlgateway.DefaultRoutePrefix)
	v.SetDefault("default_format", "json")
	v.SetDefault("insecure_skip_verify", false)
	v.SetDefault("root_cert_cache_size", database.DefaultRootCertCacheSize)
	v.SetDefault("backends", []string{})
	v.SetDefault("log_level", "info")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg serverConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv loads .env and then .env.local from the working directory.
// Variables already set in the environment win over .env; .env.local
// overrides both.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
	if _, err := os.Stat(".env.local"); err == nil {
		_ = godotenv.Overload(".env.local")
	}
}

// newLogger builds a production zap logger writing to stderr at level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
