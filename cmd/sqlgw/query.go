package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	sqlgateway "github.com/tobilg/caddyserver-sqlgateway-module"
	"github.com/tobilg/caddyserver-sqlgateway-module/database"
	"github.com/tobilg/caddyserver-sqlgateway-module/formats"
)

// queryCmd creates the query subcommand
func queryCmd(v *viper.Viper) *cobra.Command {
	var (
		dbURI    string
		format   string
		rawArgs  []string
		rawKw    []string
		insecure bool
	)

	cmd := &cobra.Command{
		Use:   "query [flags] SQL",
		Short: "Run one query and print the encoded result",
		Long: `Run a single SQL statement and print the result to stdout.

Arguments are JSON values. Positional arguments (--arg) bind to $1.. for
PostgreSQL and ? elsewhere; named arguments (--kw name=value) bind to :name
placeholders. The two cannot be combined.

Examples:
  sqlgw query --db duckdb:// "SELECT 42 AS answer"
  sqlgw query --db sqlite:///tmp/app.db --kw id=7 "SELECT * FROM users WHERE id = :id"
  sqlgw query --db postgres://app@db/app --arg '"active"' --format json-lines \
    "SELECT id, name FROM users WHERE status = $1"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := buildQuery(args[0], dbURI, rawArgs, rawKw)
			if err != nil {
				return err
			}

			logger, err := newLogger(v.GetString("log_level"))
			if err != nil {
				return err
			}
			defer logger.Sync()

			// A local run may open embedded databases
			cfg := sqlgateway.Config{
				DefaultFormat:      format,
				InsecureSkipVerify: insecure,
				Backends:           database.AllBackends,
			}
			cfg.SetDefaults()
			gw, err := cfg.Build(logger)
			if err != nil {
				return err
			}

			return runQuery(cmd, gw, q)
		},
	}

	cmd.Flags().StringVar(&dbURI, "db", "", "Database URI (required)")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: "+strings.Join(formats.FormatNames(), ", "))
	cmd.Flags().StringArrayVar(&rawArgs, "arg", nil, "Positional argument as JSON, repeatable")
	cmd.Flags().StringArrayVar(&rawKw, "kw", nil, "Named argument as name=JSON, repeatable")
	cmd.Flags().BoolVar(&insecure, "insecure-skip-verify", false, "Skip certificate validation for non-verifying sslmodes")
	cmd.MarkFlagRequired("db")

	return cmd
}

// runQuery runs q in the gateway's default format.
func runQuery(cmd *cobra.Command, gw *sqlgateway.Gateway, q database.Query) error {
	f := gw.Format
	out := bufio.NewWriter(cmd.OutOrStdout())
	if _, err := gw.Dispatcher.DispatchTo(cmd.Context(), out, q, f); err != nil {
		return err
	}
	// Array formats end without a newline
	if f == formats.FormatJSON || f == formats.FormatJSONColumns {
		out.WriteByte('\n')
	}
	return out.Flush()
}

// buildQuery assembles a query from the command line. Argument values are
// decoded as JSON with numbers kept exact.
func buildQuery(sql, dbURI string, rawArgs, rawKw []string) (database.Query, error) {
	q := database.Query{Query: sql, DB: dbURI}

	for i, raw := range rawArgs {
		value, err := decodeJSONValue(raw)
		if err != nil {
			return q, fmt.Errorf("invalid --arg #%d: %w", i+1, err)
		}
		q.Args = append(q.Args, value)
	}

	for _, raw := range rawKw {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || name == "" {
			return q, fmt.Errorf("invalid --kw %q: expected name=JSON", raw)
		}
		decoded, err := decodeJSONValue(value)
		if err != nil {
			return q, fmt.Errorf("invalid --kw %s: %w", name, err)
		}
		if q.KwArgs == nil {
			q.KwArgs = make(map[string]any)
		}
		q.KwArgs[name] = decoded
	}

	return q, nil
}

func decodeJSONValue(raw string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return value, nil
}
