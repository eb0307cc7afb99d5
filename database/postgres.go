package database

import (
	"context"
	"crypto/tls"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/log/zapadapter"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/tobilg/caddyserver-sqlgateway-module/convert"
)

// PostgresBackend runs queries over the PostgreSQL wire protocol with pgx.
type PostgresBackend struct {
	tls     *TLSOptions
	logger  *zap.Logger
	connect func(ctx context.Context, cfg *pgx.ConnConfig) (*pgx.Conn, error)
}

// NewPostgresBackend creates the backend for postgres:// and postgresql:// URIs.
func NewPostgresBackend(tlsOpts *TLSOptions, logger *zap.Logger) *PostgresBackend {
	if tlsOpts == nil {
		tlsOpts = &TLSOptions{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresBackend{
		tls:     tlsOpts,
		logger:  logger,
		connect: pgx.ConnectConfig,
	}
}

// Name implements Backend.
func (b *PostgresBackend) Name() string {
	return BackendPostgres
}

// Stream implements Backend.
func (b *PostgresBackend) Stream(ctx context.Context, q Query, fn RowFunc) error {
	if err := b.stream(ctx, q, fn); err != nil {
		return &QueryError{Backend: BackendPostgres, Err: err}
	}
	return nil
}

func (b *PostgresBackend) stream(ctx context.Context, q Query, fn RowFunc) error {
	stmt, args, err := q.Bind(sqlx.DOLLAR)
	if err != nil {
		return err
	}

	conn, err := b.negotiate(ctx, q.DB)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	rows, err := conn.Query(ctx, stmt, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	var (
		decoder *convert.PostgresDecoder
		names   []string
	)
	for rows.Next() {
		if decoder == nil {
			decoder, err = convert.NewPostgresDecoder(conn.ConnInfo(), rows.FieldDescriptions())
			if err != nil {
				return err
			}
			names = convert.Names(decoder.Columns())
		}

		values := make([]any, len(names))
		if err := decoder.DecodeRow(rows.RawValues(), values); err != nil {
			return err
		}
		if err := fn(names, values); err != nil {
			return err
		}
	}
	return rows.Err()
}

// negotiate parses the URI, applies the sslmode policy and opens one
// connection. pgx itself always sees sslmode=disable; the TLS config it
// dials with is decided here.
func (b *PostgresBackend) negotiate(ctx context.Context, uri string) (*pgx.Conn, error) {
	u, mode, err := parseURI(uri)
	if err != nil {
		return nil, err
	}
	rootCert := u.Query().Get("sslrootcert")

	plain := stripParam(stripParam(u, "sslmode"), "sslrootcert")
	values := plain.Query()
	values.Set("sslmode", "disable")
	plain.RawQuery = values.Encode()

	base, err := pgx.ParseConfig(plain.String())
	if err != nil {
		return nil, &InvalidArgumentError{Message: "invalid postgres URI", Err: err}
	}
	base.Logger = zapadapter.NewLogger(b.logger)
	base.LogLevel = pgx.LogLevelWarn

	var tlsConfig *tls.Config
	if mode.TryTLS() {
		tlsConfig, err = b.tls.Config(base.Host, mode, rootCert)
		if err != nil {
			return nil, err
		}
	}

	return Negotiate(ctx, b.logger, mode, tlsConfig, func(ctx context.Context, tc *tls.Config) (*pgx.Conn, error) {
		cfg := base.Copy()
		cfg.TLSConfig = tc
		for _, fb := range cfg.Fallbacks {
			fb.TLSConfig = nil
			if tc != nil {
				fb.TLSConfig = tc.Clone()
				fb.TLSConfig.ServerName = fb.Host
			}
		}
		return b.connect(ctx, cfg)
	})
}
