package database

import (
	"context"
	"crypto/tls"

	"go.uber.org/zap"
)

// SSLMode is the transport security requested by a database URI.
type SSLMode string

const (
	SSLModeDefault    SSLMode = ""
	SSLModeDisable    SSLMode = "disable"
	SSLModeAllow      SSLMode = "allow"
	SSLModePrefer     SSLMode = "prefer"
	SSLModeRequire    SSLMode = "require"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

// ParseSSLMode validates the sslmode query parameter. An empty value selects
// the default mode.
func ParseSSLMode(s string) (SSLMode, error) {
	switch mode := SSLMode(s); mode {
	case SSLModeDefault, SSLModeDisable, SSLModeAllow, SSLModePrefer,
		SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return mode, nil
	}
	return "", &UnsupportedSSLModeError{Mode: s}
}

// TryTLS reports whether an encrypted connection is attempted first.
func (m SSLMode) TryTLS() bool {
	return m != SSLModeDisable
}

// RequireTLS reports whether a failed encrypted attempt is fatal.
func (m SSLMode) RequireTLS() bool {
	return m == SSLModeRequire || m == SSLModeVerifyCA || m == SSLModeVerifyFull
}

func (m SSLMode) String() string {
	if m == SSLModeDefault {
		return "default"
	}
	return string(m)
}

// DialFunc opens one physical connection. A nil tlsConfig means plaintext.
type DialFunc[C any] func(ctx context.Context, tlsConfig *tls.Config) (C, error)

// Negotiate opens a connection according to mode. An encrypted attempt that
// fails falls back to a fresh plaintext attempt unless mode requires
// encryption, in which case the encryption error is returned.
func Negotiate[C any](ctx context.Context, logger *zap.Logger, mode SSLMode, tlsConfig *tls.Config, dial DialFunc[C]) (C, error) {
	var zero C

	if !mode.TryTLS() {
		logger.Debug("Connecting without TLS", zap.String("sslmode", mode.String()))
		conn, err := dial(ctx, nil)
		if err != nil {
			return zero, &ConnectionError{Err: err}
		}
		return conn, nil
	}

	logger.Debug("Connecting with TLS", zap.String("sslmode", mode.String()))
	conn, err := dial(ctx, tlsConfig)
	if err == nil {
		return conn, nil
	}
	if mode.RequireTLS() || ctx.Err() != nil {
		return zero, &ConnectionError{Err: err}
	}

	logger.Warn("TLS connection failed, falling back to plaintext",
		zap.String("sslmode", mode.String()),
		zap.Error(err),
	)
	conn, err = dial(ctx, nil)
	if err != nil {
		return zero, &ConnectionError{Err: err}
	}
	return conn, nil
}
