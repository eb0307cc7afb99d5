package database

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRootCertCacheSize is the number of parsed sslrootcert bundles kept
// in memory.
const DefaultRootCertCacheSize = 64

// RootCertCache keeps parsed PEM bundles keyed by file path. It is safe for
// concurrent use.
type RootCertCache struct {
	pools *lru.Cache[string, *x509.CertPool]
}

// NewRootCertCache creates a cache holding up to size bundles.
func NewRootCertCache(size int) (*RootCertCache, error) {
	if size <= 0 {
		size = DefaultRootCertCacheSize
	}
	pools, err := lru.New[string, *x509.CertPool](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create root certificate cache: %w", err)
	}
	return &RootCertCache{pools: pools}, nil
}

// Load returns the certificate pool stored in the PEM file at path.
func (c *RootCertCache) Load(path string) (*x509.CertPool, error) {
	if pool, ok := c.pools.Get(path); ok {
		return pool, nil
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sslrootcert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("sslrootcert %s contains no PEM certificates", path)
	}

	c.pools.Add(path, pool)
	return pool, nil
}

// Len returns the number of cached bundles.
func (c *RootCertCache) Len() int {
	return c.pools.Len()
}

// Purge drops every cached bundle.
func (c *RootCertCache) Purge() {
	c.pools.Purge()
}

// TLSOptions is the certificate policy shared by all network backends.
type TLSOptions struct {
	// InsecureSkipVerify disables certificate validation for the allow,
	// prefer, require and default modes. verify-ca and verify-full always
	// validate.
	InsecureSkipVerify bool

	// RootCerts caches sslrootcert bundles. When nil, bundles are read on
	// every call.
	RootCerts *RootCertCache
}

// Config builds the client TLS configuration for host under mode.
// rootCertPath, when set, replaces the system roots.
func (o *TLSOptions) Config(host string, mode SSLMode, rootCertPath string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	if rootCertPath != "" {
		cache := o.RootCerts
		if cache == nil {
			cache, _ = NewRootCertCache(1)
		}
		pool, err := cache.Load(rootCertPath)
		if err != nil {
			return nil, &InvalidArgumentError{Message: "invalid sslrootcert", Err: err}
		}
		cfg.RootCAs = pool
	}

	switch {
	case mode == SSLModeVerifyCA:
		// Chain only. crypto/tls has no switch for skipping just the
		// hostname check, so verification moves into the callback.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyChain(cfg.RootCAs)
	case mode == SSLModeVerifyFull:
	case o.InsecureSkipVerify:
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}

func verifyChain(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("server presented no certificate")
		}
		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("failed to parse server certificate: %w", err)
			}
			certs[i] = cert
		}

		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: x509.NewCertPool(),
		}
		for _, cert := range certs[1:] {
			opts.Intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(opts)
		return err
	}
}
