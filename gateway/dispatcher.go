// Package gateway ties the backend registry and the result encoders
// together: one query in, encoded bytes out.
package gateway

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/tobilg/caddyserver-sqlgateway-module/database"
	"github.com/tobilg/caddyserver-sqlgateway-module/formats"
)

// Dispatcher routes queries to backends by URI scheme.
type Dispatcher struct {
	registry *database.Registry
	logger   *zap.Logger
}

// New creates a dispatcher over registry.
func New(registry *database.Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Registry returns the backend registry.
func (d *Dispatcher) Registry() *database.Registry {
	return d.registry
}

// Dispatch runs q and returns the complete encoded result with its content
// type. Row-oriented formats go through the object form of the backend,
// column-oriented formats through the column-array form.
func (d *Dispatcher) Dispatch(ctx context.Context, q database.Query, format formats.Format) ([]byte, string, error) {
	backend, err := d.registry.Lookup(q.DB)
	if err != nil {
		return nil, "", err
	}

	start := time.Now()
	var (
		out         []byte
		contentType string
	)
	if format.RowOriented() {
		objects, err := database.ExecuteRowObjects(ctx, backend, q)
		if err != nil {
			return nil, "", err
		}
		out, contentType, err = formats.EncodeRowObjects(format, objects)
		if err != nil {
			return nil, "", err
		}
	} else {
		names, rows, err := database.ExecuteColumnArrays(ctx, backend, q)
		if err != nil {
			return nil, "", err
		}
		out, contentType, err = formats.EncodeColumnArrays(format, names, rows)
		if err != nil {
			return nil, "", err
		}
	}

	d.logger.Debug("Query dispatched",
		zap.String("backend", backend.Name()),
		zap.String("format", format.String()),
		zap.Int("bytes", len(out)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, contentType, nil
}

// DispatchTo runs q and streams the encoded rows into w as they arrive. It
// returns the number of rows written. Nothing is written before the backend
// produces its first row, so a failure to connect or to resolve column types
// leaves w untouched.
func (d *Dispatcher) DispatchTo(ctx context.Context, w io.Writer, q database.Query, format formats.Format) (int, error) {
	backend, err := d.registry.Lookup(q.DB)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	enc := formats.NewEncoder(w, format)
	if err := backend.Stream(ctx, q, enc.WriteRow); err != nil {
		return enc.Rows(), err
	}
	if err := enc.Close(); err != nil {
		return enc.Rows(), err
	}

	d.logger.Debug("Query streamed",
		zap.String("backend", backend.Name()),
		zap.String("format", format.String()),
		zap.Int("rows", enc.Rows()),
		zap.Duration("duration", time.Since(start)),
	)
	return enc.Rows(), nil
}
