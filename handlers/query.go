package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tobilg/caddyserver-sqlgateway-module/formats"
	"github.com/tobilg/caddyserver-sqlgateway-module/gateway"
)

// QueryHandler handles SQL query execution.
type QueryHandler struct {
	dispatcher    *gateway.Dispatcher
	defaultFormat formats.Format
	logger        *zap.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(dispatcher *gateway.Dispatcher, defaultFormat formats.Format, logger *zap.Logger) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryHandler{
		dispatcher:    dispatcher,
		defaultFormat: defaultFormat,
		logger:        logger,
	}
}

// ServeHTTP handles HTTP requests for SQL queries.
// Supports both POST (with JSON body) and GET (with query string parameters).
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestIDFromContext(r.Context())

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		SendError(w, "Method not allowed. Use POST or GET to execute queries.", http.StatusMethodNotAllowed)
		return
	}

	q, format, err := ParseQueryRequest(w, r, h.defaultFormat)
	if err != nil {
		SendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The URI may carry credentials, so only its scheme is logged
	h.logger.Info("Executing query",
		zap.String("method", r.Method),
		zap.String("scheme", q.Scheme()),
		zap.String("format", format.String()),
		zap.String("request_id", requestID),
	)

	startTime := time.Now()
	out := &deferredWriter{w: w, contentType: formats.ContentType}
	rows, err := h.dispatcher.DispatchTo(r.Context(), out, q, format)
	if err != nil {
		status := StatusForError(err)
		if !out.started {
			h.logger.Warn("Query failed",
				zap.Error(err),
				zap.Int("status", status),
				zap.String("request_id", requestID),
			)
			SendError(w, err.Error(), status)
			return
		}
		h.logger.Error("Query failed after response started",
			zap.Error(err),
			zap.Int("rows", rows),
			zap.String("request_id", requestID),
		)
		// The status line is already sent; break the connection so a
		// truncated body is never read as a complete result
		panic(http.ErrAbortHandler)
	}

	h.logger.Debug("Query completed",
		zap.Int("rows", rows),
		zap.Duration("duration", time.Since(startTime)),
		zap.String("request_id", requestID),
	)
}

// deferredWriter sends the success status line only with the first byte of
// the body, so errors raised before any output can still become error
// responses.
type deferredWriter struct {
	w           http.ResponseWriter
	contentType string
	started     bool
}

func (d *deferredWriter) Write(p []byte) (int, error) {
	if !d.started {
		d.started = true
		d.w.Header().Set("Content-Type", d.contentType)
		d.w.WriteHeader(http.StatusOK)
	}
	return d.w.Write(p)
}
