package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tobilg/caddyserver-sqlgateway-module/database"
	"github.com/tobilg/caddyserver-sqlgateway-module/formats"
)

// MaxBodyBytes limits the size of a POST body.
const MaxBodyBytes = 10 << 20

// QueryRequest is the POST body of the query endpoint.
type QueryRequest struct {
	Query  string         `json:"query"`
	DB     string         `json:"db"`
	Args   []any          `json:"args,omitempty"`
	KwArgs map[string]any `json:"kw_args,omitempty"`
	Format string         `json:"format,omitempty"`
}

// ParseQueryRequest extracts the query and output format from a GET or POST
// request. The format is taken from the request itself, then the Accept
// header, then defaultFormat.
func ParseQueryRequest(w http.ResponseWriter, r *http.Request, defaultFormat formats.Format) (database.Query, formats.Format, error) {
	var (
		req QueryRequest
		err error
	)
	switch r.Method {
	case http.MethodPost:
		req, err = parseQueryBody(w, r)
	case http.MethodGet:
		req, err = parseQueryValues(r)
	default:
		return database.Query{}, 0, fmt.Errorf("unsupported method %s", r.Method)
	}
	if err != nil {
		return database.Query{}, 0, err
	}

	if strings.TrimSpace(req.Query) == "" {
		return database.Query{}, 0, invalidArgument("query is required", nil)
	}
	if req.DB == "" {
		return database.Query{}, 0, invalidArgument("db is required", nil)
	}

	format := defaultFormat
	if accepted, ok := GetAcceptFormat(r); ok {
		format = accepted
	}
	if req.Format != "" {
		format, err = formats.ParseFormat(req.Format)
		if err != nil {
			return database.Query{}, 0, invalidArgument("invalid format", err)
		}
	}

	return database.Query{
		Query:  req.Query,
		Args:   req.Args,
		KwArgs: req.KwArgs,
		DB:     req.DB,
	}, format, nil
}

func parseQueryBody(w http.ResponseWriter, r *http.Request) (QueryRequest, error) {
	defer r.Body.Close()

	var req QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, invalidArgument(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), nil)
		}
		return req, invalidArgument("invalid JSON in request body", err)
	}
	if dec.More() {
		return req, invalidArgument("request body must contain a single JSON object", nil)
	}

	// A format query parameter is honoured for POST too
	if req.Format == "" {
		req.Format = r.URL.Query().Get("format")
	}
	return req, nil
}

func parseQueryValues(r *http.Request) (QueryRequest, error) {
	values := r.URL.Query()
	req := QueryRequest{
		Query:  values.Get("query"),
		DB:     values.Get("db"),
		Format: values.Get("format"),
	}
	if raw := values.Get("args"); raw != "" {
		if err := decodeJSONParam(raw, &req.Args); err != nil {
			return req, invalidArgument("args must be a JSON array", err)
		}
	}
	if raw := values.Get("kw_args"); raw != "" {
		if err := decodeJSONParam(raw, &req.KwArgs); err != nil {
			return req, invalidArgument("kw_args must be a JSON object", err)
		}
	}
	return req, nil
}

func decodeJSONParam(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// GetAcceptFormat maps the Accept header onto an output format. Only
// newline-delimited JSON media types select a format; anything else leaves
// the choice to the caller.
func GetAcceptFormat(r *http.Request) (formats.Format, bool) {
	accept := r.Header.Get("Accept")

	if strings.Contains(accept, "application/x-ndjson") || strings.Contains(accept, "application/jsonl") {
		return formats.FormatJSONLines, true
	}
	return formats.FormatJSON, false
}

func invalidArgument(message string, err error) error {
	return &database.InvalidArgumentError{Message: message, Err: err}
}
