package formats

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/tobilg/caddyserver-sqlgateway-module/convert"
)

// ContentType is the content type of every output format.
const ContentType = "application/json"

// Format selects how a result set is encoded.
type Format int

const (
	// FormatJSON is one JSON array holding an object per row.
	FormatJSON Format = iota
	// FormatJSONLines is one JSON object per line.
	FormatJSONLines
	// FormatJSONColumns is one JSON array holding a value array per row.
	FormatJSONColumns
	// FormatJSONColumnLines is the column names array on the first line,
	// then one value array per line.
	FormatJSONColumnLines
)

var formatNames = [...]string{
	FormatJSON:            "json",
	FormatJSONLines:       "json-lines",
	FormatJSONColumns:     "json-columns",
	FormatJSONColumnLines: "json-column-lines",
}

// String returns the wire name of f.
func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

// RowOriented reports whether f renders rows as objects.
func (f Format) RowOriented() bool {
	return f == FormatJSON || f == FormatJSONLines
}

// ParseFormat resolves a wire name. The snake_case spellings are accepted
// too, and matching ignores case.
func ParseFormat(s string) (Format, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for f, n := range formatNames {
		if n == name {
			return Format(f), nil
		}
	}
	return FormatJSON, fmt.Errorf("unknown format '%s' (expected one of %s)", s, strings.Join(FormatNames(), ", "))
}

// FormatNames returns the wire names of all formats.
func FormatNames() []string {
	return append([]string(nil), formatNames[:]...)
}

// Encoder writes a result set to w one row at a time. The output of a
// complete run is identical to the buffered Encode functions.
type Encoder struct {
	w      io.Writer
	format Format
	buf    bytes.Buffer
	names  []string
	rows   int
	closed bool
}

// NewEncoder creates an encoder for format writing to w.
func NewEncoder(w io.Writer, format Format) *Encoder {
	return &Encoder{w: w, format: format}
}

// Rows returns the number of rows written so far.
func (e *Encoder) Rows() int {
	return e.rows
}

// SetColumns sets the names header written by FormatJSONColumnLines when
// the result has no rows. Without it an empty result gets an empty header.
func (e *Encoder) SetColumns(names []string) {
	e.names = names
}

// WriteRow encodes one row. names must be the same for every row of a
// result set.
func (e *Encoder) WriteRow(names []string, values []any) error {
	if e.closed {
		return fmt.Errorf("encoder already closed")
	}
	e.buf.Reset()

	switch e.format {
	case FormatJSON, FormatJSONColumns:
		if e.rows == 0 {
			e.buf.WriteByte('[')
		} else {
			e.buf.WriteByte(',')
		}
	case FormatJSONColumnLines:
		if e.rows == 0 {
			if err := appendArray(&e.buf, names); err != nil {
				return err
			}
			e.buf.WriteByte('\n')
		}
	}

	var err error
	if e.format.RowOriented() {
		err = convert.AppendJSON(&e.buf, convert.ObjectFromRow(names, values))
	} else {
		err = appendArray(&e.buf, values)
	}
	if err != nil {
		return fmt.Errorf("failed to encode row %d: %w", e.rows+1, err)
	}

	if e.format == FormatJSONLines || e.format == FormatJSONColumnLines {
		e.buf.WriteByte('\n')
	}
	e.rows++
	return e.flush()
}

// WriteObject encodes one row object. Only valid for row-oriented formats.
func (e *Encoder) WriteObject(obj convert.Object) error {
	if !e.format.RowOriented() {
		return fmt.Errorf("format %s does not encode row objects", e.format)
	}
	return e.WriteRow(obj.Keys, obj.Values)
}

// Close terminates the output. It does not close the underlying writer.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.buf.Reset()

	switch e.format {
	case FormatJSON, FormatJSONColumns:
		if e.rows == 0 {
			e.buf.WriteByte('[')
		}
		e.buf.WriteByte(']')
	case FormatJSONColumnLines:
		if e.rows == 0 {
			if err := appendArray(&e.buf, e.names); err != nil {
				return err
			}
			e.buf.WriteByte('\n')
		}
	}
	return e.flush()
}

func (e *Encoder) flush() error {
	if e.buf.Len() == 0 {
		return nil
	}
	_, err := e.w.Write(e.buf.Bytes())
	return err
}

func appendArray[T any](buf *bytes.Buffer, values []T) error {
	buf.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := convert.AppendJSON(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// EncodeRowObjects renders row objects in a row-oriented format.
func EncodeRowObjects(format Format, objects []convert.Object) ([]byte, string, error) {
	if !format.RowOriented() {
		return nil, "", fmt.Errorf("format %s does not encode row objects", format)
	}
	var out bytes.Buffer
	enc := NewEncoder(&out, format)
	for _, obj := range objects {
		if err := enc.WriteObject(obj); err != nil {
			return nil, "", err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, "", err
	}
	return out.Bytes(), ContentType, nil
}

// EncodeColumnArrays renders column names and value rows in a
// column-oriented format. FormatJSONColumns ignores names.
func EncodeColumnArrays(format Format, names []string, rows [][]any) ([]byte, string, error) {
	if format.RowOriented() {
		return nil, "", fmt.Errorf("format %s does not encode column arrays", format)
	}
	var out bytes.Buffer
	enc := NewEncoder(&out, format)
	enc.SetColumns(names)
	for _, row := range rows {
		if err := enc.WriteRow(names, row); err != nil {
			return nil, "", err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, "", err
	}
	return out.Bytes(), ContentType, nil
}
