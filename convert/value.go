package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Convert maps one raw value of col onto a JSON value.
//
// The result is nil, bool, int16, int32, int64, uint64, float32, float64,
// string, json.RawMessage or []any. SQL NULL always becomes nil, and so does
// a NULL array. Non-finite floats become nil since JSON cannot carry them.
func Convert(col Column, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if !col.Array {
		return convertScalar(col, raw)
	}

	elems, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("column '%s': expected array value, got %T", col.Name, raw)
	}
	out := make([]any, len(elems))
	for i, elem := range elems {
		v, err := convertScalar(col, elem)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ConvertRow converts a full row in place. raw and columns must have the
// same length.
func ConvertRow(columns []Column, raw []any) error {
	if len(raw) != len(columns) {
		return fmt.Errorf("row has %d values for %d columns", len(raw), len(columns))
	}
	for i, col := range columns {
		v, err := Convert(col, raw[i])
		if err != nil {
			return err
		}
		raw[i] = v
	}
	return nil
}

func convertScalar(col Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch col.Kind {
	case KindBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			// SQLite stores booleans as integers
			return x != 0, nil
		}
	case KindInt16:
		if n, ok := toInt64(v); ok {
			return int16(n), nil
		}
	case KindInt32:
		if n, ok := toInt64(v); ok {
			return int32(n), nil
		}
	case KindInt64:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case KindUint64:
		switch x := v.(type) {
		case uint64:
			return x, nil
		case int64:
			return uint64(x), nil
		case []byte:
			if n, err := strconv.ParseUint(string(x), 10, 64); err == nil {
				return n, nil
			}
		}
	case KindFloat32:
		switch x := v.(type) {
		case float32:
			return finite32(x), nil
		case float64:
			return finite32(float32(x)), nil
		case []byte:
			if f, err := strconv.ParseFloat(string(x), 32); err == nil {
				return finite32(float32(f)), nil
			}
		}
	case KindFloat64:
		switch x := v.(type) {
		case float64:
			return finite64(x), nil
		case float32:
			return finite64(float64(x)), nil
		case []byte:
			if f, err := strconv.ParseFloat(string(x), 64); err == nil {
				return finite64(f), nil
			}
		}
	case KindText:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case KindJSON:
		return rawJSONValue(col, v)
	case KindDecodedJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column '%s': failed to marshal json value: %w", col.Name, err)
		}
		return json.RawMessage(b), nil
	case KindDynamic:
		return dynamicValue(col, v)
	}

	return nil, fmt.Errorf("column '%s': cannot convert %T to %s", col.Name, v, col.Kind)
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int16:
		return int64(x), true
	case int8:
		return int64(x), true
	case int:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint8:
		return int64(x), true
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func finite32(f float32) any {
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return nil
	}
	return f
}

func finite64(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// rawJSONValue passes JSON text through unchanged.
func rawJSONValue(col Column, v any) (any, error) {
	var text []byte
	switch x := v.(type) {
	case json.RawMessage:
		text = x
	case []byte:
		text = x
	case string:
		text = []byte(x)
	default:
		return nil, fmt.Errorf("column '%s': cannot convert %T to json", col.Name, v)
	}

	if !json.Valid(text) {
		return nil, fmt.Errorf("column '%s': invalid json value", col.Name)
	}
	// Drivers reuse their read buffers between rows
	return json.RawMessage(bytes.Clone(text)), nil
}

func dynamicValue(col Column, v any) (any, error) {
	switch x := v.(type) {
	case bool, string:
		return x, nil
	case int64:
		return x, nil
	case float64:
		return finite64(x), nil
	case []byte:
		return nil, &UnsupportedTypeError{Column: col.Name, TypeName: "BLOB"}
	}
	return nil, &UnsupportedTypeError{Column: col.Name, TypeName: fmt.Sprintf("%T", v)}
}
