package convert

import (
	"bytes"
	"encoding/json"
)

// Object is a JSON object whose keys keep result column order.
type Object struct {
	Keys   []string
	Values []any
}

// ObjectFromRow builds a row object. A repeated column name keeps the
// position of its first occurrence and the value of its last.
func ObjectFromRow(names []string, values []any) Object {
	obj := Object{
		Keys:   make([]string, 0, len(names)),
		Values: make([]any, 0, len(names)),
	}
	var seen map[string]int
	for i, name := range names {
		if at, ok := seen[name]; ok {
			obj.Values[at] = values[i]
			continue
		}
		if seen == nil {
			seen = make(map[string]int, len(names))
		}
		seen[name] = len(obj.Keys)
		obj.Keys = append(obj.Keys, name)
		obj.Values = append(obj.Values, values[i])
	}
	return obj
}

// Get returns the value stored under key.
func (o Object) Get(key string) (any, bool) {
	for i, k := range o.Keys {
		if k == key {
			return o.Values[i], true
		}
	}
	return nil, false
}

// MarshalJSON implements json.Marshaler.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := AppendJSON(&buf, key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := AppendJSON(&buf, o.Values[i]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// AppendJSON writes the JSON text of v to buf without HTML escaping and
// without a trailing newline.
func AppendJSON(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1)
	return nil
}
