// Package convert maps database column values onto JSON values.
package convert

import (
	"fmt"
)

// Kind is the JSON conversion rule applied to a column.
type Kind int

const (
	KindBool Kind = iota + 1
	KindInt16
	KindInt32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindText
	KindJSON
	// KindDecodedJSON holds JSON the driver has already unmarshalled into
	// Go values.
	KindDecodedJSON
	// KindDynamic classifies each value by its Go type. Used for SQLite
	// expression columns, which carry no declared type.
	KindDynamic
)

var kindNames = map[Kind]string{
	KindBool:        "bool",
	KindInt16:       "int16",
	KindInt32:       "int32",
	KindInt64:       "int64",
	KindUint64:      "uint64",
	KindFloat32:     "float32",
	KindFloat64:     "float64",
	KindText:        "text",
	KindJSON:        "json",
	KindDecodedJSON: "decoded json",
	KindDynamic:     "dynamic",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Column describes one result column and its declared wire type.
type Column struct {
	Name string

	// TypeName is the engine's own name for the wire type, e.g. "int4",
	// "_text" or "INTEGER[]".
	TypeName string

	Kind Kind

	// Array marks a one-dimensional array whose elements follow Kind.
	Array bool

	// OID is the PostgreSQL type OID. Zero for other engines.
	OID uint32
}

// UnsupportedTypeError reports a column whose wire type has no JSON mapping.
type UnsupportedTypeError struct {
	Column   string
	TypeName string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("could not convert column '%s' to json: unsupported column type '%s'", e.Column, e.TypeName)
}

// Names returns the column names in result order.
func Names(columns []Column) []string {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
	}
	return names
}
