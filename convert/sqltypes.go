package convert

import (
	"strings"
)

// Dialect names a database/sql engine family.
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectDuckDB Dialect = "duckdb"
	DialectSQLite Dialect = "sqlite"
)

var mysqlKinds = map[string]Kind{
	"TINYINT":            KindInt16,
	"UNSIGNED TINYINT":   KindInt16,
	"SMALLINT":           KindInt16,
	"UNSIGNED SMALLINT":  KindInt32,
	"MEDIUMINT":          KindInt32,
	"UNSIGNED MEDIUMINT": KindInt32,
	"INT":                KindInt32,
	"UNSIGNED INT":       KindInt64,
	"BIGINT":             KindInt64,
	"UNSIGNED BIGINT":    KindUint64,
	"FLOAT":              KindFloat32,
	"DOUBLE":             KindFloat64,
	"CHAR":               KindText,
	"VARCHAR":            KindText,
	"TINYTEXT":           KindText,
	"TEXT":               KindText,
	"MEDIUMTEXT":         KindText,
	"LONGTEXT":           KindText,
	"JSON":               KindJSON,
	"NULL":               KindText,
}

var duckdbKinds = map[string]Kind{
	"BOOLEAN":   KindBool,
	"TINYINT":   KindInt16,
	"UTINYINT":  KindInt16,
	"SMALLINT":  KindInt16,
	"USMALLINT": KindInt32,
	"INTEGER":   KindInt32,
	"UINTEGER":  KindInt64,
	"BIGINT":    KindInt64,
	"UBIGINT":   KindUint64,
	"FLOAT":     KindFloat32,
	"DOUBLE":    KindFloat64,
	"VARCHAR":   KindText,
	"JSON":      KindDecodedJSON,
	"SQLNULL":   KindText,
}

// sqliteKinds covers declared column types after affinity-style
// normalization. Every integer is stored as a 64-bit value.
var sqliteKinds = map[string]Kind{
	"BOOL":     KindBool,
	"BOOLEAN":  KindBool,
	"INT":      KindInt64,
	"INTEGER":  KindInt64,
	"TINYINT":  KindInt64,
	"SMALLINT": KindInt64,
	"BIGINT":   KindInt64,
	"REAL":     KindFloat64,
	"FLOAT":    KindFloat64,
	"DOUBLE":   KindFloat64,
	"TEXT":     KindText,
	"CHAR":     KindText,
	"VARCHAR":  KindText,
	"CLOB":     KindText,
	"JSON":     KindJSON,
}

// SQLColumn resolves the wire type of a database/sql result column from the
// driver's DatabaseTypeName.
func SQLColumn(dialect Dialect, name, typeName string) (Column, error) {
	base := normalizeTypeName(typeName)

	switch dialect {
	case DialectMySQL:
		if kind, ok := mysqlKinds[base]; ok {
			return Column{Name: name, TypeName: typeName, Kind: kind}, nil
		}
	case DialectDuckDB:
		if elem, ok := strings.CutSuffix(base, "[]"); ok {
			// Nested lists are not one-dimensional
			if kind, ok := duckdbKinds[elem]; ok && !strings.HasSuffix(elem, "[]") {
				return Column{Name: name, TypeName: typeName, Kind: kind, Array: true}, nil
			}
			break
		}
		if kind, ok := duckdbKinds[base]; ok {
			return Column{Name: name, TypeName: typeName, Kind: kind}, nil
		}
	case DialectSQLite:
		if base == "" {
			return Column{Name: name, TypeName: typeName, Kind: KindDynamic}, nil
		}
		if kind, ok := sqliteKinds[base]; ok {
			return Column{Name: name, TypeName: typeName, Kind: kind}, nil
		}
	}

	return Column{}, &UnsupportedTypeError{Column: name, TypeName: typeName}
}

// normalizeTypeName upper-cases a declared type and drops any length or
// precision suffix, so "varchar(32)" resolves like "VARCHAR".
func normalizeTypeName(typeName string) string {
	name := strings.ToUpper(strings.TrimSpace(typeName))
	if open := strings.IndexByte(name, '('); open >= 0 {
		if end := strings.IndexByte(name[open:], ')'); end >= 0 {
			name = strings.TrimSpace(name[:open] + name[open+end+1:])
		}
	}
	return name
}
