package convert

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgtype"
)

// pgScalar is the decoding rule for one supported PostgreSQL scalar type.
type pgScalar struct {
	kind    Kind
	newElem func() pgtype.ValueTranscoder
}

var postgresScalars = map[uint32]pgScalar{
	pgtype.BoolOID:    {KindBool, func() pgtype.ValueTranscoder { return &pgtype.Bool{} }},
	pgtype.Int2OID:    {KindInt16, func() pgtype.ValueTranscoder { return &pgtype.Int2{} }},
	pgtype.Int4OID:    {KindInt32, func() pgtype.ValueTranscoder { return &pgtype.Int4{} }},
	pgtype.Int8OID:    {KindInt64, func() pgtype.ValueTranscoder { return &pgtype.Int8{} }},
	pgtype.Float4OID:  {KindFloat32, func() pgtype.ValueTranscoder { return &pgtype.Float4{} }},
	pgtype.Float8OID:  {KindFloat64, func() pgtype.ValueTranscoder { return &pgtype.Float8{} }},
	pgtype.BPCharOID:  {KindText, func() pgtype.ValueTranscoder { return &pgtype.BPChar{} }},
	pgtype.VarcharOID: {KindText, func() pgtype.ValueTranscoder { return &pgtype.Varchar{} }},
	pgtype.TextOID:    {KindText, func() pgtype.ValueTranscoder { return &pgtype.Text{} }},
	pgtype.JSONOID:    {KindJSON, func() pgtype.ValueTranscoder { return &rawJSON{} }},
	pgtype.JSONBOID:   {KindJSON, func() pgtype.ValueTranscoder { return &rawJSONB{} }},
}

// postgresArrays maps each supported array OID to its element OID.
var postgresArrays = map[uint32]uint32{
	pgtype.BoolArrayOID:    pgtype.BoolOID,
	pgtype.Int2ArrayOID:    pgtype.Int2OID,
	pgtype.Int4ArrayOID:    pgtype.Int4OID,
	pgtype.Int8ArrayOID:    pgtype.Int8OID,
	pgtype.Float4ArrayOID:  pgtype.Float4OID,
	pgtype.Float8ArrayOID:  pgtype.Float8OID,
	pgtype.BPCharArrayOID:  pgtype.BPCharOID,
	pgtype.VarcharArrayOID: pgtype.VarcharOID,
	pgtype.TextArrayOID:    pgtype.TextOID,
	pgtype.JSONArrayOID:    pgtype.JSONOID,
	pgtype.JSONBArrayOID:   pgtype.JSONBOID,
}

// rawJSON keeps json values as raw text instead of unmarshalling them.
type rawJSON struct{ pgtype.JSON }

func (j rawJSON) Get() interface{} {
	if j.Status != pgtype.Present {
		return nil
	}
	return json.RawMessage(bytes.Clone(j.Bytes))
}

type rawJSONB struct{ pgtype.JSONB }

func (j rawJSONB) Get() interface{} {
	if j.Status != pgtype.Present {
		return nil
	}
	return json.RawMessage(bytes.Clone(j.Bytes))
}

// PostgresDecoder converts raw PostgreSQL row values of one result set.
type PostgresDecoder struct {
	ci      *pgtype.ConnInfo
	columns []Column
	formats []int16
}

// NewPostgresDecoder resolves the wire type of every field in a row
// description. It fails on the first field without a JSON mapping.
func NewPostgresDecoder(ci *pgtype.ConnInfo, fields []pgproto3.FieldDescription) (*PostgresDecoder, error) {
	d := &PostgresDecoder{
		ci:      ci,
		columns: make([]Column, len(fields)),
		formats: make([]int16, len(fields)),
	}
	for i, fd := range fields {
		col, err := PostgresColumn(ci, string(fd.Name), fd.DataTypeOID)
		if err != nil {
			return nil, err
		}
		d.columns[i] = col
		d.formats[i] = fd.Format
	}
	return d, nil
}

// PostgresColumn resolves the wire type of a single column.
func PostgresColumn(ci *pgtype.ConnInfo, name string, oid uint32) (Column, error) {
	typeName := postgresTypeName(ci, oid)
	if scalar, ok := postgresScalars[oid]; ok {
		return Column{Name: name, TypeName: typeName, Kind: scalar.kind, OID: oid}, nil
	}
	if elemOID, ok := postgresArrays[oid]; ok {
		return Column{Name: name, TypeName: typeName, Kind: postgresScalars[elemOID].kind, Array: true, OID: oid}, nil
	}
	return Column{}, &UnsupportedTypeError{Column: name, TypeName: typeName}
}

func postgresTypeName(ci *pgtype.ConnInfo, oid uint32) string {
	if ci != nil {
		if dt, ok := ci.DataTypeForOID(oid); ok {
			return dt.Name
		}
	}
	return fmt.Sprintf("oid:%d", oid)
}

// Columns returns the resolved columns.
func (d *PostgresDecoder) Columns() []Column {
	return d.columns
}

// DecodeRow decodes one row of raw values into dst, which must have one
// slot per column.
func (d *PostgresDecoder) DecodeRow(raw [][]byte, dst []any) error {
	if len(raw) != len(d.columns) || len(dst) != len(d.columns) {
		return fmt.Errorf("row has %d values for %d columns", len(raw), len(d.columns))
	}
	for i, col := range d.columns {
		v, err := d.decode(col, d.formats[i], raw[i])
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

func (d *PostgresDecoder) decode(col Column, format int16, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}

	var value pgtype.ValueTranscoder
	if col.Array {
		if multiDimensional(format, src) {
			return nil, &UnsupportedTypeError{Column: col.Name, TypeName: col.TypeName + " (multi-dimensional)"}
		}
		elemOID := postgresArrays[col.OID]
		value = pgtype.NewArrayType(col.TypeName, elemOID, postgresScalars[elemOID].newElem)
	} else {
		value = postgresScalars[col.OID].newElem()
	}

	var err error
	if format == pgtype.BinaryFormatCode {
		err = value.DecodeBinary(d.ci, src)
	} else {
		err = value.DecodeText(d.ci, src)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode column '%s' (%s): %w", col.Name, col.TypeName, err)
	}

	return Convert(col, value.Get())
}

// multiDimensional peeks at an array header. Binary arrays start with the
// dimension count. Text arrays either carry one [lower:upper] group per
// dimension before '=' or nest braces.
func multiDimensional(format int16, src []byte) bool {
	if format == pgtype.BinaryFormatCode {
		return len(src) >= 4 && binary.BigEndian.Uint32(src) > 1
	}
	src = bytes.TrimLeft(src, " \t\r\n")
	if len(src) > 0 && src[0] == '[' {
		bounds, _, _ := bytes.Cut(src, []byte("="))
		return bytes.Count(bounds, []byte("[")) > 1
	}
	return bytes.HasPrefix(src, []byte("{{"))
}
