// Package schema defines the column schema shared by every table backend:
// an ordered list of uniquely named, fixed-width primitive columns.
//
// # Types
//
// Numeric columns are 1, 2, 4 or 8 bytes wide. Booleans occupy one byte.
// String columns carry a declared width; shorter values are padded with NUL
// bytes and the padding is stripped when a value is read back.
//
// # Encoding
//
// Every backend persists a column as the concatenation of its fixed-width
// little-endian values, so Field.Encode and Field.Decode are the single
// conversion point between stored bytes and in-memory Arrow arrays.
package schema

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/apache/arrow-go/v18/arrow"
)

// Type is a primitive column type.
type Type uint8

const (
	Invalid Type = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
)

// Size returns the byte width of fixed-size types, 0 for String.
func (t Type) Size() int {
	switch t {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// IsNumeric reports whether values of t compare as numbers.
func (t Type) IsNumeric() bool {
	return t != Invalid && t != Bool && t != String
}

// Field is one column of a schema.
type Field struct {
	Name  string `json:"name" yaml:"name"`
	Type  Type   `json:"type" yaml:"type"`
	Width int    `json:"width" yaml:"width"`
}

// NewField returns a fixed-size field of type t.
func NewField(name string, t Type) Field {
	return Field{Name: name, Type: t, Width: t.Size()}
}

// StringField returns a string field of the declared width.
func StringField(name string, width int) Field {
	return Field{Name: name, Type: String, Width: width}
}

func (f Field) validate() error {
	if f.Name == "" {
		return errors.New(errors.ErrorTypeValidation, "column name is empty")
	}
	if f.Type == Invalid || f.Type > String {
		return errors.New(errors.ErrorTypeValidation, "column type is invalid").WithColumn(f.Name)
	}
	if f.Type == String {
		if f.Width <= 0 {
			return errors.New(errors.ErrorTypeValidation, "string column needs a positive width").WithColumn(f.Name)
		}
		return nil
	}
	if f.Width != f.Type.Size() {
		return errors.Newf(errors.ErrorTypeValidation, "width %d does not match %s", f.Width, f.Type).WithColumn(f.Name)
	}
	return nil
}

// String renders the field as name:type.
func (f Field) String() string {
	return f.Name + ":" + TypeName(f)
}

// Schema is an immutable ordered set of fields.
type Schema struct {
	fields  []Field
	byName  map[string]int
	rowSize int
}

// New builds a schema, rejecting empty or duplicate names and bad widths.
func New(fields ...Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "schema has no columns")
	}
	s := &Schema{
		fields: make([]Field, len(fields)),
		byName: make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if err := f.validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, errors.New(errors.ErrorTypeValidation, "duplicate column name").WithColumn(f.Name)
		}
		s.fields[i] = f
		s.byName[f.Name] = i
		s.rowSize += f.Width
	}
	return s, nil
}

// MustNew is New for statically known schemas; it panics on error.
func MustNew(fields ...Field) *Schema {
	s, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.fields) }

// Field returns the i-th column.
func (s *Schema) Field(i int) Field { return s.fields[i] }

// Fields returns a copy of the columns in order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the column names in order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Lookup finds a column by name.
func (s *Schema) Lookup(name string) (Field, int, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, -1, false
	}
	return s.fields[i], i, true
}

// RowSize is the sum of the column widths.
func (s *Schema) RowSize() int { return s.rowSize }

// Project returns the schema narrowed to names, in the given order.
func (s *Schema) Project(names []string) (*Schema, error) {
	fields := make([]Field, 0, len(names))
	for _, n := range names {
		f, _, ok := s.Lookup(n)
		if !ok {
			return nil, errors.New(errors.ErrorTypeSchemaMismatch, "projection names an unknown column").WithColumn(n)
		}
		fields = append(fields, f)
	}
	return New(fields...)
}

// Equal reports whether both schemas have the same columns in the same order.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.fields) != len(other.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

// Diff describes the first difference between two schemas, or "" if equal.
func (s *Schema) Diff(other *Schema) string {
	if s.Equal(other) {
		return ""
	}
	if len(s.fields) != len(other.fields) {
		return fmt.Sprintf("%d columns vs %d", len(s.fields), len(other.fields))
	}
	for i := range s.fields {
		if s.fields[i] != other.fields[i] {
			return fmt.Sprintf("column %d: %s vs %s", i, s.fields[i], other.fields[i])
		}
	}
	return ""
}

// Arrow returns the equivalent Arrow schema.
func (s *Schema) Arrow() *arrow.Schema {
	fields := make([]arrow.Field, len(s.fields))
	for i, f := range s.fields {
		fields[i] = arrow.Field{Name: f.Name, Type: f.ArrowType()}
	}
	return arrow.NewSchema(fields, nil)
}

// String renders the schema as (name:type, ...).
func (s *Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
