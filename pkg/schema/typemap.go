package schema

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/tabular/pkg/errors"
)

// Lookup tables between types and their external spellings. They are
// constant; every function below fails for names outside them.

var typeNames = [...]string{
	Invalid: "invalid",
	Bool:    "bool",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
	String:  "string",
}

var typeAliases = map[string]Type{
	"bool":    Bool,
	"boolean": Bool,
	"int8":    Int8,
	"int16":   Int16,
	"int32":   Int32,
	"int64":   Int64,
	"uint8":   Uint8,
	"uint16":  Uint16,
	"uint32":  Uint32,
	"uint64":  Uint64,
	"float32": Float32,
	"float":   Float32,
	"float64": Float64,
	"double":  Float64,
	"string":  String,
}

// branch leaf type codes used by the branch store metadata
var branchCodes = map[Type]string{
	Int8:    "B",
	Uint8:   "b",
	Int16:   "S",
	Uint16:  "s",
	Int32:   "I",
	Uint32:  "i",
	Int64:   "L",
	Uint64:  "l",
	Float32: "F",
	Float64: "D",
	Bool:    "O",
	String:  "C",
}

// String returns the canonical type name.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "invalid"
}

// MarshalText encodes the canonical type name.
func (t Type) MarshalText() ([]byte, error) {
	if t == Invalid || int(t) >= len(typeNames) {
		return nil, errors.Newf(errors.ErrorTypeValidation, "cannot encode type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType resolves a type name, case-insensitively.
func ParseType(name string) (Type, error) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Invalid, errors.New(errors.ErrorTypeValidation, "unmapped type name").WithDetail("type", name)
	}
	return t, nil
}

// TypeName renders a field's type; strings carry their width as S<width>.
func TypeName(f Field) string {
	if f.Type == String {
		return "S" + strconv.Itoa(f.Width)
	}
	return f.Type.String()
}

// ParseField parses a "name:type" declaration, where type is a type name or
// S<width> for strings.
func ParseField(decl string) (Field, error) {
	name, typ, ok := strings.Cut(decl, ":")
	if !ok || name == "" || typ == "" {
		return Field{}, errors.New(errors.ErrorTypeValidation, "column declaration must be name:type").WithDetail("declaration", decl)
	}
	if len(typ) > 1 && (typ[0] == 'S' || typ[0] == 's') {
		if w, err := strconv.Atoi(typ[1:]); err == nil {
			if w <= 0 {
				return Field{}, errors.New(errors.ErrorTypeValidation, "string width must be positive").WithColumn(name)
			}
			return StringField(name, w), nil
		}
	}
	t, err := ParseType(typ)
	if err != nil {
		return Field{}, err
	}
	if t == String {
		return Field{}, errors.New(errors.ErrorTypeValidation, "string columns need a width, e.g. S16").WithColumn(name)
	}
	return NewField(name, t), nil
}

// BranchCode returns the branch leaf code of a type.
func BranchCode(t Type) (string, error) {
	code, ok := branchCodes[t]
	if !ok {
		return "", errors.New(errors.ErrorTypeValidation, "type has no branch code").WithDetail("type", t.String())
	}
	return code, nil
}

// TypeFromBranchCode is the inverse of BranchCode.
func TypeFromBranchCode(code string) (Type, error) {
	for t, c := range branchCodes {
		if c == code {
			return t, nil
		}
	}
	return Invalid, errors.New(errors.ErrorTypeValidation, "unmapped branch code").WithDetail("code", code)
}
