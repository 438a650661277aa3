package schema

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var le = binary.LittleEndian

// ArrowType returns the Arrow type used for the column in memory.
func (f Field) ArrowType() arrow.DataType {
	switch f.Type {
	case Bool:
		return arrow.FixedWidthTypes.Boolean
	case Int8:
		return arrow.PrimitiveTypes.Int8
	case Int16:
		return arrow.PrimitiveTypes.Int16
	case Int32:
		return arrow.PrimitiveTypes.Int32
	case Int64:
		return arrow.PrimitiveTypes.Int64
	case Uint8:
		return arrow.PrimitiveTypes.Uint8
	case Uint16:
		return arrow.PrimitiveTypes.Uint16
	case Uint32:
		return arrow.PrimitiveTypes.Uint32
	case Uint64:
		return arrow.PrimitiveTypes.Uint64
	case Float32:
		return arrow.PrimitiveTypes.Float32
	case Float64:
		return arrow.PrimitiveTypes.Float64
	case String:
		return &arrow.FixedSizeBinaryType{ByteWidth: f.Width}
	default:
		return arrow.Null
	}
}

func (f Field) mismatch(arr arrow.Array) error {
	return errors.Newf(errors.ErrorTypeSchemaMismatch, "array of type %s does not hold %s", arr.DataType(), TypeName(f)).
		WithColumn(f.Name)
}

// Encode serializes an array into fixed-width little-endian bytes.
func (f Field) Encode(arr arrow.Array) ([]byte, error) {
	n := arr.Len()
	out := make([]byte, n*f.Width)
	switch f.Type {
	case Bool:
		a, ok := arr.(*array.Boolean)
		if !ok {
			return nil, f.mismatch(arr)
		}
		for i := 0; i < n; i++ {
			if a.Value(i) {
				out[i] = 1
			}
		}
	case Int8:
		a, ok := arr.(*array.Int8)
		if !ok {
			return nil, f.mismatch(arr)
		}
		for i, v := range a.Int8Values() {
			out[i] = byte(v)
		}
	case Uint8:
		a, ok := arr.(*array.Uint8)
		if !ok {
			return nil, f.mismatch(arr)
		}
		copy(out, a.Uint8Values())
	case Int16:
		a, ok := arr.(*array.Int16)
		if !ok {
			return nil, f.mismatch(arr)
		}
		for i, v := range a.Int16Values() {
			le.PutUint16(out[i*2:], uint16(v))
		}
	case Uint16:
		a, ok := arr.(*array.Uint16)
		if !ok {
			return nil, f.mismatch(arr)
		}
		for i, v := range a.Uint16Values() {
			le.PutUint16(out[i*2:], v)
		}
	case Int32:
		a, ok := arr.(*array.Int32)
		if !ok {
			return nil, f.mismatch(arr)
		}
		for i, v := range a.Int32Values() {
			le.PutUint32(out[i*4:], uint32(v))
		}
	case Uint32:
		a, ok := arr.(*array.Uint32)
		if !ok {
			return nil, f.mismatch(arr)
		}
		for i, v := range a.Uint32Values() {
			le.PutUint32(out[i*4:], v)
		}
	case Float32:
		a, ok := arr.(*array.Float32)
		if !ok {
			return nil, f.mismatch(arr)
		}
		for i, v := range a.Float32Values() {
			le.PutUint32(out[i*4:], math.Float32bits(v))
		}
	case Int64:
		a, ok := arr.(*array.Int64)
		if !ok {
			return nil, f.mismatch(arr)
		}
		for i, v := range a.Int64Values() {
			le.PutUint64(out[i*8:], uint64(v))
		}
	case Uint64:
		a, ok := arr.(*array.Uint64)
		if !ok {
			return nil, f.mismatch(arr)
		}
		for i, v := range a.Uint64Values() {
			le.PutUint64(out[i*8:], v)
		}
	case Float64:
		a, ok := arr.(*array.Float64)
		if !ok {
			return nil, f.mismatch(arr)
		}
		for i, v := range a.Float64Values() {
			le.PutUint64(out[i*8:], math.Float64bits(v))
		}
	case String:
		a, ok := arr.(*array.FixedSizeBinary)
		if !ok || a.DataType().(*arrow.FixedSizeBinaryType).ByteWidth != f.Width {
			return nil, f.mismatch(arr)
		}
		for i := 0; i < n; i++ {
			copy(out[i*f.Width:(i+1)*f.Width], a.Value(i))
		}
	default:
		return nil, f.mismatch(arr)
	}
	return out, nil
}

type valuesBuilder[T any] interface {
	AppendValues(v []T, valid []bool)
	NewArray() arrow.Array
	Release()
}

func buildArray[T any](b valuesBuilder[T], n int, get func(i int) T) arrow.Array {
	defer b.Release()
	vals := make([]T, n)
	for i := range vals {
		vals[i] = get(i)
	}
	b.AppendValues(vals, nil)
	return b.NewArray()
}

// Decode builds an array from fixed-width little-endian bytes. A nil
// allocator means memory.DefaultAllocator.
func (f Field) Decode(mem memory.Allocator, raw []byte) (arrow.Array, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	if len(raw)%f.Width != 0 {
		return nil, errors.Newf(errors.ErrorTypeBackendIO, "%d bytes is not a multiple of width %d", len(raw), f.Width).
			WithColumn(f.Name)
	}
	n := len(raw) / f.Width
	switch f.Type {
	case Bool:
		return buildArray[bool](array.NewBooleanBuilder(mem), n, func(i int) bool { return raw[i] != 0 }), nil
	case Int8:
		return buildArray[int8](array.NewInt8Builder(mem), n, func(i int) int8 { return int8(raw[i]) }), nil
	case Uint8:
		return buildArray[uint8](array.NewUint8Builder(mem), n, func(i int) uint8 { return raw[i] }), nil
	case Int16:
		return buildArray[int16](array.NewInt16Builder(mem), n, func(i int) int16 { return int16(le.Uint16(raw[i*2:])) }), nil
	case Uint16:
		return buildArray[uint16](array.NewUint16Builder(mem), n, func(i int) uint16 { return le.Uint16(raw[i*2:]) }), nil
	case Int32:
		return buildArray[int32](array.NewInt32Builder(mem), n, func(i int) int32 { return int32(le.Uint32(raw[i*4:])) }), nil
	case Uint32:
		return buildArray[uint32](array.NewUint32Builder(mem), n, func(i int) uint32 { return le.Uint32(raw[i*4:]) }), nil
	case Float32:
		return buildArray[float32](array.NewFloat32Builder(mem), n, func(i int) float32 { return math.Float32frombits(le.Uint32(raw[i*4:])) }), nil
	case Int64:
		return buildArray[int64](array.NewInt64Builder(mem), n, func(i int) int64 { return int64(le.Uint64(raw[i*8:])) }), nil
	case Uint64:
		return buildArray[uint64](array.NewUint64Builder(mem), n, func(i int) uint64 { return le.Uint64(raw[i*8:]) }), nil
	case Float64:
		return buildArray[float64](array.NewFloat64Builder(mem), n, func(i int) float64 { return math.Float64frombits(le.Uint64(raw[i*8:])) }), nil
	case String:
		b := array.NewFixedSizeBinaryBuilder(mem, &arrow.FixedSizeBinaryType{ByteWidth: f.Width})
		defer b.Release()
		b.Reserve(n)
		for i := 0; i < n; i++ {
			b.Append(raw[i*f.Width : (i+1)*f.Width])
		}
		return b.NewArray(), nil
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "column type is invalid").WithColumn(f.Name)
	}
}

// Value returns element i of a column array widened to int64, uint64,
// float64, bool or string. String padding is stripped.
func (f Field) Value(arr arrow.Array, i int) interface{} {
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i)
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int64:
		return a.Value(i)
	case *array.Uint8:
		return uint64(a.Value(i))
	case *array.Uint16:
		return uint64(a.Value(i))
	case *array.Uint32:
		return uint64(a.Value(i))
	case *array.Uint64:
		return a.Value(i)
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.FixedSizeBinary:
		return TrimPadding(a.Value(i))
	default:
		return nil
	}
}

// Float returns element i of a numeric or boolean array as float64.
func Float(arr arrow.Array, i int) (float64, bool) {
	switch a := arr.(type) {
	case *array.Boolean:
		if a.Value(i) {
			return 1, true
		}
		return 0, true
	case *array.Int8:
		return float64(a.Value(i)), true
	case *array.Int16:
		return float64(a.Value(i)), true
	case *array.Int32:
		return float64(a.Value(i)), true
	case *array.Int64:
		return float64(a.Value(i)), true
	case *array.Uint8:
		return float64(a.Value(i)), true
	case *array.Uint16:
		return float64(a.Value(i)), true
	case *array.Uint32:
		return float64(a.Value(i)), true
	case *array.Uint64:
		return float64(a.Value(i)), true
	case *array.Float32:
		return float64(a.Value(i)), true
	case *array.Float64:
		return a.Value(i), true
	default:
		return 0, false
	}
}

// TrimPadding strips the NUL padding of a fixed-width string value.
func TrimPadding(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// PadString encodes s into a NUL-padded value of the field's width,
// truncating longer strings.
func (f Field) PadString(s string) []byte {
	out := make([]byte, f.Width)
	copy(out, s)
	return out
}

// FloatAt reads value i of a fixed-width column buffer as float64. It
// reports false for string columns.
func (f Field) FloatAt(raw []byte, i int) (float64, bool) {
	switch f.Type {
	case Bool, Uint8:
		return float64(raw[i]), true
	case Int8:
		return float64(int8(raw[i])), true
	case Int16:
		return float64(int16(le.Uint16(raw[i*2:]))), true
	case Uint16:
		return float64(le.Uint16(raw[i*2:])), true
	case Int32:
		return float64(int32(le.Uint32(raw[i*4:]))), true
	case Uint32:
		return float64(le.Uint32(raw[i*4:])), true
	case Float32:
		return float64(math.Float32frombits(le.Uint32(raw[i*4:]))), true
	case Int64:
		return float64(int64(le.Uint64(raw[i*8:]))), true
	case Uint64:
		return float64(le.Uint64(raw[i*8:])), true
	case Float64:
		return math.Float64frombits(le.Uint64(raw[i*8:])), true
	default:
		return 0, false
	}
}

// Gather copies the values at the given positions of a fixed-width column
// buffer into a new buffer, in the order given.
func (f Field) Gather(raw []byte, positions []int) []byte {
	w := f.Width
	out := make([]byte, len(positions)*w)
	for k, p := range positions {
		copy(out[k*w:(k+1)*w], raw[p*w:(p+1)*w])
	}
	return out
}
