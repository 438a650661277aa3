package index

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"math"

	"github.com/ajitpratap0/tabular/pkg/schema"
)

var le = binary.LittleEndian

// comparator orders rows a and b by their values in raw, the full
// fixed-width buffer of column f. 64-bit integers compare exactly; strings
// compare bytewise, so NUL padding sorts before any other byte. NaN sorts
// before every other float.
func comparator(f schema.Field, raw []byte) func(a, b int64) int {
	w := int64(f.Width)
	switch f.Type {
	case schema.Int64:
		return func(a, b int64) int {
			return cmp.Compare(int64(le.Uint64(raw[a*8:])), int64(le.Uint64(raw[b*8:])))
		}
	case schema.Uint64:
		return func(a, b int64) int {
			return cmp.Compare(le.Uint64(raw[a*8:]), le.Uint64(raw[b*8:]))
		}
	case schema.Float64:
		return func(a, b int64) int {
			return cmp.Compare(math.Float64frombits(le.Uint64(raw[a*8:])), math.Float64frombits(le.Uint64(raw[b*8:])))
		}
	case schema.String:
		return func(a, b int64) int {
			return bytes.Compare(raw[a*w:(a+1)*w], raw[b*w:(b+1)*w])
		}
	default:
		// every remaining type is exact in float64
		return func(a, b int64) int {
			x, _ := f.FloatAt(raw, int(a))
			y, _ := f.FloatAt(raw, int(b))
			return cmp.Compare(x, y)
		}
	}
}
