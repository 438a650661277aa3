package config

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	// MaxDefaultBatchBytes caps the default batch budget.
	MaxDefaultBatchBytes = 32 << 20
	// MinDefaultBatchBytes is the floor on hosts reporting little memory.
	MinDefaultBatchBytes = 1 << 20
)

// DefaultBatchBytes is 32 MiB, or an eighth of the available memory when
// that is smaller.
func DefaultBatchBytes() int64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return MaxDefaultBatchBytes
	}
	b := int64(vm.Available / 8)
	return max(MinDefaultBatchBytes, min(b, MaxDefaultBatchBytes))
}

// ParseSize parses a byte size. Bare numbers are bytes; the single-letter
// suffixes k, m and g are 1024-based; anything go-humanize accepts (10MB,
// 4MiB, 1.5 GiB) is taken as humanize reads it.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if l := len(s); l > 1 && strings.ContainsAny(s[l-1:], "kKmMgG") && strings.ContainsAny(s[l-2:l-1], "0123456789. ") {
		s += "iB"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeValidation, "invalid byte size").WithDetail("value", s)
	}
	return int64(n), nil
}

// FormatSize renders a byte count with 1024-based units.
func FormatSize(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}
