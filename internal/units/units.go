// Package units converts between human-readable sizes as printed by the
// hypervisor (e.g. "512.00 MiB") and byte counts.
//
// All conversions are binary (1024-based). "GB" and "GiB" are the same unit.
package units

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// ErrUnknownUnit is returned when a unit suffix is not one of the supported
// binary units.
var ErrUnknownUnit = errors.New("units: unknown unit")

// ErrOutOfRange is returned when a size does not fit in an int64 byte
// count.
var ErrOutOfRange = errors.New("units: size out of range")

var multipliers = map[string]float64{
	"b":   1,
	"kb":  units.KiB,
	"kib": units.KiB,
	"mb":  units.MiB,
	"mib": units.MiB,
	"gb":  units.GiB,
	"gib": units.GiB,
	"tb":  units.TiB,
	"tib": units.TiB,
}

var formatNames = []string{"B", "KB", "MB", "GB", "TB"}

// ToBytes converts value expressed in unit to a byte count. The unit is
// matched case-insensitively. An unrecognized unit returns ErrUnknownUnit
// and a result beyond int64 returns ErrOutOfRange.
func ToBytes(value float64, unit string) (int64, error) {
	m, ok := multipliers[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownUnit, unit)
	}
	return round(value * m)
}

// round converts b to the nearest int64. Float to int conversion of an
// out-of-range value is implementation-defined, so it is rejected here.
func round(b float64) (int64, error) {
	r := math.Round(b)
	if math.IsNaN(r) || r >= math.MaxInt64 || r < math.MinInt64 {
		return 0, fmt.Errorf("%w: %g bytes", ErrOutOfRange, b)
	}
	return int64(r), nil
}

// ToBytesLenient behaves like ToBytes but treats an unrecognized unit as
// bytes. A size out of range is 0.
func ToBytesLenient(value float64, unit string) int64 {
	n, err := ToBytes(value, unit)
	if errors.Is(err, ErrUnknownUnit) {
		n, _ = round(value)
	}
	return n
}

// FormatBytes renders b using the largest unit that keeps the magnitude
// below 1024, rounded to two decimals. Zero renders as "0 B".
func FormatBytes(b int64) string {
	if b == 0 {
		return "0 B"
	}
	if b < 0 {
		return "-" + FormatBytes(-b)
	}
	return units.CustomSize("%.2f %s", float64(b), 1024, formatNames)
}

// ParseSize parses "<number> <unit>" (the format produced by FormatBytes)
// into a byte count. The space between number and unit is optional.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != '-'
	})
	if i <= 0 {
		return 0, fmt.Errorf("units: invalid size %q", s)
	}
	value, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, fmt.Errorf("units: invalid size %q: %w", s, err)
	}
	return ToBytes(value, s[i:])
}
