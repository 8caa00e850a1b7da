// Package core provides number parsing and currency formatting utilities.
//
// Amounts in the source sheet are plain floats; cents are not used because the
// sheet itself stores fractional values such as 33127.16.
package core

import (
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseNumber converts text to a float the way a lenient numeric coercion
// would: surrounding spaces are ignored, NaN and infinities are rejected.
//
// Examples:
//
//	ParseNumber("3.5")   -> 3.5, true
//	ParseNumber(" 12 ")  -> 12, true
//	ParseNumber("5-nov") -> 0, false
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FormatBRL renders an amount as "R$ 82,745.00".
func FormatBRL(amount float64) string {
	return "R$ " + humanize.FormatFloat("#,###.##", amount)
}

// FormatWhole renders an amount without decimals, e.g. "R$ 82,745".
func FormatWhole(amount float64) string {
	return "R$ " + humanize.FormatFloat("#,###.", math.Round(amount))
}
