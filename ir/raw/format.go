package raw

import (
	"math"
	"strconv"
	"strings"
)

// FormatReal renders f with at most four decimals and no trailing zeros, the
// precision used for every real written to content and object streams.
func FormatReal(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	s := strconv.FormatFloat(f, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}
