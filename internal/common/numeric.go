package common

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of every calendar date.
const DateLayout = "2006-01-02"

// Round2 rounds half away from zero to 2 decimal places. Non-finite values
// become 0 so they never reach JSON encoding.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Round4 rounds to 4 decimal places, the precision NAVs are published at.
func Round4(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}

// NormalizeDate parses a date in YYYY-MM-DD or YYYY/MM/DD form (optionally
// followed by a time) and returns it as YYYY-MM-DD. ok is false when the
// input is not a date.
func NormalizeDate(s string) (string, bool) {
	if len(s) < 10 {
		return "", false
	}
	s = s[:10]
	for _, layout := range []string{DateLayout, "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout), true
		}
	}
	return "", false
}
