package common

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// FormatMoney renders an amount in yuan with thousands separators: ¥12,345.68
func FormatMoney(v float64) string {
	if v < 0 {
		return "-¥" + humanize.FormatFloat("#,###.##", math.Abs(v))
	}
	return "¥" + humanize.FormatFloat("#,###.##", v)
}

// FormatSignedMoney always carries a sign: +¥12.30, -¥4.00
func FormatSignedMoney(v float64) string {
	if v < 0 {
		return FormatMoney(v)
	}
	return "+" + FormatMoney(v)
}

// FormatSignedPct renders a percentage with an explicit sign: +1.23%
func FormatSignedPct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}
