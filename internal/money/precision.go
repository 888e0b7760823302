package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency scales. Fiat and coarse units round to cents; XRP is bounded at
// drops; everything else gets standard cryptocurrency precision.
const (
	ScaleFiat    int32 = 2
	ScaleXRP     int32 = 6
	ScaleDefault int32 = 8
)

// ScaleFor returns the number of decimal places a currency's values are
// rounded to at serialization.
func ScaleFor(ticker string) int32 {
	switch strings.ToUpper(ticker) {
	case "USD", "EUR", "NXT":
		return ScaleFiat
	case "XRP":
		return ScaleXRP
	default:
		return ScaleDefault
	}
}

// Format renders a value as its currency-scaled fixed-point string,
// rounding half-to-even at the target scale. Internal computation retains
// full precision; only this boundary truncates.
func Format(value decimal.Decimal, ticker string) string {
	scale := ScaleFor(ticker)
	return value.RoundBank(scale).StringFixed(scale)
}
