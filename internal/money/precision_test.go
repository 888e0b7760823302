package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestScaleFor(t *testing.T) {
	tests := []struct {
		ticker string
		want   int32
	}{
		{"USD", 2},
		{"usd", 2},
		{"EUR", 2},
		{"NXT", 2},
		{"XRP", 6},
		{"xrp", 6},
		{"BTC", 8},
		{"LTC", 8},
		{"DOGE", 8},
		{"UNKNOWN", 8},
	}

	for _, tt := range tests {
		t.Run(tt.ticker, func(t *testing.T) {
			if got := ScaleFor(tt.ticker); got != tt.want {
				t.Errorf("ScaleFor(%q) = %d, want %d", tt.ticker, got, tt.want)
			}
		})
	}
}

func TestFormatRoundHalfToEven(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		ticker string
		want   string
	}{
		// Exact ties round to the even digit.
		{"usd tie rounds down to even", "1.005", "USD", "1.00"},
		{"eur tie rounds down to even", "1.005", "EUR", "1.00"},
		{"nxt tie rounds down to even", "1.005", "NXT", "1.00"},
		{"usd tie rounds up to even", "1.015", "USD", "1.02"},
		{"xrp tie rounds down to even", "0.0000005", "XRP", "0.000000"},
		{"xrp tie rounds up to even", "0.0000015", "XRP", "0.000002"},
		{"default tie rounds down to even", "0.123456785", "BTC", "0.12345678"},
		{"default tie rounds up to even", "0.123456775", "BTC", "0.12345678"},

		// Non-ties round normally.
		{"usd round up", "2.509", "USD", "2.51"},
		{"usd round down", "2.501", "USD", "2.50"},
		{"btc round up", "0.123456789", "BTC", "0.12345679"},

		// Padding to the currency scale.
		{"usd pads to cents", "5", "USD", "5.00"},
		{"xrp pads to drops", "1.5", "XRP", "1.500000"},
		{"btc pads to satoshis", "0.1", "BTC", "0.10000000"},

		// Negative values.
		{"negative usd tie", "-1.005", "USD", "-1.00"},
		{"negative usd round", "-2.509", "USD", "-2.51"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decimal.NewFromString(tt.value)
			if err != nil {
				t.Fatalf("parse %q: %v", tt.value, err)
			}
			if got := Format(d, tt.ticker); got != tt.want {
				t.Errorf("Format(%s, %s) = %q, want %q", tt.value, tt.ticker, got, tt.want)
			}
		})
	}
}

func TestFormatKeepsInternalPrecision(t *testing.T) {
	// Formatting truncates only at the boundary; the value itself is
	// untouched.
	d := decimal.RequireFromString("0.123456789123")
	_ = Format(d, "USD")

	if d.String() != "0.123456789123" {
		t.Errorf("value mutated by Format: %s", d.String())
	}
}
