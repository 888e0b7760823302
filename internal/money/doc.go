// Package money enforces currency-specific decimal precision.
//
// Monetary values stay exact decimals internally; only serialization for
// transport truncates, rounding half-to-even at each currency's scale.
// A monetary value is never rendered as a binary floating-point
// approximation.
package money
