package model

import "github.com/shopspring/decimal"

// Decimal is the canonical fixed-precision numeric type for every price and
// size in the model. shopspring/decimal stores an arbitrary-precision
// integer coefficient plus a base-10 exponent, so equality and ordering are
// exact scaled-integer comparisons, never float comparisons.
type Decimal = decimal.Decimal

// ParseDecimal parses a venue-native numeric string (always sent as JSON
// strings by every venue this gateway talks to, to avoid float precision
// loss in transit).
func ParseDecimal(s string) (Decimal, error) {
	return decimal.NewFromString(s)
}

// MustDecimal parses s or panics; only used for constants in tests and the
// mock generator, never on a venue-controlled input.
func MustDecimal(s string) Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var DecimalZero = decimal.Zero
