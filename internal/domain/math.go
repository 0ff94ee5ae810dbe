package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a provider-reported numeric string. Empty input is zero;
// anything else that is not a decimal number is an ErrParse.
func ParseAmount(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrParse, value)
	}
	return d, nil
}

// SafeParse parses a string into a decimal, returning zero for invalid or empty input.
func SafeParse(value string) decimal.Decimal {
	d, err := ParseAmount(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// PositionValue is price * holdings.
func PositionValue(price, holdings decimal.Decimal) decimal.Decimal {
	return price.Mul(holdings)
}

// PercentOfTotal returns value as a percentage of total, 0 unless total is positive.
func PercentOfTotal(value, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return value.Div(total).Mul(decimal.NewFromInt(100))
}
