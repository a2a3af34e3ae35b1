package services

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Amounts travel over the wire as decimal strings ("100.50") and are stored
// as int64 minor units. Two decimal places, single implicit currency.

func amountBounds() (decimal.Decimal, decimal.Decimal) {
	viper.SetDefault("wallet.min_amount", "0.01")
	viper.SetDefault("wallet.max_amount", "1000000.00")

	min, err := decimal.NewFromString(viper.GetString("wallet.min_amount"))
	if err != nil {
		min = decimal.New(1, -2)
	}
	max, err := decimal.NewFromString(viper.GetString("wallet.max_amount"))
	if err != nil {
		max = decimal.New(100000000, -2)
	}
	return min, max
}

// ParseAmount converts a decimal amount string to minor units, enforcing
// positivity, the configured bounds and a two-decimal-place precision limit.
func ParseAmount(raw string) (int64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, raw)
	}

	if d.Exponent() < -2 {
		return 0, fmt.Errorf("%w: at most two decimal places allowed", ErrInvalidAmount)
	}

	min, max := amountBounds()
	if d.LessThan(min) {
		return 0, fmt.Errorf("%w: amount must be at least %s", ErrInvalidAmount, min.StringFixed(2))
	}
	if d.GreaterThan(max) {
		return 0, fmt.Errorf("%w: amount exceeds maximum of %s", ErrInvalidAmount, max.StringFixed(2))
	}

	return d.Shift(2).IntPart(), nil
}

// FormatAmount renders minor units as a two-decimal string.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
