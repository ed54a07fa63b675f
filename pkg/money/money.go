/**
 * @description
 * Conversion between human amounts ("12.50") and the int64 minor units the engines
 * account in.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact decimal parsing and scaling.
 */
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// ToMinor parses a whole-unit amount and scales it to minor units. Amounts with more
// fractional digits than decimals are rejected rather than rounded.
func ToMinor(raw string, decimals int32) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, raw, decimals)
	}
	if scaled.Abs().GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, raw)
	}
	return scaled.IntPart(), nil
}

// Format renders minor units as a fixed-point string.
func Format(minor int64, decimals int32) string {
	return decimal.New(minor, -decimals).StringFixed(decimals)
}
