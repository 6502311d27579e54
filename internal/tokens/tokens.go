// Package tokens provides shared token-amount parsing and formatting.
//
// Token amounts are fixed-point decimals with 2 decimal places, carried as
// strings at API boundaries and as big.Int in the smallest unit internally
// (1 token = 100 units). Floating point is never used for ledger math.
package tokens

import (
	"math/big"
	"strings"
)

const Decimals = 2

// Parse converts a non-negative decimal string (e.g. "12.5") to its
// smallest-unit big.Int representation (1250). Returns (nil, false) on
// invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 2 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// ParseSigned is Parse that also accepts a leading minus sign. Ledger
// history deltas are signed; everything else goes through Parse.
func ParseSigned(s string) (*big.Int, bool) {
	if strings.HasPrefix(s, "-") {
		abs, ok := Parse(s[1:])
		if !ok {
			return nil, false
		}
		return abs.Neg(abs), true
	}
	return Parse(s)
}

// Format converts a smallest-unit big.Int to a decimal string with exactly
// 2 decimal places (e.g. "12.50"). Negative values keep their sign, which
// is how debit deltas appear in ledger history.
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}
