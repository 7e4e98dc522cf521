// Package decimalx provides tick/lot alignment and basis-point helpers
// shared by the quoter and the re-quote guard. All
// arithmetic is exact decimal; floor/ceil are implemented as integer
// division on the step count, never float rounding.
package decimalx

import "github.com/shopspring/decimal"

// FloorToStep rounds v down to the nearest multiple of step. step must be
// positive; a non-positive step returns v unchanged.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	quot := v.Div(step).Floor()
	return quot.Mul(step)
}

// CeilToStep rounds v up to the nearest multiple of step. step must be
// positive; a non-positive step returns v unchanged.
func CeilToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	quot := v.Div(step).Ceil()
	return quot.Mul(step)
}

// DiffBps returns the basis-point distance between a and b relative to
// their average magnitude: |a-b| / ((|a|+|b|)/2) * 10000. Returns zero
// when both are zero, avoiding a division by zero.
func DiffBps(a, b decimal.Decimal) decimal.Decimal {
	denom := a.Abs().Add(b.Abs()).Div(decimal.NewFromInt(2))
	if denom.Sign() == 0 {
		return decimal.Zero
	}
	return a.Sub(b).Abs().Div(denom).Mul(decimal.NewFromInt(10000))
}

// BpsOf returns price * bps / 10000, exact decimal.
func BpsOf(price decimal.Decimal, bps int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(bps))).Div(decimal.NewFromInt(10000))
}
