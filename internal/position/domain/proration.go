package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DaysBetween counts calendar days from a to b in UTC. It is negative when b
// precedes a.
func DaysBetween(a, b time.Time) int {
	ad := time.Date(a.UTC().Year(), a.UTC().Month(), a.UTC().Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.UTC().Year(), b.UTC().Month(), b.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}

// ElapsedFactor is elapsed/period.
func ElapsedFactor(period, elapsed int, clamp bool) decimal.Decimal {
	if period <= 0 {
		return decimal.Zero
	}
	f := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(period)))
	if clamp {
		return Clamp01(f)
	}
	return f
}

// RemainingFactor is (period-elapsed)/period.
func RemainingFactor(period, elapsed int, clamp bool) decimal.Decimal {
	if period <= 0 {
		return decimal.Zero
	}
	f := decimal.NewFromInt(int64(period - elapsed)).Div(decimal.NewFromInt(int64(period)))
	if clamp {
		return Clamp01(f)
	}
	return f
}

// UnusedFactor is like RemainingFactor but may exceed 1 when the anchor lies
// in the future, i.e. periods were paid ahead. Clamping only cuts below 0.
func UnusedFactor(period, elapsed int, clamp bool) decimal.Decimal {
	f := RemainingFactor(period, elapsed, false)
	if clamp && f.IsNegative() {
		return decimal.Zero
	}
	return f
}

func Clamp01(f decimal.Decimal) decimal.Decimal {
	if f.IsNegative() {
		return decimal.Zero
	}
	if f.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return f
}
