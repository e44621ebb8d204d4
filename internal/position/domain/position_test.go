package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestPositionSums(t *testing.T) {
	p := Position{Name: "Hosting", Amount: d("10"), Quantity: d("3"), VatPercentage: d("19")}

	assert.True(t, p.NetSum().Equal(d("30")))
	assert.True(t, p.Vat().Equal(d("5.7")))
	assert.True(t, p.GrossSum().Equal(d("35.7")))
}

func TestPositionDiscounts(t *testing.T) {
	pct := Position{Name: "A", Amount: d("100"), Quantity: d("1"), DiscountType: DiscountPercentage, DiscountValue: d("10")}
	assert.True(t, pct.NetSum().Equal(d("90")))

	fixed := Position{Name: "B", Amount: d("100"), Quantity: d("1"), DiscountType: DiscountFixed, DiscountValue: d("25")}
	assert.True(t, fixed.NetSum().Equal(d("75")))

	over := Position{Name: "C", Amount: d("10"), Quantity: d("1"), DiscountType: DiscountFixed, DiscountValue: d("25")}
	assert.True(t, over.NetSum().IsZero())

	negated := fixed.Negate()
	assert.True(t, negated.NetSum().Equal(d("-75")))
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	id := snowflake.ID(42)
	p := Position{Name: "A", Amount: d("5"), Quantity: d("1"), DiscountID: &id}

	cp := p.Snapshot()
	*cp.DiscountID = 7
	cp.Amount = d("9")

	assert.Equal(t, snowflake.ID(42), *p.DiscountID)
	assert.True(t, p.Amount.Equal(d("5")))
}

func TestScale(t *testing.T) {
	p := Position{Name: "A", Amount: d("100"), Quantity: d("1")}

	assert.True(t, p.Scale(d("0.5")).Amount.Equal(d("50")))
	assert.True(t, p.Scale(decimal.Zero).Amount.IsZero())
	assert.True(t, p.Scale(d("1")).Amount.Equal(d("100")))
	assert.True(t, p.Amount.Equal(d("100")), "scaling must not mutate the source")
}

func TestTotalsReverseCharge(t *testing.T) {
	lines := []Position{
		{Name: "A", Amount: d("100"), Quantity: d("1"), VatPercentage: d("19")},
		{Name: "B", Amount: d("50"), Quantity: d("2"), VatPercentage: d("7")},
	}

	totals := Totals(lines, false)
	assert.True(t, totals.Net.Equal(d("200")))
	assert.True(t, totals.Vat.Equal(d("26")))
	assert.True(t, totals.Gross.Equal(d("226")))

	rc := Totals(lines, true)
	assert.True(t, rc.Vat.IsZero())
	assert.True(t, rc.Gross.Equal(d("200")))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Position{Name: "A", Quantity: d("1")}.Validate())
	assert.ErrorIs(t, Position{Quantity: d("1")}.Validate(), ErrInvalidName)
	assert.ErrorIs(t, Position{Name: "A"}.Validate(), ErrInvalidQuantity)
	assert.ErrorIs(t, Position{Name: "A", Quantity: d("1"), VatPercentage: d("101")}.Validate(), ErrInvalidVat)
}

func TestProrationFactors(t *testing.T) {
	start := time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 16, 9, 0, 0, 0, time.UTC)
	elapsed := DaysBetween(start, now)
	assert.Equal(t, 15, elapsed)

	assert.True(t, ElapsedFactor(30, elapsed, true).Equal(d("0.5")))
	assert.True(t, RemainingFactor(30, elapsed, true).Equal(d("0.5")))
	assert.True(t, RemainingFactor(30, 30, true).IsZero())

	assert.True(t, RemainingFactor(30, 45, true).IsZero())
	assert.True(t, RemainingFactor(30, 45, false).Equal(d("-0.5")))
	assert.True(t, ElapsedFactor(30, 45, true).Equal(d("1")))
	assert.True(t, ElapsedFactor(0, 10, true).IsZero())

	assert.True(t, UnusedFactor(30, -20, true).Equal(decimal.NewFromInt(50).Div(decimal.NewFromInt(30))))
	assert.True(t, UnusedFactor(30, 45, true).IsZero())
	assert.True(t, UnusedFactor(30, 45, false).Equal(d("-0.5")))
}
