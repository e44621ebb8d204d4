package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// AmountScale is the stored precision of unit amounts.
const AmountScale = 4

var (
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidVat       = errors.New("invalid_vat_percentage")
	ErrInvalidDiscount  = errors.New("invalid_discount")
	ErrDiscountNotFound = errors.New("discount_not_found")
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type Discount struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name      string          `gorm:"type:text;not null" json:"name"`
	Type      DiscountType    `gorm:"type:text;not null" json:"type"`
	Value     decimal.Decimal `gorm:"type:decimal(15,4);not null" json:"value"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null" json:"updated_at"`
}

func (Discount) TableName() string { return "discounts" }

func (d Discount) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrInvalidName
	}
	switch d.Type {
	case DiscountPercentage:
		if d.Value.IsNegative() || d.Value.GreaterThan(decimal.NewFromInt(100)) {
			return ErrInvalidDiscount
		}
	case DiscountFixed:
		if d.Value.IsNegative() {
			return ErrInvalidDiscount
		}
	default:
		return ErrInvalidDiscount
	}
	return nil
}

// Position is a billable line. It is embedded by value into contract and
// invoice rows, so every owner holds its own copy and a discount is frozen
// into the line when it is attached.
type Position struct {
	Name          string          `gorm:"type:text;not null" json:"name"`
	Description   string          `gorm:"type:text" json:"description"`
	Amount        decimal.Decimal `gorm:"type:decimal(15,4);not null;default:0" json:"amount"`
	VatPercentage decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"vat_percentage"`
	Quantity      decimal.Decimal `gorm:"type:decimal(15,4);not null;default:1" json:"quantity"`
	DiscountID    *snowflake.ID   `json:"discount_id,omitempty"`
	DiscountType  DiscountType    `gorm:"type:text" json:"discount_type,omitempty"`
	DiscountValue decimal.Decimal `gorm:"type:decimal(15,4);not null;default:0" json:"discount_value"`
}

var hundred = decimal.NewFromInt(100)

func (p Position) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidName
	}
	if !p.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if p.VatPercentage.IsNegative() || p.VatPercentage.GreaterThan(hundred) {
		return ErrInvalidVat
	}
	return nil
}

// ApplyDiscount freezes the discount terms into the line.
func (p *Position) ApplyDiscount(d *Discount) {
	if d == nil {
		p.DiscountID = nil
		p.DiscountType = ""
		p.DiscountValue = decimal.Zero
		return
	}
	id := d.ID
	p.DiscountID = &id
	p.DiscountType = d.Type
	p.DiscountValue = d.Value
}

// NetSum is amount × quantity after discount. A fixed discount shrinks the
// magnitude and never flips the sign.
func (p Position) NetSum() decimal.Decimal {
	net := p.Amount.Mul(p.Quantity)
	switch p.DiscountType {
	case DiscountPercentage:
		net = net.Mul(hundred.Sub(p.DiscountValue)).Div(hundred)
	case DiscountFixed:
		magnitude := net.Abs().Sub(p.DiscountValue)
		if magnitude.IsNegative() {
			magnitude = decimal.Zero
		}
		if net.IsNegative() {
			magnitude = magnitude.Neg()
		}
		net = magnitude
	}
	return net
}

func (p Position) Vat() decimal.Decimal {
	return p.NetSum().Mul(p.VatPercentage).Div(hundred)
}

func (p Position) GrossSum() decimal.Decimal {
	return p.NetSum().Add(p.Vat())
}

// Snapshot returns an independent copy of the line.
func (p Position) Snapshot() Position {
	cp := p
	if p.DiscountID != nil {
		id := *p.DiscountID
		cp.DiscountID = &id
	}
	return cp
}

// Scale returns a copy with the unit amount multiplied by factor.
func (p Position) Scale(factor decimal.Decimal) Position {
	cp := p.Snapshot()
	cp.Amount = p.Amount.Mul(factor).Round(AmountScale)
	if p.DiscountType == DiscountFixed {
		cp.DiscountValue = p.DiscountValue.Mul(factor).Round(AmountScale)
	}
	return cp
}

// Negate returns a copy whose amount has the opposite sign.
func (p Position) Negate() Position {
	cp := p.Snapshot()
	cp.Amount = p.Amount.Neg()
	return cp
}

// Sums holds net, VAT and gross amounts of a set of lines.
type Sums struct {
	Net   decimal.Decimal `json:"net"`
	Vat   decimal.Decimal `json:"vat"`
	Gross decimal.Decimal `json:"gross"`
}

// Totals sums the lines. With reverse charge no VAT is due.
func Totals(positions []Position, reverseCharge bool) Sums {
	t := Sums{Net: decimal.Zero, Vat: decimal.Zero}
	for _, p := range positions {
		t.Net = t.Net.Add(p.NetSum())
		if !reverseCharge {
			t.Vat = t.Vat.Add(p.Vat())
		}
	}
	t.Gross = t.Net.Add(t.Vat)
	return t
}

// Display rounds totals to cents.
func (t Sums) Display() Sums {
	return Sums{Net: t.Net.Round(2), Vat: t.Vat.Round(2), Gross: t.Gross.Round(2)}
}
