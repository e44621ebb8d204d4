package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	positiondomain "github.com/smallbiznis/fakturo/internal/position/domain"
)

type TypeKind string

const (
	TypePrePay        TypeKind = "contract_pre_pay"
	TypePostPay       TypeKind = "contract_post_pay"
	TypePrepaidAuto   TypeKind = "prepaid_auto"
	TypePrepaidManual TypeKind = "prepaid_manual"
	TypeNormal        TypeKind = "normal"
)

func (k TypeKind) IsPrepaid() bool {
	return k == TypePrepaidAuto || k == TypePrepaidManual
}

func (k TypeKind) Valid() bool {
	switch k {
	case TypePrePay, TypePostPay, TypePrepaidAuto, TypePrepaidManual, TypeNormal:
		return true
	}
	return false
}

// ContractType sets the billing rules. Periods are in days.
type ContractType struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	Name               string       `gorm:"type:text;not null" json:"name"`
	Type               TypeKind     `gorm:"type:text;not null" json:"type"`
	InvoicePeriod      int          `gorm:"not null;default:0" json:"invoice_period"`
	CancellationPeriod int          `gorm:"not null;default:0" json:"cancellation_period"`
	InvoiceTypeID      snowflake.ID `gorm:"not null" json:"invoice_type_id"`
	CreatedAt          time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null" json:"updated_at"`
}

func (ContractType) TableName() string { return "contract_types" }

// Contract state is never stored. See DeriveState.
type Contract struct {
	ID                    snowflake.ID       `gorm:"primaryKey" json:"id"`
	UserID                snowflake.ID       `gorm:"not null;index" json:"user_id"`
	TypeID                snowflake.ID       `gorm:"not null;index" json:"type_id"`
	StartedAt             *time.Time         `json:"started_at,omitempty"`
	LastInvoiceAt         *time.Time         `json:"last_invoice_at,omitempty"`
	CancelledAt           *time.Time         `json:"cancelled_at,omitempty"`
	CancellationRevokedAt *time.Time         `json:"cancellation_revoked_at,omitempty"`
	CancelledTo           *time.Time         `json:"cancelled_to,omitempty"`
	Positions             []ContractPosition `gorm:"foreignKey:ContractID" json:"positions,omitempty"`
	CreatedAt             time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time          `gorm:"not null" json:"updated_at"`
}

func (Contract) TableName() string { return "contracts" }

// ContractPosition is a contract line with an optional service window.
type ContractPosition struct {
	ID                      snowflake.ID `gorm:"primaryKey" json:"id"`
	ContractID              snowflake.ID `gorm:"not null;index" json:"contract_id"`
	positiondomain.Position `gorm:"embedded"`
	StartedAt               *time.Time `json:"started_at,omitempty"`
	EndedAt                 *time.Time `json:"ended_at,omitempty"`
	CreatedAt               time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"not null" json:"updated_at"`
}

func (ContractPosition) TableName() string { return "contract_positions" }

func (p ContractPosition) ActiveAt(t time.Time) bool {
	if p.StartedAt != nil && p.StartedAt.After(t) {
		return false
	}
	if p.EndedAt != nil && !p.EndedAt.After(t) {
		return false
	}
	return true
}

// ActivePositions returns copies of the lines active at t.
func (c Contract) ActivePositions(t time.Time) []positiondomain.Position {
	out := make([]positiondomain.Position, 0, len(c.Positions))
	for _, p := range c.Positions {
		if p.ActiveAt(t) {
			out = append(out, p.Position.Snapshot())
		}
	}
	return out
}

// Totals sums the active lines. Contracts carry no reverse charge.
func (c Contract) Totals(t time.Time) positiondomain.Sums {
	return positiondomain.Totals(c.ActivePositions(t), false)
}

// Anchor is the start of the current billing period.
func (c Contract) Anchor() *time.Time {
	if c.LastInvoiceAt != nil {
		return c.LastInvoiceAt
	}
	return c.StartedAt
}

// PositionsDuring returns copies of the lines active at any point of [from, to).
func (c Contract) PositionsDuring(from, to time.Time) []positiondomain.Position {
	out := make([]positiondomain.Position, 0, len(c.Positions))
	for _, p := range c.Positions {
		if p.StartedAt != nil && !p.StartedAt.Before(to) {
			continue
		}
		if p.EndedAt != nil && !p.EndedAt.After(from) {
			continue
		}
		out = append(out, p.Position.Snapshot())
	}
	return out
}
