// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	positiondomain "github.com/smallbiznis/fakturo/internal/position/domain"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	StatusTemplate InvoiceStatus = "template"
	StatusUnpaid   InvoiceStatus = "unpaid"
	StatusPaid     InvoiceStatus = "paid"
	StatusRefund   InvoiceStatus = "refund"
	StatusRefunded InvoiceStatus = "refunded"
	StatusRevoked  InvoiceStatus = "revoked"
)

// IsCorrection reports whether the status marks a negating invoice.
func (s InvoiceStatus) IsCorrection() bool {
	return s == StatusRefund || s == StatusRefunded || s == StatusRevoked
}

type TypeKind string

const (
	TypeNormal     TypeKind = "normal"
	TypeAutoRevoke TypeKind = "auto_revoke"
	TypePrepaid    TypeKind = "prepaid"
)

// InvoiceType sets payment terms. Period is the number of days until due.
type InvoiceType struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"id"`
	Name       string        `gorm:"type:text;not null" json:"name"`
	Type       TypeKind      `gorm:"type:text;not null" json:"type"`
	Period     int           `gorm:"not null;default:14" json:"period"`
	Dunning    bool          `gorm:"not null;default:false" json:"dunning"`
	DiscountID *snowflake.ID `json:"discount_id,omitempty"`
	CreatedAt  time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time     `gorm:"not null" json:"updated_at"`
}

func (InvoiceType) TableName() string { return "invoice_types" }

// Invoice is a billing document. Once archived it is never edited; a
// correction is a new invoice pointing at it through OriginalID.
type Invoice struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID        snowflake.ID      `gorm:"not null;index" json:"user_id"`
	TypeID        snowflake.ID      `gorm:"not null;index" json:"type_id"`
	ContractID    *snowflake.ID     `gorm:"index" json:"contract_id,omitempty"`
	Status        InvoiceStatus     `gorm:"type:text;not null;index" json:"status"`
	Number        *string           `gorm:"type:varchar(64);uniqueIndex" json:"number,omitempty"`
	ArchivedAt    *time.Time        `json:"archived_at,omitempty"`
	DueAt         *time.Time        `gorm:"index" json:"due_at,omitempty"`
	FileID        *snowflake.ID     `json:"file_id,omitempty"`
	ReverseCharge bool              `gorm:"not null;default:false" json:"reverse_charge"`
	OriginalID    *snowflake.ID     `gorm:"index" json:"original_id,omitempty"`
	Positions     []InvoicePosition `gorm:"foreignKey:InvoiceID" json:"positions,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

func (i Invoice) IsArchived() bool { return i.ArchivedAt != nil }

// Lines returns the positions as plain values.
func (i Invoice) Lines() []positiondomain.Position {
	out := make([]positiondomain.Position, 0, len(i.Positions))
	for _, p := range i.Positions {
		out = append(out, p.Position)
	}
	return out
}

func (i Invoice) Totals() positiondomain.Sums {
	return positiondomain.Totals(i.Lines(), i.ReverseCharge)
}

// InvoicePosition owns its copy of the line.
type InvoicePosition struct {
	ID                      snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID               snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	positiondomain.Position `gorm:"embedded"`
	CreatedAt               time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time `gorm:"not null" json:"updated_at"`
}

func (InvoicePosition) TableName() string { return "invoice_positions" }

type HistoryAction string

const (
	ActionCreate  HistoryAction = "create"
	ActionPublish HistoryAction = "publish"
	ActionPay     HistoryAction = "pay"
	ActionUnpay   HistoryAction = "unpay"
	ActionRefund  HistoryAction = "refund"
	ActionRevoke  HistoryAction = "revoke"
	ActionRemind  HistoryAction = "remind"
)

// InvoiceHistory is the append-only audit trail of an invoice.
type InvoiceHistory struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	InvoiceID snowflake.ID      `gorm:"not null;index" json:"invoice_id"`
	ActorID   *snowflake.ID     `json:"actor_id,omitempty"`
	Action    HistoryAction     `gorm:"type:text;not null" json:"action"`
	Status    InvoiceStatus     `gorm:"type:text;not null" json:"status"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null;index" json:"created_at"`
}

func (InvoiceHistory) TableName() string { return "invoice_histories" }

// InvoiceSequence hands out invoice numbers per calendar year.
type InvoiceSequence struct {
	Year       int       `gorm:"primaryKey;autoIncrement:false"`
	NextNumber int64     `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (InvoiceSequence) TableName() string { return "invoice_sequences" }
