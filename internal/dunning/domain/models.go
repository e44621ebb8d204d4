package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// InvoiceDunning is one escalation level of an invoice type. After counts days
// past the due date, Period is the payment term granted by the reminder.
type InvoiceDunning struct {
	ID                    snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceTypeID         snowflake.ID    `gorm:"not null;uniqueIndex:idx_dunning_type_after" json:"invoice_type_id"`
	After                 int             `gorm:"column:after_days;not null;uniqueIndex:idx_dunning_type_after" json:"after"`
	Period                int             `gorm:"not null;default:7" json:"period"`
	FixedAmount           decimal.Decimal `gorm:"type:decimal(15,4);not null;default:0" json:"fixed_amount"`
	PercentageAmount      decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"percentage_amount"`
	CancelContractRegular bool            `gorm:"not null;default:false" json:"cancel_contract_regular"`
	CancelContractInstant bool            `gorm:"not null;default:false" json:"cancel_contract_instant"`
	CreatedAt             time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"not null" json:"updated_at"`
}

func (InvoiceDunning) TableName() string { return "invoice_dunnings" }

var hundred = decimal.NewFromInt(100)

// Fee is the fixed part plus the percentage of gross, rounded to cents.
func (d InvoiceDunning) Fee(gross decimal.Decimal) decimal.Decimal {
	return d.FixedAmount.Add(gross.Mul(d.PercentageAmount).Div(hundred)).Round(2)
}

type InvoiceReminder struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID snowflake.ID    `gorm:"not null;uniqueIndex:idx_reminder_invoice_dunning" json:"invoice_id"`
	DunningID snowflake.ID    `gorm:"not null;uniqueIndex:idx_reminder_invoice_dunning" json:"dunning_id"`
	Level     int             `gorm:"not null" json:"level"`
	Number    string          `gorm:"type:text;not null" json:"number"`
	Fee       decimal.Decimal `gorm:"type:decimal(15,4);not null;default:0" json:"fee"`
	FileID    *snowflake.ID   `json:"file_id,omitempty"`
	DueAt     time.Time       `gorm:"not null" json:"due_at"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
}

func (InvoiceReminder) TableName() string { return "invoice_reminders" }
