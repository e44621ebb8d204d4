package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Transaction methods recorded on ledger entries.
const (
	MethodPrepaid    = "prepaid"
	MethodRefund     = "refund"
	MethodDeposit    = "deposit"
	MethodInvoice    = "invoice"
	MethodShop       = "shop"
	MethodCorrection = "correction"
)

// PrepaidHistory is one signed movement on a user's prepaid account. Rows
// are appended only; the balance is the sum over a user's rows.
type PrepaidHistory struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID            snowflake.ID    `gorm:"not null;index" json:"user_id"`
	CreatorUserID     *snowflake.ID   `json:"creator_user_id,omitempty"`
	ContractID        *snowflake.ID   `gorm:"index" json:"contract_id,omitempty"`
	InvoiceID         *snowflake.ID   `gorm:"index" json:"invoice_id,omitempty"`
	ShopOrderID       *snowflake.ID   `gorm:"index" json:"shop_order_id,omitempty"`
	Amount            decimal.Decimal `gorm:"type:decimal(15,4);not null" json:"amount"`
	TransactionMethod string          `gorm:"type:text;not null" json:"transaction_method"`
	TransactionID     string          `gorm:"type:text" json:"transaction_id,omitempty"`
	Note              string          `gorm:"type:text" json:"note,omitempty"`
	CreatedAt         time.Time       `gorm:"not null;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"not null" json:"updated_at"`
}

func (PrepaidHistory) TableName() string { return "prepaid_histories" }
