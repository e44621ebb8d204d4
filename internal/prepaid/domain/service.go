package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/precondition"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
	"gorm.io/gorm"
)

// Ledger is used by other billing services inside their own transaction.
type Ledger interface {
	Balance(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (decimal.Decimal, error)
	// Debit locks the owner, verifies the balance covers amount and appends -amount.
	Debit(ctx context.Context, tx *gorm.DB, entry Entry) (*PrepaidHistory, error)
	// Credit appends +amount.
	Credit(ctx context.Context, tx *gorm.DB, entry Entry) (*PrepaidHistory, error)
	// Reverse appends -amount without a balance check. It undoes an earlier
	// credit and may leave the account negative.
	Reverse(ctx context.Context, tx *gorm.DB, entry Entry) (*PrepaidHistory, error)
}

// Entry describes a movement. Amount is always given as a positive magnitude.
type Entry struct {
	UserID        snowflake.ID
	Creator       actor.Actor
	Amount        decimal.Decimal
	Method        string
	TransactionID string
	ContractID    *snowflake.ID
	InvoiceID     *snowflake.ID
	ShopOrderID   *snowflake.ID
	Note          string
}

type Service interface {
	Ledger

	GetBalance(ctx context.Context, a actor.Actor, userID snowflake.ID) (decimal.Decimal, error)
	Deposit(ctx context.Context, a actor.Actor, req DepositRequest) (*PrepaidHistory, error)
	List(ctx context.Context, a actor.Actor, userID *snowflake.ID, grid pagination.GridRequest) (*pagination.GridResponse[PrepaidHistory], error)
	// Correct edits an existing entry in place. Only admins may do this.
	Correct(ctx context.Context, a actor.Actor, entryID snowflake.ID, req CorrectRequest) (*PrepaidHistory, error)
}

type DepositRequest struct {
	UserID        snowflake.ID    `json:"user_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	Method        string          `json:"transaction_method"`
	TransactionID string          `json:"transaction_id"`
	Note          string          `json:"note"`
}

type CorrectRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
	Note   string          `json:"note"`
}

var (
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrInvalidUser   = errors.New("invalid_user")
	ErrNotFound      = errors.New("prepaid_entry_not_found")

	ErrInsufficientBalance = precondition.ErrInsufficientBalance
)
