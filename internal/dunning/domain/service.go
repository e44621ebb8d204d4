package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/precondition"
)

type Service interface {
	CreateRule(ctx context.Context, a actor.Actor, req RuleRequest) (*InvoiceDunning, error)
	ListRules(ctx context.Context, a actor.Actor, invoiceTypeID snowflake.ID) ([]InvoiceDunning, error)
	DeleteRule(ctx context.Context, a actor.Actor, id snowflake.ID) error
	ListReminders(ctx context.Context, a actor.Actor, invoiceID snowflake.ID) ([]InvoiceReminder, error)

	// Sweep sends due reminders and revokes overdue auto_revoke invoices.
	Sweep(ctx context.Context) (SweepResult, error)
}

type RuleRequest struct {
	InvoiceTypeID         snowflake.ID    `json:"invoice_type_id" binding:"required"`
	After                 int             `json:"after" binding:"gte=0"`
	Period                int             `json:"period" binding:"gte=0"`
	FixedAmount           decimal.Decimal `json:"fixed_amount"`
	PercentageAmount      decimal.Decimal `json:"percentage_amount"`
	CancelContractRegular bool            `json:"cancel_contract_regular"`
	CancelContractInstant bool            `json:"cancel_contract_instant"`
}

type SweepResult struct {
	Reminders          int `json:"reminders"`
	Revoked            int `json:"revoked"`
	ContractsStopped   int `json:"contracts_stopped"`
	ContractsCancelled int `json:"contracts_cancelled"`
}

var (
	ErrRuleNotFound = errors.New("dunning_rule_not_found")
	ErrInvalidRule  = errors.New("invalid_dunning_rule")

	ErrDuplicateRule = precondition.New("dunning_rule_exists")
	ErrRuleInUse     = precondition.New("dunning_rule_in_use")
)
