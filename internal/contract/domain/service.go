package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/precondition"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
)

type Service interface {
	CreateType(ctx context.Context, a actor.Actor, req TypeRequest) (*ContractType, error)
	ListTypes(ctx context.Context, a actor.Actor) ([]ContractType, error)

	Create(ctx context.Context, a actor.Actor, req CreateRequest) (*Contract, error)
	AddPosition(ctx context.Context, a actor.Actor, id snowflake.ID, req PositionRequest) (*ContractPosition, error)
	// EndPosition closes a line on a running contract and deletes it from a template.
	EndPosition(ctx context.Context, a actor.Actor, id, positionID snowflake.ID) error
	Delete(ctx context.Context, a actor.Actor, id snowflake.ID) error
	Get(ctx context.Context, a actor.Actor, id snowflake.ID) (*View, error)
	List(ctx context.Context, a actor.Actor, grid pagination.GridRequest) (*pagination.GridResponse[View], error)

	Transitions
}

// Transitions are the lifecycle operations. Each one runs in a single
// transaction under the contract lock and leaves the contract untouched when
// it is refused.
type Transitions interface {
	Start(ctx context.Context, a actor.Actor, id snowflake.ID) (*Contract, error)
	Extend(ctx context.Context, a actor.Actor, id snowflake.ID) (*Contract, error)
	Stop(ctx context.Context, a actor.Actor, id snowflake.ID) (*Contract, error)
	Cancel(ctx context.Context, a actor.Actor, id snowflake.ID) (*Contract, error)
	Restart(ctx context.Context, a actor.Actor, id snowflake.ID) (*Contract, error)
	RevokeCancellation(ctx context.Context, a actor.Actor, id snowflake.ID) (*Contract, error)
}

// Biller runs the periodic billing passes.
type Biller interface {
	// BillDuePeriods issues the next invoice for pre- and post-pay contracts whose period has elapsed.
	BillDuePeriods(ctx context.Context) (int, error)
	// RenewPrepaid charges the next period of prepaid contracts or lets them expire.
	RenewPrepaid(ctx context.Context) (int, error)
}

// View is a contract with its derived state.
type View struct {
	Contract
	State State           `json:"state"`
	Gross decimal.Decimal `json:"gross"`
}

type TypeRequest struct {
	Name               string       `json:"name" binding:"required"`
	Type               TypeKind     `json:"type" binding:"required"`
	InvoicePeriod      int          `json:"invoice_period" binding:"gte=0"`
	CancellationPeriod int          `json:"cancellation_period" binding:"gte=0"`
	InvoiceTypeID      snowflake.ID `json:"invoice_type_id" binding:"required"`
}

type CreateRequest struct {
	UserID snowflake.ID `json:"user_id" binding:"required"`
	TypeID snowflake.ID `json:"type_id" binding:"required"`
}

type PositionRequest struct {
	Name          string          `json:"name" binding:"required"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	VatPercentage decimal.Decimal `json:"vat_percentage"`
	Quantity      decimal.Decimal `json:"quantity"`
	DiscountID    *snowflake.ID   `json:"discount_id"`
	StartedAt     *time.Time      `json:"started_at"`
	EndedAt       *time.Time      `json:"ended_at"`
}

var (
	ErrNotFound         = errors.New("contract_not_found")
	ErrTypeNotFound     = errors.New("contract_type_not_found")
	ErrPositionNotFound = errors.New("contract_position_not_found")
	ErrInvalidType      = errors.New("invalid_contract_type")
	ErrInvalidWindow    = errors.New("invalid_position_window")

	ErrAlreadyStarted      = precondition.New("already_started")
	ErrNotDeletable        = precondition.New("not_deletable")
	ErrBusy                = precondition.New("contract_busy")
	ErrMissingPositions    = precondition.New("missing_positions")
	ErrWrongStatus         = precondition.ErrWrongStatus
	ErrWrongType           = precondition.ErrWrongType
	ErrInsufficientBalance = precondition.ErrInsufficientBalance
)
