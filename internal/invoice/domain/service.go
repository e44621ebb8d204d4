package domain

import (
	"context"
	"errors"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	positiondomain "github.com/smallbiznis/fakturo/internal/position/domain"
	"github.com/smallbiznis/fakturo/internal/precondition"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
	"gorm.io/gorm"
)

// Issuer is used by contract billing and dunning inside their own transaction.
type Issuer interface {
	// Issue creates an archived invoice with its PDF in tx.
	Issue(ctx context.Context, tx *gorm.DB, req IssueRequest) (*Invoice, error)
	// Announce sends the published notification. Call it after commit.
	Announce(ctx context.Context, inv *Invoice)
	GetType(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*InvoiceType, error)
	// LatestArchived returns the newest archived non-correction invoice of a
	// contract. It is nil when there is none or when it was already corrected.
	LatestArchived(ctx context.Context, tx *gorm.DB, contractID snowflake.ID) (*Invoice, error)
	AppendHistory(ctx context.Context, tx *gorm.DB, inv *Invoice, a actor.Actor, action HistoryAction, meta map[string]any) error
}

type Service interface {
	Issuer

	CreateType(ctx context.Context, a actor.Actor, req TypeRequest) (*InvoiceType, error)
	ListTypes(ctx context.Context, a actor.Actor) ([]InvoiceType, error)

	CreateTemplate(ctx context.Context, a actor.Actor, req CreateTemplateRequest) (*Invoice, error)
	AddPosition(ctx context.Context, a actor.Actor, invoiceID snowflake.ID, req PositionRequest) (*InvoicePosition, error)
	UpdatePosition(ctx context.Context, a actor.Actor, invoiceID, positionID snowflake.ID, req PositionRequest) (*InvoicePosition, error)
	RemovePosition(ctx context.Context, a actor.Actor, invoiceID, positionID snowflake.ID) error

	Publish(ctx context.Context, a actor.Actor, id snowflake.ID) (*Invoice, error)
	Pay(ctx context.Context, a actor.Actor, id snowflake.ID) (*Invoice, error)
	Unpay(ctx context.Context, a actor.Actor, id snowflake.ID) (*Invoice, error)
	// Refund creates a new negating invoice with status target. The source is left untouched.
	Refund(ctx context.Context, a actor.Actor, id snowflake.ID, target InvoiceStatus) (*Invoice, error)

	Get(ctx context.Context, a actor.Actor, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, a actor.Actor, grid pagination.GridRequest) (*pagination.GridResponse[Invoice], error)
	History(ctx context.Context, a actor.Actor, id snowflake.ID) ([]InvoiceHistory, error)
	Download(ctx context.Context, a actor.Actor, id snowflake.ID) (*filedomain.File, io.ReadCloser, error)
}

type IssueRequest struct {
	Actor         actor.Actor
	UserID        snowflake.ID
	TypeID        snowflake.ID
	ContractID    *snowflake.ID
	OriginalID    *snowflake.ID
	Status        InvoiceStatus
	ReverseCharge bool
	Positions     []positiondomain.Position
}

type TypeRequest struct {
	Name       string        `json:"name" binding:"required"`
	Type       TypeKind      `json:"type" binding:"required,oneof=normal auto_revoke prepaid"`
	Period     int           `json:"period" binding:"gte=0"`
	Dunning    bool          `json:"dunning"`
	DiscountID *snowflake.ID `json:"discount_id"`
}

type CreateTemplateRequest struct {
	UserID        snowflake.ID  `json:"user_id" binding:"required"`
	TypeID        snowflake.ID  `json:"type_id" binding:"required"`
	ContractID    *snowflake.ID `json:"contract_id"`
	ReverseCharge bool          `json:"reverse_charge"`
}

type PositionRequest struct {
	Name          string          `json:"name" binding:"required"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	VatPercentage decimal.Decimal `json:"vat_percentage"`
	Quantity      decimal.Decimal `json:"quantity"`
	DiscountID    *snowflake.ID   `json:"discount_id"`
}

var (
	ErrNotFound         = errors.New("invoice_not_found")
	ErrTypeNotFound     = errors.New("invoice_type_not_found")
	ErrPositionNotFound = errors.New("invoice_position_not_found")
	ErrInvalidType      = errors.New("invalid_invoice_type")
	ErrInvalidStatus    = errors.New("invalid_invoice_status")
	ErrNoFile           = errors.New("invoice_file_missing")

	ErrImmutable        = precondition.New("invoice_immutable")
	ErrMissingPositions = precondition.New("missing_positions")
	ErrAlreadyRefunded  = precondition.New("already_refunded")
	ErrWrongStatus      = precondition.ErrWrongStatus
)
