package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/precondition"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
)

type Service interface {
	CreateForm(ctx context.Context, a actor.Actor, req FormRequest) (*ShopForm, error)
	AddField(ctx context.Context, a actor.Actor, formID snowflake.ID, req FieldRequest) (*ShopFormField, error)
	AddOption(ctx context.Context, a actor.Actor, fieldID snowflake.ID, req OptionRequest) (*ShopFormFieldOption, error)
	GetForm(ctx context.Context, a actor.Actor, id snowflake.ID) (*ShopForm, error)
	ListForms(ctx context.Context, a actor.Actor) ([]ShopForm, error)

	Submit(ctx context.Context, a actor.Actor, req SubmitRequest) (*ShopOrderQueue, error)
	Edit(ctx context.Context, a actor.Actor, id snowflake.ID, values map[string]string) (*ShopOrderQueue, error)
	Delete(ctx context.Context, a actor.Actor, id snowflake.ID) error

	Approve(ctx context.Context, a actor.Actor, id snowflake.ID) (*ShopOrderQueue, error)
	Disapprove(ctx context.Context, a actor.Actor, id snowflake.ID, message string) (*ShopOrderQueue, error)
	Verify(ctx context.Context, a actor.Actor, id snowflake.ID) (*ShopOrderQueue, error)
	Invalidate(ctx context.Context, a actor.Actor, id snowflake.ID, message string) (*ShopOrderQueue, error)
	MarkSetup(ctx context.Context, a actor.Actor, id snowflake.ID) (*ShopOrderQueue, error)
	// RecordFailure counts a failed setup attempt. The order fails for good
	// once the configured limit is reached.
	RecordFailure(ctx context.Context, a actor.Actor, id snowflake.ID, message string) (*ShopOrderQueue, error)

	Get(ctx context.Context, a actor.Actor, id snowflake.ID) (*ShopOrderQueue, error)
	List(ctx context.Context, a actor.Actor, grid pagination.GridRequest) (*pagination.GridResponse[ShopOrderQueue], error)
	History(ctx context.Context, a actor.Actor, id snowflake.ID) ([]ShopOrderQueueHistory, error)
}

type FormRequest struct {
	Name          string          `json:"name" binding:"required"`
	Approval      bool            `json:"approval"`
	Prepaid       bool            `json:"prepaid"`
	VatPercentage decimal.Decimal `json:"vat_percentage"`
}

type FieldRequest struct {
	Key      string          `json:"key" binding:"required"`
	Label    string          `json:"label"`
	Type     FieldType       `json:"type" binding:"required,oneof=text number checkbox select"`
	Required bool            `json:"required"`
	Rule     string          `json:"rule"`
	Amount   decimal.Decimal `json:"amount"`
	Step     decimal.Decimal `json:"step"`
	Sort     int             `json:"sort"`
}

type OptionRequest struct {
	Value  string          `json:"value" binding:"required"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

type SubmitRequest struct {
	UserID snowflake.ID      `json:"user_id"`
	FormID snowflake.ID      `json:"form_id" binding:"required"`
	Values map[string]string `json:"values"`
}

const (
	ActionSubmit     = "submit"
	ActionEdit       = "edit"
	ActionApprove    = "approve"
	ActionDisapprove = "disapprove"
	ActionVerify     = "verify"
	ActionInvalidate = "invalidate"
	ActionSetup      = "setup"
	ActionFail       = "fail"
	ActionDelete     = "delete"
)

var (
	ErrFormNotFound   = errors.New("shop_form_not_found")
	ErrFieldNotFound  = errors.New("shop_field_not_found")
	ErrOrderNotFound  = errors.New("shop_order_not_found")
	ErrInvalidForm    = errors.New("invalid_shop_form")
	ErrInvalidField   = errors.New("invalid_shop_field")
	ErrInvalidOption  = errors.New("invalid_shop_option")
	ErrInvalidRule    = errors.New("invalid_validation_rule")
	ErrInvalidValues  = errors.New("invalid_values")
	ErrInvalidUser    = errors.New("invalid_user")
	ErrNegativeTotal  = fmt.Errorf("%w: negative_total", ErrInvalidValues)
	ErrDuplicateField = precondition.New("shop_field_exists")
	ErrNotEditable    = precondition.New("shop_order_not_editable")
	ErrNotDeletable   = precondition.New("shop_order_not_deletable")

	ErrWrongStatus         = precondition.ErrWrongStatus
	ErrInsufficientBalance = precondition.ErrInsufficientBalance
)
