package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldCheckbox FieldType = "checkbox"
	FieldSelect   FieldType = "select"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldCheckbox, FieldSelect:
		return true
	}
	return false
}

// ShopForm is an orderable product. Approval puts new orders into review,
// Prepaid charges the order gross to the prepaid balance.
type ShopForm struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name          string          `gorm:"type:text;not null" json:"name"`
	Approval      bool            `gorm:"not null;default:false" json:"approval"`
	Prepaid       bool            `gorm:"not null;default:false" json:"prepaid"`
	VatPercentage decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"vat_percentage"`
	Fields        []ShopFormField `gorm:"foreignKey:FormID" json:"fields,omitempty"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
}

func (ShopForm) TableName() string { return "shop_forms" }

type ShopFormField struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	FormID   snowflake.ID `gorm:"not null;uniqueIndex:idx_shop_field_key" json:"form_id"`
	Key      string       `gorm:"type:text;not null;uniqueIndex:idx_shop_field_key" json:"key"`
	Label    string       `gorm:"type:text;not null" json:"label"`
	Type     FieldType    `gorm:"type:text;not null" json:"type"`
	Required bool         `gorm:"not null;default:false" json:"required"`
	// Rule is a validator tag such as "email" or "min=3,max=20".
	Rule      string                `gorm:"type:text" json:"rule,omitempty"`
	Amount    decimal.Decimal       `gorm:"type:decimal(15,4);not null;default:0" json:"amount"`
	Step      decimal.Decimal       `gorm:"type:decimal(15,4);not null;default:1" json:"step"`
	Sort      int                   `gorm:"not null;default:0" json:"sort"`
	Options   []ShopFormFieldOption `gorm:"foreignKey:FieldID" json:"options,omitempty"`
	CreatedAt time.Time             `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time             `gorm:"not null" json:"updated_at"`
}

func (ShopFormField) TableName() string { return "shop_form_fields" }

type ShopFormFieldOption struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	FieldID   snowflake.ID    `gorm:"not null;index" json:"field_id"`
	Value     string          `gorm:"type:text;not null" json:"value"`
	Label     string          `gorm:"type:text;not null" json:"label"`
	Amount    decimal.Decimal `gorm:"type:decimal(15,4);not null;default:0" json:"amount"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null" json:"updated_at"`
}

func (ShopFormFieldOption) TableName() string { return "shop_form_field_options" }

type OrderStatus string

const (
	StatusPending     OrderStatus = "pending"
	StatusApproved    OrderStatus = "approved"
	StatusDisapproved OrderStatus = "disapproved"
	StatusVerified    OrderStatus = "verified"
	StatusInvalid     OrderStatus = "invalid"
	StatusSetup       OrderStatus = "setup"
	StatusFailed      OrderStatus = "failed"
)

// Editable reports whether the customer may still change the values.
func (s OrderStatus) Editable() bool {
	return s == StatusPending || s == StatusInvalid || s == StatusFailed
}

// ShopOrderQueue is a submitted order. Amount and Gross are frozen at submit
// and edit time.
type ShopOrderQueue struct {
	ID          snowflake.ID          `gorm:"primaryKey" json:"id"`
	UserID      snowflake.ID          `gorm:"not null;index" json:"user_id"`
	FormID      snowflake.ID          `gorm:"not null;index" json:"form_id"`
	Status      OrderStatus           `gorm:"type:text;not null;index" json:"status"`
	Amount      decimal.Decimal       `gorm:"type:decimal(15,4);not null;default:0" json:"amount"`
	Gross       decimal.Decimal       `gorm:"type:decimal(15,4);not null;default:0" json:"gross"`
	Fails       int                   `gorm:"not null;default:0" json:"fails"`
	Compensated bool                  `gorm:"not null;default:false" json:"compensated"`
	Fields      []ShopOrderQueueField `gorm:"foreignKey:QueueID" json:"fields,omitempty"`
	CreatedAt   time.Time             `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time             `gorm:"not null" json:"updated_at"`
}

func (ShopOrderQueue) TableName() string { return "shop_order_queue" }

type ShopOrderQueueField struct {
	ID      snowflake.ID `gorm:"primaryKey" json:"id"`
	QueueID snowflake.ID `gorm:"not null;index" json:"queue_id"`
	FieldID snowflake.ID `gorm:"not null" json:"field_id"`
	Key     string       `gorm:"type:text;not null" json:"key"`
	Value   string       `gorm:"type:text" json:"value"`
}

func (ShopOrderQueueField) TableName() string { return "shop_order_queue_fields" }

// ShopOrderQueueHistory is append-only and outlives the queue row.
type ShopOrderQueueHistory struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	QueueID   snowflake.ID  `gorm:"not null;index" json:"queue_id"`
	ActorID   *snowflake.ID `json:"actor_id,omitempty"`
	Action    string        `gorm:"type:text;not null" json:"action"`
	Status    OrderStatus   `gorm:"type:text;not null" json:"status"`
	Message   string        `gorm:"type:text" json:"message,omitempty"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
}

func (ShopOrderQueueHistory) TableName() string { return "shop_order_queue_histories" }
