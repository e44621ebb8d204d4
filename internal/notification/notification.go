// Package notification delivers customer facing messages about billing events.
// Delivery is best effort: a failed send is logged and never fails the
// operation that triggered it.
package notification

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/providers/email"
)

type Kind string

const (
	KindInvoicePublished  Kind = "invoice.published"
	KindInvoiceReminder   Kind = "invoice.reminder"
	KindContractStopped   Kind = "contract.stopped"
	KindContractExtended  Kind = "contract.extended"
	KindContractCancelled Kind = "contract.cancelled"
	KindShopApproved      Kind = "shop.approved"
	KindShopDisapproved   Kind = "shop.disapproved"
	KindShopSetup         Kind = "shop.setup"
)

// Template maps a kind to the email template name.
func (k Kind) Template() string {
	switch k {
	case KindInvoicePublished:
		return "invoice_published"
	case KindInvoiceReminder:
		return "invoice_reminder"
	case KindContractStopped:
		return "contract_stopped"
	case KindContractExtended:
		return "contract_extended"
	case KindContractCancelled:
		return "contract_cancelled"
	case KindShopApproved:
		return "shop_approved"
	case KindShopDisapproved:
		return "shop_disapproved"
	case KindShopSetup:
		return "shop_setup"
	default:
		return ""
	}
}

type Event struct {
	Kind        Kind
	UserID      snowflake.ID
	Data        map[string]any
	Attachments []email.Attachment
}

//go:generate mockgen -source=notification.go -destination=./mocks/mock_sender.go -package=mocks

type Sender interface {
	Send(ctx context.Context, ev Event)
}

type NoOpSender struct{}

func (NoOpSender) Send(context.Context, Event) {}
