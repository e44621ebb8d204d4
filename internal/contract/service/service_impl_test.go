package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	"github.com/smallbiznis/fakturo/internal/authorization/authztest"
	"github.com/smallbiznis/fakturo/internal/clock"
	"github.com/smallbiznis/fakturo/internal/config"
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
	"github.com/smallbiznis/fakturo/internal/filestore/backend"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	fileservice "github.com/smallbiznis/fakturo/internal/filestore/service"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/fakturo/internal/invoice/service"
	"github.com/smallbiznis/fakturo/internal/lock"
	"github.com/smallbiznis/fakturo/internal/notification"
	"github.com/smallbiznis/fakturo/internal/notification/mocks"
	positiondomain "github.com/smallbiznis/fakturo/internal/position/domain"
	prepaiddomain "github.com/smallbiznis/fakturo/internal/prepaid/domain"
	prepaidservice "github.com/smallbiznis/fakturo/internal/prepaid/service"
	"github.com/smallbiznis/fakturo/internal/providers/pdf"
	"github.com/smallbiznis/fakturo/internal/testutil"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	customerID = snowflake.ID(900)
	otherID    = snowflake.ID(901)
)

var admin = actor.Admin(1)

type harness struct {
	svc         *Service
	db          *gorm.DB
	ledger      prepaiddomain.Service
	clock       *clock.FakeClock
	invoiceType *invoicedomain.InvoiceType
	invoiceSvc  invoicedomain.Service
	events      []notification.Event
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithLocker(t, lock.NoopLocker{})
}

func newHarnessWithLocker(t *testing.T, locker lock.Locker) *harness {
	t.Helper()
	db := testutil.NewSQLite(t,
		&userdomain.User{},
		&positiondomain.Discount{},
		&invoicedomain.InvoiceType{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoicePosition{},
		&invoicedomain.InvoiceHistory{},
		&invoicedomain.InvoiceSequence{},
		&filedomain.File{},
		&prepaiddomain.PrepaidHistory{},
		&contractdomain.ContractType{},
		&contractdomain.Contract{},
		&contractdomain.ContractPosition{},
	)
	require.NoError(t, db.Create(&userdomain.User{ID: customerID, Name: "Jane", Email: "jane@example.com", Role: actor.RoleCustomer}).Error)
	require.NoError(t, db.Create(&userdomain.User{ID: otherID, Name: "Max", Email: "max@example.com", Role: actor.RoleCustomer}).Error)

	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	authz := authztest.New(t)

	local, err := backend.NewLocal(t.TempDir())
	require.NoError(t, err)
	files := fileservice.New(fileservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Authz: authz, Backend: local})
	ledger := prepaidservice.New(prepaidservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Authz: authz})

	h := &harness{db: db, ledger: ledger, clock: clk}
	notifier := mocks.NewMockSender(gomock.NewController(t))
	notifier.EXPECT().Send(gomock.Any(), gomock.Any()).Do(func(_ context.Context, ev notification.Event) {
		h.events = append(h.events, ev)
	}).AnyTimes()

	invoices := invoiceservice.New(invoiceservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Config:   config.Config{AppName: "fakturo"},
		Authz:    authz,
		Files:    files,
		Renderer: pdf.New(),
		Notifier: notifier,
		Ledger:   ledger,
	})
	h.invoiceSvc = invoices
	h.invoiceType, err = invoices.CreateType(context.Background(), admin, invoicedomain.TypeRequest{Name: "Contract", Type: invoicedomain.TypeNormal, Period: 14})
	require.NoError(t, err)

	h.svc = New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Billing:  config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Authz:    authz,
		Locker:   locker,
		Invoices: invoices,
		Ledger:   ledger,
		Notifier: notifier,
	})
	return h
}

// contract creates a contract of the given kind with one 30 day period and
// one line per amount at 0% VAT.
func (h *harness) contract(t *testing.T, kind contractdomain.TypeKind, cancellationPeriod int, amounts ...string) *contractdomain.Contract {
	t.Helper()
	ctx := context.Background()
	typ, err := h.svc.CreateType(ctx, admin, contractdomain.TypeRequest{
		Name:               string(kind),
		Type:               kind,
		InvoicePeriod:      30,
		CancellationPeriod: cancellationPeriod,
		InvoiceTypeID:      h.invoiceType.ID,
	})
	require.NoError(t, err)
	c, err := h.svc.Create(ctx, admin, contractdomain.CreateRequest{UserID: customerID, TypeID: typ.ID})
	require.NoError(t, err)
	for _, a := range amounts {
		_, err := h.svc.AddPosition(ctx, admin, c.ID, contractdomain.PositionRequest{
			Name:   "Webhosting",
			Amount: decimal.RequireFromString(a),
		})
		require.NoError(t, err)
	}
	return c
}

func (h *harness) deposit(t *testing.T, amount string) {
	t.Helper()
	_, err := h.ledger.Deposit(context.Background(), admin, prepaiddomain.DepositRequest{
		UserID: customerID,
		Amount: decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), h.db, customerID)
	require.NoError(t, err)
	return b
}

func (h *harness) invoices(t *testing.T, contractID snowflake.ID) []invoicedomain.Invoice {
	t.Helper()
	var rows []invoicedomain.Invoice
	require.NoError(t, h.db.Preload("Positions").Where("contract_id = ?", contractID).Order("id").Find(&rows).Error)
	return rows
}

func (h *harness) reload(t *testing.T, id snowflake.ID) *contractdomain.View {
	t.Helper()
	v, err := h.svc.Get(context.Background(), admin, id)
	require.NoError(t, err)
	return v
}

func (h *harness) kinds() []notification.Kind {
	out := make([]notification.Kind, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestCreateTypeValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateType(ctx, admin, contractdomain.TypeRequest{Name: "x", Type: "weekly", InvoicePeriod: 7, InvoiceTypeID: h.invoiceType.ID})
	assert.ErrorIs(t, err, contractdomain.ErrInvalidType)

	_, err = h.svc.CreateType(ctx, admin, contractdomain.TypeRequest{Name: "x", Type: contractdomain.TypePrePay, InvoiceTypeID: h.invoiceType.ID})
	assert.ErrorIs(t, err, contractdomain.ErrInvalidType, "billing types need a period")

	_, err = h.svc.CreateType(ctx, admin, contractdomain.TypeRequest{Name: "x", Type: contractdomain.TypeNormal, InvoiceTypeID: 42})
	assert.ErrorIs(t, err, invoicedomain.ErrTypeNotFound)

	_, err = h.svc.CreateType(ctx, actor.Customer(customerID), contractdomain.TypeRequest{Name: "x", Type: contractdomain.TypeNormal, InvoiceTypeID: h.invoiceType.ID})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestDeleteOnlyWhileTemplate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft := h.contract(t, contractdomain.TypePostPay, 0, "10")
	require.NoError(t, h.svc.Delete(ctx, admin, draft.ID))
	_, err := h.svc.Get(ctx, admin, draft.ID)
	assert.ErrorIs(t, err, contractdomain.ErrNotFound)

	var lines int64
	require.NoError(t, h.db.Model(&contractdomain.ContractPosition{}).Where("contract_id = ?", draft.ID).Count(&lines).Error)
	assert.Zero(t, lines)

	running := h.contract(t, contractdomain.TypePostPay, 0, "10")
	_, err = h.svc.Start(ctx, admin, running.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, h.svc.Delete(ctx, admin, running.ID), contractdomain.ErrNotDeletable)
}

func TestEndPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := h.contract(t, contractdomain.TypePostPay, 0, "10", "20")
	v := h.reload(t, c.ID)
	require.Len(t, v.Positions, 2)

	require.NoError(t, h.svc.EndPosition(ctx, admin, c.ID, v.Positions[0].ID))
	v = h.reload(t, c.ID)
	require.Len(t, v.Positions, 1, "lines of a template are deleted")

	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	require.NoError(t, h.svc.EndPosition(ctx, admin, c.ID, v.Positions[0].ID))

	v = h.reload(t, c.ID)
	require.Len(t, v.Positions, 1)
	require.NotNil(t, v.Positions[0].EndedAt)
	assert.True(t, v.Gross.IsZero(), "ended lines no longer count")

	assert.ErrorIs(t, h.svc.EndPosition(ctx, admin, c.ID, 12345), contractdomain.ErrPositionNotFound)
}

func TestAddPositionRejectsEmptyWindow(t *testing.T) {
	h := newHarness(t)
	c := h.contract(t, contractdomain.TypePostPay, 0)
	from := h.clock.Now()

	_, err := h.svc.AddPosition(context.Background(), admin, c.ID, contractdomain.PositionRequest{
		Name:      "Domain",
		Amount:    decimal.NewFromInt(1),
		StartedAt: &from,
		EndedAt:   &from,
	})
	assert.ErrorIs(t, err, contractdomain.ErrInvalidWindow)
}

func TestCustomerSeesOnlyOwnContracts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.contract(t, contractdomain.TypePostPay, 0, "10")

	_, err := h.svc.Get(ctx, actor.Customer(otherID), c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrNotFound)

	v, err := h.svc.Get(ctx, actor.Customer(customerID), c.ID)
	require.NoError(t, err)
	assert.Equal(t, contractdomain.StateTemplate, v.State)
	assert.True(t, v.Gross.Equal(decimal.NewFromInt(10)))
}
