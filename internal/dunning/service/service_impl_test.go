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
	contractservice "github.com/smallbiznis/fakturo/internal/contract/service"
	dunningdomain "github.com/smallbiznis/fakturo/internal/dunning/domain"
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

const customerID = snowflake.ID(900)

var admin = actor.Admin(1)

type harness struct {
	svc       *Service
	db        *gorm.DB
	clock     *clock.FakeClock
	billing   *config.BillingConfigHolder
	invoices  invoicedomain.Service
	contracts *contractservice.Service
	events    []notification.Event
}

func newHarness(t *testing.T) *harness {
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
		&dunningdomain.InvoiceDunning{},
		&dunningdomain.InvoiceReminder{},
	)
	require.NoError(t, db.Create(&userdomain.User{ID: customerID, Name: "Jane", Email: "jane@example.com", Role: actor.RoleCustomer}).Error)

	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	authz := authztest.New(t)
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	cfg := config.Config{AppName: "fakturo"}

	local, err := backend.NewLocal(t.TempDir())
	require.NoError(t, err)
	files := fileservice.New(fileservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Authz: authz, Backend: local})
	ledger := prepaidservice.New(prepaidservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Authz: authz})

	h := &harness{db: db, clock: clk, billing: billing}
	notifier := mocks.NewMockSender(gomock.NewController(t))
	notifier.EXPECT().Send(gomock.Any(), gomock.Any()).Do(func(_ context.Context, ev notification.Event) {
		h.events = append(h.events, ev)
	}).AnyTimes()

	h.invoices = invoiceservice.New(invoiceservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Config: cfg, Authz: authz,
		Files: files, Renderer: pdf.New(), Notifier: notifier, Ledger: ledger,
	})
	h.contracts = contractservice.New(contractservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Billing: billing, Authz: authz,
		Locker: lock.NoopLocker{}, Invoices: h.invoices, Ledger: ledger, Notifier: notifier,
	})
	h.svc = New(Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Config: cfg, Billing: billing, Authz: authz,
		Files: files, Renderer: pdf.New(), Notifier: notifier, Invoices: h.invoices, Contracts: h.contracts,
	}).(*Service)
	return h
}

func (h *harness) invoiceType(t *testing.T, kind invoicedomain.TypeKind, dunning bool) *invoicedomain.InvoiceType {
	t.Helper()
	typ, err := h.invoices.CreateType(context.Background(), admin, invoicedomain.TypeRequest{
		Name: string(kind), Type: kind, Period: 14, Dunning: dunning,
	})
	require.NoError(t, err)
	return typ
}

func (h *harness) rule(t *testing.T, req dunningdomain.RuleRequest) *dunningdomain.InvoiceDunning {
	t.Helper()
	r, err := h.svc.CreateRule(context.Background(), admin, req)
	require.NoError(t, err)
	return r
}

// publish issues an unpaid invoice of 100 net at 19% VAT.
func (h *harness) publish(t *testing.T, typ *invoicedomain.InvoiceType) *invoicedomain.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := h.invoices.CreateTemplate(ctx, admin, invoicedomain.CreateTemplateRequest{UserID: customerID, TypeID: typ.ID})
	require.NoError(t, err)
	_, err = h.invoices.AddPosition(ctx, admin, inv.ID, invoicedomain.PositionRequest{
		Name: "Webhosting", Amount: decimal.NewFromInt(100), VatPercentage: decimal.NewFromInt(19),
	})
	require.NoError(t, err)
	inv, err = h.invoices.Publish(ctx, admin, inv.ID)
	require.NoError(t, err)
	return inv
}

func (h *harness) reminders(t *testing.T, invoiceID snowflake.ID) []dunningdomain.InvoiceReminder {
	t.Helper()
	rows, err := h.svc.ListReminders(context.Background(), admin, invoiceID)
	require.NoError(t, err)
	return rows
}

func TestCreateRuleValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	typ := h.invoiceType(t, invoicedomain.TypeNormal, true)

	_, err := h.svc.CreateRule(ctx, admin, dunningdomain.RuleRequest{InvoiceTypeID: typ.ID, After: 7, CancelContractInstant: true, CancelContractRegular: true})
	assert.ErrorIs(t, err, dunningdomain.ErrInvalidRule)

	_, err = h.svc.CreateRule(ctx, admin, dunningdomain.RuleRequest{InvoiceTypeID: typ.ID, After: 7, PercentageAmount: decimal.NewFromInt(101)})
	assert.ErrorIs(t, err, dunningdomain.ErrInvalidRule)

	_, err = h.svc.CreateRule(ctx, admin, dunningdomain.RuleRequest{InvoiceTypeID: 77, After: 7})
	assert.ErrorIs(t, err, invoicedomain.ErrTypeNotFound)

	_, err = h.svc.CreateRule(ctx, actor.Customer(customerID), dunningdomain.RuleRequest{InvoiceTypeID: typ.ID, After: 7})
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	h.rule(t, dunningdomain.RuleRequest{InvoiceTypeID: typ.ID, After: 7})
	_, err = h.svc.CreateRule(ctx, admin, dunningdomain.RuleRequest{InvoiceTypeID: typ.ID, After: 7})
	assert.ErrorIs(t, err, dunningdomain.ErrDuplicateRule)

	h.rule(t, dunningdomain.RuleRequest{InvoiceTypeID: typ.ID, After: 1})
	rules, err := h.svc.ListRules(ctx, admin, typ.ID)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, 1, rules[0].After)
	assert.Equal(t, 7, rules[1].After)
}

func TestSweepEscalatesOneLevelAtATime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	typ := h.invoiceType(t, invoicedomain.TypeNormal, true)
	first := h.rule(t, dunningdomain.RuleRequest{InvoiceTypeID: typ.ID, After: 0, Period: 7})
	h.rule(t, dunningdomain.RuleRequest{
		InvoiceTypeID:    typ.ID,
		After:            7,
		Period:           7,
		FixedAmount:      decimal.NewFromInt(5),
		PercentageAmount: decimal.RequireFromString("2.5"),
	})
	inv := h.publish(t, typ)

	res, err := h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Reminders, "not due yet")

	h.clock.AdvanceDays(15)
	h.events = nil
	res, err = h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reminders)

	rows := h.reminders(t, inv.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, first.ID, rows[0].DunningID)
	assert.Equal(t, 1, rows[0].Level)
	assert.Equal(t, *inv.Number+"-R1", rows[0].Number)
	assert.True(t, rows[0].Fee.IsZero())
	require.NotNil(t, rows[0].FileID)

	require.Len(t, h.events, 1)
	assert.Equal(t, notification.KindInvoiceReminder, h.events[0].Kind)
	assert.Equal(t, "119.00", h.events[0].Data["open"])
	require.Len(t, h.events[0].Attachments, 1)

	res, err = h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Reminders, "each level is sent once")

	h.clock.AdvanceDays(7)
	res, err = h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reminders)

	rows = h.reminders(t, inv.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[1].Level)
	assert.Equal(t, "7.98", rows[1].Fee.StringFixed(2))

	var stored int64
	require.NoError(t, h.db.Model(&filedomain.File{}).Where("folder = ?", filedomain.FolderReminders).Count(&stored).Error)
	assert.EqualValues(t, 2, stored)

	history, err := h.invoices.History(ctx, admin, inv.ID)
	require.NoError(t, err)
	var reminded int
	for _, e := range history {
		if e.Action == invoicedomain.ActionRemind {
			reminded++
		}
	}
	assert.Equal(t, 2, reminded)
}

func TestSweepSkipsLowerLevelsOnceHigherApplies(t *testing.T) {
	h := newHarness(t)
	typ := h.invoiceType(t, invoicedomain.TypeNormal, true)
	h.rule(t, dunningdomain.RuleRequest{InvoiceTypeID: typ.ID, After: 0})
	h.rule(t, dunningdomain.RuleRequest{InvoiceTypeID: typ.ID, After: 10})
	inv := h.publish(t, typ)

	h.clock.AdvanceDays(30)
	for i := 0; i < 2; i++ {
		_, err := h.svc.Sweep(context.Background())
		require.NoError(t, err)
	}

	rows := h.reminders(t, inv.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Level)
}

func TestSweepIgnoresPaidAndNonDunningInvoices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dunned := h.invoiceType(t, invoicedomain.TypeNormal, true)
	quiet := h.invoiceType(t, invoicedomain.TypeNormal, false)
	h.rule(t, dunningdomain.RuleRequest{InvoiceTypeID: dunned.ID, After: 0})
	h.rule(t, dunningdomain.RuleRequest{InvoiceTypeID: quiet.ID, After: 0})

	paid := h.publish(t, dunned)
	_, err := h.invoices.Pay(ctx, admin, paid.ID)
	require.NoError(t, err)
	other := h.publish(t, quiet)

	h.clock.AdvanceDays(20)
	res, err := h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Reminders)
	assert.Empty(t, h.reminders(t, paid.ID))
	assert.Empty(t, h.reminders(t, other.ID))
}

func TestSweepDisabled(t *testing.T) {
	h := newHarness(t)
	typ := h.invoiceType(t, invoicedomain.TypeNormal, true)
	h.rule(t, dunningdomain.RuleRequest{InvoiceTypeID: typ.ID, After: 0})
	h.publish(t, typ)

	cfg := config.DefaultBillingConfig()
	cfg.Dunning.Enabled = false
	h.svc.billing = config.NewStaticBillingConfigHolder(cfg)

	h.clock.AdvanceDays(20)
	res, err := h.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dunningdomain.SweepResult{}, res)
}

func TestSweepRevokesOverdueAutoRevokeInvoices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	typ := h.invoiceType(t, invoicedomain.TypeAutoRevoke, false)
	inv := h.publish(t, typ)

	h.clock.AdvanceDays(14)
	res, err := h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Revoked, "due date not passed")

	h.clock.AdvanceDays(1)
	res, err = h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Revoked)

	var revoked invoicedomain.Invoice
	require.NoError(t, h.db.Where("original_id = ?", inv.ID).First(&revoked).Error)
	assert.Equal(t, invoicedomain.StatusRevoked, revoked.Status)

	source, err := h.invoices.Get(ctx, admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusUnpaid, source.Status)

	res, err = h.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Revoked)
}

func TestSweepEscalatesContract(t *testing.T) {
	cases := []struct {
		name  string
		rule  dunningdomain.RuleRequest
		state contractdomain.State
	}{
		{"instant stop", dunningdomain.RuleRequest{After: 0, CancelContractInstant: true}, contractdomain.StateCancelled},
		{"regular cancel", dunningdomain.RuleRequest{After: 0, CancelContractRegular: true}, contractdomain.StateExpires},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			typ := h.invoiceType(t, invoicedomain.TypeNormal, true)
			tc.rule.InvoiceTypeID = typ.ID
			h.rule(t, tc.rule)

			ct, err := h.contracts.CreateType(ctx, admin, contractdomain.TypeRequest{
				Name: "Hosting", Type: contractdomain.TypePrePay, InvoicePeriod: 30, InvoiceTypeID: typ.ID,
			})
			require.NoError(t, err)
			c, err := h.contracts.Create(ctx, admin, contractdomain.CreateRequest{UserID: customerID, TypeID: ct.ID})
			require.NoError(t, err)
			_, err = h.contracts.AddPosition(ctx, admin, c.ID, contractdomain.PositionRequest{Name: "Hosting", Amount: decimal.NewFromInt(10)})
			require.NoError(t, err)
			_, err = h.contracts.Start(ctx, admin, c.ID)
			require.NoError(t, err)

			h.clock.AdvanceDays(15)
			res, err := h.svc.Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Reminders)

			v, err := h.contracts.Get(ctx, admin, c.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.state, v.State)
		})
	}
}

func TestDeleteRuleInUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	typ := h.invoiceType(t, invoicedomain.TypeNormal, true)
	used := h.rule(t, dunningdomain.RuleRequest{InvoiceTypeID: typ.ID, After: 0})
	unused := h.rule(t, dunningdomain.RuleRequest{InvoiceTypeID: typ.ID, After: 30})
	h.publish(t, typ)

	h.clock.AdvanceDays(15)
	_, err := h.svc.Sweep(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.DeleteRule(ctx, admin, used.ID), dunningdomain.ErrRuleInUse)
	require.NoError(t, h.svc.DeleteRule(ctx, admin, unused.ID))
	assert.ErrorIs(t, h.svc.DeleteRule(ctx, admin, unused.ID), dunningdomain.ErrRuleNotFound)
}

func TestCustomerListsOwnReminders(t *testing.T) {
	h := newHarness(t)
	typ := h.invoiceType(t, invoicedomain.TypeNormal, true)
	inv := h.publish(t, typ)

	_, err := h.svc.ListReminders(context.Background(), actor.Customer(customerID+1), inv.ID)
	assert.ErrorIs(t, err, invoicedomain.ErrNotFound)

	rows, err := h.svc.ListReminders(context.Background(), actor.Customer(customerID), inv.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
