package service

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization/authztest"
	"github.com/smallbiznis/fakturo/internal/clock"
	"github.com/smallbiznis/fakturo/internal/config"
	"github.com/smallbiznis/fakturo/internal/filestore/backend"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	fileservice "github.com/smallbiznis/fakturo/internal/filestore/service"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
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
	svc      *Service
	db       *gorm.DB
	files    filedomain.Service
	ledger   prepaiddomain.Service
	notifier *mocks.MockSender
	clock    *clock.FakeClock
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
	)
	require.NoError(t, db.Create(&userdomain.User{ID: customerID, Name: "Jane", Email: "jane@example.com", Role: actor.RoleCustomer}).Error)

	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	authz := authztest.New(t)

	local, err := backend.NewLocal(t.TempDir())
	require.NoError(t, err)
	files := fileservice.New(fileservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Authz: authz, Backend: local})
	ledger := prepaidservice.New(prepaidservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Authz: authz})

	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockSender(ctrl)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Config: config.Config{
			AppName: "fakturo",
			SEPA:    config.SEPAConfig{CreditorName: "Example Hosting GmbH", IBAN: "DE89370400440532013000", BIC: "COBADEFFXXX"},
		},
		Authz:    authz,
		Files:    files,
		Renderer: pdf.New(),
		Notifier: notifier,
		Ledger:   ledger,
	}).(*Service)

	return &harness{svc: svc, db: db, files: files, ledger: ledger, notifier: notifier, clock: clk}
}

func (h *harness) invoiceType(t *testing.T, kind invoicedomain.TypeKind) *invoicedomain.InvoiceType {
	t.Helper()
	typ, err := h.svc.CreateType(context.Background(), admin, invoicedomain.TypeRequest{Name: string(kind), Type: kind, Period: 14})
	require.NoError(t, err)
	return typ
}

func (h *harness) template(t *testing.T, typ *invoicedomain.InvoiceType, amounts ...string) *invoicedomain.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := h.svc.CreateTemplate(ctx, admin, invoicedomain.CreateTemplateRequest{UserID: customerID, TypeID: typ.ID})
	require.NoError(t, err)
	for _, a := range amounts {
		_, err := h.svc.AddPosition(ctx, admin, inv.ID, invoicedomain.PositionRequest{
			Name:          "Service",
			Amount:        decimal.RequireFromString(a),
			VatPercentage: decimal.NewFromInt(19),
		})
		require.NoError(t, err)
	}
	return inv
}

func TestPublishArchivesPositionsAndStoresOneFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	typ := h.invoiceType(t, invoicedomain.TypeNormal)
	inv := h.template(t, typ, "100", "50", "25")

	h.notifier.EXPECT().Send(gomock.Any(), gomock.Any()).Do(func(_ context.Context, ev notification.Event) {
		assert.Equal(t, notification.KindInvoicePublished, ev.Kind)
		assert.Equal(t, customerID, ev.UserID)
		assert.Equal(t, "208.25", ev.Data["gross"])
		require.Len(t, ev.Attachments, 1)
	}).Times(1)

	published, err := h.svc.Publish(ctx, admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusUnpaid, published.Status)
	assert.Equal(t, "2026-1", *published.Number)
	require.NotNil(t, published.ArchivedAt)
	require.NotNil(t, published.DueAt)
	assert.Equal(t, h.clock.Now().AddDate(0, 0, 14), *published.DueAt)

	var positions int64
	require.NoError(t, h.db.Model(&invoicedomain.InvoicePosition{}).Where("invoice_id = ?", inv.ID).Count(&positions).Error)
	assert.EqualValues(t, 3, positions)

	var files int64
	require.NoError(t, h.db.Model(&filedomain.File{}).Count(&files).Error)
	assert.EqualValues(t, 1, files)

	_, rc, err := h.svc.Download(ctx, actor.Customer(customerID), inv.ID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))

	history, err := h.svc.History(ctx, admin, inv.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, invoicedomain.ActionCreate, history[0].Action)
	assert.Equal(t, invoicedomain.ActionPublish, history[1].Action)
}

func TestPublishRequiresPositions(t *testing.T) {
	h := newHarness(t)
	inv := h.template(t, h.invoiceType(t, invoicedomain.TypeNormal))

	_, err := h.svc.Publish(context.Background(), admin, inv.ID)
	assert.ErrorIs(t, err, invoicedomain.ErrMissingPositions)
}

func TestPositionsFrozenAfterPublish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inv := h.template(t, h.invoiceType(t, invoicedomain.TypeNormal), "10")
	h.notifier.EXPECT().Send(gomock.Any(), gomock.Any()).AnyTimes()

	_, err := h.svc.Publish(ctx, admin, inv.ID)
	require.NoError(t, err)

	_, err = h.svc.AddPosition(ctx, admin, inv.ID, invoicedomain.PositionRequest{Name: "late", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, invoicedomain.ErrImmutable)

	got, err := h.svc.Get(ctx, admin, inv.ID)
	require.NoError(t, err)
	require.Len(t, got.Positions, 1)
	assert.ErrorIs(t, h.svc.RemovePosition(ctx, admin, inv.ID, got.Positions[0].ID), invoicedomain.ErrImmutable)

	_, err = h.svc.Publish(ctx, admin, inv.ID)
	assert.ErrorIs(t, err, invoicedomain.ErrImmutable)
}

func TestPayUnpayToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inv := h.template(t, h.invoiceType(t, invoicedomain.TypeNormal), "10")
	h.notifier.EXPECT().Send(gomock.Any(), gomock.Any()).AnyTimes()

	_, err := h.svc.Unpay(ctx, admin, inv.ID)
	assert.ErrorIs(t, err, invoicedomain.ErrWrongStatus)

	_, err = h.svc.Publish(ctx, admin, inv.ID)
	require.NoError(t, err)

	paid, err := h.svc.Pay(ctx, admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusPaid, paid.Status)

	_, err = h.svc.Pay(ctx, admin, inv.ID)
	assert.ErrorIs(t, err, invoicedomain.ErrWrongStatus)

	unpaid, err := h.svc.Unpay(ctx, admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusUnpaid, unpaid.Status)

	history, err := h.svc.History(ctx, admin, inv.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestPayingTopUpInvoiceCreditsLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inv := h.template(t, h.invoiceType(t, invoicedomain.TypePrepaid), "100")
	h.notifier.EXPECT().Send(gomock.Any(), gomock.Any()).AnyTimes()

	_, err := h.svc.Publish(ctx, admin, inv.ID)
	require.NoError(t, err)
	_, err = h.svc.Pay(ctx, admin, inv.ID)
	require.NoError(t, err)

	balance, err := h.ledger.Balance(ctx, nil, customerID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("119")), balance.String())

	_, err = h.svc.Unpay(ctx, admin, inv.ID)
	require.NoError(t, err)
	balance, err = h.ledger.Balance(ctx, nil, customerID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), balance.String())
}

func TestRefundCreatesLinkedInvoiceAndKeepsSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inv := h.template(t, h.invoiceType(t, invoicedomain.TypeNormal), "100", "20")
	h.notifier.EXPECT().Send(gomock.Any(), gomock.Any()).AnyTimes()

	_, err := h.svc.Refund(ctx, admin, inv.ID, invoicedomain.StatusRefunded)
	assert.ErrorIs(t, err, invoicedomain.ErrWrongStatus, "templates cannot be refunded")

	_, err = h.svc.Publish(ctx, admin, inv.ID)
	require.NoError(t, err)

	refund, err := h.svc.Refund(ctx, admin, inv.ID, invoicedomain.StatusRevoked)
	require.NoError(t, err)
	assert.NotEqual(t, inv.ID, refund.ID)
	require.NotNil(t, refund.OriginalID)
	assert.Equal(t, inv.ID, *refund.OriginalID)
	assert.Equal(t, invoicedomain.StatusRevoked, refund.Status)
	assert.NotNil(t, refund.ArchivedAt)
	assert.NotNil(t, refund.FileID)
	require.Len(t, refund.Positions, 2)
	assert.True(t, refund.Positions[0].Amount.Equal(decimal.NewFromInt(-100)))
	assert.True(t, refund.Totals().Gross.Equal(decimal.RequireFromString("-142.8")))

	source, err := h.svc.Get(ctx, admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusUnpaid, source.Status)

	_, err = h.svc.Refund(ctx, admin, inv.ID, invoicedomain.StatusRefunded)
	assert.ErrorIs(t, err, invoicedomain.ErrAlreadyRefunded)

	_, err = h.svc.Refund(ctx, admin, refund.ID, invoicedomain.StatusRefunded)
	assert.ErrorIs(t, err, invoicedomain.ErrWrongStatus)

	_, err = h.svc.Refund(ctx, admin, inv.ID, invoicedomain.StatusPaid)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidStatus)
}

func TestInvoiceNumbersIncrementPerYear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	typ := h.invoiceType(t, invoicedomain.TypeNormal)
	h.notifier.EXPECT().Send(gomock.Any(), gomock.Any()).AnyTimes()

	var numbers []string
	for i := 0; i < 2; i++ {
		inv := h.template(t, typ, "1")
		published, err := h.svc.Publish(ctx, admin, inv.ID)
		require.NoError(t, err)
		numbers = append(numbers, *published.Number)
	}
	h.clock.Set(time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC))
	inv := h.template(t, typ, "1")
	published, err := h.svc.Publish(ctx, admin, inv.ID)
	require.NoError(t, err)
	numbers = append(numbers, *published.Number)

	assert.Equal(t, []string{"2026-1", "2026-2", "2027-1"}, numbers)
}

func TestCustomersOnlySeeOwnInvoices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inv := h.template(t, h.invoiceType(t, invoicedomain.TypeNormal), "1")

	_, err := h.svc.Get(ctx, actor.Customer(customerID+1), inv.ID)
	assert.ErrorIs(t, err, invoicedomain.ErrNotFound)

	got, err := h.svc.Get(ctx, actor.Customer(customerID), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)
}

func TestDiscountFromTypeIsFrozenIntoLine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	discount := positiondomain.Discount{ID: 77, Name: "loyalty", Type: positiondomain.DiscountPercentage, Value: decimal.NewFromInt(10)}
	require.NoError(t, h.db.Create(&discount).Error)

	typ, err := h.svc.CreateType(ctx, admin, invoicedomain.TypeRequest{Name: "discounted", Type: invoicedomain.TypeNormal, Period: 7, DiscountID: &discount.ID})
	require.NoError(t, err)
	inv, err := h.svc.CreateTemplate(ctx, admin, invoicedomain.CreateTemplateRequest{UserID: customerID, TypeID: typ.ID})
	require.NoError(t, err)
	line, err := h.svc.AddPosition(ctx, admin, inv.ID, invoicedomain.PositionRequest{Name: "x", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	require.NoError(t, h.db.Model(&positiondomain.Discount{}).Where("id = ?", discount.ID).Update("value", 50).Error)
	assert.True(t, line.NetSum().Equal(decimal.NewFromInt(90)))
}
