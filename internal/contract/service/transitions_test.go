package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/notification"
	prepaiddomain "github.com/smallbiznis/fakturo/internal/prepaid/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func days(t0 time.Time, n int) time.Time { return t0.AddDate(0, 0, n) }

func TestStartPrePayIssuesFirstInvoice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	t0 := h.clock.Now()
	c := h.contract(t, contractdomain.TypePrePay, 0, "100")

	started, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)
	assert.WithinDuration(t, t0, *started.StartedAt, time.Second)
	assert.WithinDuration(t, t0, *started.LastInvoiceAt, time.Second)

	invs := h.invoices(t, c.ID)
	require.Len(t, invs, 1)
	assert.Equal(t, invoicedomain.StatusUnpaid, invs[0].Status)
	assert.NotNil(t, invs[0].Number)
	assert.True(t, invs[0].Totals().Gross.Equal(decimal.NewFromInt(100)))
	assert.Contains(t, h.kinds(), notification.KindInvoicePublished)

	_, err = h.svc.Start(ctx, admin, c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrAlreadyStarted)
	assert.Len(t, h.invoices(t, c.ID), 1)
}

func TestStartPostPayIssuesNothing(t *testing.T) {
	h := newHarness(t)
	c := h.contract(t, contractdomain.TypePostPay, 0, "100")

	_, err := h.svc.Start(context.Background(), admin, c.ID)
	require.NoError(t, err)
	assert.Empty(t, h.invoices(t, c.ID))
	assert.Equal(t, contractdomain.StateStarted, h.reload(t, c.ID).State)
}

func TestStopOnlyFromStarted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "500")
	c := h.contract(t, contractdomain.TypePrepaidAuto, 0, "100")

	_, err := h.svc.Stop(ctx, admin, c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrWrongStatus)
	assert.Equal(t, contractdomain.StateTemplate, h.reload(t, c.ID).State)

	_, err = h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, admin, c.ID)
	require.NoError(t, err)

	before := h.reload(t, c.ID)
	balance := h.balance(t)
	_, err = h.svc.Stop(ctx, admin, c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrWrongStatus)

	after := h.reload(t, c.ID)
	assert.Equal(t, contractdomain.StateExpires, after.State)
	assert.WithinDuration(t, *before.CancelledTo, *after.CancelledTo, 0)
	assert.Len(t, h.invoices(t, c.ID), 1)
	assert.True(t, h.balance(t).Equal(balance))
}

func TestPrePayStopAfterFullPeriodRefundsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.contract(t, contractdomain.TypePrePay, 0, "100", "40")

	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	first := h.invoices(t, c.ID)[0]

	h.clock.AdvanceDays(30)
	stopped, err := h.svc.Stop(ctx, admin, c.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, h.clock.Now(), *stopped.CancelledTo, time.Second)

	invs := h.invoices(t, c.ID)
	require.Len(t, invs, 2)
	refund := invs[1]
	assert.Equal(t, invoicedomain.StatusRefund, refund.Status)
	require.NotNil(t, refund.OriginalID)
	assert.Equal(t, first.ID, *refund.OriginalID)
	require.Len(t, refund.Positions, 2)
	for _, p := range refund.Positions {
		assert.True(t, p.Amount.IsZero(), "amount %s", p.Amount)
	}
	assert.Contains(t, h.kinds(), notification.KindContractStopped)
}

func TestPrePayStopRefundsRemainingShare(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.contract(t, contractdomain.TypePrePay, 0, "90")

	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	h.clock.AdvanceDays(10)
	_, err = h.svc.Stop(ctx, admin, c.ID)
	require.NoError(t, err)

	refund := h.invoices(t, c.ID)[1]
	require.Len(t, refund.Positions, 1)
	assert.Equal(t, "-60", refund.Positions[0].Amount.String())
}

func TestPrePayStopAfterRevocationRefundsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.contract(t, contractdomain.TypePrePay, 0, "90")

	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	first := h.invoices(t, c.ID)[0]
	_, err = h.invoiceSvc.Refund(ctx, admin, first.ID, invoicedomain.StatusRevoked)
	require.NoError(t, err)

	h.clock.AdvanceDays(10)
	_, err = h.svc.Stop(ctx, admin, c.ID)
	require.NoError(t, err)

	invs := h.invoices(t, c.ID)
	require.Len(t, invs, 2)
	assert.Equal(t, invoicedomain.StatusRevoked, invs[1].Status)
	var corrections int64
	require.NoError(t, h.db.Model(&invoicedomain.Invoice{}).Where("original_id = ?", first.ID).Count(&corrections).Error)
	assert.EqualValues(t, 1, corrections)
	assert.Equal(t, contractdomain.StateCancelled, h.reload(t, c.ID).State)
}

func TestPostPayStopAtHalfPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.contract(t, contractdomain.TypePostPay, 0, "100")

	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	h.clock.AdvanceDays(15)

	stopped, err := h.svc.Stop(ctx, admin, c.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, h.clock.Now(), *stopped.LastInvoiceAt, time.Second)

	invs := h.invoices(t, c.ID)
	require.Len(t, invs, 1)
	assert.Equal(t, invoicedomain.StatusUnpaid, invs[0].Status)
	require.Len(t, invs[0].Positions, 1)
	assert.Equal(t, "50", invs[0].Positions[0].Amount.String())
	assert.True(t, invs[0].Totals().Net.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, contractdomain.StateCancelled, h.reload(t, c.ID).State)
}

func TestPostPayStopAtHalfPeriodWithVat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.contract(t, contractdomain.TypePostPay, 0)
	_, err := h.svc.AddPosition(ctx, admin, c.ID, contractdomain.PositionRequest{
		Name:          "Managed server",
		Amount:        decimal.NewFromInt(100),
		VatPercentage: decimal.NewFromInt(19),
	})
	require.NoError(t, err)

	_, err = h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	h.clock.AdvanceDays(15)
	_, err = h.svc.Stop(ctx, admin, c.ID)
	require.NoError(t, err)

	invs := h.invoices(t, c.ID)
	require.Len(t, invs, 1)
	assert.Equal(t, invoicedomain.StatusUnpaid, invs[0].Status)
	assert.Equal(t, "50", invs[0].Positions[0].Amount.String())
	totals := invs[0].Totals().Display()
	assert.Equal(t, "50.00", totals.Net.StringFixed(2))
	assert.Equal(t, "9.50", totals.Vat.StringFixed(2))
	assert.Equal(t, "59.50", totals.Gross.StringFixed(2))
}

func TestNormalStopIssuesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.contract(t, contractdomain.TypeNormal, 0, "100")

	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = h.svc.Stop(ctx, admin, c.ID)
	require.NoError(t, err)
	assert.Empty(t, h.invoices(t, c.ID))
}

func TestPrepaidStartRequiresBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "149.99")
	c := h.contract(t, contractdomain.TypePrepaidAuto, 0, "150")

	_, err := h.svc.Start(ctx, admin, c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrInsufficientBalance)
	assert.Equal(t, contractdomain.StateTemplate, h.reload(t, c.ID).State)
	assert.Empty(t, h.invoices(t, c.ID))
	assert.Equal(t, "149.99", h.balance(t).StringFixed(2))
}

func TestPrepaidStartDebitsAndIssuesPaidInvoice(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "200")
	c := h.contract(t, contractdomain.TypePrepaidManual, 0, "150")

	_, err := h.svc.Start(context.Background(), admin, c.ID)
	require.NoError(t, err)

	assert.Equal(t, "50.00", h.balance(t).StringFixed(2))
	invs := h.invoices(t, c.ID)
	require.Len(t, invs, 1)
	assert.Equal(t, invoicedomain.StatusPaid, invs[0].Status)
	assert.NotNil(t, invs[0].ArchivedAt)
}

func TestPrepaidAutoExtend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	t0 := h.clock.Now()
	h.deposit(t, "350")
	c := h.contract(t, contractdomain.TypePrepaidAuto, 0, "150")

	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	require.Equal(t, "200.00", h.balance(t).StringFixed(2))

	h.clock.AdvanceDays(10)
	cancelled, err := h.svc.Cancel(ctx, actor.Customer(customerID), c.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, days(t0, 30), *cancelled.CancelledTo, time.Second)
	require.Equal(t, contractdomain.StateExpires, h.reload(t, c.ID).State)

	extended, err := h.svc.Extend(ctx, actor.Customer(customerID), c.ID)
	require.NoError(t, err)
	assert.Nil(t, extended.CancelledAt)
	require.NotNil(t, extended.CancellationRevokedAt)
	assert.WithinDuration(t, days(t0, 60), *extended.CancelledTo, time.Second)
	assert.WithinDuration(t, days(t0, 30), *extended.LastInvoiceAt, time.Second)
	assert.Equal(t, contractdomain.StateStarted, h.reload(t, c.ID).State)

	assert.Equal(t, "50.00", h.balance(t).StringFixed(2))
	var last prepaiddomain.PrepaidHistory
	require.NoError(t, h.db.Order("id desc").First(&last).Error)
	assert.Equal(t, "-150.00", last.Amount.StringFixed(2))
	assert.Equal(t, prepaiddomain.MethodPrepaid, last.TransactionMethod)

	invs := h.invoices(t, c.ID)
	require.Len(t, invs, 2)
	assert.Equal(t, invoicedomain.StatusPaid, invs[1].Status)
	assert.NotNil(t, invs[1].ArchivedAt)
	assert.NotNil(t, invs[1].FileID)
	assert.Contains(t, h.kinds(), notification.KindContractExtended)
}

func TestExtendRefusesShortBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "299.99")
	c := h.contract(t, contractdomain.TypePrepaidAuto, 0, "150")

	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, admin, c.ID)
	require.NoError(t, err)
	before := h.reload(t, c.ID)

	_, err = h.svc.Extend(ctx, admin, c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrInsufficientBalance)

	after := h.reload(t, c.ID)
	assert.Equal(t, contractdomain.StateExpires, after.State)
	assert.WithinDuration(t, *before.CancelledTo, *after.CancelledTo, 0)
	assert.Len(t, h.invoices(t, c.ID), 1)
	assert.Equal(t, "149.99", h.balance(t).StringFixed(2))
}

func TestExtendRequiresPrepaidType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.contract(t, contractdomain.TypePostPay, 0, "10")

	_, err := h.svc.Extend(ctx, admin, c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrWrongStatus)

	_, err = h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = h.svc.Extend(ctx, admin, c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrWrongType)
}

func TestPrepaidStopCreditsRemainingShare(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "150")
	c := h.contract(t, contractdomain.TypePrepaidAuto, 0, "150")

	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	h.clock.AdvanceDays(15)
	_, err = h.svc.Stop(ctx, admin, c.ID)
	require.NoError(t, err)

	assert.Equal(t, "75.00", h.balance(t).StringFixed(2))
	invs := h.invoices(t, c.ID)
	require.Len(t, invs, 2)
	assert.Equal(t, invoicedomain.StatusRefund, invs[1].Status)
	assert.Equal(t, "-75.00", invs[1].Totals().Gross.StringFixed(2))
}

func TestPrepaidStopRightAfterExtendRefundsPaidAhead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "350")
	c := h.contract(t, contractdomain.TypePrepaidAuto, 0, "150")

	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	h.clock.AdvanceDays(10)
	_, err = h.svc.Cancel(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = h.svc.Extend(ctx, admin, c.ID)
	require.NoError(t, err)
	require.Equal(t, "50.00", h.balance(t).StringFixed(2))

	_, err = h.svc.Stop(ctx, admin, c.ID)
	require.NoError(t, err)

	// 300 paid for 60 days, 10 used
	assert.Equal(t, "300.00", h.balance(t).StringFixed(2))
	invs := h.invoices(t, c.ID)
	require.Len(t, invs, 3)
	assert.Equal(t, invoicedomain.StatusRefund, invs[2].Status)
	assert.Equal(t, "-250.00", invs[2].Totals().Gross.StringFixed(2))
}

func TestCancelBoundary(t *testing.T) {
	cases := []struct {
		name    string
		kind    contractdomain.TypeKind
		elapsed int
		want    int
	}{
		{"enough notice", contractdomain.TypePostPay, 5, 30},
		{"short notice rolls over", contractdomain.TypePostPay, 25, 60},
		{"prepaid ends at paid horizon", contractdomain.TypePrepaidAuto, 25, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			t0 := h.clock.Now()
			h.deposit(t, "100")
			c := h.contract(t, tc.kind, 10, "10")

			_, err := h.svc.Start(ctx, admin, c.ID)
			require.NoError(t, err)
			h.clock.AdvanceDays(tc.elapsed)

			cancelled, err := h.svc.Cancel(ctx, admin, c.ID)
			require.NoError(t, err)
			assert.WithinDuration(t, h.clock.Now(), *cancelled.CancelledAt, time.Second)
			assert.WithinDuration(t, days(t0, tc.want), *cancelled.CancelledTo, time.Second)
			assert.Equal(t, contractdomain.StateExpires, h.reload(t, c.ID).State)

			_, err = h.svc.Cancel(ctx, admin, c.ID)
			assert.ErrorIs(t, err, contractdomain.ErrWrongStatus)
		})
	}
}

func TestCancelNormalWithoutPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	typ, err := h.svc.CreateType(ctx, admin, contractdomain.TypeRequest{
		Name: "Support", Type: contractdomain.TypeNormal, CancellationPeriod: 14, InvoiceTypeID: h.invoiceType.ID,
	})
	require.NoError(t, err)
	c, err := h.svc.Create(ctx, admin, contractdomain.CreateRequest{UserID: customerID, TypeID: typ.ID})
	require.NoError(t, err)
	_, err = h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)

	cancelled, err := h.svc.Cancel(ctx, admin, c.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, days(h.clock.Now(), 14), *cancelled.CancelledTo, time.Second)
	assert.Contains(t, h.kinds(), notification.KindContractCancelled)
}

func TestRevokeCancellation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.contract(t, contractdomain.TypePostPay, 0, "10")

	_, err := h.svc.RevokeCancellation(ctx, admin, c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrWrongStatus)

	_, err = h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, admin, c.ID)
	require.NoError(t, err)

	revoked, err := h.svc.RevokeCancellation(ctx, actor.Customer(customerID), c.ID)
	require.NoError(t, err)
	assert.Nil(t, revoked.CancelledAt)
	assert.Nil(t, revoked.CancelledTo)
	assert.NotNil(t, revoked.CancellationRevokedAt)
	assert.Equal(t, contractdomain.StateStarted, h.reload(t, c.ID).State)
}

func TestRevokeCancellationRefusedForManualPrepaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "10")
	c := h.contract(t, contractdomain.TypePrepaidManual, 0, "10")

	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, admin, c.ID)
	require.NoError(t, err)

	_, err = h.svc.RevokeCancellation(ctx, admin, c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrWrongType)
}

func TestRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.contract(t, contractdomain.TypePrePay, 0, "10")

	_, err := h.svc.Restart(ctx, admin, c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrWrongStatus)

	_, err = h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = h.svc.Stop(ctx, admin, c.ID)
	require.NoError(t, err)
	require.Equal(t, contractdomain.StateCancelled, h.reload(t, c.ID).State)

	h.clock.AdvanceDays(3)
	restarted, err := h.svc.Restart(ctx, admin, c.ID)
	require.NoError(t, err)
	assert.Nil(t, restarted.CancelledAt)
	assert.Nil(t, restarted.CancelledTo)
	assert.WithinDuration(t, h.clock.Now(), *restarted.StartedAt, time.Second)
	assert.Equal(t, contractdomain.StateStarted, h.reload(t, c.ID).State)

	invs := h.invoices(t, c.ID)
	require.Len(t, invs, 3, "first invoice, refund, first invoice after restart")
	assert.Equal(t, invoicedomain.StatusUnpaid, invs[2].Status)
}

func TestRestartRefusedForManualPrepaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "10")
	c := h.contract(t, contractdomain.TypePrepaidManual, 0, "10")

	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = h.svc.Stop(ctx, admin, c.ID)
	require.NoError(t, err)

	_, err = h.svc.Restart(ctx, admin, c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrWrongType)
}

func TestCustomerTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.contract(t, contractdomain.TypePostPay, 0, "10")
	_, err := h.svc.Start(ctx, admin, c.ID)
	require.NoError(t, err)

	_, err = h.svc.Stop(ctx, actor.Customer(customerID), c.ID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	_, err = h.svc.Cancel(ctx, actor.Customer(otherID), c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrNotFound)
	assert.Equal(t, contractdomain.StateStarted, h.reload(t, c.ID).State)
}

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	return "", false, nil
}

func (busyLocker) Release(context.Context, string, string) error { return nil }

func TestTransitionRefusedWhileLocked(t *testing.T) {
	h := newHarnessWithLocker(t, busyLocker{})
	c := h.contract(t, contractdomain.TypePostPay, 0, "10")

	_, err := h.svc.Start(context.Background(), admin, c.ID)
	assert.ErrorIs(t, err, contractdomain.ErrBusy)
	assert.Equal(t, contractdomain.StateTemplate, h.reload(t, c.ID).State)
}
