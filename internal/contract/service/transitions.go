package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	"github.com/smallbiznis/fakturo/internal/config"
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/lock"
	"github.com/smallbiznis/fakturo/internal/notification"
	"github.com/smallbiznis/fakturo/internal/observability/metrics"
	positiondomain "github.com/smallbiznis/fakturo/internal/position/domain"
	"github.com/smallbiznis/fakturo/internal/precondition"
	prepaiddomain "github.com/smallbiznis/fakturo/internal/prepaid/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	lockTTL    = 30 * time.Second
	dateLayout = "2006-01-02"
)

func lockKey(id snowflake.ID) string {
	return "contract:" + id.String()
}

// transition is the working set of one lifecycle operation. Invoices and
// events collected here are announced only after the transaction commits.
type transition struct {
	actor    actor.Actor
	contract *contractdomain.Contract
	typ      *contractdomain.ContractType
	now      time.Time
	cfg      config.BillingConfig

	issued []*invoicedomain.Invoice
	events []notification.Event
}

func (t *transition) state() contractdomain.State {
	return contractdomain.DeriveState(*t.contract, t.now)
}

func (t *transition) notify(kind notification.Kind, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["contract"] = t.contract.ID.String()
	t.events = append(t.events, notification.Event{
		Kind:   kind,
		UserID: t.contract.UserID,
		Data:   data,
	})
}

type step func(ctx context.Context, tx *gorm.DB, t *transition) error

func (s *Service) Start(ctx context.Context, a actor.Actor, id snowflake.ID) (*contractdomain.Contract, error) {
	return s.run(ctx, a, id, "start", authorization.ActionContractStart, s.start)
}

func (s *Service) Extend(ctx context.Context, a actor.Actor, id snowflake.ID) (*contractdomain.Contract, error) {
	return s.run(ctx, a, id, "extend", authorization.ActionContractExtend, s.extend)
}

func (s *Service) Stop(ctx context.Context, a actor.Actor, id snowflake.ID) (*contractdomain.Contract, error) {
	return s.run(ctx, a, id, "stop", authorization.ActionContractStop, s.stop)
}

func (s *Service) Cancel(ctx context.Context, a actor.Actor, id snowflake.ID) (*contractdomain.Contract, error) {
	return s.run(ctx, a, id, "cancel", authorization.ActionContractCancel, s.cancel)
}

func (s *Service) Restart(ctx context.Context, a actor.Actor, id snowflake.ID) (*contractdomain.Contract, error) {
	return s.run(ctx, a, id, "restart", authorization.ActionContractRestart, s.restart)
}

func (s *Service) RevokeCancellation(ctx context.Context, a actor.Actor, id snowflake.ID) (*contractdomain.Contract, error) {
	return s.run(ctx, a, id, "revoke_cancellation", authorization.ActionContractRevokeCancellation, s.revokeCancellation)
}

func (s *Service) run(ctx context.Context, a actor.Actor, id snowflake.ID, name, action string, fn step) (*contractdomain.Contract, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectContract, action); err != nil {
		return nil, err
	}

	var t *transition
	err := lock.With(ctx, s.locker, lockKey(id), lockTTL, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			c, err := s.lock(ctx, tx, a, id)
			if err != nil {
				return err
			}
			typ, err := s.getType(ctx, tx, c.TypeID)
			if err != nil {
				return err
			}
			if err := s.loadPositions(ctx, tx, c); err != nil {
				return err
			}
			t = &transition{
				actor:    a,
				contract: c,
				typ:      typ,
				now:      s.clock.Now(),
				cfg:      s.billing.Get(),
			}
			if err := fn(ctx, tx, t); err != nil {
				return err
			}
			return s.persist(ctx, tx, t)
		})
	})
	if errors.Is(err, lock.ErrBusy) {
		err = contractdomain.ErrBusy
	}

	typeName := "unknown"
	if t != nil {
		typeName = string(t.typ.Type)
	}
	if err != nil {
		result := metrics.ResultError
		if _, ok := precondition.Reason(err); ok {
			result = metrics.ResultRejected
		}
		s.metrics.IncContractTransition(typeName, name, result)
		return nil, err
	}
	s.metrics.IncContractTransition(typeName, name, metrics.ResultOK)

	s.log.Info("contract transition",
		zap.String("contract_id", id.String()),
		zap.String("transition", name),
		zap.String("state", string(t.state())),
		zap.String("actor", a.String()),
	)
	s.announce(ctx, t)
	return t.contract, nil
}

func (s *Service) announce(ctx context.Context, t *transition) {
	for _, inv := range t.issued {
		s.invoices.Announce(ctx, inv)
	}
	for _, ev := range t.events {
		s.notifier.Send(ctx, ev)
	}
}

func (s *Service) persist(ctx context.Context, tx *gorm.DB, t *transition) error {
	c := t.contract
	c.UpdatedAt = t.now
	return s.contractrepo.WithTrx(tx).Update(ctx, c.ID, map[string]any{
		"started_at":              c.StartedAt,
		"last_invoice_at":         c.LastInvoiceAt,
		"cancelled_at":            c.CancelledAt,
		"cancelled_to":            c.CancelledTo,
		"cancellation_revoked_at": c.CancellationRevokedAt,
		"updated_at":              c.UpdatedAt,
	})
}

func (s *Service) start(ctx context.Context, tx *gorm.DB, t *transition) error {
	if t.contract.StartedAt != nil {
		return contractdomain.ErrAlreadyStarted
	}
	return s.begin(ctx, tx, t)
}

// begin opens the first period and charges it according to the type.
func (s *Service) begin(ctx context.Context, tx *gorm.DB, t *transition) error {
	now := t.now
	t.contract.StartedAt = &now
	t.contract.LastInvoiceAt = &now

	switch {
	case t.typ.Type == contractdomain.TypePrePay:
		return s.issue(ctx, tx, t, invoicedomain.StatusUnpaid, t.contract.ActivePositions(now))
	case t.typ.Type.IsPrepaid():
		return s.chargePeriod(ctx, tx, t)
	}
	return nil
}

// chargePeriod debits the gross of the active lines and issues a paid invoice.
func (s *Service) chargePeriod(ctx context.Context, tx *gorm.DB, t *transition) error {
	lines := t.contract.ActivePositions(t.now)
	if len(lines) == 0 {
		return contractdomain.ErrMissingPositions
	}
	gross := positiondomain.Totals(lines, false).Display().Gross
	if gross.IsPositive() {
		contractID := t.contract.ID
		if _, err := s.ledger.Debit(ctx, tx, prepaiddomain.Entry{
			UserID:     t.contract.UserID,
			Creator:    t.actor,
			Amount:     gross,
			Method:     prepaiddomain.MethodPrepaid,
			ContractID: &contractID,
		}); err != nil {
			return err
		}
	}
	return s.issue(ctx, tx, t, invoicedomain.StatusPaid, lines)
}

func (s *Service) issue(ctx context.Context, tx *gorm.DB, t *transition, status invoicedomain.InvoiceStatus, lines []positiondomain.Position) error {
	_, err := s.issueLinked(ctx, tx, t, status, lines, nil)
	return err
}

func (s *Service) issueLinked(ctx context.Context, tx *gorm.DB, t *transition, status invoicedomain.InvoiceStatus, lines []positiondomain.Position, originalID *snowflake.ID) (*invoicedomain.Invoice, error) {
	if len(lines) == 0 {
		return nil, contractdomain.ErrMissingPositions
	}
	contractID := t.contract.ID
	inv, err := s.invoices.Issue(ctx, tx, invoicedomain.IssueRequest{
		Actor:      t.actor,
		UserID:     t.contract.UserID,
		TypeID:     t.typ.InvoiceTypeID,
		ContractID: &contractID,
		OriginalID: originalID,
		Status:     status,
		Positions:  lines,
	})
	if err != nil {
		return nil, err
	}
	t.issued = append(t.issued, inv)
	return inv, nil
}

func (s *Service) extend(ctx context.Context, tx *gorm.DB, t *transition) error {
	if t.state() != contractdomain.StateExpires {
		return contractdomain.ErrWrongStatus
	}
	if !t.typ.Type.IsPrepaid() {
		return contractdomain.ErrWrongType
	}
	if err := s.chargePeriod(ctx, tx, t); err != nil {
		return err
	}

	horizon := *t.contract.CancelledTo
	next := horizon.AddDate(0, 0, t.typ.InvoicePeriod)
	now := t.now
	t.contract.LastInvoiceAt = &horizon
	t.contract.CancelledTo = &next
	t.contract.CancelledAt = nil
	t.contract.CancellationRevokedAt = &now

	t.notify(notification.KindContractExtended, map[string]any{"until": next.Format(dateLayout)})
	return nil
}

func (s *Service) stop(ctx context.Context, tx *gorm.DB, t *transition) error {
	if t.state() != contractdomain.StateStarted {
		return contractdomain.ErrWrongStatus
	}

	period := t.typ.InvoicePeriod
	elapsed := positiondomain.DaysBetween(*t.contract.Anchor(), t.now)
	clamp := t.cfg.Proration.Clamp

	switch {
	case t.typ.Type == contractdomain.TypePrePay:
		if err := s.refundLatest(ctx, tx, t, positiondomain.RemainingFactor(period, elapsed, clamp)); err != nil {
			return err
		}
	case t.typ.Type == contractdomain.TypePostPay:
		factor := positiondomain.ElapsedFactor(period, elapsed, clamp)
		lines := scaled(t.contract.ActivePositions(t.now), factor, false)
		if len(lines) > 0 {
			if err := s.issue(ctx, tx, t, invoicedomain.StatusUnpaid, lines); err != nil {
				return err
			}
		}
		now := t.now
		t.contract.LastInvoiceAt = &now
	case t.typ.Type.IsPrepaid():
		// an extend or early renewal moves the anchor past now
		if err := s.refundPrepaid(ctx, tx, t, positiondomain.UnusedFactor(period, elapsed, clamp)); err != nil {
			return err
		}
	}

	now := t.now
	t.contract.CancelledAt = &now
	t.contract.CancelledTo = &now
	t.notify(notification.KindContractStopped, map[string]any{"date": now.Format(dateLayout)})
	return nil
}

// refundLatest negates the unused part of the last issued invoice.
func (s *Service) refundLatest(ctx context.Context, tx *gorm.DB, t *transition, factor decimal.Decimal) error {
	latest, err := s.invoices.LatestArchived(ctx, tx, t.contract.ID)
	if err != nil || latest == nil {
		return err
	}
	lines := make([]positiondomain.Position, 0, len(latest.Positions))
	for _, p := range latest.Positions {
		lines = append(lines, p.Position)
	}
	originalID := latest.ID
	_, err = s.issueLinked(ctx, tx, t, invoicedomain.StatusRefund, scaled(lines, factor, true), &originalID)
	return err
}

func (s *Service) refundPrepaid(ctx context.Context, tx *gorm.DB, t *transition, factor decimal.Decimal) error {
	active := t.contract.ActivePositions(t.now)
	if len(active) == 0 {
		return nil
	}
	refund := positiondomain.Totals(active, false).Gross.Mul(factor).Round(2)
	if refund.IsPositive() {
		contractID := t.contract.ID
		if _, err := s.ledger.Credit(ctx, tx, prepaiddomain.Entry{
			UserID:     t.contract.UserID,
			Creator:    t.actor,
			Amount:     refund,
			Method:     prepaiddomain.MethodRefund,
			ContractID: &contractID,
		}); err != nil {
			return err
		}
	}
	return s.issue(ctx, tx, t, invoicedomain.StatusRefund, scaled(active, factor, true))
}

func scaled(lines []positiondomain.Position, factor decimal.Decimal, negate bool) []positiondomain.Position {
	out := make([]positiondomain.Position, 0, len(lines))
	for _, p := range lines {
		p = p.Scale(factor)
		if negate {
			p = p.Negate()
		}
		out = append(out, p)
	}
	return out
}

func (s *Service) cancel(ctx context.Context, tx *gorm.DB, t *transition) error {
	if t.state() != contractdomain.StateStarted {
		return contractdomain.ErrWrongStatus
	}

	now := t.now
	period := t.typ.InvoicePeriod
	var until time.Time
	switch {
	case period <= 0:
		until = now.AddDate(0, 0, t.typ.CancellationPeriod)
	case t.typ.Type.IsPrepaid():
		until = contractdomain.NextBoundary(*t.contract.Anchor(), now, period)
	default:
		until = contractdomain.NextBoundary(*t.contract.Anchor(), now, period)
		if positiondomain.DaysBetween(now, until) < t.typ.CancellationPeriod {
			until = until.AddDate(0, 0, period)
		}
	}

	t.contract.CancelledAt = &now
	t.contract.CancelledTo = &until
	t.notify(notification.KindContractCancelled, map[string]any{"until": until.Format(dateLayout)})
	return nil
}

func (s *Service) restart(ctx context.Context, tx *gorm.DB, t *transition) error {
	if t.state() != contractdomain.StateCancelled {
		return contractdomain.ErrWrongStatus
	}
	if t.typ.Type == contractdomain.TypePrepaidManual {
		return contractdomain.ErrWrongType
	}
	t.contract.CancelledAt = nil
	t.contract.CancelledTo = nil
	t.contract.CancellationRevokedAt = nil
	return s.begin(ctx, tx, t)
}

func (s *Service) revokeCancellation(_ context.Context, _ *gorm.DB, t *transition) error {
	if t.state() != contractdomain.StateExpires {
		return contractdomain.ErrWrongStatus
	}
	if t.typ.Type == contractdomain.TypePrepaidManual {
		return contractdomain.ErrWrongType
	}
	now := t.now
	t.contract.CancelledAt = nil
	t.contract.CancelledTo = nil
	t.contract.CancellationRevokedAt = &now
	return nil
}
