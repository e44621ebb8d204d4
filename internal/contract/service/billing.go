package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/actor"
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/lock"
	"github.com/smallbiznis/fakturo/internal/notification"
	"github.com/smallbiznis/fakturo/internal/observability/metrics"
	positiondomain "github.com/smallbiznis/fakturo/internal/position/domain"
	"github.com/smallbiznis/fakturo/pkg/db/option"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxCatchUp bounds how many missed periods one run bills per contract.
const maxCatchUp = 12

func (s *Service) BillDuePeriods(ctx context.Context) (int, error) {
	return s.sweep(ctx, "bill", s.billPeriods, contractdomain.TypePrePay, contractdomain.TypePostPay)
}

func (s *Service) RenewPrepaid(ctx context.Context) (int, error) {
	return s.sweep(ctx, "renew", s.renew, contractdomain.TypePrepaidAuto, contractdomain.TypePrepaidManual)
}

// sweep runs fn for every started contract of the given kinds. A contract
// that is locked elsewhere is skipped and picked up by the next run.
func (s *Service) sweep(ctx context.Context, name string, fn func(context.Context, *gorm.DB, *transition) (bool, error), kinds ...contractdomain.TypeKind) (int, error) {
	ids, err := s.candidates(ctx, kinds)
	if err != nil {
		return 0, err
	}

	var (
		done int
		errs error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return done, multierr.Append(errs, err)
		}
		changed, t, err := s.periodic(ctx, id, fn)
		switch {
		case errors.Is(err, lock.ErrBusy):
			s.log.Debug("contract busy, skipping", zap.String("contract_id", id.String()))
			continue
		case err != nil:
			s.log.Error("periodic billing failed",
				zap.String("contract_id", id.String()),
				zap.String("job", name),
				zap.Error(err),
			)
			if t != nil {
				s.metrics.IncContractTransition(string(t.typ.Type), name, metrics.ResultError)
			}
			errs = multierr.Append(errs, err)
			continue
		}
		if !changed {
			continue
		}
		done++
		s.metrics.IncContractTransition(string(t.typ.Type), name, metrics.ResultOK)
		s.announce(ctx, t)
	}
	return done, errs
}

func (s *Service) periodic(ctx context.Context, id snowflake.ID, fn func(context.Context, *gorm.DB, *transition) (bool, error)) (bool, *transition, error) {
	var (
		t       *transition
		changed bool
	)
	err := lock.With(ctx, s.locker, lockKey(id), lockTTL, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			c, err := s.lock(ctx, tx, actor.System, id)
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
				actor:    actor.System,
				contract: c,
				typ:      typ,
				now:      s.clock.Now(),
				cfg:      s.billing.Get(),
			}
			changed, err = fn(ctx, tx, t)
			if err != nil || !changed {
				return err
			}
			return s.persist(ctx, tx, t)
		})
	})
	return changed, t, err
}

func (s *Service) candidates(ctx context.Context, kinds []contractdomain.TypeKind) ([]snowflake.ID, error) {
	types, err := s.typerepo.Find(ctx, nil, option.WithIn("type", kinds))
	if err != nil || len(types) == 0 {
		return nil, err
	}
	typeIDs := make([]snowflake.ID, 0, len(types))
	for _, t := range types {
		typeIDs = append(typeIDs, t.ID)
	}
	rows, err := s.contractrepo.Find(ctx, nil,
		option.WithIn("type_id", typeIDs),
		option.WithCondition("started_at IS NOT NULL"),
		option.WithSortBy("id", option.ASC),
	)
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// billPeriods issues one invoice per elapsed period. Pre-pay bills the period
// that begins, post-pay the one that ended. A cancelled post-pay contract is
// still billed up to its cancellation date, the last period pro rata.
func (s *Service) billPeriods(ctx context.Context, tx *gorm.DB, t *transition) (bool, error) {
	c := t.contract
	period := t.typ.InvoicePeriod
	if period <= 0 || c.LastInvoiceAt == nil {
		return false, nil
	}
	switch t.state() {
	case contractdomain.StateStarted, contractdomain.StateExpires:
	case contractdomain.StateCancelled:
		if t.typ.Type != contractdomain.TypePostPay || c.CancelledTo == nil || !c.LastInvoiceAt.Before(*c.CancelledTo) {
			return false, nil
		}
	default:
		return false, nil
	}

	billed := 0
	for billed < maxCatchUp {
		from := *c.Anchor()
		to := from.AddDate(0, 0, period)

		var lines []positiondomain.Position
		if t.typ.Type == contractdomain.TypePrePay {
			if to.After(t.now) || (c.CancelledTo != nil && !to.Before(*c.CancelledTo)) {
				break
			}
			lines = c.ActivePositions(to)
		} else {
			if c.CancelledTo != nil {
				if !from.Before(*c.CancelledTo) {
					break
				}
				if to.After(*c.CancelledTo) {
					to = *c.CancelledTo
				}
			}
			if to.After(t.now) {
				break
			}
			lines = c.PositionsDuring(from, to)
			if days := positiondomain.DaysBetween(from, to); days < period {
				lines = scaled(lines, positiondomain.ElapsedFactor(period, days, t.cfg.Proration.Clamp), false)
			}
		}

		if len(lines) > 0 {
			if err := s.issue(ctx, tx, t, invoicedomain.StatusUnpaid, lines); err != nil {
				return false, err
			}
		}
		c.LastInvoiceAt = &to
		billed++
	}
	return billed > 0, nil
}

// renew charges the next prepaid period ahead of time or lets the contract
// run out at its paid horizon.
func (s *Service) renew(ctx context.Context, tx *gorm.DB, t *transition) (bool, error) {
	c := t.contract
	period := t.typ.InvoicePeriod
	if period <= 0 || t.state() != contractdomain.StateStarted {
		return false, nil
	}
	horizon := c.Anchor().AddDate(0, 0, period)
	if horizon.AddDate(0, 0, -t.cfg.Prepaid.RenewalLeadDays).After(t.now) {
		return false, nil
	}

	if t.typ.Type == contractdomain.TypePrepaidAuto {
		lines := c.ActivePositions(t.now)
		balance, err := s.ledger.Balance(ctx, tx, c.UserID)
		if err != nil {
			return false, err
		}
		gross := c.Totals(t.now).Display().Gross
		if len(lines) > 0 && balance.GreaterThanOrEqual(gross) {
			if err := s.chargePeriod(ctx, tx, t); err != nil {
				return false, err
			}
			c.LastInvoiceAt = &horizon
			return true, nil
		}
	}

	now := t.now
	c.CancelledAt = &now
	c.CancelledTo = &horizon
	t.notify(notification.KindContractCancelled, map[string]any{"until": horizon.Format(dateLayout)})
	return true, nil
}
