package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	"github.com/smallbiznis/fakturo/internal/notification"
	shopdomain "github.com/smallbiznis/fakturo/internal/shop/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stepFunc func(tx *gorm.DB, o *shopdomain.ShopOrderQueue, form *shopdomain.ShopForm) error

func (s *Service) Approve(ctx context.Context, a actor.Actor, id snowflake.ID) (*shopdomain.ShopOrderQueue, error) {
	o, err := s.transition(ctx, a, id, authorization.ActionShopOrderReview, shopdomain.ActionApprove, "",
		expect(shopdomain.StatusPending, shopdomain.StatusApproved))
	if err != nil {
		return nil, err
	}
	s.notifyOrder(ctx, notification.KindShopApproved, o, nil)
	return o, nil
}

func (s *Service) Disapprove(ctx context.Context, a actor.Actor, id snowflake.ID, message string) (*shopdomain.ShopOrderQueue, error) {
	refund := "0.00"
	o, err := s.transition(ctx, a, id, authorization.ActionShopOrderReview, shopdomain.ActionDisapprove, message,
		func(tx *gorm.DB, o *shopdomain.ShopOrderQueue, form *shopdomain.ShopForm) error {
			if o.Status != shopdomain.StatusPending {
				return shopdomain.ErrWrongStatus
			}
			amount, err := s.compensate(ctx, tx, a, o, form)
			if err != nil {
				return err
			}
			refund = amount.StringFixed(2)
			o.Status = shopdomain.StatusDisapproved
			return nil
		})
	if err != nil {
		return nil, err
	}
	s.notifyOrder(ctx, notification.KindShopDisapproved, o, map[string]any{"refund": refund, "message": message})
	return o, nil
}

func (s *Service) Verify(ctx context.Context, a actor.Actor, id snowflake.ID) (*shopdomain.ShopOrderQueue, error) {
	return s.transition(ctx, a, id, authorization.ActionShopOrderProcess, shopdomain.ActionVerify, "",
		expect(shopdomain.StatusApproved, shopdomain.StatusVerified))
}

func (s *Service) Invalidate(ctx context.Context, a actor.Actor, id snowflake.ID, message string) (*shopdomain.ShopOrderQueue, error) {
	return s.transition(ctx, a, id, authorization.ActionShopOrderProcess, shopdomain.ActionInvalidate, message,
		expect(shopdomain.StatusApproved, shopdomain.StatusInvalid))
}

func (s *Service) MarkSetup(ctx context.Context, a actor.Actor, id snowflake.ID) (*shopdomain.ShopOrderQueue, error) {
	o, err := s.transition(ctx, a, id, authorization.ActionShopOrderProcess, shopdomain.ActionSetup, "",
		expect(shopdomain.StatusVerified, shopdomain.StatusSetup))
	if err != nil {
		return nil, err
	}
	s.notifyOrder(ctx, notification.KindShopSetup, o, nil)
	return o, nil
}

func (s *Service) RecordFailure(ctx context.Context, a actor.Actor, id snowflake.ID, message string) (*shopdomain.ShopOrderQueue, error) {
	maxFails := s.billing.Get().Shop.MaxFails
	return s.transition(ctx, a, id, authorization.ActionShopOrderProcess, shopdomain.ActionFail, message,
		func(_ *gorm.DB, o *shopdomain.ShopOrderQueue, _ *shopdomain.ShopForm) error {
			if o.Status != shopdomain.StatusVerified {
				return shopdomain.ErrWrongStatus
			}
			o.Fails++
			if o.Fails >= maxFails {
				o.Status = shopdomain.StatusFailed
			}
			return nil
		})
}

func expect(from, to shopdomain.OrderStatus) stepFunc {
	return func(_ *gorm.DB, o *shopdomain.ShopOrderQueue, _ *shopdomain.ShopForm) error {
		if o.Status != from {
			return shopdomain.ErrWrongStatus
		}
		o.Status = to
		return nil
	}
}

// transition locks the order, applies step and persists the result with a
// history entry in the same transaction.
func (s *Service) transition(ctx context.Context, a actor.Actor, id snowflake.ID, authzAction, action, message string, step stepFunc) (*shopdomain.ShopOrderQueue, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectShopOrder, authzAction); err != nil {
		return nil, err
	}

	var order *shopdomain.ShopOrderQueue
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.lock(ctx, tx, a, id)
		if err != nil {
			return err
		}
		form, err := s.form(ctx, tx, o.FormID, action == shopdomain.ActionEdit)
		if err != nil {
			return err
		}
		if err := step(tx, o, form); err != nil {
			return err
		}

		o.UpdatedAt = s.clock.Now()
		if err := s.orderrepo.WithTrx(tx).Update(ctx, o.ID, map[string]any{
			"status":      o.Status,
			"amount":      o.Amount,
			"gross":       o.Gross,
			"fails":       o.Fails,
			"compensated": o.Compensated,
			"updated_at":  o.UpdatedAt,
		}); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, tx, o, a, action, message); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncShopTransition(string(order.Status))
	s.log.Info("shop order transition",
		zap.String("order_id", order.ID.String()),
		zap.String("action", action),
		zap.String("status", string(order.Status)),
		zap.String("actor", a.String()),
	)
	return order, nil
}

func (s *Service) notifyOrder(ctx context.Context, kind notification.Kind, o *shopdomain.ShopOrderQueue, extra map[string]any) {
	form, err := s.formrepo.FindOne(ctx, &shopdomain.ShopForm{ID: o.FormID})
	if err != nil || form == nil {
		s.log.Warn("shop notification without form", zap.String("order_id", o.ID.String()), zap.Error(err))
		form = &shopdomain.ShopForm{}
	}
	s.notify(ctx, kind, o, form, extra)
}
