package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	"github.com/smallbiznis/fakturo/internal/clock"
	"github.com/smallbiznis/fakturo/internal/config"
	"github.com/smallbiznis/fakturo/internal/notification"
	"github.com/smallbiznis/fakturo/internal/observability/metrics"
	prepaiddomain "github.com/smallbiznis/fakturo/internal/prepaid/domain"
	shopdomain "github.com/smallbiznis/fakturo/internal/shop/domain"
	"github.com/smallbiznis/fakturo/pkg/db/option"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
	"github.com/smallbiznis/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var gridColumns = pagination.Columns{
	"id":         "id",
	"user_id":    "user_id",
	"form_id":    "form_id",
	"status":     "status",
	"gross":      "gross",
	"created_at": "created_at",
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Billing  *config.BillingConfigHolder
	Authz    authorization.Service
	Ledger   prepaiddomain.Ledger
	Notifier notification.Sender
	Validate *validator.Validate
	Metrics  *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	billing  *config.BillingConfigHolder
	authz    authorization.Service
	ledger   prepaiddomain.Ledger
	notifier notification.Sender
	validate *validator.Validate
	metrics  *metrics.BillingMetrics

	formrepo    repository.Repository[shopdomain.ShopForm]
	fieldrepo   repository.Repository[shopdomain.ShopFormField]
	optionrepo  repository.Repository[shopdomain.ShopFormFieldOption]
	orderrepo   repository.Repository[shopdomain.ShopOrderQueue]
	valuerepo   repository.Repository[shopdomain.ShopOrderQueueField]
	historyrepo repository.Repository[shopdomain.ShopOrderQueueHistory]
}

var _ shopdomain.Service = (*Service)(nil)

func New(p Params) shopdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("shop.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		billing:  p.Billing,
		authz:    p.Authz,
		ledger:   p.Ledger,
		notifier: p.Notifier,
		validate: p.Validate,
		metrics:  p.Metrics,

		formrepo:    repository.ProvideStore[shopdomain.ShopForm](p.DB),
		fieldrepo:   repository.ProvideStore[shopdomain.ShopFormField](p.DB),
		optionrepo:  repository.ProvideStore[shopdomain.ShopFormFieldOption](p.DB),
		orderrepo:   repository.ProvideStore[shopdomain.ShopOrderQueue](p.DB),
		valuerepo:   repository.ProvideStore[shopdomain.ShopOrderQueueField](p.DB),
		historyrepo: repository.ProvideStore[shopdomain.ShopOrderQueueHistory](p.DB),
	}
}

func (s *Service) Submit(ctx context.Context, a actor.Actor, req shopdomain.SubmitRequest) (*shopdomain.ShopOrderQueue, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectShopOrder, authorization.ActionCreate); err != nil {
		return nil, err
	}
	userID := req.UserID
	if !a.IsPrivileged() || userID == 0 {
		userID = a.UserID
	}
	if userID == 0 {
		return nil, shopdomain.ErrInvalidUser
	}

	var (
		order *shopdomain.ShopOrderQueue
		form  *shopdomain.ShopForm
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		form, err = s.form(ctx, tx, req.FormID, true)
		if err != nil {
			return err
		}
		quote, err := shopdomain.Price(s.validate, *form, req.Values)
		if err != nil {
			return err
		}

		status := shopdomain.StatusApproved
		if form.Approval {
			status = shopdomain.StatusPending
		}
		now := s.clock.Now()
		order = &shopdomain.ShopOrderQueue{
			ID:        s.genID.Generate(),
			UserID:    userID,
			FormID:    form.ID,
			Status:    status,
			Amount:    quote.Net,
			Gross:     quote.Gross,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.orderrepo.WithTrx(tx).Create(ctx, order); err != nil {
			return err
		}
		if err := s.storeValues(ctx, tx, order, quote.Fields); err != nil {
			return err
		}
		if form.Prepaid {
			if err := s.charge(ctx, tx, a, order, quote.Gross); err != nil {
				return err
			}
		}
		return s.appendHistory(ctx, tx, order, a, shopdomain.ActionSubmit, "")
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncShopTransition(string(order.Status))
	s.log.Info("shop order submitted",
		zap.String("order_id", order.ID.String()),
		zap.String("status", string(order.Status)),
		zap.String("gross", order.Gross.StringFixed(2)),
	)
	if order.Status == shopdomain.StatusApproved {
		s.notify(ctx, notification.KindShopApproved, order, form, nil)
	}
	return order, nil
}

func (s *Service) Edit(ctx context.Context, a actor.Actor, id snowflake.ID, values map[string]string) (*shopdomain.ShopOrderQueue, error) {
	return s.transition(ctx, a, id, authorization.ActionUpdate, shopdomain.ActionEdit, "", func(tx *gorm.DB, o *shopdomain.ShopOrderQueue, form *shopdomain.ShopForm) error {
		if !o.Status.Editable() {
			return shopdomain.ErrNotEditable
		}
		quote, err := shopdomain.Price(s.validate, *form, values)
		if err != nil {
			return err
		}

		if form.Prepaid && !o.Compensated {
			diff := quote.Gross.Sub(o.Gross)
			switch {
			case diff.IsPositive():
				if err := s.charge(ctx, tx, a, o, diff); err != nil {
					return err
				}
			case diff.IsNegative():
				if err := s.credit(ctx, tx, a, o, diff.Neg()); err != nil {
					return err
				}
			}
		}

		if err := tx.Where("queue_id = ?", o.ID).Delete(&shopdomain.ShopOrderQueueField{}).Error; err != nil {
			return err
		}
		if err := s.storeValues(ctx, tx, o, quote.Fields); err != nil {
			return err
		}
		o.Amount = quote.Net
		o.Gross = quote.Gross
		o.Fails = 0
		o.Status = shopdomain.StatusApproved
		if form.Approval {
			o.Status = shopdomain.StatusPending
		}
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, a actor.Actor, id snowflake.ID) error {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectShopOrder, authorization.ActionDelete); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.lock(ctx, tx, a, id)
		if err != nil {
			return err
		}
		if o.Status == shopdomain.StatusSetup {
			return shopdomain.ErrNotDeletable
		}
		form, err := s.form(ctx, tx, o.FormID, false)
		if err != nil {
			return err
		}
		if _, err := s.compensate(ctx, tx, a, o, form); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, tx, o, a, shopdomain.ActionDelete, ""); err != nil {
			return err
		}
		if err := tx.Where("queue_id = ?", o.ID).Delete(&shopdomain.ShopOrderQueueField{}).Error; err != nil {
			return err
		}
		return s.orderrepo.WithTrx(tx).Delete(ctx, o.ID)
	})
	if err != nil {
		return err
	}
	s.log.Info("shop order deleted", zap.String("order_id", id.String()), zap.String("actor", a.String()))
	return nil
}

func (s *Service) Get(ctx context.Context, a actor.Actor, id snowflake.ID) (*shopdomain.ShopOrderQueue, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectShopOrder, authorization.ActionView); err != nil {
		return nil, err
	}
	o, err := s.orderrepo.FindOne(ctx, &shopdomain.ShopOrderQueue{ID: id}, option.WithPreload("Fields"))
	if err != nil {
		return nil, err
	}
	if o == nil || !a.CanAccess(o.UserID) {
		return nil, shopdomain.ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, a actor.Actor, grid pagination.GridRequest) (*pagination.GridResponse[shopdomain.ShopOrderQueue], error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectShopOrder, authorization.ActionView); err != nil {
		return nil, err
	}
	filter := &shopdomain.ShopOrderQueue{}
	if !a.IsPrivileged() {
		filter.UserID = a.UserID
	}

	return s.orderrepo.Grid(ctx, filter, grid, gridColumns, option.WithPreload("Fields"))
}

// History stays readable for admins after the order is deleted.
func (s *Service) History(ctx context.Context, a actor.Actor, id snowflake.ID) ([]shopdomain.ShopOrderQueueHistory, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectShopOrder, authorization.ActionView); err != nil {
		return nil, err
	}
	o, err := s.orderrepo.FindOne(ctx, &shopdomain.ShopOrderQueue{ID: id})
	if err != nil {
		return nil, err
	}
	if (o == nil && !a.IsPrivileged()) || (o != nil && !a.CanAccess(o.UserID)) {
		return nil, shopdomain.ErrOrderNotFound
	}
	rows, err := s.historyrepo.Find(ctx, &shopdomain.ShopOrderQueueHistory{QueueID: id}, option.WithSortBy("id", option.ASC))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, shopdomain.ErrOrderNotFound
	}
	out := make([]shopdomain.ShopOrderQueueHistory, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out, nil
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, a actor.Actor, id snowflake.ID) (*shopdomain.ShopOrderQueue, error) {
	o, err := s.orderrepo.WithTrx(tx).FindOne(ctx, &shopdomain.ShopOrderQueue{ID: id}, option.ForUpdate())
	if err != nil {
		return nil, err
	}
	if o == nil || !a.CanAccess(o.UserID) {
		return nil, shopdomain.ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) storeValues(ctx context.Context, tx *gorm.DB, o *shopdomain.ShopOrderQueue, values []shopdomain.ShopOrderQueueField) error {
	if len(values) == 0 {
		o.Fields = nil
		return nil
	}
	rows := make([]*shopdomain.ShopOrderQueueField, 0, len(values))
	o.Fields = o.Fields[:0]
	for _, v := range values {
		v.ID = s.genID.Generate()
		v.QueueID = o.ID
		row := v
		rows = append(rows, &row)
		o.Fields = append(o.Fields, row)
	}
	return s.valuerepo.WithTrx(tx).BatchCreate(ctx, rows)
}

func (s *Service) charge(ctx context.Context, tx *gorm.DB, a actor.Actor, o *shopdomain.ShopOrderQueue, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	orderID := o.ID
	_, err := s.ledger.Debit(ctx, tx, prepaiddomain.Entry{
		UserID:      o.UserID,
		Creator:     a,
		Amount:      amount,
		Method:      prepaiddomain.MethodShop,
		ShopOrderID: &orderID,
	})
	return err
}

func (s *Service) credit(ctx context.Context, tx *gorm.DB, a actor.Actor, o *shopdomain.ShopOrderQueue, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	orderID := o.ID
	_, err := s.ledger.Credit(ctx, tx, prepaiddomain.Entry{
		UserID:      o.UserID,
		Creator:     a,
		Amount:      amount,
		Method:      prepaiddomain.MethodRefund,
		ShopOrderID: &orderID,
	})
	return err
}

// compensate credits the frozen gross back once for prepaid orders.
func (s *Service) compensate(ctx context.Context, tx *gorm.DB, a actor.Actor, o *shopdomain.ShopOrderQueue, form *shopdomain.ShopForm) (decimal.Decimal, error) {
	if !form.Prepaid || o.Compensated || !o.Gross.IsPositive() {
		return decimal.Zero, nil
	}
	if err := s.credit(ctx, tx, a, o, o.Gross); err != nil {
		return decimal.Zero, err
	}
	o.Compensated = true
	return o.Gross, nil
}

func (s *Service) appendHistory(ctx context.Context, tx *gorm.DB, o *shopdomain.ShopOrderQueue, a actor.Actor, action, message string) error {
	return s.historyrepo.WithTrx(tx).Create(ctx, &shopdomain.ShopOrderQueueHistory{
		ID:        s.genID.Generate(),
		QueueID:   o.ID,
		ActorID:   a.CreatorID(),
		Action:    action,
		Status:    o.Status,
		Message:   message,
		CreatedAt: s.clock.Now(),
	})
}

func (s *Service) notify(ctx context.Context, kind notification.Kind, o *shopdomain.ShopOrderQueue, form *shopdomain.ShopForm, extra map[string]any) {
	data := map[string]any{
		"order": o.ID.String(),
		"form":  form.Name,
	}
	for k, v := range extra {
		data[k] = v
	}
	s.notifier.Send(ctx, notification.Event{Kind: kind, UserID: o.UserID, Data: data})
}
