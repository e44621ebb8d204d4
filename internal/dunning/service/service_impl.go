package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	"github.com/smallbiznis/fakturo/internal/clock"
	"github.com/smallbiznis/fakturo/internal/config"
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
	dunningdomain "github.com/smallbiznis/fakturo/internal/dunning/domain"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/notification"
	"github.com/smallbiznis/fakturo/internal/observability/metrics"
	"github.com/smallbiznis/fakturo/internal/providers/pdf"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"github.com/smallbiznis/fakturo/pkg/db/option"
	"github.com/smallbiznis/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Billing   *config.BillingConfigHolder
	Authz     authorization.Service
	Files     filedomain.Service
	Renderer  pdf.Renderer
	Notifier  notification.Sender
	Invoices  invoicedomain.Service
	Contracts contractdomain.Transitions
	Metrics   *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	sepa      config.SEPAConfig
	seller    string
	billing   *config.BillingConfigHolder
	authz     authorization.Service
	files     filedomain.Service
	renderer  pdf.Renderer
	notifier  notification.Sender
	invoices  invoicedomain.Service
	contracts contractdomain.Transitions
	metrics   *metrics.BillingMetrics

	rulerepo     repository.Repository[dunningdomain.InvoiceDunning]
	reminderrepo repository.Repository[dunningdomain.InvoiceReminder]
	invoicerepo  repository.Repository[invoicedomain.Invoice]
	typerepo     repository.Repository[invoicedomain.InvoiceType]
	userrepo     repository.Repository[userdomain.User]
}

func New(p Params) dunningdomain.Service {
	seller := p.Config.SEPA.CreditorName
	if seller == "" {
		seller = p.Config.AppName
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("dunning.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		sepa:      p.Config.SEPA,
		seller:    seller,
		billing:   p.Billing,
		authz:     p.Authz,
		files:     p.Files,
		renderer:  p.Renderer,
		notifier:  p.Notifier,
		invoices:  p.Invoices,
		contracts: p.Contracts,
		metrics:   p.Metrics,

		rulerepo:     repository.ProvideStore[dunningdomain.InvoiceDunning](p.DB),
		reminderrepo: repository.ProvideStore[dunningdomain.InvoiceReminder](p.DB),
		invoicerepo:  repository.ProvideStore[invoicedomain.Invoice](p.DB),
		typerepo:     repository.ProvideStore[invoicedomain.InvoiceType](p.DB),
		userrepo:     repository.ProvideStore[userdomain.User](p.DB),
	}
}

func (s *Service) CreateRule(ctx context.Context, a actor.Actor, req dunningdomain.RuleRequest) (*dunningdomain.InvoiceDunning, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectDunning, authorization.ActionCreate); err != nil {
		return nil, err
	}
	switch {
	case req.After < 0, req.Period < 0,
		req.FixedAmount.IsNegative(), req.PercentageAmount.IsNegative(),
		req.PercentageAmount.GreaterThan(decimalHundred),
		req.CancelContractRegular && req.CancelContractInstant:
		return nil, dunningdomain.ErrInvalidRule
	}

	var rule *dunningdomain.InvoiceDunning
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.invoices.GetType(ctx, tx, req.InvoiceTypeID); err != nil {
			return err
		}
		repo := s.rulerepo.WithTrx(tx)
		existing, err := repo.Count(ctx, &dunningdomain.InvoiceDunning{InvoiceTypeID: req.InvoiceTypeID},
			option.WithCondition("after_days = ?", req.After))
		if err != nil {
			return err
		}
		if existing > 0 {
			return dunningdomain.ErrDuplicateRule
		}

		now := s.clock.Now()
		rule = &dunningdomain.InvoiceDunning{
			ID:                    s.genID.Generate(),
			InvoiceTypeID:         req.InvoiceTypeID,
			After:                 req.After,
			Period:                req.Period,
			FixedAmount:           req.FixedAmount,
			PercentageAmount:      req.PercentageAmount,
			CancelContractRegular: req.CancelContractRegular,
			CancelContractInstant: req.CancelContractInstant,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		return repo.Create(ctx, rule)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *Service) ListRules(ctx context.Context, a actor.Actor, invoiceTypeID snowflake.ID) ([]dunningdomain.InvoiceDunning, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectDunning, authorization.ActionView); err != nil {
		return nil, err
	}
	return s.rules(ctx, s.db, invoiceTypeID)
}

// rules returns the escalation levels of a type, lowest first.
func (s *Service) rules(ctx context.Context, tx *gorm.DB, invoiceTypeID snowflake.ID) ([]dunningdomain.InvoiceDunning, error) {
	rows, err := s.rulerepo.WithTrx(tx).Find(ctx,
		&dunningdomain.InvoiceDunning{InvoiceTypeID: invoiceTypeID},
		option.WithSortBy("after_days", option.ASC),
	)
	if err != nil {
		return nil, err
	}
	out := make([]dunningdomain.InvoiceDunning, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out, nil
}

func (s *Service) DeleteRule(ctx context.Context, a actor.Actor, id snowflake.ID) error {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectDunning, authorization.ActionDelete); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.rulerepo.WithTrx(tx)
		rule, err := repo.FindOne(ctx, &dunningdomain.InvoiceDunning{ID: id}, option.ForUpdate())
		if err != nil {
			return err
		}
		if rule == nil {
			return dunningdomain.ErrRuleNotFound
		}
		used, err := s.reminderrepo.WithTrx(tx).Count(ctx, &dunningdomain.InvoiceReminder{DunningID: rule.ID})
		if err != nil {
			return err
		}
		if used > 0 {
			return dunningdomain.ErrRuleInUse
		}
		return repo.Delete(ctx, rule.ID)
	})
}

func (s *Service) ListReminders(ctx context.Context, a actor.Actor, invoiceID snowflake.ID) ([]dunningdomain.InvoiceReminder, error) {
	inv, err := s.invoices.Get(ctx, a, invoiceID)
	if err != nil {
		return nil, err
	}
	rows, err := s.reminderrepo.Find(ctx, &dunningdomain.InvoiceReminder{InvoiceID: inv.ID}, option.WithSortBy("level", option.ASC))
	if err != nil {
		return nil, err
	}
	out := make([]dunningdomain.InvoiceReminder, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out, nil
}
