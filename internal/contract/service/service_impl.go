package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	"github.com/smallbiznis/fakturo/internal/clock"
	"github.com/smallbiznis/fakturo/internal/config"
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/lock"
	"github.com/smallbiznis/fakturo/internal/notification"
	"github.com/smallbiznis/fakturo/internal/observability/metrics"
	positiondomain "github.com/smallbiznis/fakturo/internal/position/domain"
	prepaiddomain "github.com/smallbiznis/fakturo/internal/prepaid/domain"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"github.com/smallbiznis/fakturo/pkg/db/option"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
	"github.com/smallbiznis/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var gridColumns = pagination.Columns{
	"id":              "id",
	"user_id":         "user_id",
	"type_id":         "type_id",
	"started_at":      "started_at",
	"last_invoice_at": "last_invoice_at",
	"cancelled_to":    "cancelled_to",
	"created_at":      "created_at",
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Billing  *config.BillingConfigHolder
	Authz    authorization.Service
	Locker   lock.Locker
	Invoices invoicedomain.Issuer
	Ledger   prepaiddomain.Ledger
	Notifier notification.Sender
	Metrics  *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	billing  *config.BillingConfigHolder
	authz    authorization.Service
	locker   lock.Locker
	invoices invoicedomain.Issuer
	ledger   prepaiddomain.Ledger
	notifier notification.Sender
	metrics  *metrics.BillingMetrics

	contractrepo repository.Repository[contractdomain.Contract]
	positionrepo repository.Repository[contractdomain.ContractPosition]
	typerepo     repository.Repository[contractdomain.ContractType]
	discountrepo repository.Repository[positiondomain.Discount]
	userrepo     repository.Repository[userdomain.User]
}

func New(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("contract.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		billing:  p.Billing,
		authz:    p.Authz,
		locker:   p.Locker,
		invoices: p.Invoices,
		ledger:   p.Ledger,
		notifier: p.Notifier,
		metrics:  p.Metrics,

		contractrepo: repository.ProvideStore[contractdomain.Contract](p.DB),
		positionrepo: repository.ProvideStore[contractdomain.ContractPosition](p.DB),
		typerepo:     repository.ProvideStore[contractdomain.ContractType](p.DB),
		discountrepo: repository.ProvideStore[positiondomain.Discount](p.DB),
		userrepo:     repository.ProvideStore[userdomain.User](p.DB),
	}
}

func (s *Service) CreateType(ctx context.Context, a actor.Actor, req contractdomain.TypeRequest) (*contractdomain.ContractType, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectContract, authorization.ActionCreate); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || !req.Type.Valid() || req.InvoicePeriod < 0 || req.CancellationPeriod < 0 {
		return nil, contractdomain.ErrInvalidType
	}
	if req.Type != contractdomain.TypeNormal && req.InvoicePeriod == 0 {
		return nil, contractdomain.ErrInvalidType
	}
	if _, err := s.invoices.GetType(ctx, s.db.WithContext(ctx), req.InvoiceTypeID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	t := &contractdomain.ContractType{
		ID:                 s.genID.Generate(),
		Name:               name,
		Type:               req.Type,
		InvoicePeriod:      req.InvoicePeriod,
		CancellationPeriod: req.CancellationPeriod,
		InvoiceTypeID:      req.InvoiceTypeID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.typerepo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) ListTypes(ctx context.Context, a actor.Actor) ([]contractdomain.ContractType, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectContract, authorization.ActionView); err != nil {
		return nil, err
	}
	rows, err := s.typerepo.Find(ctx, nil, option.WithSortBy("name", option.ASC))
	if err != nil {
		return nil, err
	}
	out := make([]contractdomain.ContractType, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, a actor.Actor, req contractdomain.CreateRequest) (*contractdomain.Contract, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectContract, authorization.ActionCreate); err != nil {
		return nil, err
	}

	var c *contractdomain.Contract
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.getType(ctx, tx, req.TypeID); err != nil {
			return err
		}
		u, err := s.userrepo.WithTrx(tx).FindOne(ctx, &userdomain.User{ID: req.UserID})
		if err != nil {
			return err
		}
		if u == nil {
			return userdomain.ErrNotFound
		}

		now := s.clock.Now()
		c = &contractdomain.Contract{
			ID:        s.genID.Generate(),
			UserID:    req.UserID,
			TypeID:    req.TypeID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.contractrepo.WithTrx(tx).Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) AddPosition(ctx context.Context, a actor.Actor, id snowflake.ID, req contractdomain.PositionRequest) (*contractdomain.ContractPosition, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectContract, authorization.ActionUpdate); err != nil {
		return nil, err
	}
	if req.StartedAt != nil && req.EndedAt != nil && !req.EndedAt.After(*req.StartedAt) {
		return nil, contractdomain.ErrInvalidWindow
	}

	var row *contractdomain.ContractPosition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.lock(ctx, tx, a, id)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if contractdomain.DeriveState(*c, now) == contractdomain.StateCancelled {
			return contractdomain.ErrWrongStatus
		}

		qty := req.Quantity
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		line := positiondomain.Position{
			Name:          strings.TrimSpace(req.Name),
			Description:   strings.TrimSpace(req.Description),
			Amount:        req.Amount.Round(positiondomain.AmountScale),
			VatPercentage: req.VatPercentage,
			Quantity:      qty,
		}
		if err := line.Validate(); err != nil {
			return err
		}
		if req.DiscountID != nil {
			d, err := s.discountrepo.WithTrx(tx).FindOne(ctx, &positiondomain.Discount{ID: *req.DiscountID})
			if err != nil {
				return err
			}
			if d == nil {
				return positiondomain.ErrDiscountNotFound
			}
			line.ApplyDiscount(d)
		}

		row = &contractdomain.ContractPosition{
			ID:         s.genID.Generate(),
			ContractID: c.ID,
			Position:   line,
			StartedAt:  req.StartedAt,
			EndedAt:    req.EndedAt,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return s.positionrepo.WithTrx(tx).Create(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) EndPosition(ctx context.Context, a actor.Actor, id, positionID snowflake.ID) error {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectContract, authorization.ActionUpdate); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.lock(ctx, tx, a, id)
		if err != nil {
			return err
		}
		repo := s.positionrepo.WithTrx(tx)
		row, err := repo.FindOne(ctx, &contractdomain.ContractPosition{ID: positionID, ContractID: c.ID})
		if err != nil {
			return err
		}
		if row == nil {
			return contractdomain.ErrPositionNotFound
		}

		now := s.clock.Now()
		switch contractdomain.DeriveState(*c, now) {
		case contractdomain.StateTemplate:
			return repo.Delete(ctx, row.ID)
		case contractdomain.StateStarted, contractdomain.StateExpires:
			return repo.Update(ctx, row.ID, map[string]any{
				"ended_at":   now,
				"updated_at": now,
			})
		default:
			return contractdomain.ErrWrongStatus
		}
	})
}

func (s *Service) Delete(ctx context.Context, a actor.Actor, id snowflake.ID) error {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectContract, authorization.ActionDelete); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.lock(ctx, tx, a, id)
		if err != nil {
			return err
		}
		if c.StartedAt != nil {
			return contractdomain.ErrNotDeletable
		}
		if err := tx.Where("contract_id = ?", c.ID).Delete(&contractdomain.ContractPosition{}).Error; err != nil {
			return err
		}
		return s.contractrepo.WithTrx(tx).Delete(ctx, c.ID)
	})
}

func (s *Service) Get(ctx context.Context, a actor.Actor, id snowflake.ID) (*contractdomain.View, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectContract, authorization.ActionView); err != nil {
		return nil, err
	}
	c, err := s.contractrepo.FindOne(ctx, &contractdomain.Contract{ID: id})
	if err != nil {
		return nil, err
	}
	if c == nil || !a.CanAccess(c.UserID) {
		return nil, contractdomain.ErrNotFound
	}
	if err := s.loadPositions(ctx, s.db, c); err != nil {
		return nil, err
	}
	v := s.view(*c)
	return &v, nil
}

func (s *Service) List(ctx context.Context, a actor.Actor, grid pagination.GridRequest) (*pagination.GridResponse[contractdomain.View], error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectContract, authorization.ActionView); err != nil {
		return nil, err
	}
	filter := &contractdomain.Contract{}
	if !a.IsPrivileged() {
		filter.UserID = a.UserID
	}

	page, err := s.contractrepo.Grid(ctx, filter, grid, gridColumns, option.WithPreload("Positions"))
	if err != nil {
		return nil, err
	}
	return pagination.Map(page, s.view), nil
}

func (s *Service) view(c contractdomain.Contract) contractdomain.View {
	now := s.clock.Now()
	return contractdomain.View{
		Contract: c,
		State:    contractdomain.DeriveState(c, now),
		Gross:    c.Totals(now).Display().Gross,
	}
}

// lock loads the contract row for update. Foreign contracts look missing to customers.
func (s *Service) lock(ctx context.Context, tx *gorm.DB, a actor.Actor, id snowflake.ID) (*contractdomain.Contract, error) {
	c, err := s.contractrepo.WithTrx(tx).FindOne(ctx, &contractdomain.Contract{ID: id}, option.ForUpdate())
	if err != nil {
		return nil, err
	}
	if c == nil || !a.CanAccess(c.UserID) {
		return nil, contractdomain.ErrNotFound
	}
	return c, nil
}

func (s *Service) loadPositions(ctx context.Context, tx *gorm.DB, c *contractdomain.Contract) error {
	rows, err := s.positionrepo.WithTrx(tx).Find(ctx,
		&contractdomain.ContractPosition{ContractID: c.ID},
		option.WithSortBy("id", option.ASC),
	)
	if err != nil {
		return err
	}
	c.Positions = make([]contractdomain.ContractPosition, 0, len(rows))
	for _, r := range rows {
		c.Positions = append(c.Positions, *r)
	}
	return nil
}

func (s *Service) getType(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*contractdomain.ContractType, error) {
	t, err := s.typerepo.WithTrx(tx).FindOne(ctx, &contractdomain.ContractType{ID: id})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, contractdomain.ErrTypeNotFound
	}
	return t, nil
}

var (
	_ contractdomain.Service = (*Service)(nil)
	_ contractdomain.Biller  = (*Service)(nil)
)
