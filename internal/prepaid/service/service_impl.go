package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	"github.com/smallbiznis/fakturo/internal/clock"
	"github.com/smallbiznis/fakturo/internal/observability/metrics"
	prepaiddomain "github.com/smallbiznis/fakturo/internal/prepaid/domain"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"github.com/smallbiznis/fakturo/pkg/db/option"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
	"github.com/smallbiznis/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const balanceScale = 4

var gridColumns = pagination.Columns{
	"id":                 "id",
	"amount":             "amount",
	"transaction_method": "transaction_method",
	"transaction_id":     "transaction_id",
	"note":               "note",
	"created_at":         "created_at",
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Authz   authorization.Service
	Metrics *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    repository.Repository[prepaiddomain.PrepaidHistory]
	genID   *snowflake.Node
	clock   clock.Clock
	authz   authorization.Service
	metrics *metrics.BillingMetrics
}

func New(p Params) prepaiddomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("prepaid.service"),
		repo:    repository.ProvideStore[prepaiddomain.PrepaidHistory](p.DB),
		genID:   p.GenID,
		clock:   p.Clock,
		authz:   p.Authz,
		metrics: p.Metrics,
	}
}

func (s *Service) Balance(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (decimal.Decimal, error) {
	if tx == nil {
		tx = s.db
	}
	var total decimal.NullDecimal
	err := tx.WithContext(ctx).
		Model(&prepaiddomain.PrepaidHistory{}).
		Select("SUM(amount)").
		Where("user_id = ?", userID).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal.Round(balanceScale), nil
}

func (s *Service) Debit(ctx context.Context, tx *gorm.DB, entry prepaiddomain.Entry) (*prepaiddomain.PrepaidHistory, error) {
	if !entry.Amount.IsPositive() {
		return nil, prepaiddomain.ErrInvalidAmount
	}
	if err := s.lockAccount(ctx, tx, entry.UserID); err != nil {
		return nil, err
	}
	balance, err := s.Balance(ctx, tx, entry.UserID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(entry.Amount) {
		return nil, prepaiddomain.ErrInsufficientBalance
	}
	return s.append(ctx, tx, entry, entry.Amount.Neg())
}

func (s *Service) Credit(ctx context.Context, tx *gorm.DB, entry prepaiddomain.Entry) (*prepaiddomain.PrepaidHistory, error) {
	if !entry.Amount.IsPositive() {
		return nil, prepaiddomain.ErrInvalidAmount
	}
	return s.append(ctx, tx, entry, entry.Amount)
}

func (s *Service) Reverse(ctx context.Context, tx *gorm.DB, entry prepaiddomain.Entry) (*prepaiddomain.PrepaidHistory, error) {
	if !entry.Amount.IsPositive() {
		return nil, prepaiddomain.ErrInvalidAmount
	}
	if err := s.lockAccount(ctx, tx, entry.UserID); err != nil {
		return nil, err
	}
	return s.append(ctx, tx, entry, entry.Amount.Neg())
}

// lockAccount serialises balance checks per user on the owner row.
func (s *Service) lockAccount(ctx context.Context, tx *gorm.DB, userID snowflake.ID) error {
	if userID == 0 {
		return prepaiddomain.ErrInvalidUser
	}
	var owner userdomain.User
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", userID).
		Take(&owner).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return prepaiddomain.ErrInvalidUser
		}
		return err
	}
	return nil
}

func (s *Service) append(ctx context.Context, tx *gorm.DB, entry prepaiddomain.Entry, signed decimal.Decimal) (*prepaiddomain.PrepaidHistory, error) {
	now := s.clock.Now()
	row := &prepaiddomain.PrepaidHistory{
		ID:                s.genID.Generate(),
		UserID:            entry.UserID,
		CreatorUserID:     entry.Creator.CreatorID(),
		ContractID:        entry.ContractID,
		InvoiceID:         entry.InvoiceID,
		ShopOrderID:       entry.ShopOrderID,
		Amount:            signed.Round(balanceScale),
		TransactionMethod: entry.Method,
		TransactionID:     entry.TransactionID,
		Note:              strings.TrimSpace(entry.Note),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.WithTrx(tx).Create(ctx, row); err != nil {
		return nil, err
	}
	s.metrics.IncLedgerEntry(row.Amount.IsNegative(), row.TransactionMethod)
	s.log.Debug("ledger entry appended",
		zap.String("user_id", row.UserID.String()),
		zap.String("amount", row.Amount.String()),
		zap.String("method", row.TransactionMethod),
	)
	return row, nil
}

func (s *Service) GetBalance(ctx context.Context, a actor.Actor, userID snowflake.ID) (decimal.Decimal, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectPrepaid, authorization.ActionView); err != nil {
		return decimal.Zero, err
	}
	if !a.CanAccess(userID) {
		return decimal.Zero, authorization.ErrForbidden
	}
	return s.Balance(ctx, nil, userID)
}

func (s *Service) Deposit(ctx context.Context, a actor.Actor, req prepaiddomain.DepositRequest) (*prepaiddomain.PrepaidHistory, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectPrepaid, authorization.ActionPrepaidDeposit); err != nil {
		return nil, err
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = prepaiddomain.MethodDeposit
	}

	var row *prepaiddomain.PrepaidHistory
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockAccount(ctx, tx, req.UserID); err != nil {
			return err
		}
		var err error
		row, err = s.Credit(ctx, tx, prepaiddomain.Entry{
			UserID:        req.UserID,
			Creator:       a,
			Amount:        req.Amount,
			Method:        method,
			TransactionID: strings.TrimSpace(req.TransactionID),
			Note:          req.Note,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) List(ctx context.Context, a actor.Actor, userID *snowflake.ID, grid pagination.GridRequest) (*pagination.GridResponse[prepaiddomain.PrepaidHistory], error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectPrepaid, authorization.ActionView); err != nil {
		return nil, err
	}

	filter := &prepaiddomain.PrepaidHistory{}
	if !a.IsPrivileged() {
		filter.UserID = a.UserID
	} else if userID != nil {
		filter.UserID = *userID
	}

	return s.repo.Grid(ctx, filter, grid, gridColumns)
}

func (s *Service) Correct(ctx context.Context, a actor.Actor, entryID snowflake.ID, req prepaiddomain.CorrectRequest) (*prepaiddomain.PrepaidHistory, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectPrepaid, authorization.ActionPrepaidCorrect); err != nil {
		return nil, err
	}
	if req.Amount.IsZero() {
		return nil, prepaiddomain.ErrInvalidAmount
	}

	var updated *prepaiddomain.PrepaidHistory
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		row, err := repo.FindOne(ctx, &prepaiddomain.PrepaidHistory{ID: entryID}, option.ForUpdate())
		if err != nil {
			return err
		}
		if row == nil {
			return prepaiddomain.ErrNotFound
		}

		previous := row.Amount
		row.Amount = req.Amount.Round(balanceScale)
		if note := strings.TrimSpace(req.Note); note != "" {
			row.Note = note
		}
		row.UpdatedAt = s.clock.Now()
		if err := repo.Save(ctx, row); err != nil {
			return err
		}

		s.log.Warn("prepaid entry corrected",
			zap.String("entry_id", row.ID.String()),
			zap.String("actor", a.String()),
			zap.String("previous_amount", previous.String()),
			zap.String("amount", row.Amount.String()),
		)
		updated = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
