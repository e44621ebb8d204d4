package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	shopdomain "github.com/smallbiznis/fakturo/internal/shop/domain"
	"github.com/smallbiznis/fakturo/pkg/db/option"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

func (s *Service) CreateForm(ctx context.Context, a actor.Actor, req shopdomain.FormRequest) (*shopdomain.ShopForm, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectShopForm, authorization.ActionCreate); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || req.VatPercentage.IsNegative() || req.VatPercentage.GreaterThan(hundred) {
		return nil, shopdomain.ErrInvalidForm
	}

	now := s.clock.Now()
	form := &shopdomain.ShopForm{
		ID:            s.genID.Generate(),
		Name:          name,
		Approval:      req.Approval,
		Prepaid:       req.Prepaid,
		VatPercentage: req.VatPercentage,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.formrepo.Create(ctx, form); err != nil {
		return nil, err
	}
	return form, nil
}

func (s *Service) AddField(ctx context.Context, a actor.Actor, formID snowflake.ID, req shopdomain.FieldRequest) (*shopdomain.ShopFormField, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectShopForm, authorization.ActionUpdate); err != nil {
		return nil, err
	}
	key := strings.TrimSpace(req.Key)
	if key == "" || !req.Type.Valid() || req.Amount.IsNegative() || req.Step.IsNegative() {
		return nil, shopdomain.ErrInvalidField
	}
	if err := shopdomain.CheckRule(s.validate, req.Rule); err != nil {
		return nil, err
	}

	var field *shopdomain.ShopFormField
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.form(ctx, tx, formID, false); err != nil {
			return err
		}
		repo := s.fieldrepo.WithTrx(tx)
		existing, err := repo.Count(ctx, &shopdomain.ShopFormField{FormID: formID, Key: key})
		if err != nil {
			return err
		}
		if existing > 0 {
			return shopdomain.ErrDuplicateField
		}

		step := req.Step
		if step.IsZero() {
			step = decimal.NewFromInt(1)
		}
		label := strings.TrimSpace(req.Label)
		if label == "" {
			label = key
		}
		now := s.clock.Now()
		field = &shopdomain.ShopFormField{
			ID:        s.genID.Generate(),
			FormID:    formID,
			Key:       key,
			Label:     label,
			Type:      req.Type,
			Required:  req.Required,
			Rule:      strings.TrimSpace(req.Rule),
			Amount:    req.Amount,
			Step:      step,
			Sort:      req.Sort,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return repo.Create(ctx, field)
	})
	if err != nil {
		return nil, err
	}
	return field, nil
}

func (s *Service) AddOption(ctx context.Context, a actor.Actor, fieldID snowflake.ID, req shopdomain.OptionRequest) (*shopdomain.ShopFormFieldOption, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectShopForm, authorization.ActionUpdate); err != nil {
		return nil, err
	}
	value := strings.TrimSpace(req.Value)
	if value == "" || req.Amount.IsNegative() {
		return nil, shopdomain.ErrInvalidOption
	}

	field, err := s.fieldrepo.FindOne(ctx, &shopdomain.ShopFormField{ID: fieldID})
	if err != nil {
		return nil, err
	}
	if field == nil {
		return nil, shopdomain.ErrFieldNotFound
	}
	if field.Type != shopdomain.FieldSelect {
		return nil, shopdomain.ErrInvalidOption
	}

	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = value
	}
	now := s.clock.Now()
	opt := &shopdomain.ShopFormFieldOption{
		ID:        s.genID.Generate(),
		FieldID:   field.ID,
		Value:     value,
		Label:     label,
		Amount:    req.Amount,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.optionrepo.Create(ctx, opt); err != nil {
		return nil, err
	}
	return opt, nil
}

func (s *Service) GetForm(ctx context.Context, a actor.Actor, id snowflake.ID) (*shopdomain.ShopForm, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectShopForm, authorization.ActionView); err != nil {
		return nil, err
	}
	return s.form(ctx, s.db, id, true)
}

func (s *Service) ListForms(ctx context.Context, a actor.Actor) ([]shopdomain.ShopForm, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectShopForm, authorization.ActionView); err != nil {
		return nil, err
	}
	rows, err := s.formrepo.Find(ctx, nil, option.WithSortBy("name", option.ASC))
	if err != nil {
		return nil, err
	}
	out := make([]shopdomain.ShopForm, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out, nil
}

// form loads a form, optionally with its fields and their options.
func (s *Service) form(ctx context.Context, tx *gorm.DB, id snowflake.ID, withFields bool) (*shopdomain.ShopForm, error) {
	opts := []option.QueryOption{}
	if withFields {
		opts = append(opts, option.WithPreload("Fields", "Fields.Options"))
	}
	form, err := s.formrepo.WithTrx(tx).FindOne(ctx, &shopdomain.ShopForm{ID: id}, opts...)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, shopdomain.ErrFormNotFound
	}
	return form, nil
}
