package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"github.com/smallbiznis/fakturo/pkg/db"
	"github.com/smallbiznis/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Authz authorization.Service
}

type Service struct {
	log   *zap.Logger
	repo  repository.Repository[userdomain.User]
	genID *snowflake.Node
	authz authorization.Service
}

func New(p Params) userdomain.Service {
	return &Service{
		log:   p.Log.Named("user.service"),
		repo:  repository.ProvideStore[userdomain.User](p.DB),
		genID: p.GenID,
		authz: p.Authz,
	}
}

func (s *Service) Create(ctx context.Context, a actor.Actor, req userdomain.CreateRequest) (*userdomain.User, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectUser, authorization.ActionCreate); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, userdomain.ErrInvalidName
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return nil, userdomain.ErrInvalidEmail
	}
	role := req.Role
	if role == "" {
		role = actor.RoleCustomer
	}

	now := time.Now().UTC()
	u := &userdomain.User{
		ID:        s.genID.Generate(),
		Name:      name,
		Email:     strings.ToLower(addr.Address),
		Role:      role,
		Company:   strings.TrimSpace(req.Company),
		Address:   strings.TrimSpace(req.Address),
		VatID:     strings.TrimSpace(req.VatID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, userdomain.ErrEmailTaken
		}
		return nil, err
	}
	s.log.Info("user created", zap.String("user_id", u.ID.String()), zap.String("role", string(role)))
	return u, nil
}

func (s *Service) Get(ctx context.Context, a actor.Actor, id snowflake.ID) (*userdomain.User, error) {
	if !a.CanAccess(id) {
		return nil, authorization.ErrForbidden
	}
	u, err := s.repo.FindOne(ctx, &userdomain.User{ID: id})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, userdomain.ErrNotFound
	}
	return u, nil
}
