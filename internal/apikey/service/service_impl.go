package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/actor"
	apikeydomain "github.com/smallbiznis/fakturo/internal/apikey/domain"
	"github.com/smallbiznis/fakturo/internal/authorization"
	"github.com/smallbiznis/fakturo/internal/clock"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"github.com/smallbiznis/fakturo/pkg/db/option"
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
	Clock clock.Clock
	Authz authorization.Service
}

type Service struct {
	log   *zap.Logger
	keys  repository.Repository[apikeydomain.APIKey]
	users repository.Repository[userdomain.User]
	genID *snowflake.Node
	clock clock.Clock
	authz authorization.Service
}

func New(p Params) apikeydomain.Service {
	return &Service{
		log:   p.Log.Named("apikey.service"),
		keys:  repository.ProvideStore[apikeydomain.APIKey](p.DB),
		users: repository.ProvideStore[userdomain.User](p.DB),
		genID: p.GenID,
		clock: p.Clock,
		authz: p.Authz,
	}
}

func (s *Service) List(ctx context.Context, a actor.Actor, userID snowflake.ID) ([]apikeydomain.Response, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectAPIKey, authorization.ActionView); err != nil {
		return nil, err
	}
	if !a.CanAccess(userID) {
		return nil, authorization.ErrForbidden
	}

	items, err := s.keys.Find(ctx, &apikeydomain.APIKey{UserID: userID}, option.WithSortBy("created_at", option.DESC))
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for _, k := range items {
		resp = append(resp, apikeydomain.Response{
			KeyID:      k.KeyID,
			Name:       k.Name,
			Role:       k.Role,
			IsActive:   k.IsActive,
			CreatedAt:  k.CreatedAt,
			LastUsedAt: k.LastUsedAt,
		})
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, a actor.Actor, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectAPIKey, authorization.ActionCreate); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}
	owner, err := s.users.FindOne(ctx, &userdomain.User{ID: req.UserID})
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, userdomain.ErrNotFound
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	keyID := "key_" + id.Base58()
	plain, hash, err := generateAPIKey()
	if err != nil {
		return nil, err
	}

	key := &apikeydomain.APIKey{
		ID:        id,
		UserID:    owner.ID,
		KeyID:     keyID,
		Name:      name,
		Role:      owner.Role,
		KeyHash:   hash,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}

	s.log.Info("api key created", zap.String("key_id", keyID), zap.String("user_id", owner.ID.String()))
	return &apikeydomain.SecretResponse{KeyID: keyID, APIKey: plain}, nil
}

func (s *Service) Revoke(ctx context.Context, a actor.Actor, keyID string) error {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectAPIKey, authorization.ActionDelete); err != nil {
		return err
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return apikeydomain.ErrInvalidKeyID
	}

	key, err := s.keys.FindOne(ctx, &apikeydomain.APIKey{KeyID: keyID})
	if err != nil {
		return err
	}
	if key == nil {
		return apikeydomain.ErrNotFound
	}
	now := s.clock.Now()
	return s.keys.Update(ctx, key.ID, map[string]any{
		"is_active":  false,
		"revoked_at": now,
		"updated_at": now,
	})
}

func (s *Service) Resolve(ctx context.Context, raw string) (actor.Actor, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, apiKeyPrefix) {
		return actor.Actor{}, apikeydomain.ErrInvalidKey
	}

	hash := hashKey(raw)
	key, err := s.keys.FindOne(ctx, &apikeydomain.APIKey{KeyHash: hash}, option.WithCondition("is_active = ?", true))
	if err != nil {
		return actor.Actor{}, err
	}
	if key == nil || subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return actor.Actor{}, apikeydomain.ErrInvalidKey
	}

	if err := s.keys.Update(ctx, key.ID, map[string]any{"last_used_at": s.clock.Now()}); err != nil {
		s.log.Warn("failed to stamp api key usage", zap.String("key_id", key.KeyID), zap.Error(err))
	}

	switch key.Role {
	case actor.RoleAdmin:
		return actor.Admin(key.UserID), nil
	case actor.RoleCustomer:
		return actor.Customer(key.UserID), nil
	default:
		return actor.Actor{}, errors.New("unsupported api key role")
	}
}
