// Package seed bootstraps a fresh installation.
package seed

import (
	"context"
	"errors"

	"github.com/smallbiznis/fakturo/internal/actor"
	apikeydomain "github.com/smallbiznis/fakturo/internal/apikey/domain"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const bootstrapKeyName = "bootstrap"

// ErrAlreadySeeded is returned when an admin exists already.
var ErrAlreadySeeded = errors.New("already_seeded")

type Admin struct {
	Name  string
	Email string
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Users userdomain.Service
	Keys  apikeydomain.Service
}

type Seeder struct {
	db    *gorm.DB
	log   *zap.Logger
	users userdomain.Service
	keys  apikeydomain.Service
}

func New(p Params) *Seeder {
	return &Seeder{
		db:    p.DB,
		log:   p.Log.Named("seed"),
		users: p.Users,
		keys:  p.Keys,
	}
}

// EnsureAdmin creates the first admin and an API key for it. The raw key is
// only ever returned here.
func (s *Seeder) EnsureAdmin(ctx context.Context, in Admin) (*userdomain.User, *apikeydomain.SecretResponse, error) {
	var admins int64
	if err := s.db.WithContext(ctx).Model(&userdomain.User{}).
		Where("role = ?", actor.RoleAdmin).
		Count(&admins).Error; err != nil {
		return nil, nil, err
	}
	if admins > 0 {
		return nil, nil, ErrAlreadySeeded
	}

	user, err := s.users.Create(ctx, actor.System, userdomain.CreateRequest{
		Name:  in.Name,
		Email: in.Email,
		Role:  actor.RoleAdmin,
	})
	if err != nil {
		return nil, nil, err
	}
	secret, err := s.keys.Create(ctx, actor.System, apikeydomain.CreateRequest{
		UserID: user.ID,
		Name:   bootstrapKeyName,
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("admin seeded", zap.String("user_id", user.ID.String()), zap.String("key_id", secret.KeyID))
	return user, secret, nil
}

var Module = fx.Module("seed",
	fx.Provide(New),
)
