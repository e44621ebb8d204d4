package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/apikey"
	"github.com/smallbiznis/fakturo/internal/authorization"
	"github.com/smallbiznis/fakturo/internal/clock"
	"github.com/smallbiznis/fakturo/internal/config"
	"github.com/smallbiznis/fakturo/internal/contract"
	"github.com/smallbiznis/fakturo/internal/dunning"
	"github.com/smallbiznis/fakturo/internal/filestore"
	"github.com/smallbiznis/fakturo/internal/invoice"
	"github.com/smallbiznis/fakturo/internal/lock"
	"github.com/smallbiznis/fakturo/internal/migration"
	"github.com/smallbiznis/fakturo/internal/notification"
	"github.com/smallbiznis/fakturo/internal/observability"
	"github.com/smallbiznis/fakturo/internal/prepaid"
	"github.com/smallbiznis/fakturo/internal/providers"
	"github.com/smallbiznis/fakturo/internal/scheduler"
	"github.com/smallbiznis/fakturo/internal/shop"
	"github.com/smallbiznis/fakturo/internal/user"
	"github.com/smallbiznis/fakturo/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// infrastructure is shared by every command.
var infrastructure = fx.Options(
	config.Module,
	observability.Module,
	fx.Provide(newSnowflakeNode),
	db.Module,
	migration.Module,
	clock.Module,
	lock.Module,
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log.Named("fx")}
	}),
)

var domains = fx.Options(
	authorization.Module,
	providers.Module,
	notification.Module,
	filestore.Module,
	user.Module,
	apikey.Module,
	prepaid.Module,
	invoice.Module,
	contract.Module,
	dunning.Module,
	shop.Module,
	scheduler.Module,
)

func newSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
