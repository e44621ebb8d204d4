package shop

import (
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/fakturo/internal/shop/service"
	"go.uber.org/fx"
)

var Module = fx.Module("shop.service",
	fx.Provide(func() *validator.Validate { return validator.New() }),
	fx.Provide(service.New),
)
