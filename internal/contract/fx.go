package contract

import (
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
	"github.com/smallbiznis/fakturo/internal/contract/service"
	"go.uber.org/fx"
)

var Module = fx.Module("contract.service",
	fx.Provide(service.New),
	fx.Provide(func(s *service.Service) contractdomain.Service { return s }),
	fx.Provide(func(s *service.Service) contractdomain.Biller { return s }),
	fx.Provide(func(s *service.Service) contractdomain.Transitions { return s }),
)
