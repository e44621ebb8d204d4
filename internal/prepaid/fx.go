package prepaid

import (
	prepaiddomain "github.com/smallbiznis/fakturo/internal/prepaid/domain"
	"github.com/smallbiznis/fakturo/internal/prepaid/service"
	"go.uber.org/fx"
)

var Module = fx.Module("prepaid.service",
	fx.Provide(service.New),
	fx.Provide(func(s prepaiddomain.Service) prepaiddomain.Ledger { return s }),
)
