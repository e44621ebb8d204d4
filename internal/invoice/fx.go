package invoice

import (
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(service.New),
	fx.Provide(func(s invoicedomain.Service) invoicedomain.Issuer { return s }),
)
