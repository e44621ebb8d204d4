package providers

import (
	"github.com/smallbiznis/fakturo/internal/providers/email"
	"github.com/smallbiznis/fakturo/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
