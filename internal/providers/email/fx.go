package email

import (
	"strings"

	"github.com/smallbiznis/fakturo/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

// NewFromConfig falls back to a no-op sender when SMTP_HOST is unset.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if strings.TrimSpace(cfg.SMTP.Host) == "" {
		log.Info("smtp host not configured, email delivery disabled")
		return &NoOpProvider{}
	}
	return NewSMTP(cfg.SMTP)
}
