package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig carries the billing policy knobs that operators may tune
// without a restart.
type BillingConfig struct {
	Proration ProrationConfig `mapstructure:"proration"`
	Prepaid   PrepaidConfig   `mapstructure:"prepaid"`
	Shop      ShopConfig      `mapstructure:"shop"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dunning   DunningConfig   `mapstructure:"dunning"`
}

type ProrationConfig struct {
	// Clamp bounds pro-ration factors to [0,1].
	Clamp bool `mapstructure:"clamp"`
}

type PrepaidConfig struct {
	RenewalLeadDays int `mapstructure:"renewalLeadDays"`
}

type ShopConfig struct {
	MaxFails int `mapstructure:"maxFails"`
}

type SchedulerConfig struct {
	IntervalSeconds int `mapstructure:"intervalSeconds"`
}

type DunningConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Proration: ProrationConfig{Clamp: true},
		Prepaid:   PrepaidConfig{RenewalLeadDays: 3},
		Shop:      ShopConfig{MaxFails: 3},
		Scheduler: SchedulerConfig{IntervalSeconds: 300},
		Dunning:   DunningConfig{Enabled: true},
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder returns a holder that never reloads.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/fakturo")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FAKTURO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.proration.clamp", defaults.Proration.Clamp)
	v.SetDefault("billing.prepaid.renewalLeadDays", defaults.Prepaid.RenewalLeadDays)
	v.SetDefault("billing.shop.maxFails", defaults.Shop.MaxFails)
	v.SetDefault("billing.scheduler.intervalSeconds", defaults.Scheduler.IntervalSeconds)
	v.SetDefault("billing.dunning.enabled", defaults.Dunning.Enabled)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	log = log.Named("billing.config")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		holder.reload(v, e.Name, log)
	})

	return holder, nil
}

// reload swaps in the billing section of v. An unreadable or invalid section
// is logged and the previous config stays active.
func (h *BillingConfigHolder) reload(v *viper.Viper, source string, log *zap.Logger) bool {
	var updated BillingConfig
	if err := v.UnmarshalKey("billing", &updated); err != nil {
		log.Error("billing config reload failed", zap.String("source", source), zap.Error(err))
		return false
	}
	if err := ValidateBillingConfig(updated); err != nil {
		log.Warn("invalid billing config ignored", zap.String("source", source), zap.Error(err))
		return false
	}
	h.current.Store(updated)
	log.Info("billing config reloaded", zap.String("source", source))
	return true
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func ValidateBillingConfig(cfg BillingConfig) error {
	if cfg.Prepaid.RenewalLeadDays < 0 {
		return errors.New("billing.prepaid.renewalLeadDays cannot be negative")
	}
	if cfg.Shop.MaxFails <= 0 {
		return errors.New("billing.shop.maxFails must be positive")
	}
	if cfg.Scheduler.IntervalSeconds <= 0 {
		return errors.New("billing.scheduler.intervalSeconds must be positive")
	}
	return nil
}
