package scheduler

import (
	"time"

	"github.com/smallbiznis/fakturo/internal/config"
)

const (
	JobContractBilling = "contract_billing"
	JobPrepaidRenewal  = "prepaid_renewal"
	JobDunning         = "dunning"
)

// Config controls which jobs run and how long each may take. The run
// interval is read from the billing config on every tick.
type Config struct {
	EnabledJobs []string
	JobTimeout  time.Duration
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		JobTimeout: 2 * time.Minute,
		LockTTL:    5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

func intervalFrom(holder *config.BillingConfigHolder) time.Duration {
	if holder == nil {
		return 300 * time.Second
	}
	seconds := holder.Get().Scheduler.IntervalSeconds
	if seconds <= 0 {
		seconds = config.DefaultBillingConfig().Scheduler.IntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}
