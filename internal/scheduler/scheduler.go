package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/clock"
	"github.com/smallbiznis/fakturo/internal/config"
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
	dunningdomain "github.com/smallbiznis/fakturo/internal/dunning/domain"
	"github.com/smallbiznis/fakturo/internal/lock"
	obsmetrics "github.com/smallbiznis/fakturo/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Billing   *config.BillingConfigHolder
	Locker    lock.Locker
	Contracts contractdomain.Biller
	Dunning   dunningdomain.Service
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
	Config    Config                       `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	billing   *config.BillingConfigHolder
	locker    lock.Locker
	contracts contractdomain.Biller
	dunning   dunningdomain.Service
	metrics   *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Contracts == nil || p.Dunning == nil {
		return nil, ErrInvalidConfig
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		billing:   p.Billing,
		locker:    locker,
		contracts: p.Contracts,
		dunning:   p.Dunning,
		metrics:   p.Metrics,
	}, nil
}

type job struct {
	name string
	run  func(ctx context.Context, run *jobRun) error
}

func (s *Scheduler) jobs() []job {
	return []job{
		{JobContractBilling, s.ContractBillingJob},
		{JobPrepaidRenewal, s.PrepaidRenewalJob},
		{JobDunning, s.DunningJob},
	}
}

// RunOnce runs every enabled job once, in order. A job that is already
// running on another instance is skipped.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, j.name, s.cfg.JobTimeout, j.run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		timer := time.NewTimer(intervalFrom(s.billing))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	err := lock.With(ctx, s.locker, "scheduler:"+name, s.cfg.LockTTL, func() error {
		return fn(ctx, run)
	})
	if errors.Is(err, lock.ErrBusy) {
		err = obsmetrics.ErrLockContended
	}
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	log := s.logger(ctx).With(zap.String("job", name), zap.String("run_id", run.runID))
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.metrics.IncJobTimeout(name)
		log.Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	case errors.Is(err, obsmetrics.ErrLockContended):
		log.Info("job skipped, running elsewhere")
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

func (s *Scheduler) ContractBillingJob(ctx context.Context, run *jobRun) error {
	n, err := s.contracts.BillDuePeriods(ctx)
	run.AddProcessed(n)
	s.metrics.AddBatchProcessed(JobContractBilling, "contract", n)
	return err
}

func (s *Scheduler) PrepaidRenewalJob(ctx context.Context, run *jobRun) error {
	n, err := s.contracts.RenewPrepaid(ctx)
	run.AddProcessed(n)
	s.metrics.AddBatchProcessed(JobPrepaidRenewal, "contract", n)
	return err
}

func (s *Scheduler) DunningJob(ctx context.Context, run *jobRun) error {
	res, err := s.dunning.Sweep(ctx)
	run.AddProcessed(res.Reminders + res.Revoked)
	s.metrics.AddBatchProcessed(JobDunning, "reminder", res.Reminders)
	s.metrics.AddBatchProcessed(JobDunning, "revoked", res.Revoked)
	if res.ContractsStopped+res.ContractsCancelled > 0 {
		s.logger(ctx).Info("dunning escalated contracts",
			zap.Int("stopped", res.ContractsStopped),
			zap.Int("cancelled", res.ContractsCancelled),
		)
	}
	return err
}
