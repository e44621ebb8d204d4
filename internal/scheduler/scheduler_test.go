package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/fakturo/internal/clock"
	dunningdomain "github.com/smallbiznis/fakturo/internal/dunning/domain"
	"github.com/smallbiznis/fakturo/internal/lock"
	obsmetrics "github.com/smallbiznis/fakturo/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockBiller struct{ mock.Mock }

func (m *mockBiller) BillDuePeriods(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockBiller) RenewPrepaid(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockDunning struct {
	dunningdomain.Service
	mock.Mock
}

func (m *mockDunning) Sweep(ctx context.Context) (dunningdomain.SweepResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(dunningdomain.SweepResult), args.Error(1)
}

type heldLocker struct{}

func (heldLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	return "", false, nil
}

func (heldLocker) Release(context.Context, string, string) error { return nil }

func newTestScheduler(t *testing.T, biller *mockBiller, dunning *mockDunning, locker lock.Locker, cfg Config) (*Scheduler, *prometheus.Registry) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	registry := prometheus.NewRegistry()
	s, err := New(Params{
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clock.NewFakeClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)),
		Locker:    locker,
		Contracts: biller,
		Dunning:   dunning,
		Metrics:   obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{ServiceName: "fakturo", Environment: "test"}),
		Config:    cfg,
	})
	require.NoError(t, err)
	return s, registry
}

func TestRunOnceRunsEveryJob(t *testing.T) {
	biller := &mockBiller{}
	biller.On("BillDuePeriods", mock.Anything).Return(2, nil).Once()
	biller.On("RenewPrepaid", mock.Anything).Return(1, nil).Once()
	dunning := &mockDunning{}
	dunning.On("Sweep", mock.Anything).Return(dunningdomain.SweepResult{Reminders: 3, ContractsStopped: 1}, nil).Once()

	s, registry := newTestScheduler(t, biller, dunning, lock.NoopLocker{}, Config{})
	require.NoError(t, s.RunOnce(context.Background()))

	biller.AssertExpectations(t)
	dunning.AssertExpectations(t)
	for _, job := range []string{JobContractBilling, JobPrepaidRenewal, JobDunning} {
		assert.Equal(t, float64(1), counterValue(t, registry, "fakturo_scheduler_job_runs_total", map[string]string{
			"service": "fakturo", "env": "test", "job": job,
		}), job)
	}
	assert.Equal(t, float64(3), counterValue(t, registry, "fakturo_scheduler_batch_processed_total", map[string]string{
		"service": "fakturo", "env": "test", "job": JobDunning, "resource": "reminder",
	}))
}

func TestRunOnceHonoursEnabledJobs(t *testing.T) {
	biller := &mockBiller{}
	dunning := &mockDunning{}
	dunning.On("Sweep", mock.Anything).Return(dunningdomain.SweepResult{}, nil).Once()

	s, _ := newTestScheduler(t, biller, dunning, lock.NoopLocker{}, Config{EnabledJobs: []string{"DUNNING"}})
	require.NoError(t, s.RunOnce(context.Background()))

	biller.AssertNotCalled(t, "BillDuePeriods", mock.Anything)
	biller.AssertNotCalled(t, "RenewPrepaid", mock.Anything)
	dunning.AssertExpectations(t)
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	boom := errors.New("boom")
	biller := &mockBiller{}
	biller.On("BillDuePeriods", mock.Anything).Return(0, boom)
	biller.On("RenewPrepaid", mock.Anything).Return(0, nil)
	dunning := &mockDunning{}
	dunning.On("Sweep", mock.Anything).Return(dunningdomain.SweepResult{}, nil)

	s, registry := newTestScheduler(t, biller, dunning, lock.NoopLocker{}, Config{})
	err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobContractBilling)
	dunning.AssertExpectations(t)

	assert.Equal(t, float64(1), counterValue(t, registry, "fakturo_scheduler_job_errors_total", map[string]string{
		"service": "fakturo", "env": "test", "job": JobContractBilling, "reason": obsmetrics.SchedulerJobReasonUnknown,
	}))
}

func TestRunOnceSkipsJobsHeldElsewhere(t *testing.T) {
	biller := &mockBiller{}
	dunning := &mockDunning{}

	s, registry := newTestScheduler(t, biller, dunning, heldLocker{}, Config{})
	require.NoError(t, s.RunOnce(context.Background()))

	biller.AssertNotCalled(t, "BillDuePeriods", mock.Anything)
	dunning.AssertNotCalled(t, "Sweep", mock.Anything)
	assert.Equal(t, float64(1), counterValue(t, registry, "fakturo_scheduler_job_errors_total", map[string]string{
		"service": "fakturo", "env": "test", "job": JobDunning, "reason": obsmetrics.SchedulerJobReasonLockContended,
	}))
}

func TestRunJobTimeoutDoesNotReturnError(t *testing.T) {
	s, registry := newTestScheduler(t, &mockBiller{}, &mockDunning{}, lock.NoopLocker{}, Config{})

	err := s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context, _ *jobRun) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	assert.Equal(t, float64(1), counterValue(t, registry, "fakturo_scheduler_job_timeouts_total", map[string]string{
		"service": "fakturo", "env": "test", "job": "timeout_job",
	}))
	assert.Equal(t, float64(1), counterValue(t, registry, "fakturo_scheduler_job_errors_total", map[string]string{
		"service": "fakturo", "env": "test", "job": "timeout_job", "reason": obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if labelsMatch(metric, labels) {
				require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
