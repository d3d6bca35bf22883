package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/storepay/internal/clock"
	"github.com/railzwaylabs/storepay/internal/config"
	settlementdomain "github.com/railzwaylabs/storepay/internal/settlement/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSettlements struct {
	settlementdomain.Service
	mock.Mock
}

func (m *mockSettlements) RunForAllStores(ctx context.Context, start, end time.Time) (*settlementdomain.RunSummary, error) {
	args := m.Called(ctx, start, end)
	summary, _ := args.Get(0).(*settlementdomain.RunSummary)
	return summary, args.Error(1)
}

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) ProcessPending(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockPurger struct{ mock.Mock }

func (m *mockPurger) PurgeEvents(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	args := m.Called(ctx, cutoff, batch)
	return args.Get(0).(int64), args.Error(1)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "job", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(lockPrefix+"job"))

	again, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocker_ReleaseKeepsForeignLock(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "job", time.Second)
	require.NoError(t, err)

	// The lock expires and another instance takes it.
	mr.FastForward(2 * time.Second)
	other, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists(lockPrefix+"job"))
	require.NoError(t, other(ctx))
	assert.False(t, mr.Exists(lockPrefix+"job"))
}

type fixture struct {
	mr          *miniredis.Miniredis
	clock       *clock.Manual
	settlements *mockSettlements
	dispatcher  *mockDispatcher
	purger      *mockPurger
	sched       *Scheduler
}

func setup(t *testing.T, now time.Time) *fixture {
	t.Helper()
	mr, client := newRedis(t)
	f := &fixture{
		mr:          mr,
		clock:       clock.NewManual(now),
		settlements: &mockSettlements{},
		dispatcher:  &mockDispatcher{},
		purger:      &mockPurger{},
	}
	f.sched = New(Params{
		Log: zap.NewNop(),
		Cfg: config.Config{
			Payments:   config.PaymentsConfig{WebhookRetentionDays: 30},
			Settlement: config.SettlementConfig{Interval: 24 * time.Hour, Lookback: 7 * 24 * time.Hour},
			Scheduler:  config.SchedulerConfig{Tick: time.Minute, LockTTL: time.Minute},
		},
		Clock:       f.clock,
		Locker:      NewLocker(client),
		Settlements: f.settlements,
		Dispatcher:  f.dispatcher,
		Events:      f.purger,
	})
	return f
}

func TestRunDue_RunsEachJobOnItsInterval(t *testing.T) {
	now := time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC)
	f := setup(t, now)
	ctx := context.Background()

	end := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	f.settlements.On("RunForAllStores", mock.Anything, end.Add(-7*24*time.Hour), end).
		Return(&settlementdomain.RunSummary{Created: []snowflake.ID{1, 2}}, nil).Once()
	f.dispatcher.On("ProcessPending", mock.Anything).Return(3, nil).Twice()
	f.purger.On("PurgeEvents", mock.Anything, now.AddDate(0, 0, -30), retentionBatch).Return(int64(12), nil).Once()

	f.sched.RunDue(ctx)

	// An hour later only the dispatcher is due again.
	f.clock.Advance(time.Hour)
	f.sched.RunDue(ctx)

	f.settlements.AssertExpectations(t)
	f.dispatcher.AssertExpectations(t)
	f.purger.AssertExpectations(t)
	assert.False(t, f.mr.Exists(lockPrefix+jobSettlement))
}

func TestRunDue_SkipsJobsLockedElsewhere(t *testing.T) {
	f := setup(t, time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC))
	require.NoError(t, f.mr.Set(lockPrefix+jobSettlement, "other-instance"))
	require.NoError(t, f.mr.Set(lockPrefix+jobRetention, "other-instance"))
	f.dispatcher.On("ProcessPending", mock.Anything).Return(0, errors.New("db down")).Once()

	f.sched.RunDue(context.Background())

	f.settlements.AssertNotCalled(t, "RunForAllStores", mock.Anything, mock.Anything, mock.Anything)
	f.purger.AssertNotCalled(t, "PurgeEvents", mock.Anything, mock.Anything, mock.Anything)
	f.dispatcher.AssertExpectations(t)
	got, err := f.mr.Get(lockPrefix + jobSettlement)
	require.NoError(t, err)
	assert.Equal(t, "other-instance", got)
}

func TestRetentionJob_Disabled(t *testing.T) {
	f := setup(t, time.Now().UTC())
	f.sched.cfg.Payments.WebhookRetentionDays = 0

	require.NoError(t, f.sched.RetentionJob(context.Background()))
	f.purger.AssertNotCalled(t, "PurgeEvents", mock.Anything, mock.Anything, mock.Anything)
}

func TestSettlementJob_PropagatesErrors(t *testing.T) {
	f := setup(t, time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC))
	f.settlements.On("RunForAllStores", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, settlementdomain.ErrInvalidPeriod).Once()

	require.ErrorIs(t, f.sched.SettlementJob(context.Background()), settlementdomain.ErrInvalidPeriod)
}
