package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/railzwaylabs/storepay/internal/clock"
	"github.com/railzwaylabs/storepay/internal/config"
	settlementdomain "github.com/railzwaylabs/storepay/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobSettlement = "settlement_run"
	jobDispatch   = "fulfillment_dispatch"
	jobRetention  = "cleanup_webhook_events"

	retentionInterval = 24 * time.Hour
	retentionBatch    = 1000
)

// TaskDispatcher drains the fulfillment outbox.
type TaskDispatcher interface {
	ProcessPending(ctx context.Context) (int, error)
}

// EventPurger deletes webhook audit rows older than a cutoff.
type EventPurger interface {
	PurgeEvents(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Cfg         config.Config
	Clock       clock.Clock
	Locker      *Locker
	Settlements settlementdomain.Service
	Dispatcher  TaskDispatcher
	Events      EventPurger
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

type Scheduler struct {
	log         *zap.Logger
	cfg         config.Config
	clock       clock.Clock
	locker      *Locker
	settlements settlementdomain.Service
	dispatcher  TaskDispatcher
	events      EventPurger

	mu      sync.Mutex
	lastRun map[string]time.Time
	jobs    []job
}

func New(p Params) *Scheduler {
	s := &Scheduler{
		log:         p.Log.Named("scheduler"),
		cfg:         p.Cfg,
		clock:       p.Clock,
		locker:      p.Locker,
		settlements: p.Settlements,
		dispatcher:  p.Dispatcher,
		events:      p.Events,
		lastRun:     map[string]time.Time{},
	}
	s.jobs = []job{
		{name: jobDispatch, run: s.DispatchJob},
		{name: jobSettlement, interval: p.Cfg.Settlement.Interval, run: s.SettlementJob},
		{name: jobRetention, interval: retentionInterval, run: s.RetentionJob},
	}
	return s
}

// Run ticks until ctx is cancelled, starting every job whose interval has
// elapsed since its last run on this instance.
func (s *Scheduler) Run(ctx context.Context) {
	tick := s.cfg.Scheduler.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	s.log.Info("scheduler started", zap.Duration("tick", tick))
	s.RunDue(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

func (s *Scheduler) RunDue(ctx context.Context) {
	now := s.clock.Now(ctx)
	for _, j := range s.jobs {
		if !s.due(j, now) {
			continue
		}
		if err := s.runLocked(ctx, j.name, j.run); err != nil && !errors.Is(err, ErrLockHeld) {
			s.log.Error("job failed", zap.String("job", j.name), zap.Error(err))
		}
	}
}

func (s *Scheduler) due(j job, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[j.name]
	if ok && j.interval > 0 && now.Sub(last) < j.interval {
		return false
	}
	s.lastRun[j.name] = now
	return true
}

// runLocked executes fn while holding the cluster-wide lock for name, so only
// one scheduler instance runs a job at a time.
func (s *Scheduler) runLocked(ctx context.Context, name string, fn func(context.Context) error) error {
	release, err := s.locker.Acquire(ctx, name, s.cfg.Scheduler.LockTTL)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			s.log.Debug("job skipped, lock held elsewhere", zap.String("job", name))
		}
		return err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.log.Warn("release job lock", zap.String("job", name), zap.Error(err))
		}
	}()

	started := time.Now()
	err = fn(ctx)
	s.log.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(started)), zap.Error(err))
	return err
}

// SettlementJob settles every store over the lookback window ending at the
// start of the current UTC day.
func (s *Scheduler) SettlementJob(ctx context.Context) error {
	end := s.clock.Now(ctx).UTC().Truncate(24 * time.Hour)
	lookback := s.cfg.Settlement.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	start := end.Add(-lookback)

	summary, err := s.settlements.RunForAllStores(ctx, start, end)
	if err != nil {
		return err
	}
	s.log.Info("settlement job completed",
		zap.Time("period_start", start),
		zap.Time("period_end", end),
		zap.Int("created", len(summary.Created)),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", len(summary.Failed)))
	return nil
}

func (s *Scheduler) DispatchJob(ctx context.Context) error {
	n, err := s.dispatcher.ProcessPending(ctx)
	if n > 0 {
		s.log.Info("fulfillment tasks dispatched", zap.Int("tasks", n))
	}
	return err
}
