package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func (s *Scheduler) RetentionJob(ctx context.Context) error {
	retentionDays := s.cfg.Payments.WebhookRetentionDays
	if retentionDays <= 0 {
		s.log.Info("webhook retention disabled", zap.Int("days", retentionDays))
		return nil
	}

	cutoff := s.clock.Now(ctx).UTC().AddDate(0, 0, -retentionDays)
	s.log.Info("cleaning up webhook events", zap.Time("cutoff", cutoff))

	deleted, err := s.events.PurgeEvents(ctx, cutoff, retentionBatch)
	if err != nil {
		s.log.Error("webhook event cleanup failed", zap.Int64("deleted", deleted), zap.Error(err))
		return err
	}
	s.log.Info("webhook event cleanup completed", zap.Int64("deleted", deleted), zap.Duration("retention", time.Duration(retentionDays)*24*time.Hour))
	return nil
}
