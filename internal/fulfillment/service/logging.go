package service

import (
	"context"

	"github.com/railzwaylabs/storepay/internal/fulfillment/domain"
	"go.uber.org/zap"
)

// LogSms stands in for the SMS gateway, which lives outside this service.
type LogSms struct {
	log *zap.Logger
}

func NewLogSms(log *zap.Logger) domain.SmsSender {
	return &LogSms{log: log.Named("fulfillment.sms")}
}

func (s *LogSms) Send(ctx context.Context, phone, message string) error {
	s.log.Info("sms queued", zap.String("phone", maskPhone(phone)), zap.Int("length", len(message)))
	return nil
}

type LogTelemetry struct {
	log *zap.Logger
}

func NewLogTelemetry(log *zap.Logger) domain.Telemetry {
	return &LogTelemetry{log: log.Named("fulfillment.telemetry")}
}

func (t *LogTelemetry) Track(ctx context.Context, event string, props map[string]any) error {
	t.log.Info("telemetry event", zap.String("event", event), zap.Any("props", props))
	return nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
