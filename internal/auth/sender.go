package auth

import (
	"context"
	"log/slog"
)

// Sender delivers a one-time code to a phone number.
type Sender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// LogSender only logs deliveries. Used when WhatsApp is disabled.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "otp_sender")}
}

func (s *LogSender) SendOTP(_ context.Context, phone, _ string) error {
	s.logger.Info("otp generated, no delivery channel configured", "phone", MaskPhone(phone))
	return nil
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
