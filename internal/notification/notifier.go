// Package notification delivers operator alerts (reconciliation aborts,
// securities entering the strongest recommendation level) to log, webhook
// and Telegram channels.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one notification.
type Alert struct {
	Level      AlertLevel `json:"level"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	SecurityID string     `json:"code,omitempty"`
	Market     string     `json:"market,omitempty"`
	At         time.Time  `json:"ts"`
}

// Notifier is implemented by every delivery backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log notifier on logger (slog.Default if nil).
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	n.logger.Log(ctx, level, alert.Title,
		slog.String("component", "notify"),
		slog.String("message", alert.Message),
		slog.String("code", alert.SecurityID),
		slog.String("market", alert.Market),
	)
	return nil
}

// Multi fans an alert out to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	if alert.At.IsZero() {
		alert.At = time.Now().UTC()
	}
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the log notifier plus whichever of Telegram and webhook
// are configured.
func FromConfig(logger *slog.Logger, telegramToken, telegramChatID, webhookURL string) Multi {
	m := Multi{NewLogNotifier(logger)}
	if telegramToken != "" && telegramChatID != "" {
		m = append(m, NewTelegramNotifier(telegramToken, telegramChatID))
	}
	if webhookURL != "" {
		m = append(m, NewWebhookNotifier(webhookURL))
	}
	return m
}
