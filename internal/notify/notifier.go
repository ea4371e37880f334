// Package notify delivers operator alerts over one or more channels
// (Telegram, Discord). Alerts carry a severity; the notifier filters by a
// configured minimum, except critical alerts, which are always delivered.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Severity levels, ordered. They mirror the audit log severities.
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityCritical = "critical"
)

func severityRank(s string) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarn:
		return 1
	default:
		return 0
	}
}

// Sender is one delivery channel.
type Sender interface {
	// Send delivers an alert with the given severity, title, and body.
	Send(ctx context.Context, severity, title, message string) error
	// Name identifies the channel ("telegram", "discord").
	Name() string
}

// Notifier fans alerts out to all registered senders. Alerts below the
// configured minimum severity are dropped; critical alerts bypass the
// filter unconditionally so unwind failures can never be silenced by
// configuration.
type Notifier struct {
	senders []Sender
	minRank int
	logger  *slog.Logger
}

// New creates a Notifier delivering alerts at or above minSeverity.
func New(senders []Sender, minSeverity string, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		minRank: severityRank(minSeverity),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify fans one alert out to every sender. A failing sender does not
// block the others; failures are collected into one combined error.
func (n *Notifier) Notify(ctx context.Context, severity, title, message string) error {
	if severityRank(severity) < n.minRank && severity != SeverityCritical {
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, severity, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("severity", severity),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
