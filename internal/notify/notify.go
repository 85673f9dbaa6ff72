// Package notify sends alerts when a scan has failing rules.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/compliance/internal/config"
	"github.com/gyaneshwarpardhi/compliance/internal/metrics"
	"github.com/gyaneshwarpardhi/compliance/internal/report"
	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

// Alert is what every channel renders.
type Alert struct {
	ScanID   string
	Time     time.Time
	Summary  report.Summary
	Failures []rule.Result
}

// Channel delivers an alert over one medium.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Notifier fans an alert out to every configured channel.
type Notifier struct {
	channels    []Channel
	minSeverity rule.Severity
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a Notifier. Failures below minSeverity do not alert.
func New(minSeverity rule.Severity, logger *slog.Logger, m *metrics.Metrics, channels ...Channel) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if minSeverity.Rank() < 0 {
		minSeverity = rule.SeverityLow
	}
	return &Notifier{channels: channels, minSeverity: minSeverity, logger: logger, metrics: m}
}

// Configured reports whether at least one channel is set up.
func (n *Notifier) Configured() bool {
	return n != nil && len(n.channels) > 0
}

// Notify sends one alert for the document's failing rules at or above the
// minimum severity. Every channel is tried; their errors are joined.
func (n *Notifier) Notify(ctx context.Context, doc *report.Document) error {
	if !n.Configured() {
		return nil
	}
	var failures []rule.Result
	for _, r := range doc.Failures() {
		if r.Severity.Rank() >= n.minSeverity.Rank() {
			failures = append(failures, r)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	alert := Alert{ScanID: doc.ScanID, Time: time.Now().UTC(), Summary: doc.Summary, Failures: failures}

	errs := make([]error, len(n.channels))
	var g errgroup.Group
	for i, ch := range n.channels {
		g.Go(func() error {
			err := ch.Send(ctx, alert)
			n.metrics.ObserveAlert(ch.Name(), err)
			if err != nil {
				n.logger.Error("alert failed", "channel", ch.Name(), "scan_id", alert.ScanID, "error", err)
				errs[i] = fmt.Errorf("%s: %w", ch.Name(), err)
				return nil
			}
			n.logger.Info("alert sent", "channel", ch.Name(), "scan_id", alert.ScanID, "failures", len(failures))
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// FromConfig builds a Notifier with a channel for every configured medium.
func FromConfig(c config.AlertsConf, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	var channels []Channel
	if c.Email.Enabled() {
		channels = append(channels, NewEmail(EmailConfig{
			Host:     c.Email.SMTPHost,
			Port:     c.Email.SMTPPort,
			Username: c.Email.Username,
			Password: c.Email.Password,
			From:     c.Email.From,
			To:       c.Email.To,
		}))
	}
	if c.Webhook.Enabled() {
		channels = append(channels, NewWebhook(c.Webhook.URL, c.Webhook.Timeout))
	}
	sev, _ := rule.ParseSeverity(c.MinSeverity)
	return New(sev, logger, m, channels...)
}
