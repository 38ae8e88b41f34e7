package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vincentbai/sitetrace-agent/internal/mail"
	"github.com/vincentbai/sitetrace-agent/internal/metrics"
	"github.com/vincentbai/sitetrace-agent/internal/models"
	"github.com/vincentbai/sitetrace-agent/internal/summary"
)

var ErrNoRecipient = errors.New("report: recipient is required")

// SessionReader is the read side of the session store.
type SessionReader interface {
	ReadAll(ctx context.Context) ([]models.Session, error)
}

type Reporter struct {
	sessions  SessionReader
	sender    mail.Sender
	recipient string
	location  *time.Location
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Reporter)

func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

func New(sessions SessionReader, sender mail.Sender, recipient string, loc *time.Location, logger *zap.Logger, opts ...Option) (*Reporter, error) {
	if recipient == "" {
		return nil, ErrNoRecipient
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{
		sessions:  sessions,
		sender:    sender,
		recipient: recipient,
		location:  loc,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Send summarizes the store and mails the digest. It reports false without
// sending when no sessions have been recorded.
func (r *Reporter) Send(ctx context.Context) (bool, error) {
	sessions, err := r.sessions.ReadAll(ctx)
	if err != nil {
		metrics.ReportsSent.WithLabelValues("error").Inc()
		return false, fmt.Errorf("report: read sessions: %w", err)
	}

	s := summary.Summarize(sessions)
	if s.Sessions == 0 {
		metrics.ReportsSent.WithLabelValues("skipped").Inc()
		r.logger.Info("skipping report, no sessions recorded yet")
		return false, nil
	}

	digest, err := Render(s, r.now(), r.location)
	if err != nil {
		metrics.ReportsSent.WithLabelValues("error").Inc()
		return false, err
	}

	err = r.sender.Send(ctx, mail.Params{
		To:       r.recipient,
		Subject:  digest.Subject,
		HTMLBody: digest.HTML,
		Tag:      "weekly-report",
	})
	if err != nil {
		metrics.ReportsSent.WithLabelValues("error").Inc()
		return false, fmt.Errorf("report: send digest: %w", err)
	}

	metrics.ReportsSent.WithLabelValues("sent").Inc()
	r.logger.Info("report sent",
		zap.String("recipient", r.recipient),
		zap.Int("sessions", s.Sessions),
	)
	return true, nil
}
