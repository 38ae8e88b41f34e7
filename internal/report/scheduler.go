package report

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs a Reporter on a cron schedule evaluated in a fixed timezone.
type Scheduler struct {
	reporter *Reporter
	cron     *cron.Cron
	entry    cron.EntryID
	logger   *zap.Logger
	timeout  time.Duration
}

// NewScheduler parses a standard five-field cron expression such as "0 9 * * 0".
func NewScheduler(reporter *Reporter, schedule string, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		reporter: reporter,
		cron:     cron.New(cron.WithLocation(loc)),
		logger:   logger,
		timeout:  2 * time.Minute,
	}
	id, err := s.cron.AddFunc(schedule, s.run)
	if err != nil {
		return nil, fmt.Errorf("report: invalid schedule %q: %w", schedule, err)
	}
	s.entry = id
	return s, nil
}

// Next is the next scheduled run.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Schedule.Next(time.Now().In(s.cron.Location()))
}

// Run blocks until ctx is cancelled, then waits for an in-flight report.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("report scheduled", zap.Time("next", s.Next()))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.reporter.Send(ctx); err != nil {
		s.logger.Error("scheduled report failed", zap.Error(err))
	}
}
