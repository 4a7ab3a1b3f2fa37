package job

import (
	"context"
	"errors"
	"time"

	"lexpay/internal/service"

	"go.uber.org/zap"
)

type PayoutRunner interface {
	Run(ctx context.Context) (*service.BatchReport, error)
}

// PayoutScheduler triggers one batch per week boundary. It checks every
// interval and runs when the current cutoff is newer than the last one it
// settled; a restart mid-week runs once more, which the batcher tolerates.
type PayoutScheduler struct {
	runner     PayoutRunner
	log        *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	weekStart  time.Weekday
	loc        *time.Location
	now        func() time.Time
	lastCutoff time.Time
}

func NewPayoutScheduler(runner PayoutRunner, interval time.Duration, weekStart time.Weekday, loc *time.Location, log *zap.Logger) *PayoutScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PayoutScheduler{
		runner:    runner,
		log:       log,
		stopCh:    make(chan struct{}),
		interval:  interval,
		weekStart: weekStart,
		loc:       loc,
		now:       time.Now,
	}
}

func (s *PayoutScheduler) Start(ctx context.Context) {
	s.log.Info("[PayoutScheduler] started", zap.Duration("interval", s.interval), zap.String("week_start", s.weekStart.String()))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("[PayoutScheduler] context done, exiting")
			return
		case <-s.stopCh:
			s.log.Info("[PayoutScheduler] stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *PayoutScheduler) Stop() {
	close(s.stopCh)
}

func (s *PayoutScheduler) tick(ctx context.Context) {
	cutoff := service.WeekCutoff(s.now(), s.weekStart, s.loc)
	if !cutoff.After(s.lastCutoff) {
		return
	}

	report, err := s.runner.Run(ctx)
	if err != nil {
		if errors.Is(err, service.ErrBatchInProgress) {
			// another node holds the run lock for this week
			s.log.Info("[PayoutScheduler] batch already running elsewhere")
			s.lastCutoff = cutoff
			return
		}
		s.log.Error("[PayoutScheduler] payout run failed", zap.Error(err))
		return
	}

	s.lastCutoff = cutoff
	counts := map[string]int{}
	for _, o := range report.Processed {
		counts[o.Status]++
	}
	s.log.Info("[PayoutScheduler] payout run finished",
		zap.Time("cutoff", report.Cutoff),
		zap.Int("completed", counts[service.PayoutOutcomeCompleted]),
		zap.Int("error", counts[service.PayoutOutcomeError]),
		zap.Int("skipped", counts[service.PayoutOutcomeSkipped]))
}
