// Package scheduler runs the billing-cycle rollover job on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/larklabs/backend/internal/infrastructure/config"
	"github.com/larklabs/backend/internal/infrastructure/telemetry"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	// ErrSchedulerRunning is returned when Start is called twice
	ErrSchedulerRunning = errors.New("scheduler is already running")

	// ErrInvalidConfig is returned when the cron expression cannot be parsed
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)

// RolloverRunner resets every subscriber whose billing cycle has elapsed
type RolloverRunner interface {
	RolloverDue(ctx context.Context) (int, error)
}

// JobRecorder observes rollover executions
type JobRecorder interface {
	RecordJobRun(ctx context.Context, d time.Duration, err error)
}

// RolloverScheduler triggers RolloverDue on a cron expression. Overlapping
// runs are skipped.
type RolloverScheduler struct {
	config   config.SchedulerConfig
	runner   RolloverRunner
	recorder JobRecorder
	logger   *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	lastRun time.Time
	lastErr error
}

// NewRolloverScheduler creates a scheduler. recorder may be nil.
func NewRolloverScheduler(cfg config.SchedulerConfig, runner RolloverRunner, recorder JobRecorder, logger *zap.Logger) *RolloverScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &RolloverScheduler{
		config:   cfg,
		runner:   runner,
		recorder: recorder,
		logger:   logger.Named("rollover"),
	}
}

// Start registers the job and starts the cron loop
func (s *RolloverScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrSchedulerRunning
	}

	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	id, err := c.AddFunc(s.config.RolloverCron, func() { _ = s.RunNow(s.ctx) })
	if err != nil {
		s.cancel()
		return fmt.Errorf("%w: rollover cron %q: %v", ErrInvalidConfig, s.config.RolloverCron, err)
	}

	s.cron = c
	s.entryID = id
	c.Start()

	s.logger.Info("Rollover scheduler started",
		zap.String("cron", s.config.RolloverCron),
		zap.Duration("job_timeout", s.config.JobTimeout),
		zap.Time("next_run", c.Entry(id).Next),
	)
	return nil
}

// Stop halts scheduling and waits for a running job, or for ctx to expire
func (s *RolloverScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	done := c.Stop().Done()
	select {
	case <-done:
		cancel()
		s.logger.Info("Rollover scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// RunNow executes one rollover pass bounded by JobTimeout
func (s *RolloverScheduler) RunNow(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "quota.rollover",
		telemetry.WithAttribute(telemetry.SpanAttrSchedule, s.config.RolloverCron))
	defer span.End()

	start := time.Now()
	resets, err := s.runner.RolloverDue(ctx)
	elapsed := time.Since(start)

	telemetry.SetAttribute(span, telemetry.SpanAttrResets, resets)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Error("Rollover run failed",
			zap.Int("resets", resets),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
	} else {
		telemetry.SetOK(span)
		s.logger.Info("Rollover run completed",
			zap.Int("resets", resets),
			zap.Duration("duration", elapsed),
		)
	}

	if s.recorder != nil {
		s.recorder.RecordJobRun(ctx, elapsed, err)
	}

	s.mu.Lock()
	s.lastRun, s.lastErr = start, err
	s.mu.Unlock()
	return err
}

// IsRunning reports whether the cron loop is active
func (s *RolloverScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// NextRun returns the next scheduled time, zero when stopped
func (s *RolloverScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// LastRun returns the start time and result of the most recent run
func (s *RolloverScheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
