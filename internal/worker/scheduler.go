package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobProcessor runs queued lot regenerations.
type JobProcessor interface {
	ProcessPendingJobs(ctx context.Context, limit int) (int, error)
}

// SchedulerConfig configuration for the regeneration scheduler
type SchedulerConfig struct {
	// Schedule is a standard cron expression or descriptor such as "@every 1m".
	Schedule  string
	BatchSize int
	// RunTimeout bounds one tick; zero means no limit.
	RunTimeout time.Duration
}

// DefaultSchedulerConfig returns default configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Schedule:   "@every 1m",
		BatchSize:  5,
		RunTimeout: 30 * time.Minute,
	}
}

// Scheduler claims and runs pending regeneration jobs on a cron schedule.
// Ticks never overlap: a tick that fires while the previous one is still
// running is skipped.
type Scheduler struct {
	cron      *cron.Cron
	processor JobProcessor
	logger    *zap.Logger
	config    SchedulerConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewScheduler creates a new scheduler
func NewScheduler(processor JobProcessor, logger *zap.Logger, config SchedulerConfig) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSchedulerConfig().BatchSize
	}
	cronLogger := zapCronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		processor: processor,
		logger:    logger,
		config:    config,
	}
}

// Start registers the job and starts the cron scheduler. Ticks run under a
// context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if _, err := s.cron.AddFunc(s.config.Schedule, func() { s.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid worker schedule %q: %w", s.config.Schedule, err)
	}

	s.cancel = cancel
	s.running = true
	s.cron.Start()

	s.logger.Info("Regeneration scheduler started",
		zap.String("schedule", s.config.Schedule),
		zap.Int("batch_size", s.config.BatchSize))
	return nil
}

// Stop cancels the running tick and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	s.logger.Info("Stopping regeneration scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
	s.running = false
}

// RunOnce processes one batch of pending jobs and returns how many ran.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	n, err := s.processor.ProcessPendingJobs(ctx, s.config.BatchSize)
	if err != nil {
		s.logger.Error("Failed to process regeneration jobs", zap.Error(err))
		return n
	}
	if n > 0 {
		s.logger.Info("Processed regeneration jobs",
			zap.Int("count", n),
			zap.Duration("duration", time.Since(start)))
	}
	return n
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
