package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Run ticks on a fixed cadence until ctx is canceled, then waits for the
// in-flight tick to finish. A tick still running when the next one is due is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{logger: s.logger.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc("@every "+s.cfg.Tick.String(), func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	s.logger.Info("scheduler started", zap.Duration("tick", s.cfg.Tick), zap.Bool("run_on_start", s.cfg.RunOnStart))
	if s.cfg.RunOnStart {
		s.tick(ctx)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.Tick(ctx, s.Clock.Now()); err != nil {
		s.logger.Error("tick failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
