package notification

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler calls a job on a fixed interval until it is stopped.
type Scheduler struct {
	name     string
	interval time.Duration
	job      func(context.Context)
	log      *zap.Logger
}

func NewScheduler(name string, interval time.Duration, job func(context.Context), log *zap.Logger) *Scheduler {
	return &Scheduler{name: name, interval: interval, job: job, log: log}
}

// Run ticks until ctx is done. Runs never overlap.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.job(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Start ties the scheduler to the fx lifecycle.
func (s *Scheduler) Start(lc fx.Lifecycle) {
	if s.interval <= 0 {
		s.log.Info("scheduler disabled", zap.String("scheduler", s.name))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.log.Info("starting scheduler", zap.String("scheduler", s.name), zap.Duration("interval", s.interval))
			go func() {
				defer close(done)
				s.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			s.log.Info("stopping scheduler", zap.String("scheduler", s.name))
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
			return nil
		},
	})
}
