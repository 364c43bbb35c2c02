// Package scheduler runs periodic background tasks on a fixed interval.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Task is one named unit of periodic work.
type Task struct {
	Name string
	Run  func() error
}

// Scheduler runs its tasks every interval until the context finishes.
type Scheduler struct {
	interval time.Duration
	tasks    []Task
	logger   *zap.Logger
}

// New creates a Scheduler. An interval of zero disables it.
func New(interval time.Duration, tasks []Task, logger *zap.Logger) *Scheduler {
	return &Scheduler{interval: interval, tasks: tasks, logger: logger}
}

// Run blocks until the context is canceled, executing every task once
// per interval. Task errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("scheduler disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Scheduler) runOnce() {
	for _, task := range s.tasks {
		start := time.Now()
		if err := task.Run(); err != nil {
			s.logger.Error("scheduled task failed",
				zap.String("task", task.Name),
				zap.Error(err),
			)
			continue
		}
		s.logger.Debug("scheduled task finished",
			zap.String("task", task.Name),
			zap.Duration("took", time.Since(start)),
		)
	}
}
