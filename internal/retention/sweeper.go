// Package retention evicts finished jobs and their output artifacts after a
// configured age.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rcoury/transcodarr/internal/config"
	"github.com/rcoury/transcodarr/internal/repository"
)

// Sweeper periodically removes terminal jobs older than the retention age,
// along with the output files they produced.
type Sweeper struct {
	repo   repository.JobRepository
	cfg    config.RetentionConfig
	logger *slog.Logger
	cron   *cron.Cron
}

// NewSweeper creates a retention sweeper. Start schedules it on the
// configured cron expression.
func NewSweeper(repo repository.JobRepository, cfg config.RetentionConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "retention")),
	}
}

// Start schedules the sweep. The expression uses six fields, seconds first.
func (s *Sweeper) Start() error {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(s.cfg.Cron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling retention sweep: %w", err)
	}

	s.cron = c
	c.Start()
	s.logger.Info("retention sweep scheduled",
		slog.String("cron", s.cfg.Cron),
		slog.Duration("age", s.cfg.Age),
	)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("retention sweep stopped")
}

// Sweep removes terminal jobs that completed before the retention cutoff and
// deletes their output artifacts. Returns the number of jobs evicted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.Age)

	removed, err := s.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("evicting expired jobs: %w", err)
	}

	for _, job := range removed {
		if job.OutputPath == "" {
			continue
		}
		if err := os.Remove(job.OutputPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing expired output failed",
				slog.String("job_id", job.ID.String()),
				slog.String("path", job.OutputPath),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(removed) > 0 {
		s.logger.Info("retention sweep evicted jobs",
			slog.Int("count", len(removed)),
			slog.Time("cutoff", cutoff),
		)
	}
	return len(removed), nil
}
