package backup

import (
	"context"
	"sync"
	"time"

	"audiocast/pkg/backup"
	"audiocast/pkg/utils"

	"go.uber.org/zap"
)

type Config struct {
	Interval      time.Duration
	RetentionDays int
}

// Scheduler takes a backup on start and then every Interval, pruning
// backups older than the retention window after each run.
type Scheduler struct {
	snapshotter *Snapshotter
	backups     *backup.Service
	cfg         Config
	logger      *zap.SugaredLogger

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewScheduler(snapshotter *Snapshotter, backups *backup.Service, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		snapshotter: snapshotter,
		backups:     backups,
		cfg:         cfg,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start blocks until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// RunOnce takes one scheduled backup and prunes expired ones. Failures are
// logged; the next tick tries again.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if _, err := s.snapshotter.Snapshot(ctx, "scheduled"); err != nil {
		s.logger.Errorw("scheduled backup failed", "error", err)
		return
	}

	if s.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := utils.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.backups.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Warnw("failed to prune old backups", "error", err)
	}
	if deleted > 0 {
		s.logger.Infow("pruned old backups", "deleted", deleted, "cutoff", cutoff)
	}
}
