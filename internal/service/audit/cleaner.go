// internal/service/audit/cleaner.go
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Trimmer deletes audit events older than a cutoff.
type Trimmer interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Cleaner prunes the audit trail on a slow cadence so the table does not
// grow without bound.
type Cleaner struct {
	repo      Trimmer
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewCleaner(repo Trimmer, retention, interval time.Duration, logger *zap.Logger) *Cleaner {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (c *Cleaner) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.runOnce(ctx)
			}
		}
	}()
}

func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Cleaner) runOnce(ctx context.Context) {
	cutoff := time.Now().Add(-c.retention)
	deleted, err := c.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		c.logger.Error("audit trim failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		c.logger.Info("audit trail trimmed",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
}
