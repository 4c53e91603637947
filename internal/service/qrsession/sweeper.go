// internal/service/qrsession/sweeper.go
package qrsession

import (
	"context"
	"sync"
	"time"

	"qrlogin-service/internal/domain/audit"
	domain "qrlogin-service/internal/domain/qrsession"
	xerrors "qrlogin-service/internal/pkg/errors"

	"go.uber.org/zap"
)

const (
	DefaultSweepInterval = 3 * time.Second
	DefaultSweepBatch    = 256
)

// SweepMetrics counts sweep rounds and how many sessions each converged.
type SweepMetrics interface {
	RecordSweep(expired int)
}

// Sweeper is a safety net behind lazy expiry: it periodically scans the
// store for overdue sessions and converges them to expired via the same
// compare-and-swap the service uses. Racing a confirm or cancel is
// expected; the sweeper silently yields.
type Sweeper struct {
	store    domain.Store
	audit    AuditRecorder
	notifier Notifier
	metrics  SweepMetrics
	logger   *zap.Logger

	interval time.Duration
	batch    int
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(store domain.Store, auditRepo AuditRecorder, notifier Notifier, metrics SweepMetrics, logger *zap.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:    store,
		audit:    auditRepo,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		batch:    DefaultSweepBatch,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (w *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.logger.Info("expiry sweeper started", zap.Duration("interval", w.interval))
		for {
			select {
			case <-ctx.Done():
				w.logger.Info("expiry sweeper stopped", zap.String("reason", "context cancelled"))
				return
			case <-w.stop:
				w.logger.Info("expiry sweeper stopped")
				return
			case <-ticker.C:
				w.sweepOnce(ctx)
			}
		}
	}()
}

// Stop signals the loop and waits for the in-flight sweep to finish.
func (w *Sweeper) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

// SweepOnce runs a single round; exported for tests and manual triggers.
func (w *Sweeper) SweepOnce(ctx context.Context) int {
	return w.sweepOnce(ctx)
}

func (w *Sweeper) sweepOnce(ctx context.Context) int {
	now := w.now()
	stale, err := w.store.ScanExpired(ctx, now, w.batch)
	if err != nil {
		w.logger.Error("expiry scan failed", zap.Error(err))
		return 0
	}

	expired := 0
	for _, session := range stale {
		id := session.ID
		updated, err := w.store.Update(ctx, id, func(cur *domain.Session) error {
			if cur.Status.IsTerminal() {
				return xerrors.ErrAlreadyFinalized
			}
			if !cur.ExpiredBy(now) {
				return xerrors.ErrAlreadyFinalized
			}
			cur.Status = domain.StatusExpired
			finalized := now
			cur.FinalizedAt = &finalized
			return nil
		})
		if err != nil {
			// Lost to a concurrent transition, or the record aged out
			if xerrors.Is(err, xerrors.ErrAlreadyFinalized) || xerrors.Is(err, xerrors.ErrNotFound) {
				continue
			}
			w.logger.Warn("failed to expire session",
				zap.String("session_id", id),
				zap.Error(err),
			)
			continue
		}

		expired++
		if w.audit != nil {
			if err := w.audit.Create(ctx, &audit.Event{
				Action:    audit.ActionExpire,
				SessionID: id,
				Success:   true,
			}); err != nil {
				w.logger.Error("failed to record expiry audit event",
					zap.String("session_id", id),
					zap.Error(err),
				)
			}
		}
		if w.notifier != nil {
			w.notifier.SessionUpdated(updated.ID, updated.Status, StatusMessage(updated.Status))
		}
	}

	if w.metrics != nil {
		w.metrics.RecordSweep(expired)
	}
	if expired > 0 {
		w.logger.Info("expiry sweep completed",
			zap.Int("scanned", len(stale)),
			zap.Int("expired", expired),
		)
	}
	return expired
}
