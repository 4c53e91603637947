package qrsession

import (
	"context"
	"testing"
	"time"

	domain "qrlogin-service/internal/domain/qrsession"
	"qrlogin-service/internal/repository/memory"

	"go.uber.org/zap"
)

type countingNotifier struct {
	updates []string
}

func (n *countingNotifier) SessionUpdated(sessionID string, _ domain.Status, _ string) {
	n.updates = append(n.updates, sessionID)
}

func seedSession(t *testing.T, store *memory.QRSessionRepository, id string, status domain.Status, expiresAt time.Time) {
	t.Helper()
	err := store.Create(context.Background(), &domain.Session{
		ID:        id,
		Type:      "multi",
		Status:    status,
		CreatedAt: expiresAt.Add(-90 * time.Second),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("Create(%s): %v", id, err)
	}
}

func TestSweepConvergesOverdueSessions(t *testing.T) {
	store := memory.NewQRSessionRepository(5 * time.Minute)
	notifier := &countingNotifier{}
	sw := NewSweeper(store, nil, notifier, nil, zap.NewNop(), time.Second)
	now := time.Now()
	sw.now = func() time.Time { return now }

	seedSession(t, store, "overdue-waiting", domain.StatusWaiting, now.Add(-time.Second))
	seedSession(t, store, "overdue-scanned", domain.StatusScanned, now.Add(-time.Second))
	seedSession(t, store, "fresh", domain.StatusWaiting, now.Add(time.Minute))

	if got := sw.SweepOnce(context.Background()); got != 2 {
		t.Fatalf("SweepOnce = %d, want 2", got)
	}

	for _, id := range []string{"overdue-waiting", "overdue-scanned"} {
		s, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if s.Status != domain.StatusExpired {
			t.Errorf("%s status = %s, want expired", id, s.Status)
		}
		if s.FinalizedAt == nil {
			t.Errorf("%s has no finalized timestamp", id)
		}
	}

	fresh, _ := store.Get(context.Background(), "fresh")
	if fresh.Status != domain.StatusWaiting {
		t.Errorf("fresh session swept to %s", fresh.Status)
	}
	if len(notifier.updates) != 2 {
		t.Errorf("notified %d sessions, want 2", len(notifier.updates))
	}
}

func TestSweepNeverTouchesTerminalSessions(t *testing.T) {
	store := memory.NewQRSessionRepository(5 * time.Minute)
	sw := NewSweeper(store, nil, nil, nil, zap.NewNop(), time.Second)
	now := time.Now()
	sw.now = func() time.Time { return now }

	seedSession(t, store, "done", domain.StatusConfirmed, now.Add(-time.Minute))

	if got := sw.SweepOnce(context.Background()); got != 0 {
		t.Fatalf("SweepOnce = %d, want 0", got)
	}
	s, _ := store.Get(context.Background(), "done")
	if s.Status != domain.StatusConfirmed {
		t.Errorf("terminal session mutated to %s", s.Status)
	}
}

func TestSweepLosingRaceIsSilent(t *testing.T) {
	store := memory.NewQRSessionRepository(5 * time.Minute)
	sw := NewSweeper(store, nil, nil, nil, zap.NewNop(), time.Second)
	now := time.Now()
	sw.now = func() time.Time { return now }

	seedSession(t, store, "racing", domain.StatusScanned, now.Add(-time.Second))

	// A confirm slips in between the scan and the CAS
	_, err := store.Update(context.Background(), "racing", func(cur *domain.Session) error {
		cur.Status = domain.StatusConfirmed
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got := sw.SweepOnce(context.Background()); got != 0 {
		t.Fatalf("SweepOnce = %d, want 0 after losing the race", got)
	}
	s, _ := store.Get(context.Background(), "racing")
	if s.Status != domain.StatusConfirmed {
		t.Errorf("sweeper overwrote the confirm winner with %s", s.Status)
	}
}

func TestSweeperStartStop(t *testing.T) {
	store := memory.NewQRSessionRepository(5 * time.Minute)
	sw := NewSweeper(store, nil, nil, nil, zap.NewNop(), 10*time.Millisecond)

	seedSession(t, store, "overdue", domain.StatusWaiting, time.Now().Add(-time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sw.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		s, err := store.Get(context.Background(), "overdue")
		if err == nil && s.Status == domain.StatusExpired {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper never expired the session")
		case <-time.After(10 * time.Millisecond):
		}
	}

	sw.Stop()
}
