// internal/repository/memory/qr_session_repo.go
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"qrlogin-service/internal/domain/qrsession"
	xerrors "qrlogin-service/internal/pkg/errors"
)

// QRSessionRepository is the in-memory session store: a mutex-guarded map.
// Used in tests and single-node deployments; the Redis store is the
// production backing.
type QRSessionRepository struct {
	mu        sync.Mutex
	sessions  map[string]*qrsession.Session
	retention time.Duration
}

func NewQRSessionRepository(retention time.Duration) *QRSessionRepository {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &QRSessionRepository{
		sessions:  make(map[string]*qrsession.Session),
		retention: retention,
	}
}

// Create stores a new session, failing on duplicate ids.
func (r *QRSessionRepository) Create(ctx context.Context, s *qrsession.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return xerrors.Wrap(xerrors.ErrStorageUnavailable, "duplicate session id")
	}

	cp, err := clone(s)
	if err != nil {
		return err
	}
	r.sessions[s.ID] = cp
	return nil
}

// Get returns a copy of the session so callers cannot mutate shared state.
func (r *QRSessionRepository) Get(ctx context.Context, id string) (*qrsession.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return nil, xerrors.ErrNotFound
	}
	return clone(s)
}

// Update applies mutate under the lock. The callback sees a copy; the copy
// only replaces the stored record when the callback succeeds.
func (r *QRSessionRepository) Update(ctx context.Context, id string, mutate func(*qrsession.Session) error) (*qrsession.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return nil, xerrors.ErrNotFound
	}

	cp, err := clone(s)
	if err != nil {
		return nil, err
	}
	if err := mutate(cp); err != nil {
		return nil, err
	}

	r.sessions[id] = cp
	out, err := clone(cp)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ScanExpired lists overdue non-terminal sessions. As a side effect it
// garbage-collects terminal records older than the retention period.
func (r *QRSessionRepository) ScanExpired(ctx context.Context, now time.Time, limit int) ([]*qrsession.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*qrsession.Session
	for id, s := range r.sessions {
		if s.Status.IsTerminal() {
			if s.FinalizedAt != nil && now.Sub(*s.FinalizedAt) > r.retention {
				delete(r.sessions, id)
			}
			continue
		}
		if !s.ExpiresAt.After(now) {
			cp, err := clone(s)
			if err != nil {
				return nil, err
			}
			out = append(out, cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Len reports the number of stored sessions (terminal included).
func (r *QRSessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func clone(s *qrsession.Session) (*qrsession.Session, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to copy session")
	}
	var cp qrsession.Session
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, xerrors.Wrap(err, "failed to copy session")
	}
	return &cp, nil
}
