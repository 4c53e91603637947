// internal/domain/qrsession/repository.go
package qrsession

import (
	"context"
	"time"
)

// Store is the keyed session store. All mutation goes through Update, whose
// mutate callback runs atomically against the current record: two
// concurrent updates for the same key never both win, and a callback error
// aborts without writing. This is the only shared mutable resource of the
// QR login flow.
type Store interface {
	// Create stores a new session, failing if the id already exists.
	Create(ctx context.Context, s *Session) error

	// Get returns the session or xerrors.ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Update applies mutate to the current record under compare-and-swap
	// semantics and returns the stored result. The callback may return an
	// error (e.g. ErrAlreadyFinalized, ErrNonceMismatch) to abort without
	// mutating state.
	Update(ctx context.Context, id string, mutate func(*Session) error) (*Session, error)

	// ScanExpired returns sessions still in a non-terminal state whose TTL
	// elapsed at or before now. Used by the sweeper; limit bounds one sweep.
	ScanExpired(ctx context.Context, now time.Time, limit int) ([]*Session, error)
}
