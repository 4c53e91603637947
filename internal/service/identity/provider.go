// internal/service/identity/provider.go
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	xerrors "qrlogin-service/internal/pkg/errors"
	"qrlogin-service/internal/pkg/jwt"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// JTIStore remembers consumed ticket ids for at least the ticket lifetime.
// MarkUsed must be atomic: exactly one caller per jti observes true.
type JTIStore interface {
	MarkUsed(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

// ExchangeResult is what the web client walks away with after redeeming a
// login ticket: a server-side session identity.
type ExchangeResult struct {
	AuthSessionID string    `json:"auth_session_id"`
	UID           string    `json:"uid"`
	SelectedRole  string    `json:"selected_role"`
	GrantedRoles  []string  `json:"granted_roles,omitempty"`
	LoginMode     string    `json:"login_mode,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Provider is the identity side of the hand-off. It verifies the RS256
// ticket, enforces one-time use via the jti store, and establishes an
// authenticated session.
type Provider struct {
	verifier   *jwt.Verifier
	jtiStore   JTIStore
	sessionTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewProvider(verifier *jwt.Verifier, jtiStore JTIStore, sessionTTL time.Duration, logger *zap.Logger) *Provider {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		verifier:   verifier,
		jtiStore:   jtiStore,
		sessionTTL: sessionTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Exchange redeems a one-time login ticket. A replayed, expired, or
// malformed ticket fails with ErrTicketExchangeFailed; the caller must
// not retry with the same ticket.
func (p *Provider) Exchange(ctx context.Context, ticket string) (*ExchangeResult, error) {
	if ticket == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "ticket is required")
	}

	claims, err := p.verifier.VerifyLoginTicket(ticket)
	if err != nil {
		p.logger.Warn("login ticket rejected", zap.Error(err))
		return nil, xerrors.Wrap(xerrors.ErrTicketExchangeFailed, "ticket verification failed")
	}
	if claims.ID == "" {
		return nil, xerrors.Wrap(xerrors.ErrTicketExchangeFailed, "ticket has no jti")
	}

	ttl := p.sessionTTL
	if claims.ExpiresAt != nil {
		if rem := time.Until(claims.ExpiresAt.Time); rem > 0 && rem < ttl {
			ttl = rem
		}
	}
	// Remember the jti a bit past the ticket expiry so clock skew cannot
	// reopen the replay window.
	first, err := p.jtiStore.MarkUsed(ctx, claims.ID, ttl+time.Minute)
	if err != nil {
		return nil, fmt.Errorf("failed to record ticket use: %w", err)
	}
	if !first {
		p.logger.Warn("login ticket replayed",
			zap.String("jti", claims.ID),
			zap.String("session_id", claims.SessionID),
		)
		return nil, xerrors.Wrap(xerrors.ErrTicketExchangeFailed, "ticket already used")
	}

	now := p.now()
	result := &ExchangeResult{
		AuthSessionID: ulid.Make().String(),
		UID:           claims.UID,
		SelectedRole:  claims.SelectedRole,
		GrantedRoles:  claims.GrantedRoles,
		LoginMode:     claims.LoginMode,
		ExpiresAt:     now.Add(p.sessionTTL),
	}

	p.logger.Info("login ticket exchanged",
		zap.String("uid", claims.UID),
		zap.String("session_id", claims.SessionID),
		zap.String("role", claims.SelectedRole),
	)
	return result, nil
}

// ========== JTI stores ==========

// MemoryJTIStore keeps consumed jtis in-process; entries are dropped
// lazily once their ttl passes.
type MemoryJTIStore struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

func NewMemoryJTIStore() *MemoryJTIStore {
	return &MemoryJTIStore{
		used: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (m *MemoryJTIStore) MarkUsed(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, deadline := range m.used {
		if now.After(deadline) {
			delete(m.used, id)
		}
	}
	if _, exists := m.used[jti]; exists {
		return false, nil
	}
	m.used[jti] = now.Add(ttl)
	return true, nil
}
