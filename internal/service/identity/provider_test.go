package identity

import (
	"context"
	"testing"
	"time"

	xerrors "qrlogin-service/internal/pkg/errors"
	"qrlogin-service/internal/pkg/jwt"

	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *jwt.Manager {
	t.Helper()
	m, err := jwt.LoadAndBuild(jwt.Config{
		Issuer:   "qrlogin-test",
		Audience: "identity-test",
		TTL:      2 * time.Minute,
		KID:      "test-key",
	})
	if err != nil {
		t.Fatalf("LoadAndBuild: %v", err)
	}
	return m
}

func mintTicket(t *testing.T, m *jwt.Manager) string {
	t.Helper()
	ticket, _, err := m.Generator.GenerateLoginTicket("session-1", "user-1", "parent", []string{"parent"}, "")
	if err != nil {
		t.Fatalf("GenerateLoginTicket: %v", err)
	}
	return ticket
}

func TestExchangeHappyPath(t *testing.T) {
	m := newTestManager(t)
	p := NewProvider(m.Verifier, NewMemoryJTIStore(), time.Hour, zap.NewNop())

	result, err := p.Exchange(context.Background(), mintTicket(t, m))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if result.UID != "user-1" || result.SelectedRole != "parent" {
		t.Errorf("result = %+v", result)
	}
	if result.AuthSessionID == "" {
		t.Error("no auth session id issued")
	}
}

func TestExchangeRejectsReplay(t *testing.T) {
	m := newTestManager(t)
	p := NewProvider(m.Verifier, NewMemoryJTIStore(), time.Hour, zap.NewNop())
	ticket := mintTicket(t, m)

	if _, err := p.Exchange(context.Background(), ticket); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	_, err := p.Exchange(context.Background(), ticket)
	if !xerrors.Is(err, xerrors.ErrTicketExchangeFailed) {
		t.Errorf("replay: got %v, want ErrTicketExchangeFailed", err)
	}
}

func TestExchangeRejectsMalformedTicket(t *testing.T) {
	m := newTestManager(t)
	p := NewProvider(m.Verifier, NewMemoryJTIStore(), time.Hour, zap.NewNop())

	for _, ticket := range []string{"garbage", "a.b.c"} {
		_, err := p.Exchange(context.Background(), ticket)
		if !xerrors.Is(err, xerrors.ErrTicketExchangeFailed) {
			t.Errorf("Exchange(%q): got %v, want ErrTicketExchangeFailed", ticket, err)
		}
	}
	if _, err := p.Exchange(context.Background(), ""); !xerrors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("empty ticket: got %v, want ErrInvalidInput", err)
	}
}

func TestExchangeRejectsForeignIssuer(t *testing.T) {
	mine := newTestManager(t)

	foreign, err := jwt.LoadAndBuild(jwt.Config{
		Issuer:   "someone-else",
		Audience: "identity-test",
		TTL:      2 * time.Minute,
		KID:      "foreign-key",
	})
	if err != nil {
		t.Fatalf("LoadAndBuild: %v", err)
	}

	p := NewProvider(mine.Verifier, NewMemoryJTIStore(), time.Hour, zap.NewNop())
	_, err = p.Exchange(context.Background(), mintTicket(t, foreign))
	if !xerrors.Is(err, xerrors.ErrTicketExchangeFailed) {
		t.Errorf("foreign issuer: got %v, want ErrTicketExchangeFailed", err)
	}
}

func TestMemoryJTIStoreFirstUseWins(t *testing.T) {
	store := NewMemoryJTIStore()
	ctx := context.Background()

	first, err := store.MarkUsed(ctx, "jti-1", time.Minute)
	if err != nil || !first {
		t.Fatalf("first use: %v %v", first, err)
	}
	second, err := store.MarkUsed(ctx, "jti-1", time.Minute)
	if err != nil || second {
		t.Fatalf("second use: %v %v", second, err)
	}
}
