package qrlogin

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"qrlogin-service/internal/client/localstore"
	domain "qrlogin-service/internal/domain/qrsession"
	xerrors "qrlogin-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// fakeAPI scripts the service's responses. Each status poll consumes the
// next step; the last step repeats.
type fakeAPI struct {
	mu        sync.Mutex
	initCount int
	pollCount int
	cancels   []string
	steps     []func(call int) (*domain.StatusResponse, error)
}

func (f *fakeAPI) Init(_ context.Context, _ *domain.InitRequest) (*domain.InitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCount++
	return &domain.InitResponse{
		SessionID:       "session-1",
		QRData:          "opaque",
		Nonce:           "nonce-0",
		ExpiresAt:       time.Now().Add(90 * time.Second),
		ExpiresIn:       90,
		PollingInterval: 1, // 1ms, keep tests fast
	}, nil
}

func (f *fakeAPI) Status(_ context.Context, req *domain.StatusRequest) (*domain.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.pollCount
	f.pollCount++
	idx := call
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	return f.steps[idx](call)
}

func (f *fakeAPI) Cancel(_ context.Context, req *domain.CancelRequest) (*domain.CancelResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, req.SessionID)
	return &domain.CancelResponse{Status: domain.StatusCancelled}, nil
}

func (f *fakeAPI) inits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCount
}

type fakeExchanger struct {
	mu      sync.Mutex
	tickets []string
	err     error
}

func (e *fakeExchanger) Exchange(_ context.Context, ticket string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickets = append(e.tickets, ticket)
	return e.err
}

func statusStep(status domain.Status, nonce string) func(int) (*domain.StatusResponse, error) {
	return func(int) (*domain.StatusResponse, error) {
		return &domain.StatusResponse{Status: status, Nonce: nonce}, nil
	}
}

func confirmedStep(ticket string) func(int) (*domain.StatusResponse, error) {
	return func(int) (*domain.StatusResponse, error) {
		return &domain.StatusResponse{
			Status:      domain.StatusConfirmed,
			Nonce:       "nonce-final",
			LoginTicket: ticket,
			UserInfo: &domain.UserInfo{
				UID:          "user-1",
				SelectedRole: "parent",
				GrantedRoles: []string{"parent", "volunteer"},
				RedirectTo:   "/children",
			},
		}, nil
	}
}

func fastOptions() Options {
	return Options{
		Type:           "multi",
		PollInterval:   time.Millisecond,
		CountdownTick:  time.Millisecond,
		MaxAutoRefresh: 3,
		RefreshDelay:   time.Millisecond,
	}
}

func newTestStore(t *testing.T) *localstore.Store {
	t.Helper()
	return localstore.New(filepath.Join(t.TempDir(), "store.json"))
}

func TestRunHappyPath(t *testing.T) {
	api := &fakeAPI{steps: []func(int) (*domain.StatusResponse, error){
		statusStep(domain.StatusWaiting, "nonce-1"),
		statusStep(domain.StatusScanned, "nonce-2"),
		confirmedStep("ticket-1"),
	}}
	exchanger := &fakeExchanger{}
	store := newTestStore(t)

	var scanned, success bool
	events := Events{
		OnScanned: func() { scanned = true },
		OnSuccess: func(user *domain.UserInfo, redirectTo string) {
			success = true
			if redirectTo != "/children" {
				t.Errorf("redirect = %q", redirectTo)
			}
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(api, exchanger, store, events, zap.NewNop(), fastOptions())
	user, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if user == nil || user.UID != "user-1" {
		t.Fatalf("user = %+v", user)
	}
	if !scanned || !success {
		t.Errorf("scanned=%v success=%v", scanned, success)
	}
	if len(exchanger.tickets) != 1 || exchanger.tickets[0] != "ticket-1" {
		t.Errorf("exchanged tickets = %v", exchanger.tickets)
	}

	// Granted roles were persisted before the hand-off
	var roles []string
	if err := store.GetJSON(localstore.KeyUserRoles, &roles); err != nil {
		t.Fatalf("roles not persisted: %v", err)
	}
	if len(roles) != 2 {
		t.Errorf("roles = %v", roles)
	}
	var selected string
	if err := store.GetJSON(localstore.KeySelectedRole, &selected); err != nil || selected != "parent" {
		t.Errorf("selected role = %q, %v", selected, err)
	}
}

func TestTransientPollErrorsAreTolerated(t *testing.T) {
	transient := errors.New("connection reset")
	api := &fakeAPI{steps: []func(int) (*domain.StatusResponse, error){
		func(int) (*domain.StatusResponse, error) { return nil, transient },
		func(int) (*domain.StatusResponse, error) { return nil, transient },
		confirmedStep("ticket-1"),
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(api, &fakeExchanger{}, newTestStore(t), Events{}, zap.NewNop(), fastOptions())
	if _, err := c.Run(ctx); err != nil {
		t.Fatalf("transient errors surfaced as failure: %v", err)
	}
}

func TestNonceMismatchAbandonsSession(t *testing.T) {
	api := &fakeAPI{steps: []func(int) (*domain.StatusResponse, error){
		func(int) (*domain.StatusResponse, error) { return nil, xerrors.ErrNonceMismatch },
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(api, &fakeExchanger{}, newTestStore(t), Events{}, zap.NewNop(), fastOptions())
	_, err := c.Run(ctx)
	if !xerrors.Is(err, xerrors.ErrNonceMismatch) {
		t.Fatalf("got %v, want ErrNonceMismatch", err)
	}
	if api.inits() != 1 {
		t.Errorf("client refreshed after a security fault (%d inits)", api.inits())
	}
}

func TestAutoRefreshIsBounded(t *testing.T) {
	api := &fakeAPI{steps: []func(int) (*domain.StatusResponse, error){
		statusStep(domain.StatusExpired, ""),
	}}

	var exhausted bool
	var terminals int
	events := Events{
		OnTerminal:         func(domain.Status, string) { terminals++ },
		OnRefreshExhausted: func() { exhausted = true },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := New(api, &fakeExchanger{}, newTestStore(t), events, zap.NewNop(), fastOptions())
	_, err := c.Run(ctx)
	if !xerrors.Is(err, xerrors.ErrRefreshExhausted) {
		t.Fatalf("got %v, want ErrRefreshExhausted", err)
	}
	if !exhausted {
		t.Error("OnRefreshExhausted never fired")
	}
	// One initial attempt plus the bounded refreshes
	if api.inits() != 1+3 {
		t.Errorf("inits = %d, want 4", api.inits())
	}
	if terminals != 4 {
		t.Errorf("terminal notifications = %d, want 4", terminals)
	}
}

func TestManualRefreshResetsTheBudget(t *testing.T) {
	api := &fakeAPI{steps: []func(int) (*domain.StatusResponse, error){
		statusStep(domain.StatusExpired, ""),
	}}

	var c *Client
	events := Events{
		OnRefreshExhausted: func() { c.Refresh() },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c = New(api, &fakeExchanger{}, newTestStore(t), events, zap.NewNop(), fastOptions())
	_, err := c.Run(ctx)

	// The run still ends once the context gives up, but the manual
	// refresh must have bought a second round of attempts.
	if err == nil {
		t.Fatal("expected an error after the context deadline")
	}
	if api.inits() < 5 {
		t.Errorf("inits = %d, manual refresh did not restart the loop", api.inits())
	}
}

func TestCancelStopsPollingAndNotifiesServer(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	api := &fakeAPI{steps: []func(int) (*domain.StatusResponse, error){
		func(int) (*domain.StatusResponse, error) {
			once.Do(func() { close(started) })
			return &domain.StatusResponse{Status: domain.StatusWaiting, Nonce: "n"}, nil
		},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(api, &fakeExchanger{}, newTestStore(t), Events{}, zap.NewNop(), fastOptions())

	go func() {
		<-started
		c.Cancel()
	}()

	_, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.cancels) != 1 {
		t.Errorf("server-side cancels = %d, want 1", len(api.cancels))
	}
}

func TestHandoffFailureIsDistinctFromProtocolFailure(t *testing.T) {
	api := &fakeAPI{steps: []func(int) (*domain.StatusResponse, error){
		confirmedStep("ticket-1"),
	}}
	exchanger := &fakeExchanger{err: xerrors.Wrap(xerrors.ErrTicketExchangeFailed, "already consumed")}

	var success bool
	var failure error
	events := Events{
		OnSuccess: func(*domain.UserInfo, string) { success = true },
		OnError:   func(err error) { failure = err },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(api, exchanger, newTestStore(t), events, zap.NewNop(), fastOptions())
	_, err := c.Run(ctx)
	if !xerrors.Is(err, xerrors.ErrTicketExchangeFailed) {
		t.Fatalf("got %v, want ErrTicketExchangeFailed", err)
	}
	if success {
		t.Error("reported success despite hand-off failure")
	}
	if !xerrors.Is(failure, xerrors.ErrTicketExchangeFailed) {
		t.Errorf("OnError got %v", failure)
	}
}

func TestConfirmedWithoutTicketFails(t *testing.T) {
	api := &fakeAPI{steps: []func(int) (*domain.StatusResponse, error){
		func(int) (*domain.StatusResponse, error) {
			return &domain.StatusResponse{
				Status:   domain.StatusConfirmed,
				Nonce:    "n",
				UserInfo: &domain.UserInfo{UID: "user-1", SelectedRole: "parent"},
			}, nil
		},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(api, &fakeExchanger{}, newTestStore(t), Events{}, zap.NewNop(), fastOptions())
	_, err := c.Run(ctx)
	if !xerrors.Is(err, xerrors.ErrTicketExchangeFailed) {
		t.Fatalf("got %v, want ErrTicketExchangeFailed", err)
	}
}
