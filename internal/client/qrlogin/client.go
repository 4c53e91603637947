// internal/client/qrlogin/client.go
package qrlogin

import (
	"context"
	"time"

	"qrlogin-service/internal/client/localstore"
	domain "qrlogin-service/internal/domain/qrsession"
	xerrors "qrlogin-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// Client-side protocol defaults.
const (
	DefaultPollInterval   = 2 * time.Second
	DefaultCountdownTick  = time.Second
	DefaultMaxAutoRefresh = 3
	DefaultRefreshDelay   = time.Second
)

// Events are the UI hooks. All callbacks fire from the client's own
// loop goroutine; nil callbacks are skipped.
type Events struct {
	// OnQRCode fires whenever a fresh session starts (initial or refresh).
	OnQRCode func(sessionID, qrData string, expiresAt time.Time)
	// OnCountdown ticks once a second with the remaining lifetime.
	OnCountdown func(remaining time.Duration)
	// OnScanned fires when the code has been scanned but not yet confirmed.
	OnScanned func()
	// OnSuccess fires after the identity hand-off completed.
	OnSuccess func(user *domain.UserInfo, redirectTo string)
	// OnTerminal fires on cancelled/expired, before any auto-refresh.
	OnTerminal func(status domain.Status, reason string)
	// OnRefreshExhausted fires when the auto-refresh budget is spent;
	// further refresh needs an explicit user action.
	OnRefreshExhausted func()
	// OnError fires on failures that end the login attempt. Use
	// errors.Is with ErrTicketExchangeFailed to distinguish "confirmed
	// but sign-in failed" from protocol failures.
	OnError func(err error)
}

// Options configure a Client. Zero values take the protocol defaults.
type Options struct {
	Type           string
	DeviceInfo     domain.DeviceInfo
	Metadata       map[string]string
	PollInterval   time.Duration
	CountdownTick  time.Duration
	MaxAutoRefresh int
	RefreshDelay   time.Duration
}

// command is an external request injected into the loop.
type command int

const (
	cmdRefresh command = iota
	cmdCancel
)

// Client drives one login screen: it creates a session, renders the QR
// payload through Events, polls status on a fixed tick, counts down the
// TTL, and hands off the one-time ticket once confirmed. The whole thing
// runs on a single goroutine; Refresh and Cancel just post commands to it.
type Client struct {
	api       API
	exchanger Exchanger
	store     *localstore.Store
	events    Events
	logger    *zap.Logger
	opts      Options

	commands chan command
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(api API, exchanger Exchanger, store *localstore.Store, events Events, logger *zap.Logger, opts Options) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.CountdownTick <= 0 {
		opts.CountdownTick = DefaultCountdownTick
	}
	if opts.MaxAutoRefresh < 0 {
		opts.MaxAutoRefresh = 0
	} else if opts.MaxAutoRefresh == 0 {
		opts.MaxAutoRefresh = DefaultMaxAutoRefresh
	}
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = DefaultRefreshDelay
	}
	if opts.Type == "" {
		opts.Type = "multi"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:       api,
		exchanger: exchanger,
		store:     store,
		events:    events,
		logger:    logger,
		opts:      opts,
		commands:  make(chan command, 4),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Refresh requests a new QR code. Counts against the auto-refresh budget.
func (c *Client) Refresh() {
	select {
	case c.commands <- cmdRefresh:
	default:
	}
}

// Cancel aborts the login. Polling stops immediately; the server-side
// cancel is best-effort.
func (c *Client) Cancel() {
	select {
	case c.commands <- cmdCancel:
	default:
	}
}

// Run blocks until the login finishes (success, failure, cancellation,
// or refresh budget spent) or ctx is cancelled. It returns the confirmed
// user on success.
func (c *Client) Run(ctx context.Context) (*domain.UserInfo, error) {
	refreshes := 0
	for {
		user, outcome, err := c.runAttempt(ctx)
		switch outcome {
		case outcomeSuccess:
			return user, nil
		case outcomeFatal:
			if c.events.OnError != nil {
				c.events.OnError(err)
			}
			return nil, err
		case outcomeCancelled:
			return nil, context.Canceled
		case outcomeRetry:
			if refreshes >= c.opts.MaxAutoRefresh {
				if c.events.OnRefreshExhausted != nil {
					c.events.OnRefreshExhausted()
				}
				// Budget spent; wait for an explicit user refresh.
				if !c.waitForManualRefresh(ctx) {
					return nil, xerrors.Wrap(xerrors.ErrRefreshExhausted, "qr code refresh limit reached")
				}
				refreshes = 0
				continue
			}
			refreshes++
			c.logger.Info("refreshing qr session",
				zap.Int("attempt", refreshes),
				zap.Int("max", c.opts.MaxAutoRefresh),
			)
			if err := c.sleep(ctx, c.opts.RefreshDelay); err != nil {
				return nil, err
			}
		}
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetry
	outcomeCancelled
	outcomeFatal
)

// runAttempt owns one session from init to a terminal verdict.
func (c *Client) runAttempt(ctx context.Context) (*domain.UserInfo, outcome, error) {
	initResp, err := c.api.Init(ctx, &domain.InitRequest{
		Type:       c.opts.Type,
		DeviceInfo: c.opts.DeviceInfo,
		Metadata:   c.opts.Metadata,
	})
	if err != nil {
		return nil, outcomeFatal, err
	}

	sessionID := initResp.SessionID
	nonce := initResp.Nonce
	expiresAt := initResp.ExpiresAt

	pollInterval := c.opts.PollInterval
	if initResp.PollingInterval > 0 {
		pollInterval = time.Duration(initResp.PollingInterval) * time.Millisecond
	}

	if c.events.OnQRCode != nil {
		c.events.OnQRCode(sessionID, initResp.QRData, expiresAt)
	}

	pollTicker := time.NewTicker(pollInterval)
	defer pollTicker.Stop()
	countdownTicker := time.NewTicker(c.opts.CountdownTick)
	defer countdownTicker.Stop()

	scannedNotified := false

	for {
		select {
		case <-ctx.Done():
			return nil, outcomeFatal, ctx.Err()

		case cmd := <-c.commands:
			switch cmd {
			case cmdCancel:
				c.cancelRemote(sessionID)
				if c.events.OnTerminal != nil {
					c.events.OnTerminal(domain.StatusCancelled, "user_cancelled")
				}
				return nil, outcomeCancelled, nil
			case cmdRefresh:
				c.cancelRemote(sessionID)
				return nil, outcomeRetry, nil
			}

		case <-countdownTicker.C:
			remaining := expiresAt.Sub(c.now())
			if remaining < 0 {
				remaining = 0
			}
			if c.events.OnCountdown != nil {
				c.events.OnCountdown(remaining)
			}

		case <-pollTicker.C:
			status, err := c.api.Status(ctx, &domain.StatusRequest{
				SessionID: sessionID,
				Nonce:     nonce,
			})
			if err != nil {
				switch {
				case xerrors.Is(err, xerrors.ErrNonceMismatch):
					// Someone else advanced our session; abandon it.
					return nil, outcomeFatal, err
				case xerrors.Is(err, xerrors.ErrNotFound), xerrors.Is(err, xerrors.ErrSessionExpired):
					if c.events.OnTerminal != nil {
						c.events.OnTerminal(domain.StatusExpired, "")
					}
					return nil, outcomeRetry, nil
				default:
					// Transient: not a status transition, retry next tick
					c.logger.Warn("status poll failed",
						zap.String("session_id", sessionID),
						zap.Error(err),
					)
					continue
				}
			}

			nonce = status.Nonce

			switch status.Status {
			case domain.StatusWaiting:
				// keep polling
			case domain.StatusScanned:
				if !scannedNotified {
					scannedNotified = true
					if c.events.OnScanned != nil {
						c.events.OnScanned()
					}
				}
			case domain.StatusConfirmed:
				return c.finish(ctx, status)
			case domain.StatusCancelled:
				if c.events.OnTerminal != nil {
					c.events.OnTerminal(domain.StatusCancelled, status.Reason)
				}
				return nil, outcomeRetry, nil
			case domain.StatusExpired:
				if c.events.OnTerminal != nil {
					c.events.OnTerminal(domain.StatusExpired, "")
				}
				return nil, outcomeRetry, nil
			}
		}
	}
}

// finish persists the granted roles, runs the identity hand-off, and only
// then reports success.
func (c *Client) finish(ctx context.Context, status *domain.StatusResponse) (*domain.UserInfo, outcome, error) {
	user := status.UserInfo
	if user != nil && c.store != nil {
		if err := c.store.SetJSON(localstore.KeyUserRoles, user.GrantedRoles); err != nil {
			c.logger.Warn("failed to persist granted roles", zap.Error(err))
		}
		if err := c.store.SetJSON(localstore.KeySelectedRole, user.SelectedRole); err != nil {
			c.logger.Warn("failed to persist selected role", zap.Error(err))
		}
	}

	if status.LoginTicket == "" {
		return nil, outcomeFatal, xerrors.Wrap(xerrors.ErrTicketExchangeFailed, "confirmed session carried no ticket")
	}
	if err := c.exchanger.Exchange(ctx, status.LoginTicket); err != nil {
		// The QR protocol succeeded; the sign-in step did not.
		c.logger.Error("identity hand-off failed", zap.Error(err))
		if !xerrors.Is(err, xerrors.ErrTicketExchangeFailed) {
			err = xerrors.Wrap(xerrors.ErrTicketExchangeFailed, err.Error())
		}
		return nil, outcomeFatal, err
	}

	redirectTo := ""
	if user != nil {
		redirectTo = user.RedirectTo
	}
	if c.events.OnSuccess != nil {
		c.events.OnSuccess(user, redirectTo)
	}
	return user, outcomeSuccess, nil
}

// cancelRemote is best-effort: local polling has already stopped.
func (c *Client) cancelRemote(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.api.Cancel(ctx, &domain.CancelRequest{SessionID: sessionID, Reason: "user_cancelled"}); err != nil {
		if !xerrors.Is(err, xerrors.ErrAlreadyFinalized) && !xerrors.Is(err, xerrors.ErrNotFound) {
			c.logger.Warn("server-side cancel failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
}

// waitForManualRefresh blocks until the user asks for another code.
// A cancel command or context cancellation gives up.
func (c *Client) waitForManualRefresh(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case cmd := <-c.commands:
			switch cmd {
			case cmdRefresh:
				return true
			case cmdCancel:
				return false
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
