// internal/service/qrsession/service.go
package qrsession

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"qrlogin-service/internal/domain/audit"
	domain "qrlogin-service/internal/domain/qrsession"
	xerrors "qrlogin-service/internal/pkg/errors"
	"qrlogin-service/internal/pkg/jwt"
	"qrlogin-service/internal/pkg/qrcode"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Protocol defaults
const (
	DefaultTTL          = 90 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// AuditRecorder persists audit events. Failures are logged, never fatal.
type AuditRecorder interface {
	Create(ctx context.Context, e *audit.Event) error
}

// Notifier pushes state transitions to subscribed web clients.
type Notifier interface {
	SessionUpdated(sessionID string, status domain.Status, message string)
}

// MetricsRecorder counts protocol events.
type MetricsRecorder interface {
	RecordSessionCreated()
	RecordTransition(to string)
	RecordPoll()
	RecordNonceMismatch()
	RecordTicketIssued()
}

// Config tunes the protocol timings; zero values take the defaults.
type Config struct {
	TTL          time.Duration
	PollInterval time.Duration
}

// Service implements the QR login session contract: create, poll with
// nonce rotation, scan, confirm, decline, cancel. All state changes go
// through the store's compare-and-swap, so racing transitions have exactly
// one winner.
type Service struct {
	store      domain.Store
	sealer     *qrcode.Sealer
	jwtManager *jwt.Manager
	auditRepo  AuditRecorder
	notifier   Notifier
	metrics    MetricsRecorder
	logger     *zap.Logger

	ttl          time.Duration
	pollInterval time.Duration

	// now is swappable for tests
	now func() time.Time
}

func NewService(
	store domain.Store,
	sealer *qrcode.Sealer,
	jwtManager *jwt.Manager,
	auditRepo AuditRecorder,
	notifier Notifier,
	metrics MetricsRecorder,
	logger *zap.Logger,
	cfg Config,
) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        store,
		sealer:       sealer,
		jwtManager:   jwtManager,
		auditRepo:    auditRepo,
		notifier:     notifier,
		metrics:      metrics,
		logger:       logger,
		ttl:          cfg.TTL,
		pollInterval: cfg.PollInterval,
		now:          time.Now,
	}
}

// ========== Init ==========

// Init creates a new login session and returns the sealed QR payload plus
// the first nonce. Refreshing always comes back through here: TTLs are
// never extended, a fresh session is created instead.
func (s *Service) Init(ctx context.Context, req *domain.InitRequest) (*domain.InitResponse, error) {
	sessionType := req.Type
	if sessionType == "" {
		sessionType = TypeMulti
	}
	if !ValidSessionType(sessionType) {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, fmt.Sprintf("unknown session type %q", sessionType))
	}

	now := s.now()
	sessionID := ulid.Make().String()

	nonce, err := generateNonce()
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:         sessionID,
		Type:       sessionType,
		Status:     domain.StatusWaiting,
		NonceHash:  hashNonce(nonce),
		AutoBind:   req.AutoBind,
		DeviceInfo: req.DeviceInfo,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}

	if err := s.store.Create(ctx, session); err != nil {
		return nil, xerrors.Wrap(err, "failed to create session")
	}

	qrData, err := s.sealer.Seal(sessionID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to seal qr payload: %w", err)
	}

	s.audit(ctx, &audit.Event{
		Action:    audit.ActionInit,
		SessionID: sessionID,
		Role:      sessionType,
		Success:   true,
		IPAddress: req.DeviceInfo.IPAddress,
		UserAgent: req.DeviceInfo.UserAgent,
		Metadata:  req.Metadata,
	})
	if s.metrics != nil {
		s.metrics.RecordSessionCreated()
	}

	s.logger.Info("qr session created",
		zap.String("session_id", sessionID),
		zap.String("type", sessionType),
		zap.Time("expires_at", session.ExpiresAt),
	)

	return &domain.InitResponse{
		SessionID:       sessionID,
		QRData:          qrData,
		Nonce:           nonce,
		ExpiresAt:       session.ExpiresAt,
		ExpiresIn:       int(s.ttl / time.Second),
		PollingInterval: int(s.pollInterval / time.Millisecond),
	}, nil
}

// ========== Status ==========

// Status validates the caller's nonce, rotates it, and returns the current
// projection. A nonce older than the most recently issued one is rejected
// without mutating state. The login ticket rides along exactly once, on
// the first confirmed poll.
func (s *Service) Status(ctx context.Context, req *domain.StatusRequest) (*domain.StatusResponse, error) {
	if req.SessionID == "" || req.Nonce == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "session_id and nonce are required")
	}
	if s.metrics != nil {
		s.metrics.RecordPoll()
	}

	now := s.now()

	// TTL elapsed beats everything else: report expired even before the
	// sweeper has converged the stored record.
	session, err := s.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.ExpiredBy(now) {
		session = s.expireNow(ctx, req.SessionID, now)
		return s.projection(session, "", false), nil
	}

	var (
		nextNonce    string
		ticketOut    string
		firstConfirm bool
	)
	updated, err := s.store.Update(ctx, req.SessionID, func(cur *domain.Session) error {
		if !verifyNonce(req.Nonce, cur.NonceHash) {
			return xerrors.ErrNonceMismatch
		}

		n, err := generateNonce()
		if err != nil {
			return err
		}
		nextNonce = n
		cur.NonceHash = hashNonce(n)
		rotated := s.now()
		cur.LastNonceRotatedAt = &rotated

		// Hand the one-time ticket out on the first confirmed poll only
		if cur.Status == domain.StatusConfirmed && cur.Ticket != nil && !cur.Ticket.Consumed {
			ticketOut = cur.Ticket.Ticket
			cur.Ticket.Consumed = true
			firstConfirm = true
		}
		return nil
	})
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNonceMismatch) {
			if s.metrics != nil {
				s.metrics.RecordNonceMismatch()
			}
			s.audit(ctx, &audit.Event{
				Action:    audit.ActionNonceMismatch,
				SessionID: req.SessionID,
				Success:   false,
			})
			s.logger.Warn("stale or foreign nonce on status poll",
				zap.String("session_id", req.SessionID),
			)
		}
		return nil, err
	}

	resp := s.projection(updated, nextNonce, firstConfirm)
	resp.LoginTicket = ticketOut
	return resp, nil
}

// ========== Scan (mobile) ==========

// Scan redeems a sealed payload from the mobile app: it verifies integrity
// and age, moves waiting sessions to scanned, and issues the one-time
// confirm nonce. Re-scanning a scanned session rotates the confirm nonce
// without moving state.
func (s *Service) Scan(ctx context.Context, req *domain.ScanRequest) (*domain.ScanResponse, error) {
	if req.QRData == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "qr_data is required")
	}

	now := s.now()
	sessionID, _, err := s.sealer.Open(req.QRData, now)
	if err != nil {
		return nil, err
	}

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ExpiredBy(now) {
		s.expireNow(ctx, sessionID, now)
		return nil, xerrors.ErrSessionExpired
	}

	confirmNonce, err := generateNonce()
	if err != nil {
		return nil, err
	}

	var transitioned bool
	updated, err := s.store.Update(ctx, sessionID, func(cur *domain.Session) error {
		if cur.Status.IsTerminal() {
			return xerrors.ErrAlreadyFinalized
		}
		if cur.Status == domain.StatusWaiting {
			cur.Status = domain.StatusScanned
			scanned := s.now()
			cur.ScannedAt = &scanned
			transitioned = true
		}
		cur.ConfirmNonceHash = hashNonce(confirmNonce)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, &audit.Event{
		Action:    audit.ActionScan,
		SessionID: sessionID,
		Success:   true,
		IPAddress: req.DeviceInfo.IPAddress,
		UserAgent: req.DeviceInfo.UserAgent,
	})
	if transitioned {
		if s.metrics != nil {
			s.metrics.RecordTransition(string(domain.StatusScanned))
		}
		s.notify(updated)
	}

	return &domain.ScanResponse{
		SessionID:     updated.ID,
		Type:          updated.Type,
		Status:        updated.Status,
		ConfirmNonce:  confirmNonce,
		WebDeviceInfo: updated.DeviceInfo,
		CreatedAt:     updated.CreatedAt,
		ExpiresAt:     updated.ExpiresAt,
	}, nil
}

// ========== Confirm (mobile) ==========

// Confirm finalizes the login. Only the first confirmation wins; racing or
// late confirmations observe ErrAlreadyFinalized. The one-time login
// ticket is minted here and delivered to the web client by Status.
func (s *Service) Confirm(ctx context.Context, req *domain.ConfirmRequest) (*domain.ConfirmResponse, error) {
	if req.SessionID == "" || req.Identity.UID == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "session_id and identity are required")
	}

	now := s.now()
	session, err := s.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.ExpiredBy(now) {
		s.expireNow(ctx, req.SessionID, now)
		return nil, xerrors.ErrSessionExpired
	}

	selectedRole := DetermineRole(req.GrantedRoles, session.Type, req.SelectedRole, req.LoginMode)
	if selectedRole == "" {
		s.audit(ctx, &audit.Event{
			Action:    audit.ActionConfirm,
			SessionID: req.SessionID,
			UserID:    req.Identity.UID,
			Roles:     req.GrantedRoles,
			Success:   false,
		})
		return nil, xerrors.Wrap(xerrors.ErrRoleNotAllowed, fmt.Sprintf("no granted role satisfies session type %q", session.Type))
	}

	ticket, jti, err := s.jwtManager.Generator.GenerateLoginTicket(
		req.SessionID, req.Identity.UID, selectedRole, req.GrantedRoles, req.LoginMode,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mint login ticket: %w", err)
	}

	userInfo := &domain.UserInfo{
		UID:          req.Identity.UID,
		DisplayName:  req.Identity.DisplayName,
		AvatarURL:    req.Identity.AvatarURL,
		SelectedRole: selectedRole,
		GrantedRoles: req.GrantedRoles,
		LoginMode:    req.LoginMode,
		RedirectTo:   RedirectPath(selectedRole),
	}

	updated, err := s.store.Update(ctx, req.SessionID, func(cur *domain.Session) error {
		if cur.Status.IsTerminal() {
			return xerrors.ErrAlreadyFinalized
		}
		if cur.ConfirmNonceHash == "" || !verifyNonce(req.ConfirmNonce, cur.ConfirmNonceHash) {
			return xerrors.ErrNonceMismatch
		}

		cur.Status = domain.StatusConfirmed
		cur.ConfirmNonceHash = "" // consumed
		finalized := s.now()
		cur.FinalizedAt = &finalized
		cur.UserInfo = userInfo
		cur.Ticket = &domain.LoginTicket{
			Ticket:   ticket,
			JTI:      jti,
			Consumed: false,
			IssuedAt: finalized,
		}
		return nil
	})
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNonceMismatch) {
			s.audit(ctx, &audit.Event{
				Action:    audit.ActionNonceMismatch,
				SessionID: req.SessionID,
				UserID:    req.Identity.UID,
				Success:   false,
			})
		}
		return nil, err
	}

	s.audit(ctx, &audit.Event{
		Action:    audit.ActionConfirm,
		SessionID: req.SessionID,
		UserID:    req.Identity.UID,
		Role:      selectedRole,
		Roles:     req.GrantedRoles,
		Success:   true,
	})
	s.audit(ctx, &audit.Event{
		Action:    audit.ActionTicketIssued,
		SessionID: req.SessionID,
		UserID:    req.Identity.UID,
		Role:      selectedRole,
		Success:   true,
	})
	if s.metrics != nil {
		s.metrics.RecordTransition(string(domain.StatusConfirmed))
		s.metrics.RecordTicketIssued()
	}
	s.notify(updated)

	s.logger.Info("qr session confirmed",
		zap.String("session_id", req.SessionID),
		zap.String("uid", req.Identity.UID),
		zap.String("role", selectedRole),
	)

	return &domain.ConfirmResponse{
		Confirmed: true,
		Message:   StatusMessage(domain.StatusConfirmed),
		UserInfo:  userInfo,
		ExpiresAt: updated.ExpiresAt,
	}, nil
}

// ========== Cancel / Decline ==========

// Cancel moves a non-terminal session to cancelled. Cancelling a session
// that already reached a terminal state is a no-op, not an error.
func (s *Service) Cancel(ctx context.Context, req *domain.CancelRequest) (*domain.CancelResponse, error) {
	if req.SessionID == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "session_id is required")
	}
	reason := req.Reason
	if reason == "" {
		reason = "user_cancelled"
	}

	updated, err := s.store.Update(ctx, req.SessionID, func(cur *domain.Session) error {
		if cur.Status.IsTerminal() {
			return xerrors.ErrAlreadyFinalized
		}
		cur.Status = domain.StatusCancelled
		cur.CancelReason = reason
		finalized := s.now()
		cur.FinalizedAt = &finalized
		return nil
	})
	if err != nil {
		if xerrors.Is(err, xerrors.ErrAlreadyFinalized) {
			// Terminal already; report the stored state as a no-op ack
			cur, getErr := s.store.Get(ctx, req.SessionID)
			if getErr != nil {
				return nil, getErr
			}
			return &domain.CancelResponse{
				Status:  cur.Status,
				Message: StatusMessage(cur.Status),
			}, nil
		}
		return nil, err
	}

	s.audit(ctx, &audit.Event{
		Action:    audit.ActionCancel,
		SessionID: req.SessionID,
		Success:   true,
		Metadata:  map[string]string{"reason": reason},
	})
	if s.metrics != nil {
		s.metrics.RecordTransition(string(domain.StatusCancelled))
	}
	s.notify(updated)

	return &domain.CancelResponse{
		Status:  domain.StatusCancelled,
		Message: CancelReasonMessage(reason),
	}, nil
}

// Decline is the mobile app rejecting the login; same transition as
// cancel, recorded under its own audit action.
func (s *Service) Decline(ctx context.Context, req *domain.DeclineRequest) (*domain.CancelResponse, error) {
	reason := req.Reason
	if reason == "" {
		reason = "user_declined"
	}
	resp, err := s.Cancel(ctx, &domain.CancelRequest{SessionID: req.SessionID, Reason: reason})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, &audit.Event{
		Action:    audit.ActionDecline,
		SessionID: req.SessionID,
		Success:   true,
		Metadata:  map[string]string{"reason": reason},
	})
	return resp, nil
}

// ========== Helpers ==========

// expireNow converges an overdue session to expired. Losing the race to a
// concurrent confirm/cancel is fine; the stored state wins either way.
func (s *Service) expireNow(ctx context.Context, sessionID string, now time.Time) *domain.Session {
	updated, err := s.store.Update(ctx, sessionID, func(cur *domain.Session) error {
		if cur.Status.IsTerminal() {
			return xerrors.ErrAlreadyFinalized
		}
		cur.Status = domain.StatusExpired
		finalized := now
		cur.FinalizedAt = &finalized
		return nil
	})
	if err != nil {
		if !xerrors.Is(err, xerrors.ErrAlreadyFinalized) {
			s.logger.Warn("failed to expire overdue session",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
		cur, getErr := s.store.Get(ctx, sessionID)
		if getErr != nil {
			// Fall back to a synthetic expired projection
			return &domain.Session{ID: sessionID, Status: domain.StatusExpired, ExpiresAt: now}
		}
		return cur
	}

	s.audit(ctx, &audit.Event{
		Action:    audit.ActionExpire,
		SessionID: sessionID,
		Success:   true,
	})
	if s.metrics != nil {
		s.metrics.RecordTransition(string(domain.StatusExpired))
	}
	s.notify(updated)
	return updated
}

// projection builds the read-only view a status poll returns.
func (s *Service) projection(session *domain.Session, nextNonce string, withUserInfo bool) *domain.StatusResponse {
	resp := &domain.StatusResponse{
		Status:    session.Status,
		Message:   StatusMessage(session.Status),
		Nonce:     nextNonce,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	}
	if session.Status == domain.StatusCancelled {
		resp.Reason = session.CancelReason
		resp.Message = CancelReasonMessage(session.CancelReason)
	}
	if session.Status == domain.StatusConfirmed && withUserInfo {
		resp.UserInfo = session.UserInfo
	}
	return resp
}

func (s *Service) audit(ctx context.Context, e *audit.Event) {
	if s.auditRepo == nil {
		return
	}
	if err := s.auditRepo.Create(ctx, e); err != nil {
		s.logger.Error("failed to record audit event",
			zap.String("action", e.Action),
			zap.String("session_id", e.SessionID),
			zap.Error(err),
		)
	}
}

func (s *Service) notify(session *domain.Session) {
	if s.notifier == nil || session == nil {
		return
	}
	s.notifier.SessionUpdated(session.ID, session.Status, StatusMessage(session.Status))
}

// generateNonce returns 16 random bytes as hex.
func generateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// hashNonce stores only a digest of the rotating secret.
func hashNonce(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}

// verifyNonce compares in constant time.
func verifyNonce(nonce, storedHash string) bool {
	if nonce == "" || storedHash == "" {
		return false
	}
	computed := hashNonce(nonce)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
