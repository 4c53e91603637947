// internal/domain/qrsession/entity.go
package qrsession

import (
	"time"
)

// Status is the lifecycle state of one QR login session.
type Status string

const (
	StatusWaiting   Status = "waiting"   // created, nobody scanned yet
	StatusScanned   Status = "scanned"   // mobile app scanned, awaiting confirm
	StatusConfirmed Status = "confirmed" // terminal
	StatusCancelled Status = "cancelled" // terminal
	StatusExpired   Status = "expired"   // terminal
)

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusCancelled || s == StatusExpired
}

// CanTransitionTo enforces the directed state graph:
//
//	waiting -> scanned | confirmed | cancelled | expired
//	scanned -> confirmed | cancelled | expired
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusWaiting:
		return next == StatusScanned || next == StatusConfirmed ||
			next == StatusCancelled || next == StatusExpired
	case StatusScanned:
		return next == StatusConfirmed || next == StatusCancelled || next == StatusExpired
	default:
		return false
	}
}

// DeviceInfo is metadata captured from the initiating browser.
// Recorded for audit/anomaly detection only, never used to authorize.
type DeviceInfo struct {
	UserAgent        string `json:"user_agent,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
	Platform         string `json:"platform,omitempty"`
	ColorDepth       int    `json:"color_depth,omitempty"`
	IPAddress        string `json:"ip_address,omitempty"`
}

// UserInfo is populated on the transition into confirmed.
type UserInfo struct {
	UID          string   `json:"uid"`
	DisplayName  string   `json:"display_name,omitempty"`
	AvatarURL    string   `json:"avatar_url,omitempty"`
	SelectedRole string   `json:"selected_role"`
	GrantedRoles []string `json:"granted_roles,omitempty"`
	LoginMode    string   `json:"login_mode,omitempty"` // full, guest
	RedirectTo   string   `json:"redirect_to,omitempty"`
}

// LoginTicket is the one-time credential minted at confirmation.
// Ticket is a signed JWT; JTI is tracked so a second exchange fails.
type LoginTicket struct {
	Ticket   string    `json:"ticket"`
	JTI      string    `json:"jti"`
	Consumed bool      `json:"consumed"`
	IssuedAt time.Time `json:"issued_at"`
}

// Session is the full server-side record of one login attempt.
// The session service owns it exclusively; the polling client only ever
// sees the projection returned by status.
type Session struct {
	ID     string `json:"id"`
	Type   string `json:"type"` // requested role, or "multi"
	Status Status `json:"status"`

	// Rotating secrets. Only hashes are stored; plaintext goes back to the
	// legitimate holder in the response that rotated it.
	NonceHash        string `json:"nonce_hash"`
	ConfirmNonceHash string `json:"confirm_nonce_hash,omitempty"`

	AutoBind   bool              `json:"auto_bind,omitempty"`
	DeviceInfo DeviceInfo        `json:"device_info"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	ScannedAt          *time.Time `json:"scanned_at,omitempty"`
	FinalizedAt        *time.Time `json:"finalized_at,omitempty"`
	LastNonceRotatedAt *time.Time `json:"last_nonce_rotated_at,omitempty"`

	CancelReason string       `json:"cancel_reason,omitempty"`
	UserInfo     *UserInfo    `json:"user_info,omitempty"`
	Ticket       *LoginTicket `json:"ticket,omitempty"`
}

// ExpiredBy reports whether the record's TTL has elapsed at the given time,
// independent of whether a sweep has converged the stored status yet.
func (s *Session) ExpiredBy(now time.Time) bool {
	return !s.Status.IsTerminal() && now.After(s.ExpiresAt)
}
