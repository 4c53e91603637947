// internal/domain/qrsession/dto.go
package qrsession

import "time"

// ========== Web (polling client) ==========

// InitRequest starts a new login session for the given role.
type InitRequest struct {
	Type       string            `json:"type"` // role to log in as, or "multi"
	DeviceInfo DeviceInfo        `json:"device_info"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	AutoBind   bool              `json:"auto_bind,omitempty"`
}

// InitResponse carries everything the client needs to render and poll.
type InitResponse struct {
	SessionID       string    `json:"session_id"`
	QRData          string    `json:"qr_data"` // opaque sealed payload
	Nonce           string    `json:"nonce"`
	ExpiresAt       time.Time `json:"expires_at"`
	ExpiresIn       int       `json:"expires_in"`       // seconds
	PollingInterval int       `json:"polling_interval"` // milliseconds
}

// StatusRequest polls the session with the most recently issued nonce.
type StatusRequest struct {
	SessionID string `json:"session_id"`
	Nonce     string `json:"nonce"`
}

// StatusResponse is the read-only projection the web client observes.
// Nonce is freshly rotated on every successful call; UserInfo and
// LoginTicket are set only when status is confirmed, and the ticket is
// handed out exactly once.
type StatusResponse struct {
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	Nonce       string    `json:"nonce"`
	UserInfo    *UserInfo `json:"user_info,omitempty"`
	LoginTicket string    `json:"login_ticket,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CancelRequest cancels a session that has not reached a terminal state.
type CancelRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"` // user_cancelled, timeout, security
}

// CancelResponse acknowledges the cancellation.
type CancelResponse struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// ========== Mobile (scanning app) ==========

// ScanRequest redeems a scanned QR payload.
type ScanRequest struct {
	QRData     string     `json:"qr_data"`
	DeviceInfo DeviceInfo `json:"device_info"`
}

// ScanResponse gives the mobile app the session projection plus a one-time
// confirm nonce it must echo on confirm.
type ScanResponse struct {
	SessionID     string     `json:"session_id"`
	Type          string     `json:"type"`
	Status        Status     `json:"status"`
	ConfirmNonce  string     `json:"confirm_nonce"`
	WebDeviceInfo DeviceInfo `json:"web_device_info"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// ScanningIdentity identifies the account confirming on the mobile side.
type ScanningIdentity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ConfirmRequest finalizes the login from the mobile app.
// GrantedRoles is the role set the identity provider allows this account
// to assume; the service carries it opaquely.
type ConfirmRequest struct {
	SessionID    string           `json:"session_id"`
	ConfirmNonce string           `json:"confirm_nonce"`
	Identity     ScanningIdentity `json:"identity"`
	GrantedRoles []string         `json:"granted_roles"`
	SelectedRole string           `json:"selected_role,omitempty"`
	LoginMode    string           `json:"login_mode,omitempty"`
}

// ConfirmResponse reports the confirmed identity back to the mobile app.
type ConfirmResponse struct {
	Confirmed bool      `json:"confirmed"`
	Message   string    `json:"message"`
	UserInfo  *UserInfo `json:"user_info"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DeclineRequest lets the mobile app reject the login.
type DeclineRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}
