// internal/domain/audit/entity.go
package audit

import (
	"time"
)

// Action values recorded for the QR login flow.
const (
	ActionInit          = "qr_init"
	ActionScan          = "qr_scan"
	ActionConfirm       = "qr_confirm"
	ActionDecline       = "qr_decline"
	ActionCancel        = "qr_cancel"
	ActionExpire        = "qr_expire"
	ActionNonceMismatch = "qr_nonce_mismatch"
	ActionTicketIssued  = "qr_ticket_issued"
)

// Event is one audit record of the QR login flow. Device metadata is kept
// for anomaly detection; it never feeds an authorization decision.
type Event struct {
	ID        string            `json:"id" db:"id"`
	Action    string            `json:"action" db:"action"`
	SessionID string            `json:"session_id" db:"session_id"`
	UserID    string            `json:"user_id,omitempty" db:"user_id"`
	Role      string            `json:"role,omitempty" db:"role"`
	Roles     []string          `json:"roles,omitempty" db:"roles"`
	Success   bool              `json:"success" db:"success"`
	IPAddress string            `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string            `json:"user_agent,omitempty" db:"user_agent"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
