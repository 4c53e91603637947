// internal/pkg/jwt/claims.go
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// TicketClaims are the claims of a one-time login ticket. The jti is the
// one-time handle: the session store marks it consumed on first exchange.
type TicketClaims struct {
	UID          string   `json:"uid"`
	SessionID    string   `json:"session_id"`
	SelectedRole string   `json:"selected_role"`
	GrantedRoles []string `json:"granted_roles,omitempty"`
	LoginMode    string   `json:"login_mode,omitempty"`
	Purpose      string   `json:"purpose"` // always "qr_login_ticket"
	jwt.RegisteredClaims
}

// HasRole checks if the claims carry a specific granted role
func (c *TicketClaims) HasRole(role string) bool {
	for _, r := range c.GrantedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// VerifyAudience checks if the expected audience is listed in the claims.
func (c *TicketClaims) VerifyAudience(audience string, required bool) bool {
	if len(c.Audience) == 0 {
		// If audience is required but missing
		return !required
	}

	for _, aud := range c.Audience {
		if aud == audience {
			return true
		}
	}

	return false
}
