// internal/service/qrsession/roles.go
package qrsession

import (
	domain "qrlogin-service/internal/domain/qrsession"
)

// TypeMulti lets the scanning account pick any of its granted roles.
const TypeMulti = "multi"

// LoginModeGuest allows read-only access regardless of granted roles.
const LoginModeGuest = "guest"

// roleHierarchy orders roles highest privilege first; used to pick a
// fallback role for multi sessions.
var roleHierarchy = []string{"admin", "social_worker", "volunteer", "parent", "guest"}

// redirectMap maps the selected role to the landing path after login.
var redirectMap = map[string]string{
	"admin":         "/dashboard",
	"social_worker": "/patients",
	"volunteer":     "/tasks",
	"parent":        "/children",
	"guest":         "/public",
}

// ValidSessionType reports whether t is a known role or "multi".
func ValidSessionType(t string) bool {
	if t == TypeMulti {
		return true
	}
	for _, r := range roleHierarchy {
		if r == t {
			return true
		}
	}
	return false
}

// DetermineRole picks the role a confirmation logs in as. The granted role
// set is decided entirely by the identity provider and carried opaquely;
// this only chooses among it:
//   - multi sessions: the explicitly selected role if granted, otherwise
//     the highest granted role;
//   - typed sessions: the requested role if granted;
//   - guest login mode: always allowed as guest;
//   - otherwise the highest granted role, or "" when nothing matches.
func DetermineRole(granted []string, sessionType, selected, loginMode string) string {
	has := func(role string) bool {
		for _, r := range granted {
			if r == role {
				return true
			}
		}
		return false
	}

	if sessionType == TypeMulti {
		if selected != "" && has(selected) {
			return selected
		}
		for _, r := range roleHierarchy {
			if has(r) {
				return r
			}
		}
		return ""
	}

	if has(sessionType) {
		return sessionType
	}

	if loginMode == LoginModeGuest {
		return "guest"
	}

	for _, r := range roleHierarchy {
		if has(r) {
			return r
		}
	}
	return ""
}

// RedirectPath returns the landing path for a role.
func RedirectPath(role string) string {
	if p, ok := redirectMap[role]; ok {
		return p
	}
	return "/dashboard"
}

// StatusMessage is the user-facing message for each session state.
func StatusMessage(s domain.Status) string {
	switch s {
	case domain.StatusWaiting:
		return "waiting for scan"
	case domain.StatusScanned:
		return "scanned, waiting for confirmation"
	case domain.StatusConfirmed:
		return "login confirmed"
	case domain.StatusCancelled:
		return "login cancelled"
	case domain.StatusExpired:
		return "qr code expired"
	default:
		return "unknown status"
	}
}

// CancelReasonMessage maps a cancel reason code to a user-facing message.
func CancelReasonMessage(reason string) string {
	switch reason {
	case "user_cancelled":
		return "login cancelled by user"
	case "user_declined":
		return "login declined on mobile device"
	case "timeout":
		return "login timed out"
	case "security":
		return "login blocked by security check"
	default:
		return "login cancelled"
	}
}
