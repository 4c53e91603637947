package xerrors

import (
	"errors"
	"fmt"
)

// Protocol and infrastructure faults of the QR login handshake
var (
	ErrNotFound             = errors.New("session not found")
	ErrNonceMismatch        = errors.New("nonce mismatch")
	ErrAlreadyFinalized     = errors.New("session already finalized")
	ErrStorageUnavailable   = errors.New("session storage unavailable")
	ErrTicketExchangeFailed = errors.New("login ticket exchange failed")
	ErrSessionExpired       = errors.New("session expired")
	ErrInvalidPayload       = errors.New("invalid qr payload")
	ErrInvalidInput         = errors.New("invalid input")
	ErrRoleNotAllowed       = errors.New("role not allowed for this account")
	ErrRateLimited          = errors.New("too many requests")
	ErrRefreshExhausted     = errors.New("auto-refresh limit reached")
	ErrInternal             = errors.New("internal server error")
)

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Unwrap extracts the underlying wrapped error.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// IsProtocolFault reports whether err is one of the protocol faults the
// polling client must never retry past its normal refresh bound.
func IsProtocolFault(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNonceMismatch) ||
		errors.Is(err, ErrAlreadyFinalized)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
