// internal/pkg/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter bounds abuse of the QR endpoints with fixed Redis windows.
type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// CheckInitAttempt checks if a browser may create another session.
// Allows up to 10 inits per 5 minutes per IP.
func (r *RateLimiter) CheckInitAttempt(ctx context.Context, ip string) (bool, int64, error) {
	key := fmt.Sprintf("ratelimit:qr:init:%s", ip)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment init attempt: %w", err)
	}

	// Set expiration on first attempt
	if count == 1 {
		r.client.Expire(ctx, key, 5*time.Minute)
	}

	maxAttempts := int64(10)
	remaining := maxAttempts - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= maxAttempts, remaining, nil
}

// CheckPollRate bounds status polling per session. The protocol polls every
// 2 seconds for 90 seconds, so 120 per 2 minutes leaves generous headroom
// without letting a foreign poller hammer the session.
func (r *RateLimiter) CheckPollRate(ctx context.Context, sessionID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:qr:poll:%s", sessionID)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment poll count: %w", err)
	}

	// Set expiration on first attempt
	if count == 1 {
		r.client.Expire(ctx, key, 2*time.Minute)
	}

	return count <= 120, nil
}

// CheckScanAttempt bounds payload redemptions per mobile IP.
// Allows up to 20 scans per 10 minutes.
func (r *RateLimiter) CheckScanAttempt(ctx context.Context, ip string) (bool, error) {
	key := fmt.Sprintf("ratelimit:qr:scan:%s", ip)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment scan attempt: %w", err)
	}

	// Set expiration on first attempt
	if count == 1 {
		r.client.Expire(ctx, key, 10*time.Minute)
	}

	return count <= 20, nil
}

// ResetInitAttempts clears the init window for an IP (used after a
// confirmed login so a legitimate user is never locked out).
func (r *RateLimiter) ResetInitAttempts(ctx context.Context, ip string) error {
	key := fmt.Sprintf("ratelimit:qr:init:%s", ip)
	return r.client.Del(ctx, key).Err()
}
