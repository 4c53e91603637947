package qrsession

import (
	"testing"
	"time"
)

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusWaiting, false},
		{StatusScanned, false},
		{StatusConfirmed, true},
		{StatusCancelled, true},
		{StatusExpired, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatusCanTransitionTo(t *testing.T) {
	all := []Status{StatusWaiting, StatusScanned, StatusConfirmed, StatusCancelled, StatusExpired}

	allowed := map[Status][]Status{
		StatusWaiting: {StatusScanned, StatusConfirmed, StatusCancelled, StatusExpired},
		StatusScanned: {StatusConfirmed, StatusCancelled, StatusExpired},
	}

	for _, from := range all {
		permitted := map[Status]bool{}
		for _, to := range allowed[from] {
			permitted[to] = true
		}
		for _, to := range all {
			got := from.CanTransitionTo(to)
			if got != permitted[to] {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, permitted[to])
			}
		}
	}
}

func TestNoTransitionRevisitsWaiting(t *testing.T) {
	for _, from := range []Status{StatusWaiting, StatusScanned, StatusConfirmed, StatusCancelled, StatusExpired} {
		if from.CanTransitionTo(StatusWaiting) {
			t.Errorf("%s must not transition back to waiting", from)
		}
	}
}

func TestSessionExpiredBy(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		status  Status
		expires time.Time
		want    bool
	}{
		{"waiting before ttl", StatusWaiting, now.Add(time.Minute), false},
		{"waiting past ttl", StatusWaiting, now.Add(-time.Second), true},
		{"scanned past ttl", StatusScanned, now.Add(-time.Second), true},
		{"confirmed past ttl", StatusConfirmed, now.Add(-time.Second), false},
		{"cancelled past ttl", StatusCancelled, now.Add(-time.Second), false},
		{"expired past ttl", StatusExpired, now.Add(-time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{Status: tt.status, ExpiresAt: tt.expires}
			if got := s.ExpiredBy(now); got != tt.want {
				t.Errorf("ExpiredBy = %v, want %v", got, tt.want)
			}
		})
	}
}
