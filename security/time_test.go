package security

import (
	"testing"
	"time"
)

func TestNeedsRefresh(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"expires in one hour", now.Add(time.Hour), false},
		{"expires in 61 seconds", now.Add(61 * time.Second), false},
		{"expires in exactly 60 seconds", now.Add(60 * time.Second), true},
		{"expires in 30 seconds", now.Add(30 * time.Second), true},
		{"already expired", now.Add(-10 * time.Second), true},
		{"zero time", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsRefresh(tt.expiresAt, now, DefaultRefreshSkew); got != tt.want {
				t.Errorf("NeedsRefresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"future", now.Add(time.Second), false},
		{"now", now, true},
		{"past", now.Add(-time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.expiresAt, now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}
