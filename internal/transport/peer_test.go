package transport

import "testing"

func TestPeerType(t *testing.T) {
	tests := []struct {
		id   int64
		want string
	}{
		{123456, "user"},
		{0, "user"},
		{-1001234567890, "channel"},
		{-100, "channel"},
		{-987654, "chat"},
		{-99, "chat"},
	}
	for _, tt := range tests {
		if got := PeerType(tt.id); got != tt.want {
			t.Errorf("PeerType(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestActiveMember(t *testing.T) {
	for _, status := range []string{"member", "administrator", "creator", "restricted"} {
		if !ActiveMember(status) {
			t.Errorf("ActiveMember(%q) = false", status)
		}
	}
	for _, status := range []string{"left", "kicked", "banned", ""} {
		if ActiveMember(status) {
			t.Errorf("ActiveMember(%q) = true", status)
		}
	}
}
