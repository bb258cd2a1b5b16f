package sharing

import (
	"testing"
	"time"

	"github.com/Kief5555/fileserver/internal/files"
)

func TestExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry", nil, false},
		{"future expiry", &future, false},
		{"past expiry", &past, true},
	}
	for _, tt := range tests {
		link := &ShareLink{ExpiresAt: tt.expiresAt}
		if got := link.Expired(now); got != tt.want {
			t.Errorf("%s: Expired = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCheckPassword(t *testing.T) {
	open := &ShareLink{}
	locked := &ShareLink{Password: "hunter2"}

	if !open.CheckPassword("") || !open.CheckPassword("anything") {
		t.Error("passwordless link should accept any supplied password")
	}
	if !locked.CheckPassword("hunter2") {
		t.Error("correct password rejected")
	}
	if locked.CheckPassword("") || locked.CheckPassword("wrong") {
		t.Error("wrong password accepted")
	}
}

func TestRevocableBy(t *testing.T) {
	creator := 7
	anonymousLink := &ShareLink{}
	ownedLink := &ShareLink{CreatedBy: &creator}

	owner := &files.Actor{UserID: 7}
	other := &files.Actor{UserID: 8}
	admin := &files.Actor{UserID: 9, IsAdmin: true}

	tests := []struct {
		name  string
		link  *ShareLink
		actor *files.Actor
		want  bool
	}{
		{"anonymous link, no session", anonymousLink, nil, true},
		{"anonymous link, any session", anonymousLink, other, true},
		{"owned link, no session", ownedLink, nil, false},
		{"owned link, creator", ownedLink, owner, true},
		{"owned link, other user", ownedLink, other, false},
		{"owned link, admin", ownedLink, admin, true},
	}
	for _, tt := range tests {
		if got := tt.link.RevocableBy(tt.actor); got != tt.want {
			t.Errorf("%s: RevocableBy = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGenerateShortID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := generateShortID()
		if err != nil {
			t.Fatalf("generateShortID: %v", err)
		}
		// 8 random bytes base64url-encoded without padding.
		if len(id) != 11 {
			t.Fatalf("id %q has length %d, want 11", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
