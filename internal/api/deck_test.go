package api

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cheryl9/grantdeck/internal/deck"
	"github.com/cheryl9/grantdeck/internal/filter"
)

func TestCriteriaRequestToCriteria(t *testing.T) {
	t.Run("empty request keeps defaults", func(t *testing.T) {
		c, err := criteriaRequest{}.toCriteria()
		if err != nil {
			t.Fatalf("toCriteria failed: %v", err)
		}
		if c.FundingCeiling != filter.Unbounded {
			t.Errorf("expected an unbounded ceiling, got %f", c.FundingCeiling)
		}
		if c.Mode != filter.EligibilityLoose {
			t.Errorf("expected loose eligibility by default, got %v", c.Mode)
		}
	})

	t.Run("bounds and mode carried over", func(t *testing.T) {
		req := criteriaRequest{
			IssueAreas:      []string{"arts_culture"},
			FundingFloor:    5000,
			FundingCeiling:  80000,
			EligibilityMode: " EXACT ",
		}
		c, err := req.toCriteria()
		if err != nil {
			t.Fatalf("toCriteria failed: %v", err)
		}
		if c.FundingFloor != 5000 || c.FundingCeiling != 80000 {
			t.Errorf("unexpected funding bounds %f..%f", c.FundingFloor, c.FundingCeiling)
		}
		if c.Mode != filter.EligibilityExact {
			t.Errorf("expected exact mode, got %v", c.Mode)
		}
	})

	t.Run("negative bounds rejected", func(t *testing.T) {
		if _, err := (criteriaRequest{FundingFloor: -1}).toCriteria(); err == nil {
			t.Error("expected an error for a negative floor")
		}
		if _, err := (criteriaRequest{FundingCeiling: -1}).toCriteria(); err == nil {
			t.Error("expected an error for a negative ceiling")
		}
	})

	t.Run("unknown eligibility mode rejected", func(t *testing.T) {
		if _, err := (criteriaRequest{EligibilityMode: "strict"}).toCriteria(); err == nil {
			t.Error("expected an error for an unknown mode")
		}
	})
}

func TestDeckManagerOwnership(t *testing.T) {
	m := newDeckManager(time.Minute)
	owner := uuid.New()
	stranger := uuid.New()

	sess := &deckSession{ID: "sess-1", UserID: owner, CreatedAt: time.Now()}
	m.add(sess)

	if _, ok := m.get("sess-1", owner); !ok {
		t.Fatal("owner should see their session")
	}
	if _, ok := m.get("sess-1", stranger); ok {
		t.Fatal("a foreign session must look missing")
	}
	if _, ok := m.get("no-such-session", owner); ok {
		t.Fatal("unknown ids must look missing")
	}

	if m.remove("sess-1", stranger) {
		t.Fatal("a stranger must not be able to close the session")
	}
	if !m.remove("sess-1", owner) {
		t.Fatal("the owner should be able to close the session")
	}
	if _, ok := m.get("sess-1", owner); ok {
		t.Fatal("a removed session must be gone")
	}
}

func TestDeckManagerEvictIdle(t *testing.T) {
	// Built directly so no janitor goroutine races the test.
	m := &deckManager{ttl: time.Minute, sessions: make(map[string]*deckSession)}
	owner := uuid.New()

	m.add(&deckSession{ID: "stale", UserID: owner})
	m.add(&deckSession{ID: "fresh", UserID: owner})
	m.sessions["stale"].lastUsed = time.Now().Add(-2 * time.Minute)

	m.evictIdle()

	if _, ok := m.get("stale", owner); ok {
		t.Error("idle session should have been evicted")
	}
	if _, ok := m.get("fresh", owner); !ok {
		t.Error("active session should survive eviction")
	}

	// A lookup refreshes the idle clock, so a touched session survives the
	// next sweep.
	m.sessions["fresh"].lastUsed = time.Now().Add(-2 * time.Minute)
	m.get("fresh", owner)
	m.evictIdle()
	if _, ok := m.get("fresh", owner); !ok {
		t.Error("a touched session should not be evicted")
	}
}

func TestDeckJSON(t *testing.T) {
	snap := deck.Snapshot{State: deck.StateReady, Remaining: 4, Accepted: 2, Decided: 5}
	resp := deckJSON("sess-9", snap)

	if resp["id"] != "sess-9" || resp["state"] != "ready" {
		t.Errorf("unexpected response %+v", resp)
	}
	if _, present := resp["error"]; present {
		t.Error("no error key expected for a healthy snapshot")
	}

	snap = deck.Snapshot{State: deck.StateError, Err: errors.New("candidate fetch failed")}
	resp = deckJSON("sess-9", snap)
	if resp["state"] != "error" {
		t.Errorf("unexpected state %v", resp["state"])
	}
	if resp["error"] == "" || resp["error"] == nil {
		t.Error("expected the load error surfaced")
	}
}

func TestIsPrivateOrSpecialIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.9", true},
		{"192.168.1.1", true},
		{"169.254.10.10", true},
		{"100.64.0.1", true},
		{"100.127.255.254", true},
		{"0.0.0.0", true},
		{"224.0.0.1", true},
		{"::1", true},
		{"fe80::1", true},
		{"100.63.255.255", false},
		{"100.128.0.1", false},
		{"8.8.8.8", false},
		{"203.0.113.10", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := isPrivateOrSpecialIP(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("isPrivateOrSpecialIP(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}

	if !isPrivateOrSpecialIP(nil) {
		t.Error("a nil IP must be treated as special")
	}
}
