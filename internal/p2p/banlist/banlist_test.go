package banlist

import (
	"testing"
	"time"

	"github.com/empower1/empower1/internal/p2p/netkey"
)

func mustAddr(t *testing.T, s string) netkey.NetAddress {
	t.Helper()
	addr, err := netkey.ParseNetAddress(s)
	if err != nil {
		t.Fatalf("ParseNetAddress(%q): %v", s, err)
	}
	return addr
}

func TestBanAndIsBanned(t *testing.T) {
	bl := New()
	addr := mustAddr(t, "203.0.113.9")

	if bl.IsBanned(addr) {
		t.Fatal("expected address not banned before Ban")
	}
	bl.Ban(addr, time.Hour)
	if !bl.IsBanned(addr) {
		t.Fatal("expected address banned after Ban")
	}
}

func TestBanNeverShortensExistingBan(t *testing.T) {
	bl := New()
	addr := mustAddr(t, "203.0.113.10")

	bl.Ban(addr, 24*time.Hour)
	longExpiry := bl.expiry[addr.String()]

	bl.Ban(addr, time.Minute)
	if bl.expiry[addr.String()] != longExpiry {
		t.Fatal("expected a shorter re-ban not to shorten the existing expiry")
	}
}

func TestUnbanRemovesEntry(t *testing.T) {
	bl := New()
	addr := mustAddr(t, "203.0.113.11")
	bl.Ban(addr, time.Hour)
	bl.Unban(addr)
	if bl.IsBanned(addr) {
		t.Fatal("expected address unbanned")
	}
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	bl := New()
	addr := mustAddr(t, "203.0.113.12")
	bl.Ban(addr, -time.Second) // already expired

	bl.Sweep()
	if _, ok := bl.expiry[addr.String()]; ok {
		t.Fatal("expected Sweep to remove the expired entry")
	}
}

func TestClearRemovesAllEntries(t *testing.T) {
	bl := New()
	bl.Ban(mustAddr(t, "203.0.113.13"), time.Hour)
	bl.Ban(mustAddr(t, "203.0.113.14"), time.Hour)
	bl.Clear()
	if len(bl.Snapshot()) != 0 {
		t.Fatal("expected Clear to remove all entries")
	}
}
