package addrmgr

import (
	"strconv"
	"testing"
	"time"

	"github.com/empower1/empower1/internal/p2p/netkey"
)

func mustService(t *testing.T, s string) netkey.Service {
	t.Helper()
	svc, err := netkey.ParseService(s)
	if err != nil {
		t.Fatalf("ParseService(%q): %v", s, err)
	}
	return svc
}

func TestAddMergesAndRaisesLastSeen(t *testing.T) {
	local := mustService(t, "127.0.0.1:8333")
	ab := New(local)
	source := mustService(t, "198.51.100.1:8333").Addr

	svc := mustService(t, "203.0.113.5:8333")
	n1 := ab.Add([]PeerAddress{{Service: svc, LastSeen: 100}}, source)
	if n1 != 1 {
		t.Fatalf("expected 1 insertion, got %d", n1)
	}
	n2 := ab.Add([]PeerAddress{{Service: svc, LastSeen: 50}}, source)
	if n2 != 0 {
		t.Fatalf("expected 0 new insertions on duplicate, got %d", n2)
	}

	snap := ab.Snapshot()
	if len(snap) != 1 || snap[0].LastSeen != 100 {
		t.Fatalf("expected LastSeen to stay at max(100,50)=100, got %+v", snap)
	}

	ab.Add([]PeerAddress{{Service: svc, LastSeen: 200}}, source)
	snap = ab.Snapshot()
	if snap[0].LastSeen != 200 {
		t.Fatalf("expected LastSeen to rise to 200, got %d", snap[0].LastSeen)
	}
}

func TestAddNeverInsertsLocal(t *testing.T) {
	local := mustService(t, "127.0.0.1:8333")
	ab := New(local)
	source := mustService(t, "198.51.100.1:8333").Addr

	n := ab.Add([]PeerAddress{{Service: local}}, source)
	if n != 0 || ab.Size() != 0 {
		t.Fatalf("expected local address never inserted, got n=%d size=%d", n, ab.Size())
	}
}

func TestGoodPromotesToTried(t *testing.T) {
	local := mustService(t, "127.0.0.1:8333")
	ab := New(local)
	source := mustService(t, "198.51.100.1:8333").Addr
	svc := mustService(t, "203.0.113.6:8333")

	ab.Add([]PeerAddress{{Service: svc, LastSeen: 1}}, source)
	ab.Attempt(svc)
	ab.Good(svc)

	e, ok := ab.index[svc.Key()]
	if !ok {
		t.Fatal("expected entry to still be indexed after promotion")
	}
	if !e.tried {
		t.Fatal("expected entry promoted into tried pool")
	}
	if e.AttemptCount != 0 {
		t.Fatalf("expected AttemptCount reset to 0, got %d", e.AttemptCount)
	}
	if e.SuccessCount != 1 {
		t.Fatalf("expected SuccessCount 1, got %d", e.SuccessCount)
	}
}

func TestSelectNeverReturnsLocalOrEmptyBook(t *testing.T) {
	local := mustService(t, "127.0.0.1:8333")
	ab := New(local)

	if _, err := ab.Select(50); err != ErrEmptyBook {
		t.Fatalf("expected ErrEmptyBook on empty book, got %v", err)
	}

	source := mustService(t, "198.51.100.1:8333").Addr
	for i := 0; i < 20; i++ {
		svc := mustService(t, "203.0.113."+strconv.Itoa(i)+":8333")
		ab.Add([]PeerAddress{{Service: svc, LastSeen: time.Now().Unix()}}, source)
	}
	for i := 0; i < 50; i++ {
		cand, err := ab.Select(80)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if cand.Service.Equal(local) {
			t.Fatal("Select returned the local service")
		}
	}
}

func TestChanceDecaysWithAgeAndAttempts(t *testing.T) {
	now := time.Now().Unix()
	fresh := &PeerAddress{LastSeen: now}
	stale := &PeerAddress{LastSeen: now - 3600}
	if chance(stale, now) >= chance(fresh, now) {
		t.Fatal("expected a stale entry to have lower chance than a fresh one")
	}

	noAttempts := &PeerAddress{LastSeen: now}
	manyAttempts := &PeerAddress{LastSeen: now, AttemptCount: 10}
	if chance(manyAttempts, now) >= chance(noAttempts, now) {
		t.Fatal("expected repeated failed attempts to lower chance")
	}
}

