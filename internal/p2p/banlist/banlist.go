// Package banlist implements the process-wide BanList: a time-bounded
// NetAddress -> expiry mapping. Misbehaviour scoring itself lives on the
// Node (internal/p2p.Node.Misbehaving); this package only tracks the
// resulting ban.
package banlist

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/empower1/empower1/internal/p2p/netkey"
)

// Entry is a single ban record, exposed for the operator-facing dashboard
// supplement (net.cpp's ban list display).
type Entry struct {
	Addr   netkey.NetAddress
	Expiry int64 // unix seconds
}

// BanList is a concurrency-safe NetAddress -> expiry mapping. An address is
// banned iff now < expiry. Bans are process-wide.
type BanList struct {
	mu     sync.Mutex
	expiry map[string]int64
	logger *log.Logger
}

// New creates an empty BanList.
func New() *BanList {
	return &BanList{
		expiry: make(map[string]int64),
		logger: log.New(os.Stdout, "BANLIST: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// Ban sets addr's expiry to max(existing_expiry, now+duration).
func (b *BanList) Ban(addr netkey.NetAddress, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := addr.String()
	newExpiry := time.Now().Add(duration).Unix()
	if cur, ok := b.expiry[key]; ok && cur > newExpiry {
		newExpiry = cur
	}
	b.expiry[key] = newExpiry
	b.logger.Printf("banned %s until unix %d", key, newExpiry)
}

// IsBanned reports whether now < expiry for addr.
func (b *BanList) IsBanned(addr netkey.NetAddress) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	expiry, ok := b.expiry[addr.String()]
	if !ok {
		return false
	}
	return time.Now().Unix() < expiry
}

// Clear removes every ban entry.
func (b *BanList) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expiry = make(map[string]int64)
}

// Unban removes a single entry (operator-facing supplement alongside the
// dashboard listing below).
func (b *BanList) Unban(addr netkey.NetAddress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.expiry, addr.String())
}

// Snapshot returns every ban entry held, expired ones included
// (callers that only want active bans should filter by Expiry against
// time.Now()). Used by the operator dashboard supplement.
func (b *BanList) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, 0, len(b.expiry))
	for k, exp := range b.expiry {
		addr, err := netkey.ParseNetAddress(k)
		if err != nil {
			continue
		}
		out = append(out, Entry{Addr: addr, Expiry: exp})
	}
	return out
}

// Sweep removes expired entries so the map does not keep them. Nothing
// in the core calls it on a schedule; IsBanned already treats an expired
// entry as not banned.
func (b *BanList) Sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now().Unix()
	for k, exp := range b.expiry {
		if now >= exp {
			delete(b.expiry, k)
		}
	}
}
