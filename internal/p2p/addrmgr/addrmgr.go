// Package addrmgr implements the peer table: a concurrency-safe address
// book with quality tracking and biased random
// selection, bucketed the way btcd/btcutil-family address managers are
// (grounded on the PKT-FullNode addrmgr fork kept in this corpus) to resist
// one source flooding the book and to cap memory.
package addrmgr

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/empower1/empower1/internal/p2p/netkey"
)

// --- Errors ---
var (
	ErrEmptyBook    = errors.New("addrmgr: address book is empty")
	ErrNoCandidate  = errors.New("addrmgr: no candidate survived selection")
)

const (
	// newBucketCount/triedBucketCount mirror the btcd-family address
	// manager's split of the address space into many small buckets so an
	// eclipse attacker flooding one source/group can only dominate a
	// handful of buckets, never the whole book.
	newBucketCount   = 256
	triedBucketCount = 64

	newBucketSize   = 64
	triedBucketSize = 64

	// Cap on the attempt count used as the exponent of chance()'s
	// failed-attempt penalty.
	maxAttemptsBeforeStale = 10
)

// PeerAddress is a single AddressBook entry.
type PeerAddress struct {
	Service      netkey.Service
	Services     uint64
	LastSeen     int64 // unix seconds, monotonically non-decreasing on success
	LastTry      int64
	AttemptCount uint32
	SuccessCount uint32

	sourceGroup string
	tried       bool
}

// Snapshot is the durable projection of a PeerAddress (mirrors
// p2p.PeerAddressSnapshot without importing the parent package, which
// would create an import cycle since p2p imports addrmgr).
type Snapshot struct {
	Service      netkey.Service
	SourceGroup  string
	Services     uint64
	LastSeen     int64
	LastTry      int64
	AttemptCount uint32
	SuccessCount uint32
}

type bucket struct {
	entries map[string]*PeerAddress
}

func newBucket() *bucket { return &bucket{entries: make(map[string]*PeerAddress)} }

// AddressBook is the Peer Table: a mapping Service -> PeerAddress, bucketed
// by (group(addr), group(source)) for "new" entries and by group(addr) for
// "tried" (previously successful) entries. At most one entry exists per
// Service.
type AddressBook struct {
	mu sync.Mutex

	local netkey.Service

	index map[string]*PeerAddress // Service.Key() -> entry, single source of truth
	newBuckets   [newBucketCount]*bucket
	triedBuckets [triedBucketCount]*bucket

	rng    *rand.Rand
	logger *log.Logger
}

// New creates an empty AddressBook. local is never returned by Select and
// is never inserted by Add.
func New(local netkey.Service) *AddressBook {
	ab := &AddressBook{
		local:  local,
		index:  make(map[string]*PeerAddress),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: log.New(os.Stdout, "ADDRMGR: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
	for i := range ab.newBuckets {
		ab.newBuckets[i] = newBucket()
	}
	for i := range ab.triedBuckets {
		ab.triedBuckets[i] = newBucket()
	}
	return ab
}

func newBucketIndex(addrGroup, srcGroup string) int {
	h := fnv32(addrGroup + "|" + srcGroup)
	return int(h % newBucketCount)
}

func triedBucketIndex(addrGroup string) int {
	h := fnv32(addrGroup)
	return int(h % triedBucketCount)
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h *= prime32
		h ^= uint32(s[i])
	}
	return h
}

// Add merges addrs into the book, attributing them to source. Returns the
// count of genuinely new insertions. Existing entries have LastSeen raised
// to the max of old/new, never allowed to move backward.
func (ab *AddressBook) Add(addrs []PeerAddress, source netkey.NetAddress) int {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	inserted := 0
	srcGroup := source.Group()
	for _, incoming := range addrs {
		if incoming.Service.Equal(ab.local) {
			continue
		}
		key := incoming.Service.Key()
		if existing, ok := ab.index[key]; ok {
			if incoming.LastSeen > existing.LastSeen {
				existing.LastSeen = incoming.LastSeen
			}
			if incoming.Services != 0 {
				existing.Services = incoming.Services
			}
			continue
		}

		entry := incoming
		entry.sourceGroup = srcGroup
		idx := newBucketIndex(incoming.Service.Group(), srcGroup)
		b := ab.newBuckets[idx]
		if len(b.entries) >= newBucketSize {
			ab.evictFromBucket(b)
		}
		b.entries[key] = &entry
		ab.index[key] = &entry
		inserted++
	}
	return inserted
}

// evictFromBucket removes one entry from an over-full bucket: the entry
// with the highest score, where score is seconds since last_seen minus
// one hour per success_count. The choice is deterministic, not random.
func (ab *AddressBook) evictFromBucket(b *bucket) {
	var worstKey string
	var worstScore float64 = math.Inf(-1)
	now := time.Now().Unix()
	for k, e := range b.entries {
		age := float64(now - e.LastSeen)
		score := age - float64(e.SuccessCount)*3600
		if score > worstScore {
			worstScore = score
			worstKey = k
		}
	}
	if worstKey != "" {
		delete(b.entries, worstKey)
		delete(ab.index, worstKey)
	}
}

// Good marks a successful handshake: resets AttemptCount, bumps
// SuccessCount, raises LastSeen, and promotes the entry into the tried
// pool (removing it from its new bucket).
func (ab *AddressBook) Good(svc netkey.Service) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	e, ok := ab.index[svc.Key()]
	if !ok {
		return
	}
	now := time.Now().Unix()
	e.AttemptCount = 0
	e.SuccessCount++
	if now > e.LastSeen {
		e.LastSeen = now
	}
	ab.promoteToTried(e)
}

func (ab *AddressBook) promoteToTried(e *PeerAddress) {
	if e.tried {
		return
	}
	key := e.Service.Key()
	newIdx := newBucketIndex(e.Service.Group(), e.sourceGroup)
	delete(ab.newBuckets[newIdx].entries, key)

	triedIdx := triedBucketIndex(e.Service.Group())
	tb := ab.triedBuckets[triedIdx]
	if len(tb.entries) >= triedBucketSize {
		ab.evictFromBucket(tb)
	}
	e.tried = true
	tb.entries[key] = e
}

// Attempt records a dial attempt: sets LastTry to now and increments
// AttemptCount.
func (ab *AddressBook) Attempt(svc netkey.Service) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	e, ok := ab.index[svc.Key()]
	if !ok {
		return
	}
	e.LastTry = time.Now().Unix()
	e.AttemptCount++
}

// Connected refreshes LastSeen while a connection stays up.
func (ab *AddressBook) Connected(svc netkey.Service) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	e, ok := ab.index[svc.Key()]
	if !ok {
		return
	}
	now := time.Now().Unix()
	if now > e.LastSeen {
		e.LastSeen = now
	}
}

// Size returns the total number of entries in the book.
func (ab *AddressBook) Size() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.index)
}

// Select returns a random candidate, tilted between the tried and new
// pools by unknownBias (0-100; higher favors the new/unverified pool).
// Never returns an entry equal to local. Selection is a pure function of
// current state plus an RNG draw.
func (ab *AddressBook) Select(unknownBias uint8) (PeerAddress, error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if len(ab.index) == 0 {
		return PeerAddress{}, ErrEmptyBook
	}
	if unknownBias > 100 {
		unknownBias = 100
	}

	wantNew := ab.rng.Intn(100) < int(unknownBias)
	entry := ab.pickWeighted(wantNew)
	if entry == nil {
		entry = ab.pickWeighted(!wantNew)
	}
	if entry == nil {
		return PeerAddress{}, ErrNoCandidate
	}
	return *entry, nil
}

// pickWeighted draws from the tried pool (wantNew=false) or new pool
// (wantNew=true), weighting candidates by a quality score roughly
// proportional to recency of LastSeen and inversely proportional to
// AttemptCount since the last success.
func (ab *AddressBook) pickWeighted(wantNew bool) *PeerAddress {
	var candidates []*PeerAddress
	if wantNew {
		for _, b := range ab.newBuckets {
			for _, e := range b.entries {
				candidates = append(candidates, e)
			}
		}
	} else {
		for _, b := range ab.triedBuckets {
			for _, e := range b.entries {
				candidates = append(candidates, e)
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	now := time.Now().Unix()
	weights := make([]float64, len(candidates))
	var total float64
	for i, e := range candidates {
		weights[i] = chance(e, now)
		total += weights[i]
	}
	if total <= 0 {
		return candidates[ab.rng.Intn(len(candidates))]
	}
	r := ab.rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

// chance computes a btcd-style selection weight: decays with the age of
// LastSeen and with repeated failed attempts since the last success.
func chance(e *PeerAddress, now int64) float64 {
	age := float64(now - e.LastSeen)
	if age < 0 {
		age = 0
	}
	c := 600.0 / (600.0 + age)
	if e.AttemptCount > 0 {
		attempts := float64(e.AttemptCount)
		if attempts > maxAttemptsBeforeStale {
			attempts = maxAttemptsBeforeStale
		}
		c *= math.Pow(0.66, attempts)
	}
	if c <= 0 {
		c = 0.0001
	}
	return c
}

// Snapshot returns every entry for persistence.
func (ab *AddressBook) Snapshot() []Snapshot {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	out := make([]Snapshot, 0, len(ab.index))
	for _, e := range ab.index {
		out = append(out, Snapshot{
			Service:      e.Service,
			SourceGroup:  e.sourceGroup,
			Services:     e.Services,
			LastSeen:     e.LastSeen,
			LastTry:      e.LastTry,
			AttemptCount: e.AttemptCount,
			SuccessCount: e.SuccessCount,
		})
	}
	return out
}

// LoadSnapshot repopulates the book at startup.
func (ab *AddressBook) LoadSnapshot(entries []Snapshot) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	for _, s := range entries {
		if s.Service.Equal(ab.local) {
			continue
		}
		entry := &PeerAddress{
			Service:      s.Service,
			Services:     s.Services,
			LastSeen:     s.LastSeen,
			LastTry:      s.LastTry,
			AttemptCount: s.AttemptCount,
			SuccessCount: s.SuccessCount,
			sourceGroup:  s.SourceGroup,
		}
		key := entry.Service.Key()
		ab.index[key] = entry
		if entry.SuccessCount > 0 {
			entry.tried = false // re-derive tried placement below
			ab.promoteToTried(entry)
		} else {
			idx := newBucketIndex(entry.Service.Group(), entry.sourceGroup)
			ab.newBuckets[idx].entries[key] = entry
		}
	}
	ab.logger.Printf("loaded %d addresses from persistence", len(entries))
}

// NeedsAddresses reports whether the book is below the threshold used to
// decide whether the Connection Manager should fall back to seed sources
//.
func (ab *AddressBook) NeedsAddresses() bool {
	return ab.Size() == 0
}

func (ab *AddressBook) String() string {
	return fmt.Sprintf("AddressBook{entries=%d}", ab.Size())
}
