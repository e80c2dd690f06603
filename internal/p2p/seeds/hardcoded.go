package seeds

import (
	"context"
	"math/rand"
	"time"

	"github.com/empower1/empower1/internal/p2p/addrmgr"
	"github.com/empower1/empower1/internal/p2p/netkey"
)

// HardcodedSeed is the fallback seed list: a small list of long-lived,
// operator-trusted addresses injected only when the AddressBook is
// empty, each stamped with a random age of one to two weeks so real
// gossip is preferred as soon as it arrives.
type HardcodedSeed struct {
	Addresses []string // host:port
	rng       *rand.Rand
}

// NewHardcodedSeed builds the fallback source over a literal address
// list (typically loaded from a data file by the caller).
func NewHardcodedSeed(addresses []string) *HardcodedSeed {
	return &HardcodedSeed{
		Addresses: addresses,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (h *HardcodedSeed) Name() string { return "hardcoded" }

// Fetch parses every configured address and stamps it with a random
// LastSeen between one and two weeks in the past.
func (h *HardcodedSeed) Fetch(ctx context.Context) ([]addrmgr.PeerAddress, error) {
	const week = 7 * 24 * time.Hour
	now := time.Now()
	out := make([]addrmgr.PeerAddress, 0, len(h.Addresses))
	for _, raw := range h.Addresses {
		svc, err := netkey.ParseService(raw)
		if err != nil {
			continue
		}
		age := week + time.Duration(h.rng.Int63n(int64(week)))
		out = append(out, addrmgr.PeerAddress{
			Service:  svc,
			LastSeen: now.Add(-age).Unix(),
		})
	}
	return out, nil
}
