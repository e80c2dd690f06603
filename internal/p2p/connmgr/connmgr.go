// Package connmgr implements the Connection Manager: an outbound dialer
// loop honouring per-/16 group diversity and the outbound cap, an
// Added-peers loop that redials operator-forced peers (net.cpp's
// setservAddNodeAddresses/ThreadOpenAddedConnections2), connect-only
// mode, and the empty-AddressBook hardcoded-seed fallback (net.cpp's
// "Add seed nodes if IRC isn't working" cold start in
// ThreadOpenConnections2). Grounded on this corpus's cruzbit
// peer_manager.go and phore connmgr.go for the dialer shape (sleep/
// recheck loop around a bounded Select+dial), adapted to the
// AddressBook/BanList/NetContext model here.
package connmgr

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"time"

	"github.com/empower1/empower1/internal/p2p"
	"github.com/empower1/empower1/internal/p2p/addrmgr"
	"github.com/empower1/empower1/internal/p2p/seeds"
)

const (
	outboundRecheckDelay = 2 * time.Second
	addedPeersInterval   = 2 * time.Minute
	dialTimeout          = 10 * time.Second
	groupRejectBudget    = 30
	portRejectBudget     = 50
	seedInjectDelay      = 60 * time.Second
)

// Dialer is the subset of net.Dialer the Connection Manager needs; tests
// substitute a fake to avoid real sockets.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ConnMgr drives outbound dialing and the added-peers sweep against a
// shared *p2p.NetContext.
type ConnMgr struct {
	ctx       *p2p.NetContext
	dialer    Dialer
	magic     p2p.Magic
	hardcoded seeds.Source
	logger    *log.Logger
	startAt   time.Time

	seeded bool
}

// New builds a Connection Manager. dialer is typically a *net.Dialer.
// hardcoded is the fallback seed source injected once the AddressBook is
// empty (typically a *seeds.HardcodedSeed); it may be nil to disable the
// fallback entirely.
func New(nc *p2p.NetContext, dialer Dialer, magic p2p.Magic, hardcoded seeds.Source) *ConnMgr {
	return &ConnMgr{
		ctx:       nc,
		dialer:    dialer,
		magic:     magic,
		hardcoded: hardcoded,
		logger:    log.New(os.Stdout, "CONNMGR: ", log.Ldate|log.Ltime|log.Lshortfile),
		startAt:   time.Now(),
	}
}

// Run drives the outbound dialer loop until ctx is
// cancelled or the context's shutdown flag is observed. In connect-only
// mode (cfg.Connect non-empty) this loop dials only those targets and
// never consults the AddressBook.
func (cm *ConnMgr) Run(ctx context.Context) error {
	release := cm.ctx.Track("connmgr")
	defer release()

	if cm.ctx.Config.ConnectOnly() {
		return cm.runConnectOnly(ctx)
	}

	for {
		if ctx.Err() != nil || cm.ctx.IsShuttingDown() {
			return nil
		}

		outbound, _ := cm.ctx.NodeCount()
		cap := int(cm.ctx.Config.OutboundCap())
		if outbound >= cap {
			if !cm.sleepOrDone(ctx, outboundRecheckDelay) {
				return nil
			}
			continue
		}

		cm.maybeSeed(ctx)

		target, ok := cm.selectCandidate(outbound)
		if ok {
			cm.openOutbound(ctx, target.Service)
		}

		if !cm.sleepOrDone(ctx, outboundRecheckDelay) {
			return nil
		}
	}
}

// runConnectOnly dials exactly the operator-supplied Connect list,
// redialing any target that drops, and never touches the AddressBook
//.
func (cm *ConnMgr) runConnectOnly(ctx context.Context) error {
	for {
		if ctx.Err() != nil || cm.ctx.IsShuttingDown() {
			return nil
		}
		for _, raw := range cm.ctx.Config.Connect {
			svc, err := p2p.ParseService(raw)
			if err != nil {
				cm.logger.Printf("invalid connect= target %q: %v", raw, err)
				continue
			}
			if _, live := cm.ctx.FindNode(svc); !live {
				cm.openOutbound(ctx, svc)
			}
		}
		if !cm.sleepOrDone(ctx, addedPeersInterval) {
			return nil
		}
	}
}

// RunAddedPeers is the Added-peers loop: it redials every service in
// cfg.AddNode not currently connected, every two minutes.
func (cm *ConnMgr) RunAddedPeers(ctx context.Context) error {
	release := cm.ctx.Track("addedpeers")
	defer release()
	for {
		if ctx.Err() != nil || cm.ctx.IsShuttingDown() {
			return nil
		}
		for _, raw := range cm.ctx.Config.AddNode {
			svc, err := p2p.ParseService(raw)
			if err != nil {
				cm.logger.Printf("invalid addnode= target %q: %v", raw, err)
				continue
			}
			if _, live := cm.ctx.FindNode(svc); !live {
				cm.openOutbound(ctx, svc)
			}
		}
		if !cm.sleepOrDone(ctx, addedPeersInterval) {
			return nil
		}
	}
}

// maybeSeed injects the hardcoded seed list once, if the AddressBook is
// empty and either enough time has passed since start or a proxy is
// configured (net.cpp's "Add seed nodes if IRC isn't working": addrman
// empty and GetTime()-nStart > 60, or fTOR). The actual seed data lives in
// package seeds; ConnMgr only decides when to ask for it.
func (cm *ConnMgr) maybeSeed(ctx context.Context) {
	if cm.seeded || cm.hardcoded == nil || !cm.ctx.AddrBook.NeedsAddresses() {
		return
	}
	overProxy := cm.ctx.Config.Proxy != ""
	if !overProxy && time.Since(cm.startAt) < seedInjectDelay {
		return
	}
	cm.seeded = true

	addrs, err := cm.hardcoded.Fetch(ctx)
	if err != nil {
		cm.logger.Printf("hardcoded seed fetch failed: %v", err)
		return
	}
	n := cm.ctx.AddrBook.Add(addrs, cm.ctx.Identity.Service.Addr)
	cm.logger.Printf("address book empty, injected %d/%d hardcoded seed addresses", n, len(addrs))
}

// selectCandidate applies the outbound-count bias and then the same two
// filter tiers as net.cpp's ThreadOpenConnections2: an invalid/duplicate
// candidate (wrong address family, already-connected /16 group, or the
// local address) is an unconditional miss — no retry budget, matching
// net.cpp's bare "break" on that check. Only the last-try-recency and
// non-default-port checks get a budgeted retry (30 and 50 draws) before
// being let through anyway.
func (cm *ConnMgr) selectCandidate(outboundCount int) (addrmgr.PeerAddress, bool) {
	connectedGroups := cm.ctx.ConnectedGroups()
	bias := 10 + minInt(outboundCount, 8)*10
	if bias > 100 {
		bias = 100
	}

	tries := 0
	for {
		candidate, err := cm.ctx.AddrBook.Select(uint8(bias))
		if err != nil {
			return addrmgr.PeerAddress{}, false
		}

		if !candidate.Service.Addr.IsIPv4() {
			return addrmgr.PeerAddress{}, false
		}
		if connectedGroups[candidate.Service.Group()] {
			return addrmgr.PeerAddress{}, false
		}
		if candidate.Service.Equal(cm.ctx.Identity.Service) {
			return addrmgr.PeerAddress{}, false
		}

		tries++

		now := time.Now().Unix()
		if now-candidate.LastTry < 600 && tries < groupRejectBudget {
			continue
		}
		if !candidate.Service.IsDefaultPort(cm.ctx.Config.Port) && tries < portRejectBudget {
			continue
		}
		return candidate, true
	}
}

// openOutbound runs the refusal checks, the blocking dial under
// dialTimeout, and Node registration.
func (cm *ConnMgr) openOutbound(ctx context.Context, addr p2p.Service) {
	if cm.ctx.IsShuttingDown() {
		return
	}
	if addr.Equal(cm.ctx.Identity.Service) {
		return
	}
	if !addr.Addr.IsIPv4() {
		return
	}
	if _, live := cm.ctx.FindNode(addr); live {
		return
	}
	if cm.ctx.Bans.IsBanned(addr.Addr) && !cm.ctx.Config.IsWhitelisted(addr.Addr) {
		return
	}

	cm.ctx.AddrBook.Attempt(addr)
	cm.ctx.Metrics.ConnectAttempts.Inc()

	release := cm.ctx.Track("dial")
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := cm.dialer.DialContext(dialCtx, "tcp", addr.String())
	cancel()
	release()

	if err != nil {
		cm.ctx.Metrics.ConnectFailures.Inc()
		if !errors.Is(err, context.Canceled) {
			cm.logger.Printf("dial %s failed: %v", addr, err)
		}
		return
	}

	node := p2p.NewNode(conn, addr, false, cm.magic)
	node.Whitelisted = cm.ctx.Config.IsWhitelisted(addr.Addr)
	cm.ctx.AddNode(node)
	cm.logger.Printf("connected outbound to %s", addr)
}

func (cm *ConnMgr) sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
