package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/empower1/empower1/internal/p2p"
	"github.com/empower1/empower1/internal/p2p/connmgr"
	"github.com/empower1/empower1/internal/p2p/lifecycle"
	"github.com/empower1/empower1/internal/p2p/msgpump"
	"github.com/empower1/empower1/internal/p2p/persist"
	"github.com/empower1/empower1/internal/p2p/seeds"
	"github.com/empower1/empower1/internal/p2p/socketloop"
)

// noopHandler satisfies p2p.Handler until a higher-level block/transaction
// relay protocol is layered on top of the connected peer set; it still
// drives the full handshake, address exchange and ban machinery on its own.
type noopHandler struct{}

func (noopHandler) OnFrame(ctx context.Context, node *p2p.Node, command string, payload []byte) error {
	return nil
}

func (noopHandler) ProduceMessages(ctx context.Context, node *p2p.Node, isTrickle bool) []p2p.Frame {
	return nil
}

func main() {
	var (
		listenAddr = flag.String("listen", "0.0.0.0:8333", "address to accept inbound peer connections on")
		maxConns   = flag.Uint("maxconnections", 125, "maximum number of peer connections")
		connect    = flag.String("connect", "", "comma-separated list of peers to connect to exclusively")
		addNode    = flag.String("addnode", "", "comma-separated list of peers to always try to keep connected")
		dnsSeed    = flag.Bool("dnsseed", true, "query DNS seed hosts for peer addresses")
		upnp       = flag.Bool("upnp", false, "probe for a UPnP/NAT-PMP gateway and map the listen port")
		dataDir    = flag.String("datadir", "./data", "directory for the address-book database")
		banScore   = flag.Int("banscore", 100, "misbehaviour score at which a peer is banned")
		banTimeSec = flag.Int64("bantime", 86400, "ban duration in seconds")
	)
	flag.Parse()

	local, err := p2p.ParseService(*listenAddr)
	if err != nil {
		log.Fatalf("invalid -listen address %q: %v", *listenAddr, err)
	}

	cfg := p2p.DefaultConfig()
	cfg.Port = local.Port
	cfg.MaxConnections = uint32(*maxConns)
	cfg.Connect = splitNonEmpty(*connect)
	cfg.AddNode = splitNonEmpty(*addNode)
	cfg.DNSSeed = *dnsSeed
	cfg.UPnP = *upnp
	cfg.BanScore = int32(*banScore)
	cfg.BanTime = *banTimeSec

	store, err := persist.Open(filepath.Join(*dataDir, "addrbook.db"))
	if err != nil {
		log.Fatalf("opening address book: %v", err)
	}
	defer store.Close()

	nc, err := p2p.NewNetContext(cfg, local, p2p.MagicMainNet, noopHandler{}, store)
	if err != nil {
		log.Fatalf("building net context: %v", err)
	}

	listener, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatalf("listening on %s: %v", *listenAddr, err)
	}

	sl := socketloop.New(nc, listener, func(conn net.Conn) (*p2p.Node, error) {
		return admitInbound(nc, conn)
	})
	cm := connmgr.New(nc, &net.Dialer{}, p2p.MagicMainNet, seeds.NewHardcodedSeed(defaultHardcodedSeeds))
	mp := msgpump.New(nc)

	var sources []seeds.Source
	if cfg.DNSSeed {
		sources = append(sources, seeds.NewDNSSeed(defaultDNSSeeds, cfg.Port, ""))
	}
	if cfg.UPnP {
		sources = append(sources, seeds.NewUPnPSeed(cfg.Port))
	}
	seedRunner := seeds.NewRunner(nc, sources...)

	sup := lifecycle.New(nc)
	sup.AddTask("socketloop", sl.Run)
	sup.AddTask("connmgr", cm.Run)
	sup.AddTask("addedpeers", cm.RunAddedPeers)
	sup.AddTask("msgpump", mp.Run)
	sup.AddTask("seeds", seedRunner.Run)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("empower1d: listening on %s\n", *listenAddr)
	if err := sup.Start(ctx); err != nil {
		log.Fatalf("starting supervisor: %v", err)
	}

	<-ctx.Done()
	fmt.Println("empower1d: shutting down...")
	sup.Stop(20 * time.Second) // grace period before logging stragglers
}

// admitInbound applies the inbound-cap and ban-list checks the Socket Loop
// delegates to its admit callback and builds the Node
// the Socket Loop will register.
func admitInbound(nc *p2p.NetContext, conn net.Conn) (*p2p.Node, error) {
	remote, err := p2p.ParseService(conn.RemoteAddr().String())
	if err != nil {
		return nil, fmt.Errorf("p2p: parsing remote address: %w", err)
	}
	if nc.Bans.IsBanned(remote.Addr) && !nc.Config.IsWhitelisted(remote.Addr) {
		return nil, p2p.ErrBanned
	}
	_, inbound := nc.NodeCount()
	if inbound >= int(nc.Config.InboundCap()) && !nc.Config.IsWhitelisted(remote.Addr) {
		return nil, p2p.ErrInboundCapped
	}
	node := p2p.NewNode(conn, remote, true, p2p.MagicMainNet)
	node.Whitelisted = nc.Config.IsWhitelisted(remote.Addr)
	return node, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var defaultDNSSeeds = []string{
	"seed.empower1.network",
}

// defaultHardcodedSeeds backs the Connection Manager's empty-AddressBook
// fallback (net.cpp's cold-start seed injection); a handful of long-lived
// operator-trusted addresses, tried only once DNS/UPnP have had time to
// populate the book and it's still empty.
var defaultHardcodedSeeds = []string{
	"seed1.empower1.network:8333",
	"seed2.empower1.network:8333",
	"seed3.empower1.network:8333",
}
