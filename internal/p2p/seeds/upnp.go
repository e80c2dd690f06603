package seeds

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/empower1/empower1/internal/p2p/addrmgr"
	"github.com/empower1/empower1/internal/p2p/netkey"
	"github.com/huin/goupnp/dcps/internetgateway2"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// UPnPSeed is the UPnP/NAT-PMP external-IP probe among the seed sources.
// Unlike DNSSeed/HardcodedSeed it doesn't return peer
// candidates; instead it discovers this node's externally-visible
// address and port-maps the listen port, then reports the result as a
// single-entry PeerAddress so the Runner's generic merge path can still
// push it into the AddressBook as a loopback-correction hint for gossip.
type UPnPSeed struct {
	ListenPort uint16
	logger     *log.Logger
}

// NewUPnPSeed builds the probe for the given listen port.
func NewUPnPSeed(listenPort uint16) *UPnPSeed {
	return &UPnPSeed{
		ListenPort: listenPort,
		logger:     log.New(os.Stdout, "SEEDS_UPNP: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

func (u *UPnPSeed) Name() string { return "upnp" }

// Fetch tries NAT-PMP first (cheaper, single UDP round trip via
// jackpal/go-nat-pmp), then falls back to UPnP IGDv2 discovery via
// huin/goupnp. Either path additionally requests a port mapping for
// ListenPort so inbound dials can reach this node from outside the NAT.
func (u *UPnPSeed) Fetch(ctx context.Context) ([]addrmgr.PeerAddress, error) {
	if ip, err := u.viaNATPMP(); err == nil {
		return u.result(ip), nil
	}
	ip, err := u.viaUPnP(ctx)
	if err != nil {
		return nil, fmt.Errorf("upnp seed: external IP discovery failed: %w", err)
	}
	return u.result(ip), nil
}

func (u *UPnPSeed) result(ip net.IP) []addrmgr.PeerAddress {
	addr := netkey.NewNetAddress(ip)
	return []addrmgr.PeerAddress{{
		Service:  netkey.Service{Addr: addr, Port: u.ListenPort},
		LastSeen: time.Now().Unix(),
	}}
}

func (u *UPnPSeed) viaNATPMP() (net.IP, error) {
	gw, err := defaultGateway()
	if err != nil {
		return nil, err
	}
	client := natpmp.NewClient(gw)
	resp, err := client.GetExternalAddress()
	if err != nil {
		return nil, err
	}
	ip := net.IP(resp.ExternalIPAddress[:])

	if _, mapErr := client.AddPortMapping("tcp", int(u.ListenPort), int(u.ListenPort), 3600); mapErr != nil {
		u.logger.Printf("nat-pmp port mapping failed (external IP still usable): %v", mapErr)
	}
	return ip, nil
}

func (u *UPnPSeed) viaUPnP(ctx context.Context) (net.IP, error) {
	clients, _, err := internetgateway2.NewWANIPConnection1Clients()
	if err != nil || len(clients) == 0 {
		return nil, fmt.Errorf("no WANIPConnection1 gateway found: %w", err)
	}
	client := clients[0]

	externalIPStr, err := client.GetExternalIPAddress()
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(externalIPStr)
	if ip == nil {
		return nil, fmt.Errorf("gateway returned unparseable external IP %q", externalIPStr)
	}

	if mapErr := client.AddPortMapping("", u.ListenPort, "TCP", u.ListenPort, localIP(), true, "empower1", 3600); mapErr != nil {
		u.logger.Printf("upnp port mapping failed (external IP still usable): %v", mapErr)
	}
	return ip, nil
}

// defaultGateway returns the local router's address for a NAT-PMP probe,
// derived from the machine's own outbound route rather than hardcoded,
// since NAT-PMP targets the gateway directly rather than discovering it
// via SSDP the way UPnP does.
func defaultGateway() (net.IP, error) {
	conn, err := net.Dial("udp", "224.0.0.1:1900")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	local := conn.LocalAddr().(*net.UDPAddr).IP
	gw := make(net.IP, len(local))
	copy(gw, local)
	gw[len(gw)-1] = 1
	return gw, nil
}

func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
