package p2p

import (
	"net"
	"time"
)

// Default tunables for the networking core. Kept as constants rather than
// config fields where these are fixed protocol constants
// (MAX_OUTBOUND_CONNECTIONS, receive/send buffer caps); the CLI-configurable
// ones live on Config below.
const (
	MaxOutboundConnections = 8
	ReceiveBufferSize      = 20 * 1024 * 1024 // 20 MiB, mirrors net.cpp's ReceiveBufferSize() flood-control cap
	SendBufferSize         = 10 * 1024 * 1024 // 10 MiB, mirrors net.cpp's SendBufferSize() flood-control cap
	MaxFrameSize           = 32 * 1024 * 1024 // oversized-frame cap
	RelayMemoryCap         = 10 * 1024 * 1024 // relay pool byte cap

	socketPollInterval  = 50 * time.Millisecond
	socketLoopSleep     = 10 * time.Millisecond
	reapGracePeriod     = 15 * time.Minute
	idleHandshakeWindow = 60 * time.Second
	idleStallWindow     = 90 * time.Minute

	connmgrRecheckDelay = 2 * time.Second
	addedPeersInterval  = 2 * time.Minute

	msgPumpTick = 100 * time.Millisecond

	addressDumpInterval = 100 * time.Second
	shutdownGrace        = 20 * time.Second

	// sendRateBytesPerSec and sendRateBurst throttle each Node's
	// send-buffer drain, mirroring net.cpp's per-peer send rate limit.
	sendRateBytesPerSec = 1024 * 1024
	sendRateBurst       = 256 * 1024
)

// Config is the in-process form of the node's CLI/configuration surface.
// The core never parses flags or files itself; cmd/empower1d builds this
// from whatever flag/env library it chooses.
type Config struct {
	// Port is the listen/dial port for this network.
	Port uint16

	// MaxConnections is the total peer cap; outbound cap is
	// min(MaxOutboundConnections, MaxConnections).
	MaxConnections uint32

	// Connect, if non-empty, puts the Connection Manager into
	// connect-only mode: only these services are dialed, the generic
	// address-book dialer is disabled.
	Connect []string

	// AddNode is the operator-forced peer list, redialed every two
	// minutes by the Added-peers loop if not currently connected.
	AddNode []string

	// DNSSeed enables the DNS seed source.
	DNSSeed bool

	// UPnP enables the UPnP/NAT-PMP external-IP and port-mapping probe.
	UPnP bool

	// IRC enables the (legacy, optional) IRC bootstrap seed source. The
	// core only exposes the toggle; the IRC client itself is out of
	// scope and left unimplemented here.
	IRC bool

	// Proxy, if set, is a SOCKS proxy host:port that all outbound dials
	// are routed through.
	Proxy string

	// BanScore is the misbehaviour-score threshold that triggers a ban.
	BanScore int32

	// BanTime is the ban duration in seconds.
	BanTime int64

	// Whitelist is the set of CIDR ranges exempt from the inbound cap
	// and from banning, generalizing net.cpp's hardcoded addr.IsLocal()
	// ban exemption into an operator-configured allowlist. Local peers
	// are never banned; here "local" means allowlisted.
	Whitelist []*net.IPNet
}

// DefaultConfig returns the node's baseline configuration defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 125,
		DNSSeed:        true,
		BanScore:       100,
		BanTime:        86400,
	}
}

// OutboundCap returns min(MaxOutboundConnections, MaxConnections).
func (c Config) OutboundCap() uint32 {
	if c.MaxConnections < MaxOutboundConnections {
		return c.MaxConnections
	}
	return MaxOutboundConnections
}

// InboundCap returns the inbound connection cap, MaxConnections minus the
// outbound cap.
func (c Config) InboundCap() uint32 {
	out := c.OutboundCap()
	if c.MaxConnections < out {
		return 0
	}
	return c.MaxConnections - out
}

// ConnectOnly reports whether the operator restricted outbound dialing to
// an explicit Connect list.
func (c Config) ConnectOnly() bool {
	return len(c.Connect) > 0
}

// IsWhitelisted reports whether addr falls within an operator-configured
// allowlisted CIDR range.
func (c Config) IsWhitelisted(addr NetAddress) bool {
	for _, n := range c.Whitelist {
		if n.Contains(addr.IP()) {
			return true
		}
	}
	return false
}
