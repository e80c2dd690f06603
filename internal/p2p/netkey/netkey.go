// Package netkey holds the address primitives (NetAddress, Service) shared
// by every p2p subpackage. It is a separate, dependency-free leaf package
// so that internal/p2p/addrmgr, internal/p2p/banlist, internal/p2p/connmgr,
// internal/p2p/socketloop and internal/p2p/msgpump can all reference the
// same address types without importing the parent internal/p2p package
// (which imports all of them in turn).
package netkey

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrInvalidAddress is returned by the parse helpers below.
var ErrInvalidAddress = errors.New("netkey: invalid network address")

// NetAddress is a canonical 16-byte IP address. IPv4 addresses are stored
// mapped into IPv6 (::ffff:a.b.c.d) so the rest of the core never has to
// special-case the two families.
type NetAddress struct {
	ip net.IP
}

// NewNetAddress canonicalizes ip into a NetAddress.
func NewNetAddress(ip net.IP) NetAddress {
	if ip4 := ip.To4(); ip4 != nil {
		return NetAddress{ip: ip4.To16()}
	}
	return NetAddress{ip: ip.To16()}
}

// ParseNetAddress parses a textual IP address.
func ParseNetAddress(s string) (NetAddress, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return NetAddress{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return NewNetAddress(ip), nil
}

// IP returns the underlying net.IP.
func (a NetAddress) IP() net.IP { return a.ip }

// IsIPv4 reports whether the address is an IPv4-mapped address.
func (a NetAddress) IsIPv4() bool {
	return a.ip != nil && a.ip.To4() != nil
}

// IsLocal reports whether the address is a loopback or unspecified address.
func (a NetAddress) IsLocal() bool {
	if a.ip == nil {
		return true
	}
	return a.ip.IsLoopback() || a.ip.IsUnspecified()
}

// IsRoutable reports whether the address could plausibly belong to a
// reachable peer on the public internet.
func (a NetAddress) IsRoutable() bool {
	if a.ip == nil || a.IsLocal() {
		return false
	}
	if a.ip.IsMulticast() || a.ip.IsLinkLocalUnicast() || a.ip.IsLinkLocalMulticast() {
		return false
	}
	for _, blk := range privateBlocks {
		if blk.Contains(a.ip) {
			return false
		}
	}
	return true
}

var privateBlocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10", // RFC6598 carrier-grade NAT
	"2002::/16",     // 6to4
	"2001::/32",     // Teredo
	"fc00::/7",      // unique local
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("netkey: bad built-in CIDR %q: %v", c, err))
		}
		out = append(out, n)
	}
	return out
}

// Group returns the diversity bucket for this address: the /16 for IPv4,
// and an analogous prefix for IPv6. Two addresses belong to the same
// network iff Group() is equal.
func (a NetAddress) Group() string {
	if a.ip == nil {
		return "unroutable"
	}
	if !a.IsRoutable() {
		return "local"
	}
	if ip4 := a.ip.To4(); ip4 != nil {
		return fmt.Sprintf("ipv4:%d.%d", ip4[0], ip4[1])
	}
	ip6 := a.ip.To16()
	return fmt.Sprintf("ipv6:%02x%02x:%02x%02x", ip6[0], ip6[1], ip6[2], ip6[3])
}

func (a NetAddress) String() string {
	if a.ip == nil {
		return "<nil>"
	}
	return a.ip.String()
}

// Equal reports whether two NetAddresses refer to the same IP.
func (a NetAddress) Equal(b NetAddress) bool {
	if a.ip == nil || b.ip == nil {
		return a.ip == nil && b.ip == nil
	}
	return a.ip.Equal(b.ip)
}

// Service is a (NetAddress, port) pair — the unit the Peer Table indexes by.
type Service struct {
	Addr NetAddress
	Port uint16
}

// ParseService parses "host:port" into a Service.
func ParseService(hostport string) (Service, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Service{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Service{}, fmt.Errorf("%w: bad port %q: %v", ErrInvalidAddress, portStr, err)
	}
	addr, err := ParseNetAddress(host)
	if err != nil {
		return Service{}, err
	}
	return Service{Addr: addr, Port: uint16(port)}, nil
}

// Key returns the canonical map key for this Service.
func (s Service) Key() string { return s.String() }

func (s Service) String() string {
	return net.JoinHostPort(s.Addr.String(), strconv.Itoa(int(s.Port)))
}

// Group delegates to the address's diversity group.
func (s Service) Group() string { return s.Addr.Group() }

// Equal reports whether two Services are identical.
func (s Service) Equal(o Service) bool {
	return s.Port == o.Port && s.Addr.Equal(o.Addr)
}

// IsDefaultPort reports whether port matches the network's standard port.
func (s Service) IsDefaultPort(defaultPort uint16) bool {
	return s.Port == defaultPort
}
