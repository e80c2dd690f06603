package seeds

import (
	"context"
	"fmt"
	"time"

	"github.com/empower1/empower1/internal/p2p/addrmgr"
	"github.com/empower1/empower1/internal/p2p/netkey"
	"github.com/miekg/dns"
)

// DNSSeed resolves a list of seed hostnames via an A/AAAA lookup
// performed with github.com/miekg/dns rather than the stdlib resolver,
// grounded on this
// corpus's dcrseeder, which performs its own resolver-library-driven
// lookups rather than relying on net.LookupHost.
type DNSSeed struct {
	Hostnames []string
	Port      uint16
	Resolver  string // resolver address, e.g. "8.8.8.8:53"
	client    *dns.Client
}

// NewDNSSeed builds a seed source over hostnames, queried against
// resolver (a DNS server host:port) and paired with the network's
// default port.
func NewDNSSeed(hostnames []string, port uint16, resolver string) *DNSSeed {
	return &DNSSeed{
		Hostnames: hostnames,
		Port:      port,
		Resolver:  resolver,
		client:    &dns.Client{Timeout: 5 * time.Second},
	}
}

func (d *DNSSeed) Name() string { return "dns" }

// Fetch queries every configured hostname for A and AAAA records and
// returns one PeerAddress per resolved IP, timestamped as freshly seen.
func (d *DNSSeed) Fetch(ctx context.Context) ([]addrmgr.PeerAddress, error) {
	var out []addrmgr.PeerAddress
	now := time.Now().Unix()

	for _, host := range d.Hostnames {
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			msg := new(dns.Msg)
			msg.SetQuestion(dns.Fqdn(host), qtype)
			msg.RecursionDesired = true

			resp, _, err := d.client.ExchangeContext(ctx, msg, d.Resolver)
			if err != nil {
				continue // one hostname failing shouldn't abort the whole seed pass
			}
			for _, rr := range resp.Answer {
				var ip string
				switch rec := rr.(type) {
				case *dns.A:
					ip = rec.A.String()
				case *dns.AAAA:
					ip = rec.AAAA.String()
				default:
					continue
				}
				addr, err := netkey.ParseNetAddress(ip)
				if err != nil {
					continue
				}
				out = append(out, addrmgr.PeerAddress{
					Service:  netkey.Service{Addr: addr, Port: d.Port},
					LastSeen: now,
				})
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dns seed: no addresses resolved from %d hostnames", len(d.Hostnames))
	}
	return out, nil
}
