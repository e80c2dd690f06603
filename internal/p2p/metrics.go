package p2p

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects the prometheus series this networking core exposes.
// Every subsystem is handed the same *Metrics through
// NetContext rather than registering against the global default registry,
// so a process embedding more than one NetContext (tests, simulators)
// never collides on metric names.
type Metrics struct {
	Registry *prometheus.Registry

	PeersConnected    prometheus.Gauge
	OutboundPeers     prometheus.Gauge
	InboundPeers      prometheus.Gauge
	BytesSent         prometheus.Counter
	BytesReceived     prometheus.Counter
	FramesDecoded     prometheus.Counter
	FrameErrors       prometheus.Counter
	ConnectAttempts   prometheus.Counter
	ConnectFailures   prometheus.Counter
	BansIssued        prometheus.Counter
	Misbehaviours     prometheus.Counter
	AddressBookSize   prometheus.Gauge
	RelayPoolBytes    prometheus.Gauge
}

// NewMetrics builds and registers every series against a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2p", Name: "peers_connected", Help: "Number of live peer connections.",
		}),
		OutboundPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2p", Name: "outbound_peers", Help: "Number of live outbound connections.",
		}),
		InboundPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2p", Name: "inbound_peers", Help: "Number of live inbound connections.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p", Name: "bytes_sent_total", Help: "Total bytes written to peer sockets.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p", Name: "bytes_received_total", Help: "Total bytes read from peer sockets.",
		}),
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p", Name: "frames_decoded_total", Help: "Total wire frames successfully decoded.",
		}),
		FrameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p", Name: "frame_errors_total", Help: "Total frames discarded for bad magic, checksum, or size.",
		}),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p", Name: "connect_attempts_total", Help: "Total outbound dial attempts.",
		}),
		ConnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p", Name: "connect_failures_total", Help: "Total outbound dial failures.",
		}),
		BansIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p", Name: "bans_issued_total", Help: "Total addresses banned for crossing the misbehaviour threshold.",
		}),
		Misbehaviours: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p", Name: "misbehaviours_total", Help: "Total misbehaviour score events recorded.",
		}),
		AddressBookSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2p", Name: "address_book_size", Help: "Number of addresses known to the address manager.",
		}),
		RelayPoolBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2p", Name: "relay_pool_bytes", Help: "Current byte size of the broadcast relay pool.",
		}),
	}
	reg.MustRegister(
		m.PeersConnected, m.OutboundPeers, m.InboundPeers,
		m.BytesSent, m.BytesReceived, m.FramesDecoded, m.FrameErrors,
		m.ConnectAttempts, m.ConnectFailures, m.BansIssued, m.Misbehaviours,
		m.AddressBookSize, m.RelayPoolBytes,
	)
	return m
}
