package p2p

import "context"

// Handler is the upward interface to the external message-processing
// layer. The core never interprets application payloads beyond the
// handful of control commands it natively understands (version, verack,
// subscribe, sub-cancel, addr, getaddr, ping, pong); everything else is
// handed to Handler verbatim.
type Handler interface {
	// OnFrame is invoked by the Message Pump for every frame the core
	// itself does not consume (i.e. everything except
	// version/verack/subscribe/sub-cancel/addr/getaddr/ping/pong, which
	// the Message Pump answers natively). Frames are drained from the
	// Node's receive buffer under its receive lock; the lock is released
	// again before OnFrame is called, so OnFrame does not run under it.
	OnFrame(ctx context.Context, node *Node, command string, payload []byte) error

	// ProduceMessages is invoked once per Message Pump tick without the
	// Node's send lock held; each returned frame is then appended to the
	// Node's send buffer, which takes the send lock per frame. isTrickle
	// reports whether this Node was chosen as this tick's trickle target.
	ProduceMessages(ctx context.Context, node *Node, isTrickle bool) []Frame
}

// Persistence is the downward interface for address-book durability
//. The on-disk format is not specified here; internal/p2p/persist
// provides a boltdb-backed implementation.
type Persistence interface {
	WriteAddressBook(entries []PeerAddressSnapshot) error
	ReadAddressBook() ([]PeerAddressSnapshot, error)
}

// PeerAddressSnapshot is the durable form of an AddressBook entry, decoupled
// from the in-memory bucket structure so persistence implementations don't
// need to know about buckets.
type PeerAddressSnapshot struct {
	Service      Service
	SourceGroup  string
	Services     uint64
	LastSeen     int64
	LastTry      int64
	AttemptCount uint32
	SuccessCount uint32
}
