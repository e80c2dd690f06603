package p2p

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// HandshakeState is the per-Node handshake FSM.
type HandshakeState int32

const (
	StateConnected HandshakeState = iota
	StateVersionSent
	StateVersionReceived
	StateHandshaked
)

func (s HandshakeState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateVersionSent:
		return "VERSION_SENT"
	case StateVersionReceived:
		return "VERSION_RECEIVED"
	case StateHandshaked:
		return "HANDSHAKED"
	default:
		return "UNKNOWN"
	}
}

// PendingRequest is a descriptor for an in-flight request this Node made of
// its peer (e.g. a getaddr awaiting an addr reply). The request tracker
// keys these by a locally generated uuid rather than reusing any
// protocol-level identifier, so collisions across concurrent requests of
// the same command are impossible.
type PendingRequest struct {
	ID        uuid.UUID
	Command   string
	IssuedAt  time.Time
	Callback  func(Frame, bool) // called with the matching frame, or ok=false on timeout/disconnect
}

// Node is the per-peer state machine. All exported methods are safe for
// concurrent use; the struct documents which lock guards which field so
// the nesting order can be verified by inspection (nodesLock -> per-node
// -> subsystem locks).
type Node struct {
	conn     net.Conn
	Addr     Service
	Inbound  bool
	Whitelisted bool

	sendMu    sync.Mutex
	sendBuf   bytes.Buffer
	sendLimit *rate.Limiter

	recvMu  sync.Mutex
	framer  *Framer

	refMu     sync.Mutex
	refCount  uint32
	releaseAt time.Time

	state        HandshakeState
	stateMu      sync.Mutex
	misbehaviour int32 // accessed only under msMu
	msMu         sync.Mutex

	disconnectRequested boolFlag

	connectedAt    time.Time
	lastRecv       time.Time
	lastSend       time.Time
	lastSendEmpty  time.Time
	timeMu         sync.Mutex

	subMu       sync.Mutex
	subscribed  map[uint32]bool

	reqMu    sync.Mutex
	requests map[uuid.UUID]*PendingRequest

	// Handshake metadata, filled in once the version message is parsed.
	metaMu          sync.Mutex
	services        uint64
	protocolVersion uint32
	userAgent       string
	startHeight     int64
	remoteNonce     uint64

	sentBytes uint64
	recvBytes uint64
	byteMu    sync.Mutex
}

// boolFlag is a tiny mutex-guarded flag; used instead of atomic.Bool to
// match the plain mutex-guarded field style used throughout this package.
type boolFlag struct {
	mu  sync.Mutex
	set bool
}

func (f *boolFlag) Set() {
	f.mu.Lock()
	f.set = true
	f.mu.Unlock()
}

func (f *boolFlag) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// NewNode wraps an established connection. magic selects the wire network
// the Framer checks frames against.
func NewNode(conn net.Conn, addr Service, inbound bool, magic Magic) *Node {
	now := time.Now()
	return &Node{
		conn:          conn,
		Addr:          addr,
		Inbound:       inbound,
		framer:        NewFramer(magic, MaxFrameSize),
		sendLimit:     rate.NewLimiter(rate.Limit(sendRateBytesPerSec), sendRateBurst),
		state:         StateConnected,
		connectedAt:   now,
		releaseAt:     now.Add(reapGracePeriod),
		subscribed:    make(map[uint32]bool),
		requests:      make(map[uuid.UUID]*PendingRequest),
	}
}

// AddRef increments the Node's reference count. Callers of AddRef must
// call Release exactly once. Once removed from the live set, the Node
// waits in the disconnected pool and is not purged while its ref count is
// above zero.
func (n *Node) AddRef() {
	n.refMu.Lock()
	n.refCount++
	n.refMu.Unlock()
}

// Release decrements the reference count.
func (n *Node) Release() {
	n.refMu.Lock()
	if n.refCount > 0 {
		n.refCount--
	}
	n.refMu.Unlock()
}

// RefCount returns the current reference count.
func (n *Node) RefCount() uint32 {
	n.refMu.Lock()
	defer n.refMu.Unlock()
	return n.refCount
}

// RequestDisconnect marks the Node for teardown. Once set, no further
// bytes are enqueued for send.
func (n *Node) RequestDisconnect() {
	n.disconnectRequested.Set()
}

// DisconnectRequested reports whether teardown has been requested.
func (n *Node) DisconnectRequested() bool {
	return n.disconnectRequested.Get()
}

// State returns the current handshake state.
func (n *Node) State() HandshakeState {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state
}

// SetState transitions the handshake FSM.
func (n *Node) SetState(s HandshakeState) {
	n.stateMu.Lock()
	n.state = s
	n.stateMu.Unlock()
}

// PushMessage frames command/payload and appends it to the send buffer.
// Nothing is enqueued once disconnect has been requested.
func (n *Node) PushMessage(magic Magic, command string, payload []byte) error {
	if n.DisconnectRequested() {
		return nil
	}
	framed, err := EncodeFrame(magic, command, payload)
	if err != nil {
		return err
	}
	n.sendMu.Lock()
	n.sendBuf.Write(framed)
	n.sendMu.Unlock()
	return nil
}

// SendBufferLen returns the number of unsent bytes queued.
func (n *Node) SendBufferLen() int {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	return n.sendBuf.Len()
}

// ReceiveBufferLen returns the number of buffered-but-unframed bytes.
func (n *Node) ReceiveBufferLen() int {
	n.recvMu.Lock()
	defer n.recvMu.Unlock()
	return n.framer.Buffered()
}

// drainSend pulls up to max bytes off the front of the send buffer without
// removing them, for a single non-blocking write attempt by the Socket
// Loop. consumeSend removes the bytes once the write succeeds.
func (n *Node) drainSend(max int) []byte {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	b := n.sendBuf.Bytes()
	if len(b) > max {
		b = b[:max]
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (n *Node) consumeSend(nBytes int) {
	n.sendMu.Lock()
	n.sendBuf.Next(nBytes)
	empty := n.sendBuf.Len() == 0
	n.sendMu.Unlock()
	n.touchSend(empty)
}

// feedReceive appends freshly-read bytes into the framer under the
// receive lock. Frames are not drained here: the Socket Loop only fills
// the buffer; the Message Pump drains completed
// frames under the same lock.
func (n *Node) feedReceive(p []byte) {
	n.recvMu.Lock()
	defer n.recvMu.Unlock()
	n.framer.Write(p)
}

// FeedReceive is the exported form of feedReceive for use by the Socket
// Loop, which lives in a separate package to keep listen-socket and
// accept-policy concerns out of internal/p2p itself.
func (n *Node) FeedReceive(p []byte) {
	n.touchRecv()
	n.feedReceive(p)
}

// DrainFrames pulls every complete frame currently buffered in the
// framer, under the receive lock. Called by the Message Pump once per
// tick. A non-nil error means the Node's framer hit a
// fatal condition (oversized frame) and the Node must be disconnected;
// any frames already drained before the error are still returned.
func (n *Node) DrainFrames() ([]Frame, error) {
	n.recvMu.Lock()
	defer n.recvMu.Unlock()
	var frames []Frame
	for {
		f, ok, err := n.framer.Next()
		if err != nil {
			return frames, err
		}
		if !ok {
			return frames, nil
		}
		frames = append(frames, f)
	}
}

// AllowSend reports whether the per-Node send rate limiter currently has
// budget for n bytes, throttling how fast the Socket Loop drains this
// Node's send buffer onto the wire.
func (n *Node) AllowSend(nBytes int) bool {
	return n.sendLimit.AllowN(time.Now(), nBytes)
}

// DrainSend is the exported form of drainSend.
func (n *Node) DrainSend(max int) []byte { return n.drainSend(max) }

// ConsumeSend is the exported form of consumeSend.
func (n *Node) ConsumeSend(nBytes int) { n.consumeSend(nBytes) }

func (n *Node) touchRecv() {
	n.timeMu.Lock()
	n.lastRecv = time.Now()
	n.timeMu.Unlock()
}

func (n *Node) touchSend(empty bool) {
	n.timeMu.Lock()
	n.lastSend = time.Now()
	if empty {
		n.lastSendEmpty = time.Now()
	}
	n.timeMu.Unlock()
}

// Idle computes the three idle-timeout conditions: handshake stall,
// receive stall, and send stall.
func (n *Node) Idle(now time.Time) (drop bool, reason string) {
	n.timeMu.Lock()
	connectedAt, lastRecv, lastSend, lastSendEmpty := n.connectedAt, n.lastRecv, n.lastSend, n.lastSendEmpty
	n.timeMu.Unlock()

	if now.Sub(connectedAt) > idleHandshakeWindow && (lastRecv.IsZero() || lastSend.IsZero()) {
		return true, "silent peer: no traffic within handshake window"
	}
	if !lastSend.IsZero() && now.Sub(lastSend) > idleStallWindow && now.Sub(lastSendEmpty) > idleStallWindow {
		return true, "stuck sender: send buffer not draining"
	}
	if !lastRecv.IsZero() && now.Sub(lastRecv) > idleStallWindow {
		return true, "stale peer: no bytes received"
	}
	return false, ""
}

// Misbehaving adds score to the Node's misbehaviour accumulator. It
// reports the new total and whether banThreshold was crossed. Whitelisted
// nodes accumulate score (for logging) but never report a crossing —
// local peers are never banned.
func (n *Node) Misbehaving(score int32, banThreshold int32) (total int32, banned bool) {
	n.msMu.Lock()
	n.misbehaviour += score
	total = n.misbehaviour
	n.msMu.Unlock()
	if n.Whitelisted {
		return total, false
	}
	return total, total >= banThreshold
}

// MisbehaviourScore returns the current accumulator value.
func (n *Node) MisbehaviourScore() int32 {
	n.msMu.Lock()
	defer n.msMu.Unlock()
	return n.misbehaviour
}

// SetHandshakeMeta records the fields a version message carries.
func (n *Node) SetHandshakeMeta(services uint64, protoVer uint32, userAgent string, startHeight int64, nonce uint64) {
	n.metaMu.Lock()
	defer n.metaMu.Unlock()
	n.services = services
	n.protocolVersion = protoVer
	n.userAgent = userAgent
	n.startHeight = startHeight
	n.remoteNonce = nonce
}

// HandshakeMeta returns the fields recorded by SetHandshakeMeta.
func (n *Node) HandshakeMeta() (services uint64, protoVer uint32, userAgent string, startHeight int64, nonce uint64) {
	n.metaMu.Lock()
	defer n.metaMu.Unlock()
	return n.services, n.protocolVersion, n.userAgent, n.startHeight, n.remoteNonce
}

// Subscribe sets the subscription bit for channel ch. The caller checks
// SubscriberCount before calling to decide whether to relay the
// subscribe to other Nodes.
func (n *Node) Subscribe(ch uint32) {
	n.subMu.Lock()
	n.subscribed[ch] = true
	n.subMu.Unlock()
}

// CancelSubscribe clears the subscription bit for ch.
func (n *Node) CancelSubscribe(ch uint32) {
	n.subMu.Lock()
	delete(n.subscribed, ch)
	n.subMu.Unlock()
}

// IsSubscribed reports whether this Node is subscribed to ch.
func (n *Node) IsSubscribed(ch uint32) bool {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	return n.subscribed[ch]
}

// TrackRequest registers a pending request and returns its generated id.
func (n *Node) TrackRequest(command string, cb func(Frame, bool)) uuid.UUID {
	id := uuid.New()
	n.reqMu.Lock()
	n.requests[id] = &PendingRequest{ID: id, Command: command, IssuedAt: time.Now(), Callback: cb}
	n.reqMu.Unlock()
	return id
}

// ResolveRequest invokes and removes the pending request for id, if any.
func (n *Node) ResolveRequest(id uuid.UUID, f Frame, ok bool) {
	n.reqMu.Lock()
	pr, found := n.requests[id]
	if found {
		delete(n.requests, id)
	}
	n.reqMu.Unlock()
	if found && pr.Callback != nil {
		pr.Callback(f, ok)
	}
}

// ExpireRequests cancels (with ok=false) any pending request older than ttl.
func (n *Node) ExpireRequests(ttl time.Duration) {
	now := time.Now()
	n.reqMu.Lock()
	var expired []*PendingRequest
	for id, pr := range n.requests {
		if now.Sub(pr.IssuedAt) > ttl {
			expired = append(expired, pr)
			delete(n.requests, id)
		}
	}
	n.reqMu.Unlock()
	for _, pr := range expired {
		if pr.Callback != nil {
			pr.Callback(Frame{}, false)
		}
	}
}

// Conn exposes the underlying connection; only the Socket Loop may call
// Read/Write/Close on it.
func (n *Node) Conn() net.Conn { return n.conn }

// ReadyForDeletion reports whether the Node may be removed from the
// disconnected pool: zero references and past its release deadline.
func (n *Node) ReadyForDeletion(now time.Time) bool {
	n.refMu.Lock()
	refs := n.refCount
	n.refMu.Unlock()
	if refs != 0 {
		return false
	}
	return !now.Before(n.releaseAt)
}

// ExtendRelease bumps releaseAt forward to at least now+reapGracePeriod,
// never backward.
func (n *Node) ExtendRelease(now time.Time) {
	at := now.Add(reapGracePeriod)
	if at.After(n.releaseAt) {
		n.releaseAt = at
	}
}

// AddSentBytes is the exported form of addSentBytes, for the Socket Loop.
func (n *Node) AddSentBytes(b int) { n.addSentBytes(b) }

// AddRecvBytes is the exported form of addRecvBytes, for the Socket Loop.
func (n *Node) AddRecvBytes(b int) { n.addRecvBytes(b) }

func (n *Node) addSentBytes(b int) {
	n.byteMu.Lock()
	n.sentBytes += uint64(b)
	n.byteMu.Unlock()
}

func (n *Node) addRecvBytes(b int) {
	n.byteMu.Lock()
	n.recvBytes += uint64(b)
	n.byteMu.Unlock()
}

// ByteCounters returns total bytes sent/received on this Node, accumulated
// from the same per-call nBytes values net.cpp's recv()/send() produce
// (net.cpp:798, 836) but never totals.
func (n *Node) ByteCounters() (sent, recv uint64) {
	n.byteMu.Lock()
	defer n.byteMu.Unlock()
	return n.sentBytes, n.recvBytes
}

func (n *Node) String() string {
	return fmt.Sprintf("Node{%s inbound=%t state=%s}", n.Addr, n.Inbound, n.State())
}
