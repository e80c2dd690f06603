// Package msgpump implements the Message Pump: per-Node framed message
// ingest/egress paired with the external
// Handler, the version/verack handshake FSM, native handling of
// subscribe/sub-cancel/addr/getaddr, and misbehaviour-driven banning.
package msgpump

import (
	"context"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/empower1/empower1/internal/p2p"
)

const tick = 100 * time.Millisecond

// MsgPump drives the per-tick receive/send cycle against a shared
// *p2p.NetContext.
type MsgPump struct {
	ctx    *p2p.NetContext
	logger *log.Logger
	rng    *rand.Rand
}

// New builds a Message Pump.
func New(nc *p2p.NetContext) *MsgPump {
	return &MsgPump{
		ctx:    nc,
		logger: log.New(os.Stdout, "MSGPUMP: ", log.Ldate|log.Ltime|log.Lshortfile),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run drives the tick loop") until ctx
// is cancelled or the NetContext's shutdown flag is observed.
func (mp *MsgPump) Run(ctx context.Context) error {
	release := mp.ctx.Track("msgpump")
	defer release()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil || mp.ctx.IsShuttingDown() {
			return nil
		}
		mp.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// tick picks this round's trickle target and drives receive, send, and
// ban enforcement for every live Node.
func (mp *MsgPump) tick(ctx context.Context) {
	nodes := mp.ctx.Snapshot()
	defer func() {
		for _, n := range nodes {
			n.Release()
		}
	}()
	if len(nodes) == 0 {
		return
	}
	trickle := nodes[mp.rng.Intn(len(nodes))]

	for _, n := range nodes {
		if n.DisconnectRequested() {
			continue
		}
		mp.processMessages(ctx, n)
		mp.sendMessages(ctx, n, n == trickle)
		mp.enforceBan(n)
	}
}

// processMessages drains frames under the Node's receive lock and
// dispatches each one.
func (mp *MsgPump) processMessages(ctx context.Context, n *p2p.Node) {
	frames, err := n.DrainFrames()
	for _, f := range frames {
		mp.dispatch(ctx, n, f)
	}
	if err != nil {
		mp.ctx.Metrics.FrameErrors.Inc()
		mp.logger.Printf("framing error on %s: %v", n, err)
		n.RequestDisconnect()
	}
}

// sendMessages initiates the handshake for a fresh outbound Node, then
// lets the external Handler append whatever it wants this tick.
func (mp *MsgPump) sendMessages(ctx context.Context, n *p2p.Node, isTrickle bool) {
	if n.State() == p2p.StateConnected && !n.Inbound {
		mp.sendVersion(n)
		n.SetState(p2p.StateVersionSent)
	}
	for _, f := range mp.ctx.Handler.ProduceMessages(ctx, n, isTrickle) {
		if err := n.PushMessage(mp.ctx.Magic, f.Command, f.Payload); err != nil {
			mp.logger.Printf("failed to queue %s for %s: %v", f.Command, n, err)
		}
	}
}

// enforceBan bans and disconnects a Node once its misbehaviour score
// crosses the configured ban threshold.
func (mp *MsgPump) enforceBan(n *p2p.Node) {
	if n.Whitelisted || n.DisconnectRequested() {
		return
	}
	if n.MisbehaviourScore() >= mp.ctx.Config.BanScore {
		mp.ctx.Bans.Ban(n.Addr.Addr, time.Duration(mp.ctx.Config.BanTime)*time.Second)
		mp.ctx.Metrics.BansIssued.Inc()
		n.RequestDisconnect()
		mp.logger.Printf("banned %s: misbehaviour score %d crossed threshold %d", n, n.MisbehaviourScore(), mp.ctx.Config.BanScore)
	}
}

func (mp *MsgPump) dispatch(ctx context.Context, n *p2p.Node, f p2p.Frame) {
	switch f.Command {
	case cmdVersion:
		mp.onVersion(n, f.Payload)
	case cmdVerack:
		// Verack carries no state transition here: spec's diagram reaches
		// HANDSHAKED as soon as both sides' version messages have crossed
		// (see onVersion); verack just confirms liveness.
	case cmdSubscribe:
		mp.onSubscribe(n, f.Payload)
	case cmdSubCancel:
		mp.onSubCancel(n, f.Payload)
	case cmdAddr:
		mp.onAddr(n, f.Payload)
	case cmdGetAddr:
		mp.onGetAddr(n)
	case cmdPing:
		_ = n.PushMessage(mp.ctx.Magic, cmdPong, f.Payload)
	case cmdPong:
		// liveness only; touchRecv already ran in feedReceive.
	default:
		if err := mp.ctx.Handler.OnFrame(ctx, n, f.Command, f.Payload); err != nil {
			mp.logger.Printf("handler rejected %s frame from %s: %v", f.Command, n, err)
		}
	}
}

func (mp *MsgPump) sendVersion(n *p2p.Node) {
	id := mp.ctx.Identity
	payload := encodeVersion(versionPayload{
		nonce:       id.Nonce,
		services:    0,
		protoVer:    1,
		startHeight: 0,
		userAgent:   "/empower1:0.1/",
		pubKey:      id.PublicKey(),
		sig:         id.SignNonce(id.Nonce),
	})
	_ = n.PushMessage(mp.ctx.Magic, cmdVersion, payload)
}

// onVersion drives the handshake transitions, detects self-connects by
// comparing the peer's nonce against our own, and rejects a version
// message whose signature does not match its own advertised nonce and
// public key.
func (mp *MsgPump) onVersion(n *p2p.Node, payload []byte) {
	v, err := decodeVersion(payload)
	if err != nil {
		mp.logger.Printf("malformed version from %s: %v", n, err)
		n.RequestDisconnect()
		return
	}
	if !p2p.VerifyNonceSignature(v.pubKey, v.nonce, v.sig) {
		mp.logger.Printf("invalid nonce signature from %s, disconnecting", n)
		n.RequestDisconnect()
		return
	}
	if v.nonce == mp.ctx.Identity.Nonce {
		mp.logger.Printf("self-connect detected on %s, disconnecting", n)
		n.RequestDisconnect()
		return
	}

	n.SetHandshakeMeta(v.services, v.protoVer, v.userAgent, v.startHeight, v.nonce)

	switch n.State() {
	case p2p.StateConnected:
		// Inbound Node hasn't sent its own version yet.
		mp.sendVersion(n)
		n.SetState(p2p.StateHandshaked)
	case p2p.StateVersionSent:
		n.SetState(p2p.StateHandshaked)
	default:
		// Duplicate version frame post-handshake; ignore.
		return
	}

	_ = n.PushMessage(mp.ctx.Magic, cmdVerack, nil)
	mp.ctx.AddrBook.Good(n.Addr)
}

// onSubscribe sets the subscription bit and relays to other Nodes only
// if this is the first local subscriber on the channel.
func (mp *MsgPump) onSubscribe(n *p2p.Node, payload []byte) {
	channel, hops, err := decodeSubscribe(payload)
	if err != nil {
		mp.logger.Printf("malformed subscribe from %s: %v", n, err)
		return
	}
	if n.IsSubscribed(channel) {
		return
	}
	firstSubscriber := mp.ctx.SubscriberCount(channel) == 0
	n.Subscribe(channel)
	if firstSubscriber && hops > 0 {
		payload := encodeSubscribe(channel, hops-1)
		for _, other := range mp.ctx.Snapshot() {
			if other != n && other.State() == p2p.StateHandshaked {
				_ = other.PushMessage(mp.ctx.Magic, cmdSubscribe, payload)
			}
			other.Release()
		}
	}
}

// onSubCancel clears the subscription bit and relays the cancellation
// once no local subscriber remains on the channel.
func (mp *MsgPump) onSubCancel(n *p2p.Node, payload []byte) {
	channel, err := decodeSubCancel(payload)
	if err != nil {
		mp.logger.Printf("malformed sub-cancel from %s: %v", n, err)
		return
	}
	n.CancelSubscribe(channel)
	if mp.ctx.SubscriberCount(channel) == 0 {
		payload := encodeSubCancel(channel)
		for _, other := range mp.ctx.Snapshot() {
			if other != n && other.State() == p2p.StateHandshaked {
				_ = other.PushMessage(mp.ctx.Magic, cmdSubCancel, payload)
			}
			other.Release()
		}
	}
}

// onAddr merges gossiped addresses into the AddressBook, attributed to
// the gossiping peer's group as the source.
func (mp *MsgPump) onAddr(n *p2p.Node, payload []byte) {
	addrs, err := decodeAddr(payload)
	if err != nil {
		mp.logger.Printf("malformed addr from %s: %v", n, err)
		return
	}
	inserted := mp.ctx.AddrBook.Add(addrs, n.Addr.Addr)
	mp.ctx.Metrics.AddressBookSize.Set(float64(mp.ctx.AddrBook.Size()))
	if inserted > 0 {
		mp.logger.Printf("merged %d new addresses from %s", inserted, n)
	}
}

// onGetAddr replies with a sample of known addresses.
func (mp *MsgPump) onGetAddr(n *p2p.Node) {
	const maxReply = 1000
	snap := mp.ctx.AddrBook.Snapshot()
	if len(snap) > maxReply {
		mp.rng.Shuffle(len(snap), func(i, j int) { snap[i], snap[j] = snap[j], snap[i] })
		snap = snap[:maxReply]
	}
	_ = n.PushMessage(mp.ctx.Magic, cmdAddr, encodeAddr(snap))
}
