package msgpump

import (
	"context"
	"net"
	"testing"

	"github.com/empower1/empower1/internal/p2p"
)

type recordingHandler struct {
	frames []string
}

func (h *recordingHandler) OnFrame(ctx context.Context, node *p2p.Node, command string, payload []byte) error {
	h.frames = append(h.frames, command)
	return nil
}

func (h *recordingHandler) ProduceMessages(ctx context.Context, node *p2p.Node, isTrickle bool) []p2p.Frame {
	return nil
}

func newTestContext(t *testing.T, handler p2p.Handler) *p2p.NetContext {
	t.Helper()
	local, err := p2p.ParseService("127.0.0.1:18333")
	if err != nil {
		t.Fatalf("ParseService: %v", err)
	}
	nc, err := p2p.NewNetContext(p2p.DefaultConfig(), local, p2p.MagicTestNet, handler, nil)
	if err != nil {
		t.Fatalf("NewNetContext: %v", err)
	}
	return nc
}

func TestOnVersionRejectsSelfConnect(t *testing.T) {
	h := &recordingHandler{}
	nc := newTestContext(t, h)
	mp := New(nc)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	remote, _ := p2p.ParseService("203.0.113.9:18333")
	n := p2p.NewNode(server, remote, true, p2p.MagicTestNet)

	payload := encodeVersion(versionPayload{
		nonce:     nc.Identity.Nonce,
		protoVer:  1,
		userAgent: "x",
		pubKey:    nc.Identity.PublicKey(),
		sig:       nc.Identity.SignNonce(nc.Identity.Nonce),
	})
	mp.onVersion(n, payload)

	if !n.DisconnectRequested() {
		t.Fatal("expected self-connect version to request disconnect")
	}
}

func TestOnVersionHandshakesInboundNode(t *testing.T) {
	h := &recordingHandler{}
	nc := newTestContext(t, h)
	mp := New(nc)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	remote, _ := p2p.ParseService("203.0.113.10:18333")
	n := p2p.NewNode(server, remote, true, p2p.MagicTestNet)

	peerID, err := p2p.NewIdentity(remote)
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	payload := encodeVersion(versionPayload{
		nonce:     peerID.Nonce,
		protoVer:  1,
		userAgent: "peer/1.0",
		pubKey:    peerID.PublicKey(),
		sig:       peerID.SignNonce(peerID.Nonce),
	})
	mp.onVersion(n, payload)

	if n.State() != p2p.StateHandshaked {
		t.Fatalf("expected state HANDSHAKED, got %s", n.State())
	}
	if n.SendBufferLen() == 0 {
		t.Fatal("expected version+verack queued for send")
	}
}

func TestSubscribeRelayOnlyOnFirstSubscriber(t *testing.T) {
	h := &recordingHandler{}
	nc := newTestContext(t, h)

	remoteA, _ := p2p.ParseService("203.0.113.11:18333")
	remoteB, _ := p2p.ParseService("203.0.113.12:18333")
	_, serverA := net.Pipe()
	_, serverB := net.Pipe()
	defer serverA.Close()
	defer serverB.Close()
	a := p2p.NewNode(serverA, remoteA, true, p2p.MagicTestNet)
	b := p2p.NewNode(serverB, remoteB, false, p2p.MagicTestNet)
	a.SetState(p2p.StateHandshaked)
	b.SetState(p2p.StateHandshaked)
	nc.AddNode(a)
	nc.AddNode(b)

	mp := New(nc)
	mp.onSubscribe(a, encodeSubscribe(7, 3))

	if !a.IsSubscribed(7) {
		t.Fatal("expected node A subscribed to channel 7")
	}
	if b.SendBufferLen() == 0 {
		t.Fatal("expected subscribe relay queued for node B as first-subscriber case")
	}
}
