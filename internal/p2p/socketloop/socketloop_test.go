package socketloop

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/empower1/empower1/internal/p2p"
)

func newTestContext(t *testing.T, local p2p.Service) *p2p.NetContext {
	t.Helper()
	nc, err := p2p.NewNetContext(p2p.DefaultConfig(), local, p2p.MagicTestNet, noopHandler{}, nil)
	if err != nil {
		t.Fatalf("NewNetContext: %v", err)
	}
	return nc
}

type noopHandler struct{}

func (noopHandler) OnFrame(ctx context.Context, node *p2p.Node, command string, payload []byte) error {
	return nil
}

func (noopHandler) ProduceMessages(ctx context.Context, node *p2p.Node, isTrickle bool) []p2p.Frame {
	return nil
}

func TestSocketLoopAcceptsInbound(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	local, _ := p2p.ParseService(ln.Addr().String())
	nc := newTestContext(t, local)

	admitted := make(chan *p2p.Node, 1)
	sl := New(nc, ln, func(conn net.Conn) (*p2p.Node, error) {
		n := p2p.NewNode(conn, local, true, p2p.MagicTestNet)
		admitted <- n
		return n, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sl.Run(ctx)

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case n := <-admitted:
		if n == nil {
			t.Fatal("admitted nil node")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}

	outbound, inbound := nc.NodeCount()
	if outbound != 0 || inbound != 1 {
		t.Fatalf("expected 1 inbound node, got outbound=%d inbound=%d", outbound, inbound)
	}
}

func TestSocketLoopReapsDisconnectedNode(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	local, _ := p2p.ParseService(ln.Addr().String())
	nc := newTestContext(t, local)

	client, server := net.Pipe()
	defer client.Close()
	n := p2p.NewNode(server, local, false, p2p.MagicTestNet)
	nc.AddNode(n)
	n.RequestDisconnect()

	sl := New(nc, ln, func(conn net.Conn) (*p2p.Node, error) {
		return p2p.NewNode(conn, local, true, p2p.MagicTestNet), nil
	})
	sl.reap()

	if _, ok := nc.FindNode(local); ok {
		t.Fatal("disconnected node still live after reap")
	}
}
