package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/empower1/empower1/internal/p2p"
)

type noopHandler struct{}

func (noopHandler) OnFrame(ctx context.Context, node *p2p.Node, command string, payload []byte) error {
	return nil
}

func (noopHandler) ProduceMessages(ctx context.Context, node *p2p.Node, isTrickle bool) []p2p.Frame {
	return nil
}

func TestSupervisorStartStop(t *testing.T) {
	local, err := p2p.ParseService("127.0.0.1:18444")
	if err != nil {
		t.Fatalf("ParseService: %v", err)
	}
	nc, err := p2p.NewNetContext(p2p.DefaultConfig(), local, p2p.MagicTestNet, noopHandler{}, nil)
	if err != nil {
		t.Fatalf("NewNetContext: %v", err)
	}

	sup := New(nc)
	started := make(chan struct{})
	sup.AddTask("probe", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	sup.Stop(5 * time.Second)

	select {
	case <-sup.stopped:
	default:
		t.Fatal("expected all tasks to be joined after Stop")
	}
}

func TestSupervisorStartTwiceRejected(t *testing.T) {
	local, _ := p2p.ParseService("127.0.0.1:18445")
	nc, err := p2p.NewNetContext(p2p.DefaultConfig(), local, p2p.MagicTestNet, noopHandler{}, nil)
	if err != nil {
		t.Fatalf("NewNetContext: %v", err)
	}
	sup := New(nc)
	sup.AddTask("idle", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer sup.Stop(2 * time.Second)

	if err := sup.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}
