// Package socketloop implements the Socket Loop: the single long-lived
// task that owns the listen socket and drives every Node's non-blocking
// receive/send, idle timeout, and reap cycle. Go has no
// select(2)-over-arbitrary-fds primitive for net.Conn, so "non-blocking"
// here is expressed the way net/http and most production Go servers do
// it: a very short per-call deadline (SetReadDeadline/SetWriteDeadline)
// stands in for WOULDBLOCK, and a timeout error is treated as transient.
package socketloop

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/empower1/empower1/internal/p2p"
)

const (
	recvChunk     = 64 * 1024 // §4.4 step 4: "one non-blocking recv of up to 64 KiB"
	pollTimeout   = 50 * time.Millisecond
	loopSleep     = 10 * time.Millisecond
)

// SocketLoop owns the listen socket and drives the Socket Loop cycle
// against a *p2p.NetContext.
type SocketLoop struct {
	ctx      *p2p.NetContext
	listener net.Listener
	logger   *log.Logger

	// admit is called with each freshly accepted connection and decides
	// whether it becomes a Node; see acceptOne below.
	admit func(conn net.Conn) (*p2p.Node, error)
}

// New wraps an already-bound listener. admit is called for every accepted
// connection and must apply the inbound cap / ban-list checks of spec
// §4.4 step 3 and return the Node to register, or an error to reject and
// close the raw connection.
func New(nc *p2p.NetContext, listener net.Listener, admit func(net.Conn) (*p2p.Node, error)) *SocketLoop {
	return &SocketLoop{
		ctx:      nc,
		listener: listener,
		admit:    admit,
		logger:   log.New(os.Stdout, "SOCKETLOOP: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// Run drives the loop until ctx is cancelled or the context's shutdown
// flag is observed"observe shutdown after every poll".
func (sl *SocketLoop) Run(ctx context.Context) error {
	release := sl.ctx.Track("socketloop")
	defer release()
	defer sl.listener.Close()

	for {
		if ctx.Err() != nil || sl.ctx.IsShuttingDown() {
			return nil
		}

		sl.reap()
		sl.acceptOne()
		sl.serviceNodes()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(loopSleep):
		}
	}
}

// reap closes and removes any Node that requested disconnect or went
// idle, then purges the disconnected pool of anything fully drained.
func (sl *SocketLoop) reap() {
	now := time.Now()
	for _, n := range sl.ctx.AllForReap() {
		empty := n.SendBufferLen() == 0 && n.ReceiveBufferLen() == 0
		if n.DisconnectRequested() || (n.RefCount() == 0 && empty) {
			n.Conn().Close()
			n.ExtendRelease(now)
			sl.ctx.RemoveNode(n)
		}
	}
	purged := sl.ctx.PurgeDisconnected()
	if purged > 0 {
		sl.logger.Printf("purged %d disconnected nodes", purged)
	}
}

// acceptOne polls the listen socket for a single pending connection,
// using a short accept deadline as the "wait up to 50ms" poll step.
func (sl *SocketLoop) acceptOne() {
	type deadliner interface {
		SetDeadline(time.Time) error
	}
	if d, ok := sl.listener.(deadliner); ok {
		_ = d.SetDeadline(time.Now().Add(pollTimeout))
	}

	conn, err := sl.listener.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		if !errors.Is(err, net.ErrClosed) {
			sl.logger.Printf("accept error: %v", err)
		}
		return
	}

	node, err := sl.admit(conn)
	if err != nil {
		sl.logger.Printf("rejected inbound %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	sl.ctx.AddNode(node)
}

// serviceNodes drives one receive attempt, one send attempt, and the
// idle-timeout check, for every live Node.
func (sl *SocketLoop) serviceNodes() {
	now := time.Now()
	nodes := sl.ctx.Snapshot()
	defer func() {
		for _, n := range nodes {
			n.Release()
		}
	}()

	for _, n := range nodes {
		if n.DisconnectRequested() {
			continue
		}
		sl.receive(n)
		sl.send(n)
		if drop, reason := n.Idle(now); drop {
			sl.logger.Printf("dropping %s: %s", n, reason)
			n.RequestDisconnect()
		}
	}
}

func (sl *SocketLoop) receive(n *p2p.Node) {
	conn := n.Conn()
	_ = conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	buf := make([]byte, recvChunk)
	read, err := conn.Read(buf)
	if read > 0 {
		n.FeedReceive(buf[:read])
		n.AddRecvBytes(read)
		sl.ctx.Metrics.BytesReceived.Add(float64(read))
	}
	if n.ReceiveBufferLen() > p2p.ReceiveBufferSize {
		sl.logger.Printf("flood control: %s receive buffer over cap", n)
		n.RequestDisconnect()
		return
	}
	if err != nil {
		if isTransient(err) {
			return
		}
		if errors.Is(err, io.EOF) {
			sl.logger.Printf("%s closed connection", n)
		} else {
			sl.logger.Printf("receive error on %s: %v", n, err)
		}
		n.RequestDisconnect()
	}
}

func (sl *SocketLoop) send(n *p2p.Node) {
	if n.SendBufferLen() == 0 {
		return
	}
	if n.SendBufferLen() > p2p.SendBufferSize {
		sl.logger.Printf("flood control: %s send buffer over cap", n)
		n.RequestDisconnect()
		return
	}
	want := n.SendBufferLen()
	if want > recvChunk {
		want = recvChunk
	}
	if !n.AllowSend(want) {
		return
	}
	conn := n.Conn()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Millisecond))
	chunk := n.DrainSend(want)
	if len(chunk) == 0 {
		return
	}
	written, err := conn.Write(chunk)
	if written > 0 {
		n.ConsumeSend(written)
		n.AddSentBytes(written)
		sl.ctx.Metrics.BytesSent.Add(float64(written))
	}
	if err != nil && !isTransient(err) {
		sl.logger.Printf("send error on %s: %v", n, err)
		n.RequestDisconnect()
	}
}

// isTransient classifies an I/O error
// category: timeouts stand in for WOULDBLOCK/INTR/INPROGRESS.
func isTransient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
