// Package lifecycle implements the Lifecycle Supervisor: start every
// long-lived task, drive the periodic Address Dumper, and bring
// everything down within the 20s join deadline on shutdown. Built on a
// Server.Start/Stop shape (a WaitGroup-joined set of goroutines gated by
// a quit signal), replaced here with golang.org/x/sync/errgroup so task
// errors propagate instead of being silently dropped.
package lifecycle

import (
	"context"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/empower1/empower1/internal/p2p"
	"github.com/empower1/empower1/internal/p2p/addrmgr"
)

// Task is any long-lived loop the Supervisor manages: SocketLoop.Run,
// ConnMgr.Run, ConnMgr.RunAddedPeers, MsgPump.Run, seeds.Runner.Run all
// satisfy this signature.
type Task func(ctx context.Context) error

// Supervisor starts and stops the full set of P2P tasks against a shared
// *p2p.NetContext.
type Supervisor struct {
	ctx    *p2p.NetContext
	tasks  []namedTask
	logger *log.Logger

	cancel  context.CancelFunc
	group   *errgroup.Group
	stopped chan struct{}
}

type namedTask struct {
	name string
	fn   Task
}

// New builds a Supervisor. Register tasks with AddTask before calling
// Start.
func New(nc *p2p.NetContext) *Supervisor {
	return &Supervisor{
		ctx:    nc,
		logger: log.New(os.Stdout, "LIFECYCLE: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// AddTask registers a named long-lived task to run under Start.
func (s *Supervisor) AddTask(name string, fn Task) {
	s.tasks = append(s.tasks, namedTask{name: name, fn: fn})
}

// Start loads the address book from Persistence (if configured), then
// launches every registered task and the Address Dumper. It returns an
// error only if called twice; task failures surface later through Wait.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cancel != nil {
		return p2p.ErrShuttingDown
	}

	s.loadAddressBook()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	s.group = group
	s.stopped = make(chan struct{})

	for _, t := range s.tasks {
		t := t
		group.Go(func() error {
			s.logger.Printf("starting task %q", t.name)
			err := t.fn(groupCtx)
			s.logger.Printf("task %q exited: %v", t.name, err)
			return err
		})
	}

	group.Go(func() error {
		return s.runAddressDumper(groupCtx)
	})

	go func() {
		_ = s.group.Wait()
		close(s.stopped)
	}()

	return nil
}

// runAddressDumper periodically invokes the Address Dumper every 100s
// and once more on shutdown.
func (s *Supervisor) runAddressDumper(ctx context.Context) error {
	release := s.ctx.Track("addressdumper")
	defer release()

	ticker := time.NewTicker(100 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.dumpAddressBook()
			return nil
		case <-ticker.C:
			s.dumpAddressBook()
		}
	}
}

func (s *Supervisor) dumpAddressBook() {
	if s.ctx.Persistence == nil {
		return
	}
	snap := s.ctx.AddrBook.Snapshot()
	entries := make([]p2p.PeerAddressSnapshot, len(snap))
	for i, e := range snap {
		entries[i] = p2p.PeerAddressSnapshot{
			Service:      e.Service,
			SourceGroup:  e.SourceGroup,
			Services:     e.Services,
			LastSeen:     e.LastSeen,
			LastTry:      e.LastTry,
			AttemptCount: e.AttemptCount,
			SuccessCount: e.SuccessCount,
		}
	}
	if err := s.ctx.Persistence.WriteAddressBook(entries); err != nil {
		s.logger.Printf("address dump failed: %v", err)
	}
}

func (s *Supervisor) loadAddressBook() {
	if s.ctx.Persistence == nil {
		return
	}
	entries, err := s.ctx.Persistence.ReadAddressBook()
	if err != nil {
		s.logger.Printf("address book load failed: %v", err)
		return
	}
	snap := make([]addrmgr.Snapshot, len(entries))
	for i, e := range entries {
		snap[i] = addrmgr.Snapshot{
			Service:      e.Service,
			SourceGroup:  e.SourceGroup,
			Services:     e.Services,
			LastSeen:     e.LastSeen,
			LastTry:      e.LastTry,
			AttemptCount: e.AttemptCount,
			SuccessCount: e.SuccessCount,
		}
	}
	s.ctx.AddrBook.LoadSnapshot(snap)
	s.logger.Printf("loaded %d addresses from persistence", len(entries))
}

// Stop sets the shutdown flag and waits up to gracePeriod for every task
// to reach quiescence, logging any stragglers still running once the
// grace period elapses.
func (s *Supervisor) Stop(gracePeriod time.Duration) {
	if s.cancel == nil {
		return
	}
	s.ctx.Shutdown()
	s.cancel()

	select {
	case <-s.stopped:
		s.logger.Printf("all tasks stopped cleanly")
	case <-time.After(gracePeriod):
		s.logStragglers()
	}
}

func (s *Supervisor) logStragglers() {
	for _, t := range s.tasks {
		if n := s.ctx.RunningCount(t.name); n > 0 {
			s.logger.Printf("task %q still running after grace period", t.name)
		}
	}
}
