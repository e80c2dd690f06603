package p2p

import (
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/empower1/empower1/internal/p2p/addrmgr"
	"github.com/empower1/empower1/internal/p2p/banlist"
)

// NetContext is the single shared handle every long-lived task (Socket
// Loop, Connection Manager, Message Pump, seed sources, the
// lifecycle supervisor) is handed the same *NetContext instead of closing
// over file-scope globals. Its fields carry the same locks the original
// net.cpp globals did, just scoped to an instance instead of the process.
//
// Lock discipline: nodesLock -> per-node -> subsystem locks
// (AddrBook, Bans, Relay). Never acquire nodesLock while holding a
// per-Node lock.
type NetContext struct {
	Config   Config
	Identity *Identity
	Magic    Magic

	AddrBook *addrmgr.AddressBook
	Bans     *banlist.BanList
	Relay    *RelayMemory
	Metrics  *Metrics

	Handler     Handler
	Persistence Persistence

	nodesMu      sync.RWMutex
	nodes        map[string]*Node // live set, keyed by Service.Key()
	disconnected map[string]*Node // reaper pool awaiting ref-drain

	shutdown int32 // atomic bool; see Shutdown()/IsShuttingDown()

	running   sync.Map // task name -> *int32 running-count token
	Logger    *log.Logger
}

// NewNetContext builds the shared handle. local is this process's own
// listen Service, used both for self-connect detection and to seed the
// local Identity.
func NewNetContext(cfg Config, local Service, magic Magic, handler Handler, persistence Persistence) (*NetContext, error) {
	identity, err := NewIdentity(local)
	if err != nil {
		return nil, err
	}
	return &NetContext{
		Config:       cfg,
		Identity:     identity,
		Magic:        magic,
		AddrBook:     addrmgr.New(local),
		Bans:         banlist.New(),
		Relay:        NewRelayMemory(RelayMemoryCap),
		Metrics:      NewMetrics(),
		Handler:      handler,
		Persistence:  persistence,
		nodes:        make(map[string]*Node),
		disconnected: make(map[string]*Node),
		Logger:       log.New(os.Stdout, "P2P: ", log.Ldate|log.Ltime|log.Lshortfile),
	}, nil
}

// IsShuttingDown reports the process-wide shutdown flag, the single
// cancellation signal every task polls.
func (nc *NetContext) IsShuttingDown() bool {
	return atomic.LoadInt32(&nc.shutdown) != 0
}

// Shutdown sets the process-wide shutdown flag.
func (nc *NetContext) Shutdown() {
	atomic.StoreInt32(&nc.shutdown, 1)
}

// Track increments the running-count token for a task kind and returns a
// func that decrements it again. The long-lived tasks take their token
// when they start and release it when they return, so the count does not
// drop while a task sleeps or blocks between cycles.
func (nc *NetContext) Track(task string) (release func()) {
	v, _ := nc.running.LoadOrStore(task, new(int32))
	counter := v.(*int32)
	atomic.AddInt32(counter, 1)
	return func() { atomic.AddInt32(counter, -1) }
}

// RunningCount returns the current token value for task, 0 if never
// registered.
func (nc *NetContext) RunningCount(task string) int32 {
	v, ok := nc.running.Load(task)
	if !ok {
		return 0
	}
	return atomic.LoadInt32(v.(*int32))
}

// AddNode inserts n into the live set.
func (nc *NetContext) AddNode(n *Node) {
	nc.nodesMu.Lock()
	nc.nodes[n.Addr.Key()] = n
	nc.nodesMu.Unlock()
	nc.Metrics.PeersConnected.Inc()
}

// RemoveNode moves n from the live set into the disconnected pool, where
// it waits out reapGracePeriod for any straggling reference holders
//.
func (nc *NetContext) RemoveNode(n *Node) {
	nc.nodesMu.Lock()
	key := n.Addr.Key()
	if _, ok := nc.nodes[key]; ok {
		delete(nc.nodes, key)
		nc.disconnected[key] = n
	}
	nc.nodesMu.Unlock()
	nc.Metrics.PeersConnected.Dec()
}

// PurgeDisconnected deletes every Node in the disconnected pool that is
// ReadyForDeletion, returning how many were purged.
func (nc *NetContext) PurgeDisconnected() int {
	nc.nodesMu.Lock()
	defer nc.nodesMu.Unlock()
	purged := 0
	now := time.Now()
	for key, n := range nc.disconnected {
		if n.ReadyForDeletion(now) {
			delete(nc.disconnected, key)
			purged++
		}
	}
	return purged
}

// Snapshot returns every live Node with its reference count bumped by
// one; callers must call Node.Release() when done. The slice is iterated
// after the lock is released, with per-Node ref-counts pinning each Node
// alive in the meantime.
func (nc *NetContext) Snapshot() []*Node {
	nc.nodesMu.RLock()
	defer nc.nodesMu.RUnlock()
	out := make([]*Node, 0, len(nc.nodes))
	for _, n := range nc.nodes {
		n.AddRef()
		out = append(out, n)
	}
	return out
}

// NodeCount returns the number of live outbound and inbound nodes.
func (nc *NetContext) NodeCount() (outbound, inbound int) {
	nc.nodesMu.RLock()
	defer nc.nodesMu.RUnlock()
	for _, n := range nc.nodes {
		if n.Inbound {
			inbound++
		} else {
			outbound++
		}
	}
	return outbound, inbound
}

// ConnectedGroups returns the diversity groups of every live outbound
// Node, for the Connection Manager's group-diversity filter.
func (nc *NetContext) ConnectedGroups() map[string]bool {
	nc.nodesMu.RLock()
	defer nc.nodesMu.RUnlock()
	groups := make(map[string]bool)
	for _, n := range nc.nodes {
		if !n.Inbound {
			groups[n.Addr.Group()] = true
		}
	}
	return groups
}

// FindNode returns the live Node for svc, if any.
func (nc *NetContext) FindNode(svc Service) (*Node, bool) {
	nc.nodesMu.RLock()
	defer nc.nodesMu.RUnlock()
	n, ok := nc.nodes[svc.Key()]
	return n, ok
}

// AllForReap returns every live Node, used only by the Socket Loop's reap
// step which needs to inspect (not pin) disconnect_requested/ref_count.
func (nc *NetContext) AllForReap() []*Node {
	nc.nodesMu.RLock()
	defer nc.nodesMu.RUnlock()
	out := make([]*Node, 0, len(nc.nodes))
	for _, n := range nc.nodes {
		out = append(out, n)
	}
	return out
}

// DisconnectedPool returns every Node currently held in the reaper pool.
func (nc *NetContext) DisconnectedPool() []*Node {
	nc.nodesMu.RLock()
	defer nc.nodesMu.RUnlock()
	out := make([]*Node, 0, len(nc.disconnected))
	for _, n := range nc.disconnected {
		out = append(out, n)
	}
	return out
}
