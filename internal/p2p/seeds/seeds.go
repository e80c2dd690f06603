// Package seeds implements the optional seed sources: DNS seeding, the
// hardcoded seed list, and a UPnP/NAT-PMP external-IP probe, all of which
// push addresses into the AddressBook (or, for the external-IP probes,
// correct the node's own advertised address) without the core needing to
// know how any particular source works.
package seeds

import (
	"context"
	"log"
	"os"

	"github.com/empower1/empower1/internal/p2p"
	"github.com/empower1/empower1/internal/p2p/addrmgr"
)

// Source is a single seed source. Fetch returns every address it found;
// the caller merges them into the AddressBook with the node's own listen
// address as the source.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]addrmgr.PeerAddress, error)
}

// Runner periodically asks every configured Source for addresses and
// merges them into the shared NetContext's AddressBook.
type Runner struct {
	ctx     *p2p.NetContext
	sources []Source
	logger  *log.Logger
}

// NewRunner builds a seed Runner over the given sources.
func NewRunner(nc *p2p.NetContext, sources ...Source) *Runner {
	return &Runner{
		ctx:     nc,
		sources: sources,
		logger:  log.New(os.Stdout, "SEEDS: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// RunOnce asks every source exactly once, merging results into the
// AddressBook. Used by Run at startup; ConnMgr's empty-book fallback
// drives its own *HardcodedSeed directly rather than going through a
// Runner.
func (r *Runner) RunOnce(ctx context.Context) {
	for _, src := range r.sources {
		addrs, err := src.Fetch(ctx)
		if err != nil {
			r.logger.Printf("%s: %v", src.Name(), err)
			continue
		}
		if len(addrs) == 0 {
			continue
		}
		local := r.ctx.Identity.Service.Addr
		n := r.ctx.AddrBook.Add(addrs, local)
		r.logger.Printf("%s: merged %d/%d addresses", src.Name(), n, len(addrs))
	}
}

// Run calls RunOnce once at startup and then blocks until ctx is
// cancelled; no source is asked again after that first pass.
func (r *Runner) Run(ctx context.Context) error {
	release := r.ctx.Track("seeds")
	defer release()
	r.RunOnce(ctx)
	<-ctx.Done()
	return nil
}
