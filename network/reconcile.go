package network

import (
	"context"
	"log/slog"
	"time"

	"github.com/luca-patrignani/p2b-ledger/consensus"
	"github.com/luca-patrignani/p2b-ledger/ledger"
)

// ChainSyncer is the part of the engine the Reconciler needs.
type ChainSyncer interface {
	Dump() consensus.Snapshot
	Sync(ctx context.Context, blocks []ledger.Block, signatures map[int]string) (int, error)
}

// Reconciler periodically compares the local chain with the other nodes
// and pulls the blocks it missed, since broadcasts are never retried.
type Reconciler struct {
	peer     Peer
	engine   ChainSyncer
	interval time.Duration
	logger   *slog.Logger
}

func NewReconciler(peer Peer, engine ChainSyncer, interval time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{peer: peer, engine: engine, interval: interval, logger: logger}
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile asks every other node for its chain and syncs from the ones
// that are ahead. It returns the number of blocks accepted.
func (r *Reconciler) Reconcile(ctx context.Context) int {
	total := 0
	for _, rank := range r.peer.Others() {
		local := len(r.engine.Dump().Chain)
		remote, err := r.peer.FetchDump(ctx, rank)
		if err != nil {
			r.logger.Debug("reconcile: peer unreachable", "peer", rank, "err", err)
			continue
		}
		if len(remote.Chain) <= local {
			continue
		}
		accepted, err := r.engine.Sync(ctx, remote.Chain, remote.Signatures)
		total += accepted
		if err != nil {
			r.logger.Warn("reconcile: sync failed", "peer", rank, "accepted", accepted, "err", err)
			continue
		}
		r.logger.Info("reconcile: caught up", "peer", rank, "accepted", accepted)
	}
	return total
}
