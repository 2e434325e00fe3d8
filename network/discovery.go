package network

import (
	"context"
	"time"
)

// Probe checks /health on every other node and reports which ones answered.
func (p Peer) Probe(ctx context.Context) map[int]bool {
	up := make(map[int]bool)
	for _, rank := range p.Others() {
		up[rank] = p.Health(ctx, rank) == nil
	}
	return up
}

// WaitForPeers probes the other nodes up to attempts times, delay apart,
// until all of them answer. It returns the last probe result.
func (p Peer) WaitForPeers(ctx context.Context, attempts uint, delay time.Duration) map[int]bool {
	var up map[int]bool
	for range attempts {
		up = p.Probe(ctx)
		if allUp(up) {
			return up
		}
		select {
		case <-ctx.Done():
			return up
		case <-time.After(delay):
		}
	}
	return up
}

func allUp(up map[int]bool) bool {
	for _, ok := range up {
		if !ok {
			return false
		}
	}
	return true
}
