package consensus

import (
	"context"
	"time"

	"github.com/luca-patrignani/p2b-ledger/ledger"
)

// Broadcaster delivers a freshly mined block to every other node.
type Broadcaster interface {
	// Broadcast sends block to all peers once. Delivery is best effort:
	// failures are reported but the block is not resent.
	Broadcast(ctx context.Context, block ledger.Block) error
}

// Clock provides the delay a miner waits before assembling a block.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

// Signer signs the hash of blocks mined locally.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
}

// Verifier checks that sig is node's signature of msg.
type Verifier interface {
	Verify(ctx context.Context, node int, msg, sig []byte) error
}

// BlockObserver is notified of every block the engine accepts, together
// with the balances right after the block was applied. Observers are
// called in chain order while the engine lock is held, so they must not
// call back into the engine.
type BlockObserver func(block ledger.Block, balances ledger.Balances)

type systemClock struct{}

func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type noBroadcast struct{}

func (noBroadcast) Broadcast(context.Context, ledger.Block) error {
	return nil
}
