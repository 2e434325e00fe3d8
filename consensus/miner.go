package consensus

import (
	"context"
	"fmt"

	"github.com/luca-patrignani/p2b-ledger/ledger"
)

// TriggerMining starts a mining cycle unless one is already running or the
// engine is stopped. It reports whether a cycle was started.
func (e *Engine) TriggerMining() bool {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.stopped {
		return false
	}
	if !e.mining.CompareAndSwap(false, true) {
		return false
	}
	e.wg.Add(1)
	go e.mine()
	return true
}

// mine runs one cycle: wait for the block time, assemble and accept a
// block, then broadcast it. A cycle is never cancelled.
func (e *Engine) mine() {
	defer e.wg.Done()

	<-e.clock.After(e.blockTime)

	block, ok := e.assemble()
	if ok {
		e.broadcast(block)
	}

	e.mining.Store(false)
	// A block accepted while this cycle was running could not start a new
	// one, so check the turn again.
	if e.scheduledNext() {
		e.TriggerMining()
	}
}

func (e *Engine) assemble() (ledger.Block, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	number, previousHash, previousMiner := 1, ledger.GenesisPreviousHash, NoMiner
	if tail := e.tailLocked(); tail != nil {
		number, previousHash, previousMiner = tail.Number+1, tail.Hash, tail.Miner
	}
	if e.schedule.Next(previousMiner) != e.self {
		e.logger.Debug("not scheduled anymore", "number", number)
		return ledger.Block{}, false
	}

	var txns []ledger.Transaction
	if number > 1 {
		txns = e.state.FilterValid(e.pending.Sorted())
	}
	block := ledger.NewBlock(number, txns, previousHash, e.self)

	if err := e.validateLocked(block, block.Hash); err != nil {
		e.logger.Error("mined an invalid block", "number", number, "err", err)
		panic(fmt.Errorf("%w: %v", ledger.ErrInconsistentBlock, err))
	}
	if err := e.acceptLocked(block); err != nil {
		e.logger.Error("could not apply mined block", "number", number, "err", err)
		panic(err)
	}
	if e.signer != nil {
		sig, err := e.signer.Sign([]byte(block.Hash))
		if err != nil {
			e.logger.Error("could not sign mined block", "number", number, "err", err)
		} else {
			e.signatures[block.Number] = sig
		}
	}
	e.logger.Info("block mined", "number", block.Number, "txns", len(block.Transactions), "hash", block.Hash)
	return block, true
}

func (e *Engine) broadcast(block ledger.Block) {
	if err := e.broadcaster.Broadcast(context.Background(), block); err != nil {
		e.logger.Warn("broadcast incomplete", "number", block.Number, "err", err)
	}
}

// scheduledNext reports whether this node mines the block after the
// current tail. It is false while the chain is empty: genesis is only
// mined on request.
func (e *Engine) scheduledNext() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	tail := e.tailLocked()
	return tail != nil && e.schedule.Next(tail.Miner) == e.self
}
