package consensus

import (
	"errors"
	"fmt"

	"github.com/luca-patrignani/p2b-ledger/ledger"
)

// ErrInvalidBlock is wrapped by every reason a block can be rejected for.
var ErrInvalidBlock = errors.New("invalid block")

var (
	ErrHashMismatch        = fmt.Errorf("%w: hash mismatch", ErrInvalidBlock)
	ErrPreviousHash        = fmt.Errorf("%w: previous hash does not match chain tail", ErrInvalidBlock)
	ErrInvalidTransactions = fmt.Errorf("%w: invalid transactions", ErrInvalidBlock)
	ErrBlockNumber         = fmt.Errorf("%w: unexpected number", ErrInvalidBlock)
	ErrWrongMiner          = fmt.Errorf("%w: wrong miner", ErrInvalidBlock)
	ErrUnsigned            = fmt.Errorf("%w: missing or bad miner signature", ErrInvalidBlock)
)

// ValidateBlock decides whether block can be appended after tail, which is
// nil when the chain is empty. Transactions are checked against state as it
// is before the block. The first failing check is returned.
func ValidateBlock(block ledger.Block, claimedHash string, tail *ledger.Block, state *ledger.State, schedule Schedule) error {
	if recomputed := block.ComputeHash(); claimedHash != block.Hash || block.Hash != recomputed {
		return fmt.Errorf("%w: claimed %s, block %s, recomputed %s", ErrHashMismatch, claimedHash, block.Hash, recomputed)
	}

	if tail != nil && block.PreviousHash != tail.Hash {
		return fmt.Errorf("%w: expected %s, got %s", ErrPreviousHash, tail.Hash, block.PreviousHash)
	}

	if valid := state.FilterValid(block.Transactions); len(valid) != len(block.Transactions) {
		return fmt.Errorf("%w: %d of %d valid", ErrInvalidTransactions, len(valid), len(block.Transactions))
	}

	expectedNumber, previousMiner := 1, NoMiner
	if tail != nil {
		expectedNumber, previousMiner = tail.Number+1, tail.Miner
	}
	if block.Number != expectedNumber {
		return fmt.Errorf("%w: expected %d, got %d", ErrBlockNumber, expectedNumber, block.Number)
	}

	if expected := schedule.Next(previousMiner); block.Miner != expected {
		return fmt.Errorf("%w: expected %d, got %d", ErrWrongMiner, expected, block.Miner)
	}

	return nil
}
