package ledger

import (
	"fmt"
	"slices"
	"sync"
)

// Blockchain is an append-only list of accepted blocks.
type Blockchain struct {
	mu     sync.RWMutex
	blocks []Block
}

// NewBlockchain creates an empty chain. The first appended block becomes
// the genesis block.
func NewBlockchain() *Blockchain {
	return &Blockchain{
		blocks: make([]Block, 0),
	}
}

// Append adds block to the end of the chain after checking that it links
// to the current tail. It does not check transactions or the miner: that
// is the job of the consensus layer.
func (bc *Blockchain) Append(block Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if len(bc.blocks) == 0 {
		if block.Number != 1 {
			return fmt.Errorf("invalid genesis number: expected 1, got %d", block.Number)
		}
		if expectedHash := block.ComputeHash(); block.Hash != expectedHash {
			return fmt.Errorf("invalid hash: expected %s, got %s", expectedHash, block.Hash)
		}
	} else if err := bc.validateBlock(block, bc.blocks[len(bc.blocks)-1]); err != nil {
		return fmt.Errorf("invalid block: %w", err)
	}

	bc.blocks = append(bc.blocks, block)
	return nil
}

// GetLatest returns the most recently added block in the blockchain.
// Returns an error if the blockchain is empty.
func (bc *Blockchain) GetLatest() (Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if len(bc.blocks) == 0 {
		return Block{}, fmt.Errorf("blockchain is empty")
	}

	return bc.blocks[len(bc.blocks)-1], nil
}

// GetByNumber retrieves the block with the given number.
func (bc *Blockchain) GetByNumber(number int) (Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if number < 1 || number > len(bc.blocks) {
		return Block{}, fmt.Errorf("block %d out of range", number)
	}

	return bc.blocks[number-1], nil
}

func (bc *Blockchain) Len() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.blocks)
}

// Blocks returns a copy of the chain.
func (bc *Blockchain) Blocks() []Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return slices.Clone(bc.blocks)
}

// Verify checks the hash of every block and the linkage between
// consecutive blocks.
func (bc *Blockchain) Verify() error {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if len(bc.blocks) == 0 {
		return nil
	}

	genesis := bc.blocks[0]
	if genesis.Number != 1 || genesis.Hash != genesis.ComputeHash() {
		return fmt.Errorf("invalid genesis block")
	}

	for i := 1; i < len(bc.blocks); i++ {
		current := bc.blocks[i]
		previous := bc.blocks[i-1]

		if err := bc.validateBlock(current, previous); err != nil {
			return fmt.Errorf("block %d invalid: %w", current.Number, err)
		}
	}

	return nil
}

// validateBlock verifies number continuity, previous hash linkage and the
// block's own hash.
func (bc *Blockchain) validateBlock(current, previous Block) error {
	if current.Number != previous.Number+1 {
		return fmt.Errorf("invalid number: expected %d, got %d", previous.Number+1, current.Number)
	}

	if current.PreviousHash != previous.Hash {
		return fmt.Errorf("invalid prev hash: expected %s, got %s", previous.Hash, current.PreviousHash)
	}

	expectedHash := current.ComputeHash()
	if current.Hash != expectedHash {
		return fmt.Errorf("invalid hash: expected %s, got %s", expectedHash, current.Hash)
	}

	return nil
}
