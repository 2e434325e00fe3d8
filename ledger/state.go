package ledger

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrInconsistentBlock means a block reached ApplyBlock although some of its
// transactions are not valid against the current balances.
var ErrInconsistentBlock = errors.New("inconsistent block")

// Balances maps an account to the amount it holds.
type Balances map[string]int64

func (b Balances) Clone() Balances {
	if b == nil {
		return Balances{}
	}
	return maps.Clone(b)
}

// IsValid reports whether txn can be applied to working: the sender must
// be a known account holding at least the amount, and the amount must be
// positive. The recipient does not need to exist.
func IsValid(txn Transaction, working Balances) bool {
	if txn.Amount <= 0 {
		return false
	}
	balance, ok := working[txn.Sender]
	return ok && balance >= txn.Amount
}

// Apply moves the amount from sender to recipient in working and returns it.
// txn must have been checked with IsValid against the same balances.
func Apply(txn Transaction, working Balances) Balances {
	working[txn.Sender] -= txn.Amount
	working[txn.Recipient] += txn.Amount
	return working
}

// State holds the authoritative balances of a node.
type State struct {
	mu       sync.RWMutex
	balances Balances
}

func NewState() *State {
	return &State{balances: Balances{}}
}

// FilterValid walks txns in order over a copy of the current balances and
// returns the ones that could be applied, keeping their relative order.
// Each transaction sees the effect of the valid ones before it.
func (s *State) FilterValid(txns []Transaction) []Transaction {
	s.mu.RLock()
	working := s.balances.Clone()
	s.mu.RUnlock()
	return filterValid(txns, working)
}

func filterValid(txns []Transaction, working Balances) []Transaction {
	valid := make([]Transaction, 0, len(txns))
	for _, txn := range txns {
		if IsValid(txn, working) {
			working = Apply(txn, working)
			valid = append(valid, txn)
		}
	}
	return valid
}

// ApplyBlock applies every transaction of block in order. The block must
// contain exactly the transactions FilterValid would select; otherwise
// ErrInconsistentBlock is returned and the balances are left untouched.
func (s *State) ApplyBlock(block Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.balances.Clone()
	valid := filterValid(block.Transactions, working)
	if !slices.Equal(valid, block.Transactions) {
		return fmt.Errorf("%w: block %d has %d transactions, %d are valid",
			ErrInconsistentBlock, block.Number, len(block.Transactions), len(valid))
	}
	s.balances = working
	return nil
}

// Seed credits amount to account outside of any transaction.
func (s *State) Seed(account string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] += amount
}

func (s *State) Balance(account string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[account]
	return b, ok
}

// Snapshot returns a copy of the balances.
func (s *State) Snapshot() Balances {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances.Clone()
}
