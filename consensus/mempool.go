package consensus

import (
	"sync"

	"github.com/luca-patrignani/p2b-ledger/ledger"
)

// Mempool holds the transactions waiting to be mined. A transaction equal
// to one already pending is not added twice.
type Mempool struct {
	mu      sync.Mutex
	pending map[ledger.Transaction]struct{}
}

func NewMempool() *Mempool {
	return &Mempool{pending: make(map[ledger.Transaction]struct{})}
}

// Add reports whether txn was added.
func (m *Mempool) Add(txn ledger.Transaction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[txn]; ok {
		return false
	}
	m.pending[txn] = struct{}{}
	return true
}

// Remove drops the given transactions and returns how many were pending.
func (m *Mempool) Remove(txns []ledger.Transaction) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, txn := range txns {
		if _, ok := m.pending[txn]; ok {
			delete(m.pending, txn)
			removed++
		}
	}
	return removed
}

// Sorted returns the pending transactions in canonical order.
func (m *Mempool) Sorted() []ledger.Transaction {
	m.mu.Lock()
	txns := make([]ledger.Transaction, 0, len(m.pending))
	for txn := range m.pending {
		txns = append(txns, txn)
	}
	m.mu.Unlock()
	return ledger.SortTransactions(txns)
}

func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
