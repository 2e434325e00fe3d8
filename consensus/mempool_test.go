package consensus

import (
	"testing"

	"github.com/luca-patrignani/p2b-ledger/ledger"
)

func TestMempoolDedup(t *testing.T) {
	m := NewMempool()
	if !m.Add(ledger.NewTransaction("A", "B", 5)) {
		t.Fatal("expected first add to succeed")
	}
	if m.Add(ledger.NewTransaction("A", "B", 5)) {
		t.Fatal("expected duplicate add to be ignored")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", m.Len())
	}
}

func TestMempoolSortedAndRemove(t *testing.T) {
	m := NewMempool()
	m.Add(ledger.NewTransaction("B", "A", 1))
	m.Add(ledger.NewTransaction("A", "C", 2))
	m.Add(ledger.NewTransaction("A", "B", 3))

	sorted := m.Sorted()
	if sorted[0].Recipient != "B" || sorted[1].Recipient != "C" || sorted[2].Sender != "B" {
		t.Fatalf("unexpected order %v", sorted)
	}

	removed := m.Remove([]ledger.Transaction{ledger.NewTransaction("A", "C", 2), ledger.NewTransaction("X", "Y", 1)})
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 pending transactions, got %d", m.Len())
	}
}
