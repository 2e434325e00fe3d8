package history

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/luca-patrignani/p2b-ledger/ledger"
)

func setupTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func recordChain(t *testing.T, s *Store) {
	t.Helper()
	g := ledger.NewBlock(1, nil, ledger.GenesisPreviousHash, 5001)
	if err := s.Record(g, ledger.Balances{"5001": 100}); err != nil {
		t.Fatal(err)
	}
	b2 := ledger.NewBlock(2, []ledger.Transaction{ledger.NewTransaction("5001", "alice", 30)}, g.Hash, 5002)
	if err := s.Record(b2, ledger.Balances{"5001": 70, "alice": 30}); err != nil {
		t.Fatal(err)
	}
	b3 := ledger.NewBlock(3, nil, b2.Hash, 5003)
	if err := s.Record(b3, ledger.Balances{"5001": 70, "alice": 30}); err != nil {
		t.Fatal(err)
	}
	b4 := ledger.NewBlock(4, []ledger.Transaction{ledger.NewTransaction("alice", "bob", 10)}, b3.Hash, 5001)
	if err := s.Record(b4, ledger.Balances{"5001": 70, "alice": 20, "bob": 10}); err != nil {
		t.Fatal(err)
	}
}

func TestBalancesOnlyRecordChanges(t *testing.T) {
	s := setupTest(t)
	recordChain(t, s)

	entries, err := s.Balances("alice")
	if err != nil {
		t.Fatal(err)
	}
	expected := []Entry{{Block: 2, Balance: 30}, {Block: 4, Balance: 20}}
	if len(entries) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, entries)
	}
	for i := range expected {
		if entries[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected[i], entries[i])
		}
	}

	entries, err = s.Balances("5001")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Balance != 100 || entries[1].Balance != 70 {
		t.Fatalf("unexpected history for 5001: %v", entries)
	}
}

func TestTransfers(t *testing.T) {
	s := setupTest(t)
	recordChain(t, s)

	transfers, err := s.Transfers("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %v", transfers)
	}
	if transfers[0].Block != 2 || transfers[1].Recipient != "bob" {
		t.Fatalf("unexpected transfers %v", transfers)
	}
}

func TestUnknownAccount(t *testing.T) {
	s := setupTest(t)
	entries, err := s.Balances("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("expected empty non-nil history, got %v", entries)
	}
}

func TestObserver(t *testing.T) {
	s := setupTest(t)
	observe := s.Observer(slog.Default())
	observe(ledger.NewBlock(1, nil, ledger.GenesisPreviousHash, 1), ledger.Balances{"1": 5})
	entries, err := s.Balances("1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Balance != 5 {
		t.Fatalf("unexpected entries %v", entries)
	}
}

func TestFileStoreStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ledger.NewBlock(1, nil, ledger.GenesisPreviousHash, 1), ledger.Balances{"1": 5}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	entries, err := s.Balances("1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected reopened store to be empty, got %v", entries)
	}
}
