package main

import (
	"strings"
	"testing"

	"github.com/luca-patrignani/p2b-ledger/ledger"
)

func TestBalancesTableSorted(t *testing.T) {
	data := balancesTable(ledger.Balances{"5003": 1, "5001": 9990, "5002": 9})
	if len(data) != 4 {
		t.Fatalf("expected header and 3 rows, got %d", len(data))
	}
	if data[1][0] != "5001" || data[3][0] != "5003" || data[1][1] != "9990" {
		t.Fatalf("unexpected rows %v", data)
	}
}

func TestChainTable(t *testing.T) {
	g := ledger.NewBlock(1, nil, ledger.GenesisPreviousHash, 5001)
	b := ledger.NewBlock(2, []ledger.Transaction{ledger.NewTransaction("5001", "5002", 5)}, g.Hash, 5002)
	data := chainTable([]ledger.Block{g, b})
	if len(data) != 3 || data[2][2] != "1" || data[2][3] != b.Hash[:12] {
		t.Fatalf("unexpected rows %v", data)
	}
	if !strings.HasPrefix(g.Hash, data[1][3]) {
		t.Fatalf("expected short hash of %s, got %s", g.Hash, data[1][3])
	}
}
