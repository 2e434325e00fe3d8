package consensus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/luca-patrignani/p2b-ledger/identity"
	"github.com/luca-patrignani/p2b-ledger/ledger"
)

// heldClock never fires unless the test sends on release.
type heldClock struct {
	release chan time.Time
}

func (c heldClock) After(time.Duration) <-chan time.Time {
	return c.release
}

// loopback delivers blocks directly to the other engines.
type loopback struct {
	engines map[int]*Engine
}

func (l *loopback) Broadcast(_ context.Context, block ledger.Block) error {
	var errs []error
	for id, e := range l.engines {
		if id == block.Miner {
			continue
		}
		if err := e.InformBlock(block, block.Hash); err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitTransactionDedup(t *testing.T) {
	e := newObserver(t)
	txn := ledger.NewTransaction("A", "B", 5)
	added, err := e.SubmitTransaction(txn)
	if err != nil || !added {
		t.Fatalf("expected first submission to be added, got %v %v", added, err)
	}
	added, err = e.SubmitTransaction(txn)
	if err != nil || added {
		t.Fatalf("expected duplicate to be ignored, got %v %v", added, err)
	}
	if n := len(e.Dump().PendingTransactions); n != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", n)
	}
}

func TestSubmitNonPositiveAmount(t *testing.T) {
	e := newObserver(t)
	for _, amount := range []int64{0, -5} {
		if _, err := e.SubmitTransaction(ledger.NewTransaction("A", "B", amount)); !errors.Is(err, ErrNonPositiveAmount) {
			t.Fatalf("amount %d: expected ErrNonPositiveAmount, got %v", amount, err)
		}
	}
}

func TestNewEngineRejectsUnknownSelf(t *testing.T) {
	if _, err := NewEngine(Config{Self: 1, Nodes: []int{2, 3}}); err == nil {
		t.Fatal("expected error when self is not a node")
	}
}

func TestStartExperimentOnlyOnFirstNode(t *testing.T) {
	e := newObserver(t)
	started, err := e.StartExperiment()
	if err != nil || started {
		t.Fatalf("expected no-op on node 5003, got %v %v", started, err)
	}
}

func TestSingleFlightMining(t *testing.T) {
	clock := heldClock{release: make(chan time.Time)}
	e, err := NewEngine(Config{Self: 5001, Nodes: []int{5001, 5002}, GenesisAccount: "5001", GenesisBalance: 10000}, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	started, err := e.StartExperiment()
	if err != nil || !started {
		t.Fatalf("expected genesis mining to start, got %v %v", started, err)
	}
	if e.TriggerMining() {
		t.Fatal("expected second trigger to be refused while mining")
	}
	if started, _ := e.StartExperiment(); started {
		t.Fatal("expected StartExperiment to be refused while mining")
	}
	clock.release <- time.Now()
	e.Wait()

	dump := e.Dump()
	if len(dump.Chain) != 1 {
		t.Fatalf("expected exactly one block, got %d", len(dump.Chain))
	}
	if g := dump.Chain[0]; g.Number != 1 || g.Miner != 5001 || g.PreviousHash != ledger.GenesisPreviousHash || len(g.Transactions) != 0 {
		t.Fatalf("unexpected genesis %+v", g)
	}
	if dump.State["5001"] != 10000 {
		t.Fatalf("expected genesis balance on the miner, got %v", dump.State)
	}
	if _, err := e.StartExperiment(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestMiningWaitsWithoutLock(t *testing.T) {
	clock := heldClock{release: make(chan time.Time)}
	e, err := NewEngine(Config{Self: 5001, Nodes: []int{5001, 5002}, GenesisAccount: "5001", GenesisBalance: 10}, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.StartExperiment(); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		_, _ = e.SubmitTransaction(ledger.NewTransaction("5001", "bob", 1))
		_ = e.Dump()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine locked while waiting for the block time")
	}
	clock.release <- time.Now()
	e.Wait()
}

func TestSingleNodeKeepsMining(t *testing.T) {
	e, err := NewEngine(Config{Self: 5001, Nodes: []int{5001}, BlockTime: time.Millisecond, GenesisAccount: "5001", GenesisBalance: 100})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitTransaction(ledger.NewTransaction("5001", "alice", 40)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.StartExperiment(); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, func() bool {
		return len(e.Dump().Chain) >= 3
	})
	e.Stop()

	dump := e.Dump()
	if dump.State["alice"] != 40 || dump.State["5001"] != 60 {
		t.Fatalf("unexpected balances %v", dump.State)
	}
	if len(dump.PendingTransactions) != 0 {
		t.Fatalf("expected empty pool, got %v", dump.PendingTransactions)
	}
	if len(dump.Chain[0].Transactions) != 0 {
		t.Fatal("genesis must not contain transactions")
	}
}

func TestRoundRobinNetwork(t *testing.T) {
	lb := &loopback{engines: make(map[int]*Engine)}
	for _, id := range threeNodes {
		e, err := NewEngine(Config{
			Self:           id,
			Nodes:          threeNodes,
			BlockTime:      2 * time.Millisecond,
			GenesisAccount: "5001",
			GenesisBalance: 10000,
		}, WithBroadcaster(lb))
		if err != nil {
			t.Fatal(err)
		}
		lb.engines[id] = e
	}
	if _, err := lb.engines[5001].StartExperiment(); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, func() bool {
		return len(lb.engines[5002].Dump().Chain) >= 1
	})
	if _, err := lb.engines[5002].SubmitTransaction(ledger.NewTransaction("5001", "alice", 50)); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, func() bool {
		for _, e := range lb.engines {
			dump := e.Dump()
			if len(dump.Chain) < 7 || dump.State["alice"] != 50 {
				return false
			}
		}
		return true
	})
	for _, e := range lb.engines {
		e.Stop()
	}

	reference := lb.engines[5001].Dump().Chain
	for id, e := range lb.engines {
		chain := e.Dump().Chain
		for i := 0; i < min(len(chain), len(reference)); i++ {
			if chain[i].Hash != reference[i].Hash {
				t.Fatalf("node %d diverges at block %d", id, chain[i].Number)
			}
		}
		for i, b := range chain {
			expected := threeNodes[i%len(threeNodes)]
			if b.Miner != expected {
				t.Fatalf("node %d: block %d mined by %d, expected %d", id, b.Number, b.Miner, expected)
			}
		}
	}
}

func TestSyncCatchesUp(t *testing.T) {
	source := newObserver(t)
	g := genesis()
	b2 := ledger.NewBlock(2, []ledger.Transaction{ledger.NewTransaction("5001", "alice", 5)}, g.Hash, 5002)
	b3 := ledger.NewBlock(3, nil, b2.Hash, 5003)
	for _, b := range []ledger.Block{g, b2, b3} {
		if err := source.InformBlock(b, b.Hash); err != nil {
			t.Fatal(err)
		}
	}

	lagging := newObserver(t)
	if err := lagging.InformBlock(g, g.Hash); err != nil {
		t.Fatal(err)
	}
	accepted, err := lagging.Sync(context.Background(), source.Dump().Chain, nil)
	if err != nil {
		t.Fatal(err)
	}
	if accepted != 2 {
		t.Fatalf("expected 2 blocks accepted, got %d", accepted)
	}
	if lagging.Dump().State["alice"] != 5 {
		t.Fatal("expected synced balances")
	}

	bad := ledger.NewBlock(4, nil, "unrelated", 5001)
	accepted, err = lagging.Sync(context.Background(), []ledger.Block{bad}, nil)
	if accepted != 0 || !errors.Is(err, ErrPreviousHash) {
		t.Fatalf("expected ErrPreviousHash, got %d %v", accepted, err)
	}
}

func TestObserverSeesAcceptedBlocks(t *testing.T) {
	var seen []int
	var balances []int64
	e, err := NewEngine(Config{Self: 5003, Nodes: threeNodes, GenesisAccount: "5001", GenesisBalance: 10000},
		WithClock(heldClock{}),
		WithObserver(func(b ledger.Block, bal ledger.Balances) {
			seen = append(seen, b.Number)
			balances = append(balances, bal["5001"])
		}))
	if err != nil {
		t.Fatal(err)
	}
	g := genesis()
	if err := e.InformBlock(g, g.Hash); err != nil {
		t.Fatal(err)
	}
	bad := ledger.NewBlock(2, nil, g.Hash, 5001)
	_ = e.InformBlock(bad, bad.Hash)
	if len(seen) != 1 || seen[0] != 1 || balances[0] != 10000 {
		t.Fatalf("unexpected observations %v %v", seen, balances)
	}
}

func TestMinedBlockTakesLowestConflictingTransaction(t *testing.T) {
	clock := heldClock{release: make(chan time.Time)}
	e, err := NewEngine(Config{Self: 5001, Nodes: []int{5001, 5002}, GenesisAccount: "5001", GenesisBalance: 100}, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.StartExperiment(); err != nil {
		t.Fatal(err)
	}
	clock.release <- time.Now()
	e.Wait()

	zed := ledger.NewTransaction("5001", "zed", 70)
	amy := ledger.NewTransaction("5001", "amy", 70)
	for _, txn := range []ledger.Transaction{zed, amy} {
		if _, err := e.SubmitTransaction(txn); err != nil {
			t.Fatal(err)
		}
	}
	g := e.Dump().Chain[0]
	b2 := ledger.NewBlock(2, nil, g.Hash, 5002)
	if err := e.InformBlock(b2, b2.Hash); err != nil {
		t.Fatal(err)
	}
	clock.release <- time.Now()
	e.Wait()

	dump := e.Dump()
	if len(dump.Chain) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(dump.Chain))
	}
	if txns := dump.Chain[2].Transactions; len(txns) != 1 || txns[0] != amy {
		t.Fatalf("expected block 3 to hold only %v, got %v", amy, txns)
	}
	if len(dump.PendingTransactions) != 1 || dump.PendingTransactions[0] != zed {
		t.Fatalf("expected %v to stay pending, got %v", zed, dump.PendingTransactions)
	}
	if dump.State["5001"] != 30 || dump.State["amy"] != 70 {
		t.Fatalf("unexpected balances %v", dump.State)
	}
	if _, ok := dump.State["zed"]; ok {
		t.Fatalf("expected no balance for zed, got %v", dump.State)
	}
}

func TestMinedBlocksAreSigned(t *testing.T) {
	clock := heldClock{release: make(chan time.Time)}
	id := identity.New(5001)
	e, err := NewEngine(Config{Self: 5001, Nodes: []int{5001, 5002}, GenesisAccount: "5001", GenesisBalance: 10}, WithClock(clock), WithSigner(id))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.StartExperiment(); err != nil {
		t.Fatal(err)
	}
	clock.release <- time.Now()
	e.Wait()

	dump := e.Dump()
	sig, err := hex.DecodeString(dump.Signatures[1])
	if err != nil || len(sig) == 0 {
		t.Fatalf("expected a signature for block 1, got %q", dump.Signatures[1])
	}
	if err := identity.Verify(id.Public(), []byte(dump.Chain[0].Hash), sig); err != nil {
		t.Fatal(err)
	}
}

func TestSyncChecksSignatures(t *testing.T) {
	miners := map[int]*identity.Identity{5001: identity.New(5001), 5002: identity.New(5002)}
	ring := identity.NewKeyring(nil)
	for node, id := range miners {
		ring.Add(node, id.Public())
	}
	e, err := NewEngine(Config{Self: 5003, Nodes: threeNodes, GenesisAccount: "5001", GenesisBalance: 10000},
		WithClock(heldClock{}), WithSignatureCheck(ring))
	if err != nil {
		t.Fatal(err)
	}
	sign := func(b ledger.Block) string {
		sig, err := miners[b.Miner].Sign([]byte(b.Hash))
		if err != nil {
			t.Fatal(err)
		}
		return hex.EncodeToString(sig)
	}

	g := genesis()
	forged := ledger.NewBlock(2, []ledger.Transaction{ledger.NewTransaction("5001", "mallory", 5)}, g.Hash, 5002)
	chain := []ledger.Block{g, forged}

	accepted, err := e.Sync(context.Background(), chain, map[int]string{1: sign(g)})
	if accepted != 1 || !errors.Is(err, ErrUnsigned) {
		t.Fatalf("expected genesis accepted and ErrUnsigned, got %d %v", accepted, err)
	}
	if _, ok := e.Dump().State["mallory"]; ok {
		t.Fatal("expected the unsigned block to be refused")
	}

	wrongKey, _ := miners[5001].Sign([]byte(forged.Hash))
	accepted, err = e.Sync(context.Background(), chain, map[int]string{2: hex.EncodeToString(wrongKey)})
	if accepted != 0 || !errors.Is(err, ErrUnsigned) {
		t.Fatalf("expected ErrUnsigned for a signature by another node, got %d %v", accepted, err)
	}

	accepted, err = e.Sync(context.Background(), chain, map[int]string{2: sign(forged)})
	if err != nil || accepted != 1 {
		t.Fatalf("expected the signed block accepted, got %d %v", accepted, err)
	}
	dump := e.Dump()
	if dump.State["mallory"] != 5 {
		t.Fatalf("unexpected balances %v", dump.State)
	}
	if _, ok := dump.Signatures[2]; !ok {
		t.Fatal("expected the signature of block 2 to be kept")
	}
}
