package consensus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luca-patrignani/p2b-ledger/ledger"
)

var (
	ErrNonPositiveAmount = errors.New("amount must be positive")
	ErrAlreadyStarted    = errors.New("chain already started")
)

// Config holds the static parameters of an Engine.
type Config struct {
	// Self is the id of the local node. It must be one of Nodes.
	Self  int
	Nodes []int
	// BlockTime is how long a miner collects transactions before
	// assembling its block.
	BlockTime time.Duration
	// GenesisAccount receives GenesisBalance when the first block is
	// accepted.
	GenesisAccount string
	GenesisBalance int64
}

// Engine owns the chain, the pending transactions and the balances of one
// node and runs its turn in the round-robin schedule.
type Engine struct {
	mu       sync.Mutex
	self     int
	schedule Schedule
	chain    *ledger.Blockchain
	state    *ledger.State
	pending  *Mempool

	genesisAccount string
	genesisBalance int64
	blockTime      time.Duration

	clock       Clock
	broadcaster Broadcaster
	logger      *slog.Logger
	observers   []BlockObserver
	signer      Signer
	verifier    Verifier
	// signatures holds the miner signature of each block number, when known.
	signatures map[int][]byte

	mining    atomic.Bool
	lifecycle sync.Mutex
	stopped   bool
	wg        sync.WaitGroup
}

// Snapshot is a consistent copy of the engine data.
type Snapshot struct {
	Chain               []ledger.Block       `json:"chain"`
	PendingTransactions []ledger.Transaction `json:"pending_transactions"`
	State               ledger.Balances      `json:"state"`
	// Signatures maps block numbers to the hex signature of their hash by
	// the miner.
	Signatures map[int]string `json:"signatures,omitempty"`
}

type Option func(*Engine)

func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) {
		e.broadcaster = b
	}
}

func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithSigner makes the engine sign the hash of the blocks it mines, so
// that peers catching up from its chain can check them.
func WithSigner(s Signer) Option {
	return func(e *Engine) {
		e.signer = s
	}
}

// WithSignatureCheck makes Sync refuse blocks without a valid signature
// of their hash by their miner.
func WithSignatureCheck(v Verifier) Option {
	return func(e *Engine) {
		e.verifier = v
	}
}

// WithObserver registers o to be called for every accepted block.
func WithObserver(o BlockObserver) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	schedule, err := NewSchedule(cfg.Nodes)
	if err != nil {
		return nil, err
	}
	if !schedule.Contains(cfg.Self) {
		return nil, fmt.Errorf("node %d is not in %v", cfg.Self, schedule.Nodes())
	}
	e := &Engine{
		self:           cfg.Self,
		schedule:       schedule,
		chain:          ledger.NewBlockchain(),
		state:          ledger.NewState(),
		pending:        NewMempool(),
		genesisAccount: cfg.GenesisAccount,
		genesisBalance: cfg.GenesisBalance,
		blockTime:      cfg.BlockTime,
		clock:          systemClock{},
		broadcaster:    noBroadcast{},
		logger:         slog.Default(),
		signatures:     make(map[int][]byte),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("node", e.self)
	return e, nil
}

func (e *Engine) Self() int {
	return e.self
}

func (e *Engine) Schedule() Schedule {
	return e.schedule
}

// SubmitTransaction adds txn to the pending transactions. It returns false
// without error when an equal transaction is already pending.
func (e *Engine) SubmitTransaction(txn ledger.Transaction) (bool, error) {
	if txn.Amount <= 0 {
		return false, fmt.Errorf("%w: %v", ErrNonPositiveAmount, txn)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	added := e.pending.Add(txn)
	if added {
		e.logger.Debug("transaction queued", "txn", txn.String())
	}
	return added, nil
}

// InformBlock validates a block received from a peer and, if it is valid,
// appends and applies it. When the block makes this node the next miner a
// mining cycle is started.
func (e *Engine) InformBlock(block ledger.Block, claimedHash string) error {
	return e.InformSignedBlock(block, claimedHash, nil)
}

// InformSignedBlock is InformBlock for a block delivered together with
// its miner's signature. The signature is kept and served by Dump; it is
// checked by the caller.
func (e *Engine) InformSignedBlock(block ledger.Block, claimedHash string, signature []byte) error {
	e.mu.Lock()
	if err := e.validateLocked(block, claimedHash); err != nil {
		e.mu.Unlock()
		e.logger.Info("block rejected", "number", block.Number, "miner", block.Miner, "err", err)
		return err
	}
	if err := e.acceptLocked(block); err != nil {
		e.mu.Unlock()
		return err
	}
	if len(signature) > 0 {
		e.signatures[block.Number] = signature
	}
	e.mu.Unlock()

	e.logger.Info("block accepted", "number", block.Number, "miner", block.Miner, "txns", len(block.Transactions))
	if e.schedule.Next(block.Miner) == e.self {
		e.TriggerMining()
	}
	return nil
}

// IsBlockValid reports whether block could be appended to the chain now.
func (e *Engine) IsBlockValid(block ledger.Block, claimedHash string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validateLocked(block, claimedHash) == nil
}

// StartExperiment makes the first node of the schedule mine the genesis
// block. On any other node it does nothing and returns false.
func (e *Engine) StartExperiment() (bool, error) {
	if e.self != e.schedule.First() {
		return false, nil
	}
	if e.chain.Len() > 0 {
		return false, ErrAlreadyStarted
	}
	return e.TriggerMining(), nil
}

// Dump returns the chain, the pending transactions in canonical order and
// the balances.
func (e *Engine) Dump() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		Chain:               e.chain.Blocks(),
		PendingTransactions: e.pending.Sorted(),
		State:               e.state.Snapshot(),
	}
	if len(e.signatures) > 0 {
		s.Signatures = make(map[int]string, len(e.signatures))
		for number, sig := range e.signatures {
			s.Signatures[number] = hex.EncodeToString(sig)
		}
	}
	return s
}

// Sync appends the blocks of a peer's chain that extend the local one.
// Blocks already present are skipped; each new block goes through the same
// validation as InformBlock. signatures are the peer's hex signatures by
// block number; with a signature check configured, a new block without a
// valid one stops the sync. It returns how many blocks were accepted.
func (e *Engine) Sync(ctx context.Context, blocks []ledger.Block, signatures map[int]string) (int, error) {
	e.mu.Lock()
	local := e.chain.Len()
	e.mu.Unlock()

	var err error
	candidates := make([]ledger.Block, 0, len(blocks))
	sigs := make(map[int][]byte)
	for _, block := range blocks {
		if block.Number <= local {
			continue
		}
		sig, decodeErr := hex.DecodeString(signatures[block.Number])
		if e.verifier != nil {
			if decodeErr != nil || len(sig) == 0 {
				err = fmt.Errorf("%w: block %d", ErrUnsigned, block.Number)
				break
			}
			// The key lookup may go to the network, so no lock is held.
			if verr := e.verifier.Verify(ctx, block.Miner, []byte(block.Hash), sig); verr != nil {
				err = fmt.Errorf("%w: block %d: %v", ErrUnsigned, block.Number, verr)
				break
			}
		}
		if decodeErr == nil && len(sig) > 0 {
			sigs[block.Number] = sig
		}
		candidates = append(candidates, block)
	}

	e.mu.Lock()
	accepted := 0
	var last ledger.Block
	for _, block := range candidates {
		if block.Number <= e.chain.Len() {
			continue
		}
		var acceptErr error
		if acceptErr = e.validateLocked(block, block.Hash); acceptErr == nil {
			acceptErr = e.acceptLocked(block)
		}
		if acceptErr != nil {
			err = acceptErr
			break
		}
		if sig, ok := sigs[block.Number]; ok {
			e.signatures[block.Number] = sig
		}
		accepted++
		last = block
	}
	e.mu.Unlock()

	if accepted > 0 {
		e.logger.Info("chain synced", "accepted", accepted, "tail", last.Number)
		if e.schedule.Next(last.Miner) == e.self {
			e.TriggerMining()
		}
	}
	if err != nil {
		return accepted, fmt.Errorf("sync stopped after %d blocks: %w", accepted, err)
	}
	return accepted, nil
}

// Stop prevents new mining cycles and waits for the running one to finish.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	e.stopped = true
	e.lifecycle.Unlock()
	e.wg.Wait()
}

// Wait blocks until no mining cycle is running.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) tailLocked() *ledger.Block {
	tail, err := e.chain.GetLatest()
	if err != nil {
		return nil
	}
	return &tail
}

func (e *Engine) validateLocked(block ledger.Block, claimedHash string) error {
	return ValidateBlock(block, claimedHash, e.tailLocked(), e.state, e.schedule)
}

// acceptLocked applies and appends a validated block. An error here means
// validation and application disagree.
func (e *Engine) acceptLocked(block ledger.Block) error {
	if err := e.state.ApplyBlock(block); err != nil {
		return err
	}
	if err := e.chain.Append(block); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInconsistentBlock, err)
	}
	if block.Number == 1 && e.genesisAccount != "" {
		e.state.Seed(e.genesisAccount, e.genesisBalance)
	}
	e.pending.Remove(block.Transactions)

	if len(e.observers) > 0 {
		balances := e.state.Snapshot()
		for _, o := range e.observers {
			o(block, balances)
		}
	}
	return nil
}
